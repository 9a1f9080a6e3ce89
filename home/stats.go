package home

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/melody/sys"
)

const (
	statsAnsiReset    = "\u001b[0m"
	statsAnsiPink     = "\u001b[35m"
	statsAnsiPinkBold = "\u001b[35;1m"
)

var statsStartTime = time.Now()

// playerStats is a snapshot of the player shown by /stats.
type playerStats struct {
	Rooms        int
	CacheEntries int
	Autoplaylist int
	GatewayPing  time.Duration
	APILatency   time.Duration
	DBLatency    time.Duration
}

func statsTitle(text string) string {
	return statsAnsiPink + text + statsAnsiReset
}

func statsLine(key, val string) string {
	return fmt.Sprintf("%s> %s:%s %s%s%s", statsAnsiPink, key, statsAnsiReset, statsAnsiPinkBold, val, statsAnsiReset)
}

func registerStats() {
	adminPerm := discord.PermissionAdministrator

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:                     "stats",
		Description:              "Display player and system statistics (Admin Only)",
		DefaultMemberPermissions: omit.New(&adminPerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
	}, handleStats)
}

func handleStats(event *events.ApplicationCommandInteractionCreate) {
	if err := event.CreateMessage(discord.NewMessageCreate().
		WithIsComponentsV2(true).
		WithEphemeral(true).
		AddComponents(discord.NewContainer(discord.NewTextDisplay("⏳ Loading stats...")))); err != nil {
		sys.LogDebug("Failed to send initial stats: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(sys.AppContext, 5*time.Second)
	defer cancel()

	st := playerStats{
		Rooms:        env.Registry.Playing(ctx),
		Autoplaylist: env.Autoplaylist.Len(),
		GatewayPing:  event.Client().Gateway.Latency(),
		APILatency:   time.Since(snowflake.ID(event.ID()).Time()),
	}
	if env.Cache != nil {
		st.CacheEntries = env.Cache.Len()
	}
	start := time.Now()
	if _, err := sys.GetBotConfig(ctx, "ping_test"); err == nil {
		st.DBLatency = time.Since(start)
	}

	_, _ = event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), discord.NewMessageUpdate().
		WithIsComponentsV2(true).
		AddComponents(discord.NewContainer(discord.NewTextDisplay(renderStats(st)))))
}

func renderStats(st playerStats) string {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	up := time.Since(statsStartTime)
	lines := []string{
		statsTitle("Player"),
		statsLine("Playing", fmt.Sprintf("%d rooms", st.Rooms)),
		statsLine("Track cache", fmt.Sprintf("%d entries", st.CacheEntries)),
		statsLine("Autoplaylist", fmt.Sprintf("%d links", st.Autoplaylist)),
		"",
		statsTitle("System"),
		statsLine("Uptime", fmt.Sprintf("%dd %dh %dm", int(up.Hours())/24, int(up.Hours())%24, int(up.Minutes())%60)),
		statsLine("Memory", fmt.Sprintf("%.2f MB / %.2f MB (Sys)", float64(m.HeapAlloc)/1024/1024, float64(m.Sys)/1024/1024)),
		statsLine("Goroutines", fmt.Sprintf("%d", runtime.NumGoroutine())),
	}
	if st.GatewayPing > 0 {
		lines = append(lines, statsLine("Gateway", fmt.Sprintf("%dms", st.GatewayPing.Milliseconds())))
	}
	if st.APILatency > 0 {
		lines = append(lines, statsLine("API Latency", fmt.Sprintf("%dms", st.APILatency.Milliseconds())))
	}
	if st.DBLatency > 0 {
		lines = append(lines, statsLine("Database", fmt.Sprintf("%.2fms", float64(st.DBLatency.Microseconds())/1000)))
	}
	if path := sys.GetLogPath(); path != "" {
		lines = append(lines, statsLine("Log file", path))
	}
	return "```ansi\n" + strings.Join(lines, "\n") + "\n```"
}
