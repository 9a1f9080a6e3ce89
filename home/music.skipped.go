package home

import (
	"fmt"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/melody/sys"
)

const skippedLimit = 10

func handleMusicSkipped(event *events.ApplicationCommandInteractionCreate) {
	skips, err := sys.GetRecentResolveSkips(sys.AppContext, *event.GuildID(), skippedLimit)
	content := formatSkips(skips)
	if err != nil {
		sys.LogError("Failed to load skipped entries: %v", err)
		content = "Could not load the skip log."
	}
	_ = event.CreateMessage(discord.NewMessageCreate().
		WithContent(content).
		WithEphemeral(true))
}

func formatSkips(skips []sys.ResolveSkip) string {
	if len(skips) == 0 {
		return "Nothing was skipped recently."
	}
	var sb strings.Builder
	sb.WriteString("**Recently skipped**\n")
	for _, s := range skips {
		title := s.Title
		if title == "" {
			title = s.Request
		}
		fmt.Fprintf(&sb, "- %s: %s\n", sys.Truncate(title, 80), s.Reason)
	}
	return sys.Truncate(sb.String(), 2000)
}
