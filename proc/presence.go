package proc

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/gateway"
	"github.com/leeineian/melody/music"
	"github.com/leeineian/melody/sys"
)

// ConfigKeyPresence is the bot_config key that turns rotation off when set
// to "false".
const ConfigKeyPresence = "presence_visible"

var startTime = time.Now()

// presenceLine renders one candidate presence text. Empty lines are skipped.
type presenceLine func(ctx context.Context) string

// RotatePresence registers a daemon that cycles the bot's listening activity
// through live player statistics once the gateway is ready.
func RotatePresence(registry *music.Registry, autoplaylist *music.Autoplaylist) {
	lines := []presenceLine{
		func(ctx context.Context) string {
			if n := registry.Playing(ctx); n > 0 {
				return fmt.Sprintf("music in %d servers", n)
			}
			return ""
		},
		func(context.Context) string {
			if n := autoplaylist.Len(); n > 0 {
				return fmt.Sprintf("%d autoplaylist tracks", n)
			}
			return ""
		},
		func(context.Context) string {
			up := time.Since(startTime)
			return fmt.Sprintf("for %dh %dm", int(up.Hours()), int(up.Minutes())%60)
		},
	}

	sys.OnClientReady(func(_ context.Context, client *bot.Client) {
		sys.RegisterDaemon(sys.LogPresence, func(ctx context.Context) (bool, func(), func()) {
			return true, func() { rotatePresence(ctx, client, lines) }, nil
		})
	})
}

func rotationInterval() time.Duration {
	return time.Duration(30+rand.IntN(31)) * time.Second
}

func rotatePresence(ctx context.Context, client *bot.Client, lines []presenceLine) {
	last := ""
	for {
		next := rotationInterval()
		last = updatePresence(ctx, client, lines, last, next)
		select {
		case <-time.After(next):
		case <-ctx.Done():
			return
		}
	}
}

func updatePresence(ctx context.Context, client *bot.Client, lines []presenceLine, last string, next time.Duration) string {
	if visible, err := sys.GetBotConfig(ctx, ConfigKeyPresence); err != nil || visible == "false" {
		if err := client.SetPresence(ctx, gateway.WithListeningActivity("/music play")); err != nil {
			sys.LogPresence(sys.MsgPresenceUpdateFail, err)
		}
		return ""
	}

	text := pickPresence(ctx, lines, last)
	if err := client.SetPresence(ctx,
		gateway.WithOnlineStatus(discord.OnlineStatusOnline),
		gateway.WithListeningActivity(text),
	); err != nil {
		sys.LogPresence(sys.MsgPresenceUpdateFail, err)
		return last
	}
	sys.LogPresence(sys.MsgPresenceRotated, text, next)
	return text
}

// pickPresence chooses a random non-empty line, avoiding an immediate repeat
// of last when there is another option.
func pickPresence(ctx context.Context, lines []presenceLine, last string) string {
	var choices []string
	for _, l := range lines {
		if text := l(ctx); text != "" && text != last {
			choices = append(choices, text)
		}
	}
	if len(choices) == 0 {
		if last != "" {
			return last
		}
		return "/music play"
	}
	return choices[rand.IntN(len(choices))]
}
