package home

import (
	"context"
	"sync"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/melody/music"
	"github.com/leeineian/melody/sys"
)

// Settings keeps per-room preferences in the bot database.
type Settings struct{}

func (Settings) Volume(ctx context.Context, room snowflake.ID, def int) (int, error) {
	return sys.GetRoomVolume(ctx, room, def)
}

func (Settings) SetVolume(ctx context.Context, room snowflake.ID, volume int) error {
	return sys.SetRoomVolume(ctx, room, volume)
}

// SkipLog records dropped entries in the resolve_skips table.
type SkipLog struct{}

func (SkipLog) RecordSkips(ctx context.Context, skips []music.Skip) error {
	rows := make([]sys.ResolveSkip, 0, len(skips))
	for _, s := range skips {
		rows = append(rows, sys.ResolveSkip{
			JobID:   s.JobID,
			GuildID: s.Room.String(),
			Request: s.Request,
			Title:   s.Title,
			Reason:  s.Reason,
		})
	}
	return sys.AddResolveSkips(ctx, rows)
}

// ChannelNotifier posts asynchronous player updates to a text channel.
// Each room has one sender goroutine so its messages arrive in order.
type ChannelNotifier struct {
	send func(channel snowflake.ID, text string) error

	mu     sync.Mutex
	queues map[snowflake.ID]chan note
}

type note struct {
	channel snowflake.ID
	text    string
}

// noteBacklog bounds the unsent messages per room before Notify blocks.
const noteBacklog = 16

func NewChannelNotifier(client *bot.Client) *ChannelNotifier {
	return newChannelNotifier(func(channel snowflake.ID, text string) error {
		_, err := client.Rest.CreateMessage(channel, discord.MessageCreate{Content: text})
		return err
	})
}

func newChannelNotifier(send func(channel snowflake.ID, text string) error) *ChannelNotifier {
	return &ChannelNotifier{send: send, queues: make(map[snowflake.ID]chan note)}
}

func (n *ChannelNotifier) Notify(room, channel snowflake.ID, text string) {
	if channel == 0 || text == "" {
		return
	}
	n.queue(room) <- note{channel: channel, text: text}
}

func (n *ChannelNotifier) queue(room snowflake.ID) chan note {
	n.mu.Lock()
	defer n.mu.Unlock()
	q, ok := n.queues[room]
	if !ok {
		q = make(chan note, noteBacklog)
		n.queues[room] = q
		sys.SafeGo(func() {
			for m := range q {
				if err := n.send(m.channel, m.text); err != nil {
					sys.LogWarn("Failed to notify guild %s: %v", room, err)
				}
			}
		})
	}
	return q
}
