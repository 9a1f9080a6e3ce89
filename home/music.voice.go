package home

import (
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/melody/sys"
)

func handleVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	client := event.Client()
	guildID := event.VoiceState.GuildID

	if event.VoiceState.UserID == client.ID() {
		if event.VoiceState.ChannelID == nil {
			if _, ok := env.Transport.Channel(guildID); ok {
				sys.LogVoice(sys.MsgVoiceBotDisconnected, guildID)
				env.Transport.Forget(guildID)
				env.Registry.VoiceDisconnected(guildID)
			}
			return
		}
		env.Transport.Moved(guildID, *event.VoiceState.ChannelID)
	}

	channel, ok := env.Transport.Channel(guildID)
	if !ok {
		return
	}
	var states []discord.VoiceState
	for state := range client.Caches.VoiceStates(guildID) {
		states = append(states, state)
	}
	n := countListeners(states, channel, client.ID(), func(id snowflake.ID) bool {
		m, ok := client.Caches.Member(guildID, id)
		return ok && m.User.Bot
	})
	env.Registry.SetListeners(guildID, n)
}

// countListeners counts the humans in channel who can hear the bot.
// Deafened users do not count.
func countListeners(states []discord.VoiceState, channel, self snowflake.ID, isBot func(snowflake.ID) bool) int {
	n := 0
	for _, s := range states {
		if s.ChannelID == nil || *s.ChannelID != channel || s.UserID == self {
			continue
		}
		if s.SelfDeaf || s.GuildDeaf || isBot(s.UserID) {
			continue
		}
		n++
	}
	return n
}
