package home

import (
	"context"
	"fmt"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/melody/music"
	"github.com/leeineian/melody/sys"
)

func handleAutoplaylistAdd(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) (string, bool) {
	url, _ := data.OptString("url")
	url = strings.TrimSpace(url)
	if url == "" {
		st, ok := env.Registry.State(context.Background(), *event.GuildID())
		if !ok || st.Current == nil {
			return "Nothing is playing. Give me a link to add.", false
		}
		url = st.Current.Locator
	}
	return autoplaylistAdd(env.Autoplaylist, url)
}

func autoplaylistAdd(a *music.Autoplaylist, url string) (string, bool) {
	added, err := a.Add(url)
	if err != nil {
		sys.LogWarn("Failed to add %s to the autoplaylist: %v", url, err)
		return "Could not update the autoplaylist.", false
	}
	if !added {
		return fmt.Sprintf("<%s> is already in the autoplaylist.", url), false
	}
	return fmt.Sprintf("➕ Added <%s> to the autoplaylist.", url), true
}

func handleAutoplaylistRemove(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) (string, bool) {
	url, _ := data.OptString("url")
	return autoplaylistRemove(env.Autoplaylist, strings.TrimSpace(url), event.User().Username)
}

func autoplaylistRemove(a *music.Autoplaylist, url, by string) (string, bool) {
	if !a.Remove(url, "Removed by "+by) {
		return fmt.Sprintf("<%s> is not in the autoplaylist.", url), false
	}
	return fmt.Sprintf("➖ Removed <%s> from the autoplaylist.", url), true
}

func handleAutoplaylistStats() (string, bool) {
	return fmt.Sprintf("📻 The autoplaylist has **%d** links.", env.Autoplaylist.Len()), true
}
