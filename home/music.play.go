package home

import (
	"context"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/melody/catalog"
	"github.com/leeineian/melody/sys"
)

// Discord rejects choice names and values over this length.
const maxChoiceLen = 100

func handleMusicAutocomplete(event *events.AutocompleteInteractionCreate) {
	f := event.Data.Focused()
	if f.Name != "query" || env.Finder == nil {
		return
	}
	q := strings.TrimSpace(f.String())
	if q == "" || strings.Contains(q, "://") {
		_ = event.AutocompleteResult(nil)
		return
	}
	_ = event.AutocompleteResult(suggestionChoices(env.Finder.Suggest(context.Background(), q)))
}

// suggestionChoices turns suggestions into autocomplete choices. Links too
// long for a choice value fall back to the title, which is searched again.
func suggestionChoices(items []catalog.Suggestion) []discord.AutocompleteChoice {
	choices := make([]discord.AutocompleteChoice, 0, len(items))
	for _, s := range items {
		value := s.URL
		if len(value) > maxChoiceLen {
			value = sys.Truncate(s.Name, maxChoiceLen)
		}
		choices = append(choices, discord.AutocompleteChoiceString{
			Name:  sys.Truncate(s.Name, maxChoiceLen),
			Value: value,
		})
	}
	return choices
}
