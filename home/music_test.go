package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/melody/catalog"
	"github.com/leeineian/melody/music"
	"github.com/leeineian/melody/sys"
)

func TestCountListeners(t *testing.T) {
	const (
		channel snowflake.ID = 10
		other   snowflake.ID = 11
		self    snowflake.ID = 1
		botUser snowflake.ID = 2
	)
	in := func(id snowflake.ID) *snowflake.ID { return &id }

	states := []discord.VoiceState{
		{UserID: self, ChannelID: in(channel)},
		{UserID: botUser, ChannelID: in(channel)},
		{UserID: 100, ChannelID: in(channel)},
		{UserID: 101, ChannelID: in(channel), SelfMute: true},
		{UserID: 102, ChannelID: in(channel), SelfDeaf: true},
		{UserID: 103, ChannelID: in(channel), GuildDeaf: true},
		{UserID: 104, ChannelID: in(other)},
		{UserID: 105},
	}
	isBot := func(id snowflake.ID) bool { return id == botUser }

	if got := countListeners(states, channel, self, isBot); got != 2 {
		t.Errorf("countListeners() = %d, want 2", got)
	}
	if got := countListeners(states, other, self, isBot); got != 1 {
		t.Errorf("countListeners(other) = %d, want 1", got)
	}
	if got := countListeners(nil, channel, self, isBot); got != 0 {
		t.Errorf("countListeners(nil) = %d, want 0", got)
	}
}

func TestSuggestionChoices(t *testing.T) {
	longURL := "https://www.youtube.com/watch?v=abc&list=" + strings.Repeat("x", 120)
	longName := strings.Repeat("n", 150)

	choices := suggestionChoices([]catalog.Suggestion{
		{Name: "[YT] Song", URL: "https://www.youtube.com/watch?v=abc"},
		{Name: longName, URL: "https://music.youtube.com/watch?v=def"},
		{Name: "[YT] Mix", URL: longURL},
	})
	if len(choices) != 3 {
		t.Fatalf("got %d choices, want 3", len(choices))
	}

	first := choices[0].(discord.AutocompleteChoiceString)
	if first.Name != "[YT] Song" || first.Value != "https://www.youtube.com/watch?v=abc" {
		t.Errorf("choice 0 = %+v", first)
	}

	second := choices[1].(discord.AutocompleteChoiceString)
	if n := len([]rune(second.Name)); n != maxChoiceLen {
		t.Errorf("long name cut to %d runes, want %d", n, maxChoiceLen)
	}
	if !strings.HasSuffix(second.Name, "...") {
		t.Errorf("long name %q not marked as cut", second.Name)
	}

	third := choices[2].(discord.AutocompleteChoiceString)
	if third.Value != "[YT] Mix" {
		t.Errorf("long link value = %q, want the title", third.Value)
	}
}

func TestAutoplaylistEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autoplaylist.txt")
	if err := os.WriteFile(path, []byte("https://example.com/a\n"), 0644); err != nil {
		t.Fatal(err)
	}
	a := music.LoadAutoplaylist(path, false, nil)

	if _, ok := autoplaylistAdd(a, "https://example.com/a"); ok {
		t.Error("adding a duplicate succeeded")
	}
	if text, ok := autoplaylistAdd(a, "https://example.com/b"); !ok {
		t.Errorf("add failed: %s", text)
	}
	if a.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", a.Len())
	}

	if _, ok := autoplaylistRemove(a, "https://example.com/missing", "tester"); ok {
		t.Error("removing an unknown link succeeded")
	}
	if text, ok := autoplaylistRemove(a, "https://example.com/a", "tester"); !ok {
		t.Errorf("remove failed: %s", text)
	}
	if a.Contains("https://example.com/a") {
		t.Error("removed link still in the pool")
	}

	log, err := os.ReadFile(path + ".removed.log")
	if err != nil {
		t.Fatalf("removal log: %v", err)
	}
	if !strings.Contains(string(log), "Reason: Removed by tester") {
		t.Errorf("removal log missing reason:\n%s", log)
	}
}

func TestFormatSkips(t *testing.T) {
	if got := formatSkips(nil); got != "Nothing was skipped recently." {
		t.Errorf("formatSkips(nil) = %q", got)
	}
	got := formatSkips([]sys.ResolveSkip{
		{Request: "https://example.com/list", Title: "Gone", Reason: "unavailable"},
		{Request: "some query", Reason: "no match"},
	})
	for _, want := range []string{"- Gone: unavailable", "- some query: no match"} {
		if !strings.Contains(got, want) {
			t.Errorf("formatSkips() missing %q:\n%s", want, got)
		}
	}
}

func TestRenderStats(t *testing.T) {
	out := renderStats(playerStats{Rooms: 3, CacheEntries: 42, Autoplaylist: 7})
	if !strings.HasPrefix(out, "```ansi\n") || !strings.HasSuffix(out, "\n```") {
		t.Fatalf("not an ansi block:\n%s", out)
	}
	for _, want := range []string{"3 rooms", "42 entries", "7 links"} {
		if !strings.Contains(out, want) {
			t.Errorf("renderStats() missing %q", want)
		}
	}
	if strings.Contains(out, "Gateway") {
		t.Error("unknown gateway latency should be hidden")
	}
}

func TestChannelNotifierKeepsOrder(t *testing.T) {
	const n = 40
	var mu sync.Mutex
	got := map[snowflake.ID][]string{}
	done := make(chan struct{}, 2*n)

	notifier := newChannelNotifier(func(channel snowflake.ID, text string) error {
		if strings.HasSuffix(text, "0") {
			time.Sleep(time.Millisecond)
		}
		mu.Lock()
		got[channel] = append(got[channel], text)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})

	for i := range n {
		notifier.Notify(1, 10, fmt.Sprintf("a%d", i))
		notifier.Notify(2, 20, fmt.Sprintf("b%d", i))
	}
	notifier.Notify(1, 0, "no channel")
	notifier.Notify(1, 10, "")

	for range 2 * n {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for notifications")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for channel, prefix := range map[snowflake.ID]string{10: "a", 20: "b"} {
		msgs := got[channel]
		if len(msgs) != n {
			t.Fatalf("channel %s got %d messages, want %d", channel, len(msgs), n)
		}
		for i, m := range msgs {
			if want := fmt.Sprintf("%s%d", prefix, i); m != want {
				t.Fatalf("channel %s message %d = %q, want %q", channel, i, m, want)
			}
		}
	}
}
