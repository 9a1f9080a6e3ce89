package music

import (
	"testing"
	"time"
)

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		title, uploader, want string
	}{
		{"Never Gonna Give You Up (Official Video)", "", "never gonna give you up"},
		{"Rick Astley - Never Gonna Give You Up [4K]", "Rick Astley", "never gonna give you up"},
		{"SomeArtist | CoolSong (Lyrics) [HD]", "SomeArtist", "cool song"},
		{"", "x", ""},
	}
	for _, tt := range tests {
		if got := cleanTitle(tt.title, tt.uploader); got != tt.want {
			t.Errorf("cleanTitle(%q, %q) = %q, want %q", tt.title, tt.uploader, got, tt.want)
		}
	}
}

func TestSelectBestPrefersMatchingTrack(t *testing.T) {
	meta := TrackMeta{Name: "Blue Monday", Artists: []string{"New Order"}, Duration: 448 * time.Second}
	candidates := []RawCatalogEntry{
		{Title: "Blue Monday (Cover)", URL: "u1", Uploader: "Someone Else", Duration: 300 * time.Second},
		{Title: "Blue Monday", URL: "u2", Uploader: "New Order", Duration: 449 * time.Second},
		{Title: "Blue Monday live", URL: "u3", Uploader: "New Order - Topic", Availability: "private"},
	}

	best, ok := selectBest(candidates, meta)
	if !ok {
		t.Fatal("selectBest found nothing")
	}
	if best.URL != "u2" {
		t.Errorf("picked %q, want u2", best.URL)
	}
}

func TestSelectBestSkipsPrivate(t *testing.T) {
	_, ok := selectBest([]RawCatalogEntry{{Title: "[Private video]", URL: "u"}}, TrackMeta{Name: "x"})
	if ok {
		t.Error("private candidate selected")
	}
}
