package music

import (
	"strings"
	"time"
)

// LiveSuffix is appended to the titles of live streams when they are queued.
const LiveSuffix = " [Live Stream]"

// Track is an immutable playable descriptor. The locator is resolved to an
// actual stream only at play time.
type Track struct {
	Title    string
	Locator  string
	IsLive   bool
	Duration time.Duration
}

// DisplayTitle falls back to the locator for tracks that have not been
// resolved yet, such as autoplaylist picks.
func (t Track) DisplayTitle() string {
	if t.Title != "" {
		return t.Title
	}
	return t.Locator
}

// RawCatalogEntry is one entry as reported by a link/search provider, before
// availability filtering.
type RawCatalogEntry struct {
	Title        string
	URL          string
	Uploader     string
	Availability string
	IsLive       bool
	Duration     time.Duration
}

var unavailableTitles = map[string]bool{
	"[private video]": true,
	"[deleted video]": true,
	"[unavailable]":   true,
}

// Public reports whether the entry can be played by anyone holding the link.
// Providers that do not report availability leave it empty or "NA".
func (e RawCatalogEntry) Public() bool {
	if e.URL == "" || unavailableTitles[strings.ToLower(strings.TrimSpace(e.Title))] {
		return false
	}
	switch strings.ToLower(e.Availability) {
	case "", "na", "none", "public", "unlisted":
		return true
	default:
		return false
	}
}

// Track converts the entry into the queue's value type.
func (e RawCatalogEntry) Track() Track {
	title := strings.TrimSpace(e.Title)
	if title == "" || title == "NA" {
		title = e.URL
	}
	if e.IsLive && !strings.HasSuffix(title, LiveSuffix) {
		title += LiveSuffix
	}
	return Track{
		Title:    title,
		Locator:  e.URL,
		IsLive:   e.IsLive,
		Duration: e.Duration,
	}
}

// TrackMeta is a metadata-only result that must be re-resolved through search.
type TrackMeta struct {
	Name     string
	Artists  []string
	Duration time.Duration
}

func (m TrackMeta) Artist() string {
	if len(m.Artists) == 0 {
		return ""
	}
	return m.Artists[0]
}

// Query is the human readable search string, "artist - title".
func (m TrackMeta) Query() string {
	if a := m.Artist(); a != "" {
		return a + " - " + m.Name
	}
	return m.Name
}

// SearchKey is the cache key for the metadata path.
func (m TrackMeta) SearchKey() string {
	return NormalizeQuery(m.Query())
}

// NormalizeQuery lowercases and collapses whitespace so equivalent search
// strings share one cache entry.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
