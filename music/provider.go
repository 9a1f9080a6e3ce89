package music

import (
	"context"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// LinkProvider turns links and search terms into catalog entries and
// resolves locators to playable streams.
type LinkProvider interface {
	// Extract lists the entries behind url. With playlist false only the
	// single linked item is returned.
	Extract(ctx context.Context, url string, playlist bool) ([]RawCatalogEntry, error)
	Search(ctx context.Context, query string, limit int) ([]RawCatalogEntry, error)
	Stream(ctx context.Context, locator string) (StreamInfo, error)
}

// StreamInfo is a direct media URL resolved at play time.
type StreamInfo struct {
	URL      string
	Title    string
	Duration time.Duration
	IsLive   bool
}

// MetadataProvider yields name/artist pairs that must be re-resolved
// through a LinkProvider search.
type MetadataProvider interface {
	Supports(request string) bool
	Tracks(ctx context.Context, request string) ([]TrackMeta, error)
}

// Transport plays streams on a room's voice channel.
type Transport interface {
	Connect(ctx context.Context, room, channel snowflake.ID) error
	// Play starts the stream and returns once it is underway. done is called
	// exactly once when playback ends, from the transport's own goroutine.
	// It is never called if Play returns an error.
	Play(ctx context.Context, room snowflake.ID, stream StreamInfo, volume int, done func(error)) error
	Pause(room snowflake.ID)
	Resume(room snowflake.ID)
	Stop(room snowflake.ID)
	SetVolume(room snowflake.ID, volume int)
	Disconnect(ctx context.Context, room snowflake.ID) error
}

// Notifier delivers asynchronous status text to a room's text channel.
type Notifier interface {
	Notify(room, channel snowflake.ID, text string)
}

// SettingsStore persists per-room preferences.
type SettingsStore interface {
	Volume(ctx context.Context, room snowflake.ID, def int) (int, error)
	SetVolume(ctx context.Context, room snowflake.ID, volume int) error
}

// Skip describes one entry the resolver could not queue.
type Skip struct {
	JobID   string
	Room    snowflake.ID
	Request string
	Title   string
	Reason  string
}

// SkipRecorder stores skipped entries for later inspection.
type SkipRecorder interface {
	RecordSkips(ctx context.Context, skips []Skip) error
}
