package music

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func track(name string) Track {
	return Track{Title: strings.ToUpper(name), Locator: name}
}

func locators(tracks []Track) []string {
	out := make([]string, len(tracks))
	for i, t := range tracks {
		out[i] = t.Locator
	}
	return out
}

func writeAutoplaylist(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autoplaylist.txt")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// fakeLinks serves canned catalog answers and counts calls.
type fakeLinks struct {
	mu        sync.Mutex
	extract   map[string][]RawCatalogEntry
	// single overrides extract for requests without playlist expansion.
	single    map[string][]RawCatalogEntry
	search    map[string][]RawCatalogEntry
	streamErr map[string]error
	delay     time.Duration

	extractCalls atomic.Int32
	searchCalls  atomic.Int32
	streamCalls  atomic.Int32
	inFlight     atomic.Int32
	maxInFlight  atomic.Int32
}

func newFakeLinks() *fakeLinks {
	return &fakeLinks{
		extract:   make(map[string][]RawCatalogEntry),
		single:    make(map[string][]RawCatalogEntry),
		search:    make(map[string][]RawCatalogEntry),
		streamErr: make(map[string]error),
	}
}

func (f *fakeLinks) enter() func() {
	n := f.inFlight.Add(1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeLinks) Extract(ctx context.Context, url string, playlist bool) ([]RawCatalogEntry, error) {
	defer f.enter()()
	f.extractCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if entries, ok := f.single[url]; ok && !playlist {
		return entries, nil
	}
	entries, ok := f.extract[url]
	if !ok {
		return nil, fmt.Errorf("no such link %q", url)
	}
	return entries, nil
}

func (f *fakeLinks) Search(ctx context.Context, query string, limit int) ([]RawCatalogEntry, error) {
	defer f.enter()()
	f.searchCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.search[query], nil
}

func (f *fakeLinks) Stream(ctx context.Context, locator string) (StreamInfo, error) {
	f.streamCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.streamErr[locator]; err != nil {
		return StreamInfo{}, err
	}
	return StreamInfo{URL: "https://media.example/" + locator}, nil
}

// fakeTransport records calls and lets tests end playback by hand.
type fakeTransport struct {
	mu          sync.Mutex
	playErr     error
	connectErr  error
	plays       []string
	pending     func(error)
	connects    int
	stops       int
	pauses      int
	resumes     int
	disconnects int
	volume      int
}

func (f *fakeTransport) Connect(ctx context.Context, room, channel snowflake.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeTransport) Play(ctx context.Context, room snowflake.ID, stream StreamInfo, volume int, done func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, strings.TrimPrefix(stream.URL, "https://media.example/"))
	if f.playErr != nil {
		return f.playErr
	}
	f.pending = done
	return nil
}

// finish ends the current playback the way the audio goroutine would.
func (f *fakeTransport) finish(err error) {
	f.mu.Lock()
	done := f.pending
	f.pending = nil
	f.mu.Unlock()
	if done != nil {
		done(err)
	}
}

func (f *fakeTransport) Pause(room snowflake.ID) {
	f.mu.Lock()
	f.pauses++
	f.mu.Unlock()
}

func (f *fakeTransport) Resume(room snowflake.ID) {
	f.mu.Lock()
	f.resumes++
	f.mu.Unlock()
}

// Stop reports the interrupted playback as finished, like the real
// transport does.
func (f *fakeTransport) Stop(room snowflake.ID) {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	f.finish(nil)
}

func (f *fakeTransport) SetVolume(room snowflake.ID, volume int) {
	f.mu.Lock()
	f.volume = volume
	f.mu.Unlock()
}

func (f *fakeTransport) Disconnect(ctx context.Context, room snowflake.ID) error {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.plays)
}

// fakeMeta answers requests with a fixed prefix.
type fakeMeta struct {
	prefix string
	tracks map[string][]TrackMeta
	calls  atomic.Int32
}

func (f *fakeMeta) Supports(request string) bool {
	return strings.HasPrefix(request, f.prefix)
}

func (f *fakeMeta) Tracks(ctx context.Context, request string) ([]TrackMeta, error) {
	f.calls.Add(1)
	metas, ok := f.tracks[request]
	if !ok {
		return nil, errors.New("not found")
	}
	return metas, nil
}

type fakeSettings struct {
	mu      sync.Mutex
	volumes map[snowflake.ID]int
}

func (f *fakeSettings) Volume(ctx context.Context, room snowflake.ID, def int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.volumes[room]; ok {
		return v, nil
	}
	return def, nil
}

func (f *fakeSettings) SetVolume(ctx context.Context, room snowflake.ID, volume int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.volumes == nil {
		f.volumes = make(map[snowflake.ID]int)
	}
	f.volumes[room] = volume
	return nil
}

type fakeSkips struct {
	mu    sync.Mutex
	skips []Skip
}

func (f *fakeSkips) RecordSkips(ctx context.Context, skips []Skip) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skips = append(f.skips, skips...)
	return nil
}

type notification struct {
	room, channel snowflake.ID
	text          string
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []notification
}

func (f *fakeNotifier) Notify(room, channel snowflake.ID, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, notification{room, channel, text})
}
