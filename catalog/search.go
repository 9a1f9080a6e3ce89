package catalog

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/leeineian/melody/music"
	"github.com/leeineian/melody/sys"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
)

var videoIDRegex = regexp.MustCompile(`(?:youtube\.com/(?:watch\?(?:.*&)?v=|shorts/|live/|embed/)|youtu\.be/)([A-Za-z0-9_-]{11})`)

// videoID extracts the 11 character YouTube id from a link.
func videoID(u string) string {
	if m := videoIDRegex.FindStringSubmatch(u); len(m) > 1 {
		return m[1]
	}
	return ""
}

// Prefixes label autocomplete suggestions by source.
const (
	PrefixYouTube      = "[YT] "
	PrefixYouTubeMusic = "[YTM] "

	maxSuggestions = 25
	suggestTimeout = 2300 * time.Millisecond
)

// Suggestion is one autocomplete choice.
type Suggestion struct {
	Name string
	URL  string
}

// Finder queries YouTube and YouTube Music directly, without spawning yt-dlp.
type Finder struct {
	log *slog.Logger

	mu    sync.RWMutex
	cache map[string]cachedSuggestions
	ttl   time.Duration
}

type cachedSuggestions struct {
	items   []Suggestion
	expires time.Time
}

func NewFinder(log *slog.Logger) *Finder {
	if log == nil {
		log = slog.Default()
	}
	return &Finder{log: log, cache: make(map[string]cachedSuggestions), ttl: time.Hour}
}

// Videos searches YouTube and returns the hits as catalog entries.
func (f *Finder) Videos(ctx context.Context, query string, limit int) ([]music.RawCatalogEntry, error) {
	res, err := ytsearch.NewClient(nil).Search(ctx, query)
	if err != nil {
		return nil, err
	}
	entries := make([]music.RawCatalogEntry, 0, limit)
	for _, v := range res.Results {
		if v.VideoID == "" {
			continue
		}
		entries = append(entries, music.RawCatalogEntry{
			URL:      "https://www.youtube.com/watch?v=" + v.VideoID,
			Title:    v.Title,
			Uploader: v.Channel,
			Duration: parseClock(v.Duration),
		})
		if len(entries) == limit {
			break
		}
	}
	return entries, nil
}

// Suggest merges YouTube Music and YouTube results for autocomplete. It
// returns whatever arrived before the Discord deadline. A "[YT]" prefix on
// the query puts YouTube results first.
func (f *Finder) Suggest(ctx context.Context, q string) []Suggestion {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil
	}
	f.mu.RLock()
	if c, ok := f.cache[q]; ok && time.Now().Before(c.expires) {
		f.mu.RUnlock()
		return c.items
	}
	f.mu.RUnlock()

	query, youtubeFirst := trimPrefixFold(q, PrefixYouTube)
	if !youtubeFirst {
		query, _ = trimPrefixFold(q, PrefixYouTubeMusic)
	}

	ctx, cancel := context.WithTimeout(ctx, suggestTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		ytm, yt []Suggestion
		seen    = make(map[string]bool)
		wg      sync.WaitGroup
	)
	add := func(dst *[]Suggestion, id string, s Suggestion) {
		mu.Lock()
		defer mu.Unlock()
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		*dst = append(*dst, s)
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		r, err := ytmusic.TrackSearch(query).Next()
		if err != nil {
			f.log.Debug("YouTube Music search failed", "query", query, "err", err)
			return
		}
		for _, v := range r.Tracks {
			artist := ""
			if len(v.Artists) > 0 {
				artist = " - " + v.Artists[0].Name
			}
			add(&ytm, v.VideoID, Suggestion{
				Name: sys.TruncateWithPreserve(v.Title, 100, PrefixYouTubeMusic, artist),
				URL:  "https://music.youtube.com/watch?v=" + v.VideoID,
			})
		}
	}()
	go func() {
		defer wg.Done()
		r, err := ytsearch.NewClient(nil).Search(ctx, query)
		if err != nil {
			f.log.Debug("YouTube search failed", "query", query, "err", err)
			return
		}
		for _, v := range r.Results {
			add(&yt, v.VideoID, Suggestion{
				Name: sys.TruncateWithPreserve(v.Title, 100, PrefixYouTube, ""),
				URL:  "https://www.youtube.com/watch?v=" + v.VideoID,
			})
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	var out []Suggestion
	if youtubeFirst {
		out = append(append(out, yt...), ytm...)
	} else {
		out = append(append(out, ytm...), yt...)
	}
	mu.Unlock()
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}

	if len(out) > 0 {
		f.mu.Lock()
		f.cache[q] = cachedSuggestions{items: out, expires: time.Now().Add(f.ttl)}
		f.mu.Unlock()
	}
	return out
}

// trimPrefixFold strips a source label from a query, ignoring case.
func trimPrefixFold(s, prefix string) (string, bool) {
	p := strings.TrimSpace(prefix)
	if len(s) < len(p) || !strings.EqualFold(s[:len(p)], p) {
		return s, false
	}
	return strings.TrimSpace(s[len(p):]), true
}

// parseClock parses "3:20" or "1:05:20".
func parseClock(s string) time.Duration {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}
	var total int
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second
}
