package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/leeineian/melody/music"
	"github.com/lrstanley/go-ytdlp"
)

// ErrNoStream is returned when yt-dlp prints no playable format.
var ErrNoStream = errors.New("no playable stream")

const (
	entryTemplate  = "%(webpage_url,url)s\t%(title)s\t%(uploader,channel)s\t%(duration)s\t%(availability)s\t%(live_status)s"
	streamTemplate = "%(url)s\t%(title)s\t%(duration)s\t%(is_live)s"
	audioFormat    = "bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best"

	// MaxPlaylistEntries caps how much of a playlist is listed.
	MaxPlaylistEntries = 500
)

// Ytdlp is the link and search provider backed by the yt-dlp executable.
type Ytdlp struct {
	path   string
	proxy  string
	finder *Finder
	log    *slog.Logger

	jsOnce sync.Once
	jsArgs []string
}

// NewYtdlp uses the executable at path. finder, when set, answers searches
// natively before falling back to yt-dlp.
func NewYtdlp(path, proxy string, finder *Finder, log *slog.Logger) *Ytdlp {
	if log == nil {
		log = slog.Default()
	}
	return &Ytdlp{path: path, proxy: proxy, finder: finder, log: log}
}

func (y *Ytdlp) command() *ytdlp.Command {
	cmd := ytdlp.New().
		SetExecutable(y.path).
		Quiet().
		NoWarnings().
		IgnoreConfig()
	if y.proxy != "" {
		cmd.Proxy(y.proxy)
	}
	return cmd
}

// baseArgs are shared by every invocation. A JavaScript runtime is passed
// when one is installed since YouTube extraction needs it.
func (y *Ytdlp) baseArgs() []string {
	y.jsOnce.Do(func() {
		for _, rt := range []string{"node", "deno", "quickjs"} {
			if p, err := exec.LookPath(rt); err == nil {
				y.jsArgs = []string{"--js-runtimes", rt + ":" + p}
				break
			}
		}
	})
	args := append([]string(nil), y.jsArgs...)
	return append(args,
		"--no-check-certificates",
		"--extractor-args", "youtube:player_client=android,web",
		"--socket-timeout", "30",
		"--retries", "5",
	)
}

// Extract lists the entries behind url without downloading anything.
func (y *Ytdlp) Extract(ctx context.Context, url string, playlist bool) ([]music.RawCatalogEntry, error) {
	url = canonicalURL(url)
	args := y.baseArgs()
	if playlist {
		args = append(args, "--yes-playlist")
	} else {
		args = append(args, "--no-playlist")
	}

	res, err := y.command().
		FlatPlaylist().
		Print(entryTemplate).
		PlaylistItems(fmt.Sprintf("1-%d", MaxPlaylistEntries)).
		Run(ctx, append(args, url)...)
	if err != nil {
		return nil, y.wrapErr(err, res)
	}
	return parseEntries(res.Stdout), nil
}

// Search returns up to limit videos for query.
func (y *Ytdlp) Search(ctx context.Context, query string, limit int) ([]music.RawCatalogEntry, error) {
	if y.finder != nil {
		entries, err := y.finder.Videos(ctx, query, limit)
		if err == nil && len(entries) > 0 {
			return entries, nil
		}
		if err != nil {
			y.log.Debug("Native search failed, using yt-dlp", "query", query, "err", err)
		}
	}

	res, err := y.command().
		FlatPlaylist().
		Print(entryTemplate).
		PlaylistItems(fmt.Sprintf("1-%d", limit)).
		Run(ctx, append(y.baseArgs(), fmt.Sprintf("ytsearch%d:%s", limit, query))...)
	if err != nil {
		return nil, y.wrapErr(err, res)
	}
	return parseEntries(res.Stdout), nil
}

// Stream resolves locator to a direct audio URL.
func (y *Ytdlp) Stream(ctx context.Context, locator string) (music.StreamInfo, error) {
	args := append(y.baseArgs(), "--no-playlist", "--skip-download")
	res, err := y.command().
		Format(audioFormat).
		Print(streamTemplate).
		Run(ctx, append(args, canonicalURL(locator))...)
	if err != nil {
		return music.StreamInfo{}, y.wrapErr(err, res)
	}
	return parseStream(res.Stdout)
}

func (y *Ytdlp) wrapErr(err error, res *ytdlp.Result) error {
	if res != nil {
		if stderr := strings.TrimSpace(res.Stderr); stderr != "" {
			y.log.Debug("yt-dlp failed", "err", err, "stderr", stderr)
			return fmt.Errorf("yt-dlp: %w: %s", err, firstLine(stderr))
		}
	}
	return fmt.Errorf("yt-dlp: %w", err)
}

// parseEntries reads entryTemplate lines. Malformed lines are dropped.
func parseEntries(stdout string) []music.RawCatalogEntry {
	var entries []music.RawCatalogEntry
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		ps := strings.Split(line, "\t")
		if len(ps) < 6 || ps[0] == "" || ps[0] == "NA" {
			continue
		}
		entries = append(entries, music.RawCatalogEntry{
			URL:          canonicalURL(ps[0]),
			Title:        na(ps[1]),
			Uploader:     na(ps[2]),
			Duration:     parseSeconds(ps[3]),
			Availability: na(ps[4]),
			IsLive:       ps[5] == "is_live",
		})
	}
	return entries
}

func parseStream(stdout string) (music.StreamInfo, error) {
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		ps := strings.Split(line, "\t")
		if len(ps) < 4 || !strings.HasPrefix(ps[0], "http") {
			continue
		}
		return music.StreamInfo{
			URL:      ps[0],
			Title:    na(ps[1]),
			Duration: parseSeconds(ps[2]),
			IsLive:   ps[3] == "True",
		}, nil
	}
	return music.StreamInfo{}, ErrNoStream
}

// na maps yt-dlp's placeholder for missing fields to "".
func na(s string) string {
	s = strings.TrimSpace(s)
	if s == "NA" {
		return ""
	}
	return s
}

func parseSeconds(s string) time.Duration {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f <= 0 {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}

// canonicalURL rewrites YouTube Music links to plain YouTube ones, which
// extract faster and share cache entries.
func canonicalURL(u string) string {
	u = strings.TrimSpace(u)
	if id := videoID(u); id != "" && !strings.Contains(u, "list=") {
		return "https://www.youtube.com/watch?v=" + id
	}
	return strings.Replace(u, "music.youtube.com", "www.youtube.com", 1)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
