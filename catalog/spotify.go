package catalog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/leeineian/melody/music"
)

var (
	ErrSpotifyAuth    = errors.New("spotify: authentication failed")
	ErrSpotifyGuest   = errors.New("spotify: albums and playlists need client credentials")
	ErrSpotifyNoTitle = errors.New("spotify: could not extract metadata")

	spotifyURLRegex = regexp.MustCompile(`^https?://open\.spotify\.com/(?:intl-[a-z]{2}(?:-[A-Za-z]{2})?/)?(track|album|playlist)/([A-Za-z0-9]+)`)
	spotifyURIRegex = regexp.MustCompile(`^spotify:(track|album|playlist):([A-Za-z0-9]+)$`)

	ogTitleRegex = regexp.MustCompile(`<meta[^>]*property=["']og:title["'][^>]*content=["']([^"']+)["']`)
	ogDescRegex  = regexp.MustCompile(`<meta[^>]*property=["']og:description["'][^>]*content=["']([^"']+)["']`)
)

const (
	spotifyAPIBase  = "https://api.spotify.com/v1"
	spotifyAuthURL  = "https://accounts.spotify.com/api/token"
	spotifyPageBase = "https://open.spotify.com"

	// tokens are refreshed this long before Spotify expires them
	tokenSlack = time.Minute
)

// Spotify turns Spotify links into track metadata. Without credentials it
// runs in guest mode and can only read single track pages.
type Spotify struct {
	clientID string
	secret   string
	http     *http.Client
	log      *slog.Logger

	apiBase  string
	authURL  string
	pageBase string

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewSpotify(clientID, secret string, client *http.Client, log *slog.Logger) *Spotify {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Spotify{
		clientID: clientID,
		secret:   secret,
		http:     client,
		log:      log,
		apiBase:  spotifyAPIBase,
		authURL:  spotifyAuthURL,
		pageBase: spotifyPageBase,
	}
}

// Guest reports whether no client credentials were configured.
func (s *Spotify) Guest() bool {
	return s.clientID == "" || s.secret == ""
}

// parseSpotify returns the object kind and id of a Spotify link or URI.
func parseSpotify(request string) (kind, id string, ok bool) {
	request = strings.TrimSpace(request)
	m := spotifyURLRegex.FindStringSubmatch(request)
	if m == nil {
		m = spotifyURIRegex.FindStringSubmatch(request)
	}
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

func (s *Spotify) Supports(request string) bool {
	_, _, ok := parseSpotify(request)
	return ok
}

func (s *Spotify) Tracks(ctx context.Context, request string) ([]music.TrackMeta, error) {
	kind, id, ok := parseSpotify(request)
	if !ok {
		return nil, music.ErrUnrecognizedRequest
	}
	if s.Guest() {
		if kind != "track" {
			return nil, ErrSpotifyGuest
		}
		m, err := s.scrapeTrack(ctx, id)
		if err != nil {
			return nil, err
		}
		return []music.TrackMeta{m}, nil
	}

	switch kind {
	case "track":
		var t spotifyTrack
		if err := s.get(ctx, s.apiBase+"/tracks/"+id, &t); err != nil {
			return nil, err
		}
		return []music.TrackMeta{t.meta()}, nil
	case "album":
		return s.paged(ctx, fmt.Sprintf("%s/albums/%s/tracks?limit=50", s.apiBase, id), func(raw json.RawMessage) (*spotifyTrack, error) {
			var t spotifyTrack
			return &t, json.Unmarshal(raw, &t)
		})
	default:
		return s.paged(ctx, fmt.Sprintf("%s/playlists/%s/tracks?limit=100", s.apiBase, id), func(raw json.RawMessage) (*spotifyTrack, error) {
			var item struct {
				Track *spotifyTrack `json:"track"`
			}
			if err := json.Unmarshal(raw, &item); err != nil {
				return nil, err
			}
			return item.Track, nil
		})
	}
}

type spotifyTrack struct {
	Type       string `json:"type"`
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
	Artists    []struct {
		Name string `json:"name"`
	} `json:"artists"`
}

func (t spotifyTrack) meta() music.TrackMeta {
	m := music.TrackMeta{Name: t.Name, Duration: time.Duration(t.DurationMS) * time.Millisecond}
	for _, a := range t.Artists {
		m.Artists = append(m.Artists, a.Name)
	}
	return m
}

type spotifyPage struct {
	Items []json.RawMessage `json:"items"`
	Next  string            `json:"next"`
}

// paged follows "next" links until the listing ends or MaxPlaylistEntries is
// reached. Podcast episodes and removed tracks are left out.
func (s *Spotify) paged(ctx context.Context, next string, decode func(json.RawMessage) (*spotifyTrack, error)) ([]music.TrackMeta, error) {
	var out []music.TrackMeta
	for next != "" && len(out) < MaxPlaylistEntries {
		var page spotifyPage
		if err := s.get(ctx, next, &page); err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			t, err := decode(raw)
			if err != nil {
				return nil, fmt.Errorf("spotify: %w", err)
			}
			if t == nil || t.Name == "" || (t.Type != "" && t.Type != "track") {
				continue
			}
			out = append(out, t.meta())
		}
		next = page.Next
	}
	if len(out) > MaxPlaylistEntries {
		out = out[:MaxPlaylistEntries]
	}
	return out, nil
}

func (s *Spotify) get(ctx context.Context, endpoint string, v any) error {
	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("spotify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		s.mu.Lock()
		s.token = ""
		s.mu.Unlock()
		return ErrSpotifyAuth
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("spotify: HTTP %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// accessToken runs the client credentials flow and reuses the token until
// shortly before it expires.
func (s *Spotify) accessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && time.Now().Before(s.expires) {
		return s.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(s.clientID, s.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSpotifyAuth, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: HTTP %d", ErrSpotifyAuth, resp.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil || tok.AccessToken == "" {
		return "", ErrSpotifyAuth
	}
	s.token = tok.AccessToken
	s.expires = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenSlack)
	s.log.Debug("Refreshed Spotify token", "expires", s.expires)
	return s.token, nil
}

// scrapeTrack reads the OpenGraph tags of a public track page.
func (s *Spotify) scrapeTrack(ctx context.Context, id string) (music.TrackMeta, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.pageBase+"/track/"+id, nil)
	if err != nil {
		return music.TrackMeta{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := s.http.Do(req)
	if err != nil {
		return music.TrackMeta{}, fmt.Errorf("spotify: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return music.TrackMeta{}, fmt.Errorf("spotify: HTTP %d", resp.StatusCode)
	}

	// Only the head is needed.
	var head strings.Builder
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for lines := 0; sc.Scan() && lines < 500; lines++ {
		head.WriteString(sc.Text())
		head.WriteByte(' ')
		if strings.Contains(sc.Text(), "</head>") {
			break
		}
	}
	return parseOpenGraph(head.String())
}

func parseOpenGraph(page string) (music.TrackMeta, error) {
	var m music.TrackMeta
	if t := ogTitleRegex.FindStringSubmatch(page); len(t) > 1 {
		title := html.UnescapeString(t[1])
		for _, cut := range []string{" - song and lyrics by", " | Spotify"} {
			if i := strings.Index(title, cut); i != -1 {
				title = title[:i]
			}
		}
		m.Name = strings.TrimSpace(title)
	}
	if m.Name == "" {
		return m, ErrSpotifyNoTitle
	}
	if d := ogDescRegex.FindStringSubmatch(page); len(d) > 1 {
		if artist := strings.TrimSpace(strings.Split(html.UnescapeString(d[1]), " · ")[0]); artist != "" {
			m.Artists = []string{artist}
		}
	}
	return m, nil
}
