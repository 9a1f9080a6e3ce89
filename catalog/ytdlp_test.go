package catalog

import (
	"errors"
	"testing"
	"time"
)

func TestParseEntries(t *testing.T) {
	stdout := "https://www.youtube.com/watch?v=aaaaaaaaaaa\tFirst\tUploader\t212.0\tpublic\tnot_live\n" +
		"garbage line\n" +
		"https://music.youtube.com/watch?v=bbbbbbbbbbb\tNA\tNA\tNA\tNA\tis_live\n" +
		"NA\t[Private video]\tNA\tNA\tprivate\tNA\n"

	got := parseEntries(stdout)
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(got), got)
	}
	if got[0].Title != "First" || got[0].Uploader != "Uploader" || got[0].Duration != 212*time.Second || got[0].Availability != "public" || got[0].IsLive {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].URL != "https://www.youtube.com/watch?v=bbbbbbbbbbb" || got[1].Title != "" || !got[1].IsLive {
		t.Errorf("second = %+v", got[1])
	}
}

func TestParseStream(t *testing.T) {
	info, err := parseStream("WARNING: something\nhttps://rr1.googlevideo.com/x\tSong\t61.5\tFalse\n")
	if err != nil {
		t.Fatal(err)
	}
	if info.URL != "https://rr1.googlevideo.com/x" || info.Title != "Song" || info.Duration != 61500*time.Millisecond || info.IsLive {
		t.Errorf("got %+v", info)
	}

	live, err := parseStream("https://manifest.example/live.m3u8\tRadio\tNA\tTrue")
	if err != nil || !live.IsLive || live.Duration != 0 {
		t.Errorf("live = %+v, %v", live, err)
	}

	if _, err := parseStream(""); !errors.Is(err, ErrNoStream) {
		t.Errorf("empty output: %v", err)
	}
}

func TestCanonicalURL(t *testing.T) {
	tests := map[string]string{
		"https://music.youtube.com/watch?v=dQw4w9WgXcQ&feature=share": "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ?t=42":                           "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://www.youtube.com/shorts/dQw4w9WgXcQ":                  "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://music.youtube.com/playlist?list=PL123":               "https://www.youtube.com/playlist?list=PL123",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PL123":      "https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PL123",
		"https://soundcloud.com/artist/track":                         "https://soundcloud.com/artist/track",
	}
	for in, want := range tests {
		if got := canonicalURL(in); got != want {
			t.Errorf("canonicalURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseClock(t *testing.T) {
	tests := map[string]time.Duration{
		"3:20":    200 * time.Second,
		"1:05:20": time.Hour + 5*time.Minute + 20*time.Second,
		"0:07":    7 * time.Second,
		"":        0,
		"LIVE":    0,
		"1:2:3:4": 0,
	}
	for in, want := range tests {
		if got := parseClock(in); got != want {
			t.Errorf("parseClock(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTrimPrefixFold(t *testing.T) {
	if q, ok := trimPrefixFold("[yt] lofi beats", PrefixYouTube); !ok || q != "lofi beats" {
		t.Errorf("got %q, %v", q, ok)
	}
	if q, ok := trimPrefixFold("[YTM] lofi", PrefixYouTube); ok || q != "[YTM] lofi" {
		t.Errorf("[YTM] matched the [YT] prefix: %q", q)
	}
}
