package music

import (
	"os"
	"path/filepath"
	"time"
)

// trackRecord is the on-disk shape shared by queue and cache files.
type trackRecord struct {
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Live     bool    `json:"live,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	CachedAt int64   `json:"cached_at,omitempty"`
}

func recordOf(t Track) trackRecord {
	return trackRecord{
		Title:    t.Title,
		URL:      t.Locator,
		Live:     t.IsLive,
		Duration: t.Duration.Seconds(),
	}
}

func (r trackRecord) track() Track {
	return Track{
		Title:    r.Title,
		Locator:  r.URL,
		IsLive:   r.Live,
		Duration: time.Duration(r.Duration * float64(time.Second)),
	}
}

// writeFileAtomic replaces path with data so readers never see a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
