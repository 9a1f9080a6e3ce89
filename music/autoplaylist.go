package music

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

const removedPrefix = "# Removed # "

// Autoplaylist is the standing pool of known-good locators played when a
// room's queue runs dry.
type Autoplaylist struct {
	path  string
	prune bool
	log   *slog.Logger

	mu      sync.RWMutex
	entries []string
	rnd     *rand.Rand
}

// LoadAutoplaylist reads path. A missing file is an empty pool, not an error.
func LoadAutoplaylist(path string, prune bool, log *slog.Logger) *Autoplaylist {
	if log == nil {
		log = slog.Default()
	}
	a := &Autoplaylist{
		path:  path,
		prune: prune,
		log:   log,
		rnd:   rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x6d656c6f)),
	}
	a.Reload()
	return a
}

// Reload rereads the file and reports the number of usable entries.
func (a *Autoplaylist) Reload() int {
	entries, err := readAutoplaylist(a.path)
	if err != nil {
		a.log.Warn("Failed to read autoplaylist", "path", a.path, "err", err)
	}
	a.mu.Lock()
	a.entries = entries
	a.mu.Unlock()
	return len(entries)
}

func readAutoplaylist(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	return lo.Uniq(entries), sc.Err()
}

func (a *Autoplaylist) Path() string { return a.path }

func (a *Autoplaylist) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

func (a *Autoplaylist) Contains(locator string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return lo.Contains(a.entries, locator)
}

// PickFallback returns a uniformly random entry. The title is the locator
// itself until the stream is resolved.
func (a *Autoplaylist) PickFallback() (Track, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) == 0 {
		return Track{}, false
	}
	loc := a.entries[a.rnd.IntN(len(a.entries))]
	return Track{Title: loc, Locator: loc}, true
}

// Add appends locator to the pool and the file. Returns false if it was
// already present.
func (a *Autoplaylist) Add(locator string) (bool, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return false, errors.New("empty locator")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if lo.Contains(a.entries, locator) {
		return false, nil
	}
	if a.path != "" {
		f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return false, err
		}
		_, err = fmt.Fprintln(f, locator)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return false, err
		}
	}
	a.entries = append(a.entries, locator)
	return true, nil
}

// Remove drops locator from the pool and records why in the removal log.
// With pruning on, the line in the file is commented out as well.
func (a *Autoplaylist) Remove(locator, reason string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := lo.IndexOf(a.entries, locator)
	if idx < 0 {
		return false
	}
	a.entries = append(a.entries[:idx:idx], a.entries[idx+1:]...)
	a.log.Info("Removed track from autoplaylist", "locator", locator, "reason", reason)

	if a.path == "" {
		return true
	}
	if err := a.appendRemovedLog(locator, reason); err != nil {
		a.log.Warn("Failed to write autoplaylist removal log", "err", err)
	}
	if a.prune {
		if err := a.pruneLine(locator); err != nil {
			a.log.Warn("Failed to prune autoplaylist file", "err", err)
		}
	}
	return true
}

func (a *Autoplaylist) appendRemovedLog(locator, reason string) error {
	f, err := os.OpenFile(a.path+".removed.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	reason = strings.ReplaceAll(strings.TrimSpace(reason), "\n", " ")
	_, err = fmt.Fprintf(f, "# %s\n# Reason: %s\n%s\n\n", time.Now().Format(time.RFC3339), reason, locator)
	return err
}

func (a *Autoplaylist) pruneLine(locator string) error {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == locator {
			lines[i] = removedPrefix + locator
		}
	}
	return writeFileAtomic(a.path, []byte(strings.Join(lines, "\n")))
}
