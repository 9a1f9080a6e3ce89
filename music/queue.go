package music

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"github.com/samber/lo/mutable"
)

// QueueStore holds each room's ordered queue and its on-disk snapshot.
//
// Only the room map is locked. Operations on one room must be serialized by
// the caller; the room actor does that.
type QueueStore struct {
	dir string
	log *slog.Logger

	mu     sync.Mutex
	queues map[snowflake.ID]*roomQueue
}

type roomQueue struct {
	tracks []Track
}

// NewQueueStore keeps queue files under dir. An empty dir disables persistence.
func NewQueueStore(dir string, log *slog.Logger) *QueueStore {
	if log == nil {
		log = slog.Default()
	}
	return &QueueStore{
		dir:    dir,
		log:    log,
		queues: make(map[snowflake.ID]*roomQueue),
	}
}

func (s *QueueStore) path(room snowflake.ID) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_queue.json", room))
}

// Load returns the room's queue, reading it from disk on first access.
// A missing or unparsable file yields an empty queue and a warning.
func (s *QueueStore) Load(room snowflake.ID) []Track {
	return s.Snapshot(room)
}

func (s *QueueStore) entry(room snowflake.ID) *roomQueue {
	s.mu.Lock()
	q, ok := s.queues[room]
	s.mu.Unlock()
	if ok {
		return q
	}

	loaded := &roomQueue{tracks: s.readFile(room)}

	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[room]; ok {
		return q
	}
	s.queues[room] = loaded
	return loaded
}

func (s *QueueStore) readFile(room snowflake.ID) []Track {
	if s.dir == "" {
		return nil
	}
	data, err := os.ReadFile(s.path(room))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("Failed to read queue, starting empty", "room", room, "err", err)
		}
		return nil
	}
	var records []trackRecord
	if err := json.Unmarshal(data, &records); err != nil {
		s.log.Warn("Queue file is corrupt, starting empty", "room", room, "err", err)
		return nil
	}
	tracks := make([]Track, 0, len(records))
	for _, r := range records {
		if r.URL == "" {
			continue
		}
		tracks = append(tracks, r.track())
	}
	return tracks
}

// Save writes the room's current queue as a complete snapshot.
func (s *QueueStore) Save(room snowflake.ID) error {
	if s.dir == "" {
		return nil
	}
	q := s.entry(room)
	records := make([]trackRecord, len(q.tracks))
	for i, t := range q.tracks {
		records[i] = recordOf(t)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path(room), data)
}

func (s *QueueStore) Append(room snowflake.ID, tracks ...Track) {
	q := s.entry(room)
	q.tracks = append(q.tracks, tracks...)
}

// PopFront removes and returns the head of the queue.
func (s *QueueStore) PopFront(room snowflake.ID) (Track, bool) {
	q := s.entry(room)
	if len(q.tracks) == 0 {
		return Track{}, false
	}
	t := q.tracks[0]
	q.tracks = q.tracks[1:]
	return t, true
}

func (s *QueueStore) Clear(room snowflake.ID) {
	s.entry(room).tracks = nil
}

// Snapshot returns a copy of the room's queue.
func (s *QueueStore) Snapshot(room snowflake.ID) []Track {
	q := s.entry(room)
	out := make([]Track, len(q.tracks))
	copy(out, q.tracks)
	return out
}

func (s *QueueStore) Len(room snowflake.ID) int {
	return len(s.entry(room).tracks)
}

// Remove deletes the entry at a zero-based index.
func (s *QueueStore) Remove(room snowflake.ID, index int) (Track, bool) {
	q := s.entry(room)
	if index < 0 || index >= len(q.tracks) {
		return Track{}, false
	}
	t := q.tracks[index]
	q.tracks = append(q.tracks[:index:index], q.tracks[index+1:]...)
	return t, true
}

// Jump drops every entry before a zero-based index, making it the new head.
func (s *QueueStore) Jump(room snowflake.ID, index int) (Track, bool) {
	q := s.entry(room)
	if index < 0 || index >= len(q.tracks) {
		return Track{}, false
	}
	q.tracks = q.tracks[index:]
	return q.tracks[0], true
}

func (s *QueueStore) Shuffle(room snowflake.ID) {
	mutable.Shuffle(s.entry(room).tracks)
}

// Forget drops the in-memory copy so the next access reloads from disk.
func (s *QueueStore) Forget(room snowflake.ID) {
	s.mu.Lock()
	delete(s.queues, room)
	s.mu.Unlock()
}
