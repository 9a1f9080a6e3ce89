package music

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

var ErrRegistryClosed = errors.New("registry closed")

// Deps are the collaborators shared by every room.
type Deps struct {
	Queue        *QueueStore
	Cache        *Cache
	Autoplaylist *Autoplaylist
	Resolver     *Resolver
	Links        LinkProvider
	Transport    Transport
	Notifier     Notifier
	Settings     SettingsStore

	MaxRetries    int
	StreamTimeout time.Duration
	Logger        *slog.Logger
}

// Registry maps guild ids to lazily created room actors.
type Registry struct {
	deps Deps
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	rooms  map[snowflake.ID]*Room
	closed bool
}

func NewRegistry(ctx context.Context, deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxRetries <= 0 {
		deps.MaxRetries = DefaultMaxRetries
	}
	if deps.StreamTimeout <= 0 {
		deps.StreamTimeout = DefaultStreamTimeout
	}
	if deps.Queue == nil {
		deps.Queue = NewQueueStore("", deps.Logger)
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Registry{
		deps:   deps,
		log:    deps.Logger,
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[snowflake.ID]*Room),
	}
}

// Room returns the actor for id, creating it on first use.
func (g *Registry) Room(ctx context.Context, id snowflake.ID) (*Room, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if r, ok := g.rooms[id]; ok {
		g.mu.Unlock()
		return r, nil
	}
	g.mu.Unlock()

	volume := DefaultVolume
	if g.deps.Settings != nil {
		v, err := g.deps.Settings.Volume(ctx, id, DefaultVolume)
		if err != nil {
			g.log.Warn("Failed to load room volume", "room", id, "err", err)
		} else {
			volume = v
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrRegistryClosed
	}
	if r, ok := g.rooms[id]; ok {
		return r, nil
	}
	r := g.newRoom(id, volume)
	g.rooms[id] = r
	go r.run()
	g.log.Debug("Created room", "room", id)
	return r, nil
}

func (g *Registry) newRoom(id snowflake.ID, volume int) *Room {
	ctx, cancel := context.WithCancel(g.ctx)
	r := &Room{
		id:     id,
		log:    g.log,
		cmds:   make(chan func(context.Context), roomBacklog),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.ctl = &Controller{
		room:          id,
		queue:         g.deps.Queue,
		cache:         g.deps.Cache,
		autoplaylist:  g.deps.Autoplaylist,
		links:         g.deps.Links,
		transport:     g.deps.Transport,
		log:           g.log,
		maxRetries:    g.deps.MaxRetries,
		streamTimeout: g.deps.StreamTimeout,
		post:          r.post,
		notify:        r.notify(g.deps.Notifier),
		volume:        volume,
		listeners:     listenersUnknown,
	}
	return r
}

func (g *Registry) lookup(id snowflake.ID) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[id]
	return r, ok
}

// AppendTracks queues tracks for a room and saves the queue.
func (g *Registry) AppendTracks(ctx context.Context, id snowflake.ID, tracks []Track) error {
	r, err := g.Room(ctx, id)
	if err != nil {
		return err
	}
	var saveErr error
	if err := r.do(ctx, func(context.Context) {
		g.deps.Queue.Append(id, tracks...)
		saveErr = g.deps.Queue.Save(id)
	}); err != nil {
		return err
	}
	return saveErr
}

// SetListeners reports how many humans share the bot's voice channel.
// Rooms that do not exist yet are left alone.
func (g *Registry) SetListeners(id snowflake.ID, n int) {
	r, ok := g.lookup(id)
	if !ok {
		return
	}
	r.post(func(context.Context) { r.ctl.SetListeners(n) })
}

// VoiceDisconnected leaves the room dormant after the bot was removed from
// voice. The queue is kept.
func (g *Registry) VoiceDisconnected(id snowflake.ID) {
	r, ok := g.lookup(id)
	if !ok {
		return
	}
	r.post(func(context.Context) {
		if r.ctl.Voice() == 0 && !r.ctl.State().Status.Active() {
			return
		}
		r.ctl.Disconnected()
		r.notify(g.deps.Notifier)(MsgDisconnectedPause)
	})
}

// State returns a copy of the room's playback state.
func (g *Registry) State(ctx context.Context, id snowflake.ID) (PlaybackState, bool) {
	r, ok := g.lookup(id)
	if !ok {
		return PlaybackState{}, false
	}
	var s PlaybackState
	if err := r.do(ctx, func(context.Context) { s = r.ctl.State() }); err != nil {
		return PlaybackState{}, false
	}
	return s, true
}

// Playing counts the rooms that are playing or paused.
func (g *Registry) Playing(ctx context.Context) int {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.Unlock()

	n := 0
	for _, r := range rooms {
		var active bool
		if err := r.do(ctx, func(context.Context) { active = r.ctl.State().Status.Active() }); err == nil && active {
			n++
		}
	}
	return n
}

// Shutdown stops playback in every room and waits for the actors to exit.
func (g *Registry) Shutdown(ctx context.Context) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.Unlock()

	var wg sync.WaitGroup
	for _, r := range rooms {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.do(ctx, func(context.Context) {
				r.ctl.halt()
				if r.ctl.Voice() != 0 {
					if err := g.deps.Transport.Disconnect(ctx, r.id); err != nil {
						g.log.Warn("Failed to leave voice channel", "room", r.id, "err", err)
					}
				}
			})
			if err != nil {
				g.log.Warn("Room did not stop cleanly", "room", r.id, "err", err)
			}
			r.cancel()
			select {
			case <-r.done:
			case <-ctx.Done():
			}
		}()
	}
	wg.Wait()
	g.cancel()
	g.log.Info("Rooms shut down", "count", len(rooms))
}
