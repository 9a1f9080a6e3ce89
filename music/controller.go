package music

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusPlaying
	StatusPaused
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusStopped:
		return "stopped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Active reports whether a track is loaded on the transport.
func (s Status) Active() bool {
	return s == StatusPlaying || s == StatusPaused
}

// PlaybackState is a room's view of what is playing. It is never persisted.
type PlaybackState struct {
	Status  Status
	Current *Track
	Retries int
}

const (
	DefaultMaxRetries    = 5
	DefaultStreamTimeout = 30 * time.Second
	DefaultVolume        = 100

	// listenersUnknown is used until the first voice state count arrives.
	listenersUnknown = -1
)

// Controller is a room's playback state machine. All methods must be called
// from the room's actor goroutine.
type Controller struct {
	room         snowflake.ID
	queue        *QueueStore
	cache        *Cache
	autoplaylist *Autoplaylist
	links        LinkProvider
	transport    Transport
	log          *slog.Logger

	maxRetries    int
	streamTimeout time.Duration

	// post schedules f on the owning actor. Transport callbacks go through it.
	post func(f func(ctx context.Context))
	// notify sends asynchronous status text to the room.
	notify func(text string)

	state        PlaybackState
	voice        snowflake.ID
	volume       int
	listeners    int
	autoPaused   bool
	fromFallback bool
	playID       uint64
}

func (c *Controller) State() PlaybackState {
	s := c.state
	if s.Current != nil {
		t := *s.Current
		s.Current = &t
	}
	return s
}

func (c *Controller) Volume() int { return c.volume }

// Voice returns the joined voice channel, zero when disconnected.
func (c *Controller) Voice() snowflake.ID { return c.voice }

// Play starts playback from Idle or Stopped by joining channel. When a track
// is already loaded it does nothing and returns "".
func (c *Controller) Play(ctx context.Context, channel snowflake.ID) string {
	if c.state.Status.Active() || c.state.Status == StatusConnecting {
		return ""
	}

	c.state.Status = StatusConnecting
	if c.voice != channel {
		if err := c.transport.Connect(ctx, c.room, channel); err != nil {
			c.log.Error("Failed to join voice channel", "room", c.room, "channel", channel, "err", err)
			c.state.Status = StatusIdle
			return MsgVoiceJoinFailed
		}
		c.voice = channel
	}
	c.state.Retries = 0
	return c.PlayNext(ctx)
}

// PlayNext loads the next track, falling back to the autoplaylist, and
// returns the one status message describing the outcome.
func (c *Controller) PlayNext(ctx context.Context) string {
	for {
		t, fallback, ok := c.next()
		if !ok {
			c.state.Status = StatusIdle
			c.state.Current = nil
			c.fromFallback = false
			return MsgQueueEmpty
		}

		started, err := c.start(ctx, t)
		if err == nil {
			c.state.Status = StatusPlaying
			c.state.Current = &started
			c.fromFallback = fallback
			c.autoPaused = false
			if fallback {
				return fmt.Sprintf(MsgNowPlayingAuto, started.DisplayTitle())
			}
			return fmt.Sprintf(MsgNowPlaying, started.DisplayTitle())
		}
		if c.fail(t, fallback, err) {
			return fmt.Sprintf(MsgPlaybackFailed, c.state.Retries)
		}
	}
}

// next pops the queue head or picks from the autoplaylist. The fallback is
// skipped only when the room is known to have no listeners.
func (c *Controller) next() (Track, bool, bool) {
	if t, ok := c.queue.PopFront(c.room); ok {
		if err := c.queue.Save(c.room); err != nil {
			c.log.Error("Failed to save queue", "room", c.room, "err", err)
		}
		return t, false, true
	}
	if c.autoplaylist == nil || c.listeners == 0 {
		return Track{}, false, false
	}
	t, ok := c.autoplaylist.PickFallback()
	return t, true, ok
}

// start resolves the stream for t and hands it to the transport.
func (c *Controller) start(ctx context.Context, t Track) (Track, error) {
	sctx, cancel := context.WithTimeout(ctx, c.streamTimeout)
	info, err := c.links.Stream(sctx, t.Locator)
	cancel()
	if err != nil {
		return t, fmt.Errorf("stream lookup: %w", err)
	}
	if info.Title != "" && (t.Title == "" || t.Title == t.Locator) {
		t.Title = info.Title
		if info.IsLive {
			t.Title += LiveSuffix
		}
	}
	if info.Duration > 0 && t.Duration == 0 {
		t.Duration = info.Duration
	}

	c.playID++
	id := c.playID
	post := c.post
	err = c.transport.Play(ctx, c.room, info, c.volume, func(err error) {
		post(func(ctx context.Context) { c.OnTrackEnd(ctx, id, err) })
	})
	if err != nil {
		return t, fmt.Errorf("transport: %w", err)
	}
	c.log.Info("Playing track", "room", c.room, "title", t.Title, "locator", t.Locator)
	return t, nil
}

// fail records a failed track and reports whether the retry bound is hit.
// The failed track itself is never retried.
func (c *Controller) fail(t Track, fallback bool, err error) bool {
	c.state.Retries++
	c.log.Warn("Track failed", "room", c.room, "locator", t.Locator, "attempt", c.state.Retries, "err", err)

	if c.cache != nil {
		c.cache.InvalidateLocator(t.Locator)
	}
	if fallback && c.autoplaylist != nil {
		c.autoplaylist.Remove(t.Locator, err.Error())
	}

	if c.state.Retries < c.maxRetries {
		return false
	}
	c.log.Error("Giving up after repeated failures", "room", c.room, "retries", c.state.Retries)
	c.state.Status = StatusIdle
	c.state.Current = nil
	c.fromFallback = false
	return true
}

// OnTrackEnd handles the transport's completion for playback id. Completions
// from playbacks that were skipped or stopped are ignored.
func (c *Controller) OnTrackEnd(ctx context.Context, id uint64, err error) {
	if id != c.playID || !c.state.Status.Active() || c.state.Current == nil {
		return
	}
	cur := *c.state.Current
	if err != nil {
		if c.fail(cur, c.fromFallback, err) {
			c.notify(fmt.Sprintf(MsgPlaybackFailed, c.state.Retries))
			return
		}
	} else {
		c.state.Retries = 0
		c.log.Debug("Track finished", "room", c.room, "title", cur.Title)
	}
	c.notify(c.PlayNext(ctx))
}

func (c *Controller) Pause() (string, bool) {
	switch c.state.Status {
	case StatusPaused:
		return MsgAlreadyPaused, false
	case StatusPlaying:
		c.transport.Pause(c.room)
		c.state.Status = StatusPaused
		c.autoPaused = false
		return MsgPaused, true
	default:
		return MsgNotPlaying, false
	}
}

func (c *Controller) Resume() (string, bool) {
	switch c.state.Status {
	case StatusPaused:
		c.transport.Resume(c.room)
		c.state.Status = StatusPlaying
		c.autoPaused = false
		return MsgResumed, true
	case StatusPlaying:
		return MsgNotPaused, false
	default:
		return MsgNotPlaying, false
	}
}

// Skip stops the current track and advances. The current track started, so
// the failure streak is over.
func (c *Controller) Skip(ctx context.Context) (string, bool) {
	if !c.state.Status.Active() || c.state.Current == nil {
		return MsgNotPlaying, false
	}
	c.state.Retries = 0
	skipped := c.state.Current.DisplayTitle()
	c.halt()

	msg := c.PlayNext(ctx)
	if c.state.Status == StatusPlaying {
		return fmt.Sprintf(MsgSkippedNext, skipped, c.state.Current.DisplayTitle()), true
	}
	return fmt.Sprintf(MsgSkipped, skipped) + ". " + msg, true
}

// Stop clears and saves the queue, stops media and leaves the voice channel.
func (c *Controller) Stop(ctx context.Context) string {
	c.halt()
	c.queue.Clear(c.room)
	if err := c.queue.Save(c.room); err != nil {
		c.log.Error("Failed to save queue", "room", c.room, "err", err)
	}
	if c.voice != 0 {
		if err := c.transport.Disconnect(ctx, c.room); err != nil {
			c.log.Warn("Failed to leave voice channel", "room", c.room, "err", err)
		}
		c.voice = 0
	}
	c.state = PlaybackState{Status: StatusStopped}
	c.fromFallback = false
	c.autoPaused = false
	return MsgStopped
}

// Disconnected is called when the bot left voice without a Stop. The queue
// is kept for the next play request.
func (c *Controller) Disconnected() {
	c.halt()
	c.voice = 0
	c.state.Status = StatusIdle
	c.state.Current = nil
	c.fromFallback = false
	c.autoPaused = false
}

// halt stops the transport and invalidates its pending completion.
func (c *Controller) halt() {
	c.playID++
	c.transport.Stop(c.room)
}

// SetListeners updates the human count in the bot's channel, pausing when
// the last one leaves and resuming when someone returns.
func (c *Controller) SetListeners(n int) {
	c.listeners = n
	switch {
	case n == 0 && c.state.Status == StatusPlaying:
		c.transport.Pause(c.room)
		c.state.Status = StatusPaused
		c.autoPaused = true
		c.notify(MsgAutoPaused)
	case n > 0 && c.state.Status == StatusPaused && c.autoPaused:
		c.transport.Resume(c.room)
		c.state.Status = StatusPlaying
		c.autoPaused = false
		c.notify(MsgAutoResumed)
	}
}

func (c *Controller) SetVolume(v int) {
	c.volume = v
	c.transport.SetVolume(c.room, v)
}
