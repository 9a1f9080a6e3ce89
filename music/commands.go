package music

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

type Command string

const (
	CmdPlay       Command = "play"
	CmdPlaylist   Command = "playlist"
	CmdPause      Command = "pause"
	CmdResume     Command = "resume"
	CmdSkip       Command = "skip"
	CmdStop       Command = "stop"
	CmdQueue      Command = "queue"
	CmdVolume     Command = "volume"
	CmdNowPlaying Command = "nowplaying"
	CmdRemove     Command = "remove"
	CmdShuffle    Command = "shuffle"
	CmdClear      Command = "clear"
	CmdJump       Command = "jump"
)

// QueuePageSize is the number of entries shown per queue listing.
const QueuePageSize = 10

// Request is one validated command from the chat surface.
type Request struct {
	Room         snowflake.ID
	VoiceChannel snowflake.ID
	TextChannel  snowflake.ID
	Command      Command
	Args         string
}

type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeEmpty
	OutcomeInvalid
	OutcomeNotInVoice
	OutcomeNotPlaying
	OutcomeFailed
	OutcomeUnrecognized
)

// Reply is the single status returned for every request.
type Reply struct {
	Outcome Outcome
	Text    string
}

func reply(o Outcome, text string) Reply {
	return Reply{Outcome: o, Text: text}
}

func replyf(o Outcome, format string, args ...any) Reply {
	return Reply{Outcome: o, Text: fmt.Sprintf(format, args...)}
}

// HandleRequest runs one command for a room. It never fails; problems are
// reported through the reply's outcome.
func (g *Registry) HandleRequest(ctx context.Context, req Request) Reply {
	r, err := g.Room(ctx, req.Room)
	if err != nil {
		return reply(OutcomeFailed, MsgShuttingDown)
	}
	if req.TextChannel != 0 {
		_ = r.do(ctx, func(context.Context) { r.text = req.TextChannel })
	}

	switch req.Command {
	case CmdPlay:
		return g.play(ctx, r, req, false)
	case CmdPlaylist:
		return g.play(ctx, r, req, true)
	case CmdVolume:
		return g.volume(ctx, r, req.Args)
	}

	var out Reply
	err = r.do(ctx, func(rctx context.Context) {
		out = g.dispatch(rctx, r, req)
	})
	if err != nil {
		g.log.Warn("Room command interrupted", "room", req.Room, "command", req.Command, "err", err)
		return reply(OutcomeFailed, MsgUnknownCommand)
	}
	return out
}

// dispatch runs on the room actor.
func (g *Registry) dispatch(ctx context.Context, r *Room, req Request) Reply {
	c := r.ctl
	switch req.Command {
	case CmdPause:
		return toggleReply(c.Pause())
	case CmdResume:
		return toggleReply(c.Resume())
	case CmdSkip:
		return toggleReply(c.Skip(ctx))
	case CmdStop:
		return reply(OutcomeOK, c.Stop(ctx))
	case CmdQueue:
		return g.listQueue(r, req.Args)
	case CmdNowPlaying:
		return nowPlaying(c)
	case CmdRemove:
		return g.remove(r, req.Args)
	case CmdShuffle:
		n := g.deps.Queue.Len(r.id)
		if n == 0 {
			return reply(OutcomeEmpty, MsgQueueEmpty)
		}
		g.deps.Queue.Shuffle(r.id)
		g.save(r.id)
		return replyf(OutcomeOK, MsgShuffled, n)
	case CmdClear:
		n := g.deps.Queue.Len(r.id)
		if n == 0 {
			return reply(OutcomeEmpty, MsgQueueEmpty)
		}
		g.deps.Queue.Clear(r.id)
		g.save(r.id)
		return replyf(OutcomeOK, MsgCleared, n)
	case CmdJump:
		return g.jump(ctx, r, req)
	default:
		return reply(OutcomeInvalid, MsgUnknownCommand)
	}
}

func toggleReply(text string, ok bool) Reply {
	if ok {
		return reply(OutcomeOK, text)
	}
	return reply(OutcomeNotPlaying, text)
}

func (g *Registry) save(room snowflake.ID) {
	if err := g.deps.Queue.Save(room); err != nil {
		g.log.Error("Failed to save queue", "room", room, "err", err)
	}
}

// play resolves outside the actor so a slow catalog never blocks the room.
// Playback starts as soon as the first batch is queued.
func (g *Registry) play(ctx context.Context, r *Room, req Request, playlist bool) Reply {
	if req.VoiceChannel == 0 {
		return reply(OutcomeNotInVoice, MsgNotInVoice)
	}
	if strings.TrimSpace(req.Args) == "" {
		return reply(OutcomeInvalid, MsgUnrecognized)
	}
	if g.deps.Resolver == nil {
		return reply(OutcomeFailed, MsgResolveFailed)
	}

	var (
		playMsg string
		started bool
	)
	sink := func(ctx context.Context, tracks []Track) error {
		var saveErr error
		err := r.do(ctx, func(rctx context.Context) {
			g.deps.Queue.Append(r.id, tracks...)
			saveErr = g.deps.Queue.Save(r.id)
			if !started {
				started = true
				playMsg = r.ctl.Play(rctx, req.VoiceChannel)
			}
		})
		if err != nil {
			return err
		}
		if saveErr != nil {
			g.log.Error("Failed to save queue", "room", r.id, "err", saveErr)
		}
		return nil
	}

	res, err := g.deps.Resolver.Resolve(ctx, r.id, req.Args, playlist, sink)
	if err != nil && res.Added == 0 {
		switch {
		case errors.Is(err, ErrUnrecognizedRequest):
			return reply(OutcomeUnrecognized, MsgUnrecognized)
		default:
			return reply(OutcomeFailed, MsgResolveFailed)
		}
	}
	if res.Added == 0 {
		return replyf(OutcomeEmpty, MsgNothingAdded, res.Skipped)
	}

	var text string
	switch {
	case res.Skipped > 0:
		text = fmt.Sprintf(MsgAddedSkipped, res.Added, res.Skipped)
	case res.Added == 1:
		text = fmt.Sprintf(MsgAdded, res.First.DisplayTitle())
	default:
		text = fmt.Sprintf(MsgAddedMany, res.Added)
	}
	if playMsg != "" {
		text += "\n" + playMsg
	}
	return reply(OutcomeOK, text)
}

// volume persists the setting outside the actor.
func (g *Registry) volume(ctx context.Context, r *Room, arg string) Reply {
	arg = strings.TrimSuffix(strings.TrimSpace(arg), "%")
	if arg == "" {
		var v int
		if err := r.do(ctx, func(context.Context) { v = r.ctl.Volume() }); err != nil {
			return reply(OutcomeFailed, MsgUnknownCommand)
		}
		return replyf(OutcomeOK, MsgVolumeCurrent, v)
	}
	v, err := strconv.Atoi(arg)
	if err != nil || v < 0 || v > 100 {
		return reply(OutcomeInvalid, MsgVolumeRange)
	}
	if err := r.do(ctx, func(context.Context) { r.ctl.SetVolume(v) }); err != nil {
		return reply(OutcomeFailed, MsgUnknownCommand)
	}
	if g.deps.Settings != nil {
		if err := g.deps.Settings.SetVolume(ctx, r.id, v); err != nil {
			g.log.Warn("Failed to persist room volume", "room", r.id, "err", err)
		}
	}
	return replyf(OutcomeOK, MsgVolumeSet, v)
}

func (g *Registry) listQueue(r *Room, arg string) Reply {
	tracks := g.deps.Queue.Snapshot(r.id)
	state := r.ctl.State()
	if len(tracks) == 0 && state.Current == nil {
		return reply(OutcomeEmpty, MsgQueueEmpty)
	}

	page := 1
	if p, err := strconv.Atoi(strings.TrimSpace(arg)); err == nil && p > 1 {
		page = p
	}
	return reply(OutcomeOK, FormatQueue(state.Current, tracks, page))
}

// FormatQueue renders one page of the queue, with the current track on top.
func FormatQueue(current *Track, tracks []Track, page int) string {
	var sb strings.Builder
	if current != nil {
		fmt.Fprintf(&sb, MsgNowPlaying+"\n", current.DisplayTitle())
	}
	fmt.Fprintf(&sb, MsgQueueHeader, len(tracks))

	pages := max(1, (len(tracks)+QueuePageSize-1)/QueuePageSize)
	page = min(max(page, 1), pages)
	start := (page - 1) * QueuePageSize
	end := min(start+QueuePageSize, len(tracks))
	for i := start; i < end; i++ {
		t := tracks[i]
		fmt.Fprintf(&sb, "\n%d. %s (%s)", i+1, t.DisplayTitle(), FormatClock(t.Duration))
	}
	if rest := len(tracks) - end; rest > 0 {
		sb.WriteString("\n")
		fmt.Fprintf(&sb, MsgQueueMore, rest)
	}
	return sb.String()
}

func nowPlaying(c *Controller) Reply {
	s := c.State()
	if s.Current == nil {
		return reply(OutcomeNotPlaying, MsgNotPlaying)
	}
	return replyf(OutcomeOK, MsgNowPlayingLine, s.Current.DisplayTitle(), s.Status, FormatClock(s.Current.Duration))
}

// parsePosition turns a 1-based user index into a 0-based queue index.
func parsePosition(arg string, n int) (int, bool) {
	i, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || i < 1 || i > n {
		return 0, false
	}
	return i - 1, true
}

func (g *Registry) remove(r *Room, arg string) Reply {
	n := g.deps.Queue.Len(r.id)
	if n == 0 {
		return reply(OutcomeEmpty, MsgQueueEmpty)
	}
	idx, ok := parsePosition(arg, n)
	if !ok {
		return replyf(OutcomeInvalid, MsgInvalidIndex, n)
	}
	t, _ := g.deps.Queue.Remove(r.id, idx)
	g.save(r.id)
	return replyf(OutcomeOK, MsgRemoved, t.DisplayTitle())
}

// jump makes the chosen entry the queue head and plays it right away.
func (g *Registry) jump(ctx context.Context, r *Room, req Request) Reply {
	n := g.deps.Queue.Len(r.id)
	if n == 0 {
		return reply(OutcomeEmpty, MsgQueueEmpty)
	}
	idx, ok := parsePosition(req.Args, n)
	if !ok {
		return replyf(OutcomeInvalid, MsgInvalidIndex, n)
	}
	t, _ := g.deps.Queue.Jump(r.id, idx)
	g.save(r.id)

	switch {
	case r.ctl.State().Status.Active():
		r.ctl.Skip(ctx)
	case req.VoiceChannel != 0:
		r.ctl.Play(ctx, req.VoiceChannel)
	}
	return replyf(OutcomeOK, MsgJumped, t.DisplayTitle())
}

// FormatClock renders a track length as m:ss or h:mm:ss. Zero means unknown.
func FormatClock(d time.Duration) string {
	if d <= 0 {
		return "?:??"
	}
	h, m, s := int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
