package music

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"

	"github.com/disgoorg/snowflake/v2"
)

var ErrRoomClosed = errors.New("room closed")

const roomBacklog = 32

// Room is the actor owning one guild's queue and playback state. Every
// mutation runs on its single goroutine in arrival order.
type Room struct {
	id   snowflake.ID
	ctl  *Controller
	text snowflake.ID
	log  *slog.Logger

	cmds   chan func(ctx context.Context)
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *Room) ID() snowflake.ID { return r.id }

func (r *Room) run() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			return
		case f := <-r.cmds:
			r.exec(f)
		}
	}
}

func (r *Room) exec(f func(ctx context.Context)) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Recovered panic in room", "room", r.id, "panic", rec, "stack", string(debug.Stack()))
		}
	}()
	f(r.ctx)
}

// do runs f on the actor and waits for it to finish. f receives the room's
// context, which outlives the caller's.
func (r *Room) do(ctx context.Context, f func(ctx context.Context)) error {
	finished := make(chan struct{})
	wrapped := func(rctx context.Context) {
		defer close(finished)
		f(rctx)
	}

	select {
	case r.cmds <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrRoomClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrRoomClosed
		}
	}
}

// post schedules f without waiting. Safe to call from any goroutine.
func (r *Room) post(f func(ctx context.Context)) {
	select {
	case r.cmds <- f:
		return
	default:
	}
	go func() {
		select {
		case r.cmds <- f:
		case <-r.ctx.Done():
		}
	}()
}

// notify sends text to the room's last used text channel.
func (r *Room) notify(n Notifier) func(string) {
	return func(text string) {
		if text == "" || n == nil || r.text == 0 {
			return
		}
		n.Notify(r.id, r.text, text)
	}
}
