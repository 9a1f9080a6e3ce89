package proc

import (
	"context"
	"io"
	"sync"
	"time"
)

var (
	OpusSilence     = []byte{0xf8, 0xff, 0xfe}
	SilenceDuration = 1 * time.Second
)

// frameInterval is the duration of one Opus frame.
const frameInterval = 20 * time.Millisecond

// pauseGate is open while playback runs. Paused providers block on it.
type pauseGate struct {
	mu sync.RWMutex
	ch chan struct{}
}

func newPauseGate() *pauseGate {
	ch := make(chan struct{})
	close(ch)
	return &pauseGate{ch: ch}
}

func (g *pauseGate) wait() <-chan struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ch
}

// Pause closes the gate. It reports false when it was already closed.
func (g *pauseGate) Pause() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		g.ch = make(chan struct{})
		return true
	default:
		return false
	}
}

func (g *pauseGate) Resume() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ch:
		return false
	default:
		close(g.ch)
		return true
	}
}

func (g *pauseGate) Paused() bool {
	select {
	case <-g.wait():
		return false
	default:
		return true
	}
}

// StreamProvider hands encoded frames to the voice connection. A nil frame
// marks the end of the stream, after which a short tail of silence is sent
// before the provider finishes.
type StreamProvider struct {
	frames   chan []byte
	gate     *pauseGate
	ctx      context.Context
	once     sync.Once
	finished chan struct{}

	draining      bool
	silenceFrames int
}

func NewStreamProvider(ctx context.Context, gate *pauseGate) *StreamProvider {
	return &StreamProvider{
		frames:   make(chan []byte, 100),
		gate:     gate,
		ctx:      ctx,
		finished: make(chan struct{}),
	}
}

// Finished is closed once the provider has sent its last frame.
func (p *StreamProvider) Finished() <-chan struct{} {
	return p.finished
}

func (p *StreamProvider) Close() {
	p.once.Do(func() { close(p.finished) })
}

func (p *StreamProvider) PushFrame(f []byte) {
	select {
	case p.frames <- f:
	case <-p.ctx.Done():
	}
}

func (p *StreamProvider) ProvideOpusFrame() ([]byte, error) {
	select {
	case <-p.gate.wait():
	case <-p.ctx.Done():
		p.Close()
		return nil, io.EOF
	}

	if p.draining {
		if p.silenceFrames < int(SilenceDuration/frameInterval) {
			p.silenceFrames++
			return OpusSilence, nil
		}
		p.Close()
		return nil, io.EOF
	}

	select {
	case f := <-p.frames:
		if f == nil {
			p.draining = true
			return OpusSilence, nil
		}
		return f, nil
	case <-p.ctx.Done():
		p.Close()
		return nil, io.EOF
	case <-time.After(500 * time.Millisecond):
		return OpusSilence, nil
	}
}
