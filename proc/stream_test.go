package proc

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"
)

func samples(vals ...int16) []byte {
	buf := new(bytes.Buffer)
	for _, v := range vals {
		_ = binary.Write(buf, binary.LittleEndian, v)
	}
	return buf.Bytes()
}

func TestApplyGain(t *testing.T) {
	tests := []struct {
		name string
		vol  int32
		in   []int16
		want []int16
	}{
		{"half", 50, []int16{1000, -1000, 3}, []int16{500, -500, 1}},
		{"unity", 100, []int16{12345, -32768}, []int16{12345, -32768}},
		{"mute", 0, []int16{20000, -20000}, []int16{0, 0}},
		{"clipped", 200, []int16{20000, -20000, 100}, []int16{32767, -32768, 200}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := samples(tt.in...)
			applyGain(data, tt.vol)
			if !bytes.Equal(data, samples(tt.want...)) {
				t.Errorf("applyGain(%v, %d) = % x, want % x", tt.in, tt.vol, data, samples(tt.want...))
			}
		})
	}
}

func TestPauseGate(t *testing.T) {
	g := newPauseGate()
	if g.Paused() {
		t.Fatal("new gate should be open")
	}
	if !g.Pause() || g.Pause() {
		t.Error("Pause() should only succeed once")
	}
	if !g.Paused() {
		t.Error("gate should be closed")
	}
	if !g.Resume() || g.Resume() {
		t.Error("Resume() should only succeed once")
	}
}

func TestStreamProviderDrainsWithSilence(t *testing.T) {
	p := NewStreamProvider(context.Background(), newPauseGate())
	go func() {
		p.PushFrame([]byte{1})
		p.PushFrame([]byte{2})
		p.PushFrame(nil)
	}()

	var frames [][]byte
	for range 200 {
		f, err := p.ProvideOpusFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		frames = append(frames, f)
	}

	if len(frames) < 3 || frames[0][0] != 1 || frames[1][0] != 2 {
		t.Fatalf("unexpected frames %v", frames[:min(len(frames), 3)])
	}
	silence := len(frames) - 2
	if want := int(SilenceDuration/frameInterval) + 1; silence != want {
		t.Errorf("%d silence frames, want %d", silence, want)
	}
	select {
	case <-p.Finished():
	default:
		t.Error("provider did not finish")
	}
}

func TestStreamProviderStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := newPauseGate()
	g.Pause()
	p := NewStreamProvider(ctx, g)

	errc := make(chan error, 1)
	go func() {
		_, err := p.ProvideOpusFrame()
		errc <- err
	}()

	select {
	case <-errc:
		t.Fatal("paused provider returned a frame")
	case <-time.After(50 * time.Millisecond):
	}
	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, io.EOF) {
			t.Errorf("err = %v, want EOF", err)
		}
	case <-time.After(time.Second):
		t.Fatal("provider ignored cancellation")
	}
	<-p.Finished()
}
