package proc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/melody/music"
	"github.com/leeineian/melody/sys"
)

var ErrNotConnected = errors.New("not connected to voice")

const joinAttempts = 5

// VoiceTransport streams rooms' audio into Discord voice channels.
type VoiceTransport struct {
	client *bot.Client
	log    *slog.Logger

	mu       sync.Mutex
	sessions map[snowflake.ID]*voiceSession
}

type voiceSession struct {
	room    snowflake.ID
	channel snowflake.ID
	conn    voice.Conn
	gate    *pauseGate
	volume  atomic.Int32

	mu       sync.Mutex
	cancel   context.CancelFunc
	provider *StreamProvider
}

func NewVoiceTransport(client *bot.Client, log *slog.Logger) *VoiceTransport {
	if log == nil {
		log = sys.ComponentLogger("voice")
	}
	return &VoiceTransport{
		client:   client,
		log:      log,
		sessions: make(map[snowflake.ID]*voiceSession),
	}
}

func (v *VoiceTransport) session(room snowflake.ID) *voiceSession {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sessions[room]
}

// Connect joins channel, moving an existing connection if needed. Joining is
// retried with exponential backoff.
func (v *VoiceTransport) Connect(ctx context.Context, room, channel snowflake.ID) error {
	v.mu.Lock()
	s, ok := v.sessions[room]
	if ok && s.channel == channel {
		v.mu.Unlock()
		return nil
	}
	if !ok {
		s = &voiceSession{
			room: room,
			conn: v.client.VoiceManager.CreateConn(room),
			gate: newPauseGate(),
		}
		s.volume.Store(music.DefaultVolume)
		v.sessions[room] = s
	}
	old := s.channel
	s.channel = channel
	v.mu.Unlock()

	if old != 0 {
		go v.setChannelStatus(old, "")
	}
	sys.LogVoice(sys.MsgVoiceJoining, channel, room)

	var lastErr error
	for i := range joinAttempts {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * time.Second
			sys.LogVoice(sys.MsgVoiceJoinRetry, backoff, i+1, joinAttempts)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				lastErr = ctx.Err()
			}
			if ctx.Err() != nil {
				break
			}
		}
		if lastErr = s.conn.Open(ctx, channel, false, false); lastErr == nil {
			return nil
		}
	}

	sys.LogVoice(sys.MsgVoiceJoinFail, room, joinAttempts, lastErr)
	v.mu.Lock()
	delete(v.sessions, room)
	v.mu.Unlock()
	s.conn.Close(context.WithoutCancel(ctx))
	return fmt.Errorf("join voice: %w", lastErr)
}

// Play opens the stream synchronously so that broken inputs are reported as
// errors, then transcodes in the background.
func (v *VoiceTransport) Play(ctx context.Context, room snowflake.ID, stream music.StreamInfo, volume int, done func(error)) error {
	s := v.session(room)
	if s == nil {
		return ErrNotConnected
	}
	v.stop(s)
	s.volume.Store(int32(volume))
	s.gate.Resume()

	t := NewTranscoder(&s.volume)
	if err := t.Open(stream.URL); err != nil {
		t.Close()
		v.log.Warn(fmt.Sprintf(sys.MsgVoiceTranscoderFail, "open", err), "room", room)
		return err
	}

	playCtx, cancel := context.WithCancel(ctx)
	p := NewStreamProvider(playCtx, s.gate)
	s.mu.Lock()
	s.cancel = cancel
	s.provider = p
	s.mu.Unlock()

	s.conn.SetOpusFrameProvider(p)
	s.conn.SetSpeaking(playCtx, voice.SpeakingFlagMicrophone)
	if stream.Title != "" {
		go v.setChannelStatus(v.channelOf(s), "▶️ "+sys.Truncate(stream.Title, 500))
	}

	go func() {
		defer t.Close()
		err := t.Transcode(playCtx, p.PushFrame)

		select {
		case <-p.Finished():
			sys.LogVoice(sys.MsgVoicePlaybackFinished, room)
		case <-playCtx.Done():
			sys.LogVoice(sys.MsgVoicePlaybackStopped, room)
		}
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		if err != nil {
			v.log.Warn(fmt.Sprintf(sys.MsgVoiceTranscoderFail, "stream", err), "room", room)
		}
		cancel()
		done(err)
	}()
	return nil
}

func (v *VoiceTransport) Pause(room snowflake.ID) {
	if s := v.session(room); s != nil {
		s.gate.Pause()
	}
}

func (v *VoiceTransport) Resume(room snowflake.ID) {
	if s := v.session(room); s != nil {
		s.gate.Resume()
	}
}

func (v *VoiceTransport) Stop(room snowflake.ID) {
	if s := v.session(room); s != nil {
		v.stop(s)
	}
}

func (v *VoiceTransport) stop(s *voiceSession) {
	s.mu.Lock()
	cancel, p := s.cancel, s.provider
	s.cancel, s.provider = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if p != nil {
		s.conn.SetOpusFrameProvider(nil)
		s.conn.SetSpeaking(context.Background(), 0)
	}
	go v.setChannelStatus(v.channelOf(s), "")
}

func (v *VoiceTransport) channelOf(s *voiceSession) snowflake.ID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return s.channel
}

func (v *VoiceTransport) SetVolume(room snowflake.ID, volume int) {
	if s := v.session(room); s != nil {
		s.volume.Store(int32(volume))
	}
}

func (v *VoiceTransport) Disconnect(ctx context.Context, room snowflake.ID) error {
	v.mu.Lock()
	s, ok := v.sessions[room]
	delete(v.sessions, room)
	v.mu.Unlock()
	if !ok {
		return nil
	}
	v.stop(s)
	s.conn.Close(ctx)
	return nil
}

// Forget drops a session whose connection Discord already closed.
func (v *VoiceTransport) Forget(room snowflake.ID) {
	v.mu.Lock()
	s, ok := v.sessions[room]
	delete(v.sessions, room)
	v.mu.Unlock()
	if ok {
		v.stop(s)
	}
}

// Moved records that Discord moved the bot to another channel in room.
func (v *VoiceTransport) Moved(room, channel snowflake.ID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.sessions[room]; ok {
		s.channel = channel
	}
}

// Channel reports the voice channel the bot streams into for room.
func (v *VoiceTransport) Channel(room snowflake.ID) (snowflake.ID, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.sessions[room]; ok {
		return s.channel, true
	}
	return 0, false
}

// Shutdown leaves every channel.
func (v *VoiceTransport) Shutdown(ctx context.Context) {
	sys.LogVoice(sys.MsgVoiceShutdown)
	v.mu.Lock()
	rooms := make([]snowflake.ID, 0, len(v.sessions))
	for id := range v.sessions {
		rooms = append(rooms, id)
	}
	v.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range rooms {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = v.Disconnect(ctx, id)
		}()
	}
	wg.Wait()
}

// setChannelStatus sets the voice channel status line shown under the channel
// name.
func (v *VoiceTransport) setChannelStatus(channel snowflake.ID, status string) {
	if channel == 0 || v.client == nil {
		return
	}
	route := rest.NewEndpoint(http.MethodPut, "/channels/"+channel.String()+"/voice-status")
	if err := v.client.Rest.Do(route.Compile(nil), map[string]string{"status": status}, nil); err != nil {
		v.log.Debug("Failed to set voice status", "channel", channel, "err", err)
	}
}
