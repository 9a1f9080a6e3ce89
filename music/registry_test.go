package music

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

const testText = 777

type registryFixture struct {
	reg      *Registry
	links    *fakeLinks
	tr       *fakeTransport
	notifier *fakeNotifier
	settings *fakeSettings
	queue    *QueueStore
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	f := &registryFixture{
		links:    newFakeLinks(),
		tr:       &fakeTransport{},
		notifier: &fakeNotifier{},
		settings: &fakeSettings{},
		queue:    NewQueueStore(t.TempDir(), discardLogger()),
	}
	cache := OpenCache("", 0, discardLogger())
	f.reg = NewRegistry(context.Background(), Deps{
		Queue:        f.queue,
		Cache:        cache,
		Autoplaylist: LoadAutoplaylist("", false, discardLogger()),
		Resolver:     NewResolver(f.links, nil, cache, nil, ResolverOptions{}, discardLogger()),
		Links:        f.links,
		Transport:    f.tr,
		Notifier:     f.notifier,
		Settings:     f.settings,
		MaxRetries:   3,
		Logger:       discardLogger(),
	})
	t.Cleanup(func() { f.reg.Shutdown(context.Background()) })
	return f
}

func (f *registryFixture) request(cmd Command, args string) Reply {
	return f.reg.HandleRequest(context.Background(), Request{
		Room:         testRoom,
		VoiceChannel: testVoice,
		TextChannel:  testText,
		Command:      cmd,
		Args:         args,
	})
}

func (f *registryFixture) seed(t *testing.T, n int) {
	t.Helper()
	tracks := make([]Track, n)
	for i := range tracks {
		tracks[i] = Track{Title: fmt.Sprintf("Song %d", i+1), Locator: fmt.Sprintf("l%d", i+1)}
	}
	if err := f.reg.AppendTracks(context.Background(), testRoom, tracks); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandlePlaySearch(t *testing.T) {
	f := newRegistryFixture(t)
	f.links.search["daft punk one more time"] = []RawCatalogEntry{{Title: "One More Time", URL: "omt"}}

	got := f.request(CmdPlay, "daft punk one more time")
	if got.Outcome != OutcomeOK {
		t.Fatalf("Outcome = %v, text %q", got.Outcome, got.Text)
	}
	if !strings.Contains(got.Text, "Added **One More Time**") || !strings.Contains(got.Text, "Now playing: **One More Time**") {
		t.Errorf("Text = %q", got.Text)
	}
	s, ok := f.reg.State(context.Background(), testRoom)
	if !ok || s.Status != StatusPlaying {
		t.Errorf("state = %+v", s)
	}
}

func TestHandlePlayOutcomes(t *testing.T) {
	f := newRegistryFixture(t)

	noVoice := f.reg.HandleRequest(context.Background(), Request{Room: testRoom, Command: CmdPlay, Args: "x"})
	if noVoice.Outcome != OutcomeNotInVoice {
		t.Errorf("without voice: %v", noVoice.Outcome)
	}
	if got := f.request(CmdPlay, "unknown song"); got.Outcome != OutcomeUnrecognized {
		t.Errorf("unknown search: %v", got.Outcome)
	}
	if got := f.request(CmdPlay, "https://example.com/broken"); got.Outcome != OutcomeFailed {
		t.Errorf("broken link: %v", got.Outcome)
	}

	f.links.extract[playlistURL] = thirtyEntryPlaylist()
	got := f.request(CmdPlaylist, playlistURL)
	if got.Outcome != OutcomeOK || !strings.HasPrefix(got.Text, "Added 27 tracks. Skipped 3 unavailable tracks.") {
		t.Errorf("playlist: %v %q", got.Outcome, got.Text)
	}
}

func TestHandleQueueListing(t *testing.T) {
	f := newRegistryFixture(t)
	if got := f.request(CmdQueue, ""); got.Outcome != OutcomeEmpty {
		t.Errorf("empty queue outcome = %v", got.Outcome)
	}

	f.seed(t, 15)
	got := f.request(CmdQueue, "")
	for _, want := range []string{"(15 tracks)", "1. Song 1", "10. Song 10", "...and 5 more"} {
		if !strings.Contains(got.Text, want) {
			t.Errorf("listing missing %q:\n%s", want, got.Text)
		}
	}
	if strings.Contains(got.Text, "11. Song 11") {
		t.Errorf("first page shows more than %d entries", QueuePageSize)
	}

	page2 := f.request(CmdQueue, "2")
	if !strings.Contains(page2.Text, "15. Song 15") || strings.Contains(page2.Text, "more") {
		t.Errorf("page 2:\n%s", page2.Text)
	}
}

func TestHandleVolume(t *testing.T) {
	f := newRegistryFixture(t)

	for _, bad := range []string{"150", "-1", "loud"} {
		if got := f.request(CmdVolume, bad); got.Outcome != OutcomeInvalid {
			t.Errorf("volume %q: %v", bad, got.Outcome)
		}
	}
	if got := f.request(CmdVolume, "40"); got.Text != "Volume set to 40%" {
		t.Errorf("set volume: %q", got.Text)
	}
	if f.tr.volume != 40 {
		t.Errorf("transport volume = %d", f.tr.volume)
	}

	// A fresh registry picks the stored volume up.
	reg := NewRegistry(context.Background(), Deps{Queue: f.queue, Transport: f.tr, Settings: f.settings, Logger: discardLogger()})
	defer reg.Shutdown(context.Background())
	got := reg.HandleRequest(context.Background(), Request{Room: testRoom, Command: CmdVolume})
	if got.Text != "Volume is 40%" {
		t.Errorf("reloaded volume: %q", got.Text)
	}
}

func TestHandleRemoveAndJump(t *testing.T) {
	f := newRegistryFixture(t)
	f.seed(t, 4)

	if got := f.request(CmdRemove, "2"); got.Text != "Removed **Song 2** from the queue" {
		t.Errorf("remove: %q", got.Text)
	}
	if got := f.request(CmdRemove, "9"); got.Outcome != OutcomeInvalid {
		t.Errorf("remove out of range: %v", got.Outcome)
	}
	if got := f.request(CmdJump, "0"); got.Outcome != OutcomeInvalid {
		t.Errorf("jump 0: %v", got.Outcome)
	}

	got := f.request(CmdJump, "2")
	if got.Text != "Jumped to **Song 3**" {
		t.Errorf("jump: %q", got.Text)
	}
	s, _ := f.reg.State(context.Background(), testRoom)
	if s.Current == nil || s.Current.Locator != "l3" {
		t.Errorf("current = %+v, want l3", s.Current)
	}
	if n := f.queue.Len(testRoom); n != 1 {
		t.Errorf("queue length = %d, want 1", n)
	}
}

func TestHandleShuffleAndClear(t *testing.T) {
	f := newRegistryFixture(t)
	if got := f.request(CmdShuffle, ""); got.Outcome != OutcomeEmpty {
		t.Errorf("shuffle empty: %v", got.Outcome)
	}
	f.seed(t, 5)
	if got := f.request(CmdShuffle, ""); got.Text != "Shuffled 5 tracks" {
		t.Errorf("shuffle: %q", got.Text)
	}
	if got := f.request(CmdClear, ""); got.Text != "Cleared 5 tracks from the queue" {
		t.Errorf("clear: %q", got.Text)
	}
	f.queue.Forget(testRoom)
	if f.queue.Len(testRoom) != 0 {
		t.Error("cleared queue was not saved")
	}
}

func TestCompletionAdvancesThroughActor(t *testing.T) {
	f := newRegistryFixture(t)
	f.seed(t, 2)
	f.request(CmdResume, "")
	if got := f.request(CmdSkip, ""); got.Outcome != OutcomeNotPlaying {
		t.Errorf("skip while idle: %v", got.Outcome)
	}

	f.links.search["x"] = []RawCatalogEntry{{Title: "X", URL: "x"}}
	f.request(CmdPlay, "x")

	f.tr.finish(nil)
	waitFor(t, "second track", func() bool {
		s, _ := f.reg.State(context.Background(), testRoom)
		return s.Current != nil && s.Current.Locator == "l2"
	})

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	if len(f.notifier.notes) != 1 || f.notifier.notes[0].channel != testText {
		t.Errorf("notes = %+v", f.notifier.notes)
	}
}

func TestConcurrentAppendsAreSerialized(t *testing.T) {
	f := newRegistryFixture(t)

	var wg sync.WaitGroup
	for i := range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr := Track{Title: fmt.Sprint(i), Locator: fmt.Sprint(i)}
			if err := f.reg.AppendTracks(context.Background(), testRoom, []Track{tr}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if n := f.queue.Len(testRoom); n != 25 {
		t.Errorf("queue length = %d, want 25", n)
	}
	f.queue.Forget(testRoom)
	if n := f.queue.Len(testRoom); n != 25 {
		t.Errorf("saved queue length = %d, want 25", n)
	}
}

func TestRoomsAreIndependent(t *testing.T) {
	f := newRegistryFixture(t)
	f.seed(t, 3)
	other := snowflake.ID(testRoom + 1)

	got := f.reg.HandleRequest(context.Background(), Request{Room: other, VoiceChannel: testVoice, Command: CmdStop})
	if got.Outcome != OutcomeOK {
		t.Fatal(got.Text)
	}
	if n := f.queue.Len(testRoom); n != 3 {
		t.Errorf("stop in another room touched this queue: %d", n)
	}
}

func TestVoiceDisconnectKeepsQueue(t *testing.T) {
	f := newRegistryFixture(t)
	f.seed(t, 3)
	f.request(CmdJump, "1")

	f.reg.VoiceDisconnected(testRoom)
	waitFor(t, "idle", func() bool {
		s, _ := f.reg.State(context.Background(), testRoom)
		return s.Status == StatusIdle
	})
	if n := f.queue.Len(testRoom); n != 2 {
		t.Errorf("queue length = %d, want 2", n)
	}
}

func TestShutdownRejectsRequests(t *testing.T) {
	f := newRegistryFixture(t)
	f.seed(t, 1)
	f.request(CmdJump, "1")

	f.reg.Shutdown(context.Background())
	if f.tr.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", f.tr.disconnects)
	}
	if got := f.request(CmdQueue, ""); got.Outcome != OutcomeFailed {
		t.Errorf("after shutdown: %v", got.Outcome)
	}
}

func TestRoomDoReturnsWhenRoomCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Room{
		id:     testRoom,
		log:    discardLogger(),
		cmds:   make(chan func(context.Context), 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	// No actor is running, so the command stays queued until the room closes.
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
		close(r.done)
	}()

	errc := make(chan error, 1)
	go func() { errc <- r.do(context.Background(), func(context.Context) {}) }()

	select {
	case err := <-errc:
		if err != ErrRoomClosed {
			t.Errorf("do() = %v, want ErrRoomClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("do() still waiting after the room closed")
	}
}

func TestReplyKeepsTextVerbatim(t *testing.T) {
	if got := reply(OutcomeOK, "100% loud"); got.Text != "100% loud" {
		t.Errorf("reply() = %q", got.Text)
	}
	if got := replyf(OutcomeOK, MsgVolumeSet, 40); !strings.Contains(got.Text, "40") {
		t.Errorf("replyf() = %q", got.Text)
	}
}
