package player

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/austinkregel/local-media/tandem/internal/store"
	"github.com/austinkregel/local-media/tandem/internal/types"
)

type fakeTransport struct {
	mu       sync.Mutex
	loads    []string
	starts   []float64
	seeks    []float64
	playing  bool
	position float64
	rate     float64
	stops    int
	failIDs  map[string]bool
	handler  func(Event)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{rate: 1, failIDs: make(map[string]bool)}
}

func (f *fakeTransport) Load(track types.Track, locator string, startAt float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIDs[track.ID] {
		return errors.New("decode failed")
	}
	f.loads = append(f.loads, track.ID)
	f.starts = append(f.starts, startAt)
	f.position = startAt
	f.playing = false
	return nil
}

func (f *fakeTransport) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = true
	return nil
}

func (f *fakeTransport) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing = false
	return nil
}

func (f *fakeTransport) Seek(position float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, position)
	f.position = position
	return nil
}

func (f *fakeTransport) SetRate(rate float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rate = rate
	return nil
}

func (f *fakeTransport) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.playing = false
	return nil
}

func (f *fakeTransport) Position() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

func (f *fakeTransport) SetEventHandler(handler func(Event)) {
	f.handler = handler
}

// advance simulates playback reaching position and reports progress
func (f *fakeTransport) advance(position, duration float64) {
	f.mu.Lock()
	f.position = position
	f.mu.Unlock()
	f.handler(Event{Kind: EventProgress, Position: position, Duration: duration})
}

// end simulates the transport reaching end of track. Like the audio engine
// it pauses itself before reporting.
func (f *fakeTransport) end() {
	f.mu.Lock()
	f.playing = false
	f.mu.Unlock()
	f.handler(Event{Kind: EventEnded})
}

func (f *fakeTransport) isPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *fakeTransport) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loads)
}

func (f *fakeTransport) seeksTo(position float64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.seeks {
		if s == position {
			n++
		}
	}
	return n
}

func music(ids ...string) []types.Track {
	out := make([]types.Track, len(ids))
	for i, id := range ids {
		out[i] = types.Track{ID: id, Title: "Track " + id, URL: "https://media.example/" + id, Duration: 200, Mode: types.ModeMusic}
	}
	return out
}

func audiobook(id string, duration float64) types.Track {
	return types.Track{ID: id, Title: "Chapter " + id, URL: "https://media.example/" + id, Duration: duration, Mode: types.ModeAudiobook}
}

func newTestMachine(t *testing.T, opts ...Option) (*Machine, *fakeTransport, store.Store) {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	ft := newFakeTransport()
	opts = append([]Option{WithClock(clock.NewMock()), WithRand(rand.New(rand.NewSource(1)))}, opts...)
	return New(ft, st, opts...), ft, st
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before deadline")
}

func TestNewMachineIsIdle(t *testing.T) {
	m, _, _ := newTestMachine(t)

	if m.Status() != StatusIdle {
		t.Errorf("Expected idle, got %s", m.Status())
	}
	if m.Current() != nil {
		t.Error("Expected no current track")
	}
	if m.Mode() != types.ModeMusic {
		t.Errorf("Expected MUSIC mode, got %s", m.Mode())
	}
}

func TestPlayTrackStartOffset(t *testing.T) {
	m, ft, _ := newTestMachine(t)
	m.SetSkipIntro(15)

	m.PlayTrack(music("a")[0])
	m.PlayTrack(audiobook("b", 600))
	m.PlayTrack(audiobook("c", 600), StartAt(30))

	want := []float64{0, 15, 30}
	for i, w := range want {
		if ft.starts[i] != w {
			t.Errorf("Load %d: expected start %v, got %v", i, w, ft.starts[i])
		}
	}
	if m.Position() != 30 {
		t.Errorf("Expected position 30, got %v", m.Position())
	}
}

func TestPlayTrackOutsideQueueReplacesQueue(t *testing.T) {
	m, _, _ := newTestMachine(t)
	m.PlayTrackList(music("a", "b"), 0)

	m.PlayTrack(music("z")[0])

	items, idx := m.Queue()
	if len(items) != 1 || items[0].ID != "z" || idx != 0 {
		t.Errorf("Expected singleton queue [z] at 0, got %v at %d", items, idx)
	}
}

func TestPlayTrackInQueueKeepsQueue(t *testing.T) {
	m, _, _ := newTestMachine(t)
	tracks := music("a", "b", "c")
	m.PlayTrackList(tracks, 0)

	m.PlayTrack(tracks[2])

	items, idx := m.Queue()
	if len(items) != 3 || idx != 2 {
		t.Errorf("Expected queue of 3 at index 2, got %d at %d", len(items), idx)
	}
}

func TestPlayTrackListNoop(t *testing.T) {
	m, ft, _ := newTestMachine(t)

	if err := m.PlayTrackList(nil, 0); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	m.PlayTrackList(music("a", "b"), 2)
	m.PlayTrackList(music("a", "b"), -1)

	if ft.loadCount() != 0 {
		t.Errorf("Expected no loads, got %d", ft.loadCount())
	}
	if m.Status() != StatusIdle {
		t.Errorf("Expected idle, got %s", m.Status())
	}
}

func TestNextNeverIdlesWithLoopingPolicies(t *testing.T) {
	for _, policy := range []types.Policy{types.PolicyLoopList, types.PolicyShuffle, types.PolicyLoopSingle} {
		t.Run(string(policy), func(t *testing.T) {
			m, _, _ := newTestMachine(t)
			m.PlayTrackList(music("a", "b", "c"), 0)
			m.SetPolicy(policy)

			for i := 0; i < 25; i++ {
				if err := m.Next(); err != nil {
					t.Fatalf("Next failed: %v", err)
				}
				if m.Status() == StatusIdle {
					t.Fatalf("Machine went idle after %d next calls", i+1)
				}
			}
		})
	}
}

func TestLoopSinglePreservesTrack(t *testing.T) {
	m, ft, _ := newTestMachine(t)
	m.PlayTrackList(music("a", "b", "c"), 1)
	m.SetPolicy(types.PolicyLoopSingle)
	ft.advance(120, 200)

	m.Next()

	if cur := m.Current(); cur == nil || cur.ID != "b" {
		t.Errorf("Expected current b, got %v", cur)
	}
	if m.Position() != 0 {
		t.Errorf("Expected position 0, got %v", m.Position())
	}
	if m.Status() != StatusPlaying {
		t.Errorf("Expected playing, got %s", m.Status())
	}
}

func TestSequenceStopsAtEnd(t *testing.T) {
	m, _, _ := newTestMachine(t)
	m.PlayTrackList(music("a", "b"), 1)

	m.Next()

	if m.Status() != StatusIdle {
		t.Errorf("Expected idle at end of sequence, got %s", m.Status())
	}
	items, _ := m.Queue()
	if len(items) != 2 {
		t.Errorf("Expected queue to be kept, got %d items", len(items))
	}
}

func TestSingleOnceStops(t *testing.T) {
	m, _, _ := newTestMachine(t)
	m.PlayTrackList(music("a", "b"), 0)
	m.SetPolicy(types.PolicySingleOnce)

	m.Next()

	if m.Status() != StatusIdle {
		t.Errorf("Expected idle after SINGLE_ONCE, got %s", m.Status())
	}
}

func TestPreviousWraps(t *testing.T) {
	m, _, _ := newTestMachine(t)
	m.PlayTrackList(music("a", "b", "c"), 0)
	m.SetPolicy(types.PolicySingleOnce)

	m.Previous()

	if cur := m.Current(); cur == nil || cur.ID != "c" {
		t.Errorf("Expected previous to wrap to c, got %v", cur)
	}

	m.Previous()
	if cur := m.Current(); cur == nil || cur.ID != "b" {
		t.Errorf("Expected b, got %v", cur)
	}
}

func TestFailedPlayKeepsPriorState(t *testing.T) {
	m, ft, _ := newTestMachine(t)
	m.PlayTrackList(music("a", "b"), 0)
	ft.failIDs["bad"] = true

	err := m.PlayTrack(types.Track{ID: "bad", URL: "https://media.example/bad"})
	if err == nil {
		t.Fatal("Expected error for failed load")
	}

	if m.Status() != StatusPlaying {
		t.Errorf("Expected to stay playing, got %s", m.Status())
	}
	if cur := m.Current(); cur == nil || cur.ID != "a" {
		t.Errorf("Expected current a, got %v", cur)
	}
	items, idx := m.Queue()
	if len(items) != 2 || idx != 0 {
		t.Errorf("Expected original queue at 0, got %d items at %d", len(items), idx)
	}
}

func TestFailedPlayFromIdleStaysIdle(t *testing.T) {
	m, ft, _ := newTestMachine(t)
	ft.failIDs["bad"] = true

	m.PlayTrackList([]types.Track{{ID: "bad"}}, 0)

	if m.Status() != StatusIdle {
		t.Errorf("Expected idle, got %s", m.Status())
	}
	if items, _ := m.Queue(); len(items) != 0 {
		t.Errorf("Expected empty queue, got %v", items)
	}
}

func TestOutroSkipFiresOncePerTrack(t *testing.T) {
	m, ft, _ := newTestMachine(t)
	m.SetSkipOutro(5)
	m.PlayTrackList([]types.Track{audiobook("x", 100), audiobook("y", 100)}, 0)
	m.SetPolicy(types.PolicyLoopSingle)

	ft.advance(94, 100)
	ft.advance(96, 100)
	ft.advance(98, 100)

	if n := ft.seeksTo(0); n != 1 {
		t.Errorf("Expected exactly one outro skip, got %d", n)
	}
}

func TestOutroSkipAdvancesAndResetsLatch(t *testing.T) {
	m, ft, _ := newTestMachine(t)
	m.SetSkipOutro(5)
	m.PlayTrackList([]types.Track{audiobook("x", 100), audiobook("y", 100)}, 0)

	ft.advance(96, 100)
	if cur := m.Current(); cur == nil || cur.ID != "y" {
		t.Fatalf("Expected outro skip to advance to y, got %v", cur)
	}

	// Latch is per track: y skips its own outro
	ft.advance(97, 100)
	if m.Status() != StatusIdle {
		t.Errorf("Expected y outro skip to end the sequence, got %s", m.Status())
	}
}

func TestOutroSkipIgnoresLoadTimePosition(t *testing.T) {
	m, ft, _ := newTestMachine(t)
	m.SetSkipOutro(5)
	// Duration shorter than the outro window
	m.PlayTrackList([]types.Track{audiobook("x", 4), audiobook("y", 4)}, 0)

	ft.advance(0, 4)

	if cur := m.Current(); cur == nil || cur.ID != "x" {
		t.Errorf("Expected no skip at position 0, got %v", cur)
	}
}

func TestOutroSkipOnlyForAudiobooks(t *testing.T) {
	m, ft, _ := newTestMachine(t)
	m.SetSkipOutro(5)
	m.PlayTrackList(music("a", "b"), 0)

	ft.advance(198, 200)

	if cur := m.Current(); cur == nil || cur.ID != "a" {
		t.Errorf("Expected music track to play through, got %v", cur)
	}
}

func TestEndedAdvances(t *testing.T) {
	m, ft, _ := newTestMachine(t)
	m.PlayTrackList(music("a", "b"), 0)

	ft.handler(Event{Kind: EventEnded})

	if cur := m.Current(); cur == nil || cur.ID != "b" {
		t.Errorf("Expected b after end of a, got %v", cur)
	}
}

func TestEndOfTrackByPolicy(t *testing.T) {
	tests := []struct {
		name        string
		policy      types.Policy
		start       int
		wantStatus  Status
		wantTrack   string
		wantPlaying bool
	}{
		{"sequence advances", types.PolicySequence, 0, StatusPlaying, "b", true},
		{"sequence stops at end", types.PolicySequence, 2, StatusIdle, "", false},
		{"loop list wraps", types.PolicyLoopList, 2, StatusPlaying, "a", true},
		{"shuffle keeps playing", types.PolicyShuffle, 0, StatusPlaying, "", true},
		{"loop single replays", types.PolicyLoopSingle, 1, StatusPlaying, "b", true},
		{"single once stops", types.PolicySingleOnce, 0, StatusIdle, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ft, _ := newTestMachine(t)
			m.PlayTrackList(music("a", "b", "c"), tt.start)
			m.SetPolicy(tt.policy)
			ft.advance(200, 200)

			ft.end()

			if m.Status() != tt.wantStatus {
				t.Errorf("Expected status %s, got %s", tt.wantStatus, m.Status())
			}
			if ft.isPlaying() != tt.wantPlaying {
				t.Errorf("Expected transport playing=%v, got %v", tt.wantPlaying, ft.isPlaying())
			}
			if tt.wantTrack != "" {
				if cur := m.Current(); cur == nil || cur.ID != tt.wantTrack {
					t.Errorf("Expected current %s, got %v", tt.wantTrack, cur)
				}
			}
		})
	}
}

func TestLoopSingleReplaysAfterTransportPauses(t *testing.T) {
	m, ft, _ := newTestMachine(t)
	m.PlayTrackList(music("a"), 0)
	m.SetPolicy(types.PolicyLoopSingle)

	for i := 1; i <= 3; i++ {
		ft.advance(200, 200)
		ft.end()

		if !ft.isPlaying() {
			t.Fatalf("Expected transport playing after replay %d", i)
		}
		if n := ft.seeksTo(0); n != i {
			t.Errorf("Expected %d restarts, got %d", i, n)
		}
	}
	if m.Position() != 0 {
		t.Errorf("Expected position 0, got %v", m.Position())
	}
	if ft.loadCount() != 1 {
		t.Errorf("Expected a single load, got %d", ft.loadCount())
	}
}

func TestErrorEventPauses(t *testing.T) {
	m, ft, _ := newTestMachine(t)
	m.PlayTrackList(music("a"), 0)

	ft.handler(Event{Kind: EventError, Err: errors.New("device lost")})

	if m.Status() != StatusPaused {
		t.Errorf("Expected paused after playback error, got %s", m.Status())
	}
}

func TestSleepTimerPausesWhilePlaying(t *testing.T) {
	mock := clock.NewMock()
	m, _, _ := newTestMachine(t, WithClock(mock))
	m.PlayTrackList(music("a"), 0)

	m.SetSleepTimer(1)

	mock.Add(59 * time.Second)
	m.checkSleep()
	if m.Status() != StatusPlaying {
		t.Errorf("Expected still playing before expiry, got %s", m.Status())
	}

	mock.Add(2 * time.Second)
	m.checkSleep()
	if m.Status() != StatusPaused {
		t.Errorf("Expected paused after expiry, got %s", m.Status())
	}
	if m.SleepRemaining() != 0 {
		t.Errorf("Expected timer cleared, got %v", m.SleepRemaining())
	}
}

func TestSleepTimerClearedWhenPaused(t *testing.T) {
	mock := clock.NewMock()
	m, _, _ := newTestMachine(t, WithClock(mock))
	m.PlayTrackList(music("a"), 0)
	m.Pause()

	m.SetSleepTimer(1)
	mock.Add(2 * time.Minute)
	m.checkSleep()

	m.Resume()
	mock.Add(time.Minute)
	m.checkSleep()

	if m.Status() != StatusPlaying {
		t.Errorf("Expected expired timer not to re-trigger, got %s", m.Status())
	}
}

func TestModeSwitchRoundTrip(t *testing.T) {
	m, ft, _ := newTestMachine(t)
	queue := music("t", "u", "v")
	m.PlayTrackList(queue, 1)
	ft.advance(42, 200)

	if err := m.SwitchMode(types.ModeAudiobook); err != nil {
		t.Fatalf("SwitchMode failed: %v", err)
	}
	if m.Status() != StatusIdle {
		t.Errorf("Expected idle in unsaved mode, got %s", m.Status())
	}

	// Audiobook mode gets its own state
	m.PlayTrack(audiobook("book", 3600), StartAt(100))

	if err := m.SwitchMode(types.ModeMusic); err != nil {
		t.Fatalf("SwitchMode failed: %v", err)
	}

	snap := m.Snapshot()
	if snap.CurrentTrack == nil || snap.CurrentTrack.ID != "u" {
		t.Errorf("Expected current track u, got %v", snap.CurrentTrack)
	}
	if snap.Position != 42 {
		t.Errorf("Expected position 42, got %v", snap.Position)
	}
	if len(snap.Queue) != 3 || snap.Queue[0].ID != "t" || snap.Queue[2].ID != "v" {
		t.Errorf("Expected queue [t u v], got %v", snap.Queue)
	}
	if m.Status() != StatusPaused {
		t.Errorf("Expected restored state to be paused, got %s", m.Status())
	}

	m.SwitchMode(types.ModeAudiobook)
	if cur := m.Current(); cur == nil || cur.ID != "book" || m.Position() != 100 {
		t.Errorf("Expected book at 100, got %v at %v", cur, m.Position())
	}
}

func TestSwitchModeRejectsUnknownMode(t *testing.T) {
	m, _, _ := newTestMachine(t)
	if err := m.SwitchMode("PODCAST"); err == nil {
		t.Error("Expected error for unknown mode")
	}
}

func TestRestoreFromStore(t *testing.T) {
	m, ft, st := newTestMachine(t)
	m.SetSkipIntro(10)
	m.SwitchMode(types.ModeAudiobook)
	m.PlayTrackList([]types.Track{audiobook("x", 600), audiobook("y", 600)}, 1)
	ft.advance(250, 600)
	m.SetRate(1.5)
	m.Pause()

	restored := New(newFakeTransport(), st, WithClock(clock.NewMock()))
	if err := restored.Restore(); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	if restored.Mode() != types.ModeAudiobook {
		t.Errorf("Expected AUDIOBOOK mode, got %s", restored.Mode())
	}
	if cur := restored.Current(); cur == nil || cur.ID != "y" {
		t.Errorf("Expected current y, got %v", cur)
	}
	if restored.Position() != 250 {
		t.Errorf("Expected position 250, got %v", restored.Position())
	}
	if restored.Rate() != 1.5 {
		t.Errorf("Expected rate 1.5, got %v", restored.Rate())
	}
	if restored.Status() != StatusPaused {
		t.Errorf("Expected paused, got %s", restored.Status())
	}
	if intro, _ := restored.SkipDurations(); intro != 10 {
		t.Errorf("Expected skip intro 10, got %v", intro)
	}
}

func TestAutosaveWhilePlaying(t *testing.T) {
	mock := clock.NewMock()
	m, ft, st := newTestMachine(t, WithClock(mock))
	m.PlayTrackList(music("a"), 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	ft.advance(77, 200)

	waitFor(t, func() bool {
		mock.Add(10 * time.Second)
		var snap types.Snapshot
		ok, _ := st.Load(store.PlaybackKey(types.ModeMusic), &snap)
		return ok && snap.Position == 77
	})
}

func TestLoadTrackKeepsPlayState(t *testing.T) {
	m, ft, _ := newTestMachine(t)
	tracks := music("a", "b")
	m.PlayTrackList(tracks, 0)
	m.Pause()

	m.LoadTrack(tracks[1])

	if cur := m.Current(); cur == nil || cur.ID != "b" {
		t.Errorf("Expected b, got %v", cur)
	}
	if m.Status() != StatusPaused {
		t.Errorf("Expected to stay paused, got %s", m.Status())
	}

	loads := ft.loadCount()
	m.LoadTrack(tracks[1])
	if ft.loadCount() != loads {
		t.Error("Expected LoadTrack of the current track to be a no-op")
	}
}

func TestLoadTrackKeepsPosition(t *testing.T) {
	m, ft, _ := newTestMachine(t)
	tracks := music("a", "b")
	m.PlayTrackList(tracks, 0)
	ft.advance(75, 200)

	m.LoadTrack(tracks[1])

	if got := ft.starts[len(ft.starts)-1]; got != 75 {
		t.Errorf("Expected b to load at 75, got %v", got)
	}
	if m.Position() != 75 {
		t.Errorf("Expected position 75, got %v", m.Position())
	}

	short := types.Track{ID: "short", URL: "https://media.example/short", Duration: 60, Mode: types.ModeMusic}
	m.LoadTrack(short)
	if got := ft.starts[len(ft.starts)-1]; got != 0 {
		t.Errorf("Expected a position past the end to start at 0, got %v", got)
	}
}

func TestSetRateValidation(t *testing.T) {
	m, ft, _ := newTestMachine(t)
	m.PlayTrackList(music("a"), 0)

	if err := m.SetRate(0.25); !errors.Is(err, ErrInvalidRate) {
		t.Errorf("Expected ErrInvalidRate, got %v", err)
	}
	if err := m.SetRate(2); err != nil {
		t.Fatalf("SetRate failed: %v", err)
	}
	if ft.rate != 2 {
		t.Errorf("Expected transport rate 2, got %v", ft.rate)
	}
}

func TestSeekClampsAndRequiresTrack(t *testing.T) {
	m, _, _ := newTestMachine(t)

	if err := m.Seek(10); !errors.Is(err, ErrNoTrack) {
		t.Errorf("Expected ErrNoTrack, got %v", err)
	}

	m.PlayTrackList(music("a"), 0)
	m.Seek(500)
	if m.Position() != 200 {
		t.Errorf("Expected seek clamped to 200, got %v", m.Position())
	}
}

type countingObserver struct {
	NopObserver
	mu     sync.Mutex
	seeks  []float64
	tracks []string
	queues int
}

func (o *countingObserver) Seeked(pos float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seeks = append(o.seeks, pos)
}

func (o *countingObserver) TrackChanged(t *types.Track) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t != nil {
		o.tracks = append(o.tracks, t.ID)
	}
}

func (o *countingObserver) QueueChanged([]types.Track) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queues++
}

func TestObserversNotified(t *testing.T) {
	m, _, _ := newTestMachine(t)
	obs := &countingObserver{}
	m.Subscribe(obs)

	m.PlayTrackList(music("a", "b"), 0)
	m.Seek(12)
	m.Next()
	m.Append(music("c"))

	if len(obs.tracks) != 2 || obs.tracks[1] != "b" {
		t.Errorf("Expected track changes [a b], got %v", obs.tracks)
	}
	if len(obs.seeks) != 1 || obs.seeks[0] != 12 {
		t.Errorf("Expected one seek to 12, got %v", obs.seeks)
	}
	if obs.queues != 2 {
		t.Errorf("Expected 2 queue changes, got %d", obs.queues)
	}
}

type reportRecorder struct {
	mu      sync.Mutex
	reports []string
}

func (r *reportRecorder) Report(track types.Track, position float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, track.ID)
}

func TestHistoryReportedOnTransitions(t *testing.T) {
	rec := &reportRecorder{}
	m, _, _ := newTestMachine(t, WithReporter(rec))

	m.PlayTrackList(music("a", "b"), 0)
	m.Next()
	m.Pause()

	if len(rec.reports) != 2 || rec.reports[0] != "a" || rec.reports[1] != "b" {
		t.Errorf("Expected reports [a b], got %v", rec.reports)
	}
}
