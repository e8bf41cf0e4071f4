package audio

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/austinkregel/local-media/tandem/internal/player"
	"github.com/austinkregel/local-media/tandem/internal/types"
)

type fakeSink struct {
	mu     sync.Mutex
	paused bool
	stops  int
	volume float64
	bytes  int
}

func (s *fakeSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytes += len(p)
	return len(p), nil
}

func (s *fakeSink) SampleRate() int { return DefaultSampleRate }
func (s *fakeSink) Channels() int   { return 2 }

func (s *fakeSink) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

func (s *fakeSink) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

func (s *fakeSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
}

func (s *fakeSink) SetVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = v
}

func (s *fakeSink) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

func (s *fakeSink) Close() error { return nil }

type fakeDecoder struct {
	mu       sync.Mutex
	block    bool // hold Decode until cancelled
	err      error
	duration time.Duration
	probeErr error
	runs     []DecodeOptions
}

func (d *fakeDecoder) Decode(ctx context.Context, locator string, out Output, opts DecodeOptions) error {
	d.mu.Lock()
	d.runs = append(d.runs, opts)
	block, err := d.block, d.err
	d.mu.Unlock()

	out.Write(make([]byte, 64))
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (d *fakeDecoder) Duration(string) (time.Duration, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duration, d.probeErr
}

func (d *fakeDecoder) Close() error { return nil }

func (d *fakeDecoder) calls() []DecodeOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DecodeOptions(nil), d.runs...)
}

type eventLog struct {
	mu     sync.Mutex
	events []player.Event
}

func (l *eventLog) record(ev player.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) find(kind player.EventKind) (player.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return player.Event{}, false
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

func newTestEngine(t *testing.T, dec *fakeDecoder) (*Engine, *clock.Mock, *eventLog) {
	t.Helper()
	mock := clock.NewMock()
	log := &eventLog{}
	e := NewEngineWith(&fakeSink{volume: 1}, dec, WithClock(mock))
	e.SetEventHandler(log.record)
	t.Cleanup(func() { e.Close() })
	return e, mock, log
}

func track(id string, duration float64) types.Track {
	return types.Track{ID: id, URL: "file:///" + id + ".mp3", Duration: duration}
}

func TestPositionFollowsClock(t *testing.T) {
	dec := &fakeDecoder{block: true}
	e, mock, _ := newTestEngine(t, dec)

	if err := e.Load(track("a", 100), "/a.mp3", 10); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if pos := e.Position(); pos != 10 {
		t.Errorf("Expected position 10 after load, got %v", pos)
	}
	if len(dec.calls()) != 0 {
		t.Errorf("Expected no decode before play, got %v", dec.calls())
	}

	if err := e.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	mock.Add(5 * time.Second)
	if pos := e.Position(); pos != 15 {
		t.Errorf("Expected position 15 while playing, got %v", pos)
	}

	e.Pause()
	mock.Add(5 * time.Second)
	if pos := e.Position(); pos != 15 {
		t.Errorf("Expected position to hold at 15 while paused, got %v", pos)
	}

	e.Play()
	mock.Add(2 * time.Second)
	if pos := e.Position(); pos != 17 {
		t.Errorf("Expected position 17 after resume, got %v", pos)
	}

	waitFor(t, func() bool { return len(dec.calls()) == 1 })
	if got := dec.calls()[0]; got.StartMs != 10000 {
		t.Errorf("Expected decode from 10000ms, got %d", got.StartMs)
	}
}

func TestSetRateRestartsDecode(t *testing.T) {
	dec := &fakeDecoder{block: true}
	e, mock, _ := newTestEngine(t, dec)

	e.Load(track("a", 100), "/a.mp3", 0)
	e.Play()
	mock.Add(10 * time.Second)

	if err := e.SetRate(2); err != nil {
		t.Fatalf("SetRate failed: %v", err)
	}
	waitFor(t, func() bool { return len(dec.calls()) == 2 })
	want := DecodeOptions{StartMs: 10000, Rate: 2}
	if got := dec.calls()[1]; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected restart with %+v, got %+v", want, got)
	}

	mock.Add(5 * time.Second)
	if pos := e.Position(); pos != 20 {
		t.Errorf("Expected position 20 at double speed, got %v", pos)
	}
}

func TestSeekWhilePausedDefersDecode(t *testing.T) {
	dec := &fakeDecoder{block: true}
	e, _, _ := newTestEngine(t, dec)

	e.Load(track("a", 100), "/a.mp3", 0)
	if err := e.Seek(250); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if pos := e.Position(); pos != 100 {
		t.Errorf("Expected seek clamped to 100, got %v", pos)
	}
	e.Seek(30)
	if len(dec.calls()) != 0 {
		t.Errorf("Expected no decode while paused, got %v", dec.calls())
	}

	e.Play()
	waitFor(t, func() bool { return len(dec.calls()) == 1 })
	if got := dec.calls()[0].StartMs; got != 30000 {
		t.Errorf("Expected decode from 30000ms, got %d", got)
	}
}

func TestTrackEndEmitsEnded(t *testing.T) {
	dec := &fakeDecoder{}
	e, mock, log := newTestEngine(t, dec)

	e.Load(track("a", 1), "/a.mp3", 0)
	e.Play()

	waitFor(t, func() bool {
		mock.Add(100 * time.Millisecond)
		_, ok := log.find(player.EventEnded)
		return ok
	})

	ev, _ := log.find(player.EventEnded)
	if ev.Position != 1 {
		t.Errorf("Expected ended at 1, got %v", ev.Position)
	}
	if _, ok := log.find(player.EventProgress); !ok {
		t.Error("Expected progress events while playing")
	}
}

func TestDecodeFailureEmitsError(t *testing.T) {
	boom := errors.New("boom")
	dec := &fakeDecoder{err: boom}
	e, _, log := newTestEngine(t, dec)

	e.Load(track("a", 100), "/a.mp3", 0)
	e.Play()

	waitFor(t, func() bool {
		_, ok := log.find(player.EventError)
		return ok
	})
	ev, _ := log.find(player.EventError)
	if !errors.Is(ev.Err, boom) {
		t.Errorf("Expected boom, got %v", ev.Err)
	}
}

func TestLoadProbesUnknownDuration(t *testing.T) {
	dec := &fakeDecoder{duration: 90 * time.Second}
	e, _, _ := newTestEngine(t, dec)

	if err := e.Load(track("a", 0), "/a.mp3", 12); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if d := e.Duration(); d != 90 {
		t.Errorf("Expected probed duration 90, got %v", d)
	}

	dec.mu.Lock()
	dec.probeErr = errors.New("no such file")
	dec.mu.Unlock()

	if err := e.Load(track("b", 0), "/b.mp3", 0); err == nil {
		t.Error("Expected probe failure")
	}
	if d, pos := e.Duration(), e.Position(); d != 90 || pos != 12 {
		t.Errorf("Expected prior track kept (90, 12), got (%v, %v)", d, pos)
	}
}

func TestPlayRequiresTrack(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeDecoder{})

	if err := e.Play(); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Expected ErrNotLoaded, got %v", err)
	}
	if err := e.Load(track("a", 10), "", 0); !errors.Is(err, ErrEmptyLocator) {
		t.Errorf("Expected ErrEmptyLocator, got %v", err)
	}

	e.Load(track("a", 10), "/a.mp3", 0)
	e.Stop()
	if err := e.Seek(1); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Expected ErrNotLoaded after stop, got %v", err)
	}
}

func TestEngineVolume(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeDecoder{})

	if err := e.SetVolume(1.5); !errors.Is(err, ErrInvalidVolume) {
		t.Errorf("Expected ErrInvalidVolume, got %v", err)
	}
	if err := e.SetVolume(0.4); err != nil {
		t.Fatalf("SetVolume failed: %v", err)
	}
	if v := e.Volume(); v != 0.4 {
		t.Errorf("Expected volume 0.4, got %v", v)
	}
}

func TestAtempoFilter(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, ""},
		{1.5, "atempo=1.5"},
		{3, "atempo=2.0,atempo=1.5"},
		{0.5, "atempo=0.5"},
	}
	for _, tt := range tests {
		if got := atempoFilter(tt.rate); got != tt.want {
			t.Errorf("atempoFilter(%v): expected %q, got %q", tt.rate, tt.want, got)
		}
	}
}

func TestDecodeArgs(t *testing.T) {
	out := &fakeSink{}

	args := decodeArgs("https://media.example/a.mp3", out, DecodeOptions{StartMs: 1500, Rate: 1.25})
	want := []string{
		"-nostdin", "-v", "error",
		"-reconnect", "1", "-reconnect_streamed", "1",
		"-ss", "1.500",
		"-i", "https://media.example/a.mp3",
		"-filter:a", "atempo=1.25",
		"-f", "s16le", "-acodec", "pcm_s16le", "-ac", "2", "-ar", "44100", "-",
	}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("Expected %v, got %v", want, args)
	}

	args = decodeArgs("/music/a.flac", out, DecodeOptions{Rate: 1})
	for _, a := range args {
		if a == "-ss" || a == "-reconnect" || a == "-filter:a" {
			t.Errorf("Unexpected %s for a local file at 0", a)
		}
	}
}
