// Package audio plays resolved tracks through FFmpeg and Oto.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/austinkregel/local-media/tandem/internal/player"
	"github.com/austinkregel/local-media/tandem/internal/types"
)

const (
	defaultProgressInterval = 250 * time.Millisecond
	// drainSlack covers audio still queued in the output after the last sample is computed
	drainSlack  = 500 * time.Millisecond
	eventBuffer = 64
)

var (
	// ErrNotLoaded is returned when playing with nothing loaded
	ErrNotLoaded = errors.New("no track loaded")
	// ErrInvalidVolume is returned for volumes outside [0, 1]
	ErrInvalidVolume = errors.New("invalid volume")
	// ErrEmptyLocator is returned when a track resolves to nothing playable
	ErrEmptyLocator = errors.New("empty media locator")
)

// Decoder turns a locator into PCM written to an Output
type Decoder interface {
	Decode(ctx context.Context, locator string, out Output, opts DecodeOptions) error
	Duration(locator string) (time.Duration, error)
	Close() error
}

type state int

const (
	stateStopped state = iota
	statePaused
	statePlaying
)

// decodeRun is one decoder pass from a fixed offset at a fixed rate
type decodeRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine implements player.Transport
type Engine struct {
	sink     Sink
	decoder  Decoder
	clock    clock.Clock
	log      *zap.Logger
	interval time.Duration

	// opMu serializes operations. mu guards the fields below and is never
	// held while waiting for a decode run to exit.
	opMu sync.Mutex
	mu   sync.Mutex

	state    state
	track    types.Track
	locator  string
	duration float64

	offset    float64       // position the current run started at
	elapsed   time.Duration // wall time played by the current run before startedAt
	startedAt time.Time
	rate      float64
	run       *decodeRun

	handler func(player.Event)
	events  chan player.Event
	quit    chan struct{}
	closed  sync.Once
}

// Option configures an Engine
type Option func(*Engine)

// WithClock sets the clock used for position and end-of-track timing
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log.Named("audio") }
}

// WithProgressInterval sets how often progress events are delivered while playing
func WithProgressInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// NewEngine creates an engine decoding with FFmpeg into an Oto output
func NewEngine(sampleRate int, opts ...Option) (*Engine, error) {
	dec, err := NewFFmpegDecoder()
	if err != nil {
		return nil, err
	}
	out, err := NewOtoOutput(sampleRate)
	if err != nil {
		return nil, err
	}
	return NewEngineWith(out, dec, opts...), nil
}

// NewEngineWith creates an engine on the given sink and decoder
func NewEngineWith(sink Sink, dec Decoder, opts ...Option) *Engine {
	e := &Engine{
		sink:     sink,
		decoder:  dec,
		clock:    clock.New(),
		log:      zap.NewNop(),
		interval: defaultProgressInterval,
		rate:     1,
		events:   make(chan player.Event, eventBuffer),
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.eventLoop()
	go e.progressLoop()
	return e
}

// SetEventHandler implements player.Transport
func (e *Engine) SetEventHandler(handler func(player.Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

func (e *Engine) eventLoop() {
	for {
		select {
		case <-e.quit:
			return
		case ev := <-e.events:
			e.mu.Lock()
			h := e.handler
			e.mu.Unlock()
			if h != nil {
				h(ev)
			}
		}
	}
}

func (e *Engine) progressLoop() {
	ticker := e.clock.Ticker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.quit:
			return
		case <-ticker.C:
			e.mu.Lock()
			if e.state != statePlaying {
				e.mu.Unlock()
				continue
			}
			ev := player.Event{Kind: player.EventProgress, Playing: true, Position: e.positionLocked(), Duration: e.duration}
			e.mu.Unlock()
			select {
			case e.events <- ev:
			default:
			}
		}
	}
}

// emit delivers ev unless the engine is closing
func (e *Engine) emit(ev player.Event) {
	select {
	case e.events <- ev:
	case <-e.quit:
	}
}

func (e *Engine) positionLocked() float64 {
	played := e.elapsed
	if e.state == statePlaying {
		played += e.clock.Since(e.startedAt)
	}
	pos := e.offset + played.Seconds()*e.rate
	if e.duration > 0 && pos > e.duration {
		pos = e.duration
	}
	return pos
}

// Position implements player.Transport
func (e *Engine) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionLocked()
}

// Duration returns the loaded track's duration in seconds
func (e *Engine) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

// halt ends the current decode run and flushes the sink. Call with opMu held
// and mu released.
func (e *Engine) halt() {
	e.mu.Lock()
	run := e.run
	e.run = nil
	e.mu.Unlock()

	if run != nil {
		run.cancel()
		e.sink.Stop() // unblocks a Write waiting on a full buffer
		<-run.done
	}
	e.sink.Stop()
}

// startLocked begins a decode run from the current offset. Call with mu held.
func (e *Engine) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	run := &decodeRun{cancel: cancel, done: make(chan struct{})}
	e.run = run
	e.elapsed = 0
	e.startedAt = e.clock.Now()
	e.sink.Resume()

	opts := DecodeOptions{StartMs: int64(e.offset * 1000), Rate: e.rate}
	go e.decode(ctx, run, e.locator, opts)
}

func (e *Engine) decode(ctx context.Context, run *decodeRun, locator string, opts DecodeOptions) {
	defer close(run.done)

	err := e.decoder.Decode(ctx, locator, e.sink, opts)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		e.finish(run, err)
		return
	}

	// The decoder runs ahead of the speaker; wait out what is still queued
	for {
		wait, ok := e.remaining(run)
		if !ok {
			return
		}
		if wait <= 0 {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-e.clock.After(wait):
		}
	}
	select {
	case <-ctx.Done():
		return
	case <-e.clock.After(drainSlack):
	}
	e.finish(run, nil)
}

// remaining returns the wall time left in run, or false if run was superseded
func (e *Engine) remaining(run *decodeRun) (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run != run {
		return 0, false
	}
	if e.state != statePlaying {
		return e.interval, true
	}
	if e.duration <= 0 {
		return 0, true
	}
	left := (e.duration - e.positionLocked()) / e.rate
	return time.Duration(left * float64(time.Second)), true
}

func (e *Engine) finish(run *decodeRun, err error) {
	e.mu.Lock()
	if e.run != run {
		e.mu.Unlock()
		return
	}
	e.run = nil
	ev := player.Event{Duration: e.duration}
	if err != nil {
		e.offset = e.positionLocked()
		ev.Kind = player.EventError
		ev.Err = err
	} else {
		e.offset = e.duration
		ev.Kind = player.EventEnded
	}
	e.elapsed = 0
	e.state = statePaused
	ev.Position = e.offset
	trackID := e.track.ID
	e.mu.Unlock()

	if err != nil {
		e.log.Error("playback failed", zap.String("track", trackID), zap.Error(err))
	} else {
		e.log.Debug("track ended", zap.String("track", trackID))
	}
	e.emit(ev)
}

// Load implements player.Transport
func (e *Engine) Load(track types.Track, locator string, startAt float64) error {
	if locator == "" {
		return fmt.Errorf("load %s: %w", track.ID, ErrEmptyLocator)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	duration := track.Duration
	if duration <= 0 {
		d, err := e.decoder.Duration(locator)
		if err != nil {
			return fmt.Errorf("load %s: %w", track.ID, err)
		}
		duration = d.Seconds()
	}

	e.halt()

	if startAt < 0 {
		startAt = 0
	}
	if duration > 0 && startAt > duration {
		startAt = duration
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.track = track
	e.locator = locator
	e.duration = duration
	e.offset = startAt
	e.elapsed = 0
	e.state = statePaused
	e.sink.Pause()

	e.log.Debug("track loaded",
		zap.String("track", track.ID),
		zap.Float64("duration", duration),
		zap.Float64("startAt", startAt))
	return nil
}

// Play implements player.Transport
func (e *Engine) Play() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case stateStopped:
		return ErrNotLoaded
	case statePlaying:
		return nil
	}

	e.state = statePlaying
	if e.run != nil {
		e.startedAt = e.clock.Now()
		e.sink.Resume()
		return nil
	}
	e.startLocked()
	return nil
}

// Pause implements player.Transport
func (e *Engine) Pause() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != statePlaying {
		return nil
	}
	e.elapsed += e.clock.Since(e.startedAt)
	e.state = statePaused
	e.sink.Pause()
	return nil
}

// Seek implements player.Transport
func (e *Engine) Seek(position float64) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if e.state == stateStopped {
		e.mu.Unlock()
		return ErrNotLoaded
	}
	e.mu.Unlock()

	e.halt()

	e.mu.Lock()
	defer e.mu.Unlock()
	if position < 0 {
		position = 0
	}
	if e.duration > 0 && position > e.duration {
		position = e.duration
	}
	e.offset = position
	e.elapsed = 0
	if e.state == statePlaying {
		e.startLocked()
	}
	return nil
}

// SetRate implements player.Transport. The current run restarts with the
// new tempo from the current position.
func (e *Engine) SetRate(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("invalid rate %v", rate)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if rate == e.rate {
		e.mu.Unlock()
		return nil
	}
	pos := e.positionLocked()
	restart := e.run != nil
	e.mu.Unlock()

	if restart {
		e.halt()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.offset = pos
	e.elapsed = 0
	e.rate = rate
	if e.state == statePlaying {
		e.startLocked()
	}
	return nil
}

// Stop implements player.Transport
func (e *Engine) Stop() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.halt()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = stateStopped
	e.track = types.Track{}
	e.locator = ""
	e.duration = 0
	e.offset = 0
	e.elapsed = 0
	return nil
}

// SetVolume sets the output volume in [0, 1]
func (e *Engine) SetVolume(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidVolume, v)
	}
	e.sink.SetVolume(v)
	return nil
}

// Volume returns the output volume
func (e *Engine) Volume() float64 {
	return e.sink.Volume()
}

// Close stops playback and releases the output and decoder
func (e *Engine) Close() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	var err error
	e.closed.Do(func() {
		e.halt()
		close(e.quit)
		err = errors.Join(e.sink.Close(), e.decoder.Close())
	})
	return err
}

var _ player.Transport = (*Engine)(nil)
