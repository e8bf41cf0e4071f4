// Package player implements the local playback state machine: the current
// track, the queue and its advancement policy, per-mode persistence and the
// sleep timer and intro/outro skipping.
package player

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/austinkregel/local-media/tandem/internal/queue"
	"github.com/austinkregel/local-media/tandem/internal/store"
	"github.com/austinkregel/local-media/tandem/internal/types"
)

// Status is the machine's playback status
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusPlaying Status = "playing"
	StatusPaused  Status = "paused"
)

// Rate limits
const (
	MinRate = 0.5
	MaxRate = 3.0
)

var (
	// ErrNoTrack is returned by operations that need a loaded track
	ErrNoTrack = errors.New("no track loaded")
	// ErrInvalidRate is returned for playback rates outside [MinRate, MaxRate]
	ErrInvalidRate = errors.New("invalid playback rate")
	// ErrInvalidDuration is returned for negative skip durations
	ErrInvalidDuration = errors.New("invalid duration")
)

// Machine is the authoritative local playback state
type Machine struct {
	mu        sync.Mutex
	transport Transport
	queue     *queue.Manager
	store     store.Store
	clock     clock.Clock
	log       *zap.Logger
	reporter  Reporter
	resolver  Resolver
	observers []Observer

	mode     types.ListeningMode
	status   Status
	current  *types.Track
	position float64
	duration float64
	rate     float64

	skipIntro    float64
	skipOutro    float64
	outroFired   bool
	outroEpsilon float64

	sleepAt time.Time

	defaultRate   float64
	autosaveEvery time.Duration
	sleepEvery    time.Duration
	historyEvery  time.Duration
	lastSaved     time.Time
}

// Option configures a Machine
type Option func(*Machine)

// WithClock sets the clock used for timers and timestamps
func WithClock(c clock.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(m *Machine) { m.log = log.Named("player") }
}

// WithReporter sets the history reporter
func WithReporter(r Reporter) Option {
	return func(m *Machine) { m.reporter = r }
}

// WithResolver sets the media locator resolver
func WithResolver(r Resolver) Option {
	return func(m *Machine) { m.resolver = r }
}

// WithRand sets the random source for the shuffle policy
func WithRand(rng *rand.Rand) Option {
	return func(m *Machine) { m.queue = queue.NewManager(queue.WithRand(rng)) }
}

// WithAutosaveInterval sets how often state is saved while playing
func WithAutosaveInterval(d time.Duration) Option {
	return func(m *Machine) { m.autosaveEvery = d }
}

// WithSleepCheckInterval sets how often the sleep timer is polled
func WithSleepCheckInterval(d time.Duration) Option {
	return func(m *Machine) { m.sleepEvery = d }
}

// WithHistoryInterval sets how often progress is reported while playing
func WithHistoryInterval(d time.Duration) Option {
	return func(m *Machine) { m.historyEvery = d }
}

// WithOutroEpsilon sets the minimum position before the outro check applies
func WithOutroEpsilon(sec float64) Option {
	return func(m *Machine) { m.outroEpsilon = sec }
}

// WithDefaultRate sets the rate used when a mode has no saved rate
func WithDefaultRate(rate float64) Option {
	return func(m *Machine) { m.defaultRate = rate }
}

// New creates a machine in the idle state for the MUSIC mode.
// Call Restore to load persisted state.
func New(t Transport, st store.Store, opts ...Option) *Machine {
	m := &Machine{
		transport:     t,
		queue:         queue.NewManager(),
		store:         st,
		clock:         clock.New(),
		log:           zap.NewNop(),
		reporter:      nopReporter{},
		resolver:      urlResolver{},
		mode:          types.ModeMusic,
		status:        StatusIdle,
		rate:          1,
		defaultRate:   1,
		outroEpsilon:  1,
		autosaveEvery: 10 * time.Second,
		sleepEvery:    time.Second,
		historyEvery:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.rate = m.defaultRate
	t.SetEventHandler(m.handleEvent)
	return m
}

// Subscribe registers an observer
func (m *Machine) Subscribe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// unlockAndNotify releases the lock and delivers notes to every observer
func (m *Machine) unlockAndNotify(notes []note) {
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()
	for _, n := range notes {
		for _, o := range observers {
			n(o)
		}
	}
}

// PlayOption adjusts a play request
type PlayOption func(*playOptions)

type playOptions struct {
	startAt *float64
}

// StartAt starts playback at sec instead of the default offset
func StartAt(sec float64) PlayOption {
	return func(o *playOptions) { o.startAt = &sec }
}

func (m *Machine) startOffset(track types.Track, po playOptions) float64 {
	if po.startAt != nil {
		return *po.startAt
	}
	if track.IsAudiobook() && m.skipIntro > 0 {
		return m.skipIntro
	}
	return 0
}

// PlayTrack loads track and starts playing it. A track that is not in the
// queue replaces the queue with a singleton. On failure the prior state is kept.
func (m *Machine) PlayTrack(track types.Track, opts ...PlayOption) error {
	var po playOptions
	for _, opt := range opts {
		opt(&po)
	}

	m.mu.Lock()
	var notes []note

	prev := m.saveQueue()
	idx := m.queue.IndexOf(track.ID)
	replaced := idx < 0
	if replaced {
		m.queue.Set([]types.Track{track})
		idx = 0
	}

	if err := m.loadLocked(track, idx, m.startOffset(track, po), true, &notes); err != nil {
		if replaced {
			m.restoreQueue(prev)
		}
		m.unlockAndNotify(nil)
		return err
	}
	if replaced {
		notes = append(notes, queueNote(m.queue.Items()))
	}
	m.persistLocked()
	m.unlockAndNotify(notes)
	return nil
}

// PlayTrackList replaces the queue with tracks and plays tracks[index].
// An empty list or an out-of-range index is a no-op.
func (m *Machine) PlayTrackList(tracks []types.Track, index int, opts ...PlayOption) error {
	if len(tracks) == 0 || index < 0 || index >= len(tracks) {
		return nil
	}

	var po playOptions
	for _, opt := range opts {
		opt(&po)
	}

	m.mu.Lock()
	var notes []note

	prev := m.saveQueue()
	m.queue.Set(tracks)
	track := tracks[index]

	if err := m.loadLocked(track, index, m.startOffset(track, po), true, &notes); err != nil {
		m.restoreQueue(prev)
		m.unlockAndNotify(nil)
		return err
	}
	notes = append(notes, queueNote(m.queue.Items()))
	m.persistLocked()
	m.unlockAndNotify(notes)
	return nil
}

// LoadTrack makes track current without changing the play/pause state or
// the position. A position past the end of track starts it from 0.
// It is a no-op when track is already current.
func (m *Machine) LoadTrack(track types.Track) error {
	m.mu.Lock()
	if m.current != nil && m.current.ID == track.ID {
		m.mu.Unlock()
		return nil
	}

	var notes []note
	prev := m.saveQueue()
	idx := m.queue.IndexOf(track.ID)
	replaced := idx < 0
	if replaced {
		m.queue.Set([]types.Track{track})
		idx = 0
	}

	play := m.status == StatusPlaying
	start := 0.0
	if m.current != nil {
		start = m.livePositionLocked(m.status)
	}
	if start < 0 || (track.Duration > 0 && start >= track.Duration) {
		start = 0
	}
	if err := m.loadLocked(track, idx, start, play, &notes); err != nil {
		if replaced {
			m.restoreQueue(prev)
		}
		m.unlockAndNotify(nil)
		return err
	}
	if replaced {
		notes = append(notes, queueNote(m.queue.Items()))
	}
	m.persistLocked()
	m.unlockAndNotify(notes)
	return nil
}

// loadLocked hands track to the transport. On failure nothing changes.
func (m *Machine) loadLocked(track types.Track, idx int, start float64, play bool, notes *[]note) error {
	prevStatus := m.status
	prevPosition := m.livePositionLocked(prevStatus)
	m.status = StatusLoading

	if err := m.transport.Load(track, m.resolver.Resolve(track), start); err != nil {
		m.status = prevStatus
		m.log.Error("load failed", zap.String("track", track.ID), zap.Error(err))
		return fmt.Errorf("load %s: %w", track.ID, err)
	}
	if m.rate != 1 {
		if err := m.transport.SetRate(m.rate); err != nil {
			m.log.Warn("set rate failed", zap.Float64("rate", m.rate), zap.Error(err))
		}
	}
	if play {
		if err := m.transport.Play(); err != nil {
			m.status = prevStatus
			m.log.Error("play failed", zap.String("track", track.ID), zap.Error(err))
			return fmt.Errorf("play %s: %w", track.ID, err)
		}
	}

	if m.current != nil && m.current.ID != track.ID {
		m.reporter.Report(*m.current, prevPosition)
	}

	m.queue.SetIndex(idx)
	t := track
	m.current = &t
	m.position = start
	m.duration = track.Duration
	m.outroFired = false
	if play {
		m.status = StatusPlaying
	} else {
		m.status = StatusPaused
	}

	m.log.Info("track loaded",
		zap.String("track", track.ID),
		zap.String("title", track.Title),
		zap.Float64("start", start),
		zap.Bool("playing", play))

	*notes = append(*notes, trackNote(m.current), playStateNote(play, start))
	return nil
}

type queueState struct {
	items []types.Track
	index int
}

func (m *Machine) saveQueue() queueState {
	idx, _ := m.queue.Position()
	return queueState{items: m.queue.Items(), index: idx}
}

func (m *Machine) restoreQueue(s queueState) {
	m.queue.Set(s.items)
	if s.index >= 0 {
		m.queue.SetIndex(s.index)
	}
}

// livePositionLocked returns the transport position while playing, the last known otherwise
func (m *Machine) livePositionLocked(status Status) float64 {
	if status == StatusPlaying {
		return m.transport.Position()
	}
	return m.position
}

// Resume continues playback of the current track
func (m *Machine) Resume() error {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return ErrNoTrack
	}
	if m.status == StatusPlaying {
		m.mu.Unlock()
		return nil
	}

	if err := m.transport.Play(); err != nil {
		m.mu.Unlock()
		m.log.Error("resume failed", zap.Error(err))
		return fmt.Errorf("resume: %w", err)
	}
	m.status = StatusPlaying
	pos := m.position
	m.persistLocked()
	m.unlockAndNotify([]note{playStateNote(true, pos)})
	return nil
}

// Pause pauses playback
func (m *Machine) Pause() error {
	m.mu.Lock()
	var notes []note
	err := m.pauseLocked(&notes)
	m.unlockAndNotify(notes)
	return err
}

func (m *Machine) pauseLocked(notes *[]note) error {
	if m.status != StatusPlaying {
		return nil
	}
	if err := m.transport.Pause(); err != nil {
		m.log.Error("pause failed", zap.Error(err))
		return fmt.Errorf("pause: %w", err)
	}
	m.position = m.transport.Position()
	m.status = StatusPaused
	if m.current != nil {
		m.reporter.Report(*m.current, m.position)
	}
	m.persistLocked()
	*notes = append(*notes, playStateNote(false, m.position))
	return nil
}

// Toggle switches between playing and paused
func (m *Machine) Toggle() error {
	m.mu.Lock()
	playing := m.status == StatusPlaying
	m.mu.Unlock()
	if playing {
		return m.Pause()
	}
	return m.Resume()
}

// Seek moves the current track to position seconds
func (m *Machine) Seek(position float64) error {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return ErrNoTrack
	}

	if position < 0 {
		position = 0
	}
	if m.duration > 0 && position > m.duration {
		position = m.duration
	}

	if err := m.transport.Seek(position); err != nil {
		m.mu.Unlock()
		m.log.Error("seek failed", zap.Float64("position", position), zap.Error(err))
		return fmt.Errorf("seek: %w", err)
	}
	m.position = position
	m.persistLocked()
	m.unlockAndNotify([]note{seekedNote(position)})
	return nil
}

// SetRate sets the playback rate
func (m *Machine) SetRate(rate float64) error {
	if rate < MinRate || rate > MaxRate {
		return fmt.Errorf("%w: %v", ErrInvalidRate, rate)
	}

	m.mu.Lock()
	if m.current != nil {
		if err := m.transport.SetRate(rate); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("set rate: %w", err)
		}
	}
	m.rate = rate
	policy := m.queue.Policy()
	m.persistLocked()
	m.unlockAndNotify([]note{settingsNote(policy, rate)})
	return nil
}

// SetPolicy sets the advancement policy
func (m *Machine) SetPolicy(policy types.Policy) {
	m.mu.Lock()
	m.queue.SetPolicy(policy)
	rate := m.rate
	m.persistLocked()
	m.unlockAndNotify([]note{settingsNote(policy, rate)})
}

// Next advances by the active policy
func (m *Machine) Next() error {
	m.mu.Lock()
	var notes []note
	err := m.advanceLocked(&notes)
	m.unlockAndNotify(notes)
	return err
}

func (m *Machine) advanceLocked(notes *[]note) error {
	if _, n := m.queue.Position(); n == 0 {
		return nil
	}

	if m.queue.Policy() == types.PolicyLoopSingle && m.current != nil {
		if err := m.transport.Seek(0); err != nil {
			return fmt.Errorf("restart: %w", err)
		}
		// The transport pauses itself at end of track, so Play is always
		// issued even when the machine still reads playing.
		wasPlaying := m.status == StatusPlaying
		if err := m.transport.Play(); err != nil {
			return fmt.Errorf("restart: %w", err)
		}
		m.position = 0
		m.status = StatusPlaying
		*notes = append(*notes, seekedNote(0))
		if !wasPlaying {
			*notes = append(*notes, playStateNote(true, 0))
		}
		m.persistLocked()
		return nil
	}

	next, ok := m.queue.NextIndex()
	if !ok {
		m.stopLocked(notes)
		return nil
	}

	track, _ := m.queue.At(next)
	if err := m.loadLocked(track, next, m.startOffset(track, playOptions{}), true, notes); err != nil {
		return err
	}
	m.persistLocked()
	return nil
}

// Previous moves to the previous queue entry, wrapping at the start
func (m *Machine) Previous() error {
	m.mu.Lock()
	var notes []note

	prev, ok := m.queue.PrevIndex()
	if !ok {
		m.mu.Unlock()
		return nil
	}
	track, _ := m.queue.At(prev)
	err := m.loadLocked(track, prev, m.startOffset(track, playOptions{}), true, &notes)
	if err == nil {
		m.persistLocked()
	}
	m.unlockAndNotify(notes)
	return err
}

// Jump plays the queue entry at index
func (m *Machine) Jump(index int) error {
	m.mu.Lock()
	track, ok := m.queue.At(index)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("queue index %d out of range", index)
	}

	var notes []note
	err := m.loadLocked(track, index, m.startOffset(track, playOptions{}), true, &notes)
	if err == nil {
		m.persistLocked()
	}
	m.unlockAndNotify(notes)
	return err
}

// Stop unloads the current track. The queue is kept.
func (m *Machine) Stop() error {
	m.mu.Lock()
	var notes []note
	m.stopLocked(&notes)
	m.unlockAndNotify(notes)
	return nil
}

func (m *Machine) stopLocked(notes *[]note) {
	if m.status == StatusIdle {
		return
	}
	if m.current != nil {
		m.reporter.Report(*m.current, m.livePositionLocked(m.status))
	}
	if err := m.transport.Stop(); err != nil {
		m.log.Warn("stop failed", zap.Error(err))
	}
	m.status = StatusIdle
	m.current = nil
	m.position = 0
	m.duration = 0
	m.log.Info("playback stopped")
	m.persistLocked()
	*notes = append(*notes, trackNote(nil), playStateNote(false, 0))
}

// ReplaceQueue swaps the queue contents, keeping the current track
func (m *Machine) ReplaceQueue(tracks []types.Track) {
	m.mu.Lock()
	m.queue.Replace(tracks)
	items := m.queue.Items()
	m.persistLocked()
	m.unlockAndNotify([]note{queueNote(items)})
}

// Append adds tracks to the end of the queue
func (m *Machine) Append(tracks []types.Track) {
	m.mu.Lock()
	m.queue.Append(tracks)
	items := m.queue.Items()
	m.persistLocked()
	m.unlockAndNotify([]note{queueNote(items)})
}

// Insert inserts a track into the queue
func (m *Machine) Insert(index int, track types.Track) bool {
	return m.editQueue(func(q *queue.Manager) bool { return q.Insert(index, track) })
}

// Remove removes the queue entry at index
func (m *Machine) Remove(index int) bool {
	return m.editQueue(func(q *queue.Manager) bool { return q.Remove(index) })
}

// Move moves a queue entry
func (m *Machine) Move(from, to int) bool {
	return m.editQueue(func(q *queue.Manager) bool { return q.Move(from, to) })
}

func (m *Machine) editQueue(edit func(*queue.Manager) bool) bool {
	m.mu.Lock()
	if !edit(m.queue) {
		m.mu.Unlock()
		return false
	}
	items := m.queue.Items()
	m.persistLocked()
	m.unlockAndNotify([]note{queueNote(items)})
	return true
}

// Status returns the playback status
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Current returns a copy of the current track, or nil
func (m *Machine) Current() *types.Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	t := *m.current
	return &t
}

// Position returns the current position in seconds
func (m *Machine) Position() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.livePositionLocked(m.status)
}

// Duration returns the current track duration in seconds, 0 if unknown
func (m *Machine) Duration() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration
}

// Queue returns the queue contents and the current index
func (m *Machine) Queue() ([]types.Track, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, _ := m.queue.Position()
	return m.queue.Items(), idx
}

// Policy returns the advancement policy
func (m *Machine) Policy() types.Policy {
	return m.queue.Policy()
}

// Rate returns the playback rate
func (m *Machine) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate
}

// Mode returns the active listening mode
func (m *Machine) Mode() types.ListeningMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Snapshot returns the live state of the active mode
func (m *Machine) Snapshot() types.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() types.Snapshot {
	snap := types.Snapshot{
		Queue:    m.queue.Items(),
		Position: m.livePositionLocked(m.status),
		Policy:   m.queue.Policy(),
		Rate:     m.rate,
		SavedAt:  m.clock.Now().UnixMilli(),
	}
	if m.current != nil {
		t := *m.current
		snap.CurrentTrack = &t
	}
	return snap
}
