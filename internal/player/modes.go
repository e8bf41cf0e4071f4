package player

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/austinkregel/local-media/tandem/internal/store"
	"github.com/austinkregel/local-media/tandem/internal/types"
)

// persistLocked saves the active mode's snapshot. Failures are logged only.
func (m *Machine) persistLocked() {
	if m.store == nil {
		return
	}
	snap := m.snapshotLocked()
	if err := m.store.Save(store.PlaybackKey(m.mode), snap); err != nil {
		m.log.Warn("persist failed", zap.String("mode", string(m.mode)), zap.Error(err))
		return
	}
	m.lastSaved = m.clock.Now()
}

// Persist saves the active mode's snapshot now
func (m *Machine) Persist() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistLocked()
}

// SwitchMode persists the active mode, then loads the saved state of mode
// paused, or resets to idle if mode has never been saved.
func (m *Machine) SwitchMode(mode types.ListeningMode) error {
	if _, err := types.ParseListeningMode(string(mode)); err != nil {
		return err
	}

	m.mu.Lock()
	if mode == m.mode {
		m.mu.Unlock()
		return nil
	}

	var notes []note
	if err := m.pauseLocked(&notes); err != nil {
		m.log.Warn("pause before mode switch failed", zap.Error(err))
	}
	m.persistLocked()

	from := m.mode
	m.mode = mode
	if m.store != nil {
		if err := m.store.Save(store.KeyMode, mode); err != nil {
			m.log.Warn("persist mode failed", zap.Error(err))
		}
	}

	m.loadModeLocked(&notes)
	m.log.Info("listening mode switched", zap.String("from", string(from)), zap.String("to", string(mode)))
	m.unlockAndNotify(notes)
	return nil
}

// Restore loads the persisted listening mode, skip durations and the
// snapshot of that mode. The restored track is left paused.
func (m *Machine) Restore() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	var mode types.ListeningMode
	if ok, err := m.store.Load(store.KeyMode, &mode); err != nil {
		m.log.Warn("restore mode failed", zap.Error(err))
	} else if ok {
		if parsed, err := types.ParseListeningMode(string(mode)); err == nil {
			m.mode = parsed
		}
	}

	var sec float64
	if ok, err := m.store.Load(store.KeySkipIntro, &sec); err == nil && ok {
		m.skipIntro = sec
	}
	sec = 0
	if ok, err := m.store.Load(store.KeySkipOutro, &sec); err == nil && ok {
		m.skipOutro = sec
	}

	var notes []note
	m.loadModeLocked(&notes)
	m.unlockAndNotify(notes)
	return nil
}

// loadModeLocked replaces the live state with the saved snapshot of m.mode
func (m *Machine) loadModeLocked(notes *[]note) {
	if m.store == nil {
		m.resetLocked(notes)
		return
	}

	var snap types.Snapshot
	ok, err := m.store.Load(store.PlaybackKey(m.mode), &snap)
	if err != nil {
		m.log.Warn("load snapshot failed", zap.String("mode", string(m.mode)), zap.Error(err))
	}

	if !ok || err != nil {
		m.resetLocked(notes)
		return
	}

	policy := snap.Policy
	if _, err := types.ParsePolicy(string(policy)); err != nil {
		policy = types.PolicySequence
	}
	rate := snap.Rate
	if rate < MinRate || rate > MaxRate {
		rate = m.defaultRate
	}

	m.queue.Set(snap.Queue)
	m.queue.SetPolicy(policy)
	m.rate = rate
	*notes = append(*notes, queueNote(m.queue.Items()), settingsNote(policy, rate))

	if snap.CurrentTrack == nil {
		m.unloadLocked(notes)
		return
	}

	track := *snap.CurrentTrack
	idx := m.queue.IndexOf(track.ID)
	if idx < 0 {
		m.queue.Set(append([]types.Track{track}, snap.Queue...))
		idx = 0
		*notes = append(*notes, queueNote(m.queue.Items()))
	}

	if err := m.loadLocked(track, idx, snap.Position, false, notes); err != nil {
		m.log.Error("restore track failed", zap.String("track", track.ID), zap.Error(err))
		m.unloadLocked(notes)
	}
}

// resetLocked clears the queue and settings of the live state
func (m *Machine) resetLocked(notes *[]note) {
	m.queue.Clear()
	m.queue.SetPolicy(types.PolicySequence)
	m.rate = m.defaultRate
	*notes = append(*notes, queueNote(m.queue.Items()), settingsNote(types.PolicySequence, m.rate))
	m.unloadLocked(notes)
}

// unloadLocked leaves the machine idle without touching the queue or the store
func (m *Machine) unloadLocked(notes *[]note) {
	if m.status != StatusIdle {
		if err := m.transport.Stop(); err != nil {
			m.log.Warn("stop failed", zap.Error(err))
		}
	}
	hadTrack := m.current != nil
	m.status = StatusIdle
	m.current = nil
	m.position = 0
	m.duration = 0
	if hadTrack {
		*notes = append(*notes, trackNote(nil), playStateNote(false, 0))
	}
}

// SetSkipIntro sets the audiobook intro skip in seconds (0 disables)
func (m *Machine) SetSkipIntro(sec float64) error {
	return m.setSkip(store.KeySkipIntro, sec, &m.skipIntro)
}

// SetSkipOutro sets the audiobook outro skip in seconds (0 disables)
func (m *Machine) SetSkipOutro(sec float64) error {
	return m.setSkip(store.KeySkipOutro, sec, &m.skipOutro)
}

func (m *Machine) setSkip(key string, sec float64, field *float64) error {
	if sec < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidDuration, sec)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	*field = sec
	if m.store != nil {
		if err := m.store.Save(key, sec); err != nil {
			m.log.Warn("persist skip failed", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// SkipDurations returns the intro and outro skip durations
func (m *Machine) SkipDurations() (intro, outro float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.skipIntro, m.skipOutro
}
