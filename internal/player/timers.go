package player

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// handleEvent receives transport events
func (m *Machine) handleEvent(ev Event) {
	switch ev.Kind {
	case EventProgress:
		m.onProgress(ev.Position, ev.Duration)
	case EventEnded:
		m.onEnded()
	case EventStateChanged:
		m.onStateChanged(ev.Playing, ev.Position)
	case EventError:
		m.onError(ev.Err)
	}
}

func (m *Machine) onProgress(position, duration float64) {
	m.mu.Lock()
	if m.status != StatusPlaying {
		m.mu.Unlock()
		return
	}
	m.position = position
	if duration > 0 {
		m.duration = duration
	}
	skip := m.outroDueLocked()
	if skip {
		m.outroFired = true
		m.log.Info("skipping outro",
			zap.String("track", m.current.ID),
			zap.Float64("position", position),
			zap.Float64("duration", m.duration))
	}
	m.mu.Unlock()

	if skip {
		if err := m.Next(); err != nil {
			m.log.Error("outro skip failed", zap.Error(err))
		}
	}
}

// outroDueLocked reports whether the outro skip should fire for the current track
func (m *Machine) outroDueLocked() bool {
	if m.current == nil || !m.current.IsAudiobook() || m.skipOutro <= 0 || m.outroFired {
		return false
	}
	if m.duration <= 0 || m.position <= m.outroEpsilon {
		return false
	}
	return m.duration-m.position <= m.skipOutro
}

func (m *Machine) onEnded() {
	m.mu.Lock()
	if m.status != StatusPlaying && m.status != StatusPaused {
		m.mu.Unlock()
		return
	}
	if m.current != nil {
		m.reporter.Report(*m.current, m.duration)
	}

	var notes []note
	if err := m.advanceLocked(&notes); err != nil {
		m.log.Error("advance failed", zap.Error(err))
	}
	m.unlockAndNotify(notes)
}

func (m *Machine) onStateChanged(playing bool, position float64) {
	m.mu.Lock()
	if m.status != StatusPlaying && m.status != StatusPaused {
		m.mu.Unlock()
		return
	}
	if playing == (m.status == StatusPlaying) {
		m.mu.Unlock()
		return
	}

	m.position = position
	if playing {
		m.status = StatusPlaying
	} else {
		m.status = StatusPaused
	}
	m.persistLocked()
	m.unlockAndNotify([]note{playStateNote(playing, position)})
}

func (m *Machine) onError(err error) {
	m.log.Error("playback error", zap.Error(err))

	m.mu.Lock()
	if m.status != StatusPlaying {
		m.mu.Unlock()
		return
	}
	m.position = m.transport.Position()
	m.status = StatusPaused
	m.persistLocked()
	pos := m.position
	m.unlockAndNotify([]note{playStateNote(false, pos)})
}

// SetSleepTimer pauses playback after minutes. minutes <= 0 clears the timer.
func (m *Machine) SetSleepTimer(minutes float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if minutes <= 0 {
		m.sleepAt = time.Time{}
		m.log.Info("sleep timer cleared")
		return
	}
	m.sleepAt = m.clock.Now().Add(time.Duration(minutes * float64(time.Minute)))
	m.log.Info("sleep timer set", zap.Time("at", m.sleepAt))
}

// SleepRemaining returns the time left on the sleep timer, 0 when unset
func (m *Machine) SleepRemaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sleepAt.IsZero() {
		return 0
	}
	if d := m.sleepAt.Sub(m.clock.Now()); d > 0 {
		return d
	}
	return 0
}

// checkSleep clears an expired timer and pauses if playing
func (m *Machine) checkSleep() {
	m.mu.Lock()
	if m.sleepAt.IsZero() || m.clock.Now().Before(m.sleepAt) {
		m.mu.Unlock()
		return
	}
	m.sleepAt = time.Time{}
	m.log.Info("sleep timer expired")

	var notes []note
	if err := m.pauseLocked(&notes); err != nil {
		m.log.Error("sleep pause failed", zap.Error(err))
	}
	m.unlockAndNotify(notes)
}

func (m *Machine) autosave() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == StatusPlaying {
		m.persistLocked()
	}
}

func (m *Machine) reportProgress() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == StatusPlaying && m.current != nil {
		m.reporter.Report(*m.current, m.transport.Position())
	}
}

// Run drives the sleep timer, the autosave and the periodic history report
// until ctx is done. The state is saved on return.
func (m *Machine) Run(ctx context.Context) {
	sleepTicker := m.clock.Ticker(m.sleepEvery)
	defer sleepTicker.Stop()
	saveTicker := m.clock.Ticker(m.autosaveEvery)
	defer saveTicker.Stop()
	historyTicker := m.clock.Ticker(m.historyEvery)
	defer historyTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Persist()
			return
		case <-sleepTicker.C:
			m.checkSleep()
		case <-saveTicker.C:
			m.autosave()
		case <-historyTicker.C:
			m.reportProgress()
		}
	}
}
