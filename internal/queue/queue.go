// Package queue manages the playback queue and its advancement policy.
package queue

import (
	"math/rand"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/austinkregel/local-media/tandem/internal/types"
)

// ChangeCallback is called when the queue contents change
type ChangeCallback func(items []types.Track)

// Manager manages the playback queue
type Manager struct {
	mu       sync.RWMutex
	items    []types.Track
	index    int // Current position in items, -1 when nothing is selected
	policy   types.Policy
	rng      *rand.Rand
	onChange ChangeCallback
}

// Option configures a Manager
type Option func(*Manager)

// WithRand sets the random source used by the shuffle policy
func WithRand(rng *rand.Rand) Option {
	return func(m *Manager) {
		m.rng = rng
	}
}

// NewManager creates a new queue manager
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		items:  make([]types.Track, 0),
		index:  -1,
		policy: types.PolicySequence,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetOnChange sets a callback to be called when the queue contents change
func (m *Manager) SetOnChange(callback ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = callback
}

// notifyChange calls the onChange callback if set (must be called without lock held)
func (m *Manager) notifyChange() {
	m.mu.RLock()
	callback := m.onChange
	items := m.copyItems()
	m.mu.RUnlock()
	if callback != nil {
		callback(items)
	}
}

func (m *Manager) copyItems() []types.Track {
	items := make([]types.Track, len(m.items))
	copy(items, m.items)
	return items
}

// Set replaces the entire queue. The index is reset to -1.
func (m *Manager) Set(tracks []types.Track) {
	m.mu.Lock()
	m.items = make([]types.Track, len(tracks))
	copy(m.items, tracks)
	m.index = -1
	m.mu.Unlock()
	m.notifyChange()
}

// Replace swaps the queue contents while keeping the current track selected
// if it is still present.
func (m *Manager) Replace(tracks []types.Track) {
	m.mu.Lock()
	var currentID string
	if m.index >= 0 && m.index < len(m.items) {
		currentID = m.items[m.index].ID
	}
	m.items = make([]types.Track, len(tracks))
	copy(m.items, tracks)
	m.index = m.indexOfLocked(currentID)
	m.mu.Unlock()
	m.notifyChange()
}

// Append adds tracks to the end of the queue
func (m *Manager) Append(tracks []types.Track) {
	m.mu.Lock()
	m.items = append(m.items, tracks...)
	m.mu.Unlock()
	m.notifyChange()
}

// Clear clears the queue
func (m *Manager) Clear() {
	m.mu.Lock()
	m.items = make([]types.Track, 0)
	m.index = -1
	m.mu.Unlock()
	m.notifyChange()
}

// NextIndex returns the index that follows the current one under the active
// policy. ok is false when the policy says playback should stop.
// LOOP_SINGLE returns the current index.
func (m *Manager) NextIndex() (next int, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.items)
	if n == 0 {
		return -1, false
	}
	i := m.index

	switch m.policy {
	case types.PolicySingleOnce:
		return -1, false
	case types.PolicyLoopSingle:
		if i < 0 {
			return 0, true
		}
		return i, true
	case types.PolicyLoopList:
		return (i + 1) % n, true
	case types.PolicyShuffle:
		return m.rng.Intn(n), true
	default:
		if i+1 < n {
			return i + 1, true
		}
		return -1, false
	}
}

// PrevIndex returns i-1, wrapping to the last element when at the start.
// The policy is not consulted.
func (m *Manager) PrevIndex() (prev int, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.items)
	if n == 0 {
		return -1, false
	}
	if m.index <= 0 {
		return n - 1, true
	}
	return m.index - 1, true
}

// Current returns the current track and its index
func (m *Manager) Current() (*types.Track, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.index < 0 || m.index >= len(m.items) {
		return nil, -1
	}
	track := m.items[m.index]
	return &track, m.index
}

// At returns the track at index
func (m *Manager) At(index int) (types.Track, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if index < 0 || index >= len(m.items) {
		return types.Track{}, false
	}
	return m.items[index], true
}

// IndexOf returns the index of the first track with the given id, or -1
func (m *Manager) IndexOf(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.indexOfLocked(id)
}

func (m *Manager) indexOfLocked(id string) int {
	if id == "" {
		return -1
	}
	_, idx, found := lo.FindIndexOf(m.items, func(t types.Track) bool {
		return t.ID == id
	})
	if !found {
		return -1
	}
	return idx
}

// SetIndex sets the current queue index
func (m *Manager) SetIndex(index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.items) {
		return false
	}
	m.index = index
	return true
}

// Position returns the current index and queue size
func (m *Manager) Position() (int, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.index, len(m.items)
}

// Items returns all tracks in the queue
func (m *Manager) Items() []types.Track {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyItems()
}

// SetPolicy sets the advancement policy
func (m *Manager) SetPolicy(policy types.Policy) {
	m.mu.Lock()
	m.policy = policy
	m.mu.Unlock()
}

// Policy returns the advancement policy
func (m *Manager) Policy() types.Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.policy
}

// Remove removes the track at index
func (m *Manager) Remove(index int) bool {
	m.mu.Lock()

	if index < 0 || index >= len(m.items) {
		m.mu.Unlock()
		return false
	}

	m.items = append(m.items[:index], m.items[index+1:]...)

	if index < m.index {
		m.index--
	} else if index == m.index && m.index >= len(m.items) {
		// Current track was removed, stay at same index (which is now the next track)
		m.index = len(m.items) - 1
	}

	m.mu.Unlock()
	m.notifyChange()
	return true
}

// Insert inserts a track at index
func (m *Manager) Insert(index int, track types.Track) bool {
	m.mu.Lock()

	if index < 0 || index > len(m.items) {
		m.mu.Unlock()
		return false
	}

	m.items = append(m.items[:index], append([]types.Track{track}, m.items[index:]...)...)
	if m.index >= 0 && index <= m.index {
		m.index++
	}

	m.mu.Unlock()
	m.notifyChange()
	return true
}

// Move moves a track from one index to another
func (m *Manager) Move(fromIndex, toIndex int) bool {
	m.mu.Lock()

	if fromIndex < 0 || fromIndex >= len(m.items) || toIndex < 0 || toIndex >= len(m.items) {
		m.mu.Unlock()
		return false
	}
	if fromIndex == toIndex {
		m.mu.Unlock()
		return true
	}

	track := m.items[fromIndex]
	m.items = append(m.items[:fromIndex], m.items[fromIndex+1:]...)
	m.items = append(m.items[:toIndex], append([]types.Track{track}, m.items[toIndex:]...)...)

	switch {
	case m.index == fromIndex:
		m.index = toIndex
	case fromIndex < m.index && toIndex >= m.index:
		m.index--
	case fromIndex > m.index && toIndex <= m.index:
		m.index++
	}

	m.mu.Unlock()
	m.notifyChange()
	return true
}
