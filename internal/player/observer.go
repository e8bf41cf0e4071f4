package player

import "github.com/austinkregel/local-media/tandem/internal/types"

// Observer is notified after the machine's state changed.
// Callbacks run on the goroutine that caused the change, with no lock held.
type Observer interface {
	PlayStateChanged(playing bool, position float64)
	Seeked(position float64)
	TrackChanged(track *types.Track)
	QueueChanged(queue []types.Track)
	SettingsChanged(policy types.Policy, rate float64)
}

// NopObserver implements Observer with empty methods for embedding
type NopObserver struct{}

func (NopObserver) PlayStateChanged(bool, float64) {}
func (NopObserver) Seeked(float64) {}
func (NopObserver) TrackChanged(*types.Track) {}
func (NopObserver) QueueChanged([]types.Track) {}
func (NopObserver) SettingsChanged(types.Policy, float64) {}

type note func(Observer)

func playStateNote(playing bool, position float64) note {
	return func(o Observer) { o.PlayStateChanged(playing, position) }
}

func seekedNote(position float64) note {
	return func(o Observer) { o.Seeked(position) }
}

func trackNote(track *types.Track) note {
	var t *types.Track
	if track != nil {
		c := *track
		t = &c
	}
	return func(o Observer) { o.TrackChanged(t) }
}

func queueNote(items []types.Track) note {
	return func(o Observer) { o.QueueChanged(items) }
}

func settingsNote(policy types.Policy, rate float64) note {
	return func(o Observer) { o.SettingsChanged(policy, rate) }
}
