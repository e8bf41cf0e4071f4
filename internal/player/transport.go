package player

import "github.com/austinkregel/local-media/tandem/internal/types"

// EventKind identifies a transport event
type EventKind int

const (
	// EventStateChanged reports a play/pause change the machine did not ask for
	EventStateChanged EventKind = iota
	// EventProgress reports the current position while playing
	EventProgress
	// EventEnded reports that the loaded track played to the end
	EventEnded
	// EventError reports a playback failure
	EventError
)

// Event is delivered by a Transport to its event handler
type Event struct {
	Kind     EventKind
	Playing  bool
	Position float64 // seconds
	Duration float64 // seconds, 0 if unknown
	Err      error
}

// Transport is the audio engine driven by the Machine.
// Events must be delivered from the transport's own goroutine, never from
// inside one of these calls.
type Transport interface {
	// Load prepares track paused at startAt seconds. locator is the resolved media location.
	Load(track types.Track, locator string, startAt float64) error
	Play() error
	Pause() error
	Seek(position float64) error
	SetRate(rate float64) error
	Stop() error
	// Position returns the current playback position in seconds
	Position() float64
	SetEventHandler(handler func(Event))
}

// Reporter receives history reports. Report must not block.
type Reporter interface {
	Report(track types.Track, position float64)
}

// Resolver maps a track to the locator handed to the transport
type Resolver interface {
	Resolve(track types.Track) string
}

type urlResolver struct{}

func (urlResolver) Resolve(track types.Track) string { return track.URL }

type nopReporter struct{}

func (nopReporter) Report(types.Track, float64) {}
