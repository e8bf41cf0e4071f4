// Package types provides shared type definitions used across the tandem daemon.
package types

import (
	"fmt"
	"strings"
)

// ListeningMode tags a track (and a persisted playback state) as music or audiobook
type ListeningMode string

const (
	ModeMusic     ListeningMode = "MUSIC"
	ModeAudiobook ListeningMode = "AUDIOBOOK"
)

// Modes lists every listening mode in a stable order
var Modes = []ListeningMode{ModeMusic, ModeAudiobook}

// ParseListeningMode parses a listening mode name (case-insensitive)
func ParseListeningMode(s string) (ListeningMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(ModeMusic):
		return ModeMusic, nil
	case string(ModeAudiobook):
		return ModeAudiobook, nil
	default:
		return "", fmt.Errorf("unknown listening mode %q", s)
	}
}

// Track is a playable item as fetched from the backend.
// Duration is in seconds and may be 0 until first playback.
type Track struct {
	ID       string        `json:"id"`
	Title    string        `json:"title,omitempty"`
	Artist   string        `json:"artist,omitempty"`
	AlbumID  string        `json:"albumId,omitempty"`
	Album    string        `json:"album,omitempty"`
	Duration float64       `json:"duration,omitempty"`
	URL      string        `json:"url"`
	Artwork  string        `json:"artwork,omitempty"`
	Lyrics   string        `json:"lyrics,omitempty"`
	Mode     ListeningMode `json:"type,omitempty"`

	// Progress is the per-user position for audiobooks, a view supplied by the backend
	Progress float64 `json:"progress,omitempty"`
}

// IsAudiobook reports whether the track belongs to the audiobook mode
func (t Track) IsAudiobook() bool {
	return t.Mode == ModeAudiobook
}

// Policy is the advancement policy applied when a track ends or next is requested
type Policy string

const (
	PolicySequence   Policy = "SEQUENCE"
	PolicyLoopList   Policy = "LOOP_LIST"
	PolicyShuffle    Policy = "SHUFFLE"
	PolicyLoopSingle Policy = "LOOP_SINGLE"
	PolicySingleOnce Policy = "SINGLE_ONCE"
)

// String returns the policy name
func (p Policy) String() string {
	return string(p)
}

// ParsePolicy parses an advancement policy name (case-insensitive)
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToUpper(strings.TrimSpace(s))); p {
	case PolicySequence, PolicyLoopList, PolicyShuffle, PolicyLoopSingle, PolicySingleOnce:
		return p, nil
	default:
		return "", fmt.Errorf("unknown advancement policy %q", s)
	}
}

// Snapshot is the persisted playback state of a single listening mode
type Snapshot struct {
	CurrentTrack *Track  `json:"currentTrack"`
	Queue        []Track `json:"queue"`
	Position     float64 `json:"position"`
	Policy       Policy  `json:"policy"`
	Rate         float64 `json:"rate"`
	SavedAt      int64   `json:"savedAt"` // unix millis
}
