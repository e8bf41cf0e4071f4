// Package store persists small key -> JSON blobs such as the per-mode
// playback snapshots and the skip durations.
package store

import (
	"errors"
	"fmt"

	"github.com/austinkregel/local-media/tandem/internal/types"
)

// Well-known keys
const (
	KeySkipIntro = "skip_intro"
	KeySkipOutro = "skip_outro"
	KeyMode      = "mode"
)

// Backend names accepted by Open
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// ErrInvalidKey is returned for keys that cannot be stored
var ErrInvalidKey = errors.New("invalid store key")

// Store is a key -> JSON value store.
// Load reports false (and no error) when the key has never been saved.
type Store interface {
	Load(key string, v any) (bool, error)
	Save(key string, v any) error
	Delete(key string) error
	Close() error
}

// PlaybackKey returns the snapshot key for a listening mode
func PlaybackKey(mode types.ListeningMode) string {
	return "playback." + string(mode)
}

// Open opens the store backend with the given name rooted at dir
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "", BackendJSON:
		return NewFileStore(dir)
	case BackendSQLite:
		return OpenSQLite(dir)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

func validKey(key string) error {
	if key == "" || len(key) > 128 {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, r := range key {
		ok := r == '.' || r == '_' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
