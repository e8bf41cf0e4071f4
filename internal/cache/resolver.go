// Package cache resolves remote media locators to files already present
// in the on-disk media cache.
package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/austinkregel/local-media/tandem/internal/types"
)

const defaultEntries = 512

// Resolver maps a track URL to <dir>/<sha1(url)><ext> when that file exists
type Resolver struct {
	dir  string
	memo *lru.Cache[string, string]
}

// NewResolver creates a resolver for the cache directory dir.
// size <= 0 selects the default memo size.
func NewResolver(dir string, size int) (*Resolver, error) {
	if size <= 0 {
		size = defaultEntries
	}
	memo, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &Resolver{dir: dir, memo: memo}, nil
}

// Key returns the cache file name for a locator
func Key(locator string) string {
	sum := sha1.Sum([]byte(locator))
	return hex.EncodeToString(sum[:]) + extension(locator)
}

func extension(locator string) string {
	p := locator
	if u, err := url.Parse(locator); err == nil && u.Path != "" {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if len(ext) > 6 {
		return ""
	}
	return ext
}

// Path returns where a locator would be cached
func (r *Resolver) Path(locator string) string {
	return filepath.Join(r.dir, Key(locator))
}

// Resolve returns the local cached path for track, or its URL unchanged
func (r *Resolver) Resolve(track types.Track) string {
	locator := track.URL
	if locator == "" || r.dir == "" {
		return locator
	}
	if !strings.HasPrefix(locator, "http://") && !strings.HasPrefix(locator, "https://") {
		return locator
	}

	if local, ok := r.memo.Get(locator); ok {
		if _, err := os.Stat(local); err == nil {
			return local
		}
		r.memo.Remove(locator)
	}

	local := r.Path(locator)
	if _, err := os.Stat(local); err != nil {
		return locator
	}
	r.memo.Add(locator, local)
	return local
}

// Forget drops a memoized entry, e.g. after the cache file was evicted
func (r *Resolver) Forget(locator string) {
	r.memo.Remove(locator)
}
