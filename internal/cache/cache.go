// Package cache persists build statistics keyed by revision identity.
//
// Entries are never invalidated: a commit's build output is assumed to be
// deterministic for a given toolchain, so a stored entry stays valid forever.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/thiagokokada/bundle-blame/internal/stats"
)

const (
	KindFile = "file"
	KindBolt = "bolt"
)

const appDirName = "bundle-blame"

// Store is a persistent map from revision identity to stats.
type Store interface {
	// Read returns ok=false when nothing was ever written for identity. A
	// damaged entry is a *CorruptionError, never a miss.
	Read(identity string) (s stats.Stats, ok bool, err error)
	Write(identity string, s stats.Stats) error
	Close() error
}

// CorruptionError reports a stored entry that exists but cannot be decoded.
type CorruptionError struct {
	Identity string
	Location string
	Err      error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupt cache entry for %s at %s: %v", e.Identity, e.Location, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown cache backend %q (want %q or %q)", e.Kind, KindFile, KindBolt)
}

// DefaultDir is the user-scoped cache directory, e.g. ~/.cache/bundle-blame.
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locate user cache directory: %w", err)
	}
	return filepath.Join(base, appDirName), nil
}

// Open returns the store of the given kind rooted at dir. An empty kind means
// KindFile and an empty dir means DefaultDir. Nothing touches the disk until
// the first read or write.
func Open(kind, dir string) (Store, error) {
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	switch kind {
	case "", KindFile:
		return NewFileStore(dir), nil
	case KindBolt:
		return NewBoltStore(dir), nil
	default:
		return nil, &UnknownKindError{Kind: kind}
	}
}

var errInvalidIdentity = errors.New("revision identity must be a full lowercase hex hash")

// validateIdentity accepts full SHA-1 and SHA-256 object names only, which
// also keeps identities safe to use as file names.
func validateIdentity(identity string) error {
	if len(identity) != 40 && len(identity) != 64 {
		return fmt.Errorf("%w: %q", errInvalidIdentity, identity)
	}
	for i := 0; i < len(identity); i++ {
		c := identity[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return fmt.Errorf("%w: %q", errInvalidIdentity, identity)
		}
	}
	return nil
}

// decode parses a JSON payload and checks it describes real sizes.
func decode(identity, location string, payload []byte) (stats.Stats, error) {
	var s stats.Stats
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, &CorruptionError{Identity: identity, Location: location, Err: err}
	}
	if s == nil {
		return nil, &CorruptionError{Identity: identity, Location: location, Err: errors.New("entry is not an object")}
	}
	if err := s.Validate(); err != nil {
		return nil, &CorruptionError{Identity: identity, Location: location, Err: err}
	}
	return s, nil
}

func encode(s stats.Stats) ([]byte, error) {
	if s == nil {
		s = stats.Stats{}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return json.MarshalIndent(s, "", "  ")
}
