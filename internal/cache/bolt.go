package cache

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"lukechampine.com/blake3"

	"github.com/thiagokokada/bundle-blame/internal/stats"
)

const (
	boltFileName = "stats.db"
	checksumSize = 32
)

var bucketStats = []byte("stats")

// BoltStore keeps every entry in a single bbolt database at <dir>/stats.db.
// Values are a blake3 checksum of the payload followed by the JSON payload.
type BoltStore struct {
	dir string

	mu sync.Mutex
	db *bbolt.DB
}

func NewBoltStore(dir string) *BoltStore {
	return &BoltStore{dir: dir}
}

func (b *BoltStore) Path() string { return filepath.Join(b.dir, boltFileName) }

// open opens the database on first use. With create=false a missing database
// is reported as (nil, nil) so reads never create files.
func (b *BoltStore) open(create bool) (*bbolt.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		return b.db, nil
	}
	path := b.Path()
	if !create {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
	} else if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o644, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache database %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketStats)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize cache database %s: %w", path, err)
	}
	slog.Debug("cache database opened", slog.String("path", path))
	b.db = db
	return db, nil
}

func (b *BoltStore) Read(identity string) (stats.Stats, bool, error) {
	if err := validateIdentity(identity); err != nil {
		return nil, false, err
	}
	db, err := b.open(false)
	if err != nil || db == nil {
		return nil, false, err
	}
	var value []byte
	err = db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketStats).Get([]byte(identity)); v != nil {
			value = bytes.Clone(v)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry %s: %w", identity, err)
	}
	if value == nil {
		return nil, false, nil
	}
	location := b.Path() + "#" + identity
	if len(value) < checksumSize {
		return nil, false, &CorruptionError{Identity: identity, Location: location, Err: errors.New("entry shorter than its checksum")}
	}
	payload := value[checksumSize:]
	if sum := blake3.Sum256(payload); !bytes.Equal(sum[:], value[:checksumSize]) {
		return nil, false, &CorruptionError{Identity: identity, Location: location, Err: errors.New("checksum mismatch")}
	}
	s, err := decode(identity, location, payload)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

func (b *BoltStore) Write(identity string, s stats.Stats) error {
	if err := validateIdentity(identity); err != nil {
		return err
	}
	payload, err := encode(s)
	if err != nil {
		return fmt.Errorf("encode stats for %s: %w", identity, err)
	}
	db, err := b.open(true)
	if err != nil {
		return err
	}
	sum := blake3.Sum256(payload)
	value := make([]byte, 0, checksumSize+len(payload))
	value = append(value, sum[:]...)
	value = append(value, payload...)
	if err := db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketStats).Put([]byte(identity), value)
	}); err != nil {
		return fmt.Errorf("write cache entry %s: %w", identity, err)
	}
	slog.Debug("cache entry written", slog.String("identity", identity), slog.String("path", b.Path()))
	return nil
}

func (b *BoltStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}
