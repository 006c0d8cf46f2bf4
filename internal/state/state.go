package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

// ErrLocked is returned when another process, usually a running agent,
// holds the state database.
var ErrLocked = errors.New("state database is in use by another medsync process; stop `medsync run` first")

var (
	appBucket = []byte("app")
	tokenKey  = []byte("token")
	ownerKey  = []byte("owner")
)

// ownerBucket holds the sync flags of one owner. Keys are resource names
// for the per-resource pulled flags plus metaKey.
func ownerBucket(ownerID string) []byte {
	return []byte("owner:" + ownerID + ":sync")
}

var metaKey = []byte("_meta")

// SyncMeta is the owner-wide sync bookkeeping.
type SyncMeta struct {
	FullySynced bool  `json:"fully_synced"`
	LastPush    int64 `json:"last_push"`
	LastPull    int64 `json:"last_pull"`
}

// State wraps a bbolt database for the session and sync flags.
type State struct {
	db *bolt.DB
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist.
func LoadAt(path string) (*State, error) {
	return loadAt(path, stateOpenTimeout)
}

func loadAt(path string, timeout time.Duration) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: timeout})
	if errors.Is(err, bolt.ErrTimeout) {
		return nil, fmt.Errorf("opening state db %s: %w", path, ErrLocked)
	}

	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(appBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Token returns the cached API token, or empty string.
func (s *State) Token() string {
	return s.getApp(tokenKey)
}

// SetToken persists the API token.
func (s *State) SetToken(token string) error {
	return s.putApp(tokenKey, token)
}

// Owner returns the id of the last signed-in owner, or empty string.
func (s *State) Owner() string {
	return s.getApp(ownerKey)
}

// SetOwner persists the signed-in owner id.
func (s *State) SetOwner(ownerID string) error {
	return s.putApp(ownerKey, ownerID)
}

func (s *State) getApp(key []byte) string {
	var val string

	_ = s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(appBucket).Get(key); v != nil {
			val = string(v)
		}

		return nil
	})

	return val
}

func (s *State) putApp(key []byte, val string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(key, []byte(val))
	})
}

// Pulled reports whether the full pull of a resource already succeeded
// for this owner.
func (s *State) Pulled(ownerID, resource string) (bool, error) {
	var pulled bool

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(ownerBucket(ownerID))
		if b == nil {
			return nil
		}

		v := b.Get([]byte(resource))
		pulled = len(v) == 1 && v[0] == 1

		return nil
	})

	return pulled, err
}

// SetPulled sets the per-resource pulled flag.
func (s *State) SetPulled(ownerID, resource string, pulled bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(ownerBucket(ownerID))
		if err != nil {
			return err
		}

		if !pulled {
			return b.Delete([]byte(resource))
		}

		return b.Put([]byte(resource), []byte{1})
	})
}

// ResetPulled clears every pulled flag and the fully-synced flag of an
// owner, so the next reconciliation pulls everything again.
func (s *State) ResetPulled(ownerID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		name := ownerBucket(ownerID)
		if tx.Bucket(name) == nil {
			return nil
		}

		meta, err := readMeta(tx, ownerID)
		if err != nil {
			return err
		}

		if err := tx.DeleteBucket(name); err != nil {
			return err
		}

		meta.FullySynced = false

		return writeMeta(tx, ownerID, meta)
	})
}

// Meta returns the owner's sync bookkeeping, zero-valued if never written.
func (s *State) Meta(ownerID string) (SyncMeta, error) {
	var meta SyncMeta

	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		meta, err = readMeta(tx, ownerID)

		return err
	})

	return meta, err
}

// UpdateMeta applies fn to the owner's sync bookkeeping atomically.
func (s *State) UpdateMeta(ownerID string, fn func(*SyncMeta)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta, err := readMeta(tx, ownerID)
		if err != nil {
			return err
		}

		fn(&meta)

		return writeMeta(tx, ownerID, meta)
	})
}

func readMeta(tx *bolt.Tx, ownerID string) (SyncMeta, error) {
	var meta SyncMeta

	b := tx.Bucket(ownerBucket(ownerID))
	if b == nil {
		return meta, nil
	}

	v := b.Get(metaKey)
	if v == nil {
		return meta, nil
	}

	if err := json.Unmarshal(v, &meta); err != nil {
		return meta, fmt.Errorf("decoding sync meta: %w", err)
	}

	return meta, nil
}

func writeMeta(tx *bolt.Tx, ownerID string, meta SyncMeta) error {
	b, err := tx.CreateBucketIfNotExists(ownerBucket(ownerID))
	if err != nil {
		return err
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	return b.Put(metaKey, data)
}
