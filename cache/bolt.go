package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"spotify-lyrics-api-go/logcolors"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

// ErrKeyNotFound is returned by Get when the key has no value in the bucket
var ErrKeyNotFound = errors.New("key not found")

// BoltStore is a small key/value store over a single BoltDB bucket
type BoltStore struct {
	db     *bolt.DB
	dbPath string
	bucket []byte
}

// OpenBoltStore opens (or creates) the database file and ensures the bucket exists
func OpenBoltStore(dbPath, bucket string) (*BoltStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	if info, err := os.Stat(dbPath); err == nil {
		log.Infof("%s Found existing database file at: %s (size: %d bytes)", logcolors.LogTokenStore, dbPath, info.Size())
	} else {
		log.Infof("%s Creating new database file at: %s", logcolors.LogTokenStore, dbPath)
	}

	// A second process holding the file lock should fail fast instead of hanging
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket %q: %w", bucket, err)
	}

	return &BoltStore{
		db:     db,
		dbPath: dbPath,
		bucket: []byte(bucket),
	}, nil
}

// Get returns a copy of the value stored under key
func (s *BoltStore) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return fmt.Errorf("bucket %q not found", s.bucket)
		}

		data := b.Get([]byte(key))
		if data == nil {
			return ErrKeyNotFound
		}

		// data is only valid for the life of the transaction
		value = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put stores value under key, replacing any previous value
func (s *BoltStore) Put(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return fmt.Errorf("bucket %q not found", s.bucket)
		}
		return b.Put([]byte(key), value)
	})
}

// Delete removes key from the bucket; deleting a missing key is not an error
func (s *BoltStore) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return fmt.Errorf("bucket %q not found", s.bucket)
		}
		return b.Delete([]byte(key))
	})
}

// Path returns the database file path
func (s *BoltStore) Path() string {
	return s.dbPath
}

// Close closes the database connection
func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
