package spotify

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"spotify-lyrics-api-go/cache"
	"spotify-lyrics-api-go/logcolors"

	log "github.com/sirupsen/logrus"
)

const (
	StoreFile = "file"
	StoreBolt = "bolt"

	tokenBucket = "token"
	tokenKey    = "current"
)

// TokenStore is a single-slot durable cache for the current TokenRecord.
// Load reports ErrTokenNotFound for both a missing and an unreadable record.
// Store failures wrap ErrPersistence.
type TokenStore interface {
	Load() (*TokenRecord, error)
	Store(rec TokenRecord) error
	Close() error
}

// OpenTokenStore opens the store selected by kind ("file" or "bolt")
func OpenTokenStore(kind, filePath, dbPath string) (TokenStore, error) {
	switch kind {
	case "", StoreFile:
		return NewFileTokenStore(filePath), nil
	case StoreBolt:
		return OpenBoltTokenStore(dbPath)
	default:
		return nil, fmt.Errorf("unknown token store %q (expected %q or %q)", kind, StoreFile, StoreBolt)
	}
}

// FileTokenStore keeps the record as a JSON file. Writes go through a temp file and a rename.
type FileTokenStore struct {
	path string
	mu   sync.Mutex
}

func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

func (s *FileTokenStore) Load() (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenNotFound, err)
	}

	var rec TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Warnf("%s Ignoring corrupt token cache %s: %v", logcolors.LogTokenStore, s.path, err)
		return nil, fmt.Errorf("%w: corrupt record: %v", ErrTokenNotFound, err)
	}
	return &rec, nil
}

func (s *FileTokenStore) Store(rec TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

func (s *FileTokenStore) Close() error {
	return nil
}

// Path returns the cache file location
func (s *FileTokenStore) Path() string {
	return s.path
}

// BoltTokenStore keeps the record under a fixed key in a bbolt bucket
type BoltTokenStore struct {
	db *cache.BoltStore
}

func OpenBoltTokenStore(dbPath string) (*BoltTokenStore, error) {
	db, err := cache.OpenBoltStore(dbPath, tokenBucket)
	if err != nil {
		return nil, err
	}
	return &BoltTokenStore{db: db}, nil
}

func (s *BoltTokenStore) Load() (*TokenRecord, error) {
	data, err := s.db.Get(tokenKey)
	if err != nil {
		if errors.Is(err, cache.ErrKeyNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenNotFound, err)
	}

	var rec TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Warnf("%s Ignoring corrupt token record in %s: %v", logcolors.LogTokenStore, s.db.Path(), err)
		return nil, fmt.Errorf("%w: corrupt record: %v", ErrTokenNotFound, err)
	}
	return &rec, nil
}

func (s *BoltTokenStore) Store(rec TokenRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := s.db.Put(tokenKey, data); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// Clear removes the stored record
func (s *BoltTokenStore) Clear() error {
	return s.db.Delete(tokenKey)
}

func (s *BoltTokenStore) Close() error {
	return s.db.Close()
}
