package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/owlog/pkg/types"
	"github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketStatus    = []byte("status")
	bucketSummaries = []byte("summaries")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the database file at path
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	// A second collector on the same file fails instead of blocking forever
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketStatus, bucketSummaries} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Status operations
func (s *BoltStore) PutStatus(status *types.ControllerStatus) error {
	return s.put(bucketStatus, []byte(status.Name), status)
}

func (s *BoltStore) GetStatus(name string) (*types.ControllerStatus, error) {
	var status types.ControllerStatus
	if err := s.get(bucketStatus, []byte(name), &status); err != nil {
		return nil, fmt.Errorf("status %s: %w", name, err)
	}
	return &status, nil
}

func (s *BoltStore) ListStatus() ([]*types.ControllerStatus, error) {
	var list []*types.ControllerStatus
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStatus)
		return b.ForEach(func(k, v []byte) error {
			var status types.ControllerStatus
			if err := json.Unmarshal(v, &status); err != nil {
				return err
			}
			list = append(list, &status)
			return nil
		})
	})
	return list, err
}

// Summary operations. Keys are <controller>/<YYYYMMDD> so one controller's
// days are contiguous and sorted.
func summaryKey(controller, day string) []byte {
	return []byte(controller + "/" + day)
}

func (s *BoltStore) PutSummary(summary *types.DailySummary) error {
	return s.put(bucketSummaries, summaryKey(summary.Controller, summary.Day), summary)
}

func (s *BoltStore) GetSummary(controller, day string) (*types.DailySummary, error) {
	var summary types.DailySummary
	if err := s.get(bucketSummaries, summaryKey(controller, day), &summary); err != nil {
		return nil, fmt.Errorf("summary %s/%s: %w", controller, day, err)
	}
	return &summary, nil
}

func (s *BoltStore) ListSummaries(controller string) ([]*types.DailySummary, error) {
	prefix := []byte(controller + "/")
	var list []*types.DailySummary

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSummaries).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var summary types.DailySummary
			if err := json.Unmarshal(v, &summary); err != nil {
				return err
			}
			list = append(list, &summary)
		}
		return nil
	})
	return list, err
}

func (s *BoltStore) put(bucket, key []byte, v any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put(key, data)
	})
}

func (s *BoltStore) get(bucket, key []byte, v any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get(key)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, v)
	})
}
