package storage

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketUI   = []byte("ui")
	bucketMeta = []byte("meta")

	keyServerOrder   = []byte("serverOrder")
	keySchemaVersion = []byte("schemaVersion")
)

// schemaVersion marks the current database layout
const schemaVersion = "1"

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database at dbPath
func NewBoltStore(dbPath string) (*BoltStore, error) {
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketUI, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		meta := tx.Bucket(bucketMeta)
		if meta.Get(keySchemaVersion) == nil {
			return meta.Put(keySchemaVersion, []byte(schemaVersion))
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

// SetServerOrder replaces the saved display order
func (s *BoltStore) SetServerOrder(ids []string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(ids)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketUI).Put(keyServerOrder, data)
	})
}

// GetServerOrder returns the saved display order, nil when unset
func (s *BoltStore) GetServerOrder() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketUI).Get(keyServerOrder)
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &ids)
	})
	return ids, err
}
