package broker

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketTopics  = []byte("topics")
	bucketDevices = []byte("devices")
)

// StateCache persists connection state (subscribed topic list, last seen
// device list) so the service can resume best-effort after a restart.
type StateCache struct {
	db *bolt.DB
}

// OpenStateCache opens (creating if needed) the bbolt file at path.
func OpenStateCache(path string) (*StateCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("state cache dir: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("state cache open: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketTopics); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketDevices)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &StateCache{db: db}, nil
}

// Close closes the underlying database.
func (c *StateCache) Close() error { return c.db.Close() }

// SaveTopics replaces the cached topic list.
func (c *StateCache) SaveTopics(topics []string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketTopics); err != nil {
			return err
		}
		b, err := tx.CreateBucket(bucketTopics)
		if err != nil {
			return err
		}
		for _, t := range topics {
			if err := b.Put([]byte(t), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadTopics returns the cached topic list, nil if none.
func (c *StateCache) LoadTopics() ([]string, error) {
	var topics []string
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTopics)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			topics = append(topics, string(k))
			return nil
		})
	})
	return topics, err
}

// SaveDeviceList stores the raw bridge device-list payload.
func (c *StateCache) SaveDeviceList(payload []byte) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevices).Put([]byte("list"), payload)
	})
}

// LoadDeviceList returns the cached device-list payload, nil if none.
func (c *StateCache) LoadDeviceList() ([]byte, error) {
	var out []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketDevices).Get([]byte("list")); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}
