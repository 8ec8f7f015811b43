package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gravitational/trace"
	bolt "go.etcd.io/bbolt"
)

// rootBucket is the single top-level bucket all keys live under. Prefix
// scoping (workspace/folder/document/invite) happens in the key bytes
// rather than in nested buckets, mirroring the flat keyspace the teacher's
// kubernetes-secret backend exposes above its secret resource.
var rootBucket = []byte("sidecar")

// BoltBackend is the on-disk engine: a single bbolt file under
// NAHMA_STORAGE_DIR, per spec §6.
type BoltBackend struct {
	db *bolt.DB
}

// OpenBolt opens (creating if absent) a bbolt database file at path.
func OpenBolt(path string) (*BoltBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, trace.Wrap(err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, trace.Wrap(err)
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Put(_ context.Context, key, value []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(rootBucket).Put(key, value)
	})
	return trace.Wrap(err)
}

func (b *BoltBackend) Get(_ context.Context, key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(rootBucket).Get(key)
		if v == nil {
			return ErrNotFound
		}
		out = append(out, v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BoltBackend) Delete(_ context.Context, key []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(rootBucket)
		if bucket.Get(key) == nil {
			return ErrNotFound
		}
		return bucket.Delete(key)
	})
	if err == ErrNotFound {
		return ErrNotFound
	}
	return trace.Wrap(err)
}

func (b *BoltBackend) GetRange(_ context.Context, prefix []byte) ([]Item, error) {
	var out []Item
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(rootBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			item := Item{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)}
			out = append(out, item)
		}
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return out, nil
}

func (b *BoltBackend) Close() error {
	return trace.Wrap(b.db.Close())
}
