package bolt

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/twnesss/skunk/adapter"
	"github.com/twnesss/skunk/capture"

	E "github.com/sagernet/sing/common/exceptions"

	"github.com/sagernet/bbolt"
)

var bucketBlob = []byte("blob")

var _ adapter.BlobStore = (*BlobStore)(nil)

// BlobStore keeps artifact content in a bbolt file keyed by content hash.
type BlobStore struct {
	db *bbolt.DB
}

func Open(path string) (*BlobStore, error) {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return nil, E.Cause(err, "create blob store directory")
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, E.Cause(err, "open blob store")
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBlob)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BlobStore{db: db}, nil
}

func (s *BlobStore) Close() error {
	return s.db.Close()
}

func (s *BlobStore) PutBlob(ctx context.Context, hash string, content []byte) (bool, error) {
	var stored bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketBlob)
		existing := bucket.Get([]byte(hash))
		if existing != nil {
			if !bytes.Equal(existing, content) {
				return E.Extend(capture.ErrHashCollision, hash)
			}
			return nil
		}
		stored = true
		return bucket.Put([]byte(hash), content)
	})
	if err != nil {
		return false, err
	}
	return stored, nil
}

func (s *BlobStore) HasBlob(ctx context.Context, hash string) (bool, error) {
	var loaded bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		loaded = tx.Bucket(bucketBlob).Get([]byte(hash)) != nil
		return nil
	})
	return loaded, err
}

func (s *BlobStore) Blob(ctx context.Context, hash string) ([]byte, error) {
	var content []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(bucketBlob).Get([]byte(hash))
		if value == nil {
			return os.ErrNotExist
		}
		content = bytes.Clone(value)
		return nil
	})
	return content, err
}
