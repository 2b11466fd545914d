package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/go-json-experiment/json"
	bolt "go.etcd.io/bbolt"
)

var boltMetaBucket = []byte("__meta")

// Bolt stores every database in its own bucket of a single bbolt file.
// Values are prefixed with the 8-byte record sequence.
type Bolt struct {
	Filename string
	db       *bolt.DB
}

func OpenBolt(filename string, readOnly bool) (*Bolt, error) {

	options := &bolt.Options{
		Timeout:  1 * time.Second,
		ReadOnly: readOnly,
	}
	db, err := bolt.Open(filename, 0600, options)
	if errors.Is(err, bolt.ErrTimeout) {
		return nil, fmt.Errorf("'%s': %w", filename, ErrLocked)
	}
	if err != nil {
		return nil, fmt.Errorf("open bolt '%s': %w", filename, err)
	}

	return &Bolt{
		Filename: filename,
		db:       db,
	}, nil
}

func boltBucket(db string) []byte {
	return []byte("db:" + db)
}

func (b *Bolt) Meta(db string) (*Meta, error) {
	var meta *Meta
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltMetaBucket)
		if bucket == nil {
			return nil
		}
		raw := bucket.Get([]byte(db))
		if raw == nil {
			return nil
		}
		meta = &Meta{}
		err := json.Unmarshal(raw, meta)
		if err != nil {
			return fmt.Errorf("meta of '%s': %w", db, ErrCorrupt)
		}
		return nil
	})
	return meta, err
}

func (b *Bolt) Load(db string, f func(e Entry) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket(db))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			if len(v) < 8 {
				return fmt.Errorf("record of '%s': %w", db, ErrCorrupt)
			}
			return f(Entry{
				Key:   bytes.Clone(k),
				Value: bytes.Clone(v[8:]),
				Seq:   binary.BigEndian.Uint64(v),
			})
		})
	})
}

func (b *Bolt) Commit(db string, meta *Meta, ops []Op) error {
	if b.db.IsReadOnly() {
		return ErrReadOnly
	}

	return b.db.Update(func(tx *bolt.Tx) error {

		if meta != nil {
			metas, err := tx.CreateBucketIfNotExists(boltMetaBucket)
			if err != nil {
				return err
			}
			raw, err := json.Marshal(meta)
			if err != nil {
				return err
			}
			err = metas.Put([]byte(db), raw)
			if err != nil {
				return err
			}
		}

		bucket, err := tx.CreateBucketIfNotExists(boltBucket(db))
		if err != nil {
			return err
		}

		for _, op := range ops {
			if op.Delete {
				err = bucket.Delete(op.Key)
			} else {
				value := make([]byte, 8+len(op.Value))
				binary.BigEndian.PutUint64(value, op.Seq)
				copy(value[8:], op.Value)
				err = bucket.Put(op.Key, value)
			}
			if err != nil {
				return fmt.Errorf("commit '%s': %w", db, err)
			}
		}
		return nil
	})
}

func (b *Bolt) Databases() ([]string, error) {
	names := []string{}
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltMetaBucket)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
