package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/cockroachdb/pebble"
	"github.com/go-json-experiment/json"

	"github.com/fulldump/qmapdb/codec"
	"github.com/fulldump/qmapdb/logger"
)

const (
	pebbleMetaPrefix   = 'm'
	pebbleRecordPrefix = 'r'
)

// Pebble stores every database under its own key prefix:
// 'r' | xxhash64(db) | key. Values carry the 8-byte record sequence.
type Pebble struct {
	Dirname string
	db      *pebble.DB
}

func OpenPebble(dirname string, readOnly bool) (*Pebble, error) {

	db, err := pebble.Open(dirname, &pebble.Options{
		ReadOnly: readOnly,
		Logger:   pebbleLogger{},
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble '%s': %w", dirname, err)
	}

	return &Pebble{
		Dirname: dirname,
		db:      db,
	}, nil
}

// pebbleLogger sends pebble's own messages to the storage logger.
type pebbleLogger struct{}

func (pebbleLogger) Infof(format string, args ...interface{}) {
	logger.Storage.Debug().Msgf(format, args...)
}

func (pebbleLogger) Fatalf(format string, args ...interface{}) {
	logger.Storage.Fatal().Msgf(format, args...)
}

func pebblePrefix(kind byte, db string) []byte {
	prefix := make([]byte, 9)
	prefix[0] = kind
	binary.BigEndian.PutUint64(prefix[1:], codec.HashString(db))
	return prefix
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (p *Pebble) Meta(db string) (*Meta, error) {
	raw, closer, err := p.db.Get(pebblePrefix(pebbleMetaPrefix, db))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	meta := &Meta{}
	err = json.Unmarshal(raw, meta)
	if err != nil {
		return nil, fmt.Errorf("meta of '%s': %w", db, ErrCorrupt)
	}
	return meta, nil
}

func (p *Pebble) Load(db string, f func(e Entry) error) error {

	prefix := pebblePrefix(pebbleRecordPrefix, db)
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if len(value) < 8 {
			return fmt.Errorf("record of '%s': %w", db, ErrCorrupt)
		}
		err = f(Entry{
			Key:   bytes.Clone(iter.Key()[len(prefix):]),
			Value: bytes.Clone(value[8:]),
			Seq:   binary.BigEndian.Uint64(value),
		})
		if err != nil {
			return err
		}
	}

	return iter.Error()
}

func (p *Pebble) Commit(db string, meta *Meta, ops []Op) error {

	batch := p.db.NewBatch()
	defer batch.Close()

	if meta != nil {
		raw, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		err = batch.Set(pebblePrefix(pebbleMetaPrefix, db), raw, nil)
		if err != nil {
			return err
		}
	}

	prefix := pebblePrefix(pebbleRecordPrefix, db)
	for _, op := range ops {
		key := append(bytes.Clone(prefix), op.Key...)
		var err error
		if op.Delete {
			err = batch.Delete(key, nil)
		} else {
			value := make([]byte, 8+len(op.Value))
			binary.BigEndian.PutUint64(value, op.Seq)
			copy(value[8:], op.Value)
			err = batch.Set(key, value, nil)
		}
		if err != nil {
			return fmt.Errorf("commit '%s': %w", db, err)
		}
	}

	err := batch.Commit(pebble.Sync)
	if errors.Is(err, pebble.ErrReadOnly) {
		return ErrReadOnly
	}
	return err
}

// Databases reads the names back from the meta records, keys only carry
// their hash.
func (p *Pebble) Databases() ([]string, error) {

	prefix := []byte{pebbleMetaPrefix}
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	names := []string{}
	for iter.First(); iter.Valid(); iter.Next() {
		meta := &Meta{}
		err := json.Unmarshal(iter.Value(), meta)
		if err != nil {
			return nil, fmt.Errorf("meta: %w", ErrCorrupt)
		}
		names = append(names, meta.Name)
	}
	sort.Strings(names)

	return names, iter.Error()
}

func (p *Pebble) Close() error {
	return p.db.Close()
}
