package service

import (
	"encoding/base64"
	"fmt"

	"github.com/fulldump/qmapdb/codec"
	"github.com/fulldump/qmapdb/database"
	"github.com/fulldump/qmapdb/store"
)

// Service exposes the stores of a database by name. Values travel as
// JSON: strings for string kinds, numbers for u32 and handle, base64
// for blobs.
type Service struct {
	db *database.Database
}

func NewService(db *database.Database) *Service {
	return &Service{
		db: db,
	}
}

func (s *Service) lookup(name string) (database.Info, error) {
	for _, info := range s.db.List() {
		if info.Name == name {
			return info, nil
		}
	}
	return database.Info{}, fmt.Errorf("'%s': %w", name, ErrorStoreNotFound)
}

func (s *Service) OpenStore(input *OpenStoreInput) (*StoreInfo, error) {

	if input.Name == "" {
		return nil, fmt.Errorf("name is required: %w", ErrorBadValue)
	}
	key, err := codec.ParseKind(input.Key)
	if err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}
	value, err := codec.ParseKind(input.Value)
	if err != nil {
		return nil, fmt.Errorf("value: %w", err)
	}
	features, err := store.ParseFeatures(input.Features)
	if err != nil {
		return nil, fmt.Errorf("features: %w: %w", ErrorBadValue, err)
	}

	flags := store.Create
	if input.ReadOnly {
		flags = store.ReadOnly
	}
	if input.Truncate {
		flags |= store.Truncate
	}

	path := input.Path
	if path == "" {
		path = input.Name
	}

	h, err := s.db.Open(path, input.Name, key, value, features, flags)
	if err != nil {
		return nil, err
	}
	return s.info(h)
}

func (s *Service) info(h database.Handle) (*StoreInfo, error) {
	info, err := s.db.Info(h)
	if err != nil {
		return nil, err
	}
	stats, err := s.db.Stats(h)
	if err != nil {
		return nil, err
	}
	return &StoreInfo{Info: info, Stats: stats}, nil
}

func (s *Service) GetStore(name string) (*StoreInfo, error) {
	info, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return s.info(info.Handle)
}

func (s *Service) ListStores() []*StoreInfo {
	result := []*StoreInfo{}
	for _, info := range s.db.List() {
		stats, _ := s.db.Stats(info.Handle)
		result = append(result, &StoreInfo{Info: info, Stats: stats})
	}
	return result
}

func (s *Service) CloseStore(name string) error {
	info, err := s.lookup(name)
	if err != nil {
		return err
	}
	return s.db.Close(info.Handle)
}

func (s *Service) DropStore(name string) error {
	info, err := s.lookup(name)
	if err != nil {
		return err
	}
	return s.db.Drop(info.Handle)
}

func (s *Service) Put(name string, key, value any) (bool, error) {
	info, err := s.lookup(name)
	if err != nil {
		return false, err
	}
	k, err := fromJSON(info.KeyKind, key)
	if err != nil {
		return false, fmt.Errorf("key: %w", err)
	}
	v, err := fromJSON(info.ValueKind, value)
	if err != nil {
		return false, fmt.Errorf("value: %w", err)
	}
	return s.db.Put(info.Handle, k, v)
}

func (s *Service) Get(name string, key any) (any, bool, error) {
	info, err := s.lookup(name)
	if err != nil {
		return nil, false, err
	}
	k, err := fromJSON(info.KeyKind, key)
	if err != nil {
		return nil, false, fmt.Errorf("key: %w", err)
	}
	return s.db.Get(info.Handle, k)
}

func (s *Service) Delete(name string, key any) (bool, error) {
	info, err := s.lookup(name)
	if err != nil {
		return false, err
	}
	k, err := fromJSON(info.KeyKind, key)
	if err != nil {
		return false, fmt.Errorf("key: %w", err)
	}
	return s.db.Del(info.Handle, k)
}

// Scan calls f for every record the cursor yields until f returns
// false.
func (s *Service) Scan(name string, input *ScanInput, f func(key, value any) bool) error {
	info, err := s.lookup(name)
	if err != nil {
		return err
	}

	var from any
	if input.From != nil {
		from, err = fromJSON(info.KeyKind, input.From)
		if err != nil {
			return fmt.Errorf("from: %w", err)
		}
	}
	flags := store.IterFlags(0)
	if input.Range {
		flags |= store.Range
	}

	c, err := s.db.Iter(info.Handle, from, flags)
	if err != nil {
		return err
	}
	defer s.db.Fin(c)

	for {
		key, value, ok, err := s.db.Next(c)
		if err != nil {
			return err
		}
		if !ok || !f(key, value) {
			return nil
		}
	}
}

func (s *Service) Save() error {
	return s.db.Save()
}

// fromJSON turns a decoded JSON value into what the codec expects for
// kind.
func fromJSON(kind string, v any) (any, error) {
	switch kind {
	case codec.String.String(), codec.U32.String(), codec.Handle.String():
		return v, nil
	}
	// blobs and registered kinds
	text, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected base64 string, got %T: %w", v, ErrorBadValue)
	}
	b, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrorBadValue, err)
	}
	return b, nil
}
