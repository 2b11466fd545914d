package service

import (
	"errors"

	"github.com/fulldump/qmapdb/database"
	"github.com/fulldump/qmapdb/store"
)

var (
	ErrorStoreNotFound = errors.New("store not found")
	ErrorBadValue      = errors.New("bad value")
)

type Servicer interface {
	OpenStore(input *OpenStoreInput) (*StoreInfo, error)
	GetStore(name string) (*StoreInfo, error)
	ListStores() []*StoreInfo
	CloseStore(name string) error
	DropStore(name string) error

	Put(name string, key, value any) (bool, error)
	Get(name string, key any) (any, bool, error)
	Delete(name string, key any) (bool, error)
	Scan(name string, input *ScanInput, f func(key, value any) bool) error

	Save() error
}

type OpenStoreInput struct {
	Name     string `json:"name"`
	Path     string `json:"path"` // defaults to name
	Key      string `json:"key"`
	Value    string `json:"value"`
	Features string `json:"features"`
	ReadOnly bool   `json:"read_only"`
	Truncate bool   `json:"truncate"`
}

type ScanInput struct {
	From  any  `json:"from"`
	Range bool `json:"range"`
}

type StoreInfo struct {
	database.Info
	Stats store.Stats `json:"stats"`
}
