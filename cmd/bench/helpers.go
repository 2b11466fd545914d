package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fulldump/qmapdb/bootstrap"
	"github.com/fulldump/qmapdb/codec"
	"github.com/fulldump/qmapdb/configuration"
	"github.com/fulldump/qmapdb/database"
	"github.com/fulldump/qmapdb/store"
)

type JSON = map[string]any

func Parallel(workers int, f func(worker int)) {
	wg := &sync.WaitGroup{}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			f(worker)
		}(i)
	}
	wg.Wait()
}

func TempDir() (string, func()) {
	dir, err := os.MkdirTemp("", "qmapdb_bench_*")
	if err != nil {
		panic("Could not create temp directory: " + err.Error())
	}

	cleanup := func() {
		os.RemoveAll(dir)
	}

	return dir, cleanup
}

// OpenStore creates a database in a temp dir with one u32 -> string
// store.
func OpenStore(c Config) (*database.Database, database.Handle) {
	dir, cleanup := TempDir()
	cleanups = append(cleanups, cleanup)

	features, err := store.ParseFeatures(c.Features)
	if err != nil {
		panic(err)
	}

	db := database.New(&database.Config{Dir: dir, Engine: c.Engine})
	h, err := db.Open("bench", "store-"+uuid.New().String(), codec.U32, codec.String, features, store.Create)
	if err != nil {
		panic(err)
	}
	return db, h
}

func Report(name string, n int64, took time.Duration) {
	fmt.Println(name, "ops:", n)
	fmt.Println(name, "took:", took)
	fmt.Printf("%s throughput: %.2f ops/sec\n", name, float64(n)/took.Seconds())
}

func CreateStore(base string) string {

	name := "store-" + uuid.New().String()

	payload, _ := json.Marshal(JSON{"name": name, "key": "u32", "value": "string"})

	req, _ := http.NewRequest("POST", base+"/v1/stores", bytes.NewReader(payload))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		panic(err)
	}
	defer resp.Body.Close()

	io.Copy(os.Stdout, resp.Body)

	return name
}

func CreateServer(c *Config) (start, stop func()) {
	dir, cleanup := TempDir()
	cleanups = append(cleanups, cleanup)

	conf := configuration.Default()
	conf.Dir = dir
	conf.Engine = c.Engine
	c.Base = "http://" + conf.HttpAddr

	return bootstrap.Bootstrap(conf)
}
