package main

import (
	"fmt"
	"math/rand"
	"time"
)

func TestGet(c Config) {

	db, h := OpenStore(c)
	defer db.Shutdown()

	for n := int64(0); n < c.N; n++ {
		db.Put(h, n, fmt.Sprintf("value %d", n))
	}

	perWorker := c.N / int64(c.Workers)

	t0 := time.Now()
	Parallel(c.Workers, func(worker int) {
		r := rand.New(rand.NewSource(int64(worker)))
		for i := int64(0); i < perWorker; i++ {
			_, found, err := db.Get(h, r.Int63n(c.N))
			if err != nil || !found {
				panic(fmt.Sprintf("get: found=%v err=%v", found, err))
			}
		}
	})
	Report("get", perWorker*int64(c.Workers), time.Since(t0))

	stats, _ := db.Stats(h)
	fmt.Printf("reads: %d mirror hits: %d mirror fills: %d\n", stats.Reads, stats.MirrorHits, stats.MirrorFills)
}
