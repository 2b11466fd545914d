package main

import (
	"fmt"
	"sync/atomic"
	"time"
)

func TestPut(c Config) {

	db, h := OpenStore(c)
	defer db.Shutdown()

	items := c.N

	t0 := time.Now()
	Parallel(c.Workers, func(worker int) {
		for {
			n := atomic.AddInt64(&items, -1)
			if n < 0 {
				return
			}
			_, err := db.Put(h, n, fmt.Sprintf("value %d", n))
			if err != nil {
				panic(err)
			}
		}
	})
	Report("put", c.N, time.Since(t0))

	t0 = time.Now()
	err := db.Save()
	if err != nil {
		panic(err)
	}
	fmt.Println("save took:", time.Since(t0))
}
