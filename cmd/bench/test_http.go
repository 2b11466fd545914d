package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"
)

func TestHttp(c Config) {

	if c.Base == "" {
		start, stop := CreateServer(&c)
		defer stop()
		go start()
		time.Sleep(500 * time.Millisecond)
	}

	name := CreateStore(c.Base)

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     1024,
			MaxIdleConnsPerHost: 1024,
			MaxIdleConns:        1024,
		},
	}

	items := c.N

	go func() {
		for {
			fmt.Println("items:", atomic.LoadInt64(&items))
			time.Sleep(1 * time.Second)
		}
	}()

	t0 := time.Now()
	Parallel(c.Workers, func(worker int) {
		for {
			n := atomic.AddInt64(&items, -1)
			if n < 0 {
				return
			}
			body := fmt.Sprintf(`{"key":%d,"value":"value %d"}`, n, n)
			req, err := http.NewRequest("POST", c.Base+"/v1/stores/"+name+":put", bytes.NewBufferString(body))
			if err != nil {
				fmt.Println("ERROR: new request:", err.Error())
				os.Exit(3)
			}
			resp, err := client.Do(req)
			if err != nil {
				fmt.Println("ERROR: do request:", err.Error())
				os.Exit(4)
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	})

	Report("http put", c.N, time.Since(t0))
}
