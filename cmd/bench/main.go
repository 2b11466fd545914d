package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/fulldump/goconfig"
)

type Config struct {
	Test     string `usage:"name of the test: ALL | PUT | GET | HTTP"`
	Base     string `usage:"base URL, empty starts a local server"`
	Engine   string `usage:"storage engine: journal | bolt | pebble"`
	Features string `usage:"store features, for example sorted|mirror|pget"`
	N        int64  `usage:"number of records"`
	Workers  int    `usage:"number of workers"`
}

var cleanups []func()

func main() {

	defer func() {
		fmt.Println("Cleaning up...")
		for _, cleanup := range cleanups {
			cleanup()
		}
	}()

	c := Config{
		Test:     "all",
		Base:     "",
		Engine:   "journal",
		Features: "sorted",
		N:        1_000_000,
		Workers:  16,
	}
	goconfig.Read(&c)

	switch strings.ToUpper(c.Test) {
	case "ALL":
		TestPut(c)
		TestGet(c)
		TestHttp(c)
	case "PUT":
		TestPut(c)
	case "GET":
		TestGet(c)
	case "HTTP":
		TestHttp(c)
	default:
		log.Fatalf("Unknown test %s", c.Test)
	}

}
