package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fulldump/goconfig"

	"github.com/fulldump/qmapdb/bootstrap"
	"github.com/fulldump/qmapdb/configuration"
	"github.com/fulldump/qmapdb/logger"
)

var banner = `
                                 _ _     
  __ _ _ __ ___   __ _ _ __   __| | |__  
 / _' | '_ ' _ \ / _' | '_ \ / _' | '_ \ 
| (_| | | | | | | (_| | |_) | (_| | |_) |
 \__, |_| |_| |_|\__,_| .__/ \__,_|_.__/ 
    |_|               |_|    version ` + bootstrap.VERSION + `
`

func main() {

	c := configuration.Default()
	goconfig.Read(c)

	if c.Version {
		fmt.Println("Version:", bootstrap.VERSION)
		return
	}

	level, err := logger.ParseLevel(c.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err.Error())
		os.Exit(2)
	}
	format, err := logger.ParseFormat(c.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err.Error())
		os.Exit(2)
	}
	logger.Init(logger.Options{Level: level, Format: format})

	if c.ShowBanner {
		fmt.Println(banner)
	}

	if c.ShowConfig {
		e := json.NewEncoder(os.Stdout)
		e.SetIndent("", "    ")
		e.Encode(c)
	}

	start, _ := bootstrap.Bootstrap(c)
	start()
}
