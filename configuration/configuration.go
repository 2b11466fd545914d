package configuration

import "time"

type Configuration struct {
	HttpAddr          string        `usage:"HTTP address"`
	HttpWriteTimeout  time.Duration `usage:"maximum duration before timing out writes of the response"`
	Dir               string        `usage:"data directory"`
	Engine            string        `usage:"storage engine for new files: journal | bolt | pebble"`
	ReadOnly          bool          `usage:"open every store read only"`
	SaveInterval      time.Duration `usage:"save every store periodically, 0 disables it"`
	LogLevel          string        `usage:"log level: debug | info | warn | error"`
	LogFormat         string        `usage:"log format: console | json"`
	ApiKey            string        `usage:"API key, leave empty to disable authentication"`
	ApiSecret         string        `usage:"API secret"`
	EnableCompression bool          `usage:"gzip responses when the client accepts it"`
	Version           bool          `usage:"show version and exit"`
	ShowBanner        bool          `usage:"show big banner"`
	ShowConfig        bool          `usage:"print config"`
}

func Default() *Configuration {
	return &Configuration{
		HttpAddr:         "localhost:8080",
		HttpWriteTimeout: 30 * time.Second,
		Dir:              "data",
		Engine:           "journal",
		SaveInterval:     10 * time.Second,
		LogLevel:         "info",
		LogFormat:        "console",
		ShowBanner:       true,
	}
}
