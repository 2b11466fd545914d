package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fulldump/box"

	"github.com/fulldump/qmapdb/api"
	"github.com/fulldump/qmapdb/configuration"
	"github.com/fulldump/qmapdb/database"
	"github.com/fulldump/qmapdb/logger"
	"github.com/fulldump/qmapdb/service"
)

var VERSION = "dev"

// Bootstrap wires the database and the HTTP API. start blocks until
// stop is called or the process is signaled.
func Bootstrap(c *configuration.Configuration) (start, stop func()) {

	db := database.New(&database.Config{
		Dir:          c.Dir,
		Engine:       c.Engine,
		ReadOnly:     c.ReadOnly,
		SaveInterval: c.SaveInterval,
	})

	b := api.Build(service.NewService(db), VERSION, c.ApiKey, c.ApiSecret)
	if c.EnableCompression {
		b.WithInterceptors(api.Compression)
	}
	b.WithInterceptors(
		api.AccessLog(logger.API),
		api.PrettyErrorInterceptor,
		api.InterceptorUnavailable(db),
		api.RecoverFromPanic,
	)

	s := &http.Server{
		Addr:         c.HttpAddr,
		Handler:      box.Box2Http(b),
		WriteTimeout: c.HttpWriteTimeout,
	}

	ln, err := net.Listen("tcp", c.HttpAddr)
	if err != nil {
		logger.Root.Error().Err(err).Str("addr", c.HttpAddr).Msg("listen")
		os.Exit(-1)
	}
	logger.Root.Info().Str("addr", c.HttpAddr).Msg("listening")

	once := &sync.Once{}
	stop = func() {
		once.Do(func() {
			err := db.Stop()
			if err != nil {
				logger.Root.Error().Err(err).Msg("stop database")
			}
			s.Shutdown(context.Background())
		})
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		for {
			sig := <-signalChan
			logger.Root.Info().Str("signal", sig.String()).Msg("signal received")
			stop()
		}
	}()

	start = func() {

		wg := &sync.WaitGroup{}

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.Start()
			if err != nil {
				logger.Root.Error().Err(err).Msg("database")
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Serve(ln)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Root.Error().Err(err).Msg("serve")
			}
		}()

		wg.Wait()
	}

	return
}
