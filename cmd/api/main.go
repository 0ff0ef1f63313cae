package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/seanblong/csvchat/internal/app"
	"github.com/seanblong/csvchat/internal/config"
)

func main() {
	// Create flagset for configuration
	fs := pflag.NewFlagSet("csvchat-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	fs.Usage = cfg.Usage

	logger, err := app.SetupLogging(cfg.LogLevel, os.Stdout, false)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Str("index_path", cfg.IndexPath).Msg("starting csvchat api")

	a, err := app.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize")
	}

	// One session per process; the session serializes requests.
	srv := &server{chat: a.NewSession(), maxUpload: defaultMaxUpload}

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(srv.routes()),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	if err := s.ListenAndServe(); err != nil {
		logger.Fatal().Err(err).Msg("api server stopped")
	}
}
