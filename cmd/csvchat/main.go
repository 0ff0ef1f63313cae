package main

import (
	"context"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/seanblong/csvchat/internal/app"
	"github.com/seanblong/csvchat/internal/config"
	"github.com/seanblong/csvchat/internal/tui"
)

func main() {
	fs := pflag.NewFlagSet("csvchat", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	fs.Usage = cfg.Usage

	// The terminal belongs to the UI, so logs go to a file or nowhere.
	var w io.Writer = io.Discard
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.LogFile).Msg("Failed to open log file")
		}
		defer f.Close()
		w = f
	}
	if _, err := app.SetupLogging(cfg.LogLevel, w, false); err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}
	log.Info().Str("provider", cfg.Provider).Str("index_path", cfg.IndexPath).Msg("starting csvchat")

	a, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := tui.New(ctx, a.NewSession(), a.Indexer, "CSV Chat ("+a.Client.Model()+")")
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		log.Error().Err(err).Msg("terminal chat exited")
		os.Exit(1)
	}
}
