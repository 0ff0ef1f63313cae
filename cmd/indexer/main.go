package main

import (
	"context"
	"errors"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/seanblong/csvchat/internal/app"
	"github.com/seanblong/csvchat/internal/chunker"
	"github.com/seanblong/csvchat/internal/config"
)

func main() {
	fs := pflag.NewFlagSet("csvchat-indexer", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	fs.Usage = cfg.Usage

	if _, err := app.SetupLogging(cfg.LogLevel, os.Stderr, true); err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}

	paths := fs.Args()
	if len(paths) == 0 {
		log.Fatal().Msg("usage: csvchat-indexer [flags] <file or directory>...")
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}

	found, err := a.Indexer.Discover(paths)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to discover files")
	}
	log.Info().Int("files", len(found)).Strs("paths", found).Msg("discovered files")

	files, err := a.Indexer.LoadFiles(found)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read files")
	}

	res, err := a.Indexer.Index(context.Background(), files)
	if res.Skipped != nil {
		log.Warn().Err(res.Skipped).Msg("some files were skipped")
	}
	if errors.Is(err, chunker.ErrEmptyCorpus) {
		log.Fatal().Msg("no data found in the given files; existing index left unchanged")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("indexing failed")
	}

	log.Info().
		Str("build_id", res.Manifest.BuildID).
		Str("index_path", cfg.IndexPath).
		Int("rows", res.Rows).
		Int("chunks", res.Manifest.Chunks).
		Msg("index ready")
}
