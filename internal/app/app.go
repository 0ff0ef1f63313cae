// Package app wires configuration into the retrieval pipeline shared by all commands.
package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/seanblong/csvchat/internal/ai"
	"github.com/seanblong/csvchat/internal/answer"
	"github.com/seanblong/csvchat/internal/chunker"
	"github.com/seanblong/csvchat/internal/config"
	"github.com/seanblong/csvchat/internal/indexer"
	"github.com/seanblong/csvchat/internal/search"
	"github.com/seanblong/csvchat/internal/session"
	"github.com/seanblong/csvchat/internal/store"
)

// App holds the pipeline components built from one configuration.
type App struct {
	Config  config.Specification
	Client  ai.Client
	Indexer *indexer.Indexer
	Search  *search.Service
	Answer  *answer.Generator
}

// ClientConfig maps the provider section of cfg onto an ai.ClientConfig.
func ClientConfig(cfg config.Specification) (*ai.ClientConfig, error) {
	provider, err := ai.ParseProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	cc := &ai.ClientConfig{
		Provider:   provider,
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		EmbedModel: cfg.EmbedModel,
		ChatModel:  cfg.ChatModel,
		Dim:        cfg.Dim,
	}
	switch provider {
	case ai.ProviderVertexAI:
		cc.ProjectID = cfg.ProjectID
		cc.Location = cfg.Location
	case ai.ProviderStub:
		cc.APIKey = ""
		cc.BaseURL = ""
	}
	return cc, nil
}

// New builds the client and every pipeline stage from cfg.
func New(cfg config.Specification) (*App, error) {
	cc, err := ClientConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := ai.NewClient(cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create AI client: %w", err)
	}
	log.Info().
		Str("provider", string(cc.Provider)).
		Str("embed_model", client.Model()).
		Int("embedding_dim", client.Dim()).
		Msg("AI client initialized")

	return NewWithClient(cfg, client)
}

// NewWithClient builds the pipeline around an existing client.
func NewWithClient(cfg config.Specification, client ai.Client) (*App, error) {
	ch, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	ix := indexer.New(client, ch, indexer.Options{
		IndexPath:  cfg.IndexPath,
		Collection: cfg.Collection,
		Provider:   strings.ToLower(cfg.Provider),
		BatchSize:  cfg.EmbedBatchSize,
		Workers:    cfg.EmbedWorkers,
		Timeout:    cfg.RequestTimeout,
	})
	params := ai.GenerateParams{Temperature: cfg.Temperature, TopP: cfg.TopP}

	return &App{
		Config:  cfg,
		Client:  client,
		Indexer: ix,
		Search:  search.NewService(client, cfg.IndexPath, cfg.TopK, cfg.RequestTimeout),
		Answer:  answer.New(client, params, cfg.RequestTimeout),
	}, nil
}

// NewSession starts a chat session, ready at once if an index is already on disk.
func (a *App) NewSession() *session.Session {
	return session.New(a.Indexer, a.Search, a.Answer, a.Config.Greeting, store.Exists(a.Config.IndexPath))
}

// SetupLogging configures the global logger. Console output is meant for
// terminals; otherwise JSON lines are written.
func SetupLogging(level string, w io.Writer, console bool) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level '%s': %w", level, err)
	}
	if w == nil {
		w = os.Stderr
	}
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	logger := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(lvl)
	log.Logger = logger
	return logger, nil
}
