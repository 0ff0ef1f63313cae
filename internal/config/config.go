package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Specification struct {
	Provider       string        `yaml:"provider"`
	APIKey         string        `yaml:"providerApiKey" envconfig:"PROVIDER_API_KEY"`
	BaseURL        string        `yaml:"providerBaseURL" envconfig:"PROVIDER_BASE_URL"`
	EmbedModel     string        `yaml:"providerEmbedModel" envconfig:"PROVIDER_EMBEDDING_MODEL"`
	ChatModel      string        `yaml:"providerChatModel" envconfig:"PROVIDER_CHAT_MODEL"`
	ProjectID      string        `yaml:"providerProjectID" envconfig:"PROVIDER_PROJECT_ID"`
	Location       string        `yaml:"providerLocation" envconfig:"PROVIDER_LOCATION"`
	Dim            int           `yaml:"providerDim" envconfig:"EMBED_DIM"`
	IndexPath      string        `yaml:"indexPath" split_words:"true"`
	Collection     string        `yaml:"collection"`
	ChunkSize      int           `yaml:"chunkSize" split_words:"true"`
	ChunkOverlap   int           `yaml:"chunkOverlap" split_words:"true"`
	TopK           int           `yaml:"topK" envconfig:"TOP_K"`
	Temperature    float64       `yaml:"temperature"`
	TopP           float64       `yaml:"topP" envconfig:"TOP_P"`
	EmbedBatchSize int           `yaml:"embedBatchSize" split_words:"true"`
	EmbedWorkers   int           `yaml:"embedWorkers" split_words:"true"`
	RequestTimeout time.Duration `yaml:"requestTimeout" split_words:"true"`
	Greeting       string        `yaml:"greeting"`
	LogLevel       string        `yaml:"logLevel" split_words:"true"`
	LogFile        string        `yaml:"logFile" split_words:"true"`
	Port           int           `yaml:"port" split_words:"true"`

	flags *pflag.FlagSet `ignored:"true"`
}

const envPrefix = "CSVCHAT"

// DefaultGreeting is the first assistant message of every session.
const DefaultGreeting = "Upload some CSVs and ask me a question"

func (s *Specification) Usage() {
	fmt.Fprint(os.Stderr, s.flags.FlagUsages())
}

// Load => defaults < YAML < .env < env < flags.
// configPath may be ""; if so we auto-discover.
func Load(configPath string, fs *pflag.FlagSet) (Specification, error) {
	var cfg Specification

	setDefaults(&cfg)
	bindFlags(fs, &cfg)

	path := configPath
	if path == "" {
		if v := os.Getenv(envPrefix + "_CONFIG"); v != "" {
			path = v
		} else {
			for _, cand := range []string{
				"config/csvchat.yaml",
				"config/config.yaml",
				"./csvchat.yaml",
				"./config.yaml",
			} {
				if fileExists(cand) {
					path = cand
					break
				}
			}
		}
	}

	if path != "" {
		if !fileExists(path) {
			return Specification{}, fmt.Errorf("config file not found: %s", path)
		}
		if err := loadYAML(path, &cfg); err != nil {
			return Specification{}, fmt.Errorf("load yaml %s: %w", path, err)
		}
	}

	// .env never overrides variables that are already set
	if err := loadDotEnv(".env"); err != nil {
		return Specification{}, fmt.Errorf("load .env: %w", err)
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Specification{}, fmt.Errorf("env override: %w", err)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		return Specification{}, err
	}
	applyChangedFlags(fs, &cfg)

	if strings.TrimSpace(cfg.APIKey) == "" && isGoogle(cfg.Provider) {
		cfg.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.Greeting) == "" {
		cfg.Greeting = DefaultGreeting
	}
	if err := cfg.Validate(); err != nil {
		return Specification{}, err
	}
	return cfg, nil
}

// Validate checks the retrieval settings that would otherwise fail deep inside the pipeline.
func (s Specification) Validate() error {
	if strings.TrimSpace(s.IndexPath) == "" {
		return errors.New("CSVCHAT_INDEX_PATH is required (env/file/flag)")
	}
	if s.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", s.ChunkSize)
	}
	if s.ChunkOverlap < 0 || s.ChunkOverlap >= s.ChunkSize {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", s.ChunkSize, s.ChunkOverlap)
	}
	if s.TopK <= 0 {
		return fmt.Errorf("top-k must be positive, got %d", s.TopK)
	}
	if s.EmbedBatchSize <= 0 || s.EmbedWorkers <= 0 {
		return errors.New("embed batch size and workers must be positive")
	}
	if s.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", s.RequestTimeout)
	}
	return nil
}

// ---------- helpers ----------

func isGoogle(provider string) bool {
	switch strings.ToLower(provider) {
	case "gemini", "google", "vertexai":
		return true
	}
	return false
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func loadYAML(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func bindFlags(fs *pflag.FlagSet, c *Specification) {
	fs.String("config", "", "Path to config file")

	// If --config is provided on the command line, capture it now so
	// config discovery (which runs before flags.Parse) can use it.
	for i, a := range os.Args {
		if a == "--config" {
			if i+1 < len(os.Args) && !strings.HasPrefix(os.Args[i+1], "-") {
				_ = os.Setenv(envPrefix+"_CONFIG", os.Args[i+1])
			}
		} else if strings.HasPrefix(a, "--config=") {
			parts := strings.SplitN(a, "=", 2)
			if len(parts) == 2 {
				_ = os.Setenv(envPrefix+"_CONFIG", parts[1])
			}
		}
	}

	fs.String("provider", c.Provider, "Provider (stub, gemini, vertexai, openai, ollama)")
	fs.String("provider-api-key", c.APIKey, "Provider API key")
	fs.String("provider-base-url", c.BaseURL, "Provider base URL (openai-compatible or ollama)")
	fs.String("provider-embedding-model", c.EmbedModel, "Provider embedding model")
	fs.String("provider-chat-model", c.ChatModel, "Provider chat model")
	fs.String("provider-project-id", c.ProjectID, "Provider project ID")
	fs.String("provider-location", c.Location, "Provider location/region")

	fs.Int("embed-dim", c.Dim, "Embedding dimensionality")

	fs.String("index-path", c.IndexPath, "Directory holding the vector index")
	fs.String("collection", c.Collection, "Index collection name")
	fs.Int("chunk-size", c.ChunkSize, "Maximum chunk size in characters")
	fs.Int("chunk-overlap", c.ChunkOverlap, "Overlap between consecutive chunks in characters")
	fs.Int("top-k", c.TopK, "Number of chunks retrieved per question")
	fs.Float64("temperature", c.Temperature, "Sampling temperature")
	fs.Float64("top-p", c.TopP, "Nucleus sampling probability")
	fs.Int("embed-batch-size", c.EmbedBatchSize, "Chunks per embedding request")
	fs.Int("embed-workers", c.EmbedWorkers, "Concurrent embedding requests")
	fs.Duration("request-timeout", c.RequestTimeout, "Timeout for each provider call")
	fs.String("greeting", c.Greeting, "First assistant message of a session")

	fs.String("log-level", c.LogLevel, "Log level (debug|info|warn|error)")
	fs.String("log-file", c.LogFile, "Log file for the terminal chat (logs are discarded when empty)")
	fs.Int("port", c.Port, "API server port")

	// Used later for usage/help
	copied := pflag.NewFlagSet("temp", pflag.ContinueOnError)
	*copied = *fs
	c.flags = copied
}

func applyChangedFlags(fs *pflag.FlagSet, c *Specification) {
	setStr := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = v
		}
	}
	setFloat := func(name string, dst *float64) {
		if fs.Changed(name) {
			v, _ := fs.GetFloat64(name)
			*dst = v
		}
	}
	setDur := func(name string, dst *time.Duration) {
		if fs.Changed(name) {
			v, _ := fs.GetDuration(name)
			*dst = v
		}
	}

	setStr("provider", &c.Provider)
	setStr("provider-api-key", &c.APIKey)
	setStr("provider-base-url", &c.BaseURL)
	setStr("provider-embedding-model", &c.EmbedModel)
	setStr("provider-chat-model", &c.ChatModel)
	setStr("provider-project-id", &c.ProjectID)
	setStr("provider-location", &c.Location)

	setInt("embed-dim", &c.Dim)

	setStr("index-path", &c.IndexPath)
	setStr("collection", &c.Collection)
	setInt("chunk-size", &c.ChunkSize)
	setInt("chunk-overlap", &c.ChunkOverlap)
	setInt("top-k", &c.TopK)
	setFloat("temperature", &c.Temperature)
	setFloat("top-p", &c.TopP)
	setInt("embed-batch-size", &c.EmbedBatchSize)
	setInt("embed-workers", &c.EmbedWorkers)
	setDur("request-timeout", &c.RequestTimeout)
	setStr("greeting", &c.Greeting)

	setStr("log-level", &c.LogLevel)
	setStr("log-file", &c.LogFile)
	setInt("port", &c.Port)
}

func setDefaults(c *Specification) {
	c.Provider = "stub"
	c.Location = "us-central1"
	c.Dim = 0
	c.IndexPath = "csv_index"
	c.Collection = "csv_rows"
	c.ChunkSize = 10000
	c.ChunkOverlap = 1000
	c.TopK = 10
	c.Temperature = 0.1
	c.TopP = 0.95
	c.EmbedBatchSize = 32
	c.EmbedWorkers = 4
	c.RequestTimeout = 60 * time.Second
	c.Greeting = DefaultGreeting
	c.LogLevel = "info"
	c.Port = 8080
}
