package ai

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const defaultOllamaURL = "http://localhost:11434"

// LangChainClient serves the OpenAI-compatible and Ollama providers through
// langchaingo. Embedding and chat may be backed by different models.
type LangChainClient struct {
	config   *ClientConfig
	embedder embeddings.Embedder
	llm      llms.Model
}

// NewOpenAIClient creates a client for OpenAI or any server speaking its API.
func NewOpenAIClient(config *ClientConfig) (*LangChainClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("PROVIDER_API_KEY unset")
	}

	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-3-small"
	}
	if config.ChatModel == "" {
		config.ChatModel = "gpt-4o-mini"
	}
	if config.Dim == 0 {
		switch config.EmbedModel {
		case "text-embedding-3-large":
			config.Dim = 3072
		default:
			// text-embedding-3-small and ada-002
			config.Dim = 1536
		}
	}

	opts := []openai.Option{
		openai.WithToken(config.APIKey),
		openai.WithModel(config.ChatModel),
		openai.WithEmbeddingModel(config.EmbedModel),
		openai.WithHTTPClient(httpClient()),
	}
	if config.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(config.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}
	return newLangChainClient(config, llm, llm)
}

// NewOllamaClient creates a client for a local Ollama server.
func NewOllamaClient(config *ClientConfig) (*LangChainClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultOllamaURL
	}
	if config.EmbedModel == "" {
		config.EmbedModel = "nomic-embed-text"
	}
	if config.ChatModel == "" {
		config.ChatModel = "llama3.2"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}

	embedLLM, err := ollama.New(
		ollama.WithServerURL(config.BaseURL),
		ollama.WithModel(config.EmbedModel),
		ollama.WithHTTPClient(httpClient()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama embedding client: %w", err)
	}
	chatLLM, err := ollama.New(
		ollama.WithServerURL(config.BaseURL),
		ollama.WithModel(config.ChatModel),
		ollama.WithHTTPClient(httpClient()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama chat client: %w", err)
	}
	return newLangChainClient(config, embedLLM, chatLLM)
}

func newLangChainClient(config *ClientConfig, ec embeddings.EmbedderClient, llm llms.Model) (*LangChainClient, error) {
	embedder, err := embeddings.NewEmbedder(ec)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return &LangChainClient{
		config:   config,
		embedder: embedder,
		llm:      llm,
	}, nil
}

func (c *LangChainClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := c.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, providerError(ErrEmbedding, err)
	}
	if len(vecs) != len(texts) {
		return nil, providerError(ErrEmbedding, fmt.Errorf("got %d embeddings for %d texts", len(vecs), len(texts)))
	}
	return vecs, nil
}

func (c *LangChainClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := c.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, providerError(ErrEmbedding, err)
	}
	if len(vec) == 0 {
		return nil, providerError(ErrEmbedding, errors.New("no embedding"))
	}
	return vec, nil
}

func (c *LangChainClient) Generate(ctx context.Context, prompt string, params GenerateParams) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	resp, err := c.llm.GenerateContent(ctx, content,
		llms.WithTemperature(params.Temperature),
		llms.WithTopP(params.TopP),
	)
	if err != nil {
		return "", providerError(ErrGeneration, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", providerError(ErrGeneration, errors.New("no choices"))
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

func (c *LangChainClient) Model() string {
	return c.config.EmbedModel
}

func (c *LangChainClient) Dim() int {
	return c.config.Dim
}

// httpClient honours CSVCHAT_SKIP_TLS_VERIFY for corporate proxies.
func httpClient() *http.Client {
	transport := &http.Transport{}
	if skipTLS, _ := strconv.ParseBool(os.Getenv("CSVCHAT_SKIP_TLS_VERIFY")); skipTLS {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}
	return &http.Client{Transport: transport}
}
