package ai

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

var (
	// ErrEmbedding marks failures of the remote embedding provider.
	ErrEmbedding = errors.New("embedding provider error")
	// ErrGeneration marks failures of the remote completion provider.
	ErrGeneration = errors.New("generation provider error")
)

// Embedder turns text into vectors. Documents and queries must go through
// the same model; only the task hint may differ.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// GenerateParams are the decoding parameters of a single completion.
type GenerateParams struct {
	Temperature float64
	TopP        float64
}

// Generator produces a completion for a fully rendered prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, params GenerateParams) (string, error)
}

// Client provides both embedding and generation capabilities
type Client interface {
	Embedder
	Generator
	Dim() int
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderGemini   Provider = "gemini"
	ProviderVertexAI Provider = "vertexai"
	ProviderOpenAI   Provider = "openai"
	ProviderOllama   Provider = "ollama"
	ProviderStub     Provider = "stub"
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	APIKey     string
	BaseURL    string
	EmbedModel string
	ChatModel  string
	Dim        int
	ProjectID  string
	Provider   Provider
	Location   string
}

// ParseProvider maps user-facing provider names onto a Provider.
func ParseProvider(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "gemini", "google":
		return ProviderGemini, nil
	case "vertexai", "vertex":
		return ProviderVertexAI, nil
	case "openai":
		return ProviderOpenAI, nil
	case "ollama":
		return ProviderOllama, nil
	case "stub":
		return ProviderStub, nil
	default:
		return "", errors.New("unsupported provider: " + name)
	}
}

// NewClient creates a new AI client based on configuration
func NewClient(config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderGemini, ProviderVertexAI:
		c, err := NewGenAIClient(context.Background(), config)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderOpenAI:
		c, err := NewOpenAIClient(config)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderOllama:
		c, err := NewOllamaClient(config)
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

const stubDefaultDim = 256

// StubClient is an offline implementation of the Client interface. It embeds
// text as a hashed bag of words and answers with the context line that shares
// the most words with the question.
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	if dim < 2 {
		dim = stubDefaultDim
	}
	return &StubClient{dim: dim}
}

func (s *StubClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.embed(t)
	}
	return out, nil
}

func (s *StubClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return s.embed(text), nil
}

func (s *StubClient) embed(text string) []float32 {
	v := make([]float32, s.dim)
	// slot 0 keeps the vector non-zero so it can always be normalized
	v[0] = 1
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		v[1+int(h.Sum32()%uint32(s.dim-1))]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

func (s *StubClient) Model() string { return "stub-hash-bow" }

// Generate picks the line of the prompt's context section with the largest
// word overlap with the question. The context section runs from the
// "Context:" marker to the "Question:" marker.
func (s *StubClient) Generate(ctx context.Context, prompt string, params GenerateParams) (string, error) {
	lines := strings.Split(prompt, "\n")
	ctxStart, qLine := 0, len(lines)
	seenContext := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case !seenContext && strings.HasPrefix(trimmed, "Context:"):
			seenContext = true
			ctxStart = i
			lines[i] = strings.TrimPrefix(trimmed, "Context:")
		case qLine == len(lines) && strings.HasPrefix(trimmed, "Question:"):
			qLine = i
		}
	}
	if qLine < ctxStart {
		ctxStart = 0
	}

	var question string
	if qLine < len(lines) {
		question = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(lines[qLine]), "Question:"))
		for j := qLine + 1; question == "" && j < len(lines); j++ {
			question = strings.TrimSpace(lines[j])
		}
	}

	qTokens := make(map[string]struct{})
	for _, tok := range tokenize(question) {
		qTokens[tok] = struct{}{}
	}

	best, bestScore := "", 0
	for _, line := range lines[ctxStart:qLine] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		score := 0
		for _, tok := range tokenize(line) {
			if _, ok := qTokens[tok]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = line, score
		}
	}
	if best == "" {
		return "The answer is not available in the provided context.", nil
	}
	return "From the data: " + best, nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}

var tokenRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

func tokenize(s string) []string {
	return tokenRe.FindAllString(strings.ToLower(s), -1)
}

// providerError wraps err with the given sentinel, keeping both in the chain.
func providerError(kind error, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", kind, err)
}
