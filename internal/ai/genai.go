package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GenAIClient talks to Gemini, either through the Gemini API (API key) or
// through Vertex AI (project + location).
type GenAIClient struct {
	config *ClientConfig
	client *genai.Client
}

// NewGenAIClient creates a new client for the Google Gemini API.
func NewGenAIClient(ctx context.Context, config *ClientConfig) (*GenAIClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	// Defaults for Gemini API
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-004"
	}
	if config.ChatModel == "" {
		config.ChatModel = "gemini-2.0-flash"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}

	cc := genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
	}
	hasKey := strings.TrimSpace(config.APIKey) != ""
	switch {
	case config.Provider == ProviderVertexAI && hasKey:
		// express mode: the key replaces project and location
		cc.Backend = genai.BackendVertexAI
		cc.APIKey = config.APIKey
	case config.Provider == ProviderVertexAI:
		if strings.TrimSpace(config.ProjectID) == "" {
			return nil, errors.New("vertexai provider requires a project ID")
		}
		if config.Location == "" {
			config.Location = "us-central1"
		}
		cc.Backend = genai.BackendVertexAI
		cc.Project = config.ProjectID
		cc.Location = config.Location
	case !hasKey:
		return nil, errors.New("gemini provider requires an API key (GOOGLE_API_KEY)")
	default:
		cc.APIKey = config.APIKey
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GenAIClient{
		config: config,
		client: client,
	}, nil
}

// EmbedDocuments embeds all texts in a single batch request.
func (c *GenAIClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	return c.embed(ctx, contents, "RETRIEVAL_DOCUMENT", len(texts))
}

// EmbedQuery embeds a search query with the retrieval-query task hint.
func (c *GenAIClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embed(ctx, genai.Text(text), "RETRIEVAL_QUERY", 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *GenAIClient) embed(ctx context.Context, contents []*genai.Content, task string, want int) ([][]float32, error) {
	cfg := genai.EmbedContentConfig{
		TaskType: task,
	}

	res, err := c.client.Models.EmbedContent(ctx, c.config.EmbedModel, contents, &cfg)
	if err != nil {
		return nil, providerError(ErrEmbedding, err)
	}
	if res == nil || len(res.Embeddings) != want {
		return nil, providerError(ErrEmbedding, errors.New("unexpected number of embeddings returned"))
	}

	out := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, providerError(ErrEmbedding, fmt.Errorf("empty embedding at position %d", i))
		}
		out[i] = e.Values
	}
	return out, nil
}

// Generate runs a single non-streaming completion.
func (c *GenAIClient) Generate(ctx context.Context, prompt string, params GenerateParams) (string, error) {
	temp := float32(params.Temperature)
	topP := float32(params.TopP)
	cfg := genai.GenerateContentConfig{
		Temperature: &temp,
		TopP:        &topP,
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.config.ChatModel, genai.Text(prompt), &cfg)
	if err != nil {
		return "", providerError(ErrGeneration, err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", providerError(ErrGeneration, errors.New("no answer returned"))
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func (c *GenAIClient) Model() string {
	return c.config.EmbedModel
}

func (c *GenAIClient) Dim() int {
	return c.config.Dim
}
