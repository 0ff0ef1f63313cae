// Package answer stuffs retrieved chunks into a prompt and asks the model.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/prompts"

	"github.com/seanblong/csvchat/internal/ai"
	"github.com/seanblong/csvchat/pkg/models"
)

const promptTemplate = `You are a CSV data assistant. Your task is to help users retrieve information from the uploaded CSV files.
Each line of the context is one CSV row written as "column: value" pairs.
Answer accurately and only from the context. If the answer is not available in the context, tell the user so.
If the question is unclear, suggest how to refine it.

Context:
{{.context}}

Question: {{.question}}

Answer:`

// DefaultParams are the decoding parameters used for every answer.
var DefaultParams = ai.GenerateParams{Temperature: 0.1, TopP: 0.95}

// documentSeparator joins chunks inside the context block.
const documentSeparator = "\n\n"

type Generator struct {
	LLM      ai.Generator
	Template prompts.PromptTemplate
	Params   ai.GenerateParams
	Timeout  time.Duration
}

// New creates a Generator using the built-in CSV assistant prompt.
func New(llm ai.Generator, params ai.GenerateParams, timeout time.Duration) *Generator {
	return &Generator{
		LLM:      llm,
		Template: prompts.NewPromptTemplate(promptTemplate, []string{"context", "question"}),
		Params:   params,
		Timeout:  timeout,
	}
}

// Prompt renders the prompt for question with all docs stuffed into the context.
func (g *Generator) Prompt(question string, docs []models.Document) (string, error) {
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = strings.TrimSpace(d.Content)
	}
	return g.Template.Format(map[string]any{
		"context":  strings.Join(parts, documentSeparator),
		"question": strings.TrimSpace(question),
	})
}

// Answer asks the model once. Provider failures wrap ai.ErrGeneration.
func (g *Generator) Answer(ctx context.Context, question string, docs []models.Document) (models.Answer, error) {
	prompt, err := g.Prompt(question, docs)
	if err != nil {
		return models.Answer{}, fmt.Errorf("render prompt: %w", err)
	}

	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := g.LLM.Generate(ctx, prompt, g.Params)
	if err != nil {
		if !errors.Is(err, ai.ErrGeneration) {
			err = fmt.Errorf("%w: %w", ai.ErrGeneration, err)
		}
		return models.Answer{}, err
	}
	log.Debug().
		Int("documents", len(docs)).
		Int("prompt_chars", len(prompt)).
		Dur("took", time.Since(start)).
		Msg("answer generated")

	return models.Answer{Text: text, Documents: docs}, nil
}
