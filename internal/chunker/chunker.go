// Package chunker serializes rows to text and splits the text into
// overlapping chunks for embedding.
package chunker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/seanblong/csvchat/pkg/models"
)

// ErrEmptyCorpus is returned when the rows serialize to no text at all.
var ErrEmptyCorpus = errors.New("no data found in CSV files")

const (
	DefaultChunkSize    = 10000
	DefaultChunkOverlap = 1000
)

// Serialize renders one line per row, "k1: v1 k2: v2", each terminated by a newline.
func Serialize(rows []models.Row) string {
	var sb strings.Builder
	for _, r := range rows {
		sb.WriteString(r.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

type Chunker struct {
	size     int
	overlap  int
	splitter textsplitter.TextSplitter
}

// New returns a Chunker that splits on row boundaries. Sizes are counted in runes.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{
		size:    size,
		overlap: overlap,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithSeparators([]string{"\n"}),
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		),
	}, nil
}

// Split serializes rows and cuts the text into chunks. Identical rows always
// produce identical chunks.
func (c *Chunker) Split(rows []models.Row) ([]string, error) {
	text := Serialize(rows)
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyCorpus
	}

	parts, err := c.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}

	chunks := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		chunks = append(chunks, p)
	}
	if len(chunks) == 0 {
		return nil, ErrEmptyCorpus
	}
	return chunks, nil
}
