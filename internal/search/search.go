package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/csvchat/internal/ai"
	"github.com/seanblong/csvchat/internal/store"
	"github.com/seanblong/csvchat/pkg/models"
)

// ErrEmptyQuery is returned for blank questions.
var ErrEmptyQuery = errors.New("query is empty")

const DefaultTopK = 10

// Opener loads the index found at path.
type Opener func(path string) (store.ChunkStore, error)

// OpenStore opens the chromem index at path.
func OpenStore(path string) (store.ChunkStore, error) {
	ix, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	return ix, nil
}

type Service struct {
	Embedder  ai.Embedder
	Open      Opener
	IndexPath string
	TopK      int
	Timeout   time.Duration
}

// NewService creates a new search service over the index at indexPath.
func NewService(embedder ai.Embedder, indexPath string, topK int, timeout time.Duration) *Service {
	return &Service{
		Embedder:  embedder,
		Open:      OpenStore,
		IndexPath: indexPath,
		TopK:      topK,
		Timeout:   timeout,
	}
}

// Query returns up to k chunks most similar to q, most similar first. The
// index is loaded fresh for every call; k <= 0 selects the service default.
func (s *Service) Query(ctx context.Context, q string, k int) ([]models.Document, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = s.TopK
	}
	if k <= 0 {
		k = DefaultTopK
	}

	idx, err := s.Open(s.IndexPath)
	if err != nil {
		return nil, err
	}
	if err := idx.Manifest().CheckModel(s.Embedder.Model()); err != nil {
		return nil, err
	}

	ectx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	vec, err := s.Embedder.EmbedQuery(ectx, q)
	if err != nil {
		log.Error().Err(err).Str("query", q).Msg("query embedding failed")
		if errors.Is(err, ai.ErrEmbedding) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ai.ErrEmbedding, err)
	}

	docs, err := idx.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("query", q).Int("k", k).Int("hits", len(docs)).Msg("search complete")
	return docs, nil
}
