// Package store persists chunk embeddings in a local chromem-go index and
// answers nearest-neighbour queries against it.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"github.com/seanblong/csvchat/pkg/models"
)

var (
	// ErrIndexNotFound is returned when no index has been built at the path.
	ErrIndexNotFound = errors.New("index not found")
	// ErrModelMismatch is returned when the query embedding does not match the index.
	ErrModelMismatch = errors.New("embedding model does not match index")

	errNoEmbedFunc = errors.New("index stores precomputed embeddings only")
)

const (
	dbDir    = "db"
	compress = false
)

// Chunk is a piece of text together with its embedding.
type Chunk struct {
	Content   string
	Embedding []float32
}

// ChunkStore is the read side of an index.
type ChunkStore interface {
	Search(ctx context.Context, vec []float32, k int) ([]models.Document, error)
	Manifest() Manifest
	Count() int
}

// Index is an opened, read-only index.
type Index struct {
	path       string
	manifest   Manifest
	collection *chromem.Collection
}

var _ ChunkStore = (*Index)(nil)

func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedFunc
}

// Exists reports whether an index has been built at path.
func Exists(path string) bool {
	fi, err := os.Stat(filepath.Join(path, manifestFile))
	return err == nil && !fi.IsDir()
}

// Build writes chunks as a fresh index at path, replacing any previous index
// only once the new one is complete. On error the previous index is left as is.
// BuildID, Dim, Chunks and BuiltAt of m are filled in.
func Build(ctx context.Context, path string, m Manifest, chunks []Chunk) (Manifest, error) {
	if len(chunks) == 0 {
		return Manifest{}, errors.New("no chunks to index")
	}
	if m.Collection == "" {
		return Manifest{}, errors.New("collection name is required")
	}
	dim := len(chunks[0].Embedding)
	for i, c := range chunks {
		if err := checkVector(c.Embedding, dim); err != nil {
			return Manifest{}, fmt.Errorf("chunk %d: %w", i, err)
		}
	}

	m.BuildID = uuid.NewString()
	m.Dim = dim
	m.Chunks = len(chunks)
	m.BuiltAt = time.Now().UTC()

	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Manifest{}, err
	}
	tmp := path + ".tmp-" + m.BuildID
	defer func() {
		// no-op once the rename succeeded
		_ = os.RemoveAll(tmp)
	}()

	if err := writeIndex(ctx, tmp, m, chunks); err != nil {
		return Manifest{}, err
	}
	if err := swap(tmp, path, m.BuildID); err != nil {
		return Manifest{}, err
	}

	log.Info().
		Str("path", path).
		Str("build_id", m.BuildID).
		Int("chunks", m.Chunks).
		Int("dim", m.Dim).
		Msg("index built")
	return m, nil
}

func writeIndex(ctx context.Context, dir string, m Manifest, chunks []Chunk) error {
	db, err := chromem.NewPersistentDB(filepath.Join(dir, dbDir), compress)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	col, err := db.CreateCollection(m.Collection, nil, noEmbed)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:        chunkID(i),
			Content:   c.Content,
			Metadata:  map[string]string{"chunk": strconv.Itoa(i)},
			Embedding: c.Embedding,
		}
	}
	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	// AddDocuments skips the remaining work silently once ctx is done
	if err := ctx.Err(); err != nil {
		return err
	}
	if col.Count() != len(docs) {
		return fmt.Errorf("indexed %d of %d chunks", col.Count(), len(docs))
	}
	return writeManifest(dir, m)
}

// swap moves the finished index at tmp into place at path.
func swap(tmp, path, buildID string) error {
	old := ""
	if _, err := os.Stat(path); err == nil {
		old = path + ".old-" + buildID
		if err := os.Rename(path, old); err != nil {
			return fmt.Errorf("move previous index aside: %w", err)
		}
	}
	if err := os.Rename(tmp, path); err != nil {
		if old != "" {
			if rerr := os.Rename(old, path); rerr != nil {
				log.Error().Err(rerr).Str("path", old).Msg("restore previous index")
			}
		}
		return fmt.Errorf("move new index into place: %w", err)
	}
	if old != "" {
		if err := os.RemoveAll(old); err != nil {
			log.Warn().Err(err).Str("path", old).Msg("remove previous index")
		}
	}
	return nil
}

// Open loads the index at path. It returns ErrIndexNotFound when nothing has
// been built there.
func Open(path string) (*Index, error) {
	m, err := readManifest(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrIndexNotFound
	}
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(path, dbDir)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: missing %s", ErrIndexNotFound, dir)
	}
	db, err := chromem.NewPersistentDB(dir, compress)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	col := db.GetCollection(m.Collection, noEmbed)
	if col == nil {
		return nil, fmt.Errorf("%w: no collection %q", ErrIndexNotFound, m.Collection)
	}

	return &Index{path: path, manifest: m, collection: col}, nil
}

func (ix *Index) Manifest() Manifest { return ix.manifest }

func (ix *Index) Count() int { return ix.collection.Count() }

// Search returns up to k chunks ordered by descending cosine similarity to vec.
func (ix *Index) Search(ctx context.Context, vec []float32, k int) ([]models.Document, error) {
	if len(vec) != ix.manifest.Dim {
		return nil, fmt.Errorf("%w: index dimension %d, query dimension %d", ErrModelMismatch, ix.manifest.Dim, len(vec))
	}
	if err := checkVector(vec, len(vec)); err != nil {
		return nil, err
	}
	n := min(k, ix.Count())
	if n <= 0 {
		return nil, nil
	}

	res, err := ix.collection.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	docs := make([]models.Document, len(res))
	for i, r := range res {
		docs[i] = models.Document{
			ID:         r.ID,
			Content:    r.Content,
			Similarity: r.Similarity,
		}
	}
	return docs, nil
}

func chunkID(i int) string {
	return fmt.Sprintf("chunk-%06d", i)
}

// checkVector rejects vectors chromem cannot normalize.
func checkVector(v []float32, dim int) error {
	if len(v) == 0 {
		return errors.New("empty embedding")
	}
	if len(v) != dim {
		return fmt.Errorf("embedding has dimension %d, want %d", len(v), dim)
	}
	var sum float64
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return errors.New("embedding contains NaN or Inf")
		}
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return errors.New("embedding is the zero vector")
	}
	return nil
}
