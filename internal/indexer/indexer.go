package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/seanblong/csvchat/internal/ai"
	"github.com/seanblong/csvchat/internal/chunker"
	"github.com/seanblong/csvchat/internal/store"
	"github.com/seanblong/csvchat/internal/tabular"
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// IndexWriter persists embedded chunks as a complete index.
type IndexWriter interface {
	Write(ctx context.Context, path string, m store.Manifest, chunks []store.Chunk) (store.Manifest, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// DefaultIndexWriter implements IndexWriter with store.Build
type DefaultIndexWriter struct{}

func (d *DefaultIndexWriter) Write(ctx context.Context, path string, m store.Manifest, chunks []store.Chunk) (store.Manifest, error) {
	return store.Build(ctx, path, m, chunks)
}

// Options control where and how the index is built.
type Options struct {
	IndexPath  string
	Collection string
	Provider   string
	BatchSize  int
	Workers    int
	Timeout    time.Duration
}

// Indexer turns uploaded files into a persisted vector index.
type Indexer struct {
	Embedder   ai.Embedder
	Chunker    *chunker.Chunker
	Writer     IndexWriter
	Walker     FileSystemWalker
	FileReader FileReader
	Options    Options
}

// Result summarizes a successful build.
type Result struct {
	Manifest store.Manifest
	Rows     int
	// Skipped holds decode errors of files that were left out.
	Skipped error
}

// New creates a new Indexer instance.
func New(embedder ai.Embedder, ch *chunker.Chunker, opts Options) *Indexer {
	return NewWithDependencies(embedder, ch, opts, &DefaultIndexWriter{}, &DefaultFileSystemWalker{}, &DefaultFileReader{})
}

// NewWithDependencies creates a new Indexer instance with custom dependencies for testing
func NewWithDependencies(embedder ai.Embedder, ch *chunker.Chunker, opts Options, writer IndexWriter, walker FileSystemWalker, fileReader FileReader) *Indexer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Indexer{
		Embedder:   embedder,
		Chunker:    ch,
		Writer:     writer,
		Walker:     walker,
		FileReader: fileReader,
		Options:    opts,
	}
}

// Index flattens, chunks, embeds and persists files. Files that fail to
// decode are reported in Result.Skipped while the rest are indexed. When no
// rows remain the error is chunker.ErrEmptyCorpus and the index is untouched.
func (ix *Indexer) Index(ctx context.Context, files []tabular.File) (Result, error) {
	rows, decodeErr := tabular.Flatten(files)

	chunks, err := ix.Chunker.Split(rows)
	if err != nil {
		if errors.Is(err, chunker.ErrEmptyCorpus) && decodeErr != nil {
			return Result{Skipped: decodeErr}, errors.Join(err, decodeErr)
		}
		return Result{Skipped: decodeErr}, err
	}

	m, err := ix.Build(ctx, chunks)
	if err != nil {
		return Result{Skipped: decodeErr}, err
	}
	return Result{Manifest: m, Rows: len(rows), Skipped: decodeErr}, nil
}

// Build embeds chunks and writes them as the new index. Nothing is written
// unless every chunk was embedded.
func (ix *Indexer) Build(ctx context.Context, chunks []string) (store.Manifest, error) {
	if len(chunks) == 0 {
		return store.Manifest{}, chunker.ErrEmptyCorpus
	}

	start := time.Now()
	vecs, err := ix.embedAll(ctx, chunks)
	if err != nil {
		return store.Manifest{}, err
	}

	docs := make([]store.Chunk, len(chunks))
	for i := range chunks {
		docs[i] = store.Chunk{Content: chunks[i], Embedding: vecs[i]}
	}
	m := store.Manifest{
		Provider:   ix.Options.Provider,
		EmbedModel: ix.Embedder.Model(),
		Collection: ix.Options.Collection,
	}
	m, err = ix.Writer.Write(ctx, ix.Options.IndexPath, m, docs)
	if err != nil {
		return store.Manifest{}, fmt.Errorf("write index: %w", err)
	}

	log.Info().
		Int("chunks", len(chunks)).
		Str("model", m.EmbedModel).
		Dur("took", time.Since(start)).
		Msg("indexing complete")
	return m, nil
}

// embedAll embeds chunks in batches with bounded concurrency. Each batch call
// runs under its own timeout.
func (ix *Indexer) embedAll(ctx context.Context, chunks []string) ([][]float32, error) {
	out := make([][]float32, len(chunks))
	size := ix.Options.BatchSize

	log.Info().
		Int("chunks", len(chunks)).
		Int("batch_size", size).
		Int("workers", ix.Options.Workers).
		Msg("starting concurrent embedding")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.Options.Workers)
	for lo := 0; lo < len(chunks); lo += size {
		hi := min(lo+size, len(chunks))
		g.Go(func() error {
			bctx, cancel := context.WithTimeout(gctx, ix.Options.Timeout)
			defer cancel()

			vecs, err := ix.Embedder.EmbedDocuments(bctx, chunks[lo:hi])
			if err != nil {
				return embeddingError(err)
			}
			if len(vecs) != hi-lo {
				return embeddingError(fmt.Errorf("got %d embeddings for %d chunks", len(vecs), hi-lo))
			}
			copy(out[lo:hi], vecs)
			log.Debug().Int("from", lo).Int("to", hi).Msg("embedded batch")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func embeddingError(err error) error {
	if errors.Is(err, ai.ErrEmbedding) {
		return err
	}
	return fmt.Errorf("%w: %w", ai.ErrEmbedding, err)
}

// Discover expands files and directories into the sorted list of CSV and
// XLSX files they contain. Hidden directories are not descended into.
func (ix *Indexer) Discover(paths []string) ([]string, error) {
	seen := make(map[string]struct{})
	add := func(p string) {
		seen[filepath.Clean(p)] = struct{}{}
	}

	for _, root := range paths {
		fi, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			if tabular.IsSupported(root) {
				add(root)
			} else {
				log.Warn().Str("path", root).Msg("skipping unsupported file")
			}
			continue
		}

		err = ix.Walker.Walk(root, &godirwalk.Options{
			Unsorted: true,
			Callback: func(path string, de *godirwalk.Dirent) error {
				// Handle test case where de might be nil (for MockFileSystemWalker)
				if de != nil && de.IsDir() {
					if path != root && shouldSkipDir(de.Name()) {
						return godirwalk.SkipThis
					}
					return nil
				}
				if tabular.IsSupported(path) {
					add(path)
				}
				return nil
			},
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// LoadFiles reads every path into memory.
func (ix *Indexer) LoadFiles(paths []string) ([]tabular.File, error) {
	files := make([]tabular.File, 0, len(paths))
	for _, p := range paths {
		b, err := ix.FileReader.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		files = append(files, tabular.File{Name: filepath.Base(p), Data: b})
	}
	return files, nil
}

// shouldSkipDir returns true for directories that never hold user data.
func shouldSkipDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	switch name {
	case "node_modules", "vendor", "__pycache__":
		return true
	}
	return false
}
