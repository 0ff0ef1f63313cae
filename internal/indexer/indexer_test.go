package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog"

	"github.com/seanblong/csvchat/internal/ai"
	"github.com/seanblong/csvchat/internal/chunker"
	"github.com/seanblong/csvchat/internal/store"
	"github.com/seanblong/csvchat/internal/tabular"
)

func init() {
	// Suppress logs during testing
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// MockEmbedder implements ai.Embedder for testing
type MockEmbedder struct {
	EmbedDocumentsFunc func(ctx context.Context, texts []string) ([][]float32, error)
	mu                 sync.Mutex
	batches            [][]string
}

func (m *MockEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.batches = append(m.batches, append([]string(nil), texts...))
	m.mu.Unlock()
	if m.EmbedDocumentsFunc != nil {
		return m.EmbedDocumentsFunc(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{1, float32(len(t))}
	}
	return out, nil
}

func (m *MockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, float32(len(text))}, nil
}

func (m *MockEmbedder) Model() string { return "mock-embed" }

func (m *MockEmbedder) Batches() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches
}

// MockIndexWriter implements IndexWriter for testing
type MockIndexWriter struct {
	WriteFunc func(ctx context.Context, path string, m store.Manifest, chunks []store.Chunk) (store.Manifest, error)
	Calls     int
}

func (m *MockIndexWriter) Write(ctx context.Context, path string, man store.Manifest, chunks []store.Chunk) (store.Manifest, error) {
	m.Calls++
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, path, man, chunks)
	}
	man.Chunks = len(chunks)
	man.BuildID = "test-build"
	return man, nil
}

// MockFileSystemWalker implements FileSystemWalker for testing
type MockFileSystemWalker struct {
	FilesToProcess []string // List of file paths to process
	WalkError      error    // Error to return from Walk
}

func (m *MockFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	if m.WalkError != nil {
		return m.WalkError
	}
	// a nil Dirent is treated as a regular file by the callback
	for _, filePath := range m.FilesToProcess {
		if err := options.Callback(filePath, nil); err != nil {
			return err
		}
	}
	return nil
}

// MockFileReader implements FileReader for testing
type MockFileReader struct {
	ReadFileFunc func(filename string) ([]byte, error)
	Files        map[string]string // path -> content
}

func (m *MockFileReader) ReadFile(filename string) ([]byte, error) {
	if m.ReadFileFunc != nil {
		return m.ReadFileFunc(filename)
	}
	if content, exists := m.Files[filename]; exists {
		return []byte(content), nil
	}
	return nil, errors.New("file not found")
}

func newTestIndexer(t *testing.T, emb ai.Embedder, writer IndexWriter, opts Options) *Indexer {
	t.Helper()
	ch, err := chunker.New(100, 20)
	if err != nil {
		t.Fatal(err)
	}
	if opts.Collection == "" {
		opts.Collection = "csv_rows"
	}
	if opts.IndexPath == "" {
		opts.IndexPath = "/tmp/idx"
	}
	return NewWithDependencies(emb, ch, opts, writer, &MockFileSystemWalker{}, &MockFileReader{})
}

func chunkList(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strings.Repeat("x", i+1)
	}
	return out
}

func TestIndexer_Build(t *testing.T) {
	tests := []struct {
		name          string
		chunks        []string
		batchSize     int
		embedder      *MockEmbedder
		writer        *MockIndexWriter
		expectedError error
		writeCalls    int
		batches       int
	}{
		{
			name:       "single batch",
			chunks:     chunkList(3),
			batchSize:  32,
			embedder:   &MockEmbedder{},
			writer:     &MockIndexWriter{},
			writeCalls: 1,
			batches:    1,
		},
		{
			name:       "several batches",
			chunks:     chunkList(10),
			batchSize:  3,
			embedder:   &MockEmbedder{},
			writer:     &MockIndexWriter{},
			writeCalls: 1,
			batches:    4,
		},
		{
			name:          "empty corpus",
			chunks:        nil,
			batchSize:     3,
			embedder:      &MockEmbedder{},
			writer:        &MockIndexWriter{},
			expectedError: chunker.ErrEmptyCorpus,
		},
		{
			name:      "embedding failure writes nothing",
			chunks:    chunkList(10),
			batchSize: 2,
			embedder: &MockEmbedder{
				EmbedDocumentsFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
					return nil, errors.New("quota exceeded")
				},
			},
			writer:        &MockIndexWriter{},
			expectedError: ai.ErrEmbedding,
		},
		{
			name:      "short embedding response",
			chunks:    chunkList(4),
			batchSize: 4,
			embedder: &MockEmbedder{
				EmbedDocumentsFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
					return [][]float32{{1}}, nil
				},
			},
			writer:        &MockIndexWriter{},
			expectedError: ai.ErrEmbedding,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix := newTestIndexer(t, tt.embedder, tt.writer, Options{BatchSize: tt.batchSize, Workers: 2, Provider: "stub"})

			m, err := ix.Build(context.Background(), tt.chunks)
			if tt.expectedError != nil {
				if !errors.Is(err, tt.expectedError) {
					t.Fatalf("Expected error %v, got %v", tt.expectedError, err)
				}
				if tt.writer.Calls != 0 {
					t.Errorf("Expected no index write, got %d", tt.writer.Calls)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if tt.writer.Calls != tt.writeCalls {
				t.Errorf("Expected %d writes, got %d", tt.writeCalls, tt.writer.Calls)
			}
			if got := len(tt.embedder.Batches()); got != tt.batches {
				t.Errorf("Expected %d batches, got %d", tt.batches, got)
			}
			if m.EmbedModel != "mock-embed" || m.Provider != "stub" || m.Collection != "csv_rows" {
				t.Errorf("Unexpected manifest: %+v", m)
			}
			if m.Chunks != len(tt.chunks) {
				t.Errorf("Expected %d chunks in manifest, got %d", len(tt.chunks), m.Chunks)
			}
		})
	}
}

func TestIndexer_BuildKeepsChunkOrder(t *testing.T) {
	chunks := chunkList(25)
	var written []store.Chunk
	writer := &MockIndexWriter{
		WriteFunc: func(ctx context.Context, path string, m store.Manifest, docs []store.Chunk) (store.Manifest, error) {
			if path != "/tmp/idx" {
				t.Errorf("Expected index path /tmp/idx, got %s", path)
			}
			written = docs
			return m, nil
		},
	}
	ix := newTestIndexer(t, &MockEmbedder{}, writer, Options{BatchSize: 4, Workers: 3})

	if _, err := ix.Build(context.Background(), chunks); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(written) != len(chunks) {
		t.Fatalf("Expected %d chunks written, got %d", len(chunks), len(written))
	}
	for i, c := range written {
		if c.Content != chunks[i] {
			t.Errorf("Chunk %d out of order: %q", i, c.Content)
		}
		// the mock embeds length into slot 1
		if !reflect.DeepEqual(c.Embedding, []float32{1, float32(len(chunks[i]))}) {
			t.Errorf("Chunk %d has embedding %v", i, c.Embedding)
		}
	}
}

func TestIndexer_BuildBoundedConcurrency(t *testing.T) {
	var inFlight, peak int32
	emb := &MockEmbedder{
		EmbedDocumentsFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			out := make([][]float32, len(texts))
			for i := range texts {
				out[i] = []float32{1, 0}
			}
			return out, nil
		},
	}
	ix := newTestIndexer(t, emb, &MockIndexWriter{}, Options{BatchSize: 1, Workers: 2})

	if _, err := ix.Build(context.Background(), chunkList(12)); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if peak > 2 {
		t.Errorf("Expected at most 2 concurrent calls, saw %d", peak)
	}
}

func TestIndexer_BuildBatchTimeout(t *testing.T) {
	emb := &MockEmbedder{
		EmbedDocumentsFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	ix := newTestIndexer(t, emb, &MockIndexWriter{}, Options{BatchSize: 10, Workers: 1, Timeout: 10 * time.Millisecond})

	_, err := ix.Build(context.Background(), chunkList(3))
	if !errors.Is(err, ai.ErrEmbedding) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected embedding error caused by deadline, got %v", err)
	}
}

func TestIndexer_Index(t *testing.T) {
	tests := []struct {
		name          string
		files         []tabular.File
		expectedError error
		rows          int
		skipped       bool
		writes        int
	}{
		{
			name:   "two rows",
			files:  []tabular.File{{Name: "people.csv", Data: []byte("name,age\nAlice,30\nBob,25\n")}},
			rows:   2,
			writes: 1,
		},
		{
			name:          "header only",
			files:         []tabular.File{{Name: "empty.csv", Data: []byte("name,age\n")}},
			expectedError: chunker.ErrEmptyCorpus,
		},
		{
			name: "bad file skipped",
			files: []tabular.File{
				{Name: "bad.csv", Data: []byte("a\n\xff\n")},
				{Name: "good.csv", Data: []byte("name\nAlice\n")},
			},
			rows:    1,
			skipped: true,
			writes:  1,
		},
		{
			name:          "only bad files",
			files:         []tabular.File{{Name: "bad.csv", Data: []byte("a\n\xff\n")}},
			expectedError: tabular.ErrDecode,
			skipped:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writer := &MockIndexWriter{}
			ix := newTestIndexer(t, &MockEmbedder{}, writer, Options{})

			res, err := ix.Index(context.Background(), tt.files)
			if tt.expectedError != nil {
				if !errors.Is(err, tt.expectedError) {
					t.Fatalf("Expected %v, got %v", tt.expectedError, err)
				}
			} else if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if res.Rows != tt.rows {
				t.Errorf("Expected %d rows, got %d", tt.rows, res.Rows)
			}
			if (res.Skipped != nil) != tt.skipped {
				t.Errorf("Expected skipped=%v, got %v", tt.skipped, res.Skipped)
			}
			if writer.Calls != tt.writes {
				t.Errorf("Expected %d writes, got %d", tt.writes, writer.Calls)
			}
		})
	}
}

func TestIndexer_IndexWithStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "csv_index")
	ch, _ := chunker.New(chunker.DefaultChunkSize, chunker.DefaultChunkOverlap)
	client := ai.NewStubClient(64)
	ix := New(client, ch, Options{IndexPath: path, Collection: "csv_rows", Provider: "stub"})

	res, err := ix.Index(context.Background(), []tabular.File{
		{Name: "people.csv", Data: []byte("name,age\nAlice,30\nBob,25")},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if res.Manifest.Dim != 64 || res.Manifest.EmbedModel != client.Model() {
		t.Errorf("Unexpected manifest: %+v", res.Manifest)
	}

	idx, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if idx.Count() != 1 {
		t.Errorf("Expected one chunk, got %d", idx.Count())
	}
}

func TestIndexer_Discover(t *testing.T) {
	dir := t.TempDir()
	mk := func(rel string) string {
		p := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("a\n1\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}
	a := mk("a.csv")
	b := mk("sub/b.CSV")
	c := mk("sub/deeper/c.xlsx")
	mk("notes.txt")
	mk(".git/hidden.csv")
	mk("sub/.cache/x.csv")
	single := mk("other/single.csv")

	ch, _ := chunker.New(100, 10)
	ix := New(&MockEmbedder{}, ch, Options{})

	got, err := ix.Discover([]string{dir, single})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	want := []string{a, single, b, c}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	if _, err := ix.Discover([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("Expected error for missing path")
	}

	got, err = ix.Discover([]string{filepath.Join(dir, "notes.txt")})
	if err != nil || len(got) != 0 {
		t.Errorf("Expected unsupported file to be skipped, got %v, %v", got, err)
	}
}

func TestIndexer_DiscoverWithMockWalker(t *testing.T) {
	dir := t.TempDir()
	walker := &MockFileSystemWalker{FilesToProcess: []string{
		filepath.Join(dir, "z.csv"),
		filepath.Join(dir, "readme.md"),
		filepath.Join(dir, "a.xlsx"),
		filepath.Join(dir, "z.csv"),
	}}
	ch, _ := chunker.New(100, 10)
	ix := NewWithDependencies(&MockEmbedder{}, ch, Options{}, &MockIndexWriter{}, walker, &MockFileReader{})

	got, err := ix.Discover([]string{dir})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	want := []string{filepath.Join(dir, "a.xlsx"), filepath.Join(dir, "z.csv")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	walker.WalkError = errors.New("permission denied")
	if _, err := ix.Discover([]string{dir}); err == nil {
		t.Error("Expected walk error")
	}
}

func TestIndexer_LoadFiles(t *testing.T) {
	reader := &MockFileReader{Files: map[string]string{
		"/data/a.csv": "name\nAlice\n",
	}}
	ch, _ := chunker.New(100, 10)
	ix := NewWithDependencies(&MockEmbedder{}, ch, Options{}, &MockIndexWriter{}, &MockFileSystemWalker{}, reader)

	files, err := ix.LoadFiles([]string{"/data/a.csv"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(files) != 1 || files[0].Name != "a.csv" || string(files[0].Data) != "name\nAlice\n" {
		t.Errorf("Unexpected files: %+v", files)
	}

	if _, err := ix.LoadFiles([]string{"/data/missing.csv"}); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestNewWithDependencies_Defaults(t *testing.T) {
	ix := NewWithDependencies(&MockEmbedder{}, nil, Options{}, nil, nil, nil)
	if ix.Options.BatchSize != 32 || ix.Options.Workers != 4 || ix.Options.Timeout != 60*time.Second {
		t.Errorf("Unexpected defaults: %+v", ix.Options)
	}
}

func TestShouldSkipDir(t *testing.T) {
	tests := map[string]bool{
		".git":         true,
		".cache":       true,
		"node_modules": true,
		"data":         false,
		"2024":         false,
	}
	for name, want := range tests {
		if got := shouldSkipDir(name); got != want {
			t.Errorf("shouldSkipDir(%q) = %v, want %v", name, got, want)
		}
	}
}
