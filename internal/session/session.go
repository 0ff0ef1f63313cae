// Package session holds the state of one chat: its message history and
// whether an index is ready to be queried.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/csvchat/internal/chunker"
	"github.com/seanblong/csvchat/internal/indexer"
	"github.com/seanblong/csvchat/internal/store"
	"github.com/seanblong/csvchat/internal/tabular"
	"github.com/seanblong/csvchat/pkg/models"
)

const (
	MsgNoFiles     = "Please upload a CSV file."
	MsgNoData      = "No data found in CSV files."
	MsgDone        = "Done"
	MsgNoIndex     = "Please upload and process a CSV file first."
	MsgNoQuestion  = "Please enter a question."
	msgAskFailed   = "Sorry, I could not answer that: "
	msgIndexFailed = "Processing failed: "
)

type State int

const (
	Idle State = iota
	Indexing
	Ready
	Answering
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Indexing:
		return "indexing"
	case Ready:
		return "ready"
	case Answering:
		return "answering"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Level string

const (
	LevelNone    Level = ""
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a status line for the user, separate from the chat history.
type Notice struct {
	Level Level  `json:"level,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Indexer builds the index from uploaded files.
type Indexer interface {
	Index(ctx context.Context, files []tabular.File) (indexer.Result, error)
}

// Retriever finds the chunks relevant to a question.
type Retriever interface {
	Query(ctx context.Context, q string, k int) ([]models.Document, error)
}

// Answerer turns a question and its chunks into an answer.
type Answerer interface {
	Answer(ctx context.Context, question string, docs []models.Document) (models.Answer, error)
}

// Session is a single chat. Operations are serialized; State and Messages
// may be read while an operation is running.
type Session struct {
	op sync.Mutex

	mu       sync.RWMutex
	state    State
	hasIndex bool
	messages []models.Message
	// clears counts Clear calls so an in-flight answer can tell its question is gone
	clears uint64

	greeting  string
	indexer   Indexer
	retriever Retriever
	answerer  Answerer
}

// New starts a session. indexReady tells whether an index from an earlier run
// can be queried right away.
func New(ix Indexer, r Retriever, a Answerer, greeting string, indexReady bool) *Session {
	s := &Session{
		greeting:  greeting,
		indexer:   ix,
		retriever: r,
		answerer:  a,
		hasIndex:  indexReady,
	}
	s.state = s.restingState()
	s.messages = []models.Message{s.greetingMessage()}
	return s
}

func (s *Session) greetingMessage() models.Message {
	return models.Message{Role: models.RoleAssistant, Content: s.greeting}
}

// restingState must be called with mu held.
func (s *Session) restingState() State {
	if s.hasIndex {
		return Ready
	}
	return Idle
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Messages returns a copy of the history.
func (s *Session) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Clear resets the history to the greeting. The index is kept.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = []models.Message{s.greetingMessage()}
	s.clears++
}

// Submit indexes files, replacing any previous index. When the files hold no
// data the previous index stays in place.
func (s *Session) Submit(ctx context.Context, files []tabular.File) Notice {
	if len(files) == 0 {
		return Notice{Level: LevelWarning, Text: MsgNoFiles}
	}

	s.op.Lock()
	defer s.op.Unlock()

	s.setState(Indexing)
	res, err := s.indexer.Index(ctx, files)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.hasIndex = true
	}
	s.state = s.restingState()

	switch {
	case errors.Is(err, chunker.ErrEmptyCorpus):
		log.Warn().Int("files", len(files)).Msg("no rows in submitted files")
		n := Notice{Level: LevelWarning, Text: MsgNoData}
		if res.Skipped != nil {
			n.Text += " " + oneLine(res.Skipped)
		}
		return n
	case err != nil:
		log.Error().Err(err).Msg("indexing failed")
		return Notice{Level: LevelError, Text: msgIndexFailed + oneLine(err)}
	case res.Skipped != nil:
		return Notice{Level: LevelError, Text: MsgDone + ", but some files were skipped: " + oneLine(res.Skipped)}
	default:
		log.Info().Int("rows", res.Rows).Int("chunks", res.Manifest.Chunks).Msg("files processed")
		return Notice{Level: LevelSuccess, Text: MsgDone}
	}
}

// Ask answers question from the index and records both sides of the exchange.
// Failures become the assistant's reply. A Clear during the call drops the
// reply from the history; it is still returned.
func (s *Session) Ask(ctx context.Context, question string) (models.Message, Notice) {
	question = strings.TrimSpace(question)
	if question == "" {
		return models.Message{}, Notice{Level: LevelWarning, Text: MsgNoQuestion}
	}

	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	s.messages = append(s.messages, models.Message{Role: models.RoleUser, Content: question})
	s.state = Answering
	clears := s.clears
	s.mu.Unlock()

	reply, notice := s.answer(ctx, question)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clears == clears {
		s.messages = append(s.messages, reply)
	}
	s.state = s.restingState()
	return reply, notice
}

func (s *Session) answer(ctx context.Context, question string) (models.Message, Notice) {
	reply := models.Message{Role: models.RoleAssistant}

	docs, err := s.retriever.Query(ctx, question, 0)
	if errors.Is(err, store.ErrIndexNotFound) {
		s.mu.Lock()
		s.hasIndex = false
		s.mu.Unlock()
		reply.Content = MsgNoIndex
		return reply, Notice{Level: LevelWarning, Text: MsgNoIndex}
	}
	if err != nil {
		log.Error().Err(err).Msg("retrieval failed")
		reply.Content = msgAskFailed + oneLine(err)
		return reply, Notice{Level: LevelError, Text: oneLine(err)}
	}

	ans, err := s.answerer.Answer(ctx, question, docs)
	if err != nil {
		log.Error().Err(err).Msg("answer generation failed")
		reply.Content = msgAskFailed + oneLine(err)
		return reply, Notice{Level: LevelError, Text: oneLine(err)}
	}
	reply.Content = ans.Text
	return reply, Notice{}
}

func oneLine(err error) string {
	return strings.ReplaceAll(err.Error(), "\n", "; ")
}
