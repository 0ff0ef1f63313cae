package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/seanblong/csvchat/internal/session"
	"github.com/seanblong/csvchat/internal/tabular"
	"github.com/seanblong/csvchat/pkg/models"
)

const defaultMaxUpload = 32 << 20

// chat is the session surface served over HTTP.
type chat interface {
	Submit(ctx context.Context, files []tabular.File) session.Notice
	Ask(ctx context.Context, question string) (models.Message, session.Notice)
	Clear()
	Messages() []models.Message
	State() session.State
}

type server struct {
	chat      chat
	maxUpload int64
}

type askRequest struct {
	Question string `json:"question"`
}

type noticeResponse struct {
	Notice session.Notice `json:"notice"`
	State  string         `json:"state"`
}

type askResponse struct {
	Message *models.Message `json:"message,omitempty"`
	Notice  session.Notice  `json:"notice"`
	State   string          `json:"state"`
}

type messagesResponse struct {
	Messages []models.Message `json:"messages"`
	State    string           `json:"state"`
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	mux.HandleFunc("POST /process", s.handleProcess)
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("POST /clear", s.handleClear)
	mux.HandleFunc("GET /messages", s.handleMessages)
	return mux
}

func (s *server) handleProcess(w http.ResponseWriter, r *http.Request) {
	limit := s.maxUpload
	if limit <= 0 {
		limit = defaultMaxUpload
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	var files []tabular.File
	err := r.ParseMultipartForm(limit)
	switch {
	case errors.Is(err, http.ErrNotMultipart):
		// no upload at all is reported as a notice, not a transport error
	case err != nil:
		http.Error(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	default:
		for _, fh := range r.MultipartForm.File["files"] {
			f, err := fh.Open()
			if err != nil {
				http.Error(w, "failed to open upload "+fh.Filename, http.StatusBadRequest)
				return
			}
			data, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				http.Error(w, "failed to read upload "+fh.Filename, http.StatusBadRequest)
				return
			}
			files = append(files, tabular.File{Name: fh.Filename, Data: data})
		}
	}

	notice := s.chat.Submit(r.Context(), files)
	hlog.FromRequest(r).Info().Int("files", len(files)).Str("level", string(notice.Level)).Msg("processed upload")
	writeJSON(w, r, noticeResponse{Notice: notice, State: s.chat.State().String()})
}

func (s *server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	reply, notice := s.chat.Ask(r.Context(), req.Question)
	resp := askResponse{Notice: notice, State: s.chat.State().String()}
	if reply.Role != "" {
		resp.Message = &reply
	}
	hlog.FromRequest(r).Info().Str("level", string(notice.Level)).Msg("answered")
	writeJSON(w, r, resp)
}

func (s *server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.chat.Clear()
	s.handleMessages(w, r)
}

func (s *server) handleMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, messagesResponse{Messages: s.chat.Messages(), State: s.chat.State().String()})
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to encode response")
	}
}
