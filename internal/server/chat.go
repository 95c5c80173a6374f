package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/legalyze/legalyze/internal/models"
	"github.com/legalyze/legalyze/internal/rag"
	"go.uber.org/zap"
)

type chatRequest struct {
	Messages []models.ChatTurn `json:"messages"`
}

type chatEvent struct {
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleChat answers the last user message about a contract as a server-sent event stream.
// Each completion delta is sent as `data: {"text": ...}` and the stream ends with `data: [DONE]`.
// Errors raised before the first delta are returned as plain JSON errors.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := rag.Question(req.Messages); err != nil {
		s.fail(w, "chat rejected", err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	started := false
	start := func() {
		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		started = true
	}
	answer, err := s.chat.Ask(r.Context(), id, req.Messages, func(delta string) error {
		if !started {
			start()
		}
		return writeEvent(w, flusher, chatEvent{Text: delta})
	})
	if err != nil {
		if !started {
			s.fail(w, "chat failed", err)
			return
		}
		s.logger.Error("chat stream failed", zap.String("contract", id), zap.Error(err))
		_ = writeEvent(w, flusher, chatEvent{Error: err.Error()})
		return
	}
	if !started {
		start()
	}
	s.logger.Debug("chat answered",
		zap.String("contract", id),
		zap.Int("chars", len(answer.Text)),
		zap.Strings("chunks_used", answer.ChunksUsed))
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev chatEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
