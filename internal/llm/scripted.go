package llm

import (
	"context"
	"strings"
	"sync"
)

// ScriptedModel is a ChatModel that answers every request with a fixed reply. Stream delivers
// the reply word by word. Used in tests and offline runs.
type ScriptedModel struct {
	Reply string
	Err   error

	mu       sync.Mutex
	requests []Request
}

// NewScriptedModel returns a model that always answers reply.
func NewScriptedModel(reply string) *ScriptedModel {
	return &ScriptedModel{Reply: reply}
}

// Complete records req and returns the reply.
func (m *ScriptedModel) Complete(ctx context.Context, req Request) (string, error) {
	m.record(req)
	if m.Err != nil {
		return "", m.Err
	}
	return m.Reply, ctx.Err()
}

// Stream records req and passes the reply to onDelta in word-sized pieces.
func (m *ScriptedModel) Stream(ctx context.Context, req Request, onDelta func(string) error) (string, error) {
	m.record(req)
	if m.Err != nil {
		return "", m.Err
	}
	for _, piece := range strings.SplitAfter(m.Reply, " ") {
		if piece == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := onDelta(piece); err != nil {
			return "", err
		}
	}
	return m.Reply, nil
}

// Requests returns the requests received so far.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

func (m *ScriptedModel) record(req Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
}
