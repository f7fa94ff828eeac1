// Package llmtest provides a deterministic Completer for pipeline tests.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"negotiation-scoring-go/internal/llm"
)

// Fake routes completion requests to canned handlers by prompt name prefix.
// It records every request so tests can assert what was asked.
type Fake struct {
	mu       sync.Mutex
	handlers map[string]func(req llm.Request) (json.RawMessage, error)
	requests []llm.Request
}

func New() *Fake {
	return &Fake{handlers: map[string]func(req llm.Request) (json.RawMessage, error){}}
}

// Respond registers a fixed JSON response for prompt names starting with
// prefix.
func (f *Fake) Respond(prefix string, response string) *Fake {
	f.Handle(prefix, func(llm.Request) (json.RawMessage, error) {
		return json.RawMessage(response), nil
	})
	return f
}

// Fail registers an error for prompt names starting with prefix.
func (f *Fake) Fail(prefix string, err error) *Fake {
	f.Handle(prefix, func(llm.Request) (json.RawMessage, error) {
		return nil, err
	})
	return f
}

func (f *Fake) Handle(prefix string, h func(req llm.Request) (json.RawMessage, error)) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[prefix] = h
	return f
}

func (f *Fake) Complete(_ context.Context, req llm.Request) (json.RawMessage, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	var handler func(req llm.Request) (json.RawMessage, error)
	longest := -1
	for prefix, h := range f.handlers {
		if strings.HasPrefix(req.PromptName, prefix) && len(prefix) > longest {
			longest = len(prefix)
			handler = h
		}
	}
	f.mu.Unlock()

	if handler == nil {
		return nil, fmt.Errorf("no fake handler for prompt %q", req.PromptName)
	}
	return handler(req)
}

// Requests returns a copy of every request seen so far.
func (f *Fake) Requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]llm.Request, len(f.requests))
	copy(out, f.requests)
	return out
}
