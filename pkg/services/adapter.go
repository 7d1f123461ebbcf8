package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"PolyChat/models"
	"PolyChat/pkg/config"
	"PolyChat/pkg/logger"

	"go.uber.org/zap"
)

// Generation parameters are fixed for every provider and every call.
const (
	Temperature = 0.7
	MaxTokens   = 1000
)

// FallbackMessage is what users see when a model call fails.
const FallbackMessage = "I apologize, but I encountered an error processing your request."

var (
	ErrNotConfigured = errors.New("provider is not configured")
	ErrUnknownModel  = errors.New("unknown model")
	ErrEmptyResponse = errors.New("model returned an empty response")
)

// ChatMessage is one prior turn of a conversation.
type ChatMessage struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

// Request is one model call: a new prompt on top of the prior history (oldest first).
type Request struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	History []ChatMessage `json:"history,omitempty"`
}

// Response is the outcome of a single-shot call. Error is set when Content
// holds the fallback text instead of a model answer.
type Response struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Snapshot is one state of a streamed answer. Content is always the whole
// text accumulated so far, never a delta.
type Snapshot struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
	Error   string `json:"error,omitempty"`
}

// Provider answers a request in one piece.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// StreamingProvider can additionally deliver an answer as incremental deltas.
// Stream returns once the upstream closes its stream.
type StreamingProvider interface {
	Provider
	Stream(ctx context.Context, req Request, onDelta func(delta string)) error
}

// Adapter dispatches requests to the provider registered for the model id
// and normalizes results into Response and Snapshot values.
type Adapter struct {
	providers map[string]Provider
	log       *zap.Logger
}

// NewAdapter builds an adapter over an explicit model id -> provider table.
func NewAdapter(providers map[string]Provider) *Adapter {
	table := make(map[string]Provider, len(providers))
	for id, p := range providers {
		table[id] = p
	}
	return &Adapter{providers: table, log: logger.Named("adapter")}
}

// NewAdapterFromConfig registers one provider per catalog entry using the
// credentials in pkg/config.
func NewAdapterFromConfig() *Adapter {
	openai := NewOpenAIProvider(config.OpenAIAPIKey, config.OpenAIBaseURL)
	gemini := NewGeminiService(config.GeminiAPIKey, WithGeminiBaseURL(config.GeminiBaseURL), WithGeminiModel(config.GeminiModel))
	deepseek := NewDeepSeekProvider(config.DeepSeekAPIKey, WithDeepSeekBaseURL(config.DeepSeekBaseURL))

	table := map[string]Provider{}
	for _, m := range models.Catalog() {
		switch m.Provider {
		case models.ProviderOpenAI:
			table[m.ID] = openai
		case models.ProviderGemini:
			table[m.ID] = gemini
		case models.ProviderDeepSeek:
			table[m.ID] = deepseek
		}
	}
	return NewAdapter(table)
}

func (a *Adapter) provider(model string) (Provider, error) {
	p, ok := a.providers[model]
	if !ok || p == nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownModel, model)
	}
	return p, nil
}

// Complete returns the model answer, or the fallback text plus the error
// message when anything goes wrong. It never returns a Go error: callers
// check Response.Error.
func (a *Adapter) Complete(ctx context.Context, req Request) Response {
	p, err := a.provider(req.Model)
	if err == nil {
		var text string
		text, err = p.Complete(ctx, req)
		if err == nil && strings.TrimSpace(text) == "" {
			err = ErrEmptyResponse
		}
		if err == nil {
			return Response{Content: text}
		}
	}
	a.log.Warn("model call failed", zap.String("model", req.Model), zap.Error(err))
	return Response{Content: FallbackMessage, Error: err.Error()}
}

// Stream starts the request and returns a channel of snapshots. The channel
// yields progressively longer snapshots and is closed right after exactly one
// snapshot with Done set. On failure the terminal snapshot carries the
// fallback text and the error; snapshots sent before it are not retracted.
//
// Intermediate snapshots are skipped once ctx is done, but the terminal
// snapshot is always delivered, so the consumer must drain the channel.
func (a *Adapter) Stream(ctx context.Context, req Request) <-chan Snapshot {
	out := make(chan Snapshot)
	go func() {
		defer close(out)
		send := func(s Snapshot) {
			select {
			case out <- s:
			case <-ctx.Done():
			}
		}
		finish := func(s Snapshot) {
			out <- s
		}
		fail := func(err error) {
			a.log.Warn("model stream failed", zap.String("model", req.Model), zap.Error(err))
			finish(Snapshot{Content: FallbackMessage, Done: true, Error: err.Error()})
		}

		p, err := a.provider(req.Model)
		if err != nil {
			fail(err)
			return
		}

		sp, ok := p.(StreamingProvider)
		if !ok {
			text, err := p.Complete(ctx, req)
			if err == nil && strings.TrimSpace(text) == "" {
				err = ErrEmptyResponse
			}
			if err != nil {
				fail(err)
				return
			}
			finish(Snapshot{Content: text, Done: true})
			return
		}

		var acc strings.Builder
		err = sp.Stream(ctx, req, func(delta string) {
			if delta == "" {
				return
			}
			acc.WriteString(delta)
			send(Snapshot{Content: acc.String()})
		})
		if err == nil && strings.TrimSpace(acc.String()) == "" {
			err = ErrEmptyResponse
		}
		if err != nil {
			fail(err)
			return
		}
		finish(Snapshot{Content: acc.String(), Done: true})
	}()
	return out
}

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}
