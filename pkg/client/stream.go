package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"PolyChat/models"
	"PolyChat/pkg/apperr"
	svc "PolyChat/pkg/services"

	"go.uber.org/zap"
)

// CompletionStream is a streamed completion in progress. Snapshots delivers
// the accumulated text; the channel closes after the Done snapshot or on
// failure. Message and Err are meaningful once Snapshots is closed.
type CompletionStream struct {
	snaps chan svc.Snapshot
	body  io.ReadCloser

	mu      sync.Mutex
	message *models.Message
	err     error
}

func (s *CompletionStream) Snapshots() <-chan svc.Snapshot { return s.snaps }

// Message is the stored assistant message, or nil if the server did not
// report one.
func (s *CompletionStream) Message() *models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

func (s *CompletionStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops reading early. The server still stores the answer.
func (s *CompletionStream) Close() error { return s.body.Close() }

// Stream requests a streamed completion. HTTP-level failures (auth, unknown
// conversation, validation) are returned directly; provider failures arrive
// as a Done snapshot whose Error is set.
func (c *Client) Stream(ctx context.Context, conversationID, prompt, model string) (*CompletionStream, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	body := map[string]any{"prompt": prompt, "model": model, "stream": true}
	req, err := c.newRequest(ctx, http.MethodPost, conversationPath(conversationID)+"/completions", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.StoreErr("request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	s := &CompletionStream{snaps: make(chan svc.Snapshot, 8), body: resp.Body}
	go c.readStream(ctx, s)
	return s, nil
}

func (c *Client) readStream(ctx context.Context, s *CompletionStream) {
	defer close(s.snaps)
	defer s.body.Close()

	fail := func(err error) {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}

	r := newSSEReader(s.body)
	sawDone := false
	for {
		event, data, err := r.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !sawDone {
					fail(apperr.New(apperr.Provider, "stream ended before completion", io.ErrUnexpectedEOF))
				}
				return
			}
			if ctx.Err() != nil {
				fail(apperr.New(apperr.Timeout, "stream cancelled", ctx.Err()))
				return
			}
			fail(apperr.StoreErr("stream read failed", err))
			return
		}

		switch event {
		case "snapshot":
			var snap svc.Snapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				c.log.Warn("malformed snapshot event", zap.Error(err))
				continue
			}
			if snap.Done {
				sawDone = true
			}
			select {
			case s.snaps <- snap:
			case <-ctx.Done():
				fail(apperr.New(apperr.Timeout, "stream cancelled", ctx.Err()))
				return
			}
		case "message":
			var m models.Message
			if err := json.Unmarshal(data, &m); err != nil {
				c.log.Warn("malformed message event", zap.Error(err))
				continue
			}
			s.mu.Lock()
			s.message = &m
			s.mu.Unlock()
		default:
			c.log.Debug("ignoring event", zap.String("event", event))
		}
	}
}

// Collect drains the stream and returns the final snapshot.
func (s *CompletionStream) Collect() (svc.Snapshot, error) {
	var last svc.Snapshot
	for snap := range s.snaps {
		last = snap
	}
	return last, s.Err()
}
