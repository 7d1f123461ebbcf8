package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"PolyChat/models"
	"PolyChat/pkg/logger"

	"go.uber.org/zap"
)

const (
	sseDataPrefix = "data:"
	sseDoneMarker = "[DONE]"
)

// DeepSeekProvider serves deepseek-chat over the OpenAI-compatible
// chat-completions endpoint with stream=true.
type DeepSeekProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

type DeepSeekOption func(*DeepSeekProvider)

func WithDeepSeekBaseURL(u string) DeepSeekOption {
	return func(p *DeepSeekProvider) {
		if u = strings.TrimSpace(u); u != "" {
			p.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithDeepSeekHTTPClient(c *http.Client) DeepSeekOption {
	return func(p *DeepSeekProvider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

func NewDeepSeekProvider(apiKey string, opts ...DeepSeekOption) *DeepSeekProvider {
	p := &DeepSeekProvider{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: "https://api.deepseek.com",
		// no client timeout: streams are bounded by the request context
		httpClient: &http.Client{},
		log:        logger.Named("deepseek"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type deepSeekMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type deepSeekRequest struct {
	Model       string            `json:"model"`
	Messages    []deepSeekMessage `json:"messages"`
	Stream      bool              `json:"stream"`
	Temperature float64           `json:"temperature"`
	MaxTokens   int               `json:"max_tokens"`
}

type deepSeekChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (p *DeepSeekProvider) payload(req Request, stream bool) ([]byte, error) {
	msgs := make([]deepSeekMessage, 0, len(req.History)+1)
	for _, m := range req.History {
		role := string(models.RoleUser)
		if m.Role == models.RoleAssistant {
			role = string(models.RoleAssistant)
		}
		msgs = append(msgs, deepSeekMessage{Role: role, Content: m.Content})
	}
	msgs = append(msgs, deepSeekMessage{Role: string(models.RoleUser), Content: req.Prompt})
	return json.Marshal(deepSeekRequest{
		Model:       req.Model,
		Messages:    msgs,
		Stream:      stream,
		Temperature: Temperature,
		MaxTokens:   MaxTokens,
	})
}

func (p *DeepSeekProvider) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("deepseek: %w", ErrNotConfigured)
	}
	body, err := p.payload(req, stream)
	if err != nil {
		return nil, fmt.Errorf("deepseek: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("deepseek: http error: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, &HTTPStatusError{Provider: "deepseek", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

// Complete runs the streaming call and returns the accumulated text.
func (p *DeepSeekProvider) Complete(ctx context.Context, req Request) (string, error) {
	var b strings.Builder
	if err := p.Stream(ctx, req, func(d string) { b.WriteString(d) }); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (p *DeepSeekProvider) Stream(ctx context.Context, req Request, onDelta func(string)) error {
	resp, err := p.post(ctx, req, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return readDeltaFrames(resp.Body, onDelta)
}

// readDeltaFrames consumes newline-delimited "data: {json}" frames until the
// [DONE] marker or the end of the body. A frame that does not parse fails the
// whole stream.
func readDeltaFrames(r io.Reader, onDelta func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, sseDataPrefix) {
			// event:, id: and retry: fields carry nothing we use
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, sseDataPrefix))
		if data == sseDoneMarker {
			return nil
		}
		var chunk deepSeekChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("deepseek: malformed frame: %w", err)
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content != "" {
				onDelta(c.Delta.Content)
			} else if c.Message.Content != "" {
				onDelta(c.Message.Content)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("deepseek: stream read error: %w", err)
	}
	return nil
}
