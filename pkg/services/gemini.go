package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"PolyChat/models"
	"PolyChat/pkg/logger"

	"go.uber.org/zap"
)

// GeminiService serves the gemini-pro catalog entry. The REST endpoint is
// called in chat style (the whole history plus the new message) and answers
// in one piece, so it implements Provider only.
type GeminiService struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	retryDelay time.Duration
	log        *zap.Logger
}

type GeminiOption func(*GeminiService)

func WithGeminiBaseURL(u string) GeminiOption {
	return func(s *GeminiService) {
		if u = strings.TrimSpace(u); u != "" {
			s.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithGeminiModel sets the upstream model name used for the catalog entry.
func WithGeminiModel(m string) GeminiOption {
	return func(s *GeminiService) {
		if m = strings.TrimSpace(m); m != "" {
			s.model = m
		}
	}
}

func WithGeminiHTTPClient(c *http.Client) GeminiOption {
	return func(s *GeminiService) {
		if c != nil {
			s.httpClient = c
		}
	}
}

func WithGeminiRetryDelay(d time.Duration) GeminiOption {
	return func(s *GeminiService) { s.retryDelay = d }
}

func NewGeminiService(apiKey string, opts ...GeminiOption) *GeminiService {
	s := &GeminiService{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    "https://generativelanguage.googleapis.com/v1beta",
		model:      "gemini-2.0-flash",
		httpClient: &http.Client{Timeout: 90 * time.Second},
		retryDelay: 2 * time.Second,
		log:        logger.Named("gemini"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

// buildGeminiRequest maps history roles onto Gemini's: "assistant" becomes
// "model", everything else is sent as "user".
func buildGeminiRequest(req Request) geminiRequest {
	contents := make([]geminiContent, 0, len(req.History)+1)
	for _, m := range req.History {
		role := "user"
		if m.Role == models.RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}})
	return geminiRequest{
		Contents: contents,
		GenerationConfig: geminiGenerationConfig{
			Temperature:     Temperature,
			MaxOutputTokens: MaxTokens,
		},
	}
}

func (s *GeminiService) Complete(ctx context.Context, req Request) (string, error) {
	if s.apiKey == "" {
		return "", fmt.Errorf("gemini: %w", ErrNotConfigured)
	}
	body, err := json.Marshal(buildGeminiRequest(req))
	if err != nil {
		return "", fmt.Errorf("gemini: encode request: %w", err)
	}

	text, err := s.generateContent(ctx, body)
	if err != nil && isRetriable(err) {
		s.log.Info("retrying after upstream throttling", zap.Error(err))
		sleepWithContext(ctx, s.retryDelay)
		text, err = s.generateContent(ctx, body)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (s *GeminiService) generateContent(ctx context.Context, body []byte) (string, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent", s.baseURL, s.model)
	s.log.Debug("generateContent", zap.String("model", s.model))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-goog-api-key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini: http error: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("gemini: read error: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &HTTPStatusError{Provider: "gemini", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBytes))}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return "", fmt.Errorf("gemini: malformed response: %w", err)
	}
	if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("gemini: prompt blocked: %s", parsed.PromptFeedback.BlockReason)
	}
	if len(parsed.Candidates) == 0 {
		return "", errors.New("gemini: no candidates in response")
	}
	var b strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}

func isRetriable(err error) bool {
	var se *HTTPStatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode == http.StatusServiceUnavailable
	}
	return false
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
