package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	"PolyChat/models"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIProvider serves the gpt-* catalog entries through langchaingo and
// streams token by token.
type OpenAIProvider struct {
	apiKey  string
	baseURL string

	once sync.Once
	llm  llms.Model
	err  error
}

func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	return &OpenAIProvider{apiKey: strings.TrimSpace(apiKey), baseURL: strings.TrimSpace(baseURL)}
}

// client builds the langchaingo model on first use so a missing key only
// fails the calls, not startup.
func (p *OpenAIProvider) client() (llms.Model, error) {
	p.once.Do(func() {
		if p.apiKey == "" {
			p.err = errors.New("openai: " + ErrNotConfigured.Error())
			return
		}
		opts := []openai.Option{openai.WithToken(p.apiKey), openai.WithModel(models.DefaultModel)}
		if p.baseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.baseURL))
		}
		p.llm, p.err = openai.New(opts...)
	})
	return p.llm, p.err
}

func openAIMessages(req Request) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(req.History)+1)
	for _, m := range req.History {
		role := llms.ChatMessageTypeHuman
		if m.Role == models.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		msgs = append(msgs, llms.TextParts(role, m.Content))
	}
	return append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))
}

func (p *OpenAIProvider) generate(ctx context.Context, req Request, extra ...llms.CallOption) (string, error) {
	llm, err := p.client()
	if err != nil {
		return "", err
	}
	opts := append([]llms.CallOption{
		llms.WithModel(req.Model),
		llms.WithTemperature(Temperature),
		llms.WithMaxTokens(MaxTokens),
	}, extra...)
	resp, err := llm.GenerateContent(ctx, openAIMessages(req), opts...)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return resp.Choices[0].Content, nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	return p.generate(ctx, req)
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request, onDelta func(string)) error {
	_, err := p.generate(ctx, req, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		onDelta(string(chunk))
		return nil
	}))
	return err
}
