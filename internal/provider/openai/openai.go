package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/felipepmaragno/sqlassist/internal/domain"
)

type Provider struct {
	baseURL string
	client  *http.Client
}

// New returns a provider for an OpenAI-compatible endpoint. The API key is
// supplied per call because requests may carry their own key.
func New(baseURL string, client *http.Client) *Provider {
	return &Provider{
		baseURL: baseURL,
		client:  client,
	}
}

func (p *Provider) ID() string {
	return "openai"
}

func (p *Provider) Complete(ctx context.Context, apiKey string, req domain.CompletionRequest) (*domain.Completion, error) {
	cfg := goopenai.DefaultConfig(apiKey)
	if p.baseURL != "" {
		cfg.BaseURL = p.baseURL
	}
	if p.client != nil {
		cfg.HTTPClient = p.client
	}
	client := goopenai.NewClientWithConfig(cfg)

	resp, err := client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    convertMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: temperature(req.Temperature),
		LogProbs:    req.LogProbs,
	})
	if err != nil {
		var apiErr *goopenai.APIError
		if errors.As(err, &apiErr) {
			return nil, &domain.ProviderError{StatusCode: apiErr.HTTPStatusCode, Err: err}
		}
		var reqErr *goopenai.RequestError
		if errors.As(err, &reqErr) {
			return nil, &domain.ProviderError{StatusCode: reqErr.HTTPStatusCode, Err: err}
		}
		return nil, fmt.Errorf("create chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("no valid choices in the response")
	}

	return convertResponse(resp), nil
}

// temperature works around omitempty on the request field: an explicit zero
// would otherwise be dropped and the API default of 1 applied.
func temperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

func convertMessages(messages []domain.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		out[i] = goopenai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return out
}

func convertResponse(resp goopenai.ChatCompletionResponse) *domain.Completion {
	choice := resp.Choices[0]

	completion := &domain.Completion{
		ID:           resp.ID,
		Model:        resp.Model,
		Text:         choice.Message.Content,
		FinishReason: domain.FinishReason(choice.FinishReason),
		Usage:        domain.NewUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens),
	}

	if choice.LogProbs != nil && len(choice.LogProbs.Content) > 0 {
		completion.LogProbs = make([]domain.TokenLogProb, len(choice.LogProbs.Content))
		for i, lp := range choice.LogProbs.Content {
			completion.LogProbs[i] = domain.TokenLogProb{Token: lp.Token, LogProb: lp.LogProb}
		}
	}

	return completion
}
