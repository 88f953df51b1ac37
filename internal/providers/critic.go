package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/arcframe/reelforge/internal/models"
)

// Critic is the image critic contract: a deterministic
// scoring rubric covering cinematic quality, prompt adherence, character
// consistency, and technical fidelity.
type Critic interface {
	Critique(ctx context.Context, image []byte, briefContext string) (*models.CritiqueVerdict, error)
}

type criticResponse struct {
	Score     int    `json:"score"`
	Rationale string `json:"rationale"`
}

// OpenAICritic implements Critic via a vision-capable chat completion,
// reusing the same JSON-mode discipline as OpenAILLM.
type OpenAICritic struct {
	*Adapter
	client *openai.Client
	model  string
}

func NewOpenAICritic(apiKey, model string, metrics *Metrics) *OpenAICritic {
	if model == "" {
		model = "gpt-5-mini"
	}
	return &OpenAICritic{
		Adapter: NewAdapter("openai-critic", 2, 4, metrics),
		client:  openai.NewClient(apiKey),
		model:   model,
	}
}

const criticSystemPrompt = `You are a meticulous creative director critiquing a single still frame
intended for a short commercial video. Score strictly from 1 (unusable) to 10 (flawless) across:
cinematic quality, prompt adherence, character consistency, and technical fidelity (artifacts,
anatomy, lighting). Respond with ONLY JSON: {"score": <1-10 int>, "rationale": "<one sentence>"}.`

func (c *OpenAICritic) Critique(ctx context.Context, image []byte, briefContext string) (*models.CritiqueVerdict, error) {
	encoded := base64.StdEncoding.EncodeToString(image)
	dataURL := "data:image/png;base64," + encoded

	var parsed criticResponse
	var callErr error
	err := c.Call(ctx, func(ctx context.Context) error {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: criticSystemPrompt},
				{
					Role: openai.ChatMessageRoleUser,
					MultiContent: []openai.ChatMessagePart{
						{Type: openai.ChatMessagePartTypeText, Text: briefContext},
						{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
					},
				},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
			Temperature:    0.2,
		})
		if err != nil {
			return &ProviderError{Kind: KindRetryable, Provider: "openai-critic", UpstreamErr: err}
		}
		if len(resp.Choices) == 0 {
			return &ProviderError{Kind: KindRetryable, Provider: "openai-critic", UpstreamErr: fmt.Errorf("no choices returned")}
		}
		raw := resp.Choices[0].Message.Content
		if jsonErr := json.Unmarshal([]byte(raw), &parsed); jsonErr != nil {
			callErr = jsonErr
			return &ProviderError{Kind: KindRetryable, Provider: "openai-critic", UpstreamErr: jsonErr}
		}
		return nil
	})
	if err != nil {
		if callErr != nil {
			return nil, fmt.Errorf("critic response malformed: %w", callErr)
		}
		return nil, fmt.Errorf("critic call failed: %w", err)
	}
	if parsed.Score < 1 || parsed.Score > 10 {
		return nil, fmt.Errorf("critic returned out-of-range score %d", parsed.Score)
	}
	return &models.CritiqueVerdict{
		Score:     parsed.Score,
		Rationale: parsed.Rationale,
		Accept:    parsed.Score >= 7,
	}, nil
}
