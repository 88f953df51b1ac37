package providers

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// LLM is the uniform contract for the strategist and scriptwriter
// calls: generate(prompt, system?, schema?) -> structured
// output, retrying up to N=2 times with tightened instructions on
// malformed JSON before surfacing an error. The image critic uses the
// separate Critic contract (critic.go), which retries a malformed reply
// through Adapter.Call with the same prompt, without tightened
// instructions.
type LLM interface {
	// Generate calls the model with systemPrompt/userPrompt and unmarshals
	// the JSON response into out (a pointer). validate, if non-nil, is run
	// against the unmarshalled value; a validation failure triggers a
	// tightened-instructions retry exactly like a JSON parse failure.
	Generate(ctx context.Context, systemPrompt, userPrompt string, out any, validate func() error) error
}

const maxMalformedRetries = 2

// OpenAILLM implements LLM over the chat completions JSON-mode endpoint,
// grounded on an OpenAI chat-completion strategist call.
type OpenAILLM struct {
	*Adapter
	client *openai.Client
	model  string
}

func NewOpenAILLM(apiKey, model string, metrics *Metrics) *OpenAILLM {
	if model == "" {
		model = "gpt-5-mini"
	}
	return &OpenAILLM{
		Adapter: NewAdapter("openai-llm", 2, 4, metrics),
		client:  openai.NewClient(apiKey),
		model:   model,
	}
}

func (s *OpenAILLM) Generate(ctx context.Context, systemPrompt, userPrompt string, out any, validate func() error) error {
	attemptPrompt := userPrompt
	var lastRaw string

	for attempt := 0; attempt <= maxMalformedRetries; attempt++ {
		err := s.Call(ctx, func(ctx context.Context) error {
			resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model: s.model,
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
					{Role: openai.ChatMessageRoleUser, Content: attemptPrompt},
				},
				ResponseFormat: &openai.ChatCompletionResponseFormat{
					Type: openai.ChatCompletionResponseFormatTypeJSONObject,
				},
				Temperature: 1.0,
			})
			if err != nil {
				return &ProviderError{Kind: KindRetryable, Provider: "openai", UpstreamErr: err}
			}
			if len(resp.Choices) == 0 {
				return &ProviderError{Kind: KindRetryable, Provider: "openai", UpstreamErr: fmt.Errorf("no choices returned")}
			}
			lastRaw = resp.Choices[0].Message.Content
			return nil
		})
		if err != nil {
			return fmt.Errorf("llm call failed: %w", err)
		}

		if jsonErr := json.Unmarshal([]byte(lastRaw), out); jsonErr != nil {
			if attempt == maxMalformedRetries {
				return fmt.Errorf("llm response did not parse after %d attempts: %w", attempt+1, jsonErr)
			}
			attemptPrompt = tightenInstructions(userPrompt, jsonErr.Error())
			continue
		}
		if validate != nil {
			if valErr := validate(); valErr != nil {
				if attempt == maxMalformedRetries {
					return fmt.Errorf("llm response failed validation after %d attempts: %w", attempt+1, valErr)
				}
				attemptPrompt = tightenInstructions(userPrompt, valErr.Error())
				continue
			}
		}
		return nil
	}
	return fmt.Errorf("unreachable")
}

func tightenInstructions(original, problem string) string {
	return fmt.Sprintf("%s\n\nIMPORTANT: your previous response was rejected (%s). Respond with ONLY valid JSON matching the requested schema, no prose, no markdown fences.", original, problem)
}
