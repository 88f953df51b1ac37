package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SFXMusic is the SFX/Music contract: synthesize(prompt,
// duration_target) -> audio_bytes.
type SFXMusic interface {
	Synthesize(ctx context.Context, prompt string, durationTargetS float64) ([]byte, error)
}

// ElevenLabsSFX implements SFXMusic via ElevenLabs' sound-generation
// endpoint, reusing the same REST/retry idiom as ElevenLabsTTS since both
// are ElevenLabs products behind the same auth header.
type ElevenLabsSFX struct {
	*Adapter
	apiKey string
	client *http.Client
}

var _ SFXMusic = (*ElevenLabsSFX)(nil)

func NewElevenLabsSFX(apiKey string, metrics *Metrics) *ElevenLabsSFX {
	return &ElevenLabsSFX{
		Adapter: NewAdapter("elevenlabs-sfx", 2, 4, metrics),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type soundGenRequest struct {
	Text                  string   `json:"text"`
	DurationSeconds       *float64 `json:"duration_seconds,omitempty"`
	PromptInfluence       float64  `json:"prompt_influence"`
}

func (s *ElevenLabsSFX) Synthesize(ctx context.Context, prompt string, durationTargetS float64) ([]byte, error) {
	var dur *float64
	if durationTargetS > 0 {
		dur = &durationTargetS
	}
	reqBody := soundGenRequest{Text: prompt, DurationSeconds: dur, PromptInfluence: 0.3}

	var out []byte
	err := s.Call(ctx, func(ctx context.Context) error {
		payload, err := json.Marshal(reqBody)
		if err != nil {
			return &ProviderError{Kind: KindInvalidInput, Provider: "elevenlabs-sfx", UpstreamErr: err}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, elevenLabsBaseURL+"/v1/sound-generation", bytes.NewReader(payload))
		if err != nil {
			return &ProviderError{Kind: KindRetryable, Provider: "elevenlabs-sfx", UpstreamErr: err}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("xi-api-key", s.apiKey)

		resp, err := s.client.Do(req)
		if err != nil {
			return &ProviderError{Kind: KindRetryable, Provider: "elevenlabs-sfx", UpstreamErr: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return &ProviderError{Kind: ClassifyHTTPStatus(resp.StatusCode), Provider: "elevenlabs-sfx", Code: resp.StatusCode, UpstreamErr: fmt.Errorf("%s", string(body))}
		}

		audio, err := io.ReadAll(resp.Body)
		if err != nil {
			return &ProviderError{Kind: KindRetryable, Provider: "elevenlabs-sfx", UpstreamErr: err}
		}
		if len(audio) == 0 {
			return &ProviderError{Kind: KindRetryable, Provider: "elevenlabs-sfx", UpstreamErr: fmt.Errorf("empty audio response")}
		}
		out = audio
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sfx/music synthesis failed: %w", err)
	}
	return out, nil
}
