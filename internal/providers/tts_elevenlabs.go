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

const (
	elevenLabsBaseURL      = "https://api.elevenlabs.io"
	elevenLabsDefaultModel = "eleven_flash_v2_5"
	elevenLabsOutputFormat = "mp3_44100_128"
)

// ElevenLabsTTS implements TTS via ElevenLabs' REST API, grounded on the
// an ElevenLabs TTS REST client. It is the preferred voice-cast provider;
// CartesiaTTS is the fallback used when no ElevenLabs key is configured.
type ElevenLabsTTS struct {
	*Adapter
	apiKey       string
	defaultVoice string
	model        string
	client       *http.Client
}

var _ TTS = (*ElevenLabsTTS)(nil)

func NewElevenLabsTTS(apiKey, defaultVoiceID string, metrics *Metrics) *ElevenLabsTTS {
	return &ElevenLabsTTS{
		Adapter:      NewAdapter("elevenlabs-tts", 3, 6, metrics),
		apiKey:       apiKey,
		defaultVoice: defaultVoiceID,
		model:        elevenLabsDefaultModel,
		client:       &http.Client{Timeout: 90 * time.Second},
	}
}

type elevenLabsRequest struct {
	Text          string                   `json:"text"`
	ModelID       string                   `json:"model_id"`
	VoiceSettings *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
	Speed         *float64                 `json:"speed,omitempty"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
}

func (s *ElevenLabsTTS) Synthesize(ctx context.Context, text, voiceID string, durationTargetMs int) (*TTSResponse, error) {
	effectiveVoice := s.defaultVoice
	if voiceID != "" {
		effectiveVoice = voiceID
	}

	speed := 0.85
	reqBody := elevenLabsRequest{
		Text:    text,
		ModelID: s.model,
		Speed:   &speed,
		VoiceSettings: &elevenLabsVoiceSettings{
			Stability:       0.60,
			SimilarityBoost: 0.80,
			Style:           0.35,
			UseSpeakerBoost: true,
		},
	}

	var out *TTSResponse
	err := s.Call(ctx, func(ctx context.Context) error {
		payload, err := json.Marshal(reqBody)
		if err != nil {
			return &ProviderError{Kind: KindInvalidInput, Provider: "elevenlabs", UpstreamErr: err}
		}
		url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", elevenLabsBaseURL, effectiveVoice, elevenLabsOutputFormat)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return &ProviderError{Kind: KindRetryable, Provider: "elevenlabs", UpstreamErr: err}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("xi-api-key", s.apiKey)

		resp, err := s.client.Do(req)
		if err != nil {
			return &ProviderError{Kind: KindRetryable, Provider: "elevenlabs", UpstreamErr: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return &ProviderError{Kind: ClassifyHTTPStatus(resp.StatusCode), Provider: "elevenlabs", Code: resp.StatusCode, UpstreamErr: fmt.Errorf("%s", string(body))}
		}

		audioData, err := io.ReadAll(resp.Body)
		if err != nil {
			return &ProviderError{Kind: KindRetryable, Provider: "elevenlabs", UpstreamErr: err}
		}
		if len(audioData) == 0 {
			return &ProviderError{Kind: KindRetryable, Provider: "elevenlabs", UpstreamErr: fmt.Errorf("empty audio response")}
		}

		out = &TTSResponse{
			AudioData:  audioData,
			DurationMs: estimateAudioDuration(text, speed),
			Format:     "mp3",
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs synthesis failed: %w", err)
	}
	return out, nil
}
