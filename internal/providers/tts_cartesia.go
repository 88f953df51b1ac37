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

const cartesiaAPIVersion = "2024-06-10"

// CartesiaTTS implements TTS via Cartesia's REST API, grounded on the
// a Cartesia TTS REST client. Used as the fallback voice provider when no
// ElevenLabs key is configured.
type CartesiaTTS struct {
	*Adapter
	apiKey       string
	apiURL       string
	defaultVoice string
	client       *http.Client
}

var _ TTS = (*CartesiaTTS)(nil)

func NewCartesiaTTS(apiKey, apiURL, defaultVoiceID string, metrics *Metrics) *CartesiaTTS {
	return &CartesiaTTS{
		Adapter:      NewAdapter("cartesia-tts", 3, 6, metrics),
		apiKey:       apiKey,
		apiURL:       apiURL,
		defaultVoice: defaultVoiceID,
		client:       &http.Client{Timeout: 60 * time.Second},
	}
}

type cartesiaRequest struct {
	ModelID      string                 `json:"model_id"`
	Transcript   string                 `json:"transcript"`
	Voice        cartesiaVoiceSpecifier `json:"voice"`
	OutputFormat cartesiaOutputFormat   `json:"output_format"`
}

type cartesiaVoiceSpecifier struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate"`
}

func (s *CartesiaTTS) Synthesize(ctx context.Context, text, voiceID string, durationTargetMs int) (*TTSResponse, error) {
	effectiveVoice := s.defaultVoice
	if voiceID != "" {
		effectiveVoice = voiceID
	}

	reqBody := cartesiaRequest{
		ModelID:    "sonic-2",
		Transcript: text,
		Voice:      cartesiaVoiceSpecifier{Mode: "id", ID: effectiveVoice},
		OutputFormat: cartesiaOutputFormat{
			Container:  "mp3",
			SampleRate: 44100,
		},
	}

	var out *TTSResponse
	err := s.Call(ctx, func(ctx context.Context) error {
		payload, err := json.Marshal(reqBody)
		if err != nil {
			return &ProviderError{Kind: KindInvalidInput, Provider: "cartesia", UpstreamErr: err}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/tts/bytes", bytes.NewReader(payload))
		if err != nil {
			return &ProviderError{Kind: KindRetryable, Provider: "cartesia", UpstreamErr: err}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-Key", s.apiKey)
		req.Header.Set("Cartesia-Version", cartesiaAPIVersion)

		resp, err := s.client.Do(req)
		if err != nil {
			return &ProviderError{Kind: KindRetryable, Provider: "cartesia", UpstreamErr: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return &ProviderError{Kind: ClassifyHTTPStatus(resp.StatusCode), Provider: "cartesia", Code: resp.StatusCode, UpstreamErr: fmt.Errorf("%s", string(body))}
		}

		audioData, err := io.ReadAll(resp.Body)
		if err != nil {
			return &ProviderError{Kind: KindRetryable, Provider: "cartesia", UpstreamErr: err}
		}
		if len(audioData) == 0 {
			return &ProviderError{Kind: KindRetryable, Provider: "cartesia", UpstreamErr: fmt.Errorf("empty audio response")}
		}

		out = &TTSResponse{AudioData: audioData, DurationMs: estimateAudioDuration(text, 1.0), Format: "mp3"}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cartesia synthesis failed: %w", err)
	}
	return out, nil
}
