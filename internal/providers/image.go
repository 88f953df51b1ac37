package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Image is the image generator contract:
// generate(prompt, aspect, resolution, seed, references?) -> image_bytes.
type Image interface {
	Generate(ctx context.Context, req ImageRequest) ([]byte, error)
}

// ImageRequest bundles the provider-facing inputs: a
// prompt truncated to the model max, aspect ratio, resolution, a
// determinism seed, and up to 3 reference images.
type ImageRequest struct {
	Prompt      string
	AspectRatio string
	Resolution  string
	Seed        int64
	References  [][]byte // raw bytes; the Image Stage sends at most one, the accepted Scene 1 image
}

const geminiImageModel = "gemini-3-pro-image-preview"
const maxImagePromptLen = 4000

func truncatePrompt(p string, max int) string {
	if len(p) <= max {
		return p
	}
	return p[:max-1] + "…"
}

// geminiContent/geminiPart mirror the Gemini generate-content REST schema.
type geminiGenerateRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig *geminiGenerationCfg    `json:"generationConfig,omitempty"`
}

type geminiGenerationCfg struct {
	ResponseModalities []string         `json:"responseModalities,omitempty"`
	ImageConfig        *geminiImageCfg  `json:"imageConfig,omitempty"`
}

type geminiImageCfg struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// GeminiImage implements Image over Gemini's REST generateContent
// endpoint, grounded on a Gemini image-generation REST client.
type GeminiImage struct {
	*Adapter
	apiKey string
	client *http.Client
}

func NewGeminiImage(apiKey string, metrics *Metrics) *GeminiImage {
	return &GeminiImage{
		Adapter: NewAdapter("gemini-image", 1, 2, metrics),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 300 * time.Second},
	}
}

func (g *GeminiImage) Generate(ctx context.Context, req ImageRequest) ([]byte, error) {
	prompt := truncatePrompt(req.Prompt, maxImagePromptLen)
	// Gemini has no native seed parameter over this REST surface, so
	// req.Seed is not sent. The Image Stage fingerprints the returned
	// bytes, so the seed is not part of that fingerprint either.
	parts := []geminiPart{{Text: prompt}}
	for _, ref := range req.References {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: "image/jpeg",
			Data:     base64.StdEncoding.EncodeToString(ref),
		}})
	}

	body := geminiGenerateRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiGenerationCfg{
			ResponseModalities: []string{"IMAGE"},
			ImageConfig:        &geminiImageCfg{AspectRatio: req.AspectRatio},
		},
	}

	var imageBytes []byte
	err := g.Call(ctx, func(ctx context.Context) error {
		payload, err := json.Marshal(body)
		if err != nil {
			return &ProviderError{Kind: KindInvalidInput, Provider: "gemini-image", UpstreamErr: err}
		}
		url := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s", geminiImageModel, g.apiKey)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return &ProviderError{Kind: KindRetryable, Provider: "gemini-image", UpstreamErr: err}
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := g.client.Do(httpReq)
		if err != nil {
			return &ProviderError{Kind: KindRetryable, Provider: "gemini-image", UpstreamErr: err}
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return &ProviderError{Kind: KindRetryable, Provider: "gemini-image", UpstreamErr: err}
		}
		if resp.StatusCode != http.StatusOK {
			return &ProviderError{Kind: ClassifyHTTPStatus(resp.StatusCode), Provider: "gemini-image", Code: resp.StatusCode, UpstreamErr: fmt.Errorf("%s", string(respBody))}
		}

		var parsed geminiGenerateResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return &ProviderError{Kind: KindRetryable, Provider: "gemini-image", UpstreamErr: err}
		}
		for _, cand := range parsed.Candidates {
			for _, p := range cand.Content.Parts {
				if p.InlineData != nil && p.InlineData.Data != "" {
					decoded, decErr := base64.StdEncoding.DecodeString(p.InlineData.Data)
					if decErr != nil {
						return &ProviderError{Kind: KindRetryable, Provider: "gemini-image", UpstreamErr: decErr}
					}
					imageBytes = decoded
					return nil
				}
			}
		}
		return &ProviderError{Kind: KindRetryable, Provider: "gemini-image", UpstreamErr: fmt.Errorf("no inline image data in response")}
	})
	if err != nil {
		return nil, fmt.Errorf("image generation failed: %w", err)
	}
	return imageBytes, nil
}
