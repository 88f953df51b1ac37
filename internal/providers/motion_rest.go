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

// RESTMotion implements Motion over a submit/poll/download REST API shaped
// like xAI's Grok Imagine Video. Unlike a client that blocks inside one
// call doing its own backoff loop, Submit and Poll are split so the
// Parallel Executor's submit-all-then-poll mode owns the backoff.
type RESTMotion struct {
	*Adapter
	name       string
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

var _ Motion = (*RESTMotion)(nil)

func NewRESTMotion(name, baseURL, apiKey, model string, metrics *Metrics) *RESTMotion {
	return &RESTMotion{
		Adapter:    NewAdapter(name, 1, 2, metrics),
		name:       name,
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (m *RESTMotion) Name() string { return m.name }

type restGenerationRequest struct {
	Prompt      string          `json:"prompt"`
	Model       string          `json:"model"`
	Image       *restImageInput `json:"image,omitempty"`
	Duration    int             `json:"duration,omitempty"`
	AspectRatio string          `json:"aspect_ratio,omitempty"`
	Resolution  string          `json:"resolution,omitempty"`
}

type restImageInput struct {
	Data string `json:"data"` // base64 inline bytes
}

type restGenerationResponse struct {
	RequestID string `json:"request_id"`
}

type restVideoResult struct {
	Status string          `json:"status"`
	Video  *restVideoOutput `json:"video,omitempty"`
	Error  string          `json:"error"`
}

type restVideoOutput struct {
	URL      string `json:"url"`
	Duration int    `json:"duration"`
}

func (m *RESTMotion) Submit(ctx context.Context, req MotionRequest) (TaskHandle, error) {
	duration := req.DurationS
	if duration <= 0 {
		duration = 8
	}
	body := restGenerationRequest{
		Prompt:      req.MotionPrompt,
		Model:       m.model,
		Duration:    duration,
		AspectRatio: req.AspectRatio,
		Resolution:  "720p",
	}
	if len(req.Image) > 0 {
		body.Image = &restImageInput{Data: base64.StdEncoding.EncodeToString(req.Image)}
	}

	var requestID string
	err := m.Call(ctx, func(ctx context.Context) error {
		payload, err := json.Marshal(body)
		if err != nil {
			return &ProviderError{Kind: KindInvalidInput, Provider: m.name, UpstreamErr: err}
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/videos/generations", bytes.NewReader(payload))
		if err != nil {
			return &ProviderError{Kind: KindRetryable, Provider: m.name, UpstreamErr: err}
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)

		resp, err := m.httpClient.Do(httpReq)
		if err != nil {
			return &ProviderError{Kind: KindRetryable, Provider: m.name, UpstreamErr: err}
		}
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
			return &ProviderError{Kind: ClassifyHTTPStatus(resp.StatusCode), Provider: m.name, Code: resp.StatusCode, UpstreamErr: fmt.Errorf("%s", string(respBody))}
		}
		var parsed restGenerationResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return &ProviderError{Kind: KindRetryable, Provider: m.name, UpstreamErr: err}
		}
		if parsed.RequestID == "" {
			return &ProviderError{Kind: KindRetryable, Provider: m.name, UpstreamErr: fmt.Errorf("no request_id in response")}
		}
		requestID = parsed.RequestID
		return nil
	})
	if err != nil {
		return TaskHandle{}, fmt.Errorf("%s submit failed: %w", m.name, err)
	}
	return TaskHandle{Provider: m.name, ID: requestID}, nil
}

func (m *RESTMotion) Poll(ctx context.Context, handle TaskHandle) (PollResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/videos/%s", m.baseURL, handle.ID), nil)
	if err != nil {
		return PollResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return PollResult{Status: TaskPending}, nil // transient network hiccup, try again next poll
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return errToPollFailure(fmt.Errorf("%s returned status %d: %s", m.name, resp.StatusCode, string(body))), nil
	}

	var result restVideoResult
	if err := json.Unmarshal(body, &result); err != nil {
		return errToPollFailure(err), nil
	}
	if result.Video != nil && result.Video.URL != "" {
		clipBytes, err := m.download(ctx, result.Video.URL)
		if err != nil {
			return errToPollFailure(err), nil
		}
		return PollResult{Status: TaskReady, ClipBytes: clipBytes}, nil
	}
	if result.Status == "failed" {
		reason := result.Error
		if reason == "" {
			reason = "unknown error"
		}
		return PollResult{Status: TaskFailed, Reason: reason}, nil
	}
	return PollResult{Status: TaskPending}, nil
}

func (m *RESTMotion) download(ctx context.Context, url string) ([]byte, error) {
	client := &http.Client{Timeout: 120 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("downloaded clip is empty")
	}
	return data, nil
}
