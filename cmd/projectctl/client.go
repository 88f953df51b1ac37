package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"
)

// apiClient wraps the HTTP façade with the same base URL / API key used
// across every subcommand, keeping command bodies down to "build a
// request, print the response".
type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func clientFromCommand(cmd *cli.Command) *apiClient {
	return &apiClient{
		baseURL: cmd.String("server"),
		apiKey:  cmd.String("api-key"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body interface{}) (map[string]interface{}, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return out, fmt.Errorf("%s %s: status %d: %v", method, path, resp.StatusCode, out["error"])
	}
	return out, nil
}

func printResult(result map[string]interface{}) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("format result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
