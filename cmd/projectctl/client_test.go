package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientDoSendsAPIKeyAndDecodesResponse(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"planned"}`))
	}))
	defer server.Close()

	client := &apiClient{baseURL: server.URL, apiKey: "secret", http: server.Client()}
	result, err := client.do(context.Background(), http.MethodGet, "/status/proj-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "planned", result["status"])
}

func TestClientDoReturnsErrorOnNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"illegal transition"}`))
	}))
	defer server.Close()

	client := &apiClient{baseURL: server.URL, http: server.Client()}
	_, err := client.do(context.Background(), http.MethodPost, "/generate/images", map[string]string{"project_id": "p"})
	assert.Error(t, err)
}
