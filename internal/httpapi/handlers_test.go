package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcframe/reelforge/internal/models"
	"github.com/arcframe/reelforge/internal/orchestrator"
	"github.com/arcframe/reelforge/internal/stages"
	"github.com/arcframe/reelforge/internal/store"
)

type fakePlanner struct{}

func (f *fakePlanner) Plan(ctx context.Context, projectID string, seed int64, cfg models.Config, now time.Time) (*models.ProjectState, error) {
	return &models.ProjectState{ID: projectID, Seed: seed, Config: cfg, Status: models.StatusPlanned, Script: &models.Script{Scenes: []models.Scene{{ID: 1, DurationSeconds: cfg.DurationSeconds}}}}, nil
}

type fakeImage struct{}

func (f *fakeImage) Run(ctx context.Context, projectID string, seed int64, styleProfile *models.StyleProfile, cfg models.Config, script *models.Script) error {
	return nil
}

type fakeAudio struct{}

func (f *fakeAudio) Run(ctx context.Context, projectID string, cfg models.Config, script *models.Script, appendWarning func(string)) (stages.AudioOutput, error) {
	return stages.AudioOutput{}, nil
}

type fakeMotion struct{}

func (f *fakeMotion) Run(ctx context.Context, projectID string, styleProfile *models.StyleProfile, cfg models.Config, script *models.Script) error {
	return nil
}

type fakeComposer struct{}

func (f *fakeComposer) Assemble(ctx context.Context, projectID string, cfg models.Config, script *models.Script, audio stages.AudioOutput) (*stages.ComposeResult, error) {
	return &stages.ComposeResult{VideoOnlyPath: "/tmp/v.mp4", AudioMixPath: "/tmp/a.m4a", FinalPath: "/tmp/f.mp4"}, nil
}

func (f *fakeComposer) Remix(ctx context.Context, projectID string, cfg models.Config, script *models.Script, audio stages.AudioOutput, existingVideoOnlyPath string) (*stages.ComposeResult, error) {
	return &stages.ComposeResult{VideoOnlyPath: existingVideoOnlyPath, AudioMixPath: "/tmp/a2.m4a", FinalPath: "/tmp/f2.mp4"}, nil
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	root := t.TempDir()
	states := store.NewStateStore(filepath.Join(root, "projects"))
	artifacts, err := store.NewArtifactStore(filepath.Join(root, "projects"), filepath.Join(root, "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = artifacts.Close() })

	o := &orchestrator.Orchestrator{
		States:    states,
		Artifacts: artifacts,
		Planner:   &fakePlanner{},
		Image:     &fakeImage{},
		Audio:     &fakeAudio{},
		Motion:    &fakeMotion{},
		Composer:  &fakeComposer{},
		Dispatch:  orchestrator.NewInlineDispatcher(),
		Log:       zerolog.Nop(),
	}
	return NewHandler(o, artifacts)
}

func TestPlanThenStatusRoundTrip(t *testing.T) {
	h := newTestHandler(t)
	router := NewRouter(h, RouterConfig{})

	planBody, _ := json.Marshal(planRequest{ProjectID: "proj-http-1", Config: models.Config{Topic: "watch ad", DurationSeconds: 8, AspectRatio: models.Aspect9x16}})
	req := httptest.NewRequest(http.MethodPost, "/plan", bytes.NewReader(planBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var planned models.ProjectState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &planned))
	assert.Equal(t, models.StatusPlanned, planned.Status)

	statusReq := httptest.NewRequest(http.MethodGet, "/status/proj-http-1", nil)
	statusRec := httptest.NewRecorder()
	router.ServeHTTP(statusRec, statusReq)
	require.Equal(t, http.StatusOK, statusRec.Code)

	var reloaded models.ProjectState
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &reloaded))
	assert.Equal(t, "proj-http-1", reloaded.ID)
}

func TestGenerateImagesAdvancesGate(t *testing.T) {
	h := newTestHandler(t)
	router := NewRouter(h, RouterConfig{})

	planBody, _ := json.Marshal(planRequest{ProjectID: "proj-http-2", Config: models.Config{Topic: "watch ad", DurationSeconds: 8, AspectRatio: models.Aspect9x16}})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/plan", bytes.NewReader(planBody)))

	genBody, _ := json.Marshal(projectIDRequest{ProjectID: "proj-http-2"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/generate/images", bytes.NewReader(genBody)))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestGenerateImagesOnUnknownProjectFails(t *testing.T) {
	h := newTestHandler(t)
	router := NewRouter(h, RouterConfig{})

	genBody, _ := json.Marshal(projectIDRequest{ProjectID: "does-not-exist"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/generate/images", bytes.NewReader(genBody)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGenerateVideosBeforeImagesReturns409(t *testing.T) {
	h := newTestHandler(t)
	router := NewRouter(h, RouterConfig{})

	planBody, _ := json.Marshal(planRequest{ProjectID: "proj-http-5", Config: models.Config{Topic: "watch ad", DurationSeconds: 8, AspectRatio: models.Aspect9x16}})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/plan", bytes.NewReader(planBody)))

	genBody, _ := json.Marshal(projectIDRequest{ProjectID: "proj-http-5"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/generate/videos", bytes.NewReader(genBody)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPlanRejectsMissingTopicWith400(t *testing.T) {
	h := newTestHandler(t)
	router := NewRouter(h, RouterConfig{})

	planBody, _ := json.Marshal(planRequest{ProjectID: "proj-http-3", Config: models.Config{DurationSeconds: 8, AspectRatio: models.Aspect9x16}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/plan", bytes.NewReader(planBody)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyAuthRejectsMissingKey(t *testing.T) {
	h := newTestHandler(t)
	router := NewRouter(h, RouterConfig{BackendAPIKey: "secret"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/anything", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKeyAuthAcceptsHeader(t *testing.T) {
	h := newTestHandler(t)
	router := NewRouter(h, RouterConfig{BackendAPIKey: "secret"})

	planBody, _ := json.Marshal(planRequest{ProjectID: "proj-http-4", Config: models.Config{Topic: "watch ad", DurationSeconds: 8, AspectRatio: models.Aspect9x16}})
	req := httptest.NewRequest(http.MethodPost, "/plan", bytes.NewReader(planBody))
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthIsAlwaysPublic(t *testing.T) {
	h := newTestHandler(t)
	router := NewRouter(h, RouterConfig{BackendAPIKey: "secret"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
