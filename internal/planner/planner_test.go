package planner

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcframe/reelforge/internal/models"
)

type fakeLLM struct {
	responses []string
	calls     int
}

func (f *fakeLLM) Generate(ctx context.Context, systemPrompt, userPrompt string, out any, validate func() error) error {
	raw := f.responses[f.calls]
	f.calls++
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return err
	}
	if validate != nil {
		return validate()
	}
	return nil
}

func validScriptJSON() string {
	return `{"mood":"upbeat","scenes":[
		{"id":1,"duration_seconds":4,"visual_prompt":"a cat on a stage","motion_prompt":"slow push in"},
		{"id":2,"duration_seconds":4,"visual_prompt":"the cat juggles","motion_prompt":"pan left"}
	],"lines":[
		{"speaker":"narrator","text":"Meet Whiskers.","time_range":{"start_s":0,"end_s":4}},
		{"speaker":"narrator","text":"Watch him juggle!","time_range":{"start_s":4,"end_s":8}}
	]}`
}

func TestPlannerPlanHappyPath(t *testing.T) {
	llm := &fakeLLM{responses: []string{
		`{"core_concept":"a juggling cat ad","visual_language":"bright pastel","narrative_arc":"setup-payoff","audience_hook":"cute pet","cinematic_direction":"handheld","production_recommendations":"keep it short"}`,
		validScriptJSON(),
	}}
	p := New(llm)
	cfg := models.Config{Topic: "a cat learns to juggle", DurationSeconds: 8, AspectRatio: models.Aspect9x16}

	state, err := p.Plan(context.Background(), "proj-1", 42, cfg, time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlanned, state.Status)
	require.NotNil(t, state.Strategy)
	assert.Equal(t, "a juggling cat ad", state.Strategy.CoreConcept)
	require.NotNil(t, state.Script)
	assert.Len(t, state.Script.Scenes, 2)
	assert.Len(t, state.Logs, 2)
}

func TestPlannerRejectsScriptWithOverlappingLines(t *testing.T) {
	llm := &fakeLLM{responses: []string{
		`{"core_concept":"x","visual_language":"x","narrative_arc":"x","audience_hook":"x","cinematic_direction":"x","production_recommendations":"x"}`,
		`{"mood":"x","scenes":[{"id":1,"duration_seconds":8,"visual_prompt":"x","motion_prompt":"x"}],
		  "lines":[{"speaker":"a","text":"x","time_range":{"start_s":0,"end_s":5}},
		           {"speaker":"b","text":"y","time_range":{"start_s":2,"end_s":8}}]}`,
	}}
	p := New(llm)
	cfg := models.Config{Topic: "x", DurationSeconds: 8, AspectRatio: models.Aspect9x16}

	_, err := p.Plan(context.Background(), "proj-2", 1, cfg, time.Now())
	assert.Error(t, err)
}

func TestPlannerRejectsEmptyCoreConcept(t *testing.T) {
	llm := &fakeLLM{responses: []string{
		`{"core_concept":"","visual_language":"x","narrative_arc":"x","audience_hook":"x","cinematic_direction":"x","production_recommendations":"x"}`,
	}}
	p := New(llm)
	cfg := models.Config{Topic: "x", DurationSeconds: 8, AspectRatio: models.Aspect9x16}

	_, err := p.Plan(context.Background(), "proj-3", 1, cfg, time.Now())
	assert.Error(t, err)
}
