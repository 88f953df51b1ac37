package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcframe/reelforge/internal/models"
)

func TestStateStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewStateStore(dir)

	state := &models.ProjectState{
		ID:        "proj-1",
		Status:    models.StatusPlanned,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Config:    models.Config{Topic: "a cat learns to juggle"},
	}

	require.NoError(t, s.Save(state))
	assert.True(t, s.Exists("proj-1"))

	loaded, err := s.Load("proj-1")
	require.NoError(t, err)
	assert.Equal(t, state.ID, loaded.ID)
	assert.Equal(t, state.Status, loaded.Status)
	assert.Equal(t, state.Config.Topic, loaded.Config.Topic)
}

func TestStateStoreExistsFalseForUnknownProject(t *testing.T) {
	s := NewStateStore(t.TempDir())
	assert.False(t, s.Exists("does-not-exist"))
}

func TestStateStoreLockSerializesPerProject(t *testing.T) {
	s := NewStateStore(t.TempDir())
	unlock := s.Lock("proj-a")

	done := make(chan struct{})
	go func() {
		unlock2 := s.Lock("proj-a")
		close(done)
		unlock2()
	}()

	select {
	case <-done:
		t.Fatal("second lock acquired before first was released")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-done
}
