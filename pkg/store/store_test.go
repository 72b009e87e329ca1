package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copydesk/stringer/pkg/models"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agents.json")
	s := NewStore(path)
	require.NoError(t, s.Load())
	return s, path
}

func TestLoadMissingFile(t *testing.T) {
	s, path := newTestStore(t)
	assert.Equal(t, 0, s.Count())

	// No document is written until the first mutation.
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestCreatePersists(t *testing.T) {
	s, path := newTestStore(t)

	agent, err := s.Create("beat-reporter", "covers city hall", 0.8, true, false)
	require.NoError(t, err)

	_, err = uuid.Parse(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, "beat-reporter", agent.Name)
	assert.Equal(t, "covers city hall", agent.Context)
	assert.Equal(t, 0.8, agent.Temperature)
	assert.True(t, agent.Auto)
	assert.False(t, agent.Halt)
	assert.Equal(t, models.StatusCreated, agent.Status)
	assert.False(t, agent.CreatedAt.IsZero())

	reloaded := NewStore(path)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, 1, reloaded.Count())
	assert.True(t, reloaded.Exists(agent.ID))
}

func TestGetNotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrAgentNotFound)
	_, err = s.GetSerializable("nope")
	assert.ErrorIs(t, err, ErrAgentNotFound)
	assert.ErrorIs(t, s.Update("nope", func(*models.Agent) {}), ErrAgentNotFound)
	assert.ErrorIs(t, s.Delete("nope"), ErrAgentNotFound)
	assert.ErrorIs(t, s.SetHandle("nope", nil), ErrAgentNotFound)
	assert.ErrorIs(t, s.View("nope", func(*models.Agent) {}), ErrAgentNotFound)
}

func TestGetSerializableIsACopy(t *testing.T) {
	s, _ := newTestStore(t)
	created, err := s.Create("a", "", 1.0, false, false)
	require.NoError(t, err)

	clone, err := s.GetSerializable(created.ID)
	require.NoError(t, err)
	clone.Name = "mutated"
	clone.Status = models.StatusFailed

	fresh, err := s.GetSerializable(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", fresh.Name)
	assert.Equal(t, models.StatusCreated, fresh.Status)
}

func TestListOrderedByCreation(t *testing.T) {
	s, _ := newTestStore(t)
	for _, name := range []string{"first", "second", "third"} {
		_, err := s.Create(name, "", 1.0, false, false)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, "first", list[0].Name)
	assert.Equal(t, "second", list[1].Name)
	assert.Equal(t, "third", list[2].Name)
}

func TestUpdateStatusTimestamps(t *testing.T) {
	s, _ := newTestStore(t)
	agent, err := s.Create("a", "", 1.0, false, false)
	require.NoError(t, err)
	id := agent.ID

	require.NoError(t, s.UpdateStatus(id, models.StatusRunning))
	running, err := s.GetSerializable(id)
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)
	firstStart := *running.StartedAt

	require.NoError(t, s.UpdateStatus(id, models.StatusCompleted))
	completed, err := s.GetSerializable(id)
	require.NoError(t, err)
	require.NotNil(t, completed.CompletedAt)

	// A re-run keeps the original start and drops the stale completion.
	require.NoError(t, s.UpdateStatus(id, models.StatusRunning))
	rerun, err := s.GetSerializable(id)
	require.NoError(t, err)
	require.NotNil(t, rerun.StartedAt)
	assert.True(t, rerun.StartedAt.Equal(firstStart))
	assert.Nil(t, rerun.CompletedAt)

	require.NoError(t, s.UpdateStatus(id, models.StatusCompleted))
	again, err := s.GetSerializable(id)
	require.NoError(t, err)
	require.NotNil(t, again.CompletedAt)
}

func TestUpdateStatusExtraSetters(t *testing.T) {
	s, _ := newTestStore(t)
	agent, err := s.Create("a", "", 1.0, false, false)
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(agent.ID, models.StatusRunning, func(a *models.Agent) {
		a.CurrentPhase = 2
	}))

	got, err := s.GetSerializable(agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Status)
	assert.Equal(t, 2, got.CurrentPhase)
}

func TestUpdatePersistsMutation(t *testing.T) {
	s, path := newTestStore(t)
	agent, err := s.Create("a", "", 1.0, false, false)
	require.NoError(t, err)

	require.NoError(t, s.Update(agent.ID, func(a *models.Agent) {
		a.Tasklist = &models.Tasklist{
			Goal: "cover the election",
			Tasks: []*models.Task{
				{ID: 1, Name: "research", Status: models.TaskCreated},
			},
		}
	}))

	reloaded := NewStore(path)
	require.NoError(t, reloaded.Load())
	got, err := reloaded.GetSerializable(agent.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Tasklist)
	assert.Equal(t, "cover the election", got.Tasklist.Goal)
}

func TestLoadCorrections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.json")

	doc := map[string]any{
		"agents": map[string]any{
			"id-1": map[string]any{
				"id":         "id-1",
				"name":       "interrupted",
				"status":     "running",
				"created_at": time.Now().UTC().Format(time.RFC3339Nano),
				"tasklist": map[string]any{
					"goal": "g",
					"tasks": []map[string]any{
						{"id": 2, "name": "b", "status": "running"},
						{"id": 1, "name": "a", "status": "completed",
							"validation": map[string]any{"is_valid": false, "score": 10, "reason": "wrong"}},
						{"id": 3, "name": "c", "status": "completed",
							"validation": map[string]any{"is_valid": true, "score": 90, "reason": "ok"}},
					},
				},
			},
		},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	s := NewStore(path)
	require.NoError(t, s.Load())

	agent, err := s.GetSerializable("id-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, agent.Status)

	// Tasks come back sorted by id with interrupted and inconsistent
	// statuses corrected.
	require.Len(t, agent.Tasklist.Tasks, 3)
	assert.Equal(t, 1, agent.Tasklist.Tasks[0].ID)
	assert.Equal(t, models.TaskFailed, agent.Tasklist.Tasks[0].Status)
	assert.Equal(t, 2, agent.Tasklist.Tasks[1].ID)
	assert.Equal(t, models.TaskCreated, agent.Tasklist.Tasks[1].Status)
	assert.Equal(t, 3, agent.Tasklist.Tasks[2].ID)
	assert.Equal(t, models.TaskCompleted, agent.Tasklist.Tasks[2].Status)
}

func TestLoadCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	s := NewStore(path)
	err := s.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestDeleteCancelsHandle(t *testing.T) {
	s, path := newTestStore(t)
	agent, err := s.Create("a", "", 1.0, false, false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.SetHandle(agent.ID, models.NewRunHandle(cancel)))

	require.NoError(t, s.Delete(agent.ID))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.False(t, s.Exists(agent.ID))

	reloaded := NewStore(path)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, 0, reloaded.Count())
}

func TestClearCompleted(t *testing.T) {
	s, _ := newTestStore(t)

	keep, err := s.Create("keep", "", 1.0, false, false)
	require.NoError(t, err)
	done, err := s.Create("done", "", 1.0, false, false)
	require.NoError(t, err)
	broken, err := s.Create("broken", "", 1.0, false, false)
	require.NoError(t, err)
	halted, err := s.Create("halted", "", 1.0, false, false)
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(done.ID, models.StatusCompleted))
	require.NoError(t, s.UpdateStatus(broken.ID, models.StatusFailed))
	require.NoError(t, s.UpdateStatus(halted.ID, models.StatusHalted))

	n, err := s.ClearCompleted()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, s.Exists(keep.ID))
	assert.True(t, s.Exists(halted.ID))
	assert.False(t, s.Exists(done.ID))
	assert.False(t, s.Exists(broken.ID))

	// Nothing left to clear.
	n, err = s.ClearCompleted()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSetHandleDoesNotPersist(t *testing.T) {
	s, path := newTestStore(t)
	agent, err := s.Create("a", "", 1.0, false, false)
	require.NoError(t, err)

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, s.SetHandle(agent.ID, models.NewRunHandle(func() {})))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	live, err := s.Get(agent.ID)
	require.NoError(t, err)
	assert.NotNil(t, live.Handle())
}

func TestUpdateRollsBackWhenSaveFails(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	path := filepath.Join(dataDir, "agents.json")

	s := NewStore(path)
	require.NoError(t, s.Load())
	agent, err := s.Create("a", "", 1.0, false, false)
	require.NoError(t, err)

	// Replace the data directory with a file so the next save fails.
	require.NoError(t, os.RemoveAll(dataDir))
	require.NoError(t, os.WriteFile(dataDir, []byte("x"), 0644))

	err = s.Update(agent.ID, func(a *models.Agent) { a.Name = "mutated" })
	require.Error(t, err)

	got, gerr := s.GetSerializable(agent.ID)
	require.NoError(t, gerr)
	assert.Equal(t, "a", got.Name)
}

func TestCreateRollsBackWhenSaveFails(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0644))

	s := NewStore(filepath.Join(blocked, "agents.json"))
	require.NoError(t, s.Load())

	_, err := s.Create("a", "", 1.0, false, false)
	require.Error(t, err)
	assert.Equal(t, 0, s.Count())
}
