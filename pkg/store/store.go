// Package store persists the agent roster: one JSON document holding every
// agent record, replaced on each mutation via backup-rename. The store owns
// the live records; cross-goroutine access goes through View (read lock)
// and Update/UpdateStatus (write lock + save), never through shared field
// access on a live pointer.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/copydesk/stringer/pkg/models"
	"github.com/copydesk/stringer/pkg/persist"
)

var (
	// ErrAgentNotFound is returned for operations on unknown agent ids.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrAgentExists guards against id collisions on create.
	ErrAgentExists = errors.New("agent already exists")
)

// document is the on-disk shape of the roster.
type document struct {
	Agents map[string]*models.Agent `json:"agents"`
}

// Store maps agent ids to records and keeps the roster durable.
type Store struct {
	mu     sync.RWMutex
	path   string
	agents map[string]*models.Agent
}

// NewStore creates a store persisting to path. Call Load before use.
func NewStore(path string) *Store {
	return &Store{
		path:   path,
		agents: make(map[string]*models.Agent),
	}
}

// Load reads the roster from disk. A missing file is an empty roster.
// Records are normalized for the restart: a worker that owned a running
// agent is gone, so running falls back to created, transient coordination
// state is dropped, and historically inconsistent tasks are corrected.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	persist.RemoveStaleBackup(s.path)

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.agents = make(map[string]*models.Agent)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", s.path, err)
	}

	if doc.Agents == nil {
		doc.Agents = make(map[string]*models.Agent)
	}
	for id, agent := range doc.Agents {
		agent.ID = id
		normalizeLoaded(agent)
	}
	s.agents = doc.Agents
	return nil
}

// normalizeLoaded corrects a record read from disk.
func normalizeLoaded(a *models.Agent) {
	a.ClearTransient()
	if a.Status == models.StatusRunning {
		a.Status = models.StatusCreated
	}
	if a.Tasklist == nil {
		return
	}
	a.Tasklist.Sort()
	for _, task := range a.Tasklist.Tasks {
		switch {
		case task.Status == models.TaskRunning:
			task.Status = models.TaskCreated
		case task.Status == models.TaskCompleted &&
			task.Validation != nil && !task.Validation.IsValid:
			// A task is completed only with a positive verdict.
			task.Status = models.TaskFailed
		}
	}
}

// Create registers a new agent in status created and persists the roster.
func (s *Store) Create(name, context string, temperature float64, auto, halt bool) (*models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	if _, ok := s.agents[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentExists, id)
	}

	agent := &models.Agent{
		ID:          id,
		Name:        name,
		Context:     context,
		Temperature: temperature,
		Auto:        auto,
		Halt:        halt,
		Status:      models.StatusCreated,
		CreatedAt:   time.Now().UTC(),
	}
	s.agents[id] = agent

	if err := s.saveLocked(); err != nil {
		delete(s.agents, id)
		return nil, err
	}
	return agent.Clone(), nil
}

// Get returns the live record. The caller must not touch its fields
// outside View/Update closures; List and GetSerializable are the safe
// read paths for everyone but the owning worker.
func (s *Store) Get(id string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return agent, nil
}

// GetSerializable returns a deep copy with the worker handle stripped.
func (s *Store) GetSerializable(id string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return agent.Clone(), nil
}

// List returns deep copies of every agent, oldest first.
func (s *Store) List() []*models.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agents := make([]*models.Agent, 0, len(s.agents))
	for _, agent := range s.agents {
		agents = append(agents, agent.Clone())
	}
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].CreatedAt.Equal(agents[j].CreatedAt) {
			return agents[i].ID < agents[j].ID
		}
		return agents[i].CreatedAt.Before(agents[j].CreatedAt)
	})
	return agents
}

// Count returns the number of agents.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents)
}

// Exists reports whether an agent with the given id is registered.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.agents[id]
	return ok
}

// View runs fn with the live record under the read lock. fn must only
// read; mutations go through Update.
func (s *Store) View(id string, fn func(*models.Agent)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	fn(agent)
	return nil
}

// Update applies an arbitrary mutation under the store lock and persists.
// When the save fails the record is restored, so a returned error means
// nothing changed.
func (s *Store) Update(id string, mutate func(*models.Agent)) error {
	return s.apply(id, mutate)
}

// UpdateStatus transitions the agent and persists. StartedAt is stamped on
// the first transition into running; entering running clears CompletedAt,
// entering completed stamps it. extra setters run after the transition,
// under the same lock and save.
func (s *Store) UpdateStatus(id string, status models.AgentStatus, extra ...func(*models.Agent)) error {
	return s.apply(id, func(a *models.Agent) {
		a.Status = status
		now := time.Now().UTC()
		switch status {
		case models.StatusRunning:
			if a.StartedAt == nil {
				a.StartedAt = &now
			}
			a.CompletedAt = nil
		case models.StatusCompleted:
			if a.CompletedAt == nil {
				a.CompletedAt = &now
			}
		}
		for _, fn := range extra {
			fn(a)
		}
	})
}

// SetHandle attaches or clears the worker handle. Transient: no save.
func (s *Store) SetHandle(id string, h *models.RunHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	agent.SetHandle(h)
	return nil
}

// Delete cancels any live worker and removes the agent.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	if h := agent.Handle(); h != nil {
		h.Cancel()
	}
	delete(s.agents, id)

	if err := s.saveLocked(); err != nil {
		s.agents[id] = agent
		return err
	}
	return nil
}

// ClearCompleted removes every completed and failed agent and returns how
// many were dropped. Terminal agents should have no live worker; any
// lingering handle is cancelled before removal.
func (s *Store) ClearCompleted() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make(map[string]*models.Agent)
	for id, agent := range s.agents {
		if agent.Status == models.StatusCompleted || agent.Status == models.StatusFailed {
			if h := agent.Handle(); h != nil {
				h.Cancel()
			}
			removed[id] = agent
			delete(s.agents, id)
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}

	if err := s.saveLocked(); err != nil {
		for id, agent := range removed {
			s.agents[id] = agent
		}
		return 0, err
	}
	return len(removed), nil
}

// apply mutates one record and persists, restoring the previous state when
// the save fails. The worker handle survives both mutation and rollback.
func (s *Store) apply(id string, mutate func(*models.Agent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}

	prev := agent.Clone()
	handle := agent.Handle()
	mutate(agent)

	if err := s.saveLocked(); err != nil {
		*agent = *prev
		agent.SetHandle(handle)
		return err
	}
	return nil
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(document{Agents: s.agents}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal agents: %w", err)
	}
	return persist.WriteFile(s.path, data)
}
