package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store defines the interface for persisting saga state.
// It is generic over T, the saga context type.
type Store[T any] interface {
	// Save persists the current saga state
	Save(ctx context.Context, sagaID string, state State[T]) error

	// Load retrieves a saga state by ID. It returns an error wrapping
	// ErrStateNotFound when the saga is unknown.
	Load(ctx context.Context, sagaID string) (*State[T], error)

	// Delete removes a saga state. Deleting an unknown saga is not an error.
	Delete(ctx context.Context, sagaID string) error

	// List returns every stored saga state, oldest first.
	List(ctx context.Context) ([]*State[T], error)
}

// State contains the minimal information needed to resume or rollback a saga.
type State[T any] struct {
	SagaID           string            `json:"saga_id"`
	SagaName         string            `json:"saga_name"`
	Status           string            `json:"status"`
	Context          T                 `json:"context"`
	CompletedActions []CompletedAction `json:"completed_actions"`
	Events           []NodeEvent       `json:"events,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// CompletedAction records an action that has been successfully executed and
// not yet undone, along with its output for use during rollback.
type CompletedAction struct {
	Name      string          `json:"name"`
	Output    json.RawMessage `json:"output,omitempty"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
}

// Saga status constants
const (
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusRollingBack = "rolling_back"
	StatusRolledBack  = "rolled_back"
)

func sortStates[T any](states []*State[T]) {
	sort.Slice(states, func(i, j int) bool {
		if states[i].CreatedAt.Equal(states[j].CreatedAt) {
			return states[i].SagaID < states[j].SagaID
		}
		return states[i].CreatedAt.Before(states[j].CreatedAt)
	})
}

// MemoryStore provides an in-memory implementation of Store for testing
// or scenarios where persistence is not required. The context is copied
// through JSON on every Save and read, so it never aliases the live context.
type MemoryStore[T any] struct {
	states map[string]*State[T]
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore[T any]() *MemoryStore[T] {
	return &MemoryStore[T]{
		states: make(map[string]*State[T]),
	}
}

// Save stores a copy of the saga state.
func (m *MemoryStore[T]) Save(ctx context.Context, sagaID string, state State[T]) error {
	stateCopy, err := cloneState(&state)
	if err != nil {
		return err
	}
	stateCopy.UpdatedAt = time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[sagaID] = stateCopy
	return nil
}

// Load retrieves the saga state from memory.
func (m *MemoryStore[T]) Load(ctx context.Context, sagaID string) (*State[T], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.states[sagaID]
	if !exists {
		return nil, fmt.Errorf("saga %s: %w", sagaID, ErrStateNotFound)
	}
	return cloneState(state)
}

// Delete removes the saga state from memory.
func (m *MemoryStore[T]) Delete(ctx context.Context, sagaID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, sagaID)
	return nil
}

// List returns copies of all stored states.
func (m *MemoryStore[T]) List(ctx context.Context) ([]*State[T], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]*State[T], 0, len(m.states))
	for _, state := range m.states {
		stateCopy, err := cloneState(state)
		if err != nil {
			return nil, err
		}
		states = append(states, stateCopy)
	}
	sortStates(states)
	return states, nil
}

func cloneState[T any](state *State[T]) (*State[T], error) {
	data, err := json.Marshal(state.Context)
	if err != nil {
		return nil, SerializeFailed(err)
	}

	stateCopy := *state
	var sagaCtx T
	if err := json.Unmarshal(data, &sagaCtx); err != nil {
		return nil, DeserializeFailed(err)
	}
	stateCopy.Context = sagaCtx
	stateCopy.CompletedActions = append([]CompletedAction(nil), state.CompletedActions...)
	stateCopy.Events = append([]NodeEvent(nil), state.Events...)
	return &stateCopy, nil
}
