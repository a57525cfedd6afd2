package saga

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// ActionRegistry is a registry of saga actions that can be used across multiple sagas.
//
// A saga restored from persistent storage only knows its actions by
// ActionName, so every action a DAG references must be registered here
// before the saga can be resumed or rolled back.
type ActionRegistry[T any, S SagaType[T]] struct {
	actions *xsync.MapOf[ActionName, Action[T, S]]
}

// NewActionRegistry creates a new ActionRegistry.
func NewActionRegistry[T any, S SagaType[T]]() *ActionRegistry[T, S] {
	return &ActionRegistry[T, S]{
		actions: xsync.NewMapOf[ActionName, Action[T, S]](),
	}
}

// Register adds an action to the registry.
func (r *ActionRegistry[T, S]) Register(action Action[T, S]) error {
	if _, loaded := r.actions.LoadOrStore(action.Name(), action); loaded {
		return fmt.Errorf("action with name '%s' already registered", action.Name())
	}
	return nil
}

// Get retrieves an action from the registry by its name.
func (r *ActionRegistry[T, S]) Get(name ActionName) (Action[T, S], error) {
	action, ok := r.actions.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActionNotFound, name)
	}
	return action, nil
}

// Len returns the number of registered actions.
func (r *ActionRegistry[T, S]) Len() int {
	return r.actions.Size()
}
