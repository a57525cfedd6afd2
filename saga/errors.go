package saga

import (
	"errors"
	"fmt"
)

var (
	// ErrActionNotFound is returned by ActionRegistry.Get for unknown names.
	ErrActionNotFound = errors.New("action not found")

	// ErrStateNotFound is returned by a Store when no state exists for a saga.
	ErrStateNotFound = errors.New("saga state not found")

	// ErrNothingToRollback is returned by Executor.Rollback when no action
	// has completed.
	ErrNothingToRollback = errors.New("no completed actions to roll back")

	// ErrUnserializableOutput marks an action that ran but whose output
	// cannot be encoded. The action counts as completed so it is undone.
	ErrUnserializableOutput = errors.New("action output is not serializable")
)

// ActionError represents an error produced by the saga machinery around an
// action, as opposed to the action's own failure.
type ActionError struct {
	error
}

func (e *ActionError) Unwrap() error {
	return e.error
}

// SerializeFailed indicates an action output could not be encoded.
func SerializeFailed(err error) error {
	return &ActionError{fmt.Errorf("serialize failed: %w", err)}
}

// DeserializeFailed indicates persisted saga data could not be decoded.
func DeserializeFailed(err error) error {
	return &ActionError{fmt.Errorf("deserialize failed: %w", err)}
}

// ExecutionError is returned by Executor.Execute when an action fails.
// It unwraps to the action's error, so callers can match on the original
// cause with errors.As and errors.Is.
type ExecutionError struct {
	// Node is the name of the node whose action failed.
	Node NodeName
	// Err is the action's error.
	Err error
	// UndoErr joins every undo failure hit while compensating, or is nil when
	// compensation finished cleanly.
	UndoErr error
}

func (e *ExecutionError) Error() string {
	if e.UndoErr != nil {
		return fmt.Sprintf("saga failed at %s: %v (compensation failed: %v)", e.Node, e.Err, e.UndoErr)
	}
	return fmt.Sprintf("saga failed at %s: %v", e.Node, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Compensated reports whether every completed action was undone.
func (e *ExecutionError) Compensated() bool {
	return e.UndoErr == nil
}

// UndoError is one failed undo, joined into ExecutionError.UndoErr.
type UndoError struct {
	Node NodeName
	Err  error
}

func (e *UndoError) Error() string {
	return fmt.Sprintf("undo %s: %v", e.Node, e.Err)
}

func (e *UndoError) Unwrap() error {
	return e.Err
}
