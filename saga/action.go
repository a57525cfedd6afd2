package saga

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/btree"
)

// SagaType gives actions access to the saga's shared context.
type SagaType[T any] interface {
	ExecContext() T
}

// ActionData is the output of an action. It must be JSON serializable so it
// can be persisted and handed to the undo half after a restart.
type ActionData interface{}

// ActionName represents a unique name for a saga Action.
type ActionName string

// Action represents the building blocks of sagas.
type Action[T any, S SagaType[T]] interface {
	DoIt(ctx context.Context, sgctx ActionContext[T, S]) (ActionResult[ActionData], error)
	UndoIt(ctx context.Context, sgctx ActionContext[T, S]) error
	Name() ActionName
}

// ActionContext provides context to individual actions.
type ActionContext[T any, S SagaType[T]] struct {
	// Outputs holds the output of every completed named node.
	Outputs     *btree.Map[NodeName, any]
	NodeID      int64
	DAG         *SagaDag
	UserContext T
}

// Lookup retrieves the output from a previous node by name.
func (ac *ActionContext[T, S]) Lookup(nodeName NodeName) (any, bool) {
	if ac.Outputs == nil {
		return nil, false
	}
	return ac.Outputs.Get(nodeName)
}

// LookupTyped retrieves the output of a previous node as R. Outputs restored
// from persisted state are held as json.RawMessage and decoded here.
func LookupTyped[R any, T any, S SagaType[T]](ac ActionContext[T, S], nodeName NodeName) (R, bool) {
	var zero R
	value, found := ac.Lookup(nodeName)
	if !found {
		return zero, false
	}

	if typed, ok := value.(R); ok {
		return typed, true
	}

	if raw, ok := value.(json.RawMessage); ok {
		var result R
		if err := json.Unmarshal(raw, &result); err == nil {
			return result, true
		}
	}

	return zero, false
}

// MustLookupTyped is LookupTyped for undo halves that cannot proceed without
// the output: it returns an error naming the missing node.
func MustLookupTyped[R any, T any, S SagaType[T]](ac ActionContext[T, S], nodeName NodeName) (R, error) {
	v, ok := LookupTyped[R](ac, nodeName)
	if !ok {
		return v, fmt.Errorf("no output recorded for node %q", nodeName)
	}
	return v, nil
}
