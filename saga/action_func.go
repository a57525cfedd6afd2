package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ActionResult represents the result of a saga action. The executor sets
// the timing fields.
type ActionResult[T any] struct {
	Output    T
	StartTime time.Time
	EndTime   time.Time
}

// Duration is how long the do half took.
func (r ActionResult[T]) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

type DoItFunc[T any, S SagaType[T], R ActionData] func(ctx context.Context, sgctx ActionContext[T, S]) (R, error)
type UndoItFunc[T any, S SagaType[T]] func(ctx context.Context, sgctx ActionContext[T, S]) error

// ActionFunc is an implementation of Action that uses ordinary functions.
type ActionFunc[T any, S SagaType[T], R ActionData] struct {
	name       ActionName
	actionFunc DoItFunc[T, S, R]
	undoFunc   UndoItFunc[T, S]
}

// NewActionFunc constructs a new ActionFunc from a pair of functions.
func NewActionFunc[T any, S SagaType[T], R ActionData](name ActionName, actionFunc DoItFunc[T, S, R], undoFunc UndoItFunc[T, S]) *ActionFunc[T, S, R] {
	return &ActionFunc[T, S, R]{
		name:       name,
		actionFunc: actionFunc,
		undoFunc:   undoFunc,
	}
}

func NoOpUndo[T any, S SagaType[T]](_ context.Context, _ ActionContext[T, S]) error {
	return nil
}

// NewActionFuncWithNoOpUndo constructs a new ActionFunc with a no-op undo function.
func NewActionFuncWithNoOpUndo[T any, S SagaType[T], R ActionData](name ActionName, actionFunc DoItFunc[T, S, R]) *ActionFunc[T, S, R] {
	return NewActionFunc(name, actionFunc, NoOpUndo[T, S])
}

// DoIt implements the Action interface for ActionFunc.
func (af *ActionFunc[T, S, R]) DoIt(ctx context.Context, sgctx ActionContext[T, S]) (ActionResult[ActionData], error) {
	output, err := af.actionFunc(ctx, sgctx)
	if err != nil {
		return ActionResult[ActionData]{}, err
	}

	// The side effect already happened, so the output is returned with the
	// error and the executor still undoes the action.
	if _, err := json.Marshal(output); err != nil {
		return ActionResult[ActionData]{Output: output}, SerializeFailed(fmt.Errorf("%w: %v", ErrUnserializableOutput, err))
	}

	return ActionResult[ActionData]{Output: output}, nil
}

// UndoIt implements the Action interface for ActionFunc.
func (af *ActionFunc[T, S, R]) UndoIt(ctx context.Context, sgctx ActionContext[T, S]) error {
	return af.undoFunc(ctx, sgctx)
}

// Name implements the Action interface for ActionFunc.
func (af *ActionFunc[T, S, R]) Name() ActionName {
	return af.name
}

// String implements the fmt.Stringer interface for ActionFunc.
func (af *ActionFunc[T, S, R]) String() string {
	return fmt.Sprintf("ActionFunc[%s]", af.name)
}
