package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/btree"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/topo"
)

// ActionState represents the execution state of an action
type ActionState int

const (
	ActionStatePending ActionState = iota
	ActionStateRunning
	ActionStateCompleted
	ActionStateFailed
	ActionStateUndoing
	ActionStateUndone
	ActionStateUndoFailed
)

func (s ActionState) String() string {
	switch s {
	case ActionStatePending:
		return "pending"
	case ActionStateRunning:
		return "running"
	case ActionStateCompleted:
		return "completed"
	case ActionStateFailed:
		return "failed"
	case ActionStateUndoing:
		return "undoing"
	case ActionStateUndone:
		return "undone"
	case ActionStateUndoFailed:
		return "undo_failed"
	default:
		return "unknown"
	}
}

// ExecutionNode represents a node in the execution context
type ExecutionNode struct {
	NodeIndex int64
	NodeName  NodeName
	State     ActionState
	Result    *ActionResult[ActionData]
	Error     error
}

// ExecutionRecord tracks the execution of a single action
type ExecutionRecord struct {
	ActionName string
	NodeID     int64
	StartTime  time.Time
	EndTime    time.Time
	Status     ActionState
	Error      error
}

// Executor runs one saga sequentially and compensates it on failure.
// An Executor is single-use and not safe for concurrent calls.
type Executor[T any, S SagaType[T]] struct {
	dag         *SagaDag
	registry    *ActionRegistry[T, S]
	sagaContext S

	nodes     map[int64]*ExecutionNode
	outputs   *btree.Map[NodeName, any]
	completed []int64
	failed    []int64

	executionTrace []ExecutionRecord
	log            *Log

	store     Store[T]
	sagaID    string
	startedAt time.Time
	logger    logrus.FieldLogger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*executorOptions)

type executorOptions struct {
	logger logrus.FieldLogger
}

// WithLogger sets the logger used for persistence warnings and undo failures.
func WithLogger(logger logrus.FieldLogger) ExecutorOption {
	return func(o *executorOptions) {
		o.logger = logger
	}
}

func newExecutor[T any, S SagaType[T]](
	dag *SagaDag,
	registry *ActionRegistry[T, S],
	sagaContext S,
	sagaID string,
	store Store[T],
	opts []ExecutorOption,
) *Executor[T, S] {
	o := executorOptions{logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Executor[T, S]{
		dag:         dag,
		registry:    registry,
		sagaContext: sagaContext,
		sagaID:      sagaID,
		store:       store,
		nodes:       make(map[int64]*ExecutionNode, len(dag.Nodes)),
		outputs:     btree.NewMap[NodeName, any](10),
		log:         NewLog(sagaID),
		startedAt:   time.Now(),
		logger: o.logger.WithFields(logrus.Fields{
			"saga_id":   sagaID,
			"saga_name": string(dag.SagaName),
		}),
	}

	for nodeIndex, node := range dag.Nodes {
		e.nodes[nodeIndex] = &ExecutionNode{
			NodeIndex: nodeIndex,
			NodeName:  node.Name,
			State:     ActionStatePending,
		}
	}

	return e
}

// NewExecutor creates a new saga executor with required persistence.
func NewExecutor[T any, S SagaType[T]](
	dag *SagaDag,
	registry *ActionRegistry[T, S],
	sagaContext S,
	sagaID string,
	store Store[T],
	opts ...ExecutorOption,
) *Executor[T, S] {
	return newExecutor(dag, registry, sagaContext, sagaID, store, opts)
}

// NewExecutorFromState creates an executor from a saved state so that its
// completed actions can be rolled back.
func NewExecutorFromState[T any, S SagaType[T]](
	dag *SagaDag,
	registry *ActionRegistry[T, S],
	sagaContext S,
	state *State[T],
	store Store[T],
	opts ...ExecutorOption,
) (*Executor[T, S], error) {
	e := newExecutor(dag, registry, sagaContext, state.SagaID, store, opts)
	e.startedAt = state.CreatedAt

	log, err := RecoverLog(state.SagaID, state.Events)
	if err != nil {
		return nil, err
	}
	e.log = log

	for _, completedAction := range state.CompletedActions {
		name := NodeName(completedAction.Name)
		nodeID, err := dag.GetNodeIndex(name)
		if err != nil {
			return nil, fmt.Errorf("restore completed action: %w", err)
		}

		e.completed = append(e.completed, nodeID)
		node := e.nodes[nodeID]
		node.State = ActionStateCompleted
		node.Result = &ActionResult[ActionData]{
			Output:    completedAction.Output,
			StartTime: completedAction.StartTime,
			EndTime:   completedAction.EndTime,
		}

		// Kept as json.RawMessage; LookupTyped decodes it on demand.
		if completedAction.Output != nil {
			e.outputs.Set(name, completedAction.Output)
		}

		// Older states may predate the event log.
		if len(state.Events) == 0 {
			e.recordEvent(nodeID, EventStarted)
			e.recordEvent(nodeID, EventSucceeded)
		}
	}

	return e, nil
}

// Execute runs the saga. When an action fails, every completed action is
// undone in reverse order and an *ExecutionError is returned.
func (e *Executor[T, S]) Execute(ctx context.Context) error {
	if err := e.persistState(ctx, StatusRunning); err != nil {
		return fmt.Errorf("failed to save initial state: %w", err)
	}

	executionOrder, err := e.topologicalOrder()
	if err != nil {
		return fmt.Errorf("failed to get execution order: %w", err)
	}

	for _, nodeIndex := range executionOrder {
		if err := e.executeNode(ctx, nodeIndex); err != nil {
			e.failed = append(e.failed, nodeIndex)

			// Compensation still runs when the caller has gone away.
			undoCtx := context.WithoutCancel(ctx)
			e.persistOrWarn(undoCtx, StatusRollingBack)

			undoErr := e.compensate(undoCtx)
			status := StatusRolledBack
			if undoErr != nil {
				status = StatusFailed
			}
			e.persistOrWarn(undoCtx, status)

			return &ExecutionError{
				Node:    e.nodes[nodeIndex].NodeName,
				Err:     err,
				UndoErr: undoErr,
			}
		}
		e.completed = append(e.completed, nodeIndex)
		e.persistOrWarn(ctx, StatusRunning)
	}

	e.persistOrWarn(ctx, StatusCompleted)
	return nil
}

// executeNode executes a single node
func (e *Executor[T, S]) executeNode(ctx context.Context, nodeIndex int64) error {
	execNode := e.nodes[nodeIndex]
	execNode.State = ActionStateRunning

	actionNode := e.dag.Nodes[nodeIndex]
	if !actionNode.IsAction() {
		// Start and end nodes have nothing to run.
		execNode.State = ActionStateCompleted
		return nil
	}

	action, err := e.registry.Get(actionNode.Action)
	if err != nil {
		execNode.State = ActionStateFailed
		execNode.Error = err
		return err
	}

	e.recordEvent(nodeIndex, EventStarted)

	startTime := time.Now()
	result, err := action.DoIt(ctx, e.actionContext(nodeIndex))
	endTime := time.Now()

	result.StartTime = startTime
	result.EndTime = endTime

	finalStatus := ActionStateCompleted
	if err != nil {
		finalStatus = ActionStateFailed
		execNode.Error = err
		if errors.Is(err, ErrUnserializableOutput) {
			// The action did run; record it as done so compensation undoes it.
			execNode.Result = &result
			e.outputs.Set(execNode.NodeName, result.Output)
			e.completed = append(e.completed, nodeIndex)
			e.recordEvent(nodeIndex, EventSucceeded)
		} else {
			e.recordEvent(nodeIndex, EventFailed)
		}
	} else {
		execNode.Result = &result
		if execNode.NodeName != "" {
			e.outputs.Set(execNode.NodeName, result.Output)
		}
		e.recordEvent(nodeIndex, EventSucceeded)
	}
	execNode.State = finalStatus

	e.executionTrace = append(e.executionTrace, ExecutionRecord{
		ActionName: string(actionNode.Action),
		NodeID:     nodeIndex,
		StartTime:  startTime,
		EndTime:    endTime,
		Status:     finalStatus,
		Error:      err,
	})

	if err != nil {
		return fmt.Errorf("action %s failed: %w", actionNode.Action, err)
	}
	return nil
}

// compensate undoes completed actions in reverse order. It does not stop at
// the first undo failure; the failed nodes stay in the completed list so a
// later Rollback can retry them.
func (e *Executor[T, S]) compensate(ctx context.Context) error {
	var (
		errs      []error
		remaining []int64
	)

	for i := len(e.completed) - 1; i >= 0; i-- {
		nodeIndex := e.completed[i]
		if err := e.undoNode(ctx, nodeIndex); err != nil {
			e.logger.WithFields(logrus.Fields{
				"node":  string(e.nodes[nodeIndex].NodeName),
				"error": err.Error(),
			}).Error("saga undo failed")
			errs = append(errs, err)
			remaining = append(remaining, nodeIndex)
		}
	}

	// remaining was collected newest first.
	for i, j := 0, len(remaining)-1; i < j; i, j = i+1, j-1 {
		remaining[i], remaining[j] = remaining[j], remaining[i]
	}
	e.completed = remaining

	return errors.Join(errs...)
}

// undoNode undoes a single node
func (e *Executor[T, S]) undoNode(ctx context.Context, nodeIndex int64) error {
	execNode := e.nodes[nodeIndex]

	actionNode := e.dag.Nodes[nodeIndex]
	if !actionNode.IsAction() {
		execNode.State = ActionStateUndone
		return nil
	}

	execNode.State = ActionStateUndoing

	action, err := e.registry.Get(actionNode.Action)
	if err != nil {
		execNode.State = ActionStateUndoFailed
		return &UndoError{Node: execNode.NodeName, Err: err}
	}

	e.recordEvent(nodeIndex, EventUndoStarted)
	if err := action.UndoIt(ctx, e.actionContext(nodeIndex)); err != nil {
		execNode.State = ActionStateUndoFailed
		e.recordEvent(nodeIndex, EventUndoFailed)
		return &UndoError{Node: execNode.NodeName, Err: err}
	}

	execNode.State = ActionStateUndone
	e.recordEvent(nodeIndex, EventUndoFinished)
	return nil
}

func (e *Executor[T, S]) actionContext(nodeIndex int64) ActionContext[T, S] {
	return ActionContext[T, S]{
		Outputs:     e.outputs,
		NodeID:      nodeIndex,
		DAG:         e.dag,
		UserContext: e.sagaContext.ExecContext(),
	}
}

func (e *Executor[T, S]) recordEvent(nodeIndex int64, eventType EventType) {
	event := NodeEvent{
		SagaID:   e.sagaID,
		NodeID:   nodeIndex,
		NodeName: e.nodes[nodeIndex].NodeName,
		Type:     eventType,
		At:       time.Now(),
	}
	if err := e.log.Record(event); err != nil {
		// The executor drives the transitions itself, so this is a bug.
		e.logger.WithError(err).Warn("saga log rejected event")
	}
}

// topologicalOrder returns nodes in execution order. Sorting is stabilized
// on node id so the order is deterministic.
func (e *Executor[T, S]) topologicalOrder() ([]int64, error) {
	sorted, err := topo.SortStabilized(e.dag.Graph, func(nodes []graph.Node) {
		sort.Slice(nodes, func(i, j int) bool {
			return nodes[i].ID() < nodes[j].ID()
		})
	})
	if err != nil {
		return nil, fmt.Errorf("topological sort failed (cycle detected?): %w", err)
	}

	order := make([]int64, len(sorted))
	for i, node := range sorted {
		order[i] = node.ID()
	}
	return order, nil
}

// SagaID returns the id the executor persists state under.
func (e *Executor[T, S]) SagaID() string {
	return e.sagaID
}

// Log returns the node event log.
func (e *Executor[T, S]) Log() *Log {
	return e.log
}

// GetExecutionState returns the current state of all nodes
func (e *Executor[T, S]) GetExecutionState() map[int64]*ExecutionNode {
	result := make(map[int64]*ExecutionNode, len(e.nodes))
	for k, v := range e.nodes {
		result[k] = v
	}
	return result
}

// GetCompletedNodes returns the nodes that completed and were not undone.
func (e *Executor[T, S]) GetCompletedNodes() []int64 {
	return append([]int64(nil), e.completed...)
}

// GetFailedNodes returns the list of failed node indices
func (e *Executor[T, S]) GetFailedNodes() []int64 {
	return append([]int64(nil), e.failed...)
}

// GetExecutionTrace returns a copy of the execution trace.
func (e *Executor[T, S]) GetExecutionTrace() []ExecutionRecord {
	trace := make([]ExecutionRecord, len(e.executionTrace))
	copy(trace, e.executionTrace)
	return trace
}

// GetExecutionOrder returns just the action names in execution order.
func (e *Executor[T, S]) GetExecutionOrder() []string {
	order := make([]string, len(e.executionTrace))
	for i, record := range e.executionTrace {
		order[i] = record.ActionName
	}
	return order
}

// Rollback undoes every completed action, newest first. It is used after a
// successful run to deprovision, or on a restored executor whose earlier
// compensation failed.
func (e *Executor[T, S]) Rollback(ctx context.Context) error {
	if !e.hasCompletedActions() {
		return ErrNothingToRollback
	}

	e.persistOrWarn(ctx, StatusRollingBack)

	err := e.compensate(ctx)

	finalStatus := StatusRolledBack
	if err != nil {
		finalStatus = StatusFailed
	}
	e.persistOrWarn(ctx, finalStatus)

	return err
}

func (e *Executor[T, S]) hasCompletedActions() bool {
	for _, nodeIndex := range e.completed {
		if e.dag.Nodes[nodeIndex].IsAction() {
			return true
		}
	}
	return false
}

func (e *Executor[T, S]) persistOrWarn(ctx context.Context, status string) {
	if err := e.persistState(ctx, status); err != nil {
		e.logger.WithFields(logrus.Fields{
			"status": status,
			"error":  err.Error(),
		}).Warn("failed to persist saga state")
	}
}

// persistState saves the current execution state to the store.
func (e *Executor[T, S]) persistState(ctx context.Context, status string) error {
	completedActions := make([]CompletedAction, 0, len(e.completed))

	for _, nodeID := range e.completed {
		node := e.nodes[nodeID]
		if node == nil || node.NodeName == "" {
			continue
		}

		var output json.RawMessage
		if val, ok := e.outputs.Get(node.NodeName); ok && val != nil {
			data, err := json.Marshal(val)
			if err != nil {
				e.logger.WithField("node", string(node.NodeName)).Warn("action output not persisted")
			} else {
				output = data
			}
		}

		ca := CompletedAction{
			Name:   string(node.NodeName),
			Output: output,
		}
		if node.Result != nil {
			ca.StartTime = node.Result.StartTime
			ca.EndTime = node.Result.EndTime
		}
		completedActions = append(completedActions, ca)
	}

	state := State[T]{
		SagaID:           e.sagaID,
		SagaName:         string(e.dag.SagaName),
		Status:           status,
		Context:          e.sagaContext.ExecContext(),
		CompletedActions: completedActions,
		Events:           e.log.Events(),
		CreatedAt:        e.startedAt,
		UpdatedAt:        time.Now(),
	}

	return e.store.Save(ctx, e.sagaID, state)
}
