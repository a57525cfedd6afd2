// Package saga runs a sequence of remote writes as a unit that can be undone.
//
// Each step is an Action with a "do" and an "undo" half. Actions are placed
// into a DAG with a DagBuilder and run by an Executor in topological order.
// When an action fails, the executor undoes every action that already
// completed, newest first, so the outside world is left as it was before the
// saga started (as far as the undo halves can manage).
//
// Overview
//
//  1. Define actions with NewActionFunc, pairing a do function with its undo.
//  2. Create an ActionRegistry. The builder registers actions it has not seen.
//  3. Build the DAG with NewDagBuilder, Append and Build, then wrap it with
//     NewSagaDag.
//  4. Pick a Store (NewMemoryStore, NewFileStore, or a database-backed one)
//     and run NewExecutor(...).Execute(ctx).
//
// Undo failures never stop compensation: the executor keeps undoing the
// remaining actions and reports every undo error on the returned
// ExecutionError. A saga whose compensation failed keeps its persisted state
// so it can be restored with NewExecutorFromState and rolled back again.
package saga
