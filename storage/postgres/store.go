// Package postgres persists saga state in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/fortressi/sellerhub/saga"
)

// Open connects to databaseURL and checks the connection.
func Open(ctx context.Context, databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// Store implements saga.Store on the saga_states table.
type Store[T any] struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ saga.Store[struct{}] = (*Store[struct{}])(nil)

func NewStore[T any](db *sqlx.DB) *Store[T] {
	return &Store[T]{db: db, now: time.Now}
}

type stateRow struct {
	SagaID           string    `db:"saga_id"`
	SagaName         string    `db:"saga_name"`
	Status           string    `db:"status"`
	Context          []byte    `db:"context"`
	CompletedActions []byte    `db:"completed_actions"`
	Events           []byte    `db:"events"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

const selectColumns = `saga_id, saga_name, status, context, completed_actions, events, created_at, updated_at`

// Save upserts the state. created_at is kept from the first save.
func (s *Store[T]) Save(ctx context.Context, sagaID string, state saga.State[T]) error {
	sagaCtx, err := json.Marshal(state.Context)
	if err != nil {
		return saga.SerializeFailed(err)
	}
	completed := state.CompletedActions
	if completed == nil {
		completed = []saga.CompletedAction{}
	}
	completedJSON, err := json.Marshal(completed)
	if err != nil {
		return saga.SerializeFailed(err)
	}
	events := state.Events
	if events == nil {
		events = []saga.NodeEvent{}
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return saga.SerializeFailed(err)
	}

	now := s.now().UTC()
	createdAt := state.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO saga_states (saga_id, saga_name, status, context, completed_actions, events, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6::jsonb, $7, $8)
		ON CONFLICT (saga_id) DO UPDATE SET
			saga_name = EXCLUDED.saga_name,
			status = EXCLUDED.status,
			context = EXCLUDED.context,
			completed_actions = EXCLUDED.completed_actions,
			events = EXCLUDED.events,
			updated_at = EXCLUDED.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		sagaID, state.SagaName, state.Status,
		string(sagaCtx), string(completedJSON), string(eventsJSON),
		createdAt, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save saga %s: %w", sagaID, err)
	}
	return nil
}

func (s *Store[T]) Load(ctx context.Context, sagaID string) (*saga.State[T], error) {
	var row stateRow
	query := `SELECT ` + selectColumns + ` FROM saga_states WHERE saga_id = $1`
	if err := s.db.GetContext(ctx, &row, query, sagaID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("saga %s: %w", sagaID, saga.ErrStateNotFound)
		}
		return nil, fmt.Errorf("failed to load saga %s: %w", sagaID, err)
	}
	return decodeRow[T](row)
}

// Delete removes the state. Unknown ids are not an error.
func (s *Store[T]) Delete(ctx context.Context, sagaID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM saga_states WHERE saga_id = $1`, sagaID); err != nil {
		return fmt.Errorf("failed to delete saga %s: %w", sagaID, err)
	}
	return nil
}

// List returns every state, oldest first.
func (s *Store[T]) List(ctx context.Context) ([]*saga.State[T], error) {
	var rows []stateRow
	query := `SELECT ` + selectColumns + ` FROM saga_states ORDER BY created_at, saga_id`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list sagas: %w", err)
	}

	states := make([]*saga.State[T], 0, len(rows))
	for _, row := range rows {
		st, err := decodeRow[T](row)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, nil
}

func decodeRow[T any](row stateRow) (*saga.State[T], error) {
	st := &saga.State[T]{
		SagaID:    row.SagaID,
		SagaName:  row.SagaName,
		Status:    row.Status,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if err := json.Unmarshal(row.Context, &st.Context); err != nil {
		return nil, saga.DeserializeFailed(err)
	}
	if len(row.CompletedActions) > 0 {
		if err := json.Unmarshal(row.CompletedActions, &st.CompletedActions); err != nil {
			return nil, saga.DeserializeFailed(err)
		}
	}
	if len(row.Events) > 0 {
		if err := json.Unmarshal(row.Events, &st.Events); err != nil {
			return nil, saga.DeserializeFailed(err)
		}
	}
	return st, nil
}
