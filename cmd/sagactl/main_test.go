package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortressi/sellerhub/saga"
	"github.com/fortressi/sellerhub/signup"
)

type fakeController struct {
	states     []*saga.State[*signup.State]
	rolledBack []string
	forced     []string
}

func (f *fakeController) Sagas(ctx context.Context) ([]*saga.State[*signup.State], error) {
	var retained []*saga.State[*signup.State]
	for _, st := range f.states {
		if st.Status == saga.StatusFailed {
			retained = append(retained, st)
		}
	}
	return retained, nil
}

func (f *fakeController) AllSagas(ctx context.Context) ([]*saga.State[*signup.State], error) {
	return f.states, nil
}

func (f *fakeController) Saga(ctx context.Context, sagaID string) (*saga.State[*signup.State], error) {
	for _, st := range f.states {
		if st.SagaID == sagaID {
			return st, nil
		}
	}
	return nil, saga.ErrStateNotFound
}

func (f *fakeController) Rollback(ctx context.Context, sagaID string) error {
	if _, err := f.Saga(ctx, sagaID); err != nil {
		return err
	}
	for _, st := range f.states {
		if st.SagaID == sagaID && st.Status == saga.StatusRunning {
			return signup.ErrSagaInProgress
		}
	}
	f.rolledBack = append(f.rolledBack, sagaID)
	return nil
}

func (f *fakeController) ForceRollback(ctx context.Context, sagaID string) error {
	if _, err := f.Saga(ctx, sagaID); err != nil {
		return err
	}
	f.forced = append(f.forced, sagaID)
	return nil
}

func (f *fakeController) DOT() (string, error) {
	return "digraph seller_signup {}", nil
}

func newFake() *fakeController {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &fakeController{states: []*saga.State[*signup.State]{{
		SagaID:   "s1",
		SagaName: string(signup.SagaName),
		Status:   saga.StatusFailed,
		Context:  &signup.State{Email: "a@b.co", UserID: "u1"},
		CompletedActions: []saga.CompletedAction{
			{Name: string(signup.NodeIdentity)},
		},
		CreatedAt: at,
		UpdatedAt: at,
	}, {
		SagaID:    "s2",
		SagaName:  string(signup.SagaName),
		Status:    saga.StatusRunning,
		Context:   &signup.State{Email: "c@d.co"},
		CreatedAt: at,
		UpdatedAt: at,
	}}}
}

func TestList(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"list"}, &out, newFake()))

	assert.Contains(t, out.String(), "SAGA ID")
	assert.Contains(t, out.String(), "s1")
	assert.Contains(t, out.String(), "a@b.co")
	assert.Contains(t, out.String(), "2026-03-01T12:00:00Z")
	assert.NotContains(t, out.String(), "s2")

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"list", "--all"}, &out, newFake()))
	assert.Contains(t, out.String(), "s2")
	assert.Contains(t, out.String(), "c@d.co")

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"list"}, &out, &fakeController{}))
	assert.Equal(t, "no retained sagas\n", out.String())
}

func TestShow(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"show", "s1"}, &out, newFake()))
	assert.Contains(t, out.String(), `"user_id": "u1"`)

	err := run(context.Background(), []string{"show", "--saga-id", "nope"}, &out, newFake())
	assert.ErrorIs(t, err, saga.ErrStateNotFound)
}

func TestRollback(t *testing.T) {
	fake := newFake()
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"rollback", "-saga-id=s1"}, &out, fake))
	assert.Equal(t, []string{"s1"}, fake.rolledBack)
	assert.Equal(t, "saga s1 rolled back\n", out.String())
}

func TestRollbackRunningSagaNeedsForce(t *testing.T) {
	fake := newFake()
	var out bytes.Buffer

	err := run(context.Background(), []string{"rollback", "s2"}, &out, fake)
	assert.ErrorIs(t, err, signup.ErrSagaInProgress)
	assert.Empty(t, fake.rolledBack)
	assert.Empty(t, out.String())

	require.NoError(t, run(context.Background(), []string{"rollback", "--force", "s2"}, &out, fake))
	assert.Equal(t, []string{"s2"}, fake.forced)
	assert.Equal(t, "saga s2 rolled back\n", out.String())
}

func TestUsageErrors(t *testing.T) {
	var out bytes.Buffer
	for _, args := range [][]string{nil, {"destroy"}, {"rollback"}, {"rollback", "--force"}, {"show", "--bogus"}, {"list", "--bogus"}} {
		assert.ErrorIs(t, run(context.Background(), args, &out, newFake()), errUsage, "%v", args)
	}
}

func TestGraph(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"graph"}, &out, newFake()))
	assert.Contains(t, out.String(), "digraph seller_signup")
}

type fakeMigrator struct {
	version uint
	dirty   bool
	calls   []string
}

func (m *fakeMigrator) Up() error {
	m.calls = append(m.calls, "up")
	m.version = 1
	return nil
}

func (m *fakeMigrator) Down() error {
	m.calls = append(m.calls, "down")
	m.version = 0
	return nil
}

func (m *fakeMigrator) Version() (uint, bool, error) {
	return m.version, m.dirty, nil
}

func TestMigrate(t *testing.T) {
	m := &fakeMigrator{}
	var out bytes.Buffer

	require.NoError(t, runMigrate([]string{"version"}, &out, m))
	assert.Equal(t, "schema version: none\n", out.String())

	out.Reset()
	require.NoError(t, runMigrate([]string{"up"}, &out, m))
	assert.Equal(t, "schema version: 1\n", out.String())

	out.Reset()
	m.dirty = true
	require.NoError(t, runMigrate([]string{"version"}, &out, m))
	assert.Equal(t, "schema version: 1 (dirty)\n", out.String())

	out.Reset()
	m.dirty = false
	require.NoError(t, runMigrate([]string{"down"}, &out, m))
	assert.Equal(t, "schema version: none\n", out.String())
	assert.Equal(t, []string{"up", "down"}, m.calls)

	assert.ErrorIs(t, runMigrate(nil, &out, m), errUsage)
	assert.ErrorIs(t, runMigrate([]string{"sideways"}, &out, m), errUsage)
}
