// Package signup creates a seller account: an auth identity, its profile row
// and its seller row. The three writes run as a saga, so a failure part way
// through undoes the writes that already happened, newest first.
package signup

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fortressi/sellerhub/backend"
	"github.com/fortressi/sellerhub/metrics"
	"github.com/fortressi/sellerhub/saga"
)

// SagaName is the name signup sagas are persisted under.
const SagaName saga.SagaName = "seller_signup"

// RoleSeller is the role tag written to identity metadata and the profile.
const RoleSeller = "seller"

const (
	NodeIdentity saga.NodeName = "create_identity"
	NodeProfile  saga.NodeName = "create_profile"
	NodeSeller   saga.NodeName = "create_seller"
)

// State is the saga context persisted with each signup. The password is
// never written to the store.
type State struct {
	Email       string `json:"email"`
	Password    string `json:"-"`
	FullName    string `json:"full_name"`
	CompanyName string `json:"company_name"`
	UserID      string `json:"user_id,omitempty"`
}

type sagaContext struct {
	state *State
}

func (s *sagaContext) ExecContext() *State {
	return s.state
}

type actionCtx = saga.ActionContext[*State, *sagaContext]

// identityOutput is what create_identity records for later steps and undo.
type identityOutput struct {
	ID string `json:"id"`
}

type profileRecord struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	FullName    string `json:"full_name"`
	CompanyName string `json:"company_name"`
}

type sellerRecord struct {
	ID string `json:"id"`
}

// rowOutput identifies the row a step inserted, for its undo.
type rowOutput struct {
	ID string `json:"id"`
}

// DefaultStaleAfter is how long a running saga must go without a state
// update before Rollback treats its process as gone.
const DefaultStaleAfter = 15 * time.Minute

var (
	// ErrSagaInProgress is returned by Rollback for a saga that is still
	// running or compensating and has not gone stale.
	ErrSagaInProgress = errors.New("saga is still in progress")

	// ErrSagaCompleted is returned by Rollback for a saga that finished.
	ErrSagaCompleted = errors.New("saga completed; nothing to roll back")
)

// Compensator runs signup sagas against a backend.
type Compensator struct {
	backend    backend.Backend
	store      saga.Store[*State]
	registry   *saga.ActionRegistry[*State, *sagaContext]
	dag        *saga.SagaDag
	logger     logrus.FieldLogger
	metrics    *metrics.Metrics
	staleAfter time.Duration
	now        func() time.Time
}

// Option configures a Compensator.
type Option func(*Compensator)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Compensator) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Compensator) {
		c.metrics = m
	}
}

// WithStaleAfter sets how long a running saga may go without an update
// before it is listed as retained and can be rolled back.
func WithStaleAfter(d time.Duration) Option {
	return func(c *Compensator) {
		if d > 0 {
			c.staleAfter = d
		}
	}
}

// New builds the signup saga once; every Signup call shares it.
func New(b backend.Backend, store saga.Store[*State], opts ...Option) (*Compensator, error) {
	c := &Compensator{
		backend:    b,
		store:      store,
		registry:   saga.NewActionRegistry[*State, *sagaContext](),
		logger:     logrus.StandardLogger(),
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithField("component", "signup")

	builder := saga.NewDagBuilder[*State, *sagaContext](SagaName, c.registry)
	steps := []*saga.ActionNode[*State, *sagaContext]{
		saga.NewActionNode[*State, *sagaContext](NodeIdentity, "Create auth identity",
			saga.NewActionFunc[*State, *sagaContext, identityOutput](saga.ActionName(NodeIdentity), c.createIdentity, c.undoIdentity)),
		saga.NewActionNode[*State, *sagaContext](NodeProfile, "Insert profile row",
			saga.NewActionFunc[*State, *sagaContext, rowOutput](saga.ActionName(NodeProfile), c.createProfile, c.undoProfile)),
		saga.NewActionNode[*State, *sagaContext](NodeSeller, "Insert seller row",
			saga.NewActionFunc[*State, *sagaContext, rowOutput](saga.ActionName(NodeSeller), c.createSeller, c.undoSeller)),
	}
	for _, step := range steps {
		if err := builder.Append(step); err != nil {
			return nil, fmt.Errorf("build signup saga: %w", err)
		}
	}

	d, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build signup saga: %w", err)
	}
	c.dag, err = saga.NewSagaDag(d, nil)
	if err != nil {
		return nil, fmt.Errorf("build signup saga: %w", err)
	}
	return c, nil
}

// Signup creates the identity, profile and seller rows for req. On failure
// it returns an *Error; the writes that did happen have been undone unless
// an undo itself failed, in which case the saga is kept for Rollback.
func (c *Compensator) Signup(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := c.signup(ctx, req)

	outcome := "success"
	if err != nil {
		var sErr *Error
		if errors.As(err, &sErr) {
			outcome = string(sErr.Kind)
		}
	}
	c.metrics.RecordSignup(outcome, time.Since(start))
	return res, err
}

func (c *Compensator) signup(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req = req.normalized()

	sagaID := uuid.NewString()
	logger := c.logger.WithField("saga_id", sagaID)

	sagaCtx := &sagaContext{state: &State{
		Email:       req.Email,
		Password:    req.Password,
		FullName:    req.FullName,
		CompanyName: req.CompanyName,
	}}
	exec := saga.NewExecutor(c.dag, c.registry, sagaCtx, sagaID, c.store, saga.WithLogger(c.logger))

	err := exec.Execute(ctx)
	if err == nil {
		c.forget(ctx, logger, sagaID)
		logger.WithField("user_id", sagaCtx.state.UserID).Info("seller signed up")
		return &Result{UserID: sagaCtx.state.UserID}, nil
	}

	var execErr *saga.ExecutionError
	if errors.As(err, &execErr) {
		if execErr.Compensated() {
			c.forget(ctx, logger, sagaID)
		} else {
			logger.WithError(execErr.UndoErr).Warn("signup compensation incomplete; saga retained for rollback")
		}
		logger = logger.WithField("step", string(execErr.Node))
	}

	return nil, c.classify(logger, err)
}

// classify maps a saga failure to what the caller sees. Service rejections
// pass their message through; server faults and anything else are hidden
// behind a 500.
func (c *Compensator) classify(logger logrus.FieldLogger, err error) *Error {
	if apiErr, ok := backend.AsError(err); ok {
		fields := logrus.Fields{
			"status":  apiErr.Status,
			"code":    apiErr.Code,
			"message": apiErr.Message,
		}
		if apiErr.Status < http.StatusInternalServerError {
			logger.WithFields(fields).Info("signup rejected upstream")
			return &Error{Kind: KindUpstream, Message: apiErr.Message, Status: http.StatusBadRequest, Err: err}
		}
		logger = logger.WithFields(fields)
	}

	logger.WithError(err).Error("signup failed")
	return &Error{Kind: KindUnexpected, Message: "internal server error", Status: http.StatusInternalServerError, Err: err}
}

func (c *Compensator) forget(ctx context.Context, logger logrus.FieldLogger, sagaID string) {
	if err := c.store.Delete(context.WithoutCancel(ctx), sagaID); err != nil {
		logger.WithError(err).Warn("failed to delete finished saga state")
	}
}

// Rollback retries compensation of a retained saga and removes its state
// once every completed step has been undone. A running saga is refused until
// it has gone stale; a completed one is always refused.
func (c *Compensator) Rollback(ctx context.Context, sagaID string) error {
	return c.rollback(ctx, sagaID, false)
}

// ForceRollback is Rollback without the staleness check, for an operator who
// knows the process running the saga is gone.
func (c *Compensator) ForceRollback(ctx context.Context, sagaID string) error {
	return c.rollback(ctx, sagaID, true)
}

func (c *Compensator) rollback(ctx context.Context, sagaID string, force bool) error {
	state, err := c.store.Load(ctx, sagaID)
	if err != nil {
		return err
	}
	if state.SagaName != string(SagaName) {
		return fmt.Errorf("saga %s is a %q saga, not %q", sagaID, state.SagaName, SagaName)
	}
	switch {
	case state.Status == saga.StatusCompleted:
		return fmt.Errorf("saga %s: %w", sagaID, ErrSagaCompleted)
	case c.inProgress(state) && !force:
		return fmt.Errorf("saga %s (%s, updated %s): %w", sagaID, state.Status, state.UpdatedAt.Format(time.RFC3339), ErrSagaInProgress)
	}
	if state.Context == nil {
		state.Context = &State{}
	}

	exec, err := saga.NewExecutorFromState(c.dag, c.registry, &sagaContext{state: state.Context}, state, c.store, saga.WithLogger(c.logger))
	if err != nil {
		return fmt.Errorf("restore saga %s: %w", sagaID, err)
	}

	logger := c.logger.WithFields(logrus.Fields{"saga_id": sagaID, "status": state.Status, "forced": force})
	if err := exec.Rollback(ctx); err != nil && !errors.Is(err, saga.ErrNothingToRollback) {
		return fmt.Errorf("rollback saga %s: %w", sagaID, err)
	}

	c.forget(ctx, logger, sagaID)
	logger.Info("retained signup saga rolled back")
	return nil
}

// inProgress reports whether a live process may still be driving the saga.
func (c *Compensator) inProgress(state *saga.State[*State]) bool {
	switch state.Status {
	case saga.StatusRunning, saga.StatusRollingBack:
		return c.now().Sub(state.UpdatedAt) < c.staleAfter
	}
	return false
}

// Sagas lists retained signup sagas, oldest first: those whose compensation
// failed and those left running by a process that went away.
func (c *Compensator) Sagas(ctx context.Context) ([]*saga.State[*State], error) {
	states, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}
	retained := states[:0]
	for _, st := range states {
		if st.Status != saga.StatusCompleted && !c.inProgress(st) {
			retained = append(retained, st)
		}
	}
	return retained, nil
}

// AllSagas lists every stored signup saga, in-flight ones included.
func (c *Compensator) AllSagas(ctx context.Context) ([]*saga.State[*State], error) {
	return c.store.List(ctx)
}

// Saga returns one stored signup saga.
func (c *Compensator) Saga(ctx context.Context, sagaID string) (*saga.State[*State], error) {
	return c.store.Load(ctx, sagaID)
}

// DOT renders the signup saga graph.
func (c *Compensator) DOT() (string, error) {
	return c.dag.DOT()
}

func (c *Compensator) createIdentity(ctx context.Context, sgctx actionCtx) (identityOutput, error) {
	st := sgctx.UserContext
	identity, err := c.backend.CreateIdentity(ctx, backend.IdentityParams{
		Email:    st.Email,
		Password: st.Password,
		Metadata: map[string]any{
			"full_name": st.FullName,
			"role":      RoleSeller,
		},
	})
	if err != nil {
		return identityOutput{}, err
	}

	st.UserID = identity.ID
	st.Password = ""
	return identityOutput{ID: identity.ID}, nil
}

func (c *Compensator) undoIdentity(ctx context.Context, sgctx actionCtx) error {
	out, err := saga.MustLookupTyped[identityOutput](sgctx, NodeIdentity)
	if err != nil {
		return err
	}
	err = c.backend.DeleteIdentity(ctx, out.ID)
	c.metrics.RecordCompensation(string(NodeIdentity), err == nil)
	return err
}

func (c *Compensator) createProfile(ctx context.Context, sgctx actionCtx) (rowOutput, error) {
	out, err := saga.MustLookupTyped[identityOutput](sgctx, NodeIdentity)
	if err != nil {
		return rowOutput{}, err
	}
	st := sgctx.UserContext
	if err := c.backend.Insert(ctx, backend.TableProfiles, profileRecord{
		ID:          out.ID,
		Role:        RoleSeller,
		FullName:    st.FullName,
		CompanyName: st.CompanyName,
	}); err != nil {
		return rowOutput{}, err
	}
	return rowOutput{ID: out.ID}, nil
}

func (c *Compensator) undoProfile(ctx context.Context, sgctx actionCtx) error {
	out, err := saga.MustLookupTyped[rowOutput](sgctx, NodeProfile)
	if err != nil {
		return err
	}
	_, err = c.backend.Delete(ctx, backend.TableProfiles, backend.Eq("id", out.ID))
	c.metrics.RecordCompensation(string(NodeProfile), err == nil)
	return err
}

func (c *Compensator) createSeller(ctx context.Context, sgctx actionCtx) (rowOutput, error) {
	out, err := saga.MustLookupTyped[identityOutput](sgctx, NodeIdentity)
	if err != nil {
		return rowOutput{}, err
	}
	if err := c.backend.Insert(ctx, backend.TableSellers, sellerRecord{ID: out.ID}); err != nil {
		return rowOutput{}, err
	}
	return rowOutput{ID: out.ID}, nil
}

func (c *Compensator) undoSeller(ctx context.Context, sgctx actionCtx) error {
	out, err := saga.MustLookupTyped[rowOutput](sgctx, NodeSeller)
	if err != nil {
		return err
	}
	_, err = c.backend.Delete(ctx, backend.TableSellers, backend.Eq("id", out.ID))
	c.metrics.RecordCompensation(string(NodeSeller), err == nil)
	return err
}
