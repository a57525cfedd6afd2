// Package backend defines the contract sellerhub needs from its hosted
// auth and data service.
package backend

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoRows is returned by GetOne when no row matched the query.
var ErrNoRows = errors.New("no rows in result set")

// Table names.
const (
	TableProfiles       = "profiles"
	TableSellers        = "sellers"
	TableVendors        = "vendors"
	TableProducts       = "products"
	TablePurchaseOrders = "purchase_orders"
)

// Backend is the external collaborator: an identity service plus a row store.
type Backend interface {
	// CreateIdentity registers a new auth identity.
	CreateIdentity(ctx context.Context, params IdentityParams) (*Identity, error)
	// DeleteIdentity removes an identity by id.
	DeleteIdentity(ctx context.Context, id string) error

	// Insert adds a single row to table.
	Insert(ctx context.Context, table string, record any) error
	// Select decodes the rows matching q into dest, which must be a pointer
	// to a slice.
	Select(ctx context.Context, table string, q Query, dest any) error
	// Update applies patch to the rows matching q and returns how many changed.
	Update(ctx context.Context, table string, q Query, patch any) (int, error)
	// Delete removes the rows matching q and returns how many went away.
	Delete(ctx context.Context, table string, q Query) (int, error)
}

// IdentityParams are the inputs to CreateIdentity.
type IdentityParams struct {
	Email    string
	Password string
	Metadata map[string]any
}

// Identity is an auth record as reported by the service.
type Identity struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// Filter is an equality condition on one column.
type Filter struct {
	Column string
	Value  string
}

// Query narrows Select, Update and Delete. The zero Query matches every row.
type Query struct {
	Filters []Filter
	Order   string
	Desc    bool
	Limit   int
}

// Eq returns a Query matching rows where column equals value.
func Eq(column, value string) Query {
	return Query{}.Eq(column, value)
}

// Eq adds an equality filter.
func (q Query) Eq(column, value string) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Column: column, Value: value})
	return q
}

// OrderBy sets the sort column.
func (q Query) OrderBy(column string, desc bool) Query {
	q.Order = column
	q.Desc = desc
	return q
}

// Error is a rejection reported by the service itself, as opposed to a
// transport or decoding failure.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend error %d: %s", e.Status, e.Message)
}

// AsError returns the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// GetOne returns the first row matching q, or ErrNoRows when nothing matched.
func GetOne[R any](ctx context.Context, b Backend, table string, q Query) (*R, error) {
	q.Limit = 1
	var rows []R
	if err := b.Select(ctx, table, q, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	return &rows[0], nil
}
