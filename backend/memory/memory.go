// Package memory is an in-process backend.Backend for local development and
// tests. It enforces the same uniqueness rules the hosted service does and
// reports violations with the same status codes and messages.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"
	"golang.org/x/crypto/bcrypt"

	"github.com/fortressi/sellerhub/backend"
)

type row map[string]any

type identity struct {
	id           string
	email        string
	passwordHash []byte
	metadata     map[string]any
	createdAt    time.Time
}

// Backend keeps identities and tables in memory. The zero value is not
// usable; call New.
type Backend struct {
	mu         sync.RWMutex
	identities map[string]*identity
	emails     map[string]string
	tables     map[string]*btree.Map[string, row]
	hashCost   int
}

var _ backend.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithHashCost sets the bcrypt cost used for stored passwords.
func WithHashCost(cost int) Option {
	return func(b *Backend) {
		b.hashCost = cost
	}
}

func New(opts ...Option) *Backend {
	b := &Backend{
		identities: make(map[string]*identity),
		emails:     make(map[string]string),
		tables:     make(map[string]*btree.Map[string, row]),
		hashCost:   bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) CreateIdentity(ctx context.Context, params backend.IdentityParams) (*backend.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(params.Email))
	if email == "" {
		return nil, &backend.Error{Status: http.StatusBadRequest, Code: "validation_failed", Message: "Unable to validate email address: invalid format"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), b.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, taken := b.emails[email]; taken {
		return nil, &backend.Error{
			Status:  http.StatusUnprocessableEntity,
			Code:    "email_exists",
			Message: "A user with this email address has already been registered",
		}
	}

	ident := &identity{
		id:           uuid.NewString(),
		email:        email,
		passwordHash: hash,
		metadata:     copyMap(params.Metadata),
		createdAt:    time.Now().UTC(),
	}
	b.identities[ident.id] = ident
	b.emails[email] = ident.id

	return &backend.Identity{ID: ident.id, Email: ident.email, Metadata: copyMap(ident.metadata)}, nil
}

func (b *Backend) DeleteIdentity(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ident, ok := b.identities[id]
	if !ok {
		return &backend.Error{Status: http.StatusNotFound, Code: "user_not_found", Message: "User not found"}
	}
	delete(b.emails, ident.email)
	delete(b.identities, id)
	return nil
}

// CheckPassword reports whether password matches the identity's stored hash.
func (b *Backend) CheckPassword(id, password string) bool {
	b.mu.RLock()
	ident, ok := b.identities[id]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(ident.passwordHash, []byte(password)) == nil
}

// IdentityCount returns the number of identities.
func (b *Backend) IdentityCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.identities)
}

// RowCount returns the number of rows in table.
func (b *Backend) RowCount(table string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if t, ok := b.tables[table]; ok {
		return t.Len()
	}
	return 0
}

func (b *Backend) Insert(ctx context.Context, table string, record any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r, err := toRow(record)
	if err != nil {
		return err
	}
	id, _ := r["id"].(string)
	if id == "" {
		id = uuid.NewString()
		r["id"] = id
	}
	if _, ok := r["created_at"]; !ok {
		r["created_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.table(table)
	if _, exists := t.Get(id); exists {
		return &backend.Error{
			Status:  http.StatusConflict,
			Code:    "23505",
			Message: fmt.Sprintf("duplicate key value violates unique constraint %q", table+"_pkey"),
		}
	}
	t.Set(id, r)
	return nil
}

func (b *Backend) Select(ctx context.Context, table string, q backend.Query, dest any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	matched := b.match(table, q)
	b.mu.RUnlock()

	sortRows(matched, q)
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	data, err := json.Marshal(matched)
	if err != nil {
		return fmt.Errorf("encode %s rows: %w", table, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode %s rows: %w", table, err)
	}
	return nil
}

func (b *Backend) Update(ctx context.Context, table string, q backend.Query, patch any) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p, err := toRow(patch)
	if err != nil {
		return 0, err
	}
	delete(p, "id")

	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.table(table)
	matched := b.match(table, q)
	for _, r := range matched {
		updated := copyRow(r)
		for k, v := range p {
			updated[k] = v
		}
		t.Set(updated["id"].(string), updated)
	}
	return len(matched), nil
}

func (b *Backend) Delete(ctx context.Context, table string, q backend.Query) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.table(table)
	matched := b.match(table, q)
	for _, r := range matched {
		t.Delete(r["id"].(string))
	}
	return len(matched), nil
}

// table returns the named table, creating it. Callers hold the write lock.
func (b *Backend) table(name string) *btree.Map[string, row] {
	t, ok := b.tables[name]
	if !ok {
		t = btree.NewMap[string, row](0)
		b.tables[name] = t
	}
	return t
}

// match returns copies of the rows matching q's filters, in id order.
func (b *Backend) match(table string, q backend.Query) []row {
	t, ok := b.tables[table]
	if !ok {
		return nil
	}

	var out []row
	t.Scan(func(_ string, r row) bool {
		for _, f := range q.Filters {
			if stringify(r[f.Column]) != f.Value {
				return true
			}
		}
		out = append(out, copyRow(r))
		return true
	})
	return out
}

func sortRows(rows []row, q backend.Query) {
	if q.Order == "" {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		c := compareValues(rows[i][q.Order], rows[j][q.Order])
		if q.Desc {
			return c > 0
		}
		return c < 0
	})
}

func compareValues(a, b any) int {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(stringify(a), stringify(b))
}

// stringify renders a decoded JSON value the way it would appear in a
// PostgREST filter.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		data, _ := json.Marshal(val)
		return string(data)
	}
}

func toRow(record any) (row, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var r row
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("record must encode as a JSON object: %w", err)
	}
	if r == nil {
		r = row{}
	}
	return r, nil
}

func copyRow(r row) row {
	out := make(row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
