package marketplace

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortressi/sellerhub/backend"
	"github.com/fortressi/sellerhub/backend/memory"
)

func newTestManager(t *testing.T) (*Manager, *memory.Backend) {
	t.Helper()
	b := memory.New()
	m := NewManager(NewDatastore(b))

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return m, b
}

func ptr[T any](v T) *T {
	return &v
}

func TestAccount(t *testing.T) {
	m, b := newTestManager(t)
	ctx := context.Background()

	_, err := m.Account(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Insert(ctx, backend.TableProfiles, Profile{ID: "u1", Role: "seller", FullName: "A B", CompanyName: "Acme"}))
	acct, err := m.Account(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", acct.Profile.CompanyName)
	assert.False(t, acct.IsSeller)

	require.NoError(t, b.Insert(ctx, backend.TableSellers, Seller{ID: "u1"}))
	acct, err = m.Account(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, acct.IsSeller)
}

func TestVendorLifecycle(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.CreateVendor(ctx, "s1", VendorInput{Name: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = m.CreateVendor(ctx, "s1", VendorInput{Name: "Acme", Email: "nope"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	first, err := m.CreateVendor(ctx, "s1", VendorInput{Name: " Acme ", Email: "orders@acme.test"})
	require.NoError(t, err)
	assert.Equal(t, "Acme", first.Name)
	assert.NotEmpty(t, first.ID)

	second, err := m.CreateVendor(ctx, "s1", VendorInput{Name: "Globex"})
	require.NoError(t, err)
	_, err = m.CreateVendor(ctx, "s2", VendorInput{Name: "Initech"})
	require.NoError(t, err)

	vendors, err := m.ListVendors(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, vendors, 2)
	assert.Equal(t, second.ID, vendors[0].ID, "newest first")

	updated, err := m.UpdateVendor(ctx, "s1", first.ID, VendorPatch{Phone: ptr("555-0100")})
	require.NoError(t, err)
	assert.Equal(t, "555-0100", updated.Phone)
	assert.Equal(t, "Acme", updated.Name)

	_, err = m.UpdateVendor(ctx, "s1", first.ID, VendorPatch{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	// Another seller cannot see or touch the vendor.
	_, err = m.GetVendor(ctx, "s2", first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.UpdateVendor(ctx, "s2", first.ID, VendorPatch{Name: ptr("Stolen")})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.DeleteVendor(ctx, "s2", first.ID), ErrNotFound)

	require.NoError(t, m.DeleteVendor(ctx, "s1", first.ID))
	_, err = m.GetVendor(ctx, "s1", first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEmptyListIsNotNil(t *testing.T) {
	m, _ := newTestManager(t)

	products, err := m.ListProducts(context.Background(), "s1")
	require.NoError(t, err)
	assert.NotNil(t, products)
	assert.Empty(t, products)
}

func TestProductValidation(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	vendor, err := m.CreateVendor(ctx, "s1", VendorInput{Name: "Acme"})
	require.NoError(t, err)
	foreign, err := m.CreateVendor(ctx, "s2", VendorInput{Name: "Initech"})
	require.NoError(t, err)

	_, err = m.CreateProduct(ctx, "s1", ProductInput{Name: "Widget", PriceCents: -1})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = m.CreateProduct(ctx, "s1", ProductInput{Name: "Widget", Stock: -1})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = m.CreateProduct(ctx, "s1", ProductInput{Name: "Widget", VendorID: foreign.ID})
	assert.ErrorIs(t, err, ErrInvalidInput)

	p, err := m.CreateProduct(ctx, "s1", ProductInput{Name: "Widget", SKU: "W-1", PriceCents: 1299, Stock: 10, VendorID: vendor.ID})
	require.NoError(t, err)

	updated, err := m.UpdateProduct(ctx, "s1", p.ID, ProductPatch{Stock: ptr(0), PriceCents: ptr(int64(999))})
	require.NoError(t, err)
	assert.Equal(t, 0, updated.Stock)
	assert.Equal(t, int64(999), updated.PriceCents)
	assert.Equal(t, "W-1", updated.SKU)

	_, err = m.UpdateProduct(ctx, "s1", p.ID, ProductPatch{Name: ptr("")})
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, m.DeleteProduct(ctx, "s1", p.ID))
	assert.ErrorIs(t, m.DeleteProduct(ctx, "s1", p.ID), ErrNotFound)
}

func TestPurchaseOrderStatusFlow(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	vendor, err := m.CreateVendor(ctx, "s1", VendorInput{Name: "Acme"})
	require.NoError(t, err)

	_, err = m.CreatePurchaseOrder(ctx, "s1", PurchaseOrderInput{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	po, err := m.CreatePurchaseOrder(ctx, "s1", PurchaseOrderInput{VendorID: vendor.ID, TotalCents: 5000, Notes: "rush"})
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, po.Status)

	po, err = m.UpdatePurchaseOrder(ctx, "s1", po.ID, PurchaseOrderPatch{TotalCents: ptr(int64(6000))})
	require.NoError(t, err)
	assert.Equal(t, int64(6000), po.TotalCents)

	_, err = m.UpdatePurchaseOrderStatus(ctx, "s1", po.ID, "shipped")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = m.UpdatePurchaseOrderStatus(ctx, "s1", po.ID, StatusReceived)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	po, err = m.UpdatePurchaseOrderStatus(ctx, "s1", po.ID, "Submitted")
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, po.Status)

	_, err = m.UpdatePurchaseOrder(ctx, "s1", po.ID, PurchaseOrderPatch{Notes: ptr("too late")})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	po, err = m.UpdatePurchaseOrderStatus(ctx, "s1", po.ID, StatusReceived)
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, po.Status)

	_, err = m.UpdatePurchaseOrderStatus(ctx, "s1", po.ID, StatusCancelled)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := m.GetPurchaseOrder(ctx, "s1", po.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, stored.Status)

	_, err = m.UpdatePurchaseOrderStatus(ctx, "s2", po.ID, StatusCancelled)
	assert.ErrorIs(t, err, ErrNotFound)
}

type failingBackend struct {
	backend.Backend
}

func (failingBackend) Select(ctx context.Context, table string, q backend.Query, dest any) error {
	return &backend.Error{Status: http.StatusUnauthorized, Message: "JWT expired"}
}

func TestBackendErrorsAreWrapped(t *testing.T) {
	m := NewManager(NewDatastore(failingBackend{}))

	_, err := m.GetVendor(context.Background(), "s1", "v1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))

	apiErr, ok := backend.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "JWT expired", apiErr.Message)
}
