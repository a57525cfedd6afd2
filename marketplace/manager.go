package marketplace

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fortressi/sellerhub/backend"
)

// Domain errors returned by the Manager.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Manager handles marketplace business logic.
// It validates input and translates datastore errors to domain errors.
type Manager struct {
	ds  *Datastore
	now func() time.Time
}

// NewManager creates a new marketplace manager.
func NewManager(ds *Datastore) *Manager {
	return &Manager{ds: ds, now: time.Now}
}

func (m *Manager) timestamp() *time.Time {
	t := m.now().UTC()
	return &t
}

func notFound(err error, what string) error {
	if errors.Is(err, backend.ErrNoRows) {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

// Account returns the profile of userID and whether it is a seller.
func (m *Manager) Account(ctx context.Context, userID string) (*Account, error) {
	profile, err := m.ds.GetProfile(ctx, userID)
	if err != nil {
		return nil, notFound(err, "profile")
	}

	_, err = m.ds.GetSeller(ctx, userID)
	switch {
	case err == nil:
		return &Account{Profile: profile, IsSeller: true}, nil
	case errors.Is(err, backend.ErrNoRows):
		return &Account{Profile: profile}, nil
	default:
		return nil, fmt.Errorf("failed to get seller: %w", err)
	}
}

func (m *Manager) ListVendors(ctx context.Context, sellerID string) ([]Vendor, error) {
	vendors, err := m.ds.ListVendors(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list vendors: %w", err)
	}
	return vendors, nil
}

func (m *Manager) GetVendor(ctx context.Context, sellerID, id string) (*Vendor, error) {
	v, err := m.ds.GetVendor(ctx, sellerID, id)
	if err != nil {
		return nil, notFound(err, "vendor")
	}
	return v, nil
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func (m *Manager) CreateVendor(ctx context.Context, sellerID string, in VendorInput) (*Vendor, error) {
	v := &Vendor{
		ID:        uuid.NewString(),
		SellerID:  sellerID,
		Name:      strings.TrimSpace(in.Name),
		Email:     strings.TrimSpace(in.Email),
		Phone:     strings.TrimSpace(in.Phone),
		CreatedAt: m.timestamp(),
	}
	if v.Name == "" {
		return nil, invalid("vendor name is required")
	}
	if v.Email != "" && !validEmail(v.Email) {
		return nil, invalid("vendor email %q is not valid", v.Email)
	}

	if err := m.ds.InsertVendor(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to create vendor: %w", err)
	}
	return v, nil
}

func (m *Manager) UpdateVendor(ctx context.Context, sellerID, id string, patch VendorPatch) (*Vendor, error) {
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, invalid("vendor name cannot be empty")
		}
		patch.Name = &name
	}
	if patch.Email != nil {
		email := strings.TrimSpace(*patch.Email)
		if email != "" && !validEmail(email) {
			return nil, invalid("vendor email %q is not valid", email)
		}
		patch.Email = &email
	}
	if patch == (VendorPatch{}) {
		return nil, invalid("nothing to update")
	}

	n, err := m.ds.UpdateVendor(ctx, sellerID, id, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update vendor: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("vendor %w", ErrNotFound)
	}
	return m.GetVendor(ctx, sellerID, id)
}

func (m *Manager) DeleteVendor(ctx context.Context, sellerID, id string) error {
	n, err := m.ds.DeleteVendor(ctx, sellerID, id)
	if err != nil {
		return fmt.Errorf("failed to delete vendor: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("vendor %w", ErrNotFound)
	}
	return nil
}

func (m *Manager) ListProducts(ctx context.Context, sellerID string) ([]Product, error) {
	products, err := m.ds.ListProducts(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

func (m *Manager) GetProduct(ctx context.Context, sellerID, id string) (*Product, error) {
	p, err := m.ds.GetProduct(ctx, sellerID, id)
	if err != nil {
		return nil, notFound(err, "product")
	}
	return p, nil
}

// checkVendor makes sure vendorID belongs to the seller.
func (m *Manager) checkVendor(ctx context.Context, sellerID, vendorID string) error {
	if _, err := m.GetVendor(ctx, sellerID, vendorID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return invalid("unknown vendor %q", vendorID)
		}
		return err
	}
	return nil
}

func (m *Manager) CreateProduct(ctx context.Context, sellerID string, in ProductInput) (*Product, error) {
	p := &Product{
		ID:         uuid.NewString(),
		SellerID:   sellerID,
		VendorID:   strings.TrimSpace(in.VendorID),
		Name:       strings.TrimSpace(in.Name),
		SKU:        strings.TrimSpace(in.SKU),
		PriceCents: in.PriceCents,
		Stock:      in.Stock,
		CreatedAt:  m.timestamp(),
	}
	if p.Name == "" {
		return nil, invalid("product name is required")
	}
	if p.PriceCents < 0 {
		return nil, invalid("price cannot be negative")
	}
	if p.Stock < 0 {
		return nil, invalid("stock cannot be negative")
	}
	if p.VendorID != "" {
		if err := m.checkVendor(ctx, sellerID, p.VendorID); err != nil {
			return nil, err
		}
	}

	if err := m.ds.InsertProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}
	return p, nil
}

func (m *Manager) UpdateProduct(ctx context.Context, sellerID, id string, patch ProductPatch) (*Product, error) {
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, invalid("product name cannot be empty")
		}
		patch.Name = &name
	}
	if patch.PriceCents != nil && *patch.PriceCents < 0 {
		return nil, invalid("price cannot be negative")
	}
	if patch.Stock != nil && *patch.Stock < 0 {
		return nil, invalid("stock cannot be negative")
	}
	if patch.VendorID != nil && *patch.VendorID != "" {
		if err := m.checkVendor(ctx, sellerID, *patch.VendorID); err != nil {
			return nil, err
		}
	}
	if patch == (ProductPatch{}) {
		return nil, invalid("nothing to update")
	}

	n, err := m.ds.UpdateProduct(ctx, sellerID, id, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("product %w", ErrNotFound)
	}
	return m.GetProduct(ctx, sellerID, id)
}

func (m *Manager) DeleteProduct(ctx context.Context, sellerID, id string) error {
	n, err := m.ds.DeleteProduct(ctx, sellerID, id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("product %w", ErrNotFound)
	}
	return nil
}

func (m *Manager) ListPurchaseOrders(ctx context.Context, sellerID string) ([]PurchaseOrder, error) {
	orders, err := m.ds.ListPurchaseOrders(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchase orders: %w", err)
	}
	return orders, nil
}

func (m *Manager) GetPurchaseOrder(ctx context.Context, sellerID, id string) (*PurchaseOrder, error) {
	po, err := m.ds.GetPurchaseOrder(ctx, sellerID, id)
	if err != nil {
		return nil, notFound(err, "purchase order")
	}
	return po, nil
}

// CreatePurchaseOrder creates a draft order with one of the seller's vendors.
func (m *Manager) CreatePurchaseOrder(ctx context.Context, sellerID string, in PurchaseOrderInput) (*PurchaseOrder, error) {
	po := &PurchaseOrder{
		ID:         uuid.NewString(),
		SellerID:   sellerID,
		VendorID:   strings.TrimSpace(in.VendorID),
		Status:     StatusDraft,
		TotalCents: in.TotalCents,
		Notes:      strings.TrimSpace(in.Notes),
		CreatedAt:  m.timestamp(),
	}
	if po.VendorID == "" {
		return nil, invalid("vendor_id is required")
	}
	if po.TotalCents < 0 {
		return nil, invalid("total cannot be negative")
	}
	if err := m.checkVendor(ctx, sellerID, po.VendorID); err != nil {
		return nil, err
	}

	if err := m.ds.InsertPurchaseOrder(ctx, po); err != nil {
		return nil, fmt.Errorf("failed to create purchase order: %w", err)
	}
	return po, nil
}

// UpdatePurchaseOrder edits a draft order.
func (m *Manager) UpdatePurchaseOrder(ctx context.Context, sellerID, id string, patch PurchaseOrderPatch) (*PurchaseOrder, error) {
	if patch.TotalCents != nil && *patch.TotalCents < 0 {
		return nil, invalid("total cannot be negative")
	}
	if patch.Notes != nil {
		notes := strings.TrimSpace(*patch.Notes)
		patch.Notes = &notes
	}
	if patch == (PurchaseOrderPatch{}) {
		return nil, invalid("nothing to update")
	}

	po, err := m.GetPurchaseOrder(ctx, sellerID, id)
	if err != nil {
		return nil, err
	}
	if po.Status != StatusDraft {
		return nil, fmt.Errorf("%w: only draft orders can be edited (order is %s)", ErrInvalidTransition, po.Status)
	}

	n, err := m.ds.UpdatePurchaseOrder(ctx, sellerID, id, StatusDraft, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update purchase order: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: order changed status concurrently", ErrInvalidTransition)
	}
	return m.GetPurchaseOrder(ctx, sellerID, id)
}

// UpdatePurchaseOrderStatus moves an order along draft → submitted →
// received, or to cancelled from either open status.
func (m *Manager) UpdatePurchaseOrderStatus(ctx context.Context, sellerID, id, status string) (*PurchaseOrder, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if _, known := statusTransitions[status]; !known {
		return nil, invalid("unknown status %q", status)
	}

	po, err := m.GetPurchaseOrder(ctx, sellerID, id)
	if err != nil {
		return nil, err
	}
	if po.Status == status {
		return po, nil
	}
	if !slices.Contains(statusTransitions[po.Status], status) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, po.Status, status)
	}

	n, err := m.ds.UpdatePurchaseOrder(ctx, sellerID, id, po.Status, map[string]string{"status": status})
	if err != nil {
		return nil, fmt.Errorf("failed to update purchase order status: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: order changed status concurrently", ErrInvalidTransition)
	}
	po.Status = status
	return po, nil
}

func (m *Manager) DeletePurchaseOrder(ctx context.Context, sellerID, id string) error {
	n, err := m.ds.DeletePurchaseOrder(ctx, sellerID, id)
	if err != nil {
		return fmt.Errorf("failed to delete purchase order: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("purchase order %w", ErrNotFound)
	}
	return nil
}
