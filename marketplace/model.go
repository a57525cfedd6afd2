package marketplace

import (
	"time"
)

// Profile is the application record for an identity.
type Profile struct {
	ID          string     `json:"id"`
	Role        string     `json:"role"`
	FullName    string     `json:"full_name"`
	CompanyName string     `json:"company_name"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

// Seller marks an identity as a seller.
type Seller struct {
	ID        string     `json:"id"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// Account is what the signed-in user sees about themselves.
type Account struct {
	Profile  *Profile `json:"profile"`
	IsSeller bool     `json:"is_seller"`
}

// Vendor is a supplier a seller buys stock from.
type Vendor struct {
	ID        string     `json:"id"`
	SellerID  string     `json:"seller_id"`
	Name      string     `json:"name"`
	Email     string     `json:"email,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

type VendorInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// VendorPatch changes the non-nil fields of a vendor.
type VendorPatch struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

// Product is an item a seller lists.
type Product struct {
	ID         string     `json:"id"`
	SellerID   string     `json:"seller_id"`
	VendorID   string     `json:"vendor_id,omitempty"`
	Name       string     `json:"name"`
	SKU        string     `json:"sku,omitempty"`
	PriceCents int64      `json:"price_cents"`
	Stock      int        `json:"stock"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

type ProductInput struct {
	VendorID   string `json:"vendor_id"`
	Name       string `json:"name"`
	SKU        string `json:"sku"`
	PriceCents int64  `json:"price_cents"`
	Stock      int    `json:"stock"`
}

// ProductPatch changes the non-nil fields of a product.
type ProductPatch struct {
	VendorID   *string `json:"vendor_id,omitempty"`
	Name       *string `json:"name,omitempty"`
	SKU        *string `json:"sku,omitempty"`
	PriceCents *int64  `json:"price_cents,omitempty"`
	Stock      *int    `json:"stock,omitempty"`
}

// Purchase order statuses.
const (
	StatusDraft     = "draft"
	StatusSubmitted = "submitted"
	StatusReceived  = "received"
	StatusCancelled = "cancelled"
)

// statusTransitions lists where each status may move next. Received and
// cancelled orders are final.
var statusTransitions = map[string][]string{
	StatusDraft:     {StatusSubmitted, StatusCancelled},
	StatusSubmitted: {StatusReceived, StatusCancelled},
	StatusReceived:  nil,
	StatusCancelled: nil,
}

// PurchaseOrder is an order a seller places with a vendor.
type PurchaseOrder struct {
	ID         string     `json:"id"`
	SellerID   string     `json:"seller_id"`
	VendorID   string     `json:"vendor_id"`
	Status     string     `json:"status"`
	TotalCents int64      `json:"total_cents"`
	Notes      string     `json:"notes,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

type PurchaseOrderInput struct {
	VendorID   string `json:"vendor_id"`
	TotalCents int64  `json:"total_cents"`
	Notes      string `json:"notes"`
}

// PurchaseOrderPatch changes the non-nil fields of a draft order. Status
// changes go through UpdatePurchaseOrderStatus.
type PurchaseOrderPatch struct {
	TotalCents *int64  `json:"total_cents,omitempty"`
	Notes      *string `json:"notes,omitempty"`
}
