package marketplace

import (
	"context"

	"github.com/fortressi/sellerhub/backend"
)

// Datastore handles persistence for marketplace rows.
// It performs only backend calls and returns raw errors.
// Validation and error translation belong in the Manager.
type Datastore struct {
	b backend.Backend
}

// NewDatastore creates a new marketplace datastore.
func NewDatastore(b backend.Backend) *Datastore {
	return &Datastore{b: b}
}

// owned matches one row of a seller.
func owned(sellerID, id string) backend.Query {
	return backend.Eq("id", id).Eq("seller_id", sellerID)
}

func listOwned[R any](ctx context.Context, b backend.Backend, table, sellerID string) ([]R, error) {
	rows := []R{}
	q := backend.Eq("seller_id", sellerID).OrderBy("created_at", true)
	if err := b.Select(ctx, table, q, &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []R{}
	}
	return rows, nil
}

// GetProfile returns backend.ErrNoRows if the identity has no profile.
func (ds *Datastore) GetProfile(ctx context.Context, id string) (*Profile, error) {
	return backend.GetOne[Profile](ctx, ds.b, backend.TableProfiles, backend.Eq("id", id))
}

// GetSeller returns backend.ErrNoRows if the identity is not a seller.
func (ds *Datastore) GetSeller(ctx context.Context, id string) (*Seller, error) {
	return backend.GetOne[Seller](ctx, ds.b, backend.TableSellers, backend.Eq("id", id))
}

func (ds *Datastore) ListVendors(ctx context.Context, sellerID string) ([]Vendor, error) {
	return listOwned[Vendor](ctx, ds.b, backend.TableVendors, sellerID)
}

func (ds *Datastore) GetVendor(ctx context.Context, sellerID, id string) (*Vendor, error) {
	return backend.GetOne[Vendor](ctx, ds.b, backend.TableVendors, owned(sellerID, id))
}

func (ds *Datastore) InsertVendor(ctx context.Context, v *Vendor) error {
	return ds.b.Insert(ctx, backend.TableVendors, v)
}

func (ds *Datastore) UpdateVendor(ctx context.Context, sellerID, id string, patch VendorPatch) (int, error) {
	return ds.b.Update(ctx, backend.TableVendors, owned(sellerID, id), patch)
}

func (ds *Datastore) DeleteVendor(ctx context.Context, sellerID, id string) (int, error) {
	return ds.b.Delete(ctx, backend.TableVendors, owned(sellerID, id))
}

func (ds *Datastore) ListProducts(ctx context.Context, sellerID string) ([]Product, error) {
	return listOwned[Product](ctx, ds.b, backend.TableProducts, sellerID)
}

func (ds *Datastore) GetProduct(ctx context.Context, sellerID, id string) (*Product, error) {
	return backend.GetOne[Product](ctx, ds.b, backend.TableProducts, owned(sellerID, id))
}

func (ds *Datastore) InsertProduct(ctx context.Context, p *Product) error {
	return ds.b.Insert(ctx, backend.TableProducts, p)
}

func (ds *Datastore) UpdateProduct(ctx context.Context, sellerID, id string, patch ProductPatch) (int, error) {
	return ds.b.Update(ctx, backend.TableProducts, owned(sellerID, id), patch)
}

func (ds *Datastore) DeleteProduct(ctx context.Context, sellerID, id string) (int, error) {
	return ds.b.Delete(ctx, backend.TableProducts, owned(sellerID, id))
}

func (ds *Datastore) ListPurchaseOrders(ctx context.Context, sellerID string) ([]PurchaseOrder, error) {
	return listOwned[PurchaseOrder](ctx, ds.b, backend.TablePurchaseOrders, sellerID)
}

func (ds *Datastore) GetPurchaseOrder(ctx context.Context, sellerID, id string) (*PurchaseOrder, error) {
	return backend.GetOne[PurchaseOrder](ctx, ds.b, backend.TablePurchaseOrders, owned(sellerID, id))
}

func (ds *Datastore) InsertPurchaseOrder(ctx context.Context, po *PurchaseOrder) error {
	return ds.b.Insert(ctx, backend.TablePurchaseOrders, po)
}

// UpdatePurchaseOrder applies patch only while the order is still in
// fromStatus, so two concurrent status changes cannot both win.
func (ds *Datastore) UpdatePurchaseOrder(ctx context.Context, sellerID, id, fromStatus string, patch any) (int, error) {
	return ds.b.Update(ctx, backend.TablePurchaseOrders, owned(sellerID, id).Eq("status", fromStatus), patch)
}

func (ds *Datastore) DeletePurchaseOrder(ctx context.Context, sellerID, id string) (int, error) {
	return ds.b.Delete(ctx, backend.TablePurchaseOrders, owned(sellerID, id))
}
