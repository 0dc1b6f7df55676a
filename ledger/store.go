// Package ledger holds fulfilled and historical purchase receipts, keyed by
// receipt id with insert-if-absent semantics. A receipt id already present is
// never overwritten; this is what lets consumers treat crash-recovery
// duplicates as already handled.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/zuko/billingz/product"
	"github.com/zuko/billingz/query"
)

var (
	ErrExists   = errors.New("receipt already exists")
	ErrNotFound = errors.New("receipt not found")
)

// Receipt is a vendor-issued proof of a completed or historical purchase.
// Immutable once created from a vendor record.
type Receipt struct {
	ID           string
	SKU          string
	UserID       string
	Marketplace  string
	Canceled     bool
	ProductType  product.Type
	PurchaseDate time.Time
}

func (r *Receipt) Clone() *Receipt {
	clone := *r
	return &clone
}

type Store interface {
	// InsertReceipt records the receipt if its id is absent. Returns
	// ErrExists when the id is already present; the stored receipt is left
	// untouched.
	InsertReceipt(ctx context.Context, receipt *Receipt) error

	// GetReceipt returns the receipt for the id, or ErrNotFound.
	GetReceipt(ctx context.Context, id string) (*Receipt, error)

	// ListReceipts returns a snapshot of stored receipts, filtered and
	// limited per the options, ordered by purchase date ascending.
	ListReceipts(ctx context.Context, opts ...query.Option) ([]*Receipt, error)
}
