// Package platform defines the boundary to a vendor IAP SDK. The core never
// sees vendor wire formats; adapters hand it already-deserialized responses.
package platform

import (
	"context"
	"time"

	"github.com/zuko/billingz/model"
	"github.com/zuko/billingz/product"
)

// Status is the vendor's verdict on a purchase or purchase-updates request.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusSuccessful
	StatusFailed
	StatusAlreadyPurchased
	StatusInvalidSKU
	StatusNotSupported
)

func (s Status) String() string {
	switch s {
	case StatusSuccessful:
		return "SUCCESSFUL"
	case StatusFailed:
		return "FAILED"
	case StatusAlreadyPurchased:
		return "ALREADY_PURCHASED"
	case StatusInvalidSKU:
		return "INVALID_SKU"
	case StatusNotSupported:
		return "NOT_SUPPORTED"
	default:
		return "UNKNOWN"
	}
}

// Receipt is a raw vendor purchase record. A receipt from a purchase-updates
// response does not imply a completed order; canceled and unfulfilled
// purchases arrive as receipts too.
type Receipt struct {
	ReceiptID    string
	SKU          string
	ProductType  product.Type
	Canceled     bool
	PurchaseDate time.Time
	CancelDate   time.Time
}

type UserData struct {
	UserID      string
	Marketplace string
}

type PurchaseResponse struct {
	RequestID model.RequestID
	Status    Status
	SKU       string
	Receipt   *Receipt
	UserData  UserData

	// Raw is the vendor response serialized as JSON, opaque to the core.
	Raw []byte
}

type PurchaseUpdatesResponse struct {
	RequestID model.RequestID
	Status    Status
	Receipts  []*Receipt
	UserData  UserData
	HasMore   bool
	Raw       []byte
}

// StateListener receives connection lifecycle callbacks from the vendor SDK.
// Callbacks arrive on SDK-owned goroutines.
type StateListener interface {
	// OnSetupFinished reports the outcome of StartConnection. A nil error
	// means the vendor acknowledged the connection.
	OnSetupFinished(err error)

	// OnDisconnected reports a vendor-initiated disconnection.
	OnDisconnected()
}

// PurchasesListener receives asynchronous purchase and purchase-updates
// responses. Arrivals are concurrent and unordered with respect to each
// other, even for the same product.
type PurchasesListener interface {
	OnPurchaseResponse(resp *PurchaseResponse)
	OnPurchaseUpdatesResponse(resp *PurchaseUpdatesResponse)
}

// Adapter is implemented once per billing vendor and selected at store
// construction. The reconciliation core is parameterized only by this
// interface and the status mapping tables.
type Adapter interface {
	// StartConnection begins connection setup; the result is reported via l.
	StartConnection(ctx context.Context, l StateListener)

	// EndConnection tears the connection down. Safe to call when not
	// connected.
	EndConnection()

	// Ready reports whether the underlying vendor handle is usable. The
	// handle may be invalidated externally, so callers cannot rely on
	// connection state alone.
	Ready() bool

	// Purchase issues a purchase request for sku and returns the request
	// correlation id.
	Purchase(ctx context.Context, sku string) (model.RequestID, error)

	// PurchaseUpdates issues a purchase-updates query. reset true retrieves
	// the user's entire purchase history; reset false returns a paginated
	// response since the last call.
	PurchaseUpdates(ctx context.Context, reset bool) (model.RequestID, error)

	// NotifyFulfillment acknowledges (or marks unavailable) the receipt with
	// the vendor. Repeated acknowledgment of the same receipt id is not an
	// error.
	NotifyFulfillment(ctx context.Context, receiptID string, fulfilled bool) error

	// SetPurchasesListener registers the receiver for asynchronous purchase
	// responses. Must be called before StartConnection.
	SetPurchasesListener(l PurchasesListener)
}
