// Package sales is the order reconciliation core. It converts raw platform
// purchase events into Orders, drives them through validation, completion,
// cancellation or failure, deduplicates receipts against the ledger, and
// notifies the registered collaborators at every terminal or resumable point.
package sales

import (
	"time"

	"github.com/zuko/billingz/ledger"
	"github.com/zuko/billingz/model"
	"github.com/zuko/billingz/platform"
	"github.com/zuko/billingz/product"
)

// Result classifies how the vendor resolved a purchase request.
type Result uint8

const (
	ResultUnknown Result = iota
	ResultSuccess
	ResultError
	ResultProductAlreadyOwned
	ResultInvalidProduct
	ResultNotSupported
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultError:
		return "error"
	case ResultProductAlreadyOwned:
		return "product_already_owned"
	case ResultInvalidProduct:
		return "invalid_product"
	case ResultNotSupported:
		return "not_supported"
	default:
		return "unknown"
	}
}

// State is an order's position in the reconciliation lifecycle.
type State uint8

const (
	StateCreated State = iota
	StateValidating
	StateComplete
	StateCanceled
	StateFailed
)

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateCanceled || s == StateFailed
}

func (s State) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StateComplete:
		return "complete"
	case StateCanceled:
		return "canceled"
	case StateFailed:
		return "failed"
	default:
		return "created"
	}
}

// Order is one purchase attempt in flight. Created when a purchase is
// initiated or discovered via a history query; mutated only by the Manager;
// folded into the receipt ledger once complete.
type Order struct {
	ID        string
	RequestID model.RequestID
	Product   *product.Product
	Result    Result
	State     State
	Message   string
	UserData  platform.UserData
	Receipt   *platform.Receipt
	CreatedAt time.Time

	// Raw is the vendor response payload, opaque to the core beyond what
	// drives state transitions.
	Raw []byte
}

// SKU returns the product identifier for the order, falling back to the raw
// receipt when no catalog product is attached.
func (o *Order) SKU() string {
	if o.Product != nil {
		return o.Product.SKU
	}
	if o.Receipt != nil {
		return o.Receipt.SKU
	}
	return ""
}

// ValidatorCallback receives the verdict of a Validator.
type ValidatorCallback interface {
	// Validated continues the order toward completion.
	Validated(order *Order)

	// Invalidated cancels the order, e.g. when it was fulfilled already or
	// the sku is no longer available.
	Invalidated(order *Order)
}

// Validator is supplied by the application to verify a purchase with its own
// backend before the order is finalized. Invoked exactly once per order
// entering validation.
type Validator interface {
	Validate(order *Order, callback ValidatorCallback)
}

// UpdaterCallback finalizes an order surfaced through Updater.OnResume.
type UpdaterCallback interface {
	Complete(order *Order)
	Cancel(order *Order)
}

// Updater is supplied by the application and notified on every terminal
// transition. OnResume surfaces queried orders that still require action,
// e.g. purchases made on another device or finished while the app was in the
// background.
type Updater interface {
	OnComplete(receipt *ledger.Receipt)
	OnFailure(order *Order)
	OnResume(order *Order, callback UpdaterCallback)
}

// convertPurchaseStatus maps purchase-response statuses onto Results.
func convertPurchaseStatus(status platform.Status) Result {
	switch status {
	case platform.StatusSuccessful:
		return ResultSuccess
	case platform.StatusFailed:
		return ResultError
	case platform.StatusAlreadyPurchased:
		return ResultProductAlreadyOwned
	case platform.StatusInvalidSKU:
		return ResultInvalidProduct
	case platform.StatusNotSupported:
		return ResultNotSupported
	default:
		return ResultUnknown
	}
}

// convertPurchaseUpdatesStatus is the parallel table for the
// purchase-updates response path.
func convertPurchaseUpdatesStatus(status platform.Status) Result {
	switch status {
	case platform.StatusSuccessful:
		return ResultSuccess
	case platform.StatusFailed:
		return ResultError
	case platform.StatusNotSupported:
		return ResultNotSupported
	default:
		return ResultUnknown
	}
}
