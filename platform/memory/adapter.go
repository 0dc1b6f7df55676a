// Package memory provides an in-process platform adapter with scriptable
// behavior for tests and local development.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zuko/billingz/model"
	"github.com/zuko/billingz/platform"
	"github.com/zuko/billingz/product"
)

var errNotConnected = errors.New("billing service not connected")

// Adapter is a deterministic stand-in for a vendor IAP SDK. Responses are
// delivered asynchronously on their own goroutines, mirroring the real SDKs'
// callback threading.
type Adapter struct {
	mu sync.Mutex

	connected   bool
	invalidated bool
	failConnect int

	stateListener platform.StateListener
	purchases     platform.PurchasesListener

	results  map[string]*scriptedResult
	pages    []*platform.PurchaseUpdatesResponse
	userData platform.UserData

	fulfillments  map[string][]bool
	purchaseCalls int
	updatesCalls  int
}

type scriptedResult struct {
	status  platform.Status
	receipt *platform.Receipt
}

func NewAdapter() *Adapter {
	return &Adapter{
		results:      make(map[string]*scriptedResult),
		fulfillments: make(map[string][]bool),
		userData:     platform.UserData{UserID: "memory-user", Marketplace: "memory"},
	}
}

// ScriptPurchase fixes the outcome of the next Purchase calls for sku.
func (a *Adapter) ScriptPurchase(sku string, status platform.Status, receipt *platform.Receipt) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.results[sku] = &scriptedResult{status: status, receipt: receipt}
}

// EnqueueUpdatesPage appends a page returned by a future PurchaseUpdates
// call. Pages are consumed in order, one per call.
func (a *Adapter) EnqueueUpdatesPage(page *platform.PurchaseUpdatesResponse) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pages = append(a.pages, page)
}

// FailNextConnects makes the next n StartConnection attempts report an error.
func (a *Adapter) FailNextConnects(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.failConnect = n
}

// DropConnection simulates a vendor-initiated disconnect.
func (a *Adapter) DropConnection() {
	a.mu.Lock()
	a.connected = false
	l := a.stateListener
	a.mu.Unlock()

	if l != nil {
		go l.OnDisconnected()
	}
}

// Invalidate marks the underlying handle unusable without a disconnect
// callback, as an externally invalidated vendor handle would be.
func (a *Adapter) Invalidate() {
	a.mu.Lock()
	a.invalidated = true
	a.mu.Unlock()
}

// PurchaseCalls returns how many times Purchase was invoked.
func (a *Adapter) PurchaseCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.purchaseCalls
}

// UpdatesCalls returns how many times PurchaseUpdates was invoked.
func (a *Adapter) UpdatesCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.updatesCalls
}

// FulfillmentCalls returns the recorded acknowledge flags for a receipt id.
func (a *Adapter) FulfillmentCalls(receiptID string) []bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]bool, len(a.fulfillments[receiptID]))
	copy(out, a.fulfillments[receiptID])
	return out
}

func (a *Adapter) SetPurchasesListener(l platform.PurchasesListener) {
	a.mu.Lock()
	a.purchases = l
	a.mu.Unlock()
}

func (a *Adapter) StartConnection(ctx context.Context, l platform.StateListener) {
	a.mu.Lock()
	a.stateListener = l
	fail := a.failConnect > 0
	if fail {
		a.failConnect--
	} else {
		a.connected = true
		a.invalidated = false
	}
	a.mu.Unlock()

	go func() {
		if fail {
			l.OnSetupFinished(errors.New("memory billing service unavailable"))
			return
		}
		l.OnSetupFinished(nil)
	}()
}

func (a *Adapter) EndConnection() {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
}

func (a *Adapter) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.connected && !a.invalidated
}

func (a *Adapter) Purchase(ctx context.Context, sku string) (model.RequestID, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return "", errNotConnected
	}

	a.purchaseCalls++
	id := model.MustGenerateRequestID()
	scripted := a.results[sku]
	listener := a.purchases
	userData := a.userData
	a.mu.Unlock()

	resp := &platform.PurchaseResponse{
		RequestID: id,
		Status:    platform.StatusSuccessful,
		SKU:       sku,
		UserData:  userData,
	}
	if scripted != nil {
		resp.Status = scripted.status
		resp.Receipt = scripted.receipt
	}
	if resp.Status == platform.StatusSuccessful && resp.Receipt == nil {
		resp.Receipt = &platform.Receipt{
			ReceiptID:    "receipt-" + string(id),
			SKU:          sku,
			ProductType:  product.TypeConsumable,
			PurchaseDate: time.Now(),
		}
	}
	resp.Raw, _ = json.Marshal(resp)

	if listener != nil {
		go listener.OnPurchaseResponse(resp)
	}

	return id, nil
}

func (a *Adapter) PurchaseUpdates(ctx context.Context, reset bool) (model.RequestID, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return "", errNotConnected
	}

	a.updatesCalls++
	id := model.MustGenerateRequestID()
	listener := a.purchases

	var page *platform.PurchaseUpdatesResponse
	if len(a.pages) > 0 {
		page = a.pages[0]
		a.pages = a.pages[1:]
	} else {
		page = &platform.PurchaseUpdatesResponse{
			Status:   platform.StatusSuccessful,
			UserData: a.userData,
		}
	}
	a.mu.Unlock()

	page.RequestID = id
	if page.UserData == (platform.UserData{}) {
		page.UserData = a.userData
	}
	if page.Raw == nil {
		page.Raw, _ = json.Marshal(page)
	}

	if listener != nil {
		go listener.OnPurchaseUpdatesResponse(page)
	}

	return id, nil
}

func (a *Adapter) NotifyFulfillment(ctx context.Context, receiptID string, fulfilled bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return errNotConnected
	}

	a.fulfillments[receiptID] = append(a.fulfillments[receiptID], fulfilled)
	return nil
}
