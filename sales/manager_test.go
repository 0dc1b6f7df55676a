package sales

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zuko/billingz/gateway"
	"github.com/zuko/billingz/ledger"
	ledgermemory "github.com/zuko/billingz/ledger/memory"
	"github.com/zuko/billingz/platform"
	platmemory "github.com/zuko/billingz/platform/memory"
	"github.com/zuko/billingz/product"
)

type testEnv struct {
	manager   *Manager
	adapter   *platmemory.Adapter
	gateway   *gateway.Gateway
	inventory *product.Inventory
	receipts  ledger.Store
	updater   *recordingUpdater
}

// setup builds a manager on the in-process adapter with the gateway already
// connected. The recording updater is registered unless the options replace
// it.
func setup(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	adapter := platmemory.NewAdapter()
	gw := gateway.New(nil, adapter, gateway.WithRetryDelay(10*time.Millisecond))
	t.Cleanup(gw.Destroy)

	inventory := product.NewInventory(nil)
	receipts := ledgermemory.NewInMemory()
	updater := &recordingUpdater{}

	opts = append([]Option{WithUpdater(updater)}, opts...)
	m := NewManager(nil, adapter, gw, inventory, receipts, opts...)
	t.Cleanup(m.Destroy)

	ready, cancel := gw.ReadyUpdates().Subscribe(2)
	defer cancel()
	gw.Connect()
	recv(t, ready)

	return &testEnv{
		manager:   m,
		adapter:   adapter,
		gateway:   gw,
		inventory: inventory,
		receipts:  receipts,
		updater:   updater,
	}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		var zero T
		return zero
	}
}

func recvTerminal(t *testing.T, ch <-chan *Order) *Order {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case order := <-ch:
			if order.State.Terminal() {
				return order
			}
		case <-deadline:
			t.Fatal("timed out waiting for terminal order")
		}
	}
}

func requireNoEvent[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case v := <-ch:
		t.Fatalf("unexpected event: %v", v)
	case <-time.After(100 * time.Millisecond):
	}
}

type approveValidator struct{}

func (approveValidator) Validate(order *Order, callback ValidatorCallback) {
	callback.Validated(order)
}

type rejectValidator struct{}

func (rejectValidator) Validate(order *Order, callback ValidatorCallback) {
	callback.Invalidated(order)
}

// lateCancelValidator approves the order but flips the receipt to canceled
// first, as a vendor-side refund landing between validation and completion
// would.
type lateCancelValidator struct{}

func (lateCancelValidator) Validate(order *Order, callback ValidatorCallback) {
	order.Receipt.Canceled = true
	callback.Validated(order)
}

type panicValidator struct{}

func (panicValidator) Validate(order *Order, callback ValidatorCallback) {
	panic("validator backend unreachable")
}

type recordingUpdater struct {
	mu        sync.Mutex
	completed []*ledger.Receipt
	failed    []*Order
	resumed   []*Order

	// onResume, when set, decides what to do with a resumed order.
	onResume func(order *Order, callback UpdaterCallback)
}

func (u *recordingUpdater) OnComplete(receipt *ledger.Receipt) {
	u.mu.Lock()
	u.completed = append(u.completed, receipt)
	u.mu.Unlock()
}

func (u *recordingUpdater) OnFailure(order *Order) {
	u.mu.Lock()
	u.failed = append(u.failed, order)
	u.mu.Unlock()
}

func (u *recordingUpdater) OnResume(order *Order, callback UpdaterCallback) {
	u.mu.Lock()
	u.resumed = append(u.resumed, order)
	fn := u.onResume
	u.mu.Unlock()

	if fn != nil {
		fn(order, callback)
	}
}

func (u *recordingUpdater) completedCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.completed)
}

func (u *recordingUpdater) failedCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.failed)
}

func consumableProduct(sku string) *product.Product {
	return &product.Product{SKU: sku, Type: product.TypeConsumable}
}

func TestManager_StartOrder_HappyPath(t *testing.T) {
	env := setup(t, WithValidator(approveValidator{}))

	env.adapter.ScriptPurchase("gold.coins.100", platform.StatusSuccessful, &platform.Receipt{
		ReceiptID:    "receipt-42",
		SKU:          "gold.coins.100",
		ProductType:  product.TypeConsumable,
		PurchaseDate: time.Now(),
	})

	orders, cancelOrders := env.manager.CurrentOrder().Subscribe(4)
	defer cancelOrders()
	fulfillments, cancelReceipts := env.manager.CurrentReceipt().Subscribe(4)
	defer cancelReceipts()

	started := env.manager.StartOrder(context.Background(), consumableProduct("gold.coins.100"))
	require.False(t, started.RequestID.IsZero())

	order := recvTerminal(t, orders)
	require.Equal(t, StateComplete, order.State)
	require.Equal(t, ResultSuccess, order.Result)
	require.Equal(t, "gold.coins.100", order.SKU())

	receipt := recv(t, fulfillments)
	require.Equal(t, "receipt-42", receipt.ID)
	require.Equal(t, "gold.coins.100", receipt.SKU)
	requireNoEvent(t, fulfillments)

	// The receipt was acknowledged with the vendor and folded into the
	// ledger exactly once.
	require.Equal(t, []bool{true}, env.adapter.FulfillmentCalls("receipt-42"))

	stored, err := env.receipts.GetReceipt(context.Background(), "receipt-42")
	require.NoError(t, err)
	require.Equal(t, "gold.coins.100", stored.SKU)

	require.Equal(t, 1, env.updater.completedCount())
	require.Equal(t, 0, env.updater.failedCount())
}

func TestManager_StartOrder_NilProduct(t *testing.T) {
	env := setup(t)

	order := env.manager.StartOrder(context.Background(), nil)
	require.Equal(t, StateFailed, order.State)
	require.Equal(t, ResultInvalidProduct, order.Result)
	require.Zero(t, env.adapter.PurchaseCalls())
}

func TestManager_StartOrder_UnavailableSKU(t *testing.T) {
	env := setup(t)

	env.inventory.Merge([]*product.Product{consumableProduct("gone.sku")}, product.TypeConsumable)
	env.inventory.SetUnavailable([]string{"gone.sku"})

	order := env.manager.StartOrder(context.Background(), consumableProduct("gone.sku"))
	require.Equal(t, StateFailed, order.State)
	require.Equal(t, ResultInvalidProduct, order.Result)

	// The vendor is never consulted for a rejected SKU.
	require.Zero(t, env.adapter.PurchaseCalls())
	require.Equal(t, 1, env.updater.failedCount())
}

func TestManager_StartOrder_NotReady(t *testing.T) {
	adapter := platmemory.NewAdapter()
	gw := gateway.New(nil, adapter)
	t.Cleanup(gw.Destroy)

	m := NewManager(nil, adapter, gw, product.NewInventory(nil), ledgermemory.NewInMemory())
	t.Cleanup(m.Destroy)

	order := m.StartOrder(context.Background(), consumableProduct("gold.coins.100"))
	require.Equal(t, StateFailed, order.State)
	require.Equal(t, ResultError, order.Result)
	require.Zero(t, adapter.PurchaseCalls())
}

func TestManager_PurchaseFailureStatuses(t *testing.T) {
	for _, tc := range []struct {
		status   platform.Status
		expected Result
	}{
		{platform.StatusFailed, ResultError},
		{platform.StatusAlreadyPurchased, ResultProductAlreadyOwned},
		{platform.StatusInvalidSKU, ResultInvalidProduct},
		{platform.StatusNotSupported, ResultNotSupported},
	} {
		t.Run(tc.status.String(), func(t *testing.T) {
			env := setup(t, WithValidator(approveValidator{}))
			env.adapter.ScriptPurchase("gold.coins.100", tc.status, nil)

			orders, cancel := env.manager.CurrentOrder().Subscribe(4)
			defer cancel()

			env.manager.StartOrder(context.Background(), consumableProduct("gold.coins.100"))

			order := recvTerminal(t, orders)
			require.Equal(t, StateFailed, order.State)
			require.Equal(t, tc.expected, order.Result)
			require.Equal(t, 1, env.updater.failedCount())
		})
	}
}

func TestManager_UnknownStatusStallsOrder(t *testing.T) {
	env := setup(t, WithValidator(approveValidator{}))
	env.adapter.ScriptPurchase("gold.coins.100", platform.Status(200), nil)

	orders, cancel := env.manager.CurrentOrder().Subscribe(4)
	defer cancel()

	env.manager.StartOrder(context.Background(), consumableProduct("gold.coins.100"))

	// An unrecognized status produces no transition.
	requireNoEvent(t, orders)
	require.Equal(t, 0, env.updater.failedCount())
	require.Equal(t, 0, env.updater.completedCount())
}

func TestManager_CanceledReceiptCancelsOrder(t *testing.T) {
	env := setup(t, WithValidator(approveValidator{}))

	env.adapter.ScriptPurchase("gold.coins.100", platform.StatusSuccessful, &platform.Receipt{
		ReceiptID:    "receipt-canceled",
		SKU:          "gold.coins.100",
		ProductType:  product.TypeConsumable,
		Canceled:     true,
		PurchaseDate: time.Now(),
		CancelDate:   time.Now(),
	})

	orders, cancel := env.manager.CurrentOrder().Subscribe(4)
	defer cancel()

	env.manager.StartOrder(context.Background(), consumableProduct("gold.coins.100"))

	order := recvTerminal(t, orders)
	require.Equal(t, StateCanceled, order.State)

	// Cancellation is negatively acknowledged, never fulfilled.
	require.Equal(t, []bool{false}, env.adapter.FulfillmentCalls("receipt-canceled"))
	require.Equal(t, 1, env.updater.failedCount())
	require.Equal(t, 0, env.updater.completedCount())
}

func TestManager_ReceiptCanceledAfterValidationCancelsOrder(t *testing.T) {
	env := setup(t, WithValidator(lateCancelValidator{}))

	// Not canceled when validation starts; the validator flips it before
	// approving, so completion must re-check and cancel.
	env.adapter.ScriptPurchase("gold.coins.100", platform.StatusSuccessful, &platform.Receipt{
		ReceiptID:    "receipt-late-cancel",
		SKU:          "gold.coins.100",
		ProductType:  product.TypeConsumable,
		PurchaseDate: time.Now(),
	})

	orders, cancel := env.manager.CurrentOrder().Subscribe(4)
	defer cancel()

	env.manager.StartOrder(context.Background(), consumableProduct("gold.coins.100"))

	order := recvTerminal(t, orders)
	require.Equal(t, StateCanceled, order.State)

	require.Equal(t, []bool{false}, env.adapter.FulfillmentCalls("receipt-late-cancel"))
	require.Equal(t, 1, env.updater.failedCount())
	require.Equal(t, 0, env.updater.completedCount())

	// The revoked receipt never reaches the ledger.
	_, err := env.receipts.GetReceipt(context.Background(), "receipt-late-cancel")
	require.Equal(t, ledger.ErrNotFound, err)
}

func TestManager_InvalidatedOrderIsCanceled(t *testing.T) {
	env := setup(t, WithValidator(rejectValidator{}))

	orders, cancel := env.manager.CurrentOrder().Subscribe(4)
	defer cancel()

	env.manager.StartOrder(context.Background(), consumableProduct("gold.coins.100"))

	order := recvTerminal(t, orders)
	require.Equal(t, StateCanceled, order.State)
	require.Equal(t, 1, env.updater.failedCount())
}

func TestManager_ValidatorPanicFailsOrder(t *testing.T) {
	env := setup(t, WithValidator(panicValidator{}))

	orders, cancel := env.manager.CurrentOrder().Subscribe(4)
	defer cancel()

	env.manager.StartOrder(context.Background(), consumableProduct("gold.coins.100"))

	order := recvTerminal(t, orders)
	require.Equal(t, StateFailed, order.State)
	require.Equal(t, 1, env.updater.failedCount())
}

func TestManager_MissingValidatorStallsOrder(t *testing.T) {
	env := setup(t)

	orders, cancel := env.manager.CurrentOrder().Subscribe(4)
	defer cancel()

	env.manager.StartOrder(context.Background(), consumableProduct("gold.coins.100"))

	// Without a validator the order stalls in validation rather than
	// failing.
	requireNoEvent(t, orders)
}

func TestManager_DestroyIdempotent(t *testing.T) {
	env := setup(t)

	env.manager.Destroy()
	env.manager.Destroy()

	// Responses arriving after destroy are dropped without panicking.
	env.adapter.ScriptPurchase("gold.coins.100", platform.StatusSuccessful, nil)
	env.manager.StartOrder(context.Background(), consumableProduct("gold.coins.100"))
	time.Sleep(50 * time.Millisecond)
}
