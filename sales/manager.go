package sales

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zuko/billingz/archive"
	"github.com/zuko/billingz/event"
	"github.com/zuko/billingz/gateway"
	"github.com/zuko/billingz/ledger"
	"github.com/zuko/billingz/metrics"
	"github.com/zuko/billingz/model"
	"github.com/zuko/billingz/platform"
	"github.com/zuko/billingz/product"
)

const taskBuffer = 128

// refreshGuard suppresses the one redundant history refresh that immediately
// follows initialization, then stays out of the way.
type refreshGuard uint8

const (
	refreshInitial refreshGuard = iota
	refreshArmed
	refreshSpent
)

type Option func(*Manager)

func WithValidator(v Validator) Option {
	return func(m *Manager) {
		m.validator = v
	}
}

func WithUpdater(u Updater) Option {
	return func(m *Manager) {
		m.updater = u
	}
}

func WithArchive(s archive.Store) Option {
	return func(m *Manager) {
		m.archive = s
	}
}

func WithMetrics(sm *metrics.SalesMetrics) Option {
	return func(m *Manager) {
		m.metrics = sm
	}
}

// Manager drives the order lifecycle:
//
//	created -> validating -> (complete | canceled | failed)
//
// All vendor callbacks are funneled through a single worker goroutine, so
// ledger writes and order transitions are serialized regardless of which
// SDK-owned goroutine a response arrives on.
type Manager struct {
	log       *zap.Logger
	adapter   platform.Adapter
	gateway   *gateway.Gateway
	inventory *product.Inventory
	receipts  ledger.Store
	archive   archive.Store
	metrics   *metrics.SalesMetrics

	validator Validator
	updater   Updater

	tasks     chan func()
	quit      chan struct{}
	destroyed sync.Once

	mu                  sync.Mutex
	pending             map[model.RequestID]*Order
	queriedOrders       map[string]*Order
	ordersQueryRequest  model.RequestID
	historyQueryRequest model.RequestID
	historyQueryType    product.Type
	refresh             refreshGuard

	currentOrder    *event.Observable[*Order]
	currentReceipt  *event.Observable[*ledger.Receipt]
	orderHistory    *event.Observable[[]*ledger.Receipt]
	queriedOrderObs *event.Observable[*Order]
	queriedOrderBus *event.Bus[string, *Order]
}

func NewManager(
	log *zap.Logger,
	adapter platform.Adapter,
	gw *gateway.Gateway,
	inventory *product.Inventory,
	receipts ledger.Store,
	opts ...Option,
) *Manager {
	if log == nil {
		log = zap.NewNop()
	}

	m := &Manager{
		log:             log,
		adapter:         adapter,
		gateway:         gw,
		inventory:       inventory,
		receipts:        receipts,
		tasks:           make(chan func(), taskBuffer),
		quit:            make(chan struct{}),
		pending:         make(map[model.RequestID]*Order),
		queriedOrders:   make(map[string]*Order),
		currentOrder:    event.NewObservable[*Order](),
		currentReceipt:  event.NewObservable[*ledger.Receipt](),
		orderHistory:    event.NewObservable[[]*ledger.Receipt](),
		queriedOrderObs: event.NewObservable[*Order](),
		queriedOrderBus: event.NewBus[string, *Order](),
	}
	for _, opt := range opts {
		opt(m)
	}

	adapter.SetPurchasesListener((*purchasesListener)(m))
	go m.run()

	return m
}

// CurrentOrder observes the latest order transition.
func (m *Manager) CurrentOrder() *event.Observable[*Order] {
	return m.currentOrder
}

// CurrentReceipt observes the latest fulfilled receipt.
func (m *Manager) CurrentReceipt() *event.Observable[*ledger.Receipt] {
	return m.currentReceipt
}

// OrderHistory observes the aggregate receipt snapshot published after a
// full-history query completes.
func (m *Manager) OrderHistory() *event.Observable[[]*ledger.Receipt] {
	return m.orderHistory
}

// QueriedOrders observes in-progress orders discovered by history queries,
// one emission per newly discovered order.
func (m *Manager) QueriedOrders() *event.Observable[*Order] {
	return m.queriedOrderObs
}

// QueriedOrderEvents is the handler registry for queried orders, keyed by
// receipt id.
func (m *Manager) QueriedOrderEvents() *event.Bus[string, *Order] {
	return m.queriedOrderBus
}

// StartOrder begins a purchase. Orders for unavailable SKUs fail immediately
// with an invalid-product result and no vendor call; all other failures are
// likewise resolved into a terminal order state rather than returned.
func (m *Manager) StartOrder(ctx context.Context, p *product.Product) *Order {
	order := &Order{
		ID:        model.MustGenerateOrderID(),
		State:     StateCreated,
		CreatedAt: time.Now(),
	}
	m.metrics.IncOrdersStarted()

	if p == nil {
		order.Result = ResultInvalidProduct
		order.Message = "order cannot start without a product"
		m.failedOrder(order)
		return order
	}
	order.Product = p

	if m.inventory != nil && m.inventory.Unavailable(p.SKU) {
		m.log.Error("Order cannot start with invalid sku", zap.String("sku", p.SKU))
		order.Result = ResultInvalidProduct
		order.Message = "order cannot start with invalid sku: " + p.SKU
		m.failedOrder(order)
		return order
	}

	if !m.gateway.IsReady() {
		m.log.Warn("Order cannot start while billing connection is not ready",
			zap.String("sku", p.SKU))
		order.Result = ResultError
		order.Message = "billing connection not ready"
		m.failedOrder(order)
		return order
	}

	requestID, err := m.adapter.Purchase(ctx, p.SKU)
	if err != nil {
		m.log.Error("Purchase request failed", zap.String("sku", p.SKU), zap.Error(err))
		order.Result = ResultError
		order.Message = "purchase request failed"
		m.failedOrder(order)
		return order
	}

	order.RequestID = requestID

	m.mu.Lock()
	m.pending[requestID] = order
	m.mu.Unlock()

	m.log.Debug("Purchase request issued",
		zap.String("sku", p.SKU),
		zap.String("request_id", string(requestID)))

	return order
}

// processPurchase reconciles one purchase response. Runs on the worker.
func (m *Manager) processPurchase(resp *platform.PurchaseResponse) {
	m.mu.Lock()
	order, ok := m.pending[resp.RequestID]
	if ok {
		delete(m.pending, resp.RequestID)
	}
	m.mu.Unlock()

	if !ok {
		// Purchases can finish while the app is in the background or be made
		// on another device; reconcile them as fresh orders.
		order = &Order{
			ID:        model.MustGenerateOrderID(),
			RequestID: resp.RequestID,
			CreatedAt: time.Now(),
		}
	}

	order.Result = convertPurchaseStatus(resp.Status)
	order.Message = resp.Status.String()
	order.UserData = resp.UserData
	order.Receipt = resp.Receipt
	order.Raw = resp.Raw
	if order.Product == nil && m.inventory != nil {
		order.Product = m.inventory.Product(resp.SKU)
	}

	log := m.log.With(zap.String("request_id", string(resp.RequestID)))

	switch resp.Status {
	case platform.StatusSuccessful:
		log.Debug("Successful purchase request")
		m.validateOrder(order)
	case platform.StatusFailed:
		log.Error("Failed purchase request")
		m.failedOrder(order)
	case platform.StatusAlreadyPurchased:
		log.Warn("Already purchased product for purchase request")
		m.failedOrder(order)
	case platform.StatusInvalidSKU:
		log.Warn("Invalid sku id for purchase request")
		m.failedOrder(order)
	case platform.StatusNotSupported:
		log.Error("Unsupported purchase request")
		m.failedOrder(order)
	default:
		// No transition: the order stalls until a recognizable status
		// arrives. See the validator gap note on validateOrder.
		log.Warn("Unknown purchase request status", zap.Stringer("status", resp.Status))
	}
}

// validateOrder hands the order to the registered validator. Without a
// registered validator the order stalls in the validating state; this is a
// documented gap, not a failure path.
func (m *Manager) validateOrder(order *Order) {
	if order.State.Terminal() {
		m.log.Warn("Ignoring validation of terminal order", zap.String("order_id", order.ID))
		return
	}

	order.State = StateValidating

	if !m.gateway.IsReady() {
		m.log.Warn("Cannot validate order while billing connection is not ready",
			zap.String("order_id", order.ID))
		return
	}

	if order.Receipt != nil && order.Receipt.Canceled {
		m.log.Warn("Order receipt is canceled; revoking",
			zap.String("order_id", order.ID),
			zap.String("receipt_id", order.Receipt.ReceiptID))
		m.cancelOrder(order)
		return
	}

	if m.validator == nil {
		m.log.Error("Null validator object. Cannot complete order.",
			zap.String("order_id", order.ID))
		return
	}

	defer m.recoverToFailed(order, "validation")
	m.validator.Validate(order, (*validatorCallback)(m))
}

// processOrder is the post-validation step.
func (m *Manager) processOrder(order *Order) {
	m.completeOrder(order)
}

func (m *Manager) completeOrder(order *Order) {
	if order.State.Terminal() {
		m.log.Warn("Ignoring completion of terminal order", zap.String("order_id", order.ID))
		return
	}

	if !m.gateway.IsReady() {
		m.log.Warn("Cannot complete order while billing connection is not ready",
			zap.String("order_id", order.ID))
		return
	}

	defer m.recoverToFailed(order, "completion")

	// The receipt can be canceled between validation and completion; check
	// again before fulfilling.
	if order.Receipt != nil && order.Receipt.Canceled {
		m.cancelOrder(order)
		return
	}

	var productType product.Type
	if order.Product != nil {
		productType = order.Product.Type
	} else if order.Receipt != nil {
		productType = order.Receipt.ProductType
	}

	switch productType {
	case product.TypeConsumable:
		m.completeConsumable(order)
	case product.TypeNonConsumable:
		m.completeNonConsumable(order)
	case product.TypeSubscription:
		m.completeSubscription(order)
	default:
		m.log.Warn("Completing order with unknown product type",
			zap.String("order_id", order.ID))
	}

	if order.Receipt != nil {
		m.notifyFulfillment(order.Receipt.ReceiptID, true)
		m.recordReceipt(order)
	}
	m.archivePayload(order)

	order.State = StateComplete
	_ = m.currentOrder.Publish(order)
	m.metrics.IncOrdersCompleted()
	m.metrics.ObserveOrderDuration(time.Since(order.CreatedAt).Seconds())

	// update history
	m.RefreshQueries()
}

// The three completion paths are identical today; the split per product
// classification is the hook for future divergent fulfillment behavior.

func (m *Manager) completeConsumable(order *Order) {
	m.log.Debug("completeConsumable", zap.String("order_id", order.ID))
	m.emitReceipt(order)
}

func (m *Manager) completeNonConsumable(order *Order) {
	m.log.Debug("completeNonConsumable", zap.String("order_id", order.ID))
	m.emitReceipt(order)
}

func (m *Manager) completeSubscription(order *Order) {
	m.log.Debug("completeSubscription", zap.String("order_id", order.ID))
	m.emitReceipt(order)
}

func (m *Manager) emitReceipt(order *Order) {
	if order.Receipt == nil {
		return
	}

	receipt := newLedgerReceipt(order.Receipt, order.UserData)
	_ = m.currentReceipt.Publish(receipt)
	if m.updater != nil {
		m.updater.OnComplete(receipt)
	}
}

func (m *Manager) cancelOrder(order *Order) {
	if order.State.Terminal() {
		m.log.Warn("Ignoring cancellation of terminal order", zap.String("order_id", order.ID))
		return
	}

	m.log.Debug("cancelOrder", zap.String("order_id", order.ID))

	if order.Receipt != nil {
		m.notifyFulfillment(order.Receipt.ReceiptID, false)
	}
	order.State = StateCanceled
	if m.updater != nil {
		m.updater.OnFailure(order)
	}
	_ = m.currentOrder.Publish(order)
	m.metrics.IncOrdersCanceled()
}

func (m *Manager) failedOrder(order *Order) {
	if order.State.Terminal() {
		m.log.Warn("Ignoring failure of terminal order", zap.String("order_id", order.ID))
		return
	}

	m.log.Debug("failedOrder", zap.String("order_id", order.ID))

	if order.Receipt != nil {
		m.notifyFulfillment(order.Receipt.ReceiptID, false)
	}
	order.State = StateFailed
	if m.updater != nil {
		m.updater.OnFailure(order)
	}
	_ = m.currentOrder.Publish(order)
	m.metrics.IncOrdersFailed()
}

// notifyFulfillment acknowledges (or revokes) a receipt with the vendor.
// The sink is idempotent, so failures are logged and never fail the order.
func (m *Manager) notifyFulfillment(receiptID string, acknowledge bool) {
	m.log.Debug("notifyFulfillment",
		zap.String("receipt_id", receiptID),
		zap.Bool("acknowledge", acknowledge))

	if err := m.adapter.NotifyFulfillment(context.Background(), receiptID, acknowledge); err != nil {
		m.log.Error("Failed to acknowledge order", zap.String("receipt_id", receiptID), zap.Error(err))
	}
}

// recordReceipt folds a completed order into the ledger. A duplicate id means
// the entitlement was already handled; it is never re-delivered.
func (m *Manager) recordReceipt(order *Order) {
	receipt := newLedgerReceipt(order.Receipt, order.UserData)

	err := m.receipts.InsertReceipt(context.Background(), receipt)
	switch err {
	case nil:
		m.metrics.IncReceiptsRecorded()
	case ledger.ErrExists:
		m.log.Debug("Receipt already recorded", zap.String("receipt_id", receipt.ID))
	default:
		m.log.Error("Failed to record receipt", zap.String("receipt_id", receipt.ID), zap.Error(err))
	}
}

func (m *Manager) archivePayload(order *Order) {
	if m.archive == nil || len(order.Raw) == 0 {
		return
	}

	key := archive.OrderKey(order.ID)
	if err := m.archive.Upload(context.Background(), key, order.Raw); err != nil {
		m.log.Warn("Failed to archive order payload", zap.String("key", key), zap.Error(err))
	}
}

// recoverToFailed converts a panic during validate/complete into a failed
// terminal transition with a listener notification.
func (m *Manager) recoverToFailed(order *Order, stage string) {
	if r := recover(); r != nil {
		m.log.Error("Recovered panic during order "+stage,
			zap.String("order_id", order.ID),
			zap.Any("panic", r))
		order.Message = "local failure during " + stage
		m.failedOrder(order)
	}
}

// Destroy stops the worker and closes the published observables. Idempotent
// and safe to call multiple times; queued work is dropped.
func (m *Manager) Destroy() {
	m.destroyed.Do(func() {
		close(m.quit)
		m.currentOrder.Close()
		m.currentReceipt.Close()
		m.orderHistory.Close()
		m.queriedOrderObs.Close()
	})
}

func (m *Manager) run() {
	for {
		select {
		case task := <-m.tasks:
			m.safely(task)
		case <-m.quit:
			return
		}
	}
}

func (m *Manager) safely(task func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Recovered panic in sales worker", zap.Any("panic", r))
		}
	}()
	task()
}

func (m *Manager) enqueue(task func()) {
	select {
	case m.tasks <- task:
	case <-m.quit:
		m.log.Debug("Dropping task after destroy")
	}
}

func newLedgerReceipt(r *platform.Receipt, user platform.UserData) *ledger.Receipt {
	return &ledger.Receipt{
		ID:           r.ReceiptID,
		SKU:          r.SKU,
		UserID:       user.UserID,
		Marketplace:  user.Marketplace,
		Canceled:     r.Canceled,
		ProductType:  r.ProductType,
		PurchaseDate: r.PurchaseDate,
	}
}

// purchasesListener receives vendor callbacks on SDK-owned goroutines and
// funnels them to the worker.
type purchasesListener Manager

func (l *purchasesListener) OnPurchaseResponse(resp *platform.PurchaseResponse) {
	m := (*Manager)(l)
	if resp == nil {
		return
	}
	m.enqueue(func() { m.processPurchase(resp) })
}

func (l *purchasesListener) OnPurchaseUpdatesResponse(resp *platform.PurchaseUpdatesResponse) {
	m := (*Manager)(l)
	if resp == nil {
		return
	}
	m.enqueue(func() { m.processUpdates(resp) })
}

// validatorCallback routes validator verdicts back onto the worker.
type validatorCallback Manager

func (c *validatorCallback) Validated(order *Order) {
	m := (*Manager)(c)
	m.log.Debug("validated order", zap.String("order_id", order.ID))
	m.enqueue(func() { m.processOrder(order) })
}

func (c *validatorCallback) Invalidated(order *Order) {
	m := (*Manager)(c)
	m.log.Debug("invalidated order", zap.String("order_id", order.ID))
	m.enqueue(func() { m.cancelOrder(order) })
}

// resumeCallback finalizes orders surfaced through Updater.OnResume.
type resumeCallback Manager

func (c *resumeCallback) Complete(order *Order) {
	m := (*Manager)(c)
	m.enqueue(func() { m.completeOrder(order) })
}

func (c *resumeCallback) Cancel(order *Order) {
	m := (*Manager)(c)
	m.enqueue(func() { m.cancelOrder(order) })
}
