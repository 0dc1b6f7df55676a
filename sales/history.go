package sales

import (
	"context"

	"go.uber.org/zap"

	"github.com/zuko/billingz/event"
	"github.com/zuko/billingz/ledger"
	"github.com/zuko/billingz/model"
	"github.com/zuko/billingz/platform"
	"github.com/zuko/billingz/product"
	"github.com/zuko/billingz/query"
)

// OrdersQuery is the handle for an in-flight still-open-orders query.
type OrdersQuery struct {
	requestID model.RequestID
	manager   *Manager
}

func (q *OrdersQuery) RequestID() model.RequestID {
	return q.requestID
}

// Orders observes the orders discovered by this and subsequent queries.
func (q *OrdersQuery) Orders() *event.Observable[*Order] {
	return q.manager.queriedOrderObs
}

// HistoryQuery is the handle for an in-flight full-history query.
type HistoryQuery struct {
	requestID model.RequestID
	manager   *Manager
}

func (q *HistoryQuery) RequestID() model.RequestID {
	return q.requestID
}

// Receipts observes the aggregate snapshot published once all pages merge.
func (q *HistoryQuery) Receipts() *event.Observable[[]*ledger.Receipt] {
	return q.manager.orderHistory
}

// RefreshQueries re-queries open orders. The guard suppresses the one
// redundant refresh that immediately follows initialization (completing an
// order triggers a refresh right after the startup query); afterwards every
// call refreshes.
func (m *Manager) RefreshQueries() {
	m.mu.Lock()
	guard := m.refresh
	switch guard {
	case refreshInitial:
		m.refresh = refreshArmed
	case refreshArmed:
		m.refresh = refreshSpent
	}
	m.mu.Unlock()

	if guard == refreshArmed {
		m.log.Debug("Skipping purchase history refresh.")
		return
	}

	m.log.Debug("Refreshing purchase history.")
	m.QueryOrders()
}

// QueryOrders issues a non-resetting, paginated purchase-updates query for
// purchases still requiring action.
func (m *Manager) QueryOrders() *OrdersQuery {
	requestID := m.purchaseUpdates(false)

	m.mu.Lock()
	m.ordersQueryRequest = requestID
	m.mu.Unlock()

	m.log.Debug("queryOrders", zap.String("request_id", string(requestID)))
	return &OrdersQuery{requestID: requestID, manager: m}
}

// QueryReceipts issues a resetting, full-history purchase-updates query. A
// non-zero product type filters the published aggregate snapshot.
func (m *Manager) QueryReceipts(t product.Type) *HistoryQuery {
	requestID := m.purchaseUpdates(true)

	m.mu.Lock()
	m.historyQueryRequest = requestID
	m.historyQueryType = t
	m.mu.Unlock()

	m.log.Debug("queryReceipts", zap.String("request_id", string(requestID)))
	return &HistoryQuery{requestID: requestID, manager: m}
}

// purchaseUpdates issues the underlying vendor query shared by both query
// kinds. reset retrieves the entire purchase history; otherwise the response
// is paginated since the last call.
func (m *Manager) purchaseUpdates(reset bool) model.RequestID {
	if !m.gateway.IsReady() {
		m.log.Warn("Cannot query purchase updates while billing connection is not ready")
		return ""
	}

	requestID, err := m.adapter.PurchaseUpdates(context.Background(), reset)
	if err != nil {
		m.log.Error("Purchase updates request failed", zap.Bool("reset", reset), zap.Error(err))
		return ""
	}

	return requestID
}

// processUpdates reconciles one purchase-updates response. Runs on the
// worker. The response's correlation id is matched against both outstanding
// query kinds: they share one underlying vendor call.
func (m *Manager) processUpdates(resp *platform.PurchaseUpdatesResponse) {
	if resp.RequestID.IsZero() {
		return
	}

	m.mu.Lock()
	isOrdersQuery := resp.RequestID == m.ordersQueryRequest
	isHistoryQuery := resp.RequestID == m.historyQueryRequest
	m.mu.Unlock()

	if !isOrdersQuery && !isHistoryQuery {
		m.log.Warn("Purchase updates response does not match an outstanding query",
			zap.String("request_id", string(resp.RequestID)))
		return
	}

	if isOrdersQuery {
		m.log.Debug("Processing orders query", zap.String("request_id", string(resp.RequestID)))
		m.processQueryResult(resp, false)
	}
	if isHistoryQuery {
		m.log.Debug("Processing order history query", zap.String("request_id", string(resp.RequestID)))
		m.processQueryResult(resp, true)
	}
}

func (m *Manager) processQueryResult(resp *platform.PurchaseUpdatesResponse, isFullHistory bool) {
	log := m.log.With(zap.String("request_id", string(resp.RequestID)))

	switch resp.Status {
	case platform.StatusSuccessful:
		log.Debug("Successful purchase updates request")
	case platform.StatusFailed:
		log.Error("Failed purchase updates request")
		return
	case platform.StatusNotSupported:
		log.Error("Unsupported purchase updates request")
		return
	default:
		log.Warn("Unknown purchase updates status", zap.Stringer("status", resp.Status))
		return
	}

	// Receipts from a purchase-updates response do not imply completed
	// orders; canceled and unfulfilled purchases arrive here too.
	for _, r := range resp.Receipts {
		if isRecordComplete(r) {
			m.ingestReceipt(r, resp.UserData)
		} else {
			m.ingestOpenOrder(r, resp)
		}
	}

	if resp.HasMore {
		m.continueQuery(isFullHistory)
	} else if isFullHistory {
		m.publishHistorySnapshot()
	}
}

// ingestReceipt records a closed history record. Repeated receipt ids are
// already handled; the entitlement is never re-delivered.
func (m *Manager) ingestReceipt(r *platform.Receipt, user platform.UserData) {
	receipt := newLedgerReceipt(r, user)

	err := m.receipts.InsertReceipt(context.Background(), receipt)
	switch err {
	case nil:
		m.metrics.IncReceiptsRecorded()
	case ledger.ErrExists:
		m.log.Debug("Skipping duplicate history receipt", zap.String("receipt_id", r.ReceiptID))
		return
	default:
		m.log.Error("Failed to record history receipt",
			zap.String("receipt_id", r.ReceiptID), zap.Error(err))
		return
	}

	if r.Canceled {
		m.notifyFulfillment(r.ReceiptID, false)
	}
}

// ingestOpenOrder wraps a still-open record as an Order requiring action and
// publishes it once.
func (m *Manager) ingestOpenOrder(r *platform.Receipt, resp *platform.PurchaseUpdatesResponse) {
	m.mu.Lock()
	if _, seen := m.queriedOrders[r.ReceiptID]; seen {
		m.mu.Unlock()
		return
	}

	order := &Order{
		ID:        model.MustGenerateOrderID(),
		RequestID: resp.RequestID,
		Result:    convertPurchaseUpdatesStatus(resp.Status),
		State:     StateCreated,
		Message:   resp.Status.String(),
		UserData:  resp.UserData,
		Receipt:   r,
		Raw:       resp.Raw,
	}
	if m.inventory != nil {
		order.Product = m.inventory.Product(r.SKU)
	}
	m.queriedOrders[r.ReceiptID] = order
	m.mu.Unlock()

	m.metrics.IncOrdersResumed()

	_ = m.queriedOrderBus.OnEvent(r.ReceiptID, order)
	_ = m.queriedOrderObs.Publish(order)

	if m.updater != nil {
		m.updater.OnResume(order, (*resumeCallback)(m))
	}
}

// continueQuery issues the continuation for a paginated response, replacing
// the outstanding correlation id for that query kind.
func (m *Manager) continueQuery(isFullHistory bool) {
	requestID := m.purchaseUpdates(isFullHistory)
	if requestID.IsZero() {
		return
	}

	m.mu.Lock()
	if isFullHistory {
		m.historyQueryRequest = requestID
	} else {
		m.ordersQueryRequest = requestID
	}
	m.mu.Unlock()
}

// publishHistorySnapshot publishes one aggregate snapshot of the ledger
// after the final page of a full-history query merges.
func (m *Manager) publishHistorySnapshot() {
	m.mu.Lock()
	t := m.historyQueryType
	m.mu.Unlock()

	// The snapshot covers the entire ledger, not the default page of it.
	opts := []query.Option{query.WithNoLimit()}
	if t != product.TypeUnknown {
		opts = append(opts, query.WithProductType(t))
	}

	snapshot, err := m.receipts.ListReceipts(context.Background(), opts...)
	if err != nil {
		m.log.Error("Failed to load history snapshot", zap.Error(err))
		return
	}

	_ = m.orderHistory.Publish(snapshot)
}

// isRecordComplete reports whether a history record is closed. The vendor
// always returns receipts for subscriptions and entitlements. Consumables
// only appear unfulfilled or canceled here; a fulfilled consumable shows up
// again only in rare crash-recovery cases, which the ledger's dedup absorbs.
func isRecordComplete(r *platform.Receipt) bool {
	if r.Canceled {
		return true
	}

	switch r.ProductType {
	case product.TypeSubscription, product.TypeNonConsumable:
		return true
	case product.TypeConsumable:
		return false
	default:
		return true
	}
}
