// Package store is the single entry point an application uses to run
// purchases. It composes the connection gateway, the product catalog, and the
// order reconciliation core behind one vendor-neutral surface; everything
// else in the module is reached through it.
package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/zuko/billingz/archive"
	"github.com/zuko/billingz/event"
	"github.com/zuko/billingz/gateway"
	"github.com/zuko/billingz/ledger"
	ledgermemory "github.com/zuko/billingz/ledger/memory"
	"github.com/zuko/billingz/metrics"
	"github.com/zuko/billingz/platform"
	"github.com/zuko/billingz/product"
	"github.com/zuko/billingz/sales"
)

type Option func(*config)

type config struct {
	log          *zap.Logger
	validator    sales.Validator
	updater      sales.Updater
	receipts     ledger.Store
	archive      archive.Store
	salesMetrics *metrics.SalesMetrics
	gwMetrics    *metrics.GatewayMetrics
	gwOptions    []gateway.Option
}

func WithLogger(log *zap.Logger) Option {
	return func(c *config) {
		c.log = log
	}
}

// WithValidator registers the application's purchase validator. Orders stall
// in validation without one.
func WithValidator(v sales.Validator) Option {
	return func(c *config) {
		c.validator = v
	}
}

func WithUpdater(u sales.Updater) Option {
	return func(c *config) {
		c.updater = u
	}
}

// WithReceiptStore substitutes a durable receipt ledger for the default
// in-memory one.
func WithReceiptStore(s ledger.Store) Option {
	return func(c *config) {
		c.receipts = s
	}
}

func WithArchive(s archive.Store) Option {
	return func(c *config) {
		c.archive = s
	}
}

func WithMetrics(sm *metrics.SalesMetrics, gm *metrics.GatewayMetrics) Option {
	return func(c *config) {
		c.salesMetrics = sm
		c.gwMetrics = gm
	}
}

// WithConnectionOptions forwards options to the connection gateway.
func WithConnectionOptions(opts ...gateway.Option) Option {
	return func(c *config) {
		c.gwOptions = append(c.gwOptions, opts...)
	}
}

// Store is the facade. One Store instance wraps one platform adapter,
// selected at construction.
type Store struct {
	log       *zap.Logger
	adapter   platform.Adapter
	gateway   *gateway.Gateway
	inventory *product.Inventory
	sales     *sales.Manager
}

func New(adapter platform.Adapter, opts ...Option) *Store {
	cfg := &config{
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.receipts == nil {
		cfg.receipts = ledgermemory.NewInMemory()
	}

	gwOpts := cfg.gwOptions
	if cfg.gwMetrics != nil {
		gwOpts = append(gwOpts, gateway.WithMetrics(cfg.gwMetrics))
	}
	gw := gateway.New(cfg.log.Named("gateway"), adapter, gwOpts...)

	inventory := product.NewInventory(cfg.log.Named("inventory"))

	salesOpts := []sales.Option{
		sales.WithValidator(cfg.validator),
		sales.WithUpdater(cfg.updater),
	}
	if cfg.archive != nil {
		salesOpts = append(salesOpts, sales.WithArchive(cfg.archive))
	}
	if cfg.salesMetrics != nil {
		salesOpts = append(salesOpts, sales.WithMetrics(cfg.salesMetrics))
	}
	mgr := sales.NewManager(cfg.log.Named("sales"), adapter, gw, inventory, cfg.receipts, salesOpts...)

	return &Store{
		log:       cfg.log,
		adapter:   adapter,
		gateway:   gw,
		inventory: inventory,
		sales:     mgr,
	}
}

// Start connects to the purchasing backend. Queries and purchases issued
// before the connection is ready resolve into failed orders rather than
// errors.
func (s *Store) Start(ctx context.Context) {
	s.gateway.Connect()
}

// Resume is the hook for the host's resume signal: it re-establishes the
// connection when needed and refreshes the open-order queries.
func (s *Store) Resume() {
	s.gateway.CheckConnection()
	s.sales.RefreshQueries()
}

// IsReady reports whether purchases can currently be issued.
func (s *Store) IsReady() bool {
	return s.gateway.IsReady()
}

// ReadyUpdates observes connection readiness.
func (s *Store) ReadyUpdates() *event.Observable[bool] {
	return s.gateway.ReadyUpdates()
}

// StartOrder initiates the purchase flow for a SKU. Unknown and unavailable
// SKUs resolve immediately into failed orders with an invalid-product result
// and no vendor call.
func (s *Store) StartOrder(ctx context.Context, sku string) *sales.Order {
	p := s.inventory.Product(sku)
	if p == nil {
		s.log.Warn("Cannot start order for unknown sku", zap.String("sku", sku))
		return s.sales.StartOrder(ctx, nil)
	}

	return s.sales.StartOrder(ctx, p)
}

// Inventory exposes the product catalog for population and lookup.
func (s *Store) Inventory() *product.Inventory {
	return s.inventory
}

// QueryOrders queries purchases still requiring action.
func (s *Store) QueryOrders() *sales.OrdersQuery {
	return s.sales.QueryOrders()
}

// QueryReceipts queries the full purchase history. product.TypeUnknown
// returns every classification.
func (s *Store) QueryReceipts(t product.Type) *sales.HistoryQuery {
	return s.sales.QueryReceipts(t)
}

// CurrentOrder observes the latest order transition.
func (s *Store) CurrentOrder() *event.Observable[*sales.Order] {
	return s.sales.CurrentOrder()
}

// CurrentReceipt observes the latest fulfillment.
func (s *Store) CurrentReceipt() *event.Observable[*ledger.Receipt] {
	return s.sales.CurrentReceipt()
}

// OrderHistory observes the aggregate history snapshot.
func (s *Store) OrderHistory() *event.Observable[[]*ledger.Receipt] {
	return s.sales.OrderHistory()
}

// QueriedOrders observes discovered in-progress orders.
func (s *Store) QueriedOrders() *event.Observable[*sales.Order] {
	return s.sales.QueriedOrders()
}

// Destroy releases the connection and stops all pending work. Idempotent.
func (s *Store) Destroy() {
	s.sales.Destroy()
	s.gateway.Destroy()
}
