// Command demo runs a scripted purchase against the in-memory platform
// adapter and prints the observable outputs.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zuko/billingz/ledger"
	"github.com/zuko/billingz/platform/memory"
	"github.com/zuko/billingz/product"
	"github.com/zuko/billingz/sales"
	"github.com/zuko/billingz/store"
)

type autoValidator struct{}

func (autoValidator) Validate(order *sales.Order, callback sales.ValidatorCallback) {
	// A real application verifies the receipt with its own backend here.
	callback.Validated(order)
}

type printingUpdater struct{}

func (printingUpdater) OnComplete(receipt *ledger.Receipt) {
	fmt.Printf("fulfilled: receipt=%s sku=%s\n", receipt.ID, receipt.SKU)
}

func (printingUpdater) OnFailure(order *sales.Order) {
	fmt.Printf("failed: order=%s result=%s message=%q\n", order.ID, order.Result, order.Message)
}

func (printingUpdater) OnResume(order *sales.Order, callback sales.UpdaterCallback) {
	fmt.Printf("resuming: order=%s sku=%s\n", order.ID, order.SKU())
	callback.Complete(order)
}

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}
	defer logger.Sync()

	if os.Getenv("BILLINGZ_QUIET") != "" {
		logger = zap.NewNop()
	}

	adapter := memory.NewAdapter()

	s := store.New(adapter,
		store.WithLogger(logger),
		store.WithValidator(autoValidator{}),
		store.WithUpdater(printingUpdater{}),
	)
	defer s.Destroy()

	s.Inventory().Merge([]*product.Product{{
		SKU:          "gold.coins.100",
		Type:         product.TypeConsumable,
		Title:        "100 Gold Coins",
		Price:        decimal.NewFromFloat(1.99),
		CurrencyCode: "USD",
	}}, product.TypeConsumable)

	ready, cancelReady := s.ReadyUpdates().Subscribe(1)
	defer cancelReady()

	s.Start(context.Background())
	if ok := <-ready; !ok {
		log.Fatal("Billing connection failed")
	}

	orders, cancelOrders := s.CurrentOrder().Subscribe(4)
	defer cancelOrders()

	s.StartOrder(context.Background(), "gold.coins.100")

	select {
	case order := <-orders:
		fmt.Printf("order %s finished: state=%s result=%s\n", order.ID, order.State, order.Result)
	case <-time.After(5 * time.Second):
		log.Fatal("Timed out waiting for order")
	}
}
