package tests

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zuko/billingz/ledger"
	"github.com/zuko/billingz/product"
	"github.com/zuko/billingz/query"
)

func RunStoreTests(t *testing.T, s ledger.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s ledger.Store){
		testLedgerStore_HappyPath,
		testLedgerStore_InsertIfAbsent,
		testLedgerStore_List,
		testLedgerStore_ListNoLimit,
	} {
		tf(t, s)
		teardown()
	}
}

func testLedgerStore_HappyPath(t *testing.T, store ledger.Store) {
	expected := &ledger.Receipt{
		ID:           "receipt-1",
		SKU:          "gold.coins.100",
		UserID:       "user-1",
		Marketplace:  "US",
		Canceled:     false,
		ProductType:  product.TypeConsumable,
		PurchaseDate: time.Now().UTC().Truncate(time.Millisecond),
	}

	_, err := store.GetReceipt(context.Background(), expected.ID)
	require.Equal(t, ledger.ErrNotFound, err)

	require.NoError(t, store.InsertReceipt(context.Background(), expected))

	actual, err := store.GetReceipt(context.Background(), expected.ID)
	require.NoError(t, err)
	require.Equal(t, expected.ID, actual.ID)
	require.Equal(t, expected.SKU, actual.SKU)
	require.Equal(t, expected.UserID, actual.UserID)
	require.Equal(t, expected.Marketplace, actual.Marketplace)
	require.Equal(t, expected.Canceled, actual.Canceled)
	require.Equal(t, expected.ProductType, actual.ProductType)
}

func testLedgerStore_InsertIfAbsent(t *testing.T, store ledger.Store) {
	first := &ledger.Receipt{
		ID:           "receipt-dup",
		SKU:          "gold.coins.100",
		UserID:       "user-1",
		ProductType:  product.TypeConsumable,
		PurchaseDate: time.Now(),
	}
	require.NoError(t, store.InsertReceipt(context.Background(), first))

	// A second insert with the same id must not replace the stored receipt.
	dup := first.Clone()
	dup.SKU = "something.else"
	require.Equal(t, ledger.ErrExists, store.InsertReceipt(context.Background(), dup))

	actual, err := store.GetReceipt(context.Background(), first.ID)
	require.NoError(t, err)
	require.Equal(t, first.SKU, actual.SKU)
}

func testLedgerStore_List(t *testing.T, store ledger.Store) {
	base := time.Now().UTC().Truncate(time.Second)
	receipts := []*ledger.Receipt{
		{ID: "r-1", SKU: "coins", ProductType: product.TypeConsumable, PurchaseDate: base.Add(2 * time.Second)},
		{ID: "r-2", SKU: "premium", ProductType: product.TypeNonConsumable, PurchaseDate: base.Add(1 * time.Second)},
		{ID: "r-3", SKU: "monthly", ProductType: product.TypeSubscription, Canceled: true, PurchaseDate: base},
	}
	for _, r := range receipts {
		require.NoError(t, store.InsertReceipt(context.Background(), r))
	}

	all, err := store.ListReceipts(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)

	// Ordered by purchase date ascending.
	require.Equal(t, "r-3", all[0].ID)
	require.Equal(t, "r-2", all[1].ID)
	require.Equal(t, "r-1", all[2].ID)

	subs, err := store.ListReceipts(context.Background(), query.WithProductType(product.TypeSubscription))
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, "r-3", subs[0].ID)

	active, err := store.ListReceipts(context.Background(), query.WithCanceled(false))
	require.NoError(t, err)
	require.Len(t, active, 2)

	limited, err := store.ListReceipts(context.Background(), query.WithLimit(1))
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, "r-3", limited[0].ID)
}

func testLedgerStore_ListNoLimit(t *testing.T, store ledger.Store) {
	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 105; i++ {
		require.NoError(t, store.InsertReceipt(context.Background(), &ledger.Receipt{
			ID:           "r-" + strconv.Itoa(i),
			SKU:          "monthly.sub",
			ProductType:  product.TypeSubscription,
			PurchaseDate: base.Add(time.Duration(i) * time.Second),
		}))
	}

	capped, err := store.ListReceipts(context.Background())
	require.NoError(t, err)
	require.Len(t, capped, 100)

	all, err := store.ListReceipts(context.Background(), query.WithNoLimit())
	require.NoError(t, err)
	require.Len(t, all, 105)
}
