package product

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestInventory_Classify(t *testing.T) {
	inv := NewInventory(nil)

	consumables, nonConsumables, subscriptions := inv.Classify(map[string]Type{
		"gold.coins.100": TypeConsumable,
		"gold.coins.500": TypeConsumable,
		"premium.unlock": TypeNonConsumable,
		"monthly.sub":    TypeSubscription,
		"mystery.sku":    TypeUnknown,
	})

	require.ElementsMatch(t, []string{"gold.coins.100", "gold.coins.500"}, consumables)
	require.ElementsMatch(t, []string{"premium.unlock"}, nonConsumables)
	require.ElementsMatch(t, []string{"monthly.sub"}, subscriptions)
}

func TestInventory_MergeReplacesBySku(t *testing.T) {
	inv := NewInventory(nil)

	inv.Merge([]*Product{
		{SKU: "gold.coins.100", Type: TypeConsumable, Title: "100 Coins"},
	}, TypeConsumable)

	p := inv.Product("gold.coins.100")
	require.NotNil(t, p)
	require.Equal(t, "100 Coins", p.Title)

	inv.Merge([]*Product{
		{SKU: "gold.coins.100", Type: TypeConsumable, Title: "100 Gold Coins"},
	}, TypeConsumable)

	p = inv.Product("gold.coins.100")
	require.NotNil(t, p)
	require.Equal(t, "100 Gold Coins", p.Title)

	require.Len(t, inv.Products(TypeConsumable, nil), 1)
}

func TestInventory_MergePublishesSnapshot(t *testing.T) {
	inv := NewInventory(nil)

	ch, cancel := inv.Updates().Subscribe(4)
	defer cancel()

	inv.Merge([]*Product{
		{SKU: "monthly.sub", Type: TypeSubscription},
	}, TypeSubscription)

	select {
	case snapshot := <-ch:
		require.Len(t, snapshot, 1)
		require.Contains(t, snapshot, "monthly.sub")
	case <-time.After(time.Second):
		require.Fail(t, "timed out waiting for inventory snapshot")
	}
}

func TestInventory_LookupOrder(t *testing.T) {
	inv := NewInventory(nil)

	// The same SKU in multiple buckets resolves in a fixed order:
	// consumable, then non-consumable, then subscription.
	inv.Merge([]*Product{{SKU: "shared.sku", Type: TypeSubscription}}, TypeSubscription)
	inv.Merge([]*Product{{SKU: "shared.sku", Type: TypeNonConsumable}}, TypeNonConsumable)

	p := inv.Product("shared.sku")
	require.NotNil(t, p)
	require.Equal(t, TypeNonConsumable, p.Type)

	inv.Merge([]*Product{{SKU: "shared.sku", Type: TypeConsumable}}, TypeConsumable)

	p = inv.Product("shared.sku")
	require.NotNil(t, p)
	require.Equal(t, TypeConsumable, p.Type)

	require.Nil(t, inv.Product("absent.sku"))
}

func TestInventory_ProductsUnionAndPromoFilter(t *testing.T) {
	inv := NewInventory(nil)

	inv.Merge([]*Product{
		{SKU: "gold.coins.100", Type: TypeConsumable, Promotion: PromotionNone},
		{SKU: "gold.coins.free", Type: TypeConsumable, Promotion: PromotionFree},
	}, TypeConsumable)
	inv.Merge([]*Product{
		{SKU: "monthly.sub", Type: TypeSubscription, Promotion: PromotionPromo},
	}, TypeSubscription)

	all := inv.Products(TypeUnknown, nil)
	require.Len(t, all, 3)

	promo := PromotionFree
	free := inv.Products(TypeUnknown, &promo)
	require.Len(t, free, 1)
	require.Contains(t, free, "gold.coins.free")

	none := PromotionNone
	consumableNone := inv.Products(TypeConsumable, &none)
	require.Len(t, consumableNone, 1)
	require.Contains(t, consumableNone, "gold.coins.100")
}

func TestInventory_Unavailable(t *testing.T) {
	inv := NewInventory(nil)

	require.False(t, inv.Unavailable("gone.sku"))

	inv.SetUnavailable([]string{"gone.sku"})
	require.True(t, inv.Unavailable("gone.sku"))
	require.False(t, inv.Unavailable("gold.coins.100"))

	// The set is replaced, not merged.
	inv.SetUnavailable([]string{"other.sku"})
	require.False(t, inv.Unavailable("gone.sku"))
	require.True(t, inv.Unavailable("other.sku"))
}

func TestProduct_DisplayPrice(t *testing.T) {
	p := &Product{
		SKU:          "gold.coins.100",
		Type:         TypeConsumable,
		Price:        decimal.NewFromFloat(1.99),
		CurrencyCode: "USD",
	}
	require.Equal(t, "$ 1.99", p.DisplayPrice())

	unknown := &Product{
		SKU:          "gold.coins.100",
		Price:        decimal.NewFromFloat(1.99),
		CurrencyCode: "nope",
	}
	require.Equal(t, "1.99", unknown.DisplayPrice())
}
