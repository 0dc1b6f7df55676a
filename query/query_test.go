package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zuko/billingz/product"
)

func TestApplyOptions(t *testing.T) {
	defaults := ApplyOptions()
	require.Equal(t, 100, defaults.Limit)
	require.Equal(t, product.TypeUnknown, defaults.ProductType)
	require.Nil(t, defaults.Canceled)

	applied := ApplyOptions(
		WithLimit(5),
		WithProductType(product.TypeSubscription),
		WithCanceled(true),
	)
	require.Equal(t, 5, applied.Limit)
	require.Equal(t, product.TypeSubscription, applied.ProductType)
	require.NotNil(t, applied.Canceled)
	require.True(t, *applied.Canceled)

	// Non-positive limits keep the default.
	require.Equal(t, 100, ApplyOptions(WithLimit(0)).Limit)
	require.Equal(t, 100, ApplyOptions(WithLimit(-1)).Limit)

	// WithNoLimit clears the cap entirely.
	require.Equal(t, 0, ApplyOptions(WithNoLimit()).Limit)
	require.Equal(t, 0, ApplyOptions(WithLimit(5), WithNoLimit()).Limit)
}
