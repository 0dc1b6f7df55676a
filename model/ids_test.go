package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	require.True(t, RequestID("").IsZero())

	id := MustGenerateRequestID()
	require.False(t, id.IsZero())
	require.NotEqual(t, id, MustGenerateRequestID())
}

func TestOrderID(t *testing.T) {
	id := MustGenerateOrderID()
	require.NotEmpty(t, id)
	require.NotEqual(t, id, MustGenerateOrderID())
}
