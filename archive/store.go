// Package archive persists raw vendor purchase payloads for audit and
// crash-recovery reconciliation. Payloads are opaque to the core.
package archive

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("payload not found")

type Store interface {

	// Upload stores the payload under key, replacing any existing payload.
	Upload(ctx context.Context, key string, data []byte) error

	// Download retrieves the payload for key, or ErrNotFound.
	Download(ctx context.Context, key string) ([]byte, error)
}

// OrderKey is the canonical archive key for an order's raw payload.
func OrderKey(orderID string) string {
	return fmt.Sprintf("orders/%s.json", orderID)
}
