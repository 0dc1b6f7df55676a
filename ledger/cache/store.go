// Package cache wraps a ledger store with a read-through TTL cache for
// receipt lookups. Receipts are immutable, so cached entries never go stale;
// the TTL only bounds memory.
package cache

import (
	"context"
	"time"

	"github.com/ReneKroon/ttlcache"

	"github.com/zuko/billingz/ledger"
	"github.com/zuko/billingz/query"
)

type Cache struct {
	db    ledger.Store
	cache *ttlcache.Cache
}

func NewInCache(db ledger.Store, ttl time.Duration) ledger.Store {
	cache := ttlcache.NewCache()
	cache.SetTTL(ttl)
	return &Cache{
		db:    db,
		cache: cache,
	}
}

func (c *Cache) InsertReceipt(ctx context.Context, receipt *ledger.Receipt) error {
	if err := c.db.InsertReceipt(ctx, receipt); err != nil {
		return err
	}

	c.cache.Set(receipt.ID, receipt.Clone())
	return nil
}

func (c *Cache) GetReceipt(ctx context.Context, id string) (*ledger.Receipt, error) {
	cached, ok := c.cache.Get(id)
	if !ok {
		receipt, err := c.db.GetReceipt(ctx, id)
		if err != nil {
			return nil, err
		}

		c.cache.Set(id, receipt.Clone())
		return receipt, nil
	}

	return cached.(*ledger.Receipt).Clone(), nil
}

func (c *Cache) ListReceipts(ctx context.Context, opts ...query.Option) ([]*ledger.Receipt, error) {
	return c.db.ListReceipts(ctx, opts...)
}
