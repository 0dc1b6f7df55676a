package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/zuko/billingz/ledger"
	"github.com/zuko/billingz/product"
	"github.com/zuko/billingz/query"
)

type InMemoryStore struct {
	mu       sync.RWMutex
	receipts map[string]*ledger.Receipt
}

func NewInMemory() ledger.Store {
	return &InMemoryStore{
		receipts: map[string]*ledger.Receipt{},
	}
}

func (s *InMemoryStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.receipts = make(map[string]*ledger.Receipt)
}

func (s *InMemoryStore) InsertReceipt(ctx context.Context, receipt *ledger.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.receipts[receipt.ID]
	if ok {
		return ledger.ErrExists
	}

	s.receipts[receipt.ID] = receipt.Clone()

	return nil
}

func (s *InMemoryStore) GetReceipt(ctx context.Context, id string) (*ledger.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipt, ok := s.receipts[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return receipt.Clone(), nil
}

func (s *InMemoryStore) ListReceipts(ctx context.Context, opts ...query.Option) ([]*ledger.Receipt, error) {
	applied := query.ApplyOptions(opts...)

	s.mu.RLock()
	out := make([]*ledger.Receipt, 0, len(s.receipts))
	for _, r := range s.receipts {
		if applied.ProductType != product.TypeUnknown && r.ProductType != applied.ProductType {
			continue
		}
		if applied.Canceled != nil && r.Canceled != *applied.Canceled {
			continue
		}
		out = append(out, r.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].PurchaseDate.Before(out[j].PurchaseDate)
	})

	if applied.Limit > 0 && len(out) > applied.Limit {
		out = out[:applied.Limit]
	}

	return out, nil
}
