package product

import (
	"sync"

	"go.uber.org/zap"

	"github.com/zuko/billingz/event"
)

// Inventory is the product catalog. Products are bucketed by classification;
// Merge replaces by SKU within one bucket and republishes the merged snapshot.
type Inventory struct {
	log *zap.Logger

	mu             sync.RWMutex
	consumables    map[string]*Product
	nonConsumables map[string]*Product
	subscriptions  map[string]*Product
	unavailable    map[string]struct{}

	updates *event.Observable[map[string]*Product]
}

func NewInventory(log *zap.Logger) *Inventory {
	if log == nil {
		log = zap.NewNop()
	}

	return &Inventory{
		log:            log,
		consumables:    make(map[string]*Product),
		nonConsumables: make(map[string]*Product),
		subscriptions:  make(map[string]*Product),
		unavailable:    make(map[string]struct{}),
		updates:        event.NewObservable[map[string]*Product](),
	}
}

// Classify partitions a SKU to type mapping into the three disjoint buckets
// used to issue per-type vendor queries. SKUs of unknown type are logged and
// dropped.
func (i *Inventory) Classify(skus map[string]Type) (consumables, nonConsumables, subscriptions []string) {
	for sku, t := range skus {
		switch t {
		case TypeConsumable:
			consumables = append(consumables, sku)
		case TypeNonConsumable:
			nonConsumables = append(nonConsumables, sku)
		case TypeSubscription:
			subscriptions = append(subscriptions, sku)
		default:
			i.log.Warn("Skipping sku with unknown product type", zap.String("sku", sku))
		}
	}

	return consumables, nonConsumables, subscriptions
}

// Merge inserts or replaces products by SKU within the bucket for t and
// republishes the merged snapshot.
func (i *Inventory) Merge(products []*Product, t Type) {
	if len(products) == 0 {
		return
	}

	i.mu.Lock()
	bucket := i.bucket(t)
	if bucket == nil {
		i.mu.Unlock()
		i.log.Warn("Unhandled product type in merge", zap.Stringer("type", t))
		return
	}

	for _, p := range products {
		bucket[p.SKU] = p
	}
	snapshot := cloneMap(bucket)
	i.mu.Unlock()

	_ = i.updates.Publish(snapshot)
}

// Product looks a SKU up across the buckets in fixed order: consumable, then
// non-consumable, then subscription. Returns nil when absent.
func (i *Inventory) Product(sku string) *Product {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if p, ok := i.consumables[sku]; ok {
		return p
	}
	if p, ok := i.nonConsumables[sku]; ok {
		return p
	}
	if p, ok := i.subscriptions[sku]; ok {
		return p
	}

	return nil
}

// Products returns the bucket for t, or the union of all buckets when t is
// TypeUnknown. A non-nil promo filters to products whose promotion matches
// exactly.
func (i *Inventory) Products(t Type, promo *Promotion) map[string]*Product {
	i.mu.RLock()
	defer i.mu.RUnlock()

	var out map[string]*Product
	if t == TypeUnknown {
		out = make(map[string]*Product, len(i.consumables)+len(i.nonConsumables)+len(i.subscriptions))
		for sku, p := range i.consumables {
			out[sku] = p
		}
		for sku, p := range i.nonConsumables {
			out[sku] = p
		}
		for sku, p := range i.subscriptions {
			out[sku] = p
		}
	} else {
		bucket := i.bucket(t)
		if bucket == nil {
			return map[string]*Product{}
		}
		out = cloneMap(bucket)
	}

	if promo != nil {
		filtered := make(map[string]*Product)
		for sku, p := range out {
			if p.Promotion == *promo {
				filtered[sku] = p
			}
		}
		return filtered
	}

	return out
}

// SetUnavailable replaces the unavailable-SKU reject set.
func (i *Inventory) SetUnavailable(skus []string) {
	set := make(map[string]struct{}, len(skus))
	for _, sku := range skus {
		set[sku] = struct{}{}
	}

	i.mu.Lock()
	i.unavailable = set
	i.mu.Unlock()
}

// Unavailable reports whether sku is in the reject set.
func (i *Inventory) Unavailable(sku string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()

	_, ok := i.unavailable[sku]
	return ok
}

// Updates is the published snapshot observable. Every Merge republishes.
func (i *Inventory) Updates() *event.Observable[map[string]*Product] {
	return i.updates
}

// bucket must be called with i.mu held.
func (i *Inventory) bucket(t Type) map[string]*Product {
	switch t {
	case TypeConsumable:
		return i.consumables
	case TypeNonConsumable:
		return i.nonConsumables
	case TypeSubscription:
		return i.subscriptions
	default:
		return nil
	}
}

func cloneMap(m map[string]*Product) map[string]*Product {
	out := make(map[string]*Product, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
