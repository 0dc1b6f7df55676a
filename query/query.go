package query

import (
	"github.com/zuko/billingz/product"
)

type Option func(*Options)

func WithLimit(limit int) Option {
	return func(o *Options) {
		if limit > 0 {
			o.Limit = limit
		}
	}
}

func WithProductType(t product.Type) Option {
	return func(o *Options) {
		o.ProductType = t
	}
}

// WithNoLimit removes the default result cap, returning every matching
// receipt.
func WithNoLimit() Option {
	return func(o *Options) {
		o.Limit = 0
	}
}

// WithCanceled filters receipts by their cancellation flag.
func WithCanceled(canceled bool) Option {
	return func(o *Options) {
		o.Canceled = &canceled
	}
}

type Options struct {
	Limit       int
	ProductType product.Type
	Canceled    *bool
}

func DefaultOptions() Options {
	return Options{
		Limit: 100,
	}
}

func ApplyOptions(options ...Option) Options {
	applied := DefaultOptions()
	for _, option := range options {
		option(&applied)
	}
	return applied
}
