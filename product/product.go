package product

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type Type uint8

const (
	TypeUnknown Type = iota
	TypeConsumable
	TypeNonConsumable
	TypeSubscription
)

func (t Type) String() string {
	switch t {
	case TypeConsumable:
		return "consumable"
	case TypeNonConsumable:
		return "non_consumable"
	case TypeSubscription:
		return "subscription"
	default:
		return "unknown"
	}
}

type Promotion uint8

const (
	PromotionNone Promotion = iota
	PromotionFree
	PromotionPromo
)

func (p Promotion) String() string {
	switch p {
	case PromotionFree:
		return "free"
	case PromotionPromo:
		return "promo"
	default:
		return "none"
	}
}

// Product is a classified catalog entry built from a vendor response.
// Immutable once constructed; the Inventory replaces mappings, never entries.
type Product struct {
	SKU         string
	Type        Type
	Title       string
	Description string

	Price        decimal.Decimal
	CurrencyCode string
	Promotion    Promotion

	// Subscription pricing detail. Periods are ISO 8601 durations as
	// reported by the vendor (e.g. "P1M").
	IntroPrice    decimal.Decimal
	IntroPeriod   string
	BillingPeriod string
	TrialPeriod   string
}

// DisplayPrice renders the price with its currency symbol. Falls back to the
// bare decimal when the currency code is unknown.
func (p *Product) DisplayPrice() string {
	unit, err := currency.ParseISO(p.CurrencyCode)
	if err != nil {
		return p.Price.String()
	}

	printer := message.NewPrinter(language.English)
	return printer.Sprintf("%v", currency.Symbol(unit.Amount(p.Price.InexactFloat64())))
}
