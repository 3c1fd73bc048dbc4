package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-kart-pricing/internal/domain/product"
)

// VariantQuote is the result of pricing a variant selection.
type VariantQuote struct {
	// ConfiguredPrice is base plus the selected price modifiers.
	ConfiguredPrice decimal.Decimal
	// Price is ConfiguredPrice after the subscription plan discount.
	Price decimal.Decimal
	// Labels holds the selected value labels in option order.
	Labels []string
	// Missing holds option names without a valid selection.
	Missing []string
	// Plan is the selected value carrying subscription terms, if any.
	Plan *product.VariantValue
	// StockLimit is the smallest stock level among selected values, or Unbounded.
	StockLimit int
}

// Complete reports whether every option has a selected value.
func (q VariantQuote) Complete() bool {
	return len(q.Missing) == 0
}

// ComposeVariant prices a (possibly partial) selection. Unselected options and
// unknown value keys contribute nothing and are reported in Missing. When
// subscription is set, the selected plan's discount percentage is applied on
// top of the configured price.
func ComposeVariant(
	base decimal.Decimal,
	options []product.VariantOption,
	sel product.Selection,
	subscription bool,
) VariantQuote {
	q := VariantQuote{
		ConfiguredPrice: base,
		StockLimit:      Unbounded,
	}

	for _, opt := range options {
		v, ok := opt.Value(sel[opt.Name])
		if !ok {
			q.Missing = append(q.Missing, opt.Name)
			continue
		}
		q.ConfiguredPrice = q.ConfiguredPrice.Add(v.PriceModifier)
		q.Labels = append(q.Labels, v.Label)
		if v.StockLevel != nil && (q.StockLimit == Unbounded || *v.StockLevel < q.StockLimit) {
			q.StockLimit = max(*v.StockLevel, 0)
		}
		if subscription && v.Plan != nil && q.Plan == nil {
			plan := v
			q.Plan = &plan
		}
	}

	q.Price = q.ConfiguredPrice
	if q.Plan != nil {
		if pct, ok := percentage(q.Plan.Plan.DiscountPercentage); ok {
			q.Price = ApplyPercentage(q.ConfiguredPrice, pct)
		}
	}
	return q
}
