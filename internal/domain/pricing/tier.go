package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-kart-pricing/internal/domain/product"
)

// TierPolicy selects how the applicable volume tier is chosen.
type TierPolicy string

const (
	// TierPolicyDeclaredOrder picks the last tier in list order whose minimum
	// quantity is satisfied, scanning backward. With ascending authoring this
	// is the highest satisfied threshold.
	TierPolicyDeclaredOrder TierPolicy = "declared_order"
	// TierPolicyHighestThreshold picks the satisfied tier with the largest
	// minimum quantity regardless of list order; the first such tier wins ties.
	TierPolicyHighestThreshold TierPolicy = "highest_threshold"
)

// NoTier is the index returned when no tier applies.
const NoTier = -1

var hundred = decimal.NewFromInt(100)

// ResolveTier returns the index of the tier applying to quantity q, or NoTier.
// MaxQuantity is never consulted.
func ResolveTier(tiers []product.VolumeTier, q int, policy TierPolicy) int {
	if policy == TierPolicyHighestThreshold {
		return highestThreshold(tiers, q)
	}
	for i := len(tiers) - 1; i >= 0; i-- {
		if tierMin(tiers[i]) <= q {
			return i
		}
	}
	return NoTier
}

func highestThreshold(tiers []product.VolumeTier, q int) int {
	selected := NoTier
	for i, t := range tiers {
		if tierMin(t) > q {
			continue
		}
		if selected == NoTier || tierMin(t) > tierMin(tiers[selected]) {
			selected = i
		}
	}
	return selected
}

func tierMin(t product.VolumeTier) int {
	return max(t.MinQuantity, 1)
}

// TierPrice returns the unit price a tier yields for the given base price.
// A fixed discount price wins over a percentage; a tier with neither, or with
// a malformed value, yields base.
func TierPrice(t product.VolumeTier, base decimal.Decimal) decimal.Decimal {
	if t.DiscountPrice.Valid && !t.DiscountPrice.Decimal.IsNegative() {
		return t.DiscountPrice.Decimal
	}
	if pct, ok := percentage(t.DiscountPercentage); ok {
		return ApplyPercentage(base, pct)
	}
	return base
}

// ApplyPercentage reduces price by pct percent.
func ApplyPercentage(price, pct decimal.Decimal) decimal.Decimal {
	return price.Mul(hundred.Sub(pct)).Div(hundred)
}

// percentage returns a usable discount percentage in [0, 100].
func percentage(p decimal.NullDecimal) (decimal.Decimal, bool) {
	if !p.Valid || p.Decimal.IsNegative() || p.Decimal.GreaterThan(hundred) {
		return decimal.Zero, false
	}
	return p.Decimal, true
}
