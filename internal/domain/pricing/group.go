package pricing

import "github.com/xenking/oolio-kart-pricing/internal/domain/product"

// ResolveGroupPrice returns the contract price row for customerGroup at
// quantity q: the matching row with the largest minimum quantity not above q.
// Anonymous callers (empty group) never match. Rows with a negative price are
// skipped.
func ResolveGroupPrice(rows []product.GroupPrice, customerGroup string, q int) (product.GroupPrice, bool) {
	if customerGroup == "" {
		return product.GroupPrice{}, false
	}

	var (
		best  product.GroupPrice
		found bool
	)
	for _, row := range rows {
		if row.CustomerGroup != customerGroup || row.Price.IsNegative() {
			continue
		}
		minQty := max(row.MinQuantity, 1)
		if minQty > q {
			continue
		}
		if !found || minQty > max(best.MinQuantity, 1) {
			best = row
			found = true
		}
	}
	return best, found
}
