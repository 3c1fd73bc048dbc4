package cart

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-kart-pricing/internal/domain/pricing"
	"github.com/xenking/oolio-kart-pricing/internal/domain/product"
)

// DefaultUnlimitedStock is the stock snapshot reported when a product does
// not track stock.
const DefaultUnlimitedStock = 999999

// ErrModeDisabled is returned when a product's mode is switched off in Config.
var ErrModeDisabled = errors.New("product mode disabled")

// ModeDisabledError names the product whose mode is not enabled.
type ModeDisabledError struct {
	ProductID string
	Mode      product.Mode
}

func (e *ModeDisabledError) Error() string {
	return fmt.Sprintf("product %s: mode %q is disabled", e.ProductID, e.Mode)
}

// Is matches ErrModeDisabled.
func (e *ModeDisabledError) Is(target error) bool {
	return target == ErrModeDisabled
}

// Config is the feature configuration of a Composer.
type Config struct {
	// Modes lists the enabled product modes. Empty enables all of them.
	Modes []product.Mode
	// TierPolicy selects the volume tier resolution rule.
	TierPolicy pricing.TierPolicy
	// UnlimitedStock is the snapshot used for untracked stock.
	UnlimitedStock int
}

// DefaultConfig enables every mode with declared-order tier resolution.
func DefaultConfig() Config {
	return Config{
		Modes: []product.Mode{
			product.ModeSimple,
			product.ModeGrouped,
			product.ModeVariable,
			product.ModeMixAndMatch,
		},
		TierPolicy:     pricing.TierPolicyDeclaredOrder,
		UnlimitedStock: DefaultUnlimitedStock,
	}
}

// LineItem is a cart line produced by an add-to-cart call. The engine never
// mutates line items once emitted.
type LineItem struct {
	ID                 string
	ProductID          string
	Title              string
	Quantity           int
	UnitPrice          decimal.Decimal
	LineTotal          decimal.Decimal
	ParentProductID    string
	ParentProductTitle string
	SKU                string
	EAN                string
	TaxClass           string
	StockSnapshot      int
	Selection          product.Selection
	// MergeKey identifies lines that a cart may merge: the product id, plus
	// the selection for configured variants.
	MergeKey string
}

// Request is the caller's selection for one add-to-cart call.
type Request struct {
	// Quantity is the requested base quantity (simple and variable products).
	Quantity int
	// ChildQuantities maps child product ids to quantities (grouped and mix
	// and match products).
	ChildQuantities map[string]int
	// Selection maps option names to value keys (variable products).
	Selection product.Selection
	// CustomerGroup is empty for anonymous customers.
	CustomerGroup string
}

// Result holds the emitted line items and the order total.
type Result struct {
	Items             []LineItem
	Total             decimal.Decimal
	Breakdown         pricing.Breakdown
	AggregateQuantity int
}

// Empty reports whether the call produced no line items. An empty result is
// a no-op for the cart, never an empty order.
func (r *Result) Empty() bool {
	return len(r.Items) == 0
}

// Quote is a price preview for a product page.
type Quote struct {
	Quantity  int
	Rule      pricing.QuantityRule
	Breakdown pricing.Breakdown
	// Missing lists unselected options of a variable product.
	Missing []string
}
