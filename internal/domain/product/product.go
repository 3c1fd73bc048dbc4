package product

import (
	"context"
	"sort"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Mode selects how a product is priced and turned into cart lines.
type Mode string

const (
	// ModeSimple is a single purchasable item.
	ModeSimple Mode = "simple"
	// ModeGrouped is a parent with no price of its own, composed of child products.
	ModeGrouped Mode = "grouped"
	// ModeVariable is a configurable product priced by its variant options.
	ModeVariable Mode = "variable"
	// ModeMixAndMatch is a bundle builder sold at a flat box price.
	ModeMixAndMatch Mode = "mix_and_match"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeSimple, ModeGrouped, ModeVariable, ModeMixAndMatch:
		return true
	}
	return false
}

// Product is a catalog entry together with all of its pricing facts.
type Product struct {
	ID             string
	SKU            string
	EAN            string
	Title          string
	Mode           Mode
	IsSubscription bool

	BasePrice      decimal.NullDecimal
	SalePrice      decimal.NullDecimal
	CompareAtPrice decimal.NullDecimal
	TaxClass       string

	Stock            *int
	TrackStock       bool
	MinOrderQuantity int
	OrderMultiple    int
	MaxOrderQuantity *int

	Tiers       []VolumeTier
	GroupPrices []GroupPrice
	Options     []VariantOption
	Children    []ChildLink
	Boxes       []BoxPrice
}

// VolumeTier is a quantity breakpoint discount. MaxQuantity is informational.
type VolumeTier struct {
	MinQuantity        int
	MaxQuantity        *int
	DiscountPrice      decimal.NullDecimal
	DiscountPercentage decimal.NullDecimal
}

// GroupPrice is a customer group contract price starting at MinQuantity.
type GroupPrice struct {
	CustomerGroup string
	Price         decimal.Decimal
	MinQuantity   int
}

// VariantOption is one configurable axis, e.g. "Color".
type VariantOption struct {
	Name   string
	Values []VariantValue
}

// VariantValue is a selectable value of an option.
type VariantValue struct {
	Label         string
	Value         string
	PriceModifier decimal.Decimal
	StockLevel    *int
	// Plan is set only on subscription products.
	Plan *SubscriptionPlan
}

// SubscriptionPlan holds subscription terms attached to a variant value.
type SubscriptionPlan struct {
	Type               string
	Issues             int
	DiscountPercentage decimal.NullDecimal
	AutoRenew          bool
}

// ChildLink references a child product of a grouped or mix and match parent.
type ChildLink struct {
	Product   Product
	IsDefault bool
	SortOrder int
}

// BoxPrice is the flat price of a mix and match box holding Size items.
type BoxPrice struct {
	Size  int
	Price decimal.Decimal
}

// Selection maps an option name to the chosen value key.
type Selection map[string]string

// Option returns the option with the given name.
func (p *Product) Option(name string) (VariantOption, bool) {
	for _, o := range p.Options {
		if o.Name == name {
			return o, true
		}
	}
	return VariantOption{}, false
}

// Value returns the value with the given key.
func (o VariantOption) Value(key string) (VariantValue, bool) {
	for _, v := range o.Values {
		if v.Value == key {
			return v, true
		}
	}
	return VariantValue{}, false
}

// SortedChildren returns children ordered by SortOrder, keeping authoring
// order for equal positions.
func (p *Product) SortedChildren() []ChildLink {
	out := make([]ChildLink, len(p.Children))
	copy(out, p.Children)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SortOrder < out[j].SortOrder
	})
	return out
}

// Repository defines read operations for the product catalog. GetByID returns
// the full product graph including tiers, group prices, options and children.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
}

// Writer persists catalog entries.
type Writer interface {
	Upsert(ctx context.Context, p *Product) error
}
