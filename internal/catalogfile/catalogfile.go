// Package catalogfile reads catalog documents used by the seed and import
// tools. A document is either a JSON array of entries or newline-delimited
// JSON with one entry per line.
package catalogfile

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-kart-pricing/internal/domain/product"
)

// maxLineBytes bounds a single NDJSON entry.
const maxLineBytes = 4 << 20

// Entry is the wire form of a product.
type Entry struct {
	ID               string              `json:"id"`
	SKU              string              `json:"sku,omitempty"`
	EAN              string              `json:"ean,omitempty"`
	Title            string              `json:"title"`
	Mode             string              `json:"mode,omitempty"`
	IsSubscription   bool                `json:"isSubscription,omitempty"`
	BasePrice        decimal.NullDecimal `json:"basePrice"`
	SalePrice        decimal.NullDecimal `json:"salePrice"`
	CompareAtPrice   decimal.NullDecimal `json:"compareAtPrice"`
	TaxClass         string              `json:"taxClass,omitempty"`
	Stock            *int                `json:"stock,omitempty"`
	TrackStock       bool                `json:"trackStock,omitempty"`
	MinOrderQuantity int                 `json:"minOrderQuantity,omitempty"`
	OrderMultiple    int                 `json:"orderMultiple,omitempty"`
	MaxOrderQuantity *int                `json:"maxOrderQuantity,omitempty"`
	Tiers            []Tier              `json:"tiers,omitempty"`
	GroupPrices      []GroupPrice        `json:"groupPrices,omitempty"`
	Options          []Option            `json:"options,omitempty"`
	Children         []Child             `json:"children,omitempty"`
	Boxes            []Box               `json:"boxes,omitempty"`
}

// Tier is a volume tier entry.
type Tier struct {
	MinQuantity        int                 `json:"minQuantity"`
	MaxQuantity        *int                `json:"maxQuantity,omitempty"`
	DiscountPrice      decimal.NullDecimal `json:"discountPrice"`
	DiscountPercentage decimal.NullDecimal `json:"discountPercentage"`
}

// GroupPrice is a customer group price row.
type GroupPrice struct {
	CustomerGroup string          `json:"customerGroup"`
	Price         decimal.Decimal `json:"price"`
	MinQuantity   int             `json:"minQuantity"`
}

// Option is a variant option with its selectable values.
type Option struct {
	Name   string  `json:"name"`
	Values []Value `json:"values"`
}

// Value is one selectable value of an Option.
type Value struct {
	Label         string          `json:"label"`
	Value         string          `json:"value"`
	PriceModifier decimal.Decimal `json:"priceModifier"`
	StockLevel    *int            `json:"stockLevel,omitempty"`
	Subscription  *Subscription   `json:"subscription,omitempty"`
}

// Subscription describes the plan attached to a subscription value.
type Subscription struct {
	Type               string              `json:"type"`
	Issues             int                 `json:"issues"`
	DiscountPercentage decimal.NullDecimal `json:"discountPercentage"`
	AutoRenew          bool                `json:"autoRenew"`
}

// Child links a grouped or mix and match parent to a nested entry.
type Child struct {
	Product   Entry `json:"product"`
	IsDefault bool  `json:"isDefault,omitempty"`
	SortOrder int   `json:"sortOrder,omitempty"`
}

// Box is a mix and match box size with its flat price.
type Box struct {
	Size  int             `json:"size"`
	Price decimal.Decimal `json:"price"`
}

// Product validates the entry and converts it to a catalog product. Optional
// quantities default to 1 and an empty mode means simple.
func (e *Entry) Product() (product.Product, error) {
	if e.ID == "" {
		return product.Product{}, errors.New("entry without id")
	}
	mode := product.Mode(e.Mode)
	if mode == "" {
		mode = product.ModeSimple
	}
	if !mode.Valid() {
		return product.Product{}, errors.Errorf("product %s: unknown mode %q", e.ID, e.Mode)
	}
	for _, price := range []decimal.NullDecimal{e.BasePrice, e.SalePrice, e.CompareAtPrice} {
		if price.Valid && price.Decimal.IsNegative() {
			return product.Product{}, errors.Errorf("product %s: negative price %s", e.ID, price.Decimal)
		}
	}

	p := product.Product{
		ID:               e.ID,
		SKU:              e.SKU,
		EAN:              e.EAN,
		Title:            e.Title,
		Mode:             mode,
		IsSubscription:   e.IsSubscription,
		BasePrice:        e.BasePrice,
		SalePrice:        e.SalePrice,
		CompareAtPrice:   e.CompareAtPrice,
		TaxClass:         e.TaxClass,
		Stock:            e.Stock,
		TrackStock:       e.TrackStock,
		MinOrderQuantity: max(e.MinOrderQuantity, 1),
		OrderMultiple:    max(e.OrderMultiple, 1),
		MaxOrderQuantity: e.MaxOrderQuantity,
	}
	for _, t := range e.Tiers {
		if t.MinQuantity < 1 {
			return product.Product{}, errors.Errorf("product %s: tier min quantity %d", e.ID, t.MinQuantity)
		}
		p.Tiers = append(p.Tiers, product.VolumeTier(t))
	}
	for _, g := range e.GroupPrices {
		p.GroupPrices = append(p.GroupPrices, product.GroupPrice{
			CustomerGroup: g.CustomerGroup,
			Price:         g.Price,
			MinQuantity:   max(g.MinQuantity, 1),
		})
	}
	for _, o := range e.Options {
		opt := product.VariantOption{Name: o.Name}
		for _, v := range o.Values {
			val := product.VariantValue{
				Label:         v.Label,
				Value:         v.Value,
				PriceModifier: v.PriceModifier,
				StockLevel:    v.StockLevel,
			}
			if s := v.Subscription; s != nil {
				val.Plan = &product.SubscriptionPlan{
					Type:               s.Type,
					Issues:             s.Issues,
					DiscountPercentage: s.DiscountPercentage,
					AutoRenew:          s.AutoRenew,
				}
			}
			opt.Values = append(opt.Values, val)
		}
		p.Options = append(p.Options, opt)
	}
	for _, c := range e.Children {
		child, err := c.Product.Product()
		if err != nil {
			return product.Product{}, errors.Wrapf(err, "child of %s", e.ID)
		}
		p.Children = append(p.Children, product.ChildLink{Product: child, IsDefault: c.IsDefault, SortOrder: c.SortOrder})
	}
	for _, b := range e.Boxes {
		if b.Size < 1 {
			return product.Product{}, errors.Errorf("product %s: box size %d", e.ID, b.Size)
		}
		p.Boxes = append(p.Boxes, product.BoxPrice(b))
	}
	return p, nil
}

// ReadAll decodes a JSON array document.
func ReadAll(r io.Reader) ([]product.Product, error) {
	var entries []Entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	out := make([]product.Product, 0, len(entries))
	for i := range entries {
		p, err := entries[i].Product()
		if err != nil {
			return nil, errors.Wrapf(err, "entry %d", i)
		}
		out = append(out, p)
	}
	return out, nil
}

// Stream decodes an NDJSON document, calling fn for every entry. Blank lines
// are skipped. Decoding stops at the first error, naming the line.
func Stream(ctx context.Context, r io.Reader, fn func(product.Product) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return errors.Wrapf(err, "line %d", line)
		}
		p, err := e.Product()
		if err != nil {
			return errors.Wrapf(err, "line %d", line)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "scan")
	}
	return nil
}
