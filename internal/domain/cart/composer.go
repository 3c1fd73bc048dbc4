package cart

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-kart-pricing/internal/domain/pricing"
	"github.com/xenking/oolio-kart-pricing/internal/domain/product"
)

// Composer turns a product and a selection into cart line items. It holds no
// mutable state and is safe for concurrent use.
type Composer struct {
	cfg   Config
	modes map[product.Mode]struct{}
	newID func() string
}

// NewComposer creates a Composer with the given configuration.
func NewComposer(cfg Config) *Composer {
	if cfg.TierPolicy == "" {
		cfg.TierPolicy = pricing.TierPolicyDeclaredOrder
	}
	if cfg.UnlimitedStock <= 0 {
		cfg.UnlimitedStock = DefaultUnlimitedStock
	}

	modes := make(map[product.Mode]struct{}, len(cfg.Modes))
	for _, m := range cfg.Modes {
		modes[m] = struct{}{}
	}
	return &Composer{
		cfg:   cfg,
		modes: modes,
		newID: uuid.NewString,
	}
}

// Compose prices p for the request and emits line items.
func (c *Composer) Compose(p *product.Product, req Request) (*Result, error) {
	if err := c.checkMode(p); err != nil {
		return nil, err
	}

	switch {
	case p.Mode == product.ModeGrouped:
		return c.composeGrouped(p, req)
	case p.Mode == product.ModeMixAndMatch:
		return c.composeMixAndMatch(p, req)
	case p.Mode == product.ModeVariable && p.IsSubscription:
		return c.composeSubscription(p, req)
	case p.Mode == product.ModeVariable:
		return c.composeVariable(p, req)
	default:
		return c.composeSimple(p, req)
	}
}

// Quote previews the unit price of p at the raw form quantity.
func (c *Composer) Quote(p *product.Product, rawQuantity, customerGroup string, sel product.Selection) (*Quote, error) {
	if err := c.checkMode(p); err != nil {
		return nil, err
	}

	rule := pricing.RuleFor(p)
	var vq pricing.VariantQuote
	switch p.Mode {
	case product.ModeGrouped, product.ModeMixAndMatch:
		rule = pricing.QuantityRule{ProductID: p.ID, Min: 0, Multiple: 1, Max: pricing.Unbounded}
	case product.ModeVariable:
		base, err := pricing.BasePrice(p)
		if err != nil {
			return nil, err
		}
		vq = pricing.ComposeVariant(base, p.Options, sel, p.IsSubscription)
		switch {
		case p.IsSubscription:
			rule = pricing.QuantityRule{ProductID: p.ID, Min: 1, Multiple: 1, Max: 1}
		case vq.StockLimit != pricing.Unbounded:
			rule = rule.Capped(vq.StockLimit)
		}
	}
	qty, err := rule.NormalizeRaw(rawQuantity)
	if err != nil {
		return nil, err
	}
	q := &Quote{Quantity: qty, Rule: rule}

	switch p.Mode {
	case product.ModeGrouped:
		// Without a parent-level price each child is priced on its own, so
		// the preview has no single unit price to show.
		b, ok := pricing.QuoteAggregate(p, customerGroup, qty, c.cfg.TierPolicy)
		if !ok {
			b = pricing.Breakdown{ActiveTierIndex: pricing.NoTier}
		}
		q.Breakdown = b
	case product.ModeMixAndMatch:
		box, ok := smallestBox(p.Boxes)
		if !ok {
			return nil, &pricing.InvalidProductError{ProductID: p.ID, Reason: "no box sizes"}
		}
		q.Breakdown = pricing.Breakdown{UnitPrice: box.Price.Round(2), ActiveTierIndex: pricing.NoTier, Source: pricing.SourceBox}
	case product.ModeVariable:
		q.Breakdown = variantBreakdown(vq, p.CompareAtPrice)
		q.Missing = vq.Missing
	default:
		b, err := pricing.Quote(p, customerGroup, qty, c.cfg.TierPolicy)
		if err != nil {
			return nil, err
		}
		q.Breakdown = b
	}
	return q, nil
}

func (c *Composer) checkMode(p *product.Product) error {
	mode := p.Mode
	if mode == "" {
		mode = product.ModeSimple
	}
	if !mode.Valid() {
		return &pricing.InvalidProductError{ProductID: p.ID, Reason: fmt.Sprintf("unknown mode %q", p.Mode)}
	}
	if len(c.modes) == 0 {
		return nil
	}
	if _, ok := c.modes[mode]; !ok {
		return &ModeDisabledError{ProductID: p.ID, Mode: mode}
	}
	return nil
}

func (c *Composer) composeSimple(p *product.Product, req Request) (*Result, error) {
	if _, err := pricing.BasePrice(p); err != nil {
		return nil, err
	}
	qty, err := pricing.RuleFor(p).Normalize(req.Quantity)
	if err != nil {
		return nil, err
	}
	b, err := pricing.Quote(p, req.CustomerGroup, qty, c.cfg.TierPolicy)
	if err != nil {
		return nil, err
	}

	line := c.line(p, qty, b.UnitPrice)
	return c.result(b, qty, line), nil
}

// composeGrouped prices every selected child at one unit price resolved from
// the parent at the aggregate quantity.
func (c *Composer) composeGrouped(p *product.Product, req Request) (*Result, error) {
	children, qtys, aggregate, err := childSelection(p, req.ChildQuantities)
	if err != nil {
		return nil, err
	}
	if aggregate == 0 {
		return c.empty(), nil
	}

	shared, ok := pricing.QuoteAggregate(p, req.CustomerGroup, aggregate, c.cfg.TierPolicy)
	b := shared
	if !ok {
		b = pricing.Breakdown{ActiveTierIndex: pricing.NoTier}
	}

	lines := make([]LineItem, 0, len(children))
	for i, ch := range children {
		if qtys[i] == 0 {
			continue
		}
		child := ch.Product
		unit := shared.UnitPrice
		if !ok {
			// Children carry no tiers of their own in a group.
			child.Tiers = nil
			cb, err := pricing.Quote(&child, req.CustomerGroup, qtys[i], c.cfg.TierPolicy)
			if err != nil {
				return nil, err
			}
			unit = cb.UnitPrice
		}
		line := c.line(&child, qtys[i], unit)
		line.ParentProductID = p.ID
		line.ParentProductTitle = p.Title
		line.MergeKey = p.ID + "/" + child.ID
		lines = append(lines, line)
	}

	return c.result(b, aggregate, lines...), nil
}

func (c *Composer) composeVariable(p *product.Product, req Request) (*Result, error) {
	base, err := pricing.BasePrice(p)
	if err != nil {
		return nil, err
	}
	vq := pricing.ComposeVariant(base, p.Options, req.Selection, false)
	if !vq.Complete() {
		return nil, &pricing.IncompleteSelectionError{ProductID: p.ID, Missing: vq.Missing}
	}

	rule := pricing.RuleFor(p)
	if vq.StockLimit != pricing.Unbounded {
		rule = rule.Capped(vq.StockLimit)
	}
	qty, err := rule.Normalize(req.Quantity)
	if err != nil {
		return nil, err
	}

	b := variantBreakdown(vq, p.CompareAtPrice)
	line := c.line(p, qty, b.UnitPrice)
	c.annotate(&line, p, vq, req.Selection)
	if vq.StockLimit != pricing.Unbounded {
		line.StockSnapshot = vq.StockLimit
	}
	return c.result(b, qty, line), nil
}

// composeSubscription emits a single line: subscriptions are never multiplied.
func (c *Composer) composeSubscription(p *product.Product, req Request) (*Result, error) {
	base, err := pricing.BasePrice(p)
	if err != nil {
		return nil, err
	}
	vq := pricing.ComposeVariant(base, p.Options, req.Selection, true)
	if !vq.Complete() {
		return nil, &pricing.IncompleteSelectionError{ProductID: p.ID, Missing: vq.Missing}
	}

	stock := c.cfg.UnlimitedStock
	if vq.Plan != nil && vq.Plan.StockLevel != nil {
		stock = *vq.Plan.StockLevel
	}
	if stock < 1 {
		return nil, &pricing.OutOfRangeError{ProductID: p.ID, Requested: 1, Min: 1, Max: max(stock, 0)}
	}

	b := variantBreakdown(vq, p.CompareAtPrice)
	line := c.line(p, 1, b.UnitPrice)
	c.annotate(&line, p, vq, req.Selection)
	line.StockSnapshot = stock
	return c.result(b, 1, line), nil
}

// composeMixAndMatch charges the flat price of the box whose size equals the
// number of chosen items. Child lines are emitted at zero so the cart keeps
// the box contents linked to the parent.
func (c *Composer) composeMixAndMatch(p *product.Product, req Request) (*Result, error) {
	smallest, ok := smallestBox(p.Boxes)
	if !ok {
		return nil, &pricing.InvalidProductError{ProductID: p.ID, Reason: "no box sizes"}
	}
	children, qtys, aggregate, err := childSelection(p, req.ChildQuantities)
	if err != nil {
		return nil, err
	}
	if aggregate == 0 {
		return c.empty(), nil
	}

	box, ok := boxOfSize(p.Boxes, aggregate)
	if !ok {
		largest := smallest
		for _, b := range p.Boxes {
			if b.Size > largest.Size {
				largest = b
			}
		}
		return nil, &pricing.OutOfRangeError{ProductID: p.ID, Requested: aggregate, Min: smallest.Size, Max: largest.Size}
	}

	b := pricing.Finish(pricing.Breakdown{
		UnitPrice:       box.Price,
		ActiveTierIndex: pricing.NoTier,
		Source:          pricing.SourceBox,
	}, p.CompareAtPrice)

	boxLine := c.line(p, 1, b.UnitPrice)
	boxLine.Title = fmt.Sprintf("%s (Box of %d)", p.Title, box.Size)
	boxLine.MergeKey = fmt.Sprintf("%s#%d", p.ID, box.Size)

	lines := []LineItem{boxLine}
	for i, ch := range children {
		if qtys[i] == 0 {
			continue
		}
		child := ch.Product
		line := c.line(&child, qtys[i], decimal.Zero)
		line.ParentProductID = p.ID
		line.ParentProductTitle = p.Title
		line.MergeKey = p.ID + "/" + child.ID
		lines = append(lines, line)
	}
	return c.result(b, aggregate, lines...), nil
}

func (c *Composer) line(p *product.Product, qty int, unit decimal.Decimal) LineItem {
	unit = unit.Round(2)
	return LineItem{
		ID:            c.newID(),
		ProductID:     p.ID,
		Title:         p.Title,
		Quantity:      qty,
		UnitPrice:     unit,
		LineTotal:     unit.Mul(decimal.NewFromInt(int64(qty))).Round(2),
		SKU:           p.SKU,
		EAN:           p.EAN,
		TaxClass:      p.TaxClass,
		StockSnapshot: c.stockSnapshot(p),
		MergeKey:      p.ID,
	}
}

// annotate appends the selected labels to the title and records the selection
// for cart merging, since variant combinations have no SKU of their own.
func (c *Composer) annotate(line *LineItem, p *product.Product, vq pricing.VariantQuote, sel product.Selection) {
	if len(vq.Labels) > 0 {
		line.Title = fmt.Sprintf("%s (%s)", p.Title, strings.Join(vq.Labels, ", "))
	}

	chosen := make(product.Selection, len(p.Options))
	pairs := make([]string, 0, len(p.Options))
	for _, opt := range p.Options {
		key := sel[opt.Name]
		chosen[opt.Name] = key
		pairs = append(pairs, opt.Name+"="+key)
	}
	line.Selection = chosen
	line.MergeKey = p.ID + "|" + strings.Join(pairs, ",")
}

func (c *Composer) stockSnapshot(p *product.Product) int {
	if p.TrackStock && p.Stock != nil {
		return *p.Stock
	}
	return c.cfg.UnlimitedStock
}

func (c *Composer) result(b pricing.Breakdown, aggregate int, lines ...LineItem) *Result {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.LineTotal)
	}
	return &Result{
		Items:             lines,
		Total:             total.Round(2),
		Breakdown:         b,
		AggregateQuantity: aggregate,
	}
}

func (c *Composer) empty() *Result {
	return &Result{
		Total:     decimal.Zero,
		Breakdown: pricing.Breakdown{ActiveTierIndex: pricing.NoTier},
	}
}

func variantBreakdown(vq pricing.VariantQuote, compareAt decimal.NullDecimal) pricing.Breakdown {
	return pricing.Finish(pricing.Breakdown{
		UnitPrice:       vq.Price,
		ListPrice:       vq.ConfiguredPrice,
		ActiveTierIndex: pricing.NoTier,
		Source:          pricing.SourceVariant,
	}, compareAt)
}

// childSelection returns the sorted children with their requested quantities.
// Negative quantities count as zero; ids that are not children are ignored.
func childSelection(p *product.Product, requested map[string]int) ([]product.ChildLink, []int, int, error) {
	children := p.SortedChildren()
	qtys := make([]int, len(children))
	aggregate := 0
	for i, ch := range children {
		q := max(requested[ch.Product.ID], 0)
		if q > 0 {
			rule := pricing.RuleFor(&ch.Product)
			if rule.Max != pricing.Unbounded && q > rule.Max {
				return nil, nil, 0, &pricing.OutOfRangeError{ProductID: ch.Product.ID, Requested: q, Min: 0, Max: rule.Max}
			}
		}
		qtys[i] = q
		aggregate += q
	}
	return children, qtys, aggregate, nil
}

func smallestBox(boxes []product.BoxPrice) (product.BoxPrice, bool) {
	valid := make([]product.BoxPrice, 0, len(boxes))
	for _, b := range boxes {
		if b.Size > 0 && !b.Price.IsNegative() {
			valid = append(valid, b)
		}
	}
	if len(valid) == 0 {
		return product.BoxPrice{}, false
	}
	sort.SliceStable(valid, func(i, j int) bool { return valid[i].Size < valid[j].Size })
	return valid[0], true
}

func boxOfSize(boxes []product.BoxPrice, size int) (product.BoxPrice, bool) {
	for _, b := range boxes {
		if b.Size == size && !b.Price.IsNegative() {
			return b, true
		}
	}
	return product.BoxPrice{}, false
}
