package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-kart-pricing/internal/domain/product"
)

const (
	getProductByIDSQL = `SELECT id, sku, ean, title, mode, is_subscription,
		base_price, sale_price, compare_at_price, tax_class,
		stock, track_stock, min_order_quantity, order_multiple, max_order_quantity
		FROM products WHERE id = $1`

	listTiersSQL = `SELECT min_quantity, max_quantity, discount_price, discount_percentage
		FROM volume_tiers WHERE product_id = $1 ORDER BY position`

	listGroupPricesSQL = `SELECT customer_group, price, min_quantity
		FROM group_prices WHERE product_id = $1 ORDER BY customer_group, min_quantity`

	listVariantValuesSQL = `SELECT option_name, label, value, price_modifier, stock_level,
		subscription_type, issues, discount_percentage, auto_renew
		FROM variant_values WHERE product_id = $1 ORDER BY option_position, position`

	listChildrenSQL = `SELECT child_id, is_default, sort_order
		FROM product_children WHERE parent_id = $1 ORDER BY sort_order, child_id`

	listBoxesSQL = `SELECT size, price FROM box_prices WHERE product_id = $1 ORDER BY size`

	upsertProductSQL = `INSERT INTO products (id, sku, ean, title, mode, is_subscription,
		base_price, sale_price, compare_at_price, tax_class,
		stock, track_stock, min_order_quantity, order_multiple, max_order_quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET sku = EXCLUDED.sku, ean = EXCLUDED.ean,
			title = EXCLUDED.title, mode = EXCLUDED.mode, is_subscription = EXCLUDED.is_subscription,
			base_price = EXCLUDED.base_price, sale_price = EXCLUDED.sale_price,
			compare_at_price = EXCLUDED.compare_at_price, tax_class = EXCLUDED.tax_class,
			stock = EXCLUDED.stock, track_stock = EXCLUDED.track_stock,
			min_order_quantity = EXCLUDED.min_order_quantity, order_multiple = EXCLUDED.order_multiple,
			max_order_quantity = EXCLUDED.max_order_quantity`

	insertTierSQL = `INSERT INTO volume_tiers (product_id, position, min_quantity, max_quantity,
		discount_price, discount_percentage) VALUES ($1, $2, $3, $4, $5, $6)`

	insertGroupPriceSQL = `INSERT INTO group_prices (product_id, customer_group, min_quantity, price)
		VALUES ($1, $2, $3, $4)`

	insertVariantValueSQL = `INSERT INTO variant_values (product_id, option_position, option_name,
		position, label, value, price_modifier, stock_level,
		subscription_type, issues, discount_percentage, auto_renew)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	insertChildSQL = `INSERT INTO product_children (parent_id, child_id, is_default, sort_order)
		VALUES ($1, $2, $3, $4)`

	insertBoxSQL = `INSERT INTO box_prices (product_id, size, price) VALUES ($1, $2, $3)`
)

// Satellite tables are replaced wholesale on upsert.
var clearSatellitesSQL = []string{
	`DELETE FROM volume_tiers WHERE product_id = $1`,
	`DELETE FROM group_prices WHERE product_id = $1`,
	`DELETE FROM variant_values WHERE product_id = $1`,
	`DELETE FROM product_children WHERE parent_id = $1`,
	`DELETE FROM box_prices WHERE product_id = $1`,
}

var (
	_ product.Repository = (*ProductRepository)(nil)
	_ product.Writer     = (*ProductRepository)(nil)
)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns the product graph rooted at id. Children are loaded one
// level deep with their own tiers, group prices and options.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	p, err := r.load(ctx, id, true)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *ProductRepository) load(ctx context.Context, id string, withChildren bool) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	if p.Tiers, err = collect(ctx, r.pool, listTiersSQL, id, scanTier); err != nil {
		return nil, fmt.Errorf("listing tiers of %q: %w", id, err)
	}
	if p.GroupPrices, err = collect(ctx, r.pool, listGroupPricesSQL, id, scanGroupPrice); err != nil {
		return nil, fmt.Errorf("listing group prices of %q: %w", id, err)
	}
	if p.Boxes, err = collect(ctx, r.pool, listBoxesSQL, id, scanBox); err != nil {
		return nil, fmt.Errorf("listing boxes of %q: %w", id, err)
	}
	if err := r.loadOptions(ctx, &p); err != nil {
		return nil, err
	}
	if !withChildren {
		return &p, nil
	}

	links, err := collect(ctx, r.pool, listChildrenSQL, id, scanChildRef)
	if err != nil {
		return nil, fmt.Errorf("listing children of %q: %w", id, err)
	}
	for _, ref := range links {
		child, err := r.load(ctx, ref.childID, false)
		if err != nil {
			return nil, fmt.Errorf("loading child %q: %w", ref.childID, err)
		}
		p.Children = append(p.Children, product.ChildLink{
			Product:   *child,
			IsDefault: ref.isDefault,
			SortOrder: ref.sortOrder,
		})
	}
	return &p, nil
}

// loadOptions folds flat variant value rows back into ordered options.
func (r *ProductRepository) loadOptions(ctx context.Context, p *product.Product) error {
	values, err := collect(ctx, r.pool, listVariantValuesSQL, p.ID, scanVariantValue)
	if err != nil {
		return fmt.Errorf("listing variant values of %q: %w", p.ID, err)
	}
	for _, v := range values {
		n := len(p.Options)
		if n == 0 || p.Options[n-1].Name != v.option {
			p.Options = append(p.Options, product.VariantOption{Name: v.option})
			n++
		}
		p.Options[n-1].Values = append(p.Options[n-1].Values, v.value)
	}
	return nil
}

// Upsert writes the product, its satellite rows and its children in a single
// transaction. Children are upserted as standalone products before linking.
func (r *ProductRepository) Upsert(ctx context.Context, p *product.Product) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning upsert of %q: %w", p.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := upsertGraph(ctx, tx, p); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing upsert of %q: %w", p.ID, err)
	}
	return nil
}

func upsertGraph(ctx context.Context, tx pgx.Tx, p *product.Product) error {
	for i := range p.Children {
		if err := upsertGraph(ctx, tx, &p.Children[i].Product); err != nil {
			return err
		}
	}

	_, err := tx.Exec(ctx, upsertProductSQL,
		p.ID, p.SKU, p.EAN, p.Title, string(p.Mode), p.IsSubscription,
		p.BasePrice, p.SalePrice, p.CompareAtPrice, p.TaxClass,
		p.Stock, p.TrackStock, p.MinOrderQuantity, p.OrderMultiple, p.MaxOrderQuantity,
	)
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	for _, sql := range clearSatellitesSQL {
		if _, err := tx.Exec(ctx, sql, p.ID); err != nil {
			return fmt.Errorf("clearing rows of %q: %w", p.ID, err)
		}
	}

	batch := &pgx.Batch{}
	for i, t := range p.Tiers {
		batch.Queue(insertTierSQL, p.ID, i, t.MinQuantity, t.MaxQuantity, t.DiscountPrice, t.DiscountPercentage)
	}
	for _, g := range p.GroupPrices {
		batch.Queue(insertGroupPriceSQL, p.ID, g.CustomerGroup, g.MinQuantity, g.Price)
	}
	for i, o := range p.Options {
		for j, v := range o.Values {
			var (
				planType  *string
				issues    *int
				discount  decimal.NullDecimal
				autoRenew *bool
			)
			if v.Plan != nil {
				planType, issues, autoRenew = &v.Plan.Type, &v.Plan.Issues, &v.Plan.AutoRenew
				discount = v.Plan.DiscountPercentage
			}
			batch.Queue(insertVariantValueSQL, p.ID, i, o.Name, j, v.Label, v.Value,
				v.PriceModifier, v.StockLevel, planType, issues, discount, autoRenew)
		}
	}
	for _, c := range p.Children {
		batch.Queue(insertChildSQL, p.ID, c.Product.ID, c.IsDefault, c.SortOrder)
	}
	for _, b := range p.Boxes {
		batch.Queue(insertBoxSQL, p.ID, b.Size, b.Price)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("writing rows of %q: %w", p.ID, err)
	}
	return nil
}

func collect[T any](ctx context.Context, pool *pgxpool.Pool, sql, id string, fn pgx.RowToFunc[T]) ([]T, error) {
	rows, err := pool.Query(ctx, sql, id)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, fn)
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p    product.Product
		mode string
	)
	err := row.Scan(
		&p.ID, &p.SKU, &p.EAN, &p.Title, &mode, &p.IsSubscription,
		&p.BasePrice, &p.SalePrice, &p.CompareAtPrice, &p.TaxClass,
		&p.Stock, &p.TrackStock, &p.MinOrderQuantity, &p.OrderMultiple, &p.MaxOrderQuantity,
	)
	p.Mode = product.Mode(mode)
	return p, err
}

func scanTier(row pgx.CollectableRow) (product.VolumeTier, error) {
	var t product.VolumeTier
	err := row.Scan(&t.MinQuantity, &t.MaxQuantity, &t.DiscountPrice, &t.DiscountPercentage)
	return t, err
}

func scanGroupPrice(row pgx.CollectableRow) (product.GroupPrice, error) {
	var g product.GroupPrice
	err := row.Scan(&g.CustomerGroup, &g.Price, &g.MinQuantity)
	return g, err
}

func scanBox(row pgx.CollectableRow) (product.BoxPrice, error) {
	var b product.BoxPrice
	err := row.Scan(&b.Size, &b.Price)
	return b, err
}

type childRef struct {
	childID   string
	isDefault bool
	sortOrder int
}

func scanChildRef(row pgx.CollectableRow) (childRef, error) {
	var c childRef
	err := row.Scan(&c.childID, &c.isDefault, &c.sortOrder)
	return c, err
}

type variantRow struct {
	option string
	value  product.VariantValue
}

func scanVariantValue(row pgx.CollectableRow) (variantRow, error) {
	var (
		v         variantRow
		planType  *string
		issues    *int
		discount  decimal.NullDecimal
		autoRenew *bool
	)
	err := row.Scan(
		&v.option, &v.value.Label, &v.value.Value, &v.value.PriceModifier, &v.value.StockLevel,
		&planType, &issues, &discount, &autoRenew,
	)
	if planType != nil {
		plan := &product.SubscriptionPlan{Type: *planType, DiscountPercentage: discount}
		if issues != nil {
			plan.Issues = *issues
		}
		if autoRenew != nil {
			plan.AutoRenew = *autoRenew
		}
		v.value.Plan = plan
	}
	return v, err
}
