package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-kart-pricing/internal/domain/product"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func nd(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(d(v))
}

func intp(v int) *int {
	return &v
}

func standardTiers() []product.VolumeTier {
	return []product.VolumeTier{
		{MinQuantity: 1, MaxQuantity: intp(9), DiscountPrice: nd("10")},
		{MinQuantity: 10, MaxQuantity: intp(49), DiscountPrice: nd("9")},
		{MinQuantity: 50, DiscountPrice: nd("8")},
	}
}

func TestResolveTier(t *testing.T) {
	tests := []struct {
		name   string
		tiers  []product.VolumeTier
		qty    int
		policy TierPolicy
		want   int
	}{
		{name: "below every threshold", tiers: []product.VolumeTier{{MinQuantity: 5}}, qty: 4, want: NoTier},
		{name: "no tiers", tiers: nil, qty: 10, want: NoTier},
		{name: "first tier", tiers: standardTiers(), qty: 5, want: 0},
		{name: "middle tier", tiers: standardTiers(), qty: 25, want: 1},
		{name: "exact threshold", tiers: standardTiers(), qty: 10, want: 1},
		{name: "open ended tier", tiers: standardTiers(), qty: 100, want: 2},
		{
			name: "max quantity is ignored",
			tiers: []product.VolumeTier{
				{MinQuantity: 1, MaxQuantity: intp(2)},
			},
			qty:  500,
			want: 0,
		},
		{
			name: "declared order scans backward, not by threshold",
			tiers: []product.VolumeTier{
				{MinQuantity: 50},
				{MinQuantity: 10},
			},
			qty:  60,
			want: 1,
		},
		{
			name: "highest threshold policy ignores list order",
			tiers: []product.VolumeTier{
				{MinQuantity: 50},
				{MinQuantity: 10},
			},
			qty:    60,
			policy: TierPolicyHighestThreshold,
			want:   0,
		},
		{
			name: "highest threshold policy keeps first on ties",
			tiers: []product.VolumeTier{
				{MinQuantity: 10, DiscountPrice: nd("5")},
				{MinQuantity: 10, DiscountPrice: nd("6")},
			},
			qty:    10,
			policy: TierPolicyHighestThreshold,
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := tt.policy
			if policy == "" {
				policy = TierPolicyDeclaredOrder
			}
			assert.Equal(t, tt.want, ResolveTier(tt.tiers, tt.qty, policy))
		})
	}
}

func TestResolveTier_NeverExceedsQuantity(t *testing.T) {
	tiers := []product.VolumeTier{
		{MinQuantity: 30}, {MinQuantity: 1}, {MinQuantity: 75}, {MinQuantity: 12}, {MinQuantity: 5},
	}
	for _, policy := range []TierPolicy{TierPolicyDeclaredOrder, TierPolicyHighestThreshold} {
		for q := 0; q <= 120; q++ {
			idx := ResolveTier(tiers, q, policy)
			if idx == NoTier {
				continue
			}
			require.LessOrEqual(t, tiers[idx].MinQuantity, q, "policy %s qty %d", policy, q)
		}
	}
}

func TestTierPrice(t *testing.T) {
	base := d("20")
	tests := []struct {
		name string
		tier product.VolumeTier
		want decimal.Decimal
	}{
		{name: "fixed price", tier: product.VolumeTier{DiscountPrice: nd("15")}, want: d("15")},
		{name: "percentage", tier: product.VolumeTier{DiscountPercentage: nd("25")}, want: d("15")},
		{
			name: "fixed wins over percentage",
			tier: product.VolumeTier{DiscountPrice: nd("17"), DiscountPercentage: nd("50")},
			want: d("17"),
		},
		{name: "neither falls back to base", tier: product.VolumeTier{}, want: base},
		{name: "percentage above 100 is ignored", tier: product.VolumeTier{DiscountPercentage: nd("120")}, want: base},
		{name: "negative price is ignored", tier: product.VolumeTier{DiscountPrice: nd("-1")}, want: base},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TierPrice(tt.tier, base)
			assert.True(t, tt.want.Equal(got), "expected %s, got %s", tt.want, got)
		})
	}
}

func TestResolveGroupPrice(t *testing.T) {
	rows := []product.GroupPrice{
		{CustomerGroup: "dealer", Price: d("9"), MinQuantity: 1},
		{CustomerGroup: "dealer", Price: d("7"), MinQuantity: 20},
		{CustomerGroup: "dealer", Price: d("8"), MinQuantity: 5},
		{CustomerGroup: "wholesale", Price: d("6"), MinQuantity: 1},
	}

	tests := []struct {
		name  string
		group string
		qty   int
		want  string
		found bool
	}{
		{name: "anonymous never matches", group: "", qty: 50},
		{name: "unknown group", group: "retail", qty: 50},
		{name: "smallest breakpoint", group: "dealer", qty: 3, want: "9", found: true},
		{name: "largest satisfied breakpoint", group: "dealer", qty: 10, want: "8", found: true},
		{name: "top breakpoint", group: "dealer", qty: 20, want: "7", found: true},
		{name: "other group", group: "wholesale", qty: 1, want: "6", found: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, ok := ResolveGroupPrice(rows, tt.group, tt.qty)
			require.Equal(t, tt.found, ok)
			if tt.found {
				assert.True(t, d(tt.want).Equal(row.Price), "expected %s, got %s", tt.want, row.Price)
			}
		})
	}
}

func TestResolveGroupPrice_BelowMinimum(t *testing.T) {
	rows := []product.GroupPrice{{CustomerGroup: "dealer", Price: d("8"), MinQuantity: 5}}

	_, ok := ResolveGroupPrice(rows, "dealer", 4)
	assert.False(t, ok)
}

func TestQuote_TierScenario(t *testing.T) {
	p := &product.Product{ID: "p1", BasePrice: nd("10"), Tiers: standardTiers()}

	for qty, want := range map[int]string{5: "10", 25: "9", 100: "8"} {
		b, err := Quote(p, "", qty, TierPolicyDeclaredOrder)
		require.NoError(t, err)
		assert.True(t, d(want).Equal(b.UnitPrice), "qty %d: expected %s, got %s", qty, want, b.UnitPrice)
		assert.Equal(t, SourceTier, b.Source)
	}
}

func TestQuote_PriceNeverRisesWithQuantity(t *testing.T) {
	p := &product.Product{
		ID:        "p1",
		BasePrice: nd("12"),
		SalePrice: nd("11"),
		Tiers: []product.VolumeTier{
			{MinQuantity: 5, DiscountPercentage: nd("10")},
			{MinQuantity: 10, DiscountPrice: nd("9.5")},
			{MinQuantity: 40, DiscountPercentage: nd("30")},
		},
	}

	prev, err := Quote(p, "", 1, TierPolicyDeclaredOrder)
	require.NoError(t, err)
	for q := 2; q <= 100; q++ {
		cur, err := Quote(p, "", q, TierPolicyDeclaredOrder)
		require.NoError(t, err)
		require.True(t, cur.UnitPrice.LessThanOrEqual(prev.UnitPrice),
			"price rose from %s to %s at qty %d", prev.UnitPrice, cur.UnitPrice, q)
		prev = cur
	}
}

func TestQuote_Chain(t *testing.T) {
	tests := []struct {
		name       string
		product    *product.Product
		group      string
		qty        int
		wantPrice  string
		wantSource Source
		wantTier   int
	}{
		{
			name: "group price beats active tier",
			product: &product.Product{
				ID:          "p1",
				BasePrice:   nd("12"),
				Tiers:       standardTiers(),
				GroupPrices: []product.GroupPrice{{CustomerGroup: "Dealer", Price: d("8"), MinQuantity: 5}},
			},
			group:      "Dealer",
			qty:        5,
			wantPrice:  "8",
			wantSource: SourceGroup,
			wantTier:   NoTier,
		},
		{
			name: "group below breakpoint falls to tier",
			product: &product.Product{
				ID:          "p1",
				BasePrice:   nd("12"),
				Tiers:       standardTiers(),
				GroupPrices: []product.GroupPrice{{CustomerGroup: "Dealer", Price: d("8"), MinQuantity: 5}},
			},
			group:      "Dealer",
			qty:        3,
			wantPrice:  "10",
			wantSource: SourceTier,
			wantTier:   0,
		},
		{
			name: "tier ignores sale price",
			product: &product.Product{
				ID:        "p1",
				BasePrice: nd("12"),
				SalePrice: nd("5"),
				Tiers:     []product.VolumeTier{{MinQuantity: 10, DiscountPrice: nd("9")}},
			},
			qty:        10,
			wantPrice:  "9",
			wantSource: SourceTier,
			wantTier:   0,
		},
		{
			name:       "sale price without tier",
			product:    &product.Product{ID: "p1", BasePrice: nd("12"), SalePrice: nd("10")},
			qty:        1,
			wantPrice:  "10",
			wantSource: SourceSale,
			wantTier:   NoTier,
		},
		{
			name:       "sale above base is ignored",
			product:    &product.Product{ID: "p1", BasePrice: nd("12"), SalePrice: nd("15")},
			qty:        1,
			wantPrice:  "12",
			wantSource: SourceBase,
			wantTier:   NoTier,
		},
		{
			name:       "percentage tier rounds to cents",
			product:    &product.Product{ID: "p1", BasePrice: nd("9.99"), Tiers: []product.VolumeTier{{MinQuantity: 1, DiscountPercentage: nd("15")}}},
			qty:        1,
			wantPrice:  "8.49",
			wantSource: SourceTier,
			wantTier:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Quote(tt.product, tt.group, tt.qty, TierPolicyDeclaredOrder)
			require.NoError(t, err)
			assert.True(t, d(tt.wantPrice).Equal(b.UnitPrice), "expected %s, got %s", tt.wantPrice, b.UnitPrice)
			assert.Equal(t, tt.wantSource, b.Source)
			assert.Equal(t, tt.wantTier, b.ActiveTierIndex)
		})
	}
}

func TestQuote_MissingBasePrice(t *testing.T) {
	_, err := Quote(&product.Product{ID: "p1", SalePrice: nd("5")}, "", 1, TierPolicyDeclaredOrder)

	require.ErrorIs(t, err, ErrInvalidProduct)
	var ipErr *InvalidProductError
	require.ErrorAs(t, err, &ipErr)
	assert.Equal(t, "p1", ipErr.ProductID)
}

func TestQuote_Savings(t *testing.T) {
	t.Run("compare at price", func(t *testing.T) {
		p := &product.Product{ID: "p1", BasePrice: nd("80"), CompareAtPrice: nd("100")}
		b, err := Quote(p, "", 1, TierPolicyDeclaredOrder)
		require.NoError(t, err)
		require.True(t, b.OldPrice.Valid)
		assert.True(t, d("100").Equal(b.OldPrice.Decimal))
		assert.True(t, d("20").Equal(b.SavingsPercent))
	})

	t.Run("discount against list price", func(t *testing.T) {
		p := &product.Product{ID: "p1", BasePrice: nd("10"), SalePrice: nd("7.5")}
		b, err := Quote(p, "", 1, TierPolicyDeclaredOrder)
		require.NoError(t, err)
		require.True(t, b.OldPrice.Valid)
		assert.True(t, d("10").Equal(b.OldPrice.Decimal))
		assert.True(t, d("25").Equal(b.SavingsPercent))
	})

	t.Run("no discount", func(t *testing.T) {
		p := &product.Product{ID: "p1", BasePrice: nd("10")}
		b, err := Quote(p, "", 1, TierPolicyDeclaredOrder)
		require.NoError(t, err)
		assert.False(t, b.OldPrice.Valid)
		assert.True(t, b.SavingsPercent.IsZero())
	})
}

func TestQuoteAggregate(t *testing.T) {
	t.Run("tier without parent price", func(t *testing.T) {
		parent := &product.Product{ID: "g1", Mode: product.ModeGrouped, Tiers: standardTiers()}
		b, ok := QuoteAggregate(parent, "", 10, TierPolicyDeclaredOrder)
		require.True(t, ok)
		assert.True(t, d("9").Equal(b.UnitPrice))
	})

	t.Run("percentage tier needs a reference price", func(t *testing.T) {
		parent := &product.Product{
			ID:    "g1",
			Mode:  product.ModeGrouped,
			Tiers: []product.VolumeTier{{MinQuantity: 1, DiscountPercentage: nd("10")}},
		}
		_, ok := QuoteAggregate(parent, "", 10, TierPolicyDeclaredOrder)
		assert.False(t, ok)
	})

	t.Run("nothing applies", func(t *testing.T) {
		parent := &product.Product{ID: "g1", Mode: product.ModeGrouped}
		_, ok := QuoteAggregate(parent, "", 3, TierPolicyDeclaredOrder)
		assert.False(t, ok)
	})
}
