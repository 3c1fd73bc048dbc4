package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-kart-pricing/internal/domain/cart"
	"github.com/xenking/oolio-kart-pricing/internal/domain/pricing"
	"github.com/xenking/oolio-kart-pricing/internal/domain/product"
)

// optionParamPrefix marks query parameters that select variant values, as in
// ?option.Color=red.
const optionParamPrefix = "option."

// GetPrice previews the unit price at the requested quantity.
func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	var sel product.Selection
	for key, values := range query {
		name, ok := strings.CutPrefix(key, optionParamPrefix)
		if !ok || name == "" || len(values) == 0 {
			continue
		}
		if sel == nil {
			sel = product.Selection{}
		}
		sel[name] = values[0]
	}

	q, err := h.cart.Quote(ctx, cart.QuoteRequest{
		ProductID:     r.PathValue("productId"),
		Quantity:      query.Get("quantity"),
		CustomerGroup: customerGroup(ctx),
		Selection:     sel,
	})
	if err != nil {
		h.fail(ctx, w, err)
		return
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("productId", func(e *jx.Encoder) { e.Str(q.Rule.ProductID) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(q.Quantity) })
		e.Field("minQuantity", func(e *jx.Encoder) { e.Int(q.Rule.Min) })
		e.Field("orderMultiple", func(e *jx.Encoder) { e.Int(q.Rule.Multiple) })
		if q.Rule.Max != pricing.Unbounded {
			e.Field("maxQuantity", func(e *jx.Encoder) { e.Int(q.Rule.Max) })
		}
		if q.Breakdown.Resolved() {
			encodeBreakdown(e, q.Breakdown)
		}
		if len(q.Missing) > 0 {
			e.Field("missingOptions", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, name := range q.Missing {
						e.Str(name)
					}
				})
			})
		}
	})
	writeJSON(w, http.StatusOK, e.Bytes())
}

func encodeBreakdown(e *jx.Encoder, b pricing.Breakdown) {
	e.Field("unitPrice", func(e *jx.Encoder) { money(e, b.UnitPrice) })
	if b.OldPrice.Valid {
		e.Field("oldPrice", func(e *jx.Encoder) { money(e, b.OldPrice.Decimal) })
		e.Field("savingsPercent", func(e *jx.Encoder) { e.Raw([]byte(b.SavingsPercent.String())) })
	}
	e.Field("activeTierIndex", func(e *jx.Encoder) { e.Int(b.ActiveTierIndex) })
	e.Field("priceSource", func(e *jx.Encoder) { e.Str(string(b.Source)) })
}

// money writes d as a JSON number with two decimals.
func money(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.StringFixed(2)))
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
