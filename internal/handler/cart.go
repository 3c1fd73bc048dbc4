package handler

import (
	"io"
	"net/http"
	"sort"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/oolio-kart-pricing/internal/domain/cart"
	"github.com/xenking/oolio-kart-pricing/internal/domain/pricing"
	"github.com/xenking/oolio-kart-pricing/internal/domain/product"
	"github.com/xenking/oolio-kart-pricing/pkg/httpmiddleware"
)

// AddCartItems composes the line items for one add-to-cart call.
func (h *Handler) AddCartItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpmiddleware.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		httpmiddleware.WriteError(w, http.StatusBadRequest, "read request body")
		return
	}
	req, err := decodeAddRequest(body)
	if err != nil {
		httpmiddleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.CustomerGroup = customerGroup(ctx)

	res, err := h.cart.AddToCart(ctx, req)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	if !res.Empty() {
		h.compositions.Add(ctx, 1, metric.WithAttributes(attribute.Int("lines", len(res.Items))))
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeResult(e, res)
	writeJSON(w, http.StatusOK, e.Bytes())
}

// decodeAddRequest parses
//
//	{"productId":"p1","quantity":3,"children":{"a":2},"selection":{"Color":"red"}}
//
// Quantities may be numbers or numeric strings; fractions are truncated.
func decodeAddRequest(body []byte) (cart.AddRequest, error) {
	var req cart.AddRequest
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "productId":
			s, err := d.Str()
			req.ProductID = s
			return err
		case "quantity":
			q, err := decodeQuantity(d)
			req.Quantity = q
			return err
		case "children":
			req.ChildQuantities = map[string]int{}
			return d.Obj(func(d *jx.Decoder, id string) error {
				q, err := decodeQuantity(d)
				req.ChildQuantities[id] = q
				return err
			})
		case "selection":
			req.Selection = product.Selection{}
			return d.Obj(func(d *jx.Decoder, name string) error {
				v, err := d.Str()
				req.Selection[name] = v
				return err
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return req, errors.Wrap(err, "decode request")
	}
	if req.ProductID == "" {
		return req, errors.New("productId is required")
	}
	return req, nil
}

func decodeQuantity(d *jx.Decoder) (int, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return 0, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return 0, err
		}
		raw = n.String()
	case jx.Null:
		return 0, d.Null()
	default:
		return 0, errors.New("quantity must be a number")
	}
	return pricing.ParseQuantity(raw, 0), nil
}

func encodeResult(e *jx.Encoder, res *cart.Result) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("items", func(e *jx.Encoder) {
			e.ArrStart()
			for i := range res.Items {
				encodeLine(e, &res.Items[i])
			}
			e.ArrEnd()
		})
		e.Field("total", func(e *jx.Encoder) { money(e, res.Total) })
		e.Field("aggregateQuantity", func(e *jx.Encoder) { e.Int(res.AggregateQuantity) })
		if res.Breakdown.Resolved() {
			encodeBreakdown(e, res.Breakdown)
		}
	})
}

func encodeLine(e *jx.Encoder, l *cart.LineItem) {
	str := func(name, v string) {
		if v != "" {
			e.Field(name, func(e *jx.Encoder) { e.Str(v) })
		}
	}
	e.Obj(func(e *jx.Encoder) {
		e.Field("lineId", func(e *jx.Encoder) { e.Str(l.ID) })
		e.Field("productId", func(e *jx.Encoder) { e.Str(l.ProductID) })
		e.Field("title", func(e *jx.Encoder) { e.Str(l.Title) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
		e.Field("unitPrice", func(e *jx.Encoder) { money(e, l.UnitPrice) })
		e.Field("lineTotal", func(e *jx.Encoder) { money(e, l.LineTotal) })
		str("parentProductId", l.ParentProductID)
		str("parentProductTitle", l.ParentProductTitle)
		str("sku", l.SKU)
		str("ean", l.EAN)
		str("taxClass", l.TaxClass)
		e.Field("stockSnapshot", func(e *jx.Encoder) { e.Int(l.StockSnapshot) })
		if len(l.Selection) > 0 {
			e.Field("selection", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					for _, name := range sortedKeys(l.Selection) {
						e.Field(name, func(e *jx.Encoder) { e.Str(l.Selection[name]) })
					}
				})
			})
		}
		e.Field("mergeKey", func(e *jx.Encoder) { e.Str(l.MergeKey) })
	})
}

func sortedKeys(sel product.Selection) []string {
	keys := make([]string, 0, len(sel))
	for k := range sel {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
