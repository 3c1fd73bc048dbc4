// Package handler exposes price quotes and add-to-cart over HTTP JSON.
package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/oolio-kart-pricing/internal/domain/auth"
	"github.com/xenking/oolio-kart-pricing/internal/domain/cart"
	"github.com/xenking/oolio-kart-pricing/internal/domain/pricing"
	"github.com/xenking/oolio-kart-pricing/internal/domain/product"
	"github.com/xenking/oolio-kart-pricing/pkg/httpmiddleware"
)

// maxBodyBytes bounds add-to-cart request bodies.
const maxBodyBytes = 64 << 10

// Cart is the domain service behind the handlers.
type Cart interface {
	AddToCart(ctx context.Context, req cart.AddRequest) (*cart.Result, error)
	Quote(ctx context.Context, req cart.QuoteRequest) (*cart.Quote, error)
}

// Handler serves the pricing API.
type Handler struct {
	cart Cart

	compositions metric.Int64Counter
	rejections   metric.Int64Counter
}

// NewHandler constructs a Handler recording metrics on meter.
func NewHandler(svc Cart, meter metric.Meter) (*Handler, error) {
	compositions, err := meter.Int64Counter("pricing.cart.compositions",
		metric.WithDescription("Add-to-cart calls that produced line items"))
	if err != nil {
		return nil, errors.Wrap(err, "compositions counter")
	}
	rejections, err := meter.Int64Counter("pricing.rejections",
		metric.WithDescription("Requests rejected by pricing rules"))
	if err != nil {
		return nil, errors.Wrap(err, "rejections counter")
	}
	return &Handler{
		cart:         svc,
		compositions: compositions,
		rejections:   rejections,
	}, nil
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/product/{productId}/price", h.GetPrice)
	mux.HandleFunc("POST /api/cart/items", h.AddCartItems)
}

func customerGroup(ctx context.Context) string {
	if info, ok := auth.FromContext(ctx); ok {
		return info.CustomerGroup
	}
	return ""
}

// fail maps domain errors to HTTP responses.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	reason := ""
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, product.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pricing.ErrOutOfRange):
		status, reason = http.StatusUnprocessableEntity, "out_of_range"
	case errors.Is(err, pricing.ErrIncompleteSelection):
		status, reason = http.StatusUnprocessableEntity, "incomplete_selection"
	case errors.Is(err, pricing.ErrInvalidProduct):
		status, reason = http.StatusUnprocessableEntity, "invalid_product"
	case errors.Is(err, cart.ErrModeDisabled):
		status, reason = http.StatusUnprocessableEntity, "mode_disabled"
	}

	if reason != "" {
		h.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
	if status == http.StatusInternalServerError {
		zctx.From(ctx).Error("Request failed", zap.Error(err))
		httpmiddleware.WriteError(w, status, "internal error")
		return
	}
	httpmiddleware.WriteError(w, status, err.Error())
}
