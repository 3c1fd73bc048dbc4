package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrUnknownKey is returned when no active API key matches a hash.
var ErrUnknownKey = errors.New("api key not found")

// APIKeyInfo holds the identity of a validated API key. CustomerGroup selects
// contract pricing for every request made with the key; empty means the
// caller prices as an anonymous storefront visitor.
type APIKeyInfo struct {
	ID            string
	KeyHash       string
	Name          string
	CustomerGroup string
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

type infoKey struct{}

// WithInfo returns a context carrying the authenticated key.
func WithInfo(ctx context.Context, info *APIKeyInfo) context.Context {
	return context.WithValue(ctx, infoKey{}, info)
}

// FromContext returns the authenticated key, if any.
func FromContext(ctx context.Context) (*APIKeyInfo, bool) {
	info, ok := ctx.Value(infoKey{}).(*APIKeyInfo)
	return info, ok && info != nil
}
