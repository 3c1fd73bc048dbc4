package pricing

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// Sentinel errors surfaced to callers. Missing tiers or group rows are not
// errors; the price chain falls through to the next source instead.
var (
	// ErrInvalidProduct means the product lacks a required price and must be
	// rejected before any cart mutation.
	ErrInvalidProduct = errors.New("invalid product")
	// ErrOutOfRange means no quantity satisfies the order bounds.
	ErrOutOfRange = errors.New("quantity out of range")
	// ErrIncompleteSelection means a required variant option is not chosen.
	ErrIncompleteSelection = errors.New("incomplete selection")
)

// InvalidProductError describes why a product cannot be priced.
type InvalidProductError struct {
	ProductID string
	Reason    string
}

func (e *InvalidProductError) Error() string {
	return fmt.Sprintf("invalid product %s: %s", e.ProductID, e.Reason)
}

// Is matches ErrInvalidProduct.
func (e *InvalidProductError) Is(target error) bool {
	return target == ErrInvalidProduct
}

// OutOfRangeError indicates a product is unavailable at the requested quantity.
type OutOfRangeError struct {
	ProductID string
	Requested int
	Min       int
	// Max is -1 when unbounded.
	Max int
}

func (e *OutOfRangeError) Error() string {
	if e.Max < 0 {
		return fmt.Sprintf("quantity %d unavailable for product %s (min %d)", e.Requested, e.ProductID, e.Min)
	}
	return fmt.Sprintf("quantity %d unavailable for product %s (min %d, max %d)",
		e.Requested, e.ProductID, e.Min, e.Max)
}

// Is matches ErrOutOfRange.
func (e *OutOfRangeError) Is(target error) bool {
	return target == ErrOutOfRange
}

// IncompleteSelectionError lists the options still missing a value.
type IncompleteSelectionError struct {
	ProductID string
	Missing   []string
}

func (e *IncompleteSelectionError) Error() string {
	return fmt.Sprintf("product %s: missing selection for %s", e.ProductID, strings.Join(e.Missing, ", "))
}

// Is matches ErrIncompleteSelection.
func (e *IncompleteSelectionError) Is(target error) bool {
	return target == ErrIncompleteSelection
}
