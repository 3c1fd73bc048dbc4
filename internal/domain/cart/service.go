package cart

import (
	"context"
	"fmt"

	"github.com/xenking/oolio-kart-pricing/internal/domain/product"
)

// AddRequest holds the input for adding a product to the cart.
type AddRequest struct {
	ProductID string
	Request
}

// QuoteRequest holds the input for a product page price preview.
type QuoteRequest struct {
	ProductID     string
	Quantity      string
	CustomerGroup string
	Selection     product.Selection
}

// Service loads product graphs from the catalog and hands them to a Composer.
type Service struct {
	products product.Repository
	composer *Composer
}

// NewService creates a cart Service with the required domain dependencies.
func NewService(products product.Repository, composer *Composer) *Service {
	return &Service{
		products: products,
		composer: composer,
	}
}

// AddToCart fetches the product and composes its line items. The returned
// result may be empty, in which case nothing must be added to the cart.
func (s *Service) AddToCart(ctx context.Context, req AddRequest) (*Result, error) {
	p, err := s.products.GetByID(ctx, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return s.composer.Compose(p, req.Request)
}

// Quote fetches the product and previews its price at the requested quantity.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	p, err := s.products.GetByID(ctx, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return s.composer.Quote(p, req.Quantity, req.CustomerGroup, req.Selection)
}
