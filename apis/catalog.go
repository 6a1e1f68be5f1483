package apis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sljivkov/pricestream/logger"
)

// AuthProvider supplies the headers that authenticate REST calls
type AuthProvider interface {
	AuthHeader() http.Header
}

// BearerToken authenticates with an Authorization bearer header; an empty
// token sends no header
type BearerToken string

// AuthHeader implements AuthProvider
func (t BearerToken) AuthHeader() http.Header {
	h := http.Header{}
	if t != "" {
		h.Set("Authorization", "Bearer "+string(t))
	}

	return h
}

// Product is the subset of the storefront product record the client needs
type Product struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	IsActive      bool            `json:"is_active"`
	BasePrice     decimal.Decimal `json:"base_price"`
	AdjustedPrice decimal.Decimal `json:"adjusted_price"`
}

// Price returns the adjusted price when one has been set, else the base price
func (p Product) Price() decimal.Decimal {
	if p.AdjustedPrice.IsPositive() {
		return p.AdjustedPrice
	}

	return p.BasePrice
}

// Catalog reads current product prices from the storefront REST API
type Catalog struct {
	baseURL string
	auth    AuthProvider
	client  *http.Client
	log     zerolog.Logger
}

// NewCatalog creates a Catalog for the API rooted at baseURL
func NewCatalog(baseURL string, auth AuthProvider) *Catalog {
	if auth == nil {
		auth = BearerToken("")
	}

	return &Catalog{
		baseURL: baseURL,
		auth:    auth,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: logger.With("catalog"),
	}
}

// Products fetches the product list
func (c *Catalog) Products(ctx context.Context) ([]Product, error) {
	fullURL, err := url.JoinPath(c.baseURL, "products")
	if err != nil {
		return nil, fmt.Errorf("invalid catalog URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for key, values := range c.auth.AuthHeader() {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch products: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned non-200 status: %d", resp.StatusCode)
	}

	var products []Product
	if err := json.NewDecoder(resp.Body).Decode(&products); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return products, nil
}

// Prices returns the current price of every product in the catalog
func (c *Catalog) Prices(ctx context.Context) (map[int64]decimal.Decimal, error) {
	products, err := c.Products(ctx)
	if err != nil {
		return nil, err
	}

	prices := make(map[int64]decimal.Decimal, len(products))
	for _, p := range products {
		prices[p.ID] = p.Price()
	}

	c.log.Info().Int("products", len(prices)).Msg("✅ fetched catalog prices")

	return prices, nil
}
