package barcode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"
	"golang.org/x/time/rate"
)

/*
Client queries an Open Food Facts compatible catalog
(GET /api/v2/product/<code>.json). Requests are throttled because the public
instance asks clients to stay under a few requests per second.
*/
type Client struct {
	BaseURL    string
	UserAgent  string
	HTTPClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(baseURL string, userAgent string, requestsPerSecond float64) *Client {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		UserAgent:  userAgent,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(limit, 1),
	}
}

type offResponse struct {
	Code    string      `json:"code"`
	Status  int         `json:"status"`
	Product *offProduct `json:"product"`
}

type offProduct struct {
	ProductName     string   `json:"product_name"`
	ProductNameEN   string   `json:"product_name_en"`
	Brands          string   `json:"brands"`
	Quantity        string   `json:"quantity"`
	IngredientsText string   `json:"ingredients_text"`
	AllergensTags   []string `json:"allergens_tags"`
	TracesTags      []string `json:"traces_tags"`
	ImageFrontURL   string   `json:"image_front_url"`
	Countries       string   `json:"countries"`
}

// Lookup asks the catalog for code. A product the catalog does not know is Found=false, not an error.
func (c *Client) Lookup(ctx context.Context, code string) (result LookupResult, e *xerr.Error) {
	result.Code = code
	if err := c.limiter.Wait(ctx); err != nil {
		return result, xerr.NewError(err, "wait for barcode lookup slot", code)
	}

	endpoint := fmt.Sprintf("%s/api/v2/product/%s.json", c.BaseURL, url.PathEscape(code))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return result, xerr.NewError(err, "build barcode request", endpoint)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	req.Header.Set("Accept", "application/json")

	tl.Log(tl.Info, palette.Blue, "%s barcode '%s' at '%s'", "Looking up", code, c.BaseURL)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return result, xerr.NewError(err, "send barcode request", endpoint)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return result, xerr.NewError(err, "read barcode response", endpoint)
	}
	if resp.StatusCode == http.StatusNotFound {
		tl.Log(tl.Info1, palette.Purple, "Barcode '%s' %s", code, "not in catalog")
		return result, nil
	}
	if resp.StatusCode != http.StatusOK {
		return result, xerr.NewError(fmt.Errorf("status %d", resp.StatusCode), "barcode lookup", endpoint)
	}

	var decoded offResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return result, xerr.NewError(err, "decode barcode response", code)
	}
	if decoded.Status != 1 || decoded.Product == nil {
		tl.Log(tl.Info1, palette.Purple, "Barcode '%s' %s", code, "not in catalog")
		return result, nil
	}

	p := decoded.Product
	name := p.ProductName
	if strings.TrimSpace(name) == "" {
		name = p.ProductNameEN
	}
	result.Found = true
	result.Product = &Product{
		Code:            code,
		Name:            name,
		Brand:           p.Brands,
		Quantity:        p.Quantity,
		IngredientsText: p.IngredientsText,
		AllergensTags:   p.AllergensTags,
		TracesTags:      p.TracesTags,
		ImageURL:        p.ImageFrontURL,
		Countries:       p.Countries,
	}
	tl.Log(tl.Info1, palette.Green, "Found '%s' (%s) for barcode '%s'", result.Product.Name, result.Product.Brand, code)
	return result, nil
}
