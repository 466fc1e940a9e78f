package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"
	"pricebasket/config"
	"pricebasket/httputil"
	"pricebasket/models"
	"pricebasket/normalize"
)

// APIAdapter scrapes sources that expose a paginated storefront JSON API.
// No exclusive resources: Initialize and Cleanup are no-ops beyond building
// the client.
type APIAdapter struct {
	cfg    *config.SourceConfig
	client *http.Client
	retry  RetryPolicy
	pacer  *rate.Limiter
}

func NewAPIAdapter(cfg *config.SourceConfig) *APIAdapter {
	return &APIAdapter{
		cfg:   cfg,
		retry: PolicyFromConfig(cfg),
		pacer: NewPacer(cfg.RateLimitMS),
	}
}

func (a *APIAdapter) SourceID() int64 {
	return a.cfg.ID
}

func (a *APIAdapter) Initialize(ctx context.Context) error {
	if a.client == nil {
		a.client = httputil.NewScrapingClient(a.cfg.ProxyURL, 30*time.Second)
	}
	return nil
}

func (a *APIAdapter) Cleanup() {
	a.client = nil
}

func (a *APIAdapter) ScrapeCategory(ctx context.Context, category string, onPage PageFunc) (models.PageStats, error) {
	stats := models.PageStats{StartedAt: time.Now()}

	for page := 1; page <= a.cfg.MaxPages; page++ {
		var listings []models.RawListing
		var hasMore bool

		err := a.retry.Do(ctx, func() error {
			var fetchErr error
			listings, hasMore, fetchErr = a.fetchPage(ctx, category, page)
			return fetchErr
		})
		if err != nil {
			return stats, fmt.Errorf("category %s page %d: %w", category, page, err)
		}

		if len(listings) == 0 {
			break
		}

		stats.Pages++
		count, failed, err := onPage(ctx, listings, models.PageInfo{Category: category, Page: page, HasMore: hasMore})
		if err != nil {
			return stats, fmt.Errorf("persist page %d: %w", page, err)
		}
		stats.Scraped += count
		stats.Failed += failed

		if !hasMore || len(listings) < a.cfg.PageSize {
			break
		}
	}

	return stats, nil
}

func (a *APIAdapter) fetchPage(ctx context.Context, category string, page int) ([]models.RawListing, bool, error) {
	if err := a.pacer.Wait(ctx); err != nil {
		return nil, false, err
	}

	endpoint := a.cfg.Endpoints["products"]
	url := fmt.Sprintf("%s%s?category=%s&page=%d&per_page=%d",
		a.cfg.BaseURL, endpoint, category, page, a.cfg.PageSize)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	for k, v := range a.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("api error %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, err
	}

	listings, hasMore, err := a.parseProductsResponse(body, page)
	if err != nil {
		return nil, false, err
	}
	return listings, hasMore, nil
}

type apiProductsResponse struct {
	Products []apiProduct `json:"products"`
	Paging   struct {
		Page       int `json:"page"`
		PerPage    int `json:"per_page"`
		TotalPages int `json:"total_pages"`
	} `json:"paging"`
}

type apiProduct struct {
	ID       json.Number `json:"id"`
	Name     string      `json:"name"`
	Brand    string      `json:"brand"`
	Category string      `json:"category"`
	Price    string      `json:"price"`
	OldPrice string      `json:"old_price"`
	Unit     string      `json:"unit"`
	Quantity *float64    `json:"quantity"`
	URL      string      `json:"url"`
	Image    string      `json:"image_url"`
}

func (a *APIAdapter) parseProductsResponse(data []byte, page int) ([]models.RawListing, bool, error) {
	var result apiProductsResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false, fmt.Errorf("decode products: %w", err)
	}

	var listings []models.RawListing
	for _, p := range result.Products {
		price := normalize.ParsePrice(p.Price)
		if price == nil {
			// Malformed record; the reconciler counts it failed.
			log.Printf("Source %d: unparsable price %q for %q", a.cfg.ID, p.Price, p.Name)
			listings = append(listings, models.RawListing{ExternalID: p.ID.String(), Name: p.Name})
			continue
		}

		listing := models.RawListing{
			ExternalID:   p.ID.String(),
			Name:         p.Name,
			Brand:        p.Brand,
			Category:     p.Category,
			Price:        *price,
			Unit:         p.Unit,
			UnitQuantity: p.Quantity,
			URL:          absoluteURL(a.cfg.BaseURL, p.URL),
			ImageURL:     p.Image,
		}

		if old := normalize.ParsePrice(p.OldPrice); old != nil && *old > *price {
			listing.OriginalPrice = old
			listing.IsOnSale = true
		}

		raw, _ := json.Marshal(p)
		listing.Data = raw
		listings = append(listings, listing)
	}

	hasMore := result.Paging.TotalPages == 0 || page < result.Paging.TotalPages
	return listings, hasMore, nil
}

func absoluteURL(base, path string) string {
	if path == "" || len(path) > 4 && path[:4] == "http" {
		return path
	}
	return base + path
}
