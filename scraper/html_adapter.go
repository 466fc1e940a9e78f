package scraper

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gocolly/colly"
	"golang.org/x/time/rate"
	"pricebasket/config"
	"pricebasket/models"
	"pricebasket/normalize"
)

// HTMLAdapter scrapes server-rendered category pages with colly. The CSS
// selectors live in the source config, so a selector change is a config
// edit rather than a code change.
type HTMLAdapter struct {
	cfg   *config.SourceConfig
	retry RetryPolicy
	pacer *rate.Limiter

	collector *colly.Collector
	page      []models.RawListing
	visitErr  error
}

func NewHTMLAdapter(cfg *config.SourceConfig) *HTMLAdapter {
	return &HTMLAdapter{
		cfg:   cfg,
		retry: PolicyFromConfig(cfg),
		pacer: NewPacer(cfg.RateLimitMS),
	}
}

func (a *HTMLAdapter) SourceID() int64 {
	return a.cfg.ID
}

func (a *HTMLAdapter) Initialize(ctx context.Context) error {
	base, err := url.Parse(a.cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("parse base url: %w", err)
	}

	c := colly.NewCollector(
		colly.AllowedDomains(base.Host),
		colly.UserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"),
	)
	c.AllowURLRevisit = true
	c.SetRequestTimeout(30 * time.Second)
	if a.cfg.ProxyURL != "" {
		if err := c.SetProxy(a.cfg.ProxyURL); err != nil {
			return fmt.Errorf("set proxy: %w", err)
		}
	}

	c.OnHTML(a.selector("product", ".product-card"), func(e *colly.HTMLElement) {
		a.page = append(a.page, a.extractListing(e))
	})
	c.OnError(func(r *colly.Response, err error) {
		a.visitErr = fmt.Errorf("fetch %s: %w", r.Request.URL, err)
	})

	a.collector = c
	return nil
}

func (a *HTMLAdapter) Cleanup() {
	a.collector = nil
	a.page = nil
}

func (a *HTMLAdapter) ScrapeCategory(ctx context.Context, category string, onPage PageFunc) (models.PageStats, error) {
	stats := models.PageStats{StartedAt: time.Now()}

	for page := 1; page <= a.cfg.MaxPages; page++ {
		var listings []models.RawListing

		err := a.retry.Do(ctx, func() error {
			var fetchErr error
			listings, fetchErr = a.fetchPage(ctx, category, page)
			return fetchErr
		})
		if err != nil {
			return stats, fmt.Errorf("category %s page %d: %w", category, page, err)
		}

		if len(listings) == 0 {
			break
		}

		stats.Pages++
		count, failed, err := onPage(ctx, listings, models.PageInfo{Category: category, Page: page})
		if err != nil {
			return stats, fmt.Errorf("persist page %d: %w", page, err)
		}
		stats.Scraped += count
		stats.Failed += failed

		if len(listings) < a.cfg.PageSize {
			break
		}
	}

	return stats, nil
}

func (a *HTMLAdapter) fetchPage(ctx context.Context, category string, page int) ([]models.RawListing, error) {
	if err := a.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	tmpl := a.cfg.Endpoints["category"]
	if tmpl == "" {
		tmpl = "/c/%s?page=%d"
	}
	pageURL := a.cfg.BaseURL + fmt.Sprintf(tmpl, category, page)

	a.page = nil
	a.visitErr = nil
	if err := a.collector.Visit(pageURL); err != nil {
		return nil, err
	}
	a.collector.Wait()
	if a.visitErr != nil {
		return nil, a.visitErr
	}

	return a.page, nil
}

func (a *HTMLAdapter) extractListing(e *colly.HTMLElement) models.RawListing {
	listing := models.RawListing{
		ExternalID: e.Attr(a.selector("id_attr", "data-product-id")),
		Name:       e.ChildText(a.selector("name", ".product-name")),
		Brand:      e.ChildText(a.selector("brand", ".product-brand")),
		Category:   e.ChildText(a.selector("category", ".product-category")),
		URL:        e.Request.AbsoluteURL(e.ChildAttr(a.selector("link", "a"), "href")),
		ImageURL:   e.Request.AbsoluteURL(e.ChildAttr(a.selector("image", "img"), "src")),
	}

	if price := normalize.ParsePrice(e.ChildText(a.selector("price", ".product-price"))); price != nil {
		listing.Price = *price
	}
	if old := normalize.ParsePrice(e.ChildText(a.selector("old_price", ".product-old-price"))); old != nil && *old > listing.Price {
		listing.OriginalPrice = old
		listing.IsOnSale = true
	}

	return listing
}

func (a *HTMLAdapter) selector(key, fallback string) string {
	if s, ok := a.cfg.Selectors[key]; ok && s != "" {
		return s
	}
	return fallback
}
