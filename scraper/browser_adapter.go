package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/time/rate"
	"pricebasket/config"
	"pricebasket/models"
	"pricebasket/normalize"
	"pricebasket/storage"
)

// BrowserAdapter drives a real browser for sites that render their catalog
// client-side or sit behind anti-automation checks. One page at a time per
// browser instance; the resume checkpoint in the ops store lets an
// interrupted category pick up where the last persisted page left off.
type BrowserAdapter struct {
	cfg   *config.SourceConfig
	ops   *storage.SQLiteStore
	retry RetryPolicy
	pacer *rate.Limiter

	mu          sync.Mutex
	pw          *playwright.Playwright
	context     playwright.BrowserContext
	activePage  playwright.Page
	initialized bool
}

func NewBrowserAdapter(cfg *config.SourceConfig, ops *storage.SQLiteStore) *BrowserAdapter {
	return &BrowserAdapter{
		cfg:   cfg,
		ops:   ops,
		retry: PolicyFromConfig(cfg),
		pacer: NewPacer(cfg.RateLimitMS),
	}
}

func (a *BrowserAdapter) SourceID() int64 {
	return a.cfg.ID
}

func (a *BrowserAdapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		return nil
	}

	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}
	a.pw = pw

	cwd, _ := os.Getwd()
	userDataDir := filepath.Join(cwd, "browser_data", fmt.Sprintf("source_%d", a.cfg.ID))
	opts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	}
	if a.cfg.ProxyURL != "" {
		opts.Proxy = &playwright.Proxy{Server: a.cfg.ProxyURL}
	}
	a.context, err = pw.Chromium.LaunchPersistentContext(userDataDir, opts)
	if err != nil {
		a.pw.Stop()
		a.pw = nil
		return fmt.Errorf("launch browser: %w", err)
	}

	a.activePage, err = a.context.NewPage()
	if err != nil {
		a.context.Close()
		a.pw.Stop()
		a.pw = nil
		return fmt.Errorf("create page: %w", err)
	}

	a.initialized = true
	return nil
}

func (a *BrowserAdapter) Cleanup() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.activePage != nil {
		a.activePage.Close()
		a.activePage = nil
	}
	if a.context != nil {
		a.context.Close()
		a.context = nil
	}
	if a.pw != nil {
		a.pw.Stop()
		a.pw = nil
	}
	a.initialized = false
}

func (a *BrowserAdapter) ScrapeCategory(ctx context.Context, category string, onPage PageFunc) (models.PageStats, error) {
	stats := models.PageStats{StartedAt: time.Now()}
	if !a.initialized {
		return stats, fmt.Errorf("adapter not initialized")
	}

	startPage := 1
	if a.ops != nil {
		if resume, err := a.ops.GetResumePage(a.cfg.ID, category); err == nil && resume > 0 {
			startPage = resume + 1
			log.Printf("Source %d: resuming category %s at page %d", a.cfg.ID, category, startPage)
		}
	}

	for page := startPage; page <= a.cfg.MaxPages; page++ {
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

		// The page is durably persisted; a crash from here loses nothing.
		if a.ops != nil {
			if err := a.ops.SetResumePage(a.cfg.ID, category, page); err != nil {
				log.Printf("Warning: could not checkpoint page %d: %v", page, err)
			}
		}

		if len(listings) < a.cfg.PageSize {
			break
		}
	}

	if a.ops != nil {
		if err := a.ops.ClearResumePage(a.cfg.ID, category); err != nil {
			log.Printf("Warning: could not clear resume checkpoint: %v", err)
		}
	}

	return stats, nil
}

func (a *BrowserAdapter) fetchPage(ctx context.Context, category string, page int) ([]models.RawListing, error) {
	if err := a.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	tmpl := a.cfg.Endpoints["category"]
	if tmpl == "" {
		tmpl = "/c/%s?page=%d"
	}
	pageURL := a.cfg.BaseURL + fmt.Sprintf(tmpl, category, page)

	if _, err := a.activePage.Goto(pageURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(30000),
	}); err != nil {
		return nil, fmt.Errorf("goto: %w", err)
	}

	productSel := a.selector("product", ".product-card")
	if err := a.activePage.Locator(productSel).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(10000),
	}); err != nil {
		// An empty category page renders no cards; treat as end of pages.
		return nil, nil
	}

	raw, err := a.activePage.Evaluate(a.extractScript(productSel))
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	return a.parseExtracted(raw)
}

// extractScript pulls the fields out of each product card in one browser
// round trip.
func (a *BrowserAdapter) extractScript(productSel string) string {
	return fmt.Sprintf(`() => Array.from(document.querySelectorAll(%q)).map(el => ({
		external_id: el.getAttribute(%q) || '',
		name: el.querySelector(%q)?.textContent?.trim() || '',
		brand: el.querySelector(%q)?.textContent?.trim() || '',
		price: el.querySelector(%q)?.textContent?.trim() || '',
		old_price: el.querySelector(%q)?.textContent?.trim() || '',
		url: el.querySelector('a')?.href || '',
		image: el.querySelector('img')?.src || ''
	}))`,
		productSel,
		a.selector("id_attr", "data-product-id"),
		a.selector("name", ".product-name"),
		a.selector("brand", ".product-brand"),
		a.selector("price", ".product-price"),
		a.selector("old_price", ".product-old-price"),
	)
}

type extractedCard struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Brand      string `json:"brand"`
	Price      string `json:"price"`
	OldPrice   string `json:"old_price"`
	URL        string `json:"url"`
	Image      string `json:"image"`
}

func (a *BrowserAdapter) parseExtracted(raw interface{}) ([]models.RawListing, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal extracted: %w", err)
	}

	var cards []extractedCard
	if err := json.Unmarshal(data, &cards); err != nil {
		return nil, fmt.Errorf("decode extracted: %w", err)
	}

	var listings []models.RawListing
	for _, c := range cards {
		listing := models.RawListing{
			ExternalID: c.ExternalID,
			Name:       c.Name,
			Brand:      c.Brand,
			URL:        c.URL,
			ImageURL:   c.Image,
		}
		if price := normalize.ParsePrice(c.Price); price != nil {
			listing.Price = *price
		}
		if old := normalize.ParsePrice(c.OldPrice); old != nil && *old > listing.Price {
			listing.OriginalPrice = old
			listing.IsOnSale = true
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

func (a *BrowserAdapter) selector(key, fallback string) string {
	if s, ok := a.cfg.Selectors[key]; ok && s != "" {
		return s
	}
	return fallback
}
