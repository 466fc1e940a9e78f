package scraper

import (
	"context"
	"fmt"

	"pricebasket/config"
	"pricebasket/models"
	"pricebasket/storage"
)

// PageFunc receives one page of extracted listings and reports how many
// were persisted and how many were dropped. The adapter must await it
// before fetching the next page: the callback persists the batch, so a
// crash mid-run loses at most the in-flight page.
type PageFunc func(ctx context.Context, listings []models.RawListing, page models.PageInfo) (processed, failed int, err error)

// Adapter is the extraction contract every source implements. Lifecycle:
// Initialize, ScrapeCategory per category, Cleanup. Cleanup must be safe to
// call regardless of how the run ended.
type Adapter interface {
	SourceID() int64
	Initialize(ctx context.Context) error
	ScrapeCategory(ctx context.Context, category string, onPage PageFunc) (models.PageStats, error)
	Cleanup()
}

// NewAdapter constructs the adapter named by the source config. Adding a
// source is a config file plus, at most, a new constructor case here; the
// orchestrator never changes.
func NewAdapter(cfg *config.SourceConfig, ops *storage.SQLiteStore) (Adapter, error) {
	switch cfg.Adapter {
	case "api":
		return NewAPIAdapter(cfg), nil
	case "html":
		return NewHTMLAdapter(cfg), nil
	case "browser":
		return NewBrowserAdapter(cfg, ops), nil
	default:
		return nil, fmt.Errorf("unknown adapter %q for source %d", cfg.Adapter, cfg.ID)
	}
}
