package models

import (
	"encoding/json"
	"time"
)

// RawListing is one product as extracted from a source page, before any
// reconciliation. Price fields are already numeric; adapters run free-text
// prices through the normalize package during extraction.
type RawListing struct {
	ExternalID    string          `json:"external_id"`
	Name          string          `json:"name"`
	Brand         string          `json:"brand"`
	Category      string          `json:"category"`
	Price         float64         `json:"price"`
	OriginalPrice *float64        `json:"original_price"`
	IsOnSale      bool            `json:"is_on_sale"`
	Unit          string          `json:"unit"`
	UnitQuantity  *float64        `json:"unit_quantity"`
	URL           string          `json:"url"`
	ImageURL      string          `json:"image_url"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// PageInfo identifies the page a batch of listings came from.
type PageInfo struct {
	Category string `json:"category"`
	Page     int    `json:"page"`
	HasMore  bool   `json:"has_more"`
}

// PageStats aggregates one category scrape.
type PageStats struct {
	Pages     int
	Scraped   int
	Failed    int
	StartedAt time.Time
}
