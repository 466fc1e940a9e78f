package models

import (
	"time"

	"github.com/google/uuid"
)

// Source is an external retailer feeding the pipeline. Owned by the catalog
// subsystem; the scraper only ever reads these rows.
type Source struct {
	ID       int64  `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	IsActive bool   `json:"is_active" db:"is_active"`
	Adapter  string `json:"adapter" db:"adapter"` // api, html, browser
	Currency string `json:"currency" db:"currency"`
}

// Product is the durable identity for a distinct item. Descriptive fields
// are refreshed on rescrape; the id never changes once assigned.
type Product struct {
	ID             uuid.UUID `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	NormalizedName string    `json:"normalized_name" db:"normalized_name"`
	Brand          string    `json:"brand" db:"brand"`
	Unit           string    `json:"unit" db:"unit"`
	UnitQuantity   *float64  `json:"unit_quantity" db:"unit_quantity"`
	ImageURL       string    `json:"image_url" db:"image_url"`
	Category       string    `json:"category" db:"category"`
	ImageStatus    string    `json:"image_status" db:"image_status"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// ProductMapping binds a product to one source's listing of it.
// (source_id, external_id) is unique whenever external_id is present;
// at most one mapping exists per (product_id, source_id).
type ProductMapping struct {
	ID            uuid.UUID `json:"id" db:"id"`
	ProductID     uuid.UUID `json:"product_id" db:"product_id"`
	SourceID      int64     `json:"source_id" db:"source_id"`
	ExternalID    *string   `json:"external_id" db:"external_id"`
	URL           string    `json:"url" db:"url"`
	LastScrapedAt time.Time `json:"last_scraped_at" db:"last_scraped_at"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Price is one append-only observation for a mapping.
type Price struct {
	ID            int64     `json:"id" db:"id"`
	MappingID     uuid.UUID `json:"mapping_id" db:"mapping_id"`
	Price         float64   `json:"price" db:"price"`
	Currency      string    `json:"currency" db:"currency"`
	OriginalPrice *float64  `json:"original_price" db:"original_price"`
	IsOnSale      bool      `json:"is_on_sale" db:"is_on_sale"`
	PricePerUnit  *float64  `json:"price_per_unit" db:"price_per_unit"`
	ScrapedAt     time.Time `json:"scraped_at" db:"scraped_at"`
}

// RunLog records one orchestrator invocation of a source. Created RUNNING
// at run start and finalized exactly once, on every exit path.
type RunLog struct {
	ID              int64      `json:"id" db:"id"`
	SourceID        int64      `json:"source_id" db:"source_id"`
	Status          RunStatus  `json:"status" db:"status"`
	ProductsScraped int        `json:"products_scraped" db:"products_scraped"`
	ProductsFailed  int        `json:"products_failed" db:"products_failed"`
	ErrorMessage    string     `json:"error_message" db:"error_message"`
	DurationSeconds float64    `json:"duration_seconds" db:"duration_seconds"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	CompletedAt     *time.Time `json:"completed_at" db:"completed_at"`
}

type RunStatus string

const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailed  RunStatus = "FAILED"
	// RunStatusSkipped is never persisted: inactive sources produce no
	// run_logs row, only an in-memory result.
	RunStatusSkipped RunStatus = "SKIPPED"
)

// Image mirror status
const (
	ImageStatusPending  = "pending"
	ImageStatusMirrored = "mirrored"
	ImageStatusFailed   = "failed"
)

// ScrapeResult is what the orchestrator hands back to the control plane.
type ScrapeResult struct {
	SourceID        int64         `json:"source_id"`
	SourceName      string        `json:"source_name"`
	Status          RunStatus     `json:"status"`
	ProductsScraped int           `json:"products_scraped"`
	ProductsFailed  int           `json:"products_failed"`
	Duration        time.Duration `json:"duration"`
	Errors          []string      `json:"errors,omitempty"`
}
