package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"pricebasket/models"
	"pricebasket/normalize"
)

// ErrBadListing marks a single listing that cannot be reconciled (missing
// name, non-positive price). The record is counted failed and the rest of
// its page proceeds.
var ErrBadListing = errors.New("listing missing required fields")

// Store is the persistence surface the reconciler needs. Implemented by
// storage.PostgresStore; tests substitute an in-memory fake.
type Store interface {
	GetMappingsByExternalIDs(ctx context.Context, sourceID int64, externalIDs []string) (map[string]*models.ProductMapping, error)
	GetMappingByExternalID(ctx context.Context, sourceID int64, externalID string) (*models.ProductMapping, error)
	FindProductByName(ctx context.Context, normalizedName, brand string) (*models.Product, error)
	UpsertProduct(ctx context.Context, p *models.Product) error
	UpsertProductsBatch(ctx context.Context, products []*models.Product) error
	UpsertMapping(ctx context.Context, m *models.ProductMapping) error
	UpsertMappingsBatch(ctx context.Context, mappings []*models.ProductMapping) error
	InsertPrice(ctx context.Context, p *models.Price) error
	InsertPrices(ctx context.Context, prices []models.Price) error
}

// ReconcileService resolves raw listings to durable product and mapping
// identities and appends price observations.
type ReconcileService struct {
	store Store
}

func NewReconcileService(store Store) *ReconcileService {
	return &ReconcileService{store: store}
}

// PageResult is the outcome of persisting one page of listings.
type PageResult struct {
	Processed   int
	Failed      int
	NewProducts int
	NewMappings int
}

// ProcessPage persists a page of raw listings for a source. Listings that
// carry a source-native external id go through the set-based bulk path;
// the rest are resolved per record via fuzzy name matching. A bulk failure
// degrades to per-record persistence so one malformed row cannot spoil the
// page. Safe to call again for the same page: identities are reused and
// only price rows accumulate.
func (s *ReconcileService) ProcessPage(ctx context.Context, source models.Source, listings []models.RawListing) (*PageResult, error) {
	result := &PageResult{}
	now := time.Now()

	var keyed []models.RawListing
	var unkeyed []models.RawListing
	seen := make(map[string]int)
	for _, l := range listings {
		if l.Name == "" || l.Price <= 0 {
			result.Failed++
			continue
		}
		if l.ExternalID == "" {
			unkeyed = append(unkeyed, l)
			continue
		}
		// Last sighting wins when one page repeats an external id.
		if i, ok := seen[l.ExternalID]; ok {
			keyed[i] = l
			continue
		}
		seen[l.ExternalID] = len(keyed)
		keyed = append(keyed, l)
	}

	if len(keyed) > 0 {
		if err := s.processBulk(ctx, source, keyed, now, result); err != nil {
			log.Printf("Bulk path failed for source %d (%d listings), falling back per-record: %v",
				source.ID, len(keyed), err)
			for _, l := range keyed {
				if err := s.processOne(ctx, source, l, now, result); err != nil {
					log.Printf("Listing %q (%s) dropped: %v", l.Name, l.ExternalID, err)
					result.Failed++
				}
			}
		}
	}

	for _, l := range unkeyed {
		if err := s.processOne(ctx, source, l, now, result); err != nil {
			log.Printf("Listing %q dropped: %v", l.Name, err)
			result.Failed++
		}
	}

	return result, nil
}

// processBulk is the fast path: one mapping fetch for the whole batch, one
// product upsert batch, one mapping upsert batch, then all price rows.
// Price insertion must come last, after every mapping id is known.
func (s *ReconcileService) processBulk(ctx context.Context, source models.Source, listings []models.RawListing, now time.Time, result *PageResult) error {
	externalIDs := make([]string, len(listings))
	for i, l := range listings {
		externalIDs[i] = l.ExternalID
	}

	existing, err := s.store.GetMappingsByExternalIDs(ctx, source.ID, externalIDs)
	if err != nil {
		return fmt.Errorf("fetch mappings: %w", err)
	}

	products := make([]*models.Product, len(listings))
	mappings := make([]*models.ProductMapping, len(listings))
	newProducts := 0
	for i, l := range listings {
		p := buildProduct(l, now)
		externalID := l.ExternalID

		if m, ok := existing[externalID]; ok {
			p.ID = m.ProductID
			mappings[i] = &models.ProductMapping{
				ID:            m.ID,
				ProductID:     m.ProductID,
				SourceID:      source.ID,
				ExternalID:    &externalID,
				URL:           l.URL,
				LastScrapedAt: now,
				CreatedAt:     m.CreatedAt,
			}
		} else {
			p.ID = uuid.New()
			newProducts++
			mappings[i] = &models.ProductMapping{
				ID:            uuid.New(),
				ProductID:     p.ID,
				SourceID:      source.ID,
				ExternalID:    &externalID,
				URL:           l.URL,
				LastScrapedAt: now,
				CreatedAt:     now,
			}
		}
		products[i] = p
	}

	if err := s.store.UpsertProductsBatch(ctx, products); err != nil {
		return fmt.Errorf("upsert products: %w", err)
	}
	if err := s.store.UpsertMappingsBatch(ctx, mappings); err != nil {
		return fmt.Errorf("upsert mappings: %w", err)
	}

	prices := make([]models.Price, len(listings))
	for i, l := range listings {
		prices[i] = buildPrice(l, source, mappings[i].ID, now)
	}
	if err := s.store.InsertPrices(ctx, prices); err != nil {
		return fmt.Errorf("insert prices: %w", err)
	}

	result.Processed += len(listings)
	result.NewProducts += newProducts
	result.NewMappings += newProducts
	return nil
}

// processOne resolves and persists a single listing. The external id is the
// strongest identity signal; name matching is consulted only without one,
// so two pack sizes sharing a name never merge.
func (s *ReconcileService) processOne(ctx context.Context, source models.Source, l models.RawListing, now time.Time, result *PageResult) error {
	if l.Name == "" || l.Price <= 0 {
		return ErrBadListing
	}

	product := buildProduct(l, now)
	mapping := &models.ProductMapping{
		SourceID:      source.ID,
		URL:           l.URL,
		LastScrapedAt: now,
		CreatedAt:     now,
	}

	if l.ExternalID != "" {
		externalID := l.ExternalID
		mapping.ExternalID = &externalID

		m, err := s.store.GetMappingByExternalID(ctx, source.ID, externalID)
		if err != nil {
			return fmt.Errorf("get mapping: %w", err)
		}
		if m != nil {
			product.ID = m.ProductID
			mapping.ID = m.ID
			mapping.ProductID = m.ProductID
			mapping.CreatedAt = m.CreatedAt
		} else {
			product.ID = uuid.New()
			mapping.ID = uuid.New()
			mapping.ProductID = product.ID
			result.NewProducts++
			result.NewMappings++
		}
	} else {
		p, err := s.store.FindProductByName(ctx, product.NormalizedName, product.Brand)
		if err != nil {
			return fmt.Errorf("find product: %w", err)
		}
		if p != nil {
			product.ID = p.ID
		} else {
			product.ID = uuid.New()
			result.NewProducts++
		}
		mapping.ID = uuid.New()
		mapping.ProductID = product.ID
	}

	if err := s.store.UpsertProduct(ctx, product); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	if err := s.store.UpsertMapping(ctx, mapping); err != nil {
		return fmt.Errorf("upsert mapping: %w", err)
	}

	price := buildPrice(l, source, mapping.ID, now)
	if err := s.store.InsertPrice(ctx, &price); err != nil {
		return fmt.Errorf("insert price: %w", err)
	}

	result.Processed++
	return nil
}

// buildProduct maps a raw listing onto the canonical product shape,
// extracting a quantity from the name when the adapter did not supply one.
func buildProduct(l models.RawListing, now time.Time) *models.Product {
	unit := l.Unit
	qty := l.UnitQuantity
	if qty == nil {
		if q := normalize.ExtractQuantity(l.Name); q != nil {
			unit, v := normalize.NormalizeUnit(q.Unit, q.Value)
			return newProduct(l, unit, &v, now)
		}
		return newProduct(l, unit, nil, now)
	}

	u, v := normalize.NormalizeUnit(unit, *qty)
	return newProduct(l, u, &v, now)
}

func newProduct(l models.RawListing, unit string, qty *float64, now time.Time) *models.Product {
	imageStatus := ""
	if l.ImageURL != "" {
		imageStatus = models.ImageStatusPending
	}
	return &models.Product{
		Name:           l.Name,
		NormalizedName: normalize.NormalizeName(l.Name),
		Brand:          l.Brand,
		Unit:           unit,
		UnitQuantity:   qty,
		ImageURL:       l.ImageURL,
		Category:       l.Category,
		ImageStatus:    imageStatus,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func buildPrice(l models.RawListing, source models.Source, mappingID uuid.UUID, now time.Time) models.Price {
	var perUnit *float64
	if q := productQuantity(l); q != nil {
		perUnit = normalize.PricePerUnit(l.Price, q.Value, q.Unit)
	}

	return models.Price{
		MappingID:     mappingID,
		Price:         l.Price,
		Currency:      source.Currency,
		OriginalPrice: l.OriginalPrice,
		IsOnSale:      l.IsOnSale,
		PricePerUnit:  perUnit,
		ScrapedAt:     now,
	}
}

func productQuantity(l models.RawListing) *normalize.Quantity {
	if l.UnitQuantity != nil {
		return &normalize.Quantity{Value: *l.UnitQuantity, Unit: l.Unit}
	}
	return normalize.ExtractQuantity(l.Name)
}
