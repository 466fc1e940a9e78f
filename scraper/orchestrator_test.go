package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"pricebasket/config"
	"pricebasket/models"
	"pricebasket/services"
	"pricebasket/storage"
)

type fakeRunStore struct {
	mu        sync.Mutex
	sources   map[int64]*models.Source
	created   []*models.RunLog
	finalized []*models.RunLog
	nextRunID int64
}

func newFakeRunStore(sources ...models.Source) *fakeRunStore {
	s := &fakeRunStore{sources: make(map[int64]*models.Source)}
	for i := range sources {
		src := sources[i]
		s.sources[src.ID] = &src
	}
	return s
}

func (s *fakeRunStore) GetSource(ctx context.Context, id int64) (*models.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return nil, nil
	}
	cp := *src
	return &cp, nil
}

func (s *fakeRunStore) GetActiveSources(ctx context.Context) ([]models.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Source
	for _, src := range s.sources {
		if src.IsActive {
			out = append(out, *src)
		}
	}
	return out, nil
}

func (s *fakeRunStore) CreateRunLog(ctx context.Context, run *models.RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRunID++
	run.ID = s.nextRunID
	cp := *run
	s.created = append(s.created, &cp)
	return nil
}

func (s *fakeRunStore) FinalizeRunLog(ctx context.Context, run *models.RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.finalized = append(s.finalized, &cp)
	return nil
}

// memStore is a minimal in-memory services.Store for wiring a real
// reconciler under the orchestrator.
type memStore struct {
	mu       sync.Mutex
	products map[uuid.UUID]*models.Product
	mappings []*models.ProductMapping
	prices   []models.Price
}

func newMemStore() *memStore {
	return &memStore{products: make(map[uuid.UUID]*models.Product)}
}

func (m *memStore) GetMappingsByExternalIDs(ctx context.Context, sourceID int64, externalIDs []string) (map[string]*models.ProductMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*models.ProductMapping)
	for _, id := range externalIDs {
		for _, mp := range m.mappings {
			if mp.SourceID == sourceID && mp.ExternalID != nil && *mp.ExternalID == id {
				cp := *mp
				out[id] = &cp
			}
		}
	}
	return out, nil
}

func (m *memStore) GetMappingByExternalID(ctx context.Context, sourceID int64, externalID string) (*models.ProductMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mp := range m.mappings {
		if mp.SourceID == sourceID && mp.ExternalID != nil && *mp.ExternalID == externalID {
			cp := *mp
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindProductByName(ctx context.Context, normalizedName, brand string) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.NormalizedName == normalizedName {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) UpsertProduct(ctx context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *memStore) UpsertProductsBatch(ctx context.Context, products []*models.Product) error {
	for _, p := range products {
		if err := m.UpsertProduct(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) UpsertMapping(ctx context.Context, mp *models.ProductMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.mappings {
		if existing.SourceID == mp.SourceID && existing.ExternalID != nil && mp.ExternalID != nil && *existing.ExternalID == *mp.ExternalID {
			mp.ID = existing.ID
			mp.ProductID = existing.ProductID
			return nil
		}
	}
	cp := *mp
	m.mappings = append(m.mappings, &cp)
	return nil
}

func (m *memStore) UpsertMappingsBatch(ctx context.Context, mappings []*models.ProductMapping) error {
	for _, mp := range mappings {
		if err := m.UpsertMapping(ctx, mp); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) InsertPrice(ctx context.Context, p *models.Price) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices = append(m.prices, *p)
	return nil
}

func (m *memStore) InsertPrices(ctx context.Context, prices []models.Price) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices = append(m.prices, prices...)
	return nil
}

type fakeAdapter struct {
	id          int64
	initErr     error
	categoryErr map[string]error
	listings    []models.RawListing
	cleanedUp   bool
}

func (a *fakeAdapter) SourceID() int64 { return a.id }

func (a *fakeAdapter) Initialize(ctx context.Context) error { return a.initErr }

func (a *fakeAdapter) Cleanup() { a.cleanedUp = true }

func (a *fakeAdapter) ScrapeCategory(ctx context.Context, category string, onPage PageFunc) (models.PageStats, error) {
	var stats models.PageStats
	if err := a.categoryErr[category]; err != nil {
		return stats, err
	}
	count, failed, err := onPage(ctx, a.listings, models.PageInfo{Category: category, Page: 1})
	if err != nil {
		return stats, err
	}
	stats.Pages = 1
	stats.Scraped = count
	stats.Failed = failed
	return stats, nil
}

func testListings(sourceID int64, n int) []models.RawListing {
	var out []models.RawListing
	for i := 0; i < n; i++ {
		out = append(out, models.RawListing{
			ExternalID: fmt.Sprintf("s%d-p%d", sourceID, i),
			Name:       fmt.Sprintf("Product %d-%d", sourceID, i),
			Price:      float64(100 + i),
		})
	}
	return out
}

func testOrchestrator(store RunStore, sources map[int64]*config.SourceConfig, adapters map[int64]*fakeAdapter) (*Orchestrator, *memStore) {
	cfg := &config.Config{Sources: sources}
	cfg.Scraper.Concurrency = 2
	mem := newMemStore()
	o := NewOrchestrator(cfg, store, nil, services.NewReconcileService(mem))
	o.newAdapter = func(sc *config.SourceConfig, _ *storage.SQLiteStore) (Adapter, error) {
		a, ok := adapters[sc.ID]
		if !ok {
			return nil, fmt.Errorf("no adapter for source %d", sc.ID)
		}
		return a, nil
	}
	return o, mem
}

func sourceCfg(id int64, categories ...string) *config.SourceConfig {
	if len(categories) == 0 {
		categories = []string{"dairy"}
	}
	return &config.SourceConfig{ID: id, Adapter: "api", Categories: categories}
}

func TestRunSourceUnknown(t *testing.T) {
	o, _ := testOrchestrator(newFakeRunStore(), nil, nil)
	_, err := o.RunSource(context.Background(), 42)
	if !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestRunSourceInactiveSkipsRunLog(t *testing.T) {
	store := newFakeRunStore(models.Source{ID: 1, Name: "sleepy", IsActive: false})
	o, _ := testOrchestrator(store, map[int64]*config.SourceConfig{1: sourceCfg(1)}, nil)

	result, err := o.RunSource(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ProductsScraped != 0 || len(result.Errors) != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
	if result.Status != models.RunStatusSkipped {
		t.Errorf("expected SKIPPED status, got %q", result.Status)
	}
	if len(store.created) != 0 {
		t.Errorf("inactive source must not create a run log, got %d", len(store.created))
	}
}

func TestRunSourceDuplicateListingsNotCountedFailed(t *testing.T) {
	store := newFakeRunStore(models.Source{ID: 1, Name: "shop", IsActive: true})
	listings := testListings(1, 2)
	listings = append(listings, listings[0])
	adapters := map[int64]*fakeAdapter{1: {id: 1, listings: listings}}
	o, mem := testOrchestrator(store, map[int64]*config.SourceConfig{1: sourceCfg(1)}, adapters)

	result, err := o.RunSource(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The repeated external id collapses to one listing; that is dedup,
	// not failure, and both counters must agree on it.
	if result.ProductsScraped != 2 {
		t.Errorf("expected 2 scraped, got %d", result.ProductsScraped)
	}
	if result.ProductsFailed != 0 {
		t.Errorf("expected 0 failed, got %d", result.ProductsFailed)
	}
	if len(store.finalized) != 1 || store.finalized[0].ProductsFailed != 0 {
		t.Errorf("run log disagrees with result: %+v", store.finalized)
	}
	if len(mem.prices) != 2 {
		t.Errorf("expected 2 price rows, got %d", len(mem.prices))
	}
}

func TestRunSourceSuccess(t *testing.T) {
	store := newFakeRunStore(models.Source{ID: 1, Name: "shop", IsActive: true, Currency: "EUR"})
	adapters := map[int64]*fakeAdapter{1: {id: 1, listings: testListings(1, 3)}}
	o, mem := testOrchestrator(store, map[int64]*config.SourceConfig{1: sourceCfg(1)}, adapters)

	result, err := o.RunSource(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.RunStatusSuccess {
		t.Errorf("expected SUCCESS, got %s", result.Status)
	}
	if result.ProductsScraped != 3 {
		t.Errorf("expected 3 scraped, got %d", result.ProductsScraped)
	}
	if len(mem.prices) != 3 {
		t.Errorf("expected 3 price rows, got %d", len(mem.prices))
	}
	if !adapters[1].cleanedUp {
		t.Error("adapter not cleaned up")
	}

	if len(store.finalized) != 1 {
		t.Fatalf("expected run log finalized once, got %d", len(store.finalized))
	}
	run := store.finalized[0]
	if run.Status != models.RunStatusSuccess || run.ProductsScraped != 3 || run.CompletedAt == nil {
		t.Errorf("run log not finalized correctly: %+v", run)
	}
}

func TestRunSourceInitFailureFinalizesRunLog(t *testing.T) {
	store := newFakeRunStore(models.Source{ID: 1, Name: "shop", IsActive: true})
	adapters := map[int64]*fakeAdapter{1: {id: 1, initErr: errors.New("browser launch failed")}}
	o, _ := testOrchestrator(store, map[int64]*config.SourceConfig{1: sourceCfg(1)}, adapters)

	result, err := o.RunSource(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.RunStatusFailed {
		t.Errorf("expected FAILED, got %s", result.Status)
	}
	if len(store.finalized) != 1 {
		t.Fatalf("expected one finalized run log, got %d", len(store.finalized))
	}
	run := store.finalized[0]
	if run.Status != models.RunStatusFailed || run.ErrorMessage == "" || run.CompletedAt == nil {
		t.Errorf("run log not finalized as failed: %+v", run)
	}
	if !adapters[1].cleanedUp {
		t.Error("adapter must be cleaned up even when initialization fails")
	}
}

func TestRunSourceCategoryFailureContained(t *testing.T) {
	store := newFakeRunStore(models.Source{ID: 1, Name: "shop", IsActive: true})
	adapters := map[int64]*fakeAdapter{1: {
		id:          1,
		listings:    testListings(1, 2),
		categoryErr: map[string]error{"bakery": errors.New("selector timeout")},
	}}
	o, mem := testOrchestrator(store, map[int64]*config.SourceConfig{1: sourceCfg(1, "dairy", "bakery", "pantry")}, adapters)

	result, err := o.RunSource(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.RunStatusSuccess {
		t.Errorf("partial failure should still be SUCCESS, got %s", result.Status)
	}
	if len(result.Errors) != 1 {
		t.Errorf("expected 1 category error, got %v", result.Errors)
	}
	// dairy and pantry both persisted the same external ids, so products
	// dedupe and prices accumulate.
	if len(mem.mappings) != 2 {
		t.Errorf("expected 2 mappings, got %d", len(mem.mappings))
	}
	if len(mem.prices) != 4 {
		t.Errorf("expected 4 price rows across 2 categories, got %d", len(mem.prices))
	}
}

func TestRunSourceAllCategoriesFailed(t *testing.T) {
	store := newFakeRunStore(models.Source{ID: 1, Name: "shop", IsActive: true})
	adapters := map[int64]*fakeAdapter{1: {
		id: 1,
		categoryErr: map[string]error{
			"dairy":  errors.New("blocked"),
			"bakery": errors.New("blocked"),
		},
	}}
	o, _ := testOrchestrator(store, map[int64]*config.SourceConfig{1: sourceCfg(1, "dairy", "bakery")}, adapters)

	result, err := o.RunSource(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != models.RunStatusFailed {
		t.Errorf("expected FAILED when every category fails, got %s", result.Status)
	}
}

func TestRunAllFaultIsolation(t *testing.T) {
	var sources []models.Source
	configs := make(map[int64]*config.SourceConfig)
	adapters := make(map[int64]*fakeAdapter)
	for id := int64(1); id <= 5; id++ {
		sources = append(sources, models.Source{ID: id, Name: fmt.Sprintf("shop-%d", id), IsActive: true})
		configs[id] = sourceCfg(id)
		a := &fakeAdapter{id: id, listings: testListings(id, 2)}
		if id == 3 {
			a.initErr = errors.New("proxy refused")
		}
		adapters[id] = a
	}
	store := newFakeRunStore(sources...)
	o, _ := testOrchestrator(store, configs, adapters)

	results, err := o.RunAll(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("expected one result per source, got %d", len(results))
	}

	failed := 0
	for _, r := range results {
		if r.Status == models.RunStatusFailed {
			failed++
			if r.SourceID != 3 {
				t.Errorf("unexpected failed source %d", r.SourceID)
			}
		}
	}
	if failed != 1 {
		t.Errorf("expected exactly 1 failed source, got %d", failed)
	}
	if len(store.finalized) != 5 {
		t.Errorf("expected every run log finalized, got %d", len(store.finalized))
	}
}

func TestRunAllSkipsWhenPaused(t *testing.T) {
	store := newFakeRunStore(models.Source{ID: 1, Name: "shop", IsActive: true})
	o, _ := testOrchestrator(store, map[int64]*config.SourceConfig{1: sourceCfg(1)}, nil)

	o.setPaused(true)
	results, err := o.RunAll(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results != nil {
		t.Errorf("expected no results while paused, got %d", len(results))
	}
	if len(store.created) != 0 {
		t.Error("paused run must not touch the run log")
	}
}
