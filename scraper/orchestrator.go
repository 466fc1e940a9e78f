package scraper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"pricebasket/config"
	"pricebasket/models"
	"pricebasket/services"
	"pricebasket/storage"
)

// Configuration failures abort a run before any run log or adapter work.
var (
	ErrUnknownSource  = errors.New("unknown source")
	ErrNoSourceConfig = errors.New("no scraping config for source")
)

// RunStore is the subset of the database the orchestrator needs:
// source lookup and the run-log lifecycle.
type RunStore interface {
	GetSource(ctx context.Context, id int64) (*models.Source, error)
	GetActiveSources(ctx context.Context) ([]models.Source, error)
	CreateRunLog(ctx context.Context, run *models.RunLog) error
	FinalizeRunLog(ctx context.Context, run *models.RunLog) error
}

type Orchestrator struct {
	cfg        *config.Config
	store      RunStore
	ops        *storage.SQLiteStore
	reconciler *services.ReconcileService
	newAdapter func(*config.SourceConfig, *storage.SQLiteStore) (Adapter, error)

	mu     sync.Mutex
	paused bool
}

func NewOrchestrator(cfg *config.Config, store RunStore, ops *storage.SQLiteStore, reconciler *services.ReconcileService) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		ops:        ops,
		reconciler: reconciler,
		newAdapter: NewAdapter,
	}
}

// RunSource executes a full scrape of one source: run-log lifecycle,
// adapter lifecycle with guaranteed cleanup, result aggregation. An
// inactive source returns an empty result without touching the run log.
// Every other path finalizes the run log exactly once.
func (o *Orchestrator) RunSource(ctx context.Context, sourceID int64) (*models.ScrapeResult, error) {
	src, err := o.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("load source %d: %w", sourceID, err)
	}
	if src == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSource, sourceID)
	}
	if !src.IsActive {
		log.Printf("Source %d (%s) is inactive, skipping", src.ID, src.Name)
		return &models.ScrapeResult{SourceID: src.ID, SourceName: src.Name, Status: models.RunStatusSkipped}, nil
	}

	srcCfg, ok := o.cfg.Sources[src.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoSourceConfig, src.ID)
	}

	run := &models.RunLog{
		SourceID:  src.ID,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now(),
	}
	if err := o.store.CreateRunLog(ctx, run); err != nil {
		return nil, fmt.Errorf("create run log: %w", err)
	}

	result := &models.ScrapeResult{
		SourceID:   src.ID,
		SourceName: src.Name,
		Status:     models.RunStatusSuccess,
	}

	// Finalize exactly once, whatever happens below.
	defer func() {
		now := time.Now()
		run.Status = result.Status
		run.ProductsScraped = result.ProductsScraped
		run.ProductsFailed = result.ProductsFailed
		run.DurationSeconds = now.Sub(run.StartedAt).Seconds()
		run.CompletedAt = &now
		if len(result.Errors) > 0 {
			run.ErrorMessage = result.Errors[len(result.Errors)-1]
		}
		result.Duration = now.Sub(run.StartedAt)
		if err := o.store.FinalizeRunLog(context.WithoutCancel(ctx), run); err != nil {
			log.Printf("Warning: failed to finalize run %d: %v", run.ID, err)
		}
		o.log(&run.ID, models.LogLevelInfo,
			fmt.Sprintf("Run finished: %s, %d scraped, %d failed",
				run.Status, run.ProductsScraped, run.ProductsFailed), src.ID)
	}()

	adapter, err := o.newAdapter(srcCfg, o.ops)
	if err != nil {
		result.Status = models.RunStatusFailed
		result.Errors = append(result.Errors, err.Error())
		return result, nil
	}
	defer adapter.Cleanup()

	o.log(&run.ID, models.LogLevelInfo, fmt.Sprintf("Starting scrape for %s", src.Name), src.ID)

	if err := adapter.Initialize(ctx); err != nil {
		result.Status = models.RunStatusFailed
		result.Errors = append(result.Errors, fmt.Sprintf("initialize: %v", err))
		return result, nil
	}

	onPage := func(ctx context.Context, listings []models.RawListing, page models.PageInfo) (int, int, error) {
		pageResult, err := o.reconciler.ProcessPage(ctx, *src, listings)
		if err != nil {
			return 0, 0, err
		}
		result.ProductsScraped += pageResult.Processed
		result.ProductsFailed += pageResult.Failed
		return pageResult.Processed, pageResult.Failed, nil
	}

	failedCategories := 0
	for _, category := range srcCfg.Categories {
		stats, err := adapter.ScrapeCategory(ctx, category, onPage)
		if err != nil {
			// Retries are exhausted at this point; skip the category and
			// keep the partial results.
			failedCategories++
			result.Errors = append(result.Errors, fmt.Sprintf("category %s: %v", category, err))
			o.log(&run.ID, models.LogLevelError,
				fmt.Sprintf("Category %s failed: %v", category, err), src.ID)
			continue
		}
		o.log(&run.ID, models.LogLevelInfo,
			fmt.Sprintf("Category %s: %d pages, %d scraped, %d failed in %s",
				category, stats.Pages, stats.Scraped, stats.Failed,
				time.Since(stats.StartedAt).Round(time.Second)), src.ID)
	}

	if failedCategories == len(srcCfg.Categories) && len(srcCfg.Categories) > 0 {
		result.Status = models.RunStatusFailed
	}

	return result, nil
}

// RunAll scrapes every active source under a bounded worker pool. A failing
// source is reported in its own result and never cancels its siblings.
func (o *Orchestrator) RunAll(ctx context.Context, concurrency int) ([]*models.ScrapeResult, error) {
	if o.IsPaused() {
		log.Println("Scraper is paused, skipping run")
		return nil, nil
	}
	if concurrency < 1 {
		concurrency = 1
	}

	sources, err := o.store.GetActiveSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active sources: %w", err)
	}

	queue := make(chan models.Source)
	resultCh := make(chan *models.ScrapeResult, len(sources))

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for src := range queue {
				result, err := o.RunSource(ctx, src.ID)
				if err != nil {
					log.Printf("Source %d (%s) failed: %v", src.ID, src.Name, err)
					result = &models.ScrapeResult{
						SourceID:   src.ID,
						SourceName: src.Name,
						Status:     models.RunStatusFailed,
						Errors:     []string{err.Error()},
					}
				}
				resultCh <- result
			}
		}()
	}

	for _, src := range sources {
		queue <- src
	}
	close(queue)
	wg.Wait()
	close(resultCh)

	var results []*models.ScrapeResult
	for r := range resultCh {
		results = append(results, r)
	}
	return results, nil
}

func (o *Orchestrator) HandleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := o.ops.ParseCommandParams(cmd)
	if err != nil {
		return err
	}

	switch cmd.Command {
	case models.CmdScrapeNow:
		_, err := o.RunAll(ctx, o.cfg.Scraper.Concurrency)
		return err
	case models.CmdScrapeSource:
		if params.SourceID != 0 {
			_, err := o.RunSource(ctx, params.SourceID)
			return err
		}
		_, err := o.RunAll(ctx, o.cfg.Scraper.Concurrency)
		return err
	case models.CmdPause:
		o.setPaused(true)
		log.Println("Scraper paused")
	case models.CmdResume:
		o.setPaused(false)
		log.Println("Scraper resumed")
	}

	return nil
}

func (o *Orchestrator) IsPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

func (o *Orchestrator) setPaused(v bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = v
}

func (o *Orchestrator) log(runID *int64, level models.LogLevel, message string, sourceID int64) {
	log.Printf("[%s] source %d: %s", level, sourceID, message)
	if o.ops != nil {
		if err := o.ops.Log(runID, level, message, sourceID); err != nil {
			log.Printf("Warning: failed to write ops log: %v", err)
		}
	}
}
