package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"pricebasket/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// Sources (read-only, owned by the catalog subsystem)
// =============================================================================

func (s *PostgresStore) GetSource(ctx context.Context, id int64) (*models.Source, error) {
	query := `SELECT id, name, is_active, adapter, currency FROM sources WHERE id = $1`

	var src models.Source
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&src.ID, &src.Name, &src.IsActive, &src.Adapter, &src.Currency,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &src, nil
}

func (s *PostgresStore) GetActiveSources(ctx context.Context) ([]models.Source, error) {
	query := `SELECT id, name, is_active, adapter, currency FROM sources WHERE is_active ORDER BY id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []models.Source
	for rows.Next() {
		var src models.Source
		if err := rows.Scan(&src.ID, &src.Name, &src.IsActive, &src.Adapter, &src.Currency); err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// =============================================================================
// Products
// =============================================================================

func (s *PostgresStore) UpsertProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (
			id, name, normalized_name, brand, unit, unit_quantity,
			image_url, category, image_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			normalized_name = EXCLUDED.normalized_name,
			brand = COALESCE(NULLIF(EXCLUDED.brand, ''), products.brand),
			unit = COALESCE(NULLIF(EXCLUDED.unit, ''), products.unit),
			unit_quantity = COALESCE(EXCLUDED.unit_quantity, products.unit_quantity),
			image_url = COALESCE(NULLIF(EXCLUDED.image_url, ''), products.image_url),
			category = COALESCE(NULLIF(EXCLUDED.category, ''), products.category),
			updated_at = NOW()
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		p.ID, p.Name, p.NormalizedName, p.Brand, p.Unit, p.UnitQuantity,
		p.ImageURL, p.Category, p.ImageStatus, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
}

func (s *PostgresStore) GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	query := `
		SELECT id, name, normalized_name, brand, unit, unit_quantity,
			image_url, category, image_status, created_at, updated_at
		FROM products WHERE id = $1`

	var p models.Product
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.NormalizedName, &p.Brand, &p.Unit, &p.UnitQuantity,
		&p.ImageURL, &p.Category, &p.ImageStatus, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindProductByName matches on (normalized_name, brand). Used only for
// listings that carry no source-native id.
func (s *PostgresStore) FindProductByName(ctx context.Context, normalizedName, brand string) (*models.Product, error) {
	query := `
		SELECT id, name, normalized_name, brand, unit, unit_quantity,
			image_url, category, image_status, created_at, updated_at
		FROM products
		WHERE normalized_name = $1 AND lower(brand) = lower($2)
		LIMIT 1`

	var p models.Product
	err := s.pool.QueryRow(ctx, query, normalizedName, brand).Scan(
		&p.ID, &p.Name, &p.NormalizedName, &p.Brand, &p.Unit, &p.UnitQuantity,
		&p.ImageURL, &p.Category, &p.ImageStatus, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertProductsBatch sends all product upserts in one round trip.
func (s *PostgresStore) UpsertProductsBatch(ctx context.Context, products []*models.Product) error {
	if len(products) == 0 {
		return nil
	}

	query := `
		INSERT INTO products (
			id, name, normalized_name, brand, unit, unit_quantity,
			image_url, category, image_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			normalized_name = EXCLUDED.normalized_name,
			brand = COALESCE(NULLIF(EXCLUDED.brand, ''), products.brand),
			unit = COALESCE(NULLIF(EXCLUDED.unit, ''), products.unit),
			unit_quantity = COALESCE(EXCLUDED.unit_quantity, products.unit_quantity),
			image_url = COALESCE(NULLIF(EXCLUDED.image_url, ''), products.image_url),
			category = COALESCE(NULLIF(EXCLUDED.category, ''), products.category),
			updated_at = NOW()`

	batch := &pgx.Batch{}
	for _, p := range products {
		batch.Queue(query,
			p.ID, p.Name, p.NormalizedName, p.Brand, p.Unit, p.UnitQuantity,
			p.ImageURL, p.Category, p.ImageStatus, p.CreatedAt, p.UpdatedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range products {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch upsert product: %w", err)
		}
	}
	return nil
}

// =============================================================================
// Product mappings
// =============================================================================

// GetMappingsByExternalIDs fetches every existing mapping for the given
// external ids in a single query, keyed by external id.
func (s *PostgresStore) GetMappingsByExternalIDs(ctx context.Context, sourceID int64, externalIDs []string) (map[string]*models.ProductMapping, error) {
	if len(externalIDs) == 0 {
		return map[string]*models.ProductMapping{}, nil
	}

	query := `
		SELECT id, product_id, source_id, external_id, url, last_scraped_at, created_at
		FROM product_mappings
		WHERE source_id = $1 AND external_id = ANY($2)`

	rows, err := s.pool.Query(ctx, query, sourceID, externalIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	mappings := make(map[string]*models.ProductMapping, len(externalIDs))
	for rows.Next() {
		var m models.ProductMapping
		if err := rows.Scan(&m.ID, &m.ProductID, &m.SourceID, &m.ExternalID, &m.URL, &m.LastScrapedAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		if m.ExternalID != nil {
			mappings[*m.ExternalID] = &m
		}
	}
	return mappings, rows.Err()
}

func (s *PostgresStore) GetMappingByExternalID(ctx context.Context, sourceID int64, externalID string) (*models.ProductMapping, error) {
	query := `
		SELECT id, product_id, source_id, external_id, url, last_scraped_at, created_at
		FROM product_mappings
		WHERE source_id = $1 AND external_id = $2`

	var m models.ProductMapping
	err := s.pool.QueryRow(ctx, query, sourceID, externalID).Scan(
		&m.ID, &m.ProductID, &m.SourceID, &m.ExternalID, &m.URL, &m.LastScrapedAt, &m.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) GetMappingForProduct(ctx context.Context, productID uuid.UUID, sourceID int64) (*models.ProductMapping, error) {
	query := `
		SELECT id, product_id, source_id, external_id, url, last_scraped_at, created_at
		FROM product_mappings
		WHERE product_id = $1 AND source_id = $2`

	var m models.ProductMapping
	err := s.pool.QueryRow(ctx, query, productID, sourceID).Scan(
		&m.ID, &m.ProductID, &m.SourceID, &m.ExternalID, &m.URL, &m.LastScrapedAt, &m.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertMapping resolves conflicts on (source_id, external_id) when an
// external id is present, falling back to the (product_id, source_id)
// constraint otherwise. The stored row's id and product_id win over the
// caller's generated ones, so a concurrent insert of the same listing
// converges on one mapping.
func (s *PostgresStore) UpsertMapping(ctx context.Context, m *models.ProductMapping) error {
	var query string
	if m.ExternalID != nil {
		query = `
			INSERT INTO product_mappings (id, product_id, source_id, external_id, url, last_scraped_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (source_id, external_id) WHERE external_id IS NOT NULL DO UPDATE SET
				url = COALESCE(NULLIF(EXCLUDED.url, ''), product_mappings.url),
				last_scraped_at = EXCLUDED.last_scraped_at
			RETURNING id, product_id`
	} else {
		query = `
			INSERT INTO product_mappings (id, product_id, source_id, external_id, url, last_scraped_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (product_id, source_id) DO UPDATE SET
				url = COALESCE(NULLIF(EXCLUDED.url, ''), product_mappings.url),
				last_scraped_at = EXCLUDED.last_scraped_at
			RETURNING id, product_id`
	}

	return s.pool.QueryRow(ctx, query,
		m.ID, m.ProductID, m.SourceID, m.ExternalID, m.URL, m.LastScrapedAt, m.CreatedAt,
	).Scan(&m.ID, &m.ProductID)
}

// UpsertMappingsBatch upserts a page's mappings in one round trip. Each
// mapping's ID and ProductID are overwritten with the stored row's values,
// which is what the price insert that follows must reference.
func (s *PostgresStore) UpsertMappingsBatch(ctx context.Context, mappings []*models.ProductMapping) error {
	if len(mappings) == 0 {
		return nil
	}

	query := `
		INSERT INTO product_mappings (id, product_id, source_id, external_id, url, last_scraped_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_id, external_id) WHERE external_id IS NOT NULL DO UPDATE SET
			url = COALESCE(NULLIF(EXCLUDED.url, ''), product_mappings.url),
			last_scraped_at = EXCLUDED.last_scraped_at
		RETURNING id, product_id`

	batch := &pgx.Batch{}
	for _, m := range mappings {
		batch.Queue(query, m.ID, m.ProductID, m.SourceID, m.ExternalID, m.URL, m.LastScrapedAt, m.CreatedAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for _, m := range mappings {
		if err := br.QueryRow().Scan(&m.ID, &m.ProductID); err != nil {
			return fmt.Errorf("batch upsert mapping: %w", err)
		}
	}
	return nil
}

// =============================================================================
// Prices (append-only)
// =============================================================================

func (s *PostgresStore) InsertPrice(ctx context.Context, p *models.Price) error {
	query := `
		INSERT INTO prices (mapping_id, price, currency, original_price, is_on_sale, price_per_unit, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		p.MappingID, p.Price, p.Currency, p.OriginalPrice, p.IsOnSale, p.PricePerUnit, p.ScrapedAt,
	).Scan(&p.ID)
}

// InsertPrices bulk-loads a page's observations with COPY. Prices are never
// updated, so there is no conflict target to worry about.
func (s *PostgresStore) InsertPrices(ctx context.Context, prices []models.Price) error {
	if len(prices) == 0 {
		return nil
	}

	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"prices"},
		[]string{"mapping_id", "price", "currency", "original_price", "is_on_sale", "price_per_unit", "scraped_at"},
		pgx.CopyFromSlice(len(prices), func(i int) ([]any, error) {
			p := prices[i]
			return []any{p.MappingID, p.Price, p.Currency, p.OriginalPrice, p.IsOnSale, p.PricePerUnit, p.ScrapedAt}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy prices: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLatestPrice(ctx context.Context, mappingID uuid.UUID) (*models.Price, error) {
	query := `
		SELECT id, mapping_id, price, currency, original_price, is_on_sale, price_per_unit, scraped_at
		FROM prices
		WHERE mapping_id = $1
		ORDER BY scraped_at DESC
		LIMIT 1`

	var p models.Price
	err := s.pool.QueryRow(ctx, query, mappingID).Scan(
		&p.ID, &p.MappingID, &p.Price, &p.Currency, &p.OriginalPrice, &p.IsOnSale, &p.PricePerUnit, &p.ScrapedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// =============================================================================
// Run logs
// =============================================================================

func (s *PostgresStore) CreateRunLog(ctx context.Context, run *models.RunLog) error {
	query := `
		INSERT INTO run_logs (source_id, status, products_scraped, products_failed, error_message, duration_seconds, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	return s.pool.QueryRow(ctx, query,
		run.SourceID, run.Status, run.ProductsScraped, run.ProductsFailed,
		run.ErrorMessage, run.DurationSeconds, run.StartedAt,
	).Scan(&run.ID)
}

func (s *PostgresStore) FinalizeRunLog(ctx context.Context, run *models.RunLog) error {
	query := `
		UPDATE run_logs SET
			status = $2, products_scraped = $3, products_failed = $4,
			error_message = $5, duration_seconds = $6, completed_at = $7
		WHERE id = $1`

	_, err := s.pool.Exec(ctx, query,
		run.ID, run.Status, run.ProductsScraped, run.ProductsFailed,
		run.ErrorMessage, run.DurationSeconds, run.CompletedAt,
	)
	return err
}

// =============================================================================
// Image mirror queue
// =============================================================================

func (s *PostgresStore) GetProductsPendingImages(ctx context.Context, limit int) ([]models.Product, error) {
	query := `
		SELECT id, name, normalized_name, brand, unit, unit_quantity,
			image_url, category, image_status, created_at, updated_at
		FROM products
		WHERE image_status = 'pending' AND image_url <> ''
		ORDER BY updated_at
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(
			&p.ID, &p.Name, &p.NormalizedName, &p.Brand, &p.Unit, &p.UnitQuantity,
			&p.ImageURL, &p.Category, &p.ImageStatus, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *PostgresStore) UpdateProductImage(ctx context.Context, id uuid.UUID, imageURL, status string) error {
	query := `UPDATE products SET image_url = COALESCE(NULLIF($2, ''), image_url), image_status = $3, updated_at = NOW() WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id, imageURL, status)
	return err
}
