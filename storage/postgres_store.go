package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"complex-watch/models"
)

const listingColumns = 13

// PostgresStore persists generations, listings and changes to PostgreSQL.
// All tables are append-only apart from collection metadata and read flags.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresStore.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, fmt.Errorf("postgres: ping: %w", ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	ps := &PostgresStore{db: db}
	if err := ps.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return ps, nil
}

func (ps *PostgresStore) migrate(ctx context.Context) error {
	_, err := ps.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS collections (
			id          VARCHAR(50)  PRIMARY KEY,
			name        TEXT         NOT NULL DEFAULT '',
			households  INTEGER      NOT NULL DEFAULT 0,
			address     TEXT         NOT NULL DEFAULT '',
			updated_at  TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS generations (
			generation_id  VARCHAR(64)  PRIMARY KEY,
			collection_id  VARCHAR(50)  NOT NULL,
			captured_at    TIMESTAMPTZ  NOT NULL,
			listing_count  INTEGER      NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS generation_listings (
			generation_id   VARCHAR(64)  NOT NULL REFERENCES generations(generation_id),
			listing_id      VARCHAR(50)  NOT NULL,
			position        INTEGER      NOT NULL,
			collection_id   VARCHAR(50)  NOT NULL,
			trade_type      VARCHAR(20)  NOT NULL DEFAULT '',
			price_raw       VARCHAR(100) NOT NULL DEFAULT '',
			area_label      VARCHAR(50)  NOT NULL DEFAULT '',
			area_primary    DOUBLE PRECISION NOT NULL DEFAULT 0,
			floor_label     VARCHAR(50)  NOT NULL DEFAULT '',
			direction       VARCHAR(50)  NOT NULL DEFAULT '',
			building_label  VARCHAR(100) NOT NULL DEFAULT '',
			broker_label    VARCHAR(200) NOT NULL DEFAULT '',
			same_addr_count INTEGER      NOT NULL DEFAULT 1,
			PRIMARY KEY (generation_id, listing_id)
		);

		CREATE TABLE IF NOT EXISTS listing_changes (
			collection_id       VARCHAR(50)  NOT NULL,
			from_generation_id  VARCHAR(64)  NOT NULL,
			to_generation_id    VARCHAR(64)  NOT NULL,
			listing_id          VARCHAR(50)  NOT NULL,
			change_type         VARCHAR(20)  NOT NULL,
			old_price_raw       VARCHAR(100) NOT NULL DEFAULT '',
			new_price_raw       VARCHAR(100) NOT NULL DEFAULT '',
			price_delta_units   BIGINT       NOT NULL DEFAULT 0,
			price_delta_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			trade_type          VARCHAR(20)  NOT NULL DEFAULT '',
			area_label          VARCHAR(50)  NOT NULL DEFAULT '',
			building_label      VARCHAR(100) NOT NULL DEFAULT '',
			floor_label         VARCHAR(50)  NOT NULL DEFAULT '',
			detected_at         TIMESTAMPTZ  NOT NULL,
			is_read             BOOLEAN      NOT NULL DEFAULT FALSE,
			PRIMARY KEY (collection_id, from_generation_id, to_generation_id, listing_id, change_type)
		);

		CREATE TABLE IF NOT EXISTS transactions (
			collection_id    VARCHAR(50)  NOT NULL,
			trade_date       VARCHAR(8)   NOT NULL DEFAULT '',
			deal_price       BIGINT       NOT NULL,
			floor            INTEGER      NOT NULL DEFAULT 0,
			trade_type       VARCHAR(20)  NOT NULL DEFAULT '',
			formatted_price  VARCHAR(100) NOT NULL DEFAULT '',
			area             DOUBLE PRECISION NOT NULL DEFAULT 0,
			exclusive_area   DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at       TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection_id, trade_date, deal_price, floor)
		);

		CREATE INDEX IF NOT EXISTS idx_generations_collection ON generations(collection_id, captured_at DESC);
		CREATE INDEX IF NOT EXISTS idx_changes_detected       ON listing_changes(collection_id, detected_at DESC);
		CREATE INDEX IF NOT EXISTS idx_changes_unread         ON listing_changes(collection_id) WHERE NOT is_read;
	`)
	return err
}

// Commit writes a generation and all of its listings in one transaction.
func (ps *PostgresStore) Commit(ctx context.Context, gen *models.Generation) error {
	if gen == nil || gen.GenerationID == "" || gen.CollectionID == "" {
		return fmt.Errorf("postgres: commit: incomplete generation")
	}

	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: commit: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO generations (generation_id, collection_id, captured_at, listing_count)
		VALUES ($1, $2, $3, $4)
	`, gen.GenerationID, gen.CollectionID, gen.CapturedAt, len(gen.Records)); err != nil {
		return fmt.Errorf("postgres: commit: insert generation: %w", err)
	}

	const batchSize = 50
	for i := 0; i < len(gen.Records); i += batchSize {
		end := min(i+batchSize, len(gen.Records))
		if err := insertListingBatch(ctx, tx, gen.GenerationID, i, gen.Records[i:end]); err != nil {
			return fmt.Errorf("postgres: commit: insert listings: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func insertListingBatch(ctx context.Context, tx *sql.Tx, generationID string, offset int, batch []models.ListingRecord) error {
	query, args := buildListingInsert(generationID, offset, batch)
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// buildListingInsert renders one multi-row INSERT for batch. Positions start
// at offset so batches of one generation keep the session order.
func buildListingInsert(generationID string, offset int, batch []models.ListingRecord) (string, []interface{}) {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*listingColumns)

	for idx, l := range batch {
		valueStrings = append(valueStrings, placeholders(idx*listingColumns, listingColumns))
		valueArgs = append(valueArgs,
			generationID, l.ID, offset+idx, l.CollectionID, l.TradeType, l.PriceRaw,
			l.AreaLabel, l.AreaPrimary, l.FloorLabel, l.Direction, l.BuildingLabel, l.BrokerLabel,
			l.SameAddrCount)
	}

	query := fmt.Sprintf(`
		INSERT INTO generation_listings (generation_id, listing_id, position, collection_id, trade_type,
			price_raw, area_label, area_primary, floor_label, direction, building_label, broker_label,
			same_addr_count)
		VALUES %s
	`, strings.Join(valueStrings, ","))

	return query, valueArgs
}

func placeholders(base, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", base+i+1)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// LatestTwoGenerations loads the two newest generations of a collection.
func (ps *PostgresStore) LatestTwoGenerations(ctx context.Context, collectionID string) (*models.Generation, *models.Generation, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT generation_id, captured_at
		FROM generations
		WHERE collection_id = $1
		ORDER BY captured_at DESC, generation_id DESC
		LIMIT 2
	`, collectionID)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: latest generations: %w", err)
	}

	var gens []*models.Generation
	for rows.Next() {
		g := &models.Generation{CollectionID: collectionID}
		if err := rows.Scan(&g.GenerationID, &g.CapturedAt); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("postgres: scan generation: %w", err)
		}
		gens = append(gens, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("postgres: latest generations: %w", err)
	}

	if len(gens) < 2 {
		return nil, nil, nil
	}

	for _, g := range gens {
		records, err := ps.fetchListings(ctx, g.GenerationID)
		if err != nil {
			return nil, nil, err
		}
		g.Records = records
	}
	return gens[1], gens[0], nil
}

func (ps *PostgresStore) fetchListings(ctx context.Context, generationID string) ([]models.ListingRecord, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT listing_id, collection_id, trade_type, price_raw, area_label, area_primary,
			floor_label, direction, building_label, broker_label, same_addr_count
		FROM generation_listings
		WHERE generation_id = $1
		ORDER BY position
	`, generationID)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch listings: %w", err)
	}
	defer rows.Close()

	records := make([]models.ListingRecord, 0)
	for rows.Next() {
		var l models.ListingRecord
		if err := rows.Scan(
			&l.ID, &l.CollectionID, &l.TradeType, &l.PriceRaw, &l.AreaLabel, &l.AreaPrimary,
			&l.FloorLabel, &l.Direction, &l.BuildingLabel, &l.BrokerLabel, &l.SameAddrCount,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		records = append(records, l)
	}
	return records, rows.Err()
}

// SaveChanges appends change records; records already stored are skipped.
func (ps *PostgresStore) SaveChanges(ctx context.Context, changes []models.ChangeRecord) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: save changes: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO listing_changes (collection_id, from_generation_id, to_generation_id, listing_id,
			change_type, old_price_raw, new_price_raw, price_delta_units, price_delta_percent,
			trade_type, area_label, building_label, floor_label, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("postgres: save changes: prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range changes {
		if _, err := stmt.ExecContext(ctx,
			c.CollectionID, c.FromGenerationID, c.ToGenerationID, c.ListingID,
			string(c.ChangeType), c.OldPriceRaw, c.NewPriceRaw, c.PriceDeltaUnits, c.PriceDeltaPercent,
			c.TradeType, c.AreaLabel, c.BuildingLabel, c.FloorLabel, c.DetectedAt,
		); err != nil {
			return fmt.Errorf("postgres: save change %s: %w", c.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: save changes: %w", err)
	}
	return nil
}

// ChangesSince returns the changes of a collection detected at or after since,
// newest first.
func (ps *PostgresStore) ChangesSince(ctx context.Context, collectionID string, since time.Time) ([]models.ChangeRecord, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT collection_id, from_generation_id, to_generation_id, listing_id, change_type,
			old_price_raw, new_price_raw, price_delta_units, price_delta_percent,
			trade_type, area_label, building_label, floor_label, detected_at, is_read
		FROM listing_changes
		WHERE collection_id = $1 AND detected_at >= $2
		ORDER BY detected_at DESC, change_type, listing_id
	`, collectionID, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: changes since: %w", err)
	}
	defer rows.Close()

	var changes []models.ChangeRecord
	for rows.Next() {
		var (
			c   models.ChangeRecord
			typ string
		)
		if err := rows.Scan(
			&c.CollectionID, &c.FromGenerationID, &c.ToGenerationID, &c.ListingID, &typ,
			&c.OldPriceRaw, &c.NewPriceRaw, &c.PriceDeltaUnits, &c.PriceDeltaPercent,
			&c.TradeType, &c.AreaLabel, &c.BuildingLabel, &c.FloorLabel, &c.DetectedAt, &c.Read,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan change: %w", err)
		}
		c.ChangeType = models.ChangeType(typ)
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// UnreadCount returns the number of changes not yet marked as read.
func (ps *PostgresStore) UnreadCount(ctx context.Context, collectionID string) (int, error) {
	var n int
	err := ps.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM listing_changes WHERE collection_id = $1 AND NOT is_read`,
		collectionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: unread count: %w", err)
	}
	return n, nil
}

// MarkRead flags every unread change detected before until as read.
func (ps *PostgresStore) MarkRead(ctx context.Context, collectionID string, until time.Time) (int, error) {
	res, err := ps.db.ExecContext(ctx, `
		UPDATE listing_changes SET is_read = TRUE
		WHERE collection_id = $1 AND NOT is_read AND detected_at < $2
	`, collectionID, until)
	if err != nil {
		return 0, fmt.Errorf("postgres: mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: mark read: %w", err)
	}
	return int(n), nil
}

// SaveCollection upserts collection metadata, keeping known values when the
// new capture left a field empty.
func (ps *PostgresStore) SaveCollection(ctx context.Context, c models.Collection) error {
	_, err := ps.db.ExecContext(ctx, `
		INSERT INTO collections (id, name, households, address, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE
		SET name       = COALESCE(NULLIF(EXCLUDED.name, ''), collections.name),
			households = COALESCE(NULLIF(EXCLUDED.households, 0), collections.households),
			address    = COALESCE(NULLIF(EXCLUDED.address, ''), collections.address),
			updated_at = NOW()
	`, c.ID, c.Name, c.Households, c.Address)
	if err != nil {
		return fmt.Errorf("postgres: save collection %s: %w", c.ID, err)
	}
	return nil
}

// SaveTransactions inserts transactions, skipping those already stored.
func (ps *PostgresStore) SaveTransactions(ctx context.Context, txs []models.Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	tx, err := ps.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("postgres: save transactions: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions (collection_id, trade_date, deal_price, floor, trade_type,
			formatted_price, area, exclusive_area)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("postgres: save transactions: prepare: %w", err)
	}
	defer stmt.Close()

	saved := 0
	for _, t := range txs {
		res, err := stmt.ExecContext(ctx,
			t.CollectionID, t.TradeDate, t.DealPrice, t.Floor, t.TradeType,
			t.FormattedPrice, t.Area, t.ExclusiveArea,
		)
		if err != nil {
			return 0, fmt.Errorf("postgres: save transaction %s: %w", t.Key(), err)
		}
		if n, err := res.RowsAffected(); err == nil {
			saved += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("postgres: save transactions: %w", err)
	}
	return saved, nil
}

// TransactionsSince returns transactions traded on or after fromDate
// (YYYYMMDD), newest first. An empty fromDate returns everything.
func (ps *PostgresStore) TransactionsSince(ctx context.Context, collectionID, fromDate string) ([]models.Transaction, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT collection_id, trade_date, deal_price, floor, trade_type,
			formatted_price, area, exclusive_area
		FROM transactions
		WHERE collection_id = $1 AND trade_date >= $2
		ORDER BY trade_date DESC, deal_price DESC, floor DESC
	`, collectionID, fromDate)
	if err != nil {
		return nil, fmt.Errorf("postgres: transactions since: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(
			&t.CollectionID, &t.TradeDate, &t.DealPrice, &t.Floor, &t.TradeType,
			&t.FormattedPrice, &t.Area, &t.ExclusiveArea,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}
