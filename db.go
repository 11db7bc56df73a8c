package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	createPriceHistoryTableSQL = `
	CREATE TABLE IF NOT EXISTS price_history (
		"id" INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"store_id" INTEGER NOT NULL,
		"slot_index" INTEGER NOT NULL,
		"item_name" TEXT NOT NULL,
		"price_amount" INTEGER NOT NULL,
		"price_currency" TEXT NOT NULL,
		"quantity" INTEGER,
		"attributes" TEXT,
		"ocr_confidence" REAL,
		"captured_at" TEXT NOT NULL,
		"collection_job_id" TEXT
	);`

	createMarketItemsTableSQL = `
	CREATE TABLE IF NOT EXISTS market_items (
		"item_name" TEXT NOT NULL PRIMARY KEY,
		"first_seen" TEXT NOT NULL,
		"last_seen" TEXT NOT NULL
	);`

	createSellersTableSQL = `
	CREATE TABLE IF NOT EXISTS sellers (
		"seller_name" TEXT NOT NULL PRIMARY KEY,
		"first_seen" TEXT NOT NULL,
		"last_seen" TEXT NOT NULL,
		"total_listings" INTEGER DEFAULT 0
	);`

	createCollectionLogsTableSQL = `
	CREATE TABLE IF NOT EXISTS collection_logs (
		"id" TEXT NOT NULL PRIMARY KEY,
		"collection_type" TEXT NOT NULL,
		"trigger_source" TEXT NOT NULL,
		"status" TEXT NOT NULL,
		"schedule_id" INTEGER,
		"started_at" TEXT NOT NULL,
		"completed_at" TEXT,
		"items_collected" INTEGER DEFAULT 0,
		"pages_scanned" INTEGER DEFAULT 0,
		"slots_skipped" INTEGER DEFAULT 0,
		"errors_count" INTEGER DEFAULT 0,
		"error_message" TEXT
	);`

	createScheduledCollectionsTableSQL = `
	CREATE TABLE IF NOT EXISTS scheduled_collections (
		"id" INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"collection_type" TEXT NOT NULL,
		"scheduled_for" TEXT NOT NULL,
		"status" TEXT NOT NULL DEFAULT 'pending',
		"executed_at" TEXT
	);`

	createItemsOfInterestTableSQL = `
	CREATE TABLE IF NOT EXISTS items_of_interest (
		"item_name" TEXT NOT NULL PRIMARY KEY,
		"is_active" INTEGER DEFAULT 1
	);`

	createArbitrageTableSQL = `
	CREATE TABLE IF NOT EXISTS arbitrage_opportunities (
		"id" INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"item_name" TEXT NOT NULL,
		"lowest_price" INTEGER NOT NULL,
		"highest_price" INTEGER NOT NULL,
		"price_difference" INTEGER NOT NULL,
		"profit_margin" REAL NOT NULL,
		"lowest_seller" TEXT NOT NULL,
		"highest_seller" TEXT NOT NULL,
		"detected_at" TEXT NOT NULL,
		"is_active" INTEGER DEFAULT 1
	);`
)

// Store wraps the sqlite database behind the persistence contract the
// engine needs: save extracted records, read the interest list, and manage
// custom schedule entries and collection logs.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the sqlite database and ensures the schema.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	tables := []string{
		createPriceHistoryTableSQL,
		createMarketItemsTableSQL,
		createSellersTableSQL,
		createCollectionLogsTableSQL,
		createScheduledCollectionsTableSQL,
		createItemsOfInterestTableSQL,
		createArbitrageTableSQL,
	}
	for _, stmt := range tables {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	log.Printf("[I] [DB] Database ready at %s.", path)
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveItemRecord persists one extracted record atomically, together with
// the market_items and sellers first/last-seen bookkeeping.
func (s *Store) SaveItemRecord(rec ItemRecord, jobID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	attrsJSON, err := json.Marshal(rec.Attributes)
	if err != nil {
		attrsJSON = []byte("{}")
	}

	now := time.Now().Format(time.RFC3339)
	capturedAt := rec.CapturedAt.Format(time.RFC3339)
	sellerName := fmt.Sprintf("Shop_%d", rec.StoreID)

	_, err = tx.Exec(`
		INSERT INTO price_history
		(store_id, slot_index, item_name, price_amount, price_currency,
		 quantity, attributes, ocr_confidence, captured_at, collection_job_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.StoreID, rec.SlotIndex, rec.ItemName, rec.PriceAmount,
		string(rec.PriceCurrency), rec.Quantity, string(attrsJSON),
		rec.OCRConfidence, capturedAt, jobID)
	if err != nil {
		return fmt.Errorf("failed to insert price history: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO market_items (item_name, first_seen, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT(item_name) DO UPDATE SET last_seen = excluded.last_seen`,
		rec.ItemName, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert market item: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO sellers (seller_name, first_seen, last_seen, total_listings)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(seller_name) DO UPDATE SET
			last_seen = excluded.last_seen,
			total_listings = total_listings + 1`,
		sellerName, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert seller: %w", err)
	}

	return tx.Commit()
}

// ItemsOfInterest returns the active interest list for Selective mode.
func (s *Store) ItemsOfInterest() ([]string, error) {
	rows, err := s.db.Query(`SELECT item_name FROM items_of_interest WHERE is_active = 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to query items of interest: %w", err)
	}
	defer rows.Close()

	var items []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		items = append(items, name)
	}
	return items, rows.Err()
}

// CreateCollectionJob inserts the job row in Running state.
func (s *Store) CreateCollectionJob(job *CollectionJob) error {
	var scheduleID interface{}
	if job.ScheduleID != 0 {
		scheduleID = job.ScheduleID
	}
	_, err := s.db.Exec(`
		INSERT INTO collection_logs (id, collection_type, trigger_source, status, schedule_id, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Mode), string(job.Trigger), string(job.Status),
		scheduleID, job.StartedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create collection log: %w", err)
	}
	return nil
}

// FinishCollectionJob writes the terminal status and counters.
func (s *Store) FinishCollectionJob(job *CollectionJob) error {
	_, err := s.db.Exec(`
		UPDATE collection_logs
		SET status = ?, completed_at = ?, items_collected = ?, pages_scanned = ?,
		    slots_skipped = ?, errors_count = ?, error_message = ?
		WHERE id = ?`,
		string(job.Status), job.FinishedAt.Format(time.RFC3339), job.ItemsSaved,
		job.PagesScanned, job.SlotsSkipped, job.ErrorsCount, job.ErrorMessage, job.ID)
	if err != nil {
		return fmt.Errorf("failed to finish collection log: %w", err)
	}
	return nil
}

// FetchDueScheduleEntries returns pending custom schedule entries whose
// scheduled time has passed, oldest first.
func (s *Store) FetchDueScheduleEntries(now time.Time) ([]ScheduleEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, collection_type, scheduled_for, status
		FROM scheduled_collections
		WHERE status = 'pending' AND scheduled_for <= ?
		ORDER BY scheduled_for ASC`,
		now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled collections: %w", err)
	}
	defer rows.Close()

	var entries []ScheduleEntry
	for rows.Next() {
		var (
			entry        ScheduleEntry
			mode, status string
			scheduledFor string
		)
		if err := rows.Scan(&entry.ID, &mode, &scheduledFor, &status); err != nil {
			return nil, err
		}
		entry.Mode = CollectionMode(mode)
		entry.Status = JobStatus(status)
		entry.ScheduledFor, err = time.Parse(time.RFC3339, scheduledFor)
		if err != nil {
			log.Printf("[W] [DB] Schedule entry #%d has malformed timestamp %q. Skipping row.", entry.ID, scheduledFor)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// UpdateScheduleStatus writes a status transition back to the externally
// owned schedule row.
func (s *Store) UpdateScheduleStatus(id int64, status JobStatus) error {
	_, err := s.db.Exec(`
		UPDATE scheduled_collections
		SET status = ?, executed_at = ?
		WHERE id = ?`,
		string(status), time.Now().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to update schedule #%d: %w", id, err)
	}
	return nil
}

// LatestPricesByItem returns recent numeric prices grouped by item name,
// newest first within each item, for the arbitrage analyzer.
func (s *Store) LatestPricesByItem(window time.Duration) (map[string][]SellerPrice, error) {
	cutoff := time.Now().Add(-window).Format(time.RFC3339)
	rows, err := s.db.Query(`
		SELECT item_name, store_id, price_amount
		FROM price_history
		WHERE captured_at >= ?
		ORDER BY item_name, captured_at DESC`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query price history: %w", err)
	}
	defer rows.Close()

	prices := make(map[string][]SellerPrice)
	for rows.Next() {
		var (
			name    string
			storeID int
			amount  int64
		)
		if err := rows.Scan(&name, &storeID, &amount); err != nil {
			return nil, err
		}
		prices[name] = append(prices[name], SellerPrice{
			Seller: fmt.Sprintf("Shop_%d", storeID),
			Price:  amount,
		})
	}
	return prices, rows.Err()
}

// InsertArbitrageOpportunity records a detected price spread.
func (s *Store) InsertArbitrageOpportunity(op ArbitrageOpportunity) error {
	_, err := s.db.Exec(`
		INSERT INTO arbitrage_opportunities
		(item_name, lowest_price, highest_price, price_difference, profit_margin,
		 lowest_seller, highest_seller, detected_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		op.ItemName, op.LowestPrice, op.HighestPrice, op.PriceDifference,
		op.ProfitMargin, op.LowestSeller, op.HighestSeller,
		time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert arbitrage opportunity: %w", err)
	}
	return nil
}

// DeactivateOldOpportunities retires opportunities older than the window.
func (s *Store) DeactivateOldOpportunities(olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan).Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE arbitrage_opportunities
		SET is_active = 0
		WHERE detected_at < ? AND is_active = 1`,
		cutoff)
	if err != nil {
		return fmt.Errorf("failed to deactivate opportunities: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Printf("[I] [DB] Deactivated %d stale arbitrage opportunities.", n)
	}
	return nil
}
