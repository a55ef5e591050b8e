package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tradefeed/tradefeed/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS published_markers (
		offer_id TEXT PRIMARY KEY,
		state INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS offers (
		offer_id TEXT PRIMARY KEY,
		state INTEGER NOT NULL,
		is_our_offer INTEGER NOT NULL,
		snapshot_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_offers_updated ON offers(updated_at);

	CREATE TABLE IF NOT EXISTS poll_state (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Marker returns the last published state for an offer.
func (s *SQLiteStore) Marker(ctx context.Context, offerID string) (domain.OfferState, bool, error) {
	query := `SELECT state FROM published_markers WHERE offer_id = ?`

	var state int
	err := s.db.QueryRowContext(ctx, query, offerID).Scan(&state)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("scan marker row: %w", err)
	}
	return domain.OfferState(state), true, nil
}

// SetMarker records the last published state for an offer.
func (s *SQLiteStore) SetMarker(ctx context.Context, offerID string, state domain.OfferState) error {
	query := `
		INSERT INTO published_markers (offer_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(offer_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query, offerID, int(state), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("set marker: %w", err)
	}
	return nil
}

// SaveOffer upserts one offer snapshot in the poll cache.
func (s *SQLiteStore) SaveOffer(ctx context.Context, offer *domain.OfferSnapshot) error {
	blob, err := json.Marshal(offer)
	if err != nil {
		return fmt.Errorf("marshal offer snapshot: %w", err)
	}

	query := `
		INSERT INTO offers (offer_id, state, is_our_offer, snapshot_json, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(offer_id) DO UPDATE SET
			state = excluded.state,
			is_our_offer = excluded.is_our_offer,
			snapshot_json = excluded.snapshot_json,
			updated_at = excluded.updated_at`

	isOurs := 0
	if offer.IsOurOffer {
		isOurs = 1
	}
	_, err = s.db.ExecContext(ctx, query, offer.ID, int(offer.State), isOurs, string(blob), offer.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save offer: %w", err)
	}
	return nil
}

// Offers returns every cached offer snapshot.
func (s *SQLiteStore) Offers(ctx context.Context) ([]*domain.OfferSnapshot, error) {
	query := `SELECT snapshot_json FROM offers ORDER BY updated_at, offer_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query offers: %w", err)
	}
	defer rows.Close()

	var offers []*domain.OfferSnapshot
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan offer row: %w", err)
		}
		var offer domain.OfferSnapshot
		if err := json.Unmarshal([]byte(blob), &offer); err != nil {
			return nil, fmt.Errorf("unmarshal offer snapshot: %w", err)
		}
		offers = append(offers, &offer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate offer rows: %w", err)
	}
	return offers, nil
}

// PollCursor returns the updated-at watermark of the last completed poll.
func (s *SQLiteStore) PollCursor(ctx context.Context) (time.Time, error) {
	query := `SELECT value FROM poll_state WHERE key = 'poll_cursor'`

	var unix int64
	err := s.db.QueryRowContext(ctx, query).Scan(&unix)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("scan poll cursor: %w", err)
	}
	return time.Unix(unix, 0), nil
}

// SetPollCursor records the updated-at watermark of a completed poll.
func (s *SQLiteStore) SetPollCursor(ctx context.Context, cursor time.Time) error {
	query := `
		INSERT INTO poll_state (key, value) VALUES ('poll_cursor', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`

	if _, err := s.db.ExecContext(ctx, query, cursor.Unix()); err != nil {
		return fmt.Errorf("set poll cursor: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
