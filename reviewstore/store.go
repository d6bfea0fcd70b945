// Package reviewstore persists FK review marks to SQLite so a review
// survives restarts.
package reviewstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"fkreview/metrics"
	"fkreview/sqliteutil"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("reviewstore: store closed")

// Review is one recorded mark.
type Review struct {
	SignalDetectionID string
	ReviewedAt        time.Time
}

// Store records which detections had their FK reviewed.
// It satisfies fkreview.Reviewer.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the review database at path.
func Open(path string) (*Store, error) {
	db, err := sqliteutil.Open(path, "review", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("reviewstore: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS fk_reviews (
    signal_detection_id TEXT PRIMARY KEY,
    reviewed_at INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("reviewstore: init schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Purpose: Record review marks for a batch of detections.
// Key aspects: One transaction; blank ids are skipped and the first mark
// time for an id is kept.
// Upstream: fkreview.NextReviewable.
// Downstream: fk_reviews table.
func (s *Store) MarkReviewed(ctx context.Context, ids []string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reviewstore: begin: %w", err)
	}
	defer tx.Rollback()
	at := s.now().UTC().UnixMilli()
	marked := 0
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO fk_reviews (signal_detection_id, reviewed_at) VALUES (?, ?)
ON CONFLICT(signal_detection_id) DO NOTHING`, id, at)
		if err != nil {
			return fmt.Errorf("reviewstore: mark %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			marked++
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reviewstore: commit: %w", err)
	}
	if marked > 0 {
		metrics.FkReviewsMarked.WithLabelValues("sqlite").Add(float64(marked))
		log.Printf("ReviewStore: marked %d FK(s) reviewed", marked)
	}
	return nil
}

// IsReviewed reports whether id has been marked.
func (s *Store) IsReviewed(ctx context.Context, id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM fk_reviews WHERE signal_detection_id = ?`, id).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("reviewstore: lookup %s: %w", id, err)
	}
	return true, nil
}

// Reviewed lists every mark ordered by time then id.
func (s *Store) Reviewed(ctx context.Context) ([]Review, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT signal_detection_id, reviewed_at FROM fk_reviews ORDER BY reviewed_at, signal_detection_id`)
	if err != nil {
		return nil, fmt.Errorf("reviewstore: list: %w", err)
	}
	defer rows.Close()
	var out []Review
	for rows.Next() {
		var (
			id string
			ms int64
		)
		if err := rows.Scan(&id, &ms); err != nil {
			return nil, fmt.Errorf("reviewstore: scan: %w", err)
		}
		out = append(out, Review{SignalDetectionID: id, ReviewedAt: time.UnixMilli(ms).UTC()})
	}
	return out, rows.Err()
}

// Lookup adapts IsReviewed to the fkreview rule callback. Lookup errors
// are logged and read as not reviewed.
func (s *Store) Lookup(ctx context.Context) func(string) bool {
	return func(id string) bool {
		ok, err := s.IsReviewed(ctx, id)
		if err != nil {
			log.Printf("ReviewStore: %v", err)
			return false
		}
		return ok
	}
}
