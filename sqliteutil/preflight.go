// Package sqliteutil opens the SQLite files fkreview keeps on disk and
// checks them before use so a damaged file never blocks startup.
package sqliteutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultTimeout = 2 * time.Second

// PreflightResult reports the outcome of a preflight check.
type PreflightResult struct {
	Healthy        bool   // Checkpoint and quick_check passed.
	Quarantined    bool   // The file was moved aside; a fresh one will be created.
	QuarantinePath string // New path of the main file when quarantined.
	Elapsed        time.Duration
	CheckpointErr  error
	CheckErr       error
}

// Purpose: Verify a SQLite file before the real open.
// Key aspects: A bounded WAL checkpoint and quick_check run on a throwaway
// handle. A file that fails either is renamed with its sidecars to
// <path>.bad-<UTC stamp>; only a timeout is returned as an error.
// Upstream: Open.
// Downstream: runCheckpoint, quickCheck, quarantine.
func Preflight(path, role string, timeout time.Duration, logf func(string, ...any)) (PreflightResult, error) {
	if logf == nil {
		logf = log.Printf
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	var res PreflightResult
	if strings.TrimSpace(path) == "" {
		return res, errors.New("sqliteutil: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return res, fmt.Errorf("sqliteutil: ensure dir for %s db: %w", role, err)
	}
	present := sidecarsPresent(path)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	start := time.Now()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return res, fmt.Errorf("sqliteutil: open %s db: %w", role, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, fmt.Sprintf("pragma busy_timeout=%d", timeout.Milliseconds())); err != nil {
		return res, fmt.Errorf("sqliteutil: busy_timeout on %s db: %w", role, err)
	}

	res.CheckpointErr = runCheckpoint(ctx, db)
	res.CheckErr = quickCheck(ctx, db)
	res.Elapsed = time.Since(start)
	if res.CheckpointErr == nil && res.CheckErr == nil {
		res.Healthy = true
		return res, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("sqliteutil: %s db preflight timed out after %s", role, timeout)
	}

	_ = db.Close()
	moved, err := quarantine(path, present, logf)
	if err != nil {
		return res, fmt.Errorf("sqliteutil: quarantine %s db: %w (checkpoint=%v, quick_check=%v)", role, err, res.CheckpointErr, res.CheckErr)
	}
	res.Quarantined = true
	res.QuarantinePath = moved
	cause := res.CheckErr
	if res.CheckpointErr != nil {
		cause = res.CheckpointErr
	}
	logf("SQLite: %s db failed preflight (%v); moved to %s after %s", role, cause, moved, res.Elapsed)
	return res, nil
}

// Open runs Preflight, then opens path with a single connection, WAL
// journaling and a busy timeout.
func Open(path, role string, timeout time.Duration) (*sql.DB, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if _, err := Preflight(path, role, timeout, nil); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqliteutil: open %s db: %w", role, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	pragmas := []string{
		fmt.Sprintf("pragma busy_timeout=%d", timeout.Milliseconds()),
		"pragma journal_mode=WAL",
		"pragma synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqliteutil: %s on %s db: %w", p, role, err)
		}
	}
	return db, nil
}

func runCheckpoint(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, "pragma wal_checkpoint(TRUNCATE)")
	return err
}

func quickCheck(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, "pragma quick_check")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return err
		}
		if strings.TrimSpace(status) != "ok" {
			return fmt.Errorf("quick_check reported %q", status)
		}
	}
	return rows.Err()
}

var sidecarSuffixes = []string{"", "-wal", "-shm", "-journal"}

// sidecarsPresent records which of the main file and its sidecars existed
// before the check touched them.
func sidecarsPresent(path string) map[string]bool {
	out := make(map[string]bool, len(sidecarSuffixes))
	for _, suffix := range sidecarSuffixes {
		_, err := os.Stat(path + suffix)
		out[path+suffix] = err == nil
	}
	return out
}

func quarantine(path string, present map[string]bool, logf func(string, ...any)) (string, error) {
	stamp := time.Now().UTC().Format("20060102T150405Z")
	for _, suffix := range sidecarSuffixes {
		src := path + suffix
		if _, err := os.Stat(src); err != nil {
			if !os.IsNotExist(err) {
				return "", err
			}
			if present[src] {
				// Checkpoint may have removed a sidecar.
				logf("SQLite: %s vanished before quarantine", src)
			}
			continue
		}
		if err := os.Rename(src, src+".bad-"+stamp); err != nil {
			return "", err
		}
	}
	return path + ".bad-" + stamp, nil
}
