// Package ledger persists an audit trail of conflict resolutions and repair
// runs to a local SQLite database, so an operator can answer "what did the
// daemon do while I wasn't watching" after the fact.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, registers as "sqlite"
)

const (
	walJournalSizeLimit = 67108864 // 64 MiB WAL journal size limit

	// ResolutionRemoteWins records that a local edit lost a conflict and was
	// overwritten by the remote version.
	ResolutionRemoteWins = "remote_wins"
	// ResolutionStashed records that the displaced local version was
	// preserved under .stash/ before being overwritten.
	ResolutionStashed = "stashed"

	// RepairKindSoft, RepairKindNormal, and RepairKindHard name the three
	// repair protocols the control loop can run.
	RepairKindSoft   = "soft"
	RepairKindNormal = "normal"
	RepairKindHard   = "hard"
)

// ConflictRecord is one row of the conflicts table.
type ConflictRecord struct {
	ID         int64
	DetectedAt time.Time
	Path       string
	LocalHash  string
	RemoteEtag string
	Resolution string
	StashPath  string // empty unless Resolution == ResolutionStashed
}

// RepairRecord is one row of the repairs table.
type RepairRecord struct {
	ID           int64
	StartedAt    time.Time
	FinishedAt   time.Time // zero if still running
	Kind         string
	Trigger      string
	PathsChecked int
	PathsFixed   int
	ErrorMsg     string
}

// Ledger manages the conflicts and repairs tables over a single SQLite
// database file.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if absent) the SQLite database at dbPath, applies
// pending migrations, and returns a ready Ledger. Use ":memory:" for tests.
func Open(dbPath string, logger *slog.Logger) (*Ledger, error) {
	logger.Info("opening audit ledger", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening database: %w", err)
	}

	if err := setPragmas(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Ledger{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("ledger: set pragma %s: %w", p.desc, err)
		}
	}

	return nil
}

// RecordConflict inserts a conflict detection row recording a remote-wins
// resolution with no stash (the common case: the local write lost the race
// and was simply overwritten).
func (l *Ledger) RecordConflict(ctx context.Context, path, localHash, remoteEtag string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO conflicts (detected_at, path, local_hash, remote_etag, resolution)
		 VALUES (?, ?, ?, ?, ?)`,
		time.Now().UnixNano(), path, localHash, remoteEtag, ResolutionRemoteWins,
	)
	if err != nil {
		return fmt.Errorf("ledger: recording conflict for %s: %w", path, err)
	}

	l.logger.Warn("conflict recorded", slog.String("path", path), slog.String("resolution", ResolutionRemoteWins))

	return nil
}

// RecordConflictStashed inserts a conflict detection row recording that the
// displaced local version was preserved under stashPath before being
// overwritten (used when the triggering pull request asserted the stash
// flag).
func (l *Ledger) RecordConflictStashed(ctx context.Context, path, localHash, remoteEtag, stashPath string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO conflicts (detected_at, path, local_hash, remote_etag, resolution, stash_path)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().UnixNano(), path, localHash, remoteEtag, ResolutionStashed, stashPath,
	)
	if err != nil {
		return fmt.Errorf("ledger: recording stashed conflict for %s: %w", path, err)
	}

	l.logger.Warn("conflict recorded",
		slog.String("path", path),
		slog.String("resolution", ResolutionStashed),
		slog.String("stash_path", stashPath),
	)

	return nil
}

// ListConflicts returns the most recent conflict records, newest first,
// bounded by limit (limit <= 0 means no bound).
func (l *Ledger) ListConflicts(ctx context.Context, limit int) ([]ConflictRecord, error) {
	query := `SELECT id, detected_at, path, local_hash, remote_etag, resolution, stash_path
	          FROM conflicts ORDER BY id DESC`

	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing conflicts: %w", err)
	}
	defer rows.Close()

	var out []ConflictRecord

	for rows.Next() {
		var (
			rec        ConflictRecord
			detectedAt int64
			stashPath  sql.NullString
		)

		if err := rows.Scan(&rec.ID, &detectedAt, &rec.Path, &rec.LocalHash, &rec.RemoteEtag, &rec.Resolution, &stashPath); err != nil {
			return nil, fmt.Errorf("ledger: scanning conflict row: %w", err)
		}

		rec.DetectedAt = time.Unix(0, detectedAt)
		rec.StashPath = stashPath.String

		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating conflict rows: %w", err)
	}

	return out, nil
}

// BeginRepair inserts a started repair row and returns its ID, to be passed
// to FinishRepair once the run completes.
func (l *Ledger) BeginRepair(ctx context.Context, kind, trigger string) (int64, error) {
	result, err := l.db.ExecContext(ctx,
		`INSERT INTO repairs (started_at, kind, trigger) VALUES (?, ?, ?)`,
		time.Now().UnixNano(), kind, trigger,
	)
	if err != nil {
		return 0, fmt.Errorf("ledger: beginning %s repair: %w", kind, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("ledger: repair last insert id: %w", err)
	}

	l.logger.Info("repair started", slog.Int64("id", id), slog.String("kind", kind), slog.String("trigger", trigger))

	return id, nil
}

// FinishRepair records the outcome of a repair run started by BeginRepair.
// errMsg is empty on success.
func (l *Ledger) FinishRepair(ctx context.Context, id int64, pathsChecked, pathsFixed int, errMsg string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE repairs SET finished_at = ?, paths_checked = ?, paths_fixed = ?, error_msg = ? WHERE id = ?`,
		time.Now().UnixNano(), pathsChecked, pathsFixed, nullIfEmpty(errMsg), id,
	)
	if err != nil {
		return fmt.Errorf("ledger: finishing repair %d: %w", id, err)
	}

	l.logger.Info("repair finished",
		slog.Int64("id", id),
		slog.Int("paths_checked", pathsChecked),
		slog.Int("paths_fixed", pathsFixed),
	)

	return nil
}

// ListRepairs returns the most recent repair records, newest first, bounded
// by limit (limit <= 0 means no bound).
func (l *Ledger) ListRepairs(ctx context.Context, limit int) ([]RepairRecord, error) {
	query := `SELECT id, started_at, finished_at, kind, trigger, paths_checked, paths_fixed, error_msg
	          FROM repairs ORDER BY id DESC`

	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing repairs: %w", err)
	}
	defer rows.Close()

	var out []RepairRecord

	for rows.Next() {
		var (
			rec        RepairRecord
			startedAt  int64
			finishedAt sql.NullInt64
			errMsg     sql.NullString
		)

		if err := rows.Scan(&rec.ID, &startedAt, &finishedAt, &rec.Kind, &rec.Trigger, &rec.PathsChecked, &rec.PathsFixed, &errMsg); err != nil {
			return nil, fmt.Errorf("ledger: scanning repair row: %w", err)
		}

		rec.StartedAt = time.Unix(0, startedAt)
		if finishedAt.Valid {
			rec.FinishedAt = time.Unix(0, finishedAt.Int64)
		}
		rec.ErrorMsg = errMsg.String

		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating repair rows: %w", err)
	}

	return out, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}
