// Package store persists learned error patterns in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"sql-guard/internal/logging"
	"sql-guard/internal/model"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS error_patterns (
	pattern_id       TEXT PRIMARY KEY,
	error_type       TEXT NOT NULL,
	signature        TEXT NOT NULL,
	pattern_regex    TEXT NOT NULL,
	frequency        INTEGER NOT NULL,
	confidence       REAL NOT NULL,
	context_keywords TEXT NOT NULL,
	common_fixes     TEXT NOT NULL,
	created_at       TEXT NOT NULL,
	last_seen        TEXT NOT NULL,
	success_rate     REAL,
	sessions_seen    INTEGER NOT NULL DEFAULT 0,
	sessions_fixed   INTEGER NOT NULL DEFAULT 0,
	supervised       INTEGER NOT NULL DEFAULT 0
)`

const upsertPattern = `
INSERT INTO error_patterns (
	pattern_id, error_type, signature, pattern_regex, frequency, confidence,
	context_keywords, common_fixes, created_at, last_seen, success_rate,
	sessions_seen, sessions_fixed, supervised
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(pattern_id) DO UPDATE SET
	error_type       = excluded.error_type,
	pattern_regex    = excluded.pattern_regex,
	frequency        = MAX(error_patterns.frequency, excluded.frequency),
	confidence       = excluded.confidence,
	context_keywords = excluded.context_keywords,
	common_fixes     = excluded.common_fixes,
	last_seen        = excluded.last_seen,
	success_rate     = excluded.success_rate,
	sessions_seen    = excluded.sessions_seen,
	sessions_fixed   = excluded.sessions_fixed,
	supervised       = excluded.supervised`

const selectPatterns = `
SELECT pattern_id, error_type, signature, pattern_regex, frequency, confidence,
	context_keywords, common_fixes, created_at, last_seen, success_rate,
	sessions_seen, sessions_fixed, supervised
FROM error_patterns
ORDER BY frequency DESC, pattern_id`

// SQLite stores patterns in one table. It is safe for concurrent use.
type SQLite struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open opens or creates the database at path. ":memory:" keeps it in memory
// for the lifetime of the store.
func Open(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	logger = logging.OrNop(logger)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open pattern store %s: %w", path, err)
	}
	// A single connection serializes writers and keeps an in-memory
	// database alive across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create pattern table: %w", err)
	}
	logger.Debug("pattern store opened", zap.String("path", path))
	return &SQLite{db: db, path: path, logger: logger}, nil
}

// SavePatterns upserts every pattern in one transaction. A stored frequency
// is never lowered.
func (s *SQLite) SavePatterns(ctx context.Context, ps []*model.ErrorPattern) (err error) {
	if len(ps) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, upsertPattern)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range ps {
		keywords, err := encodeList(p.ContextKeywords)
		if err != nil {
			return err
		}
		fixes, err := encodeList(p.CommonFixes)
		if err != nil {
			return err
		}
		var rate sql.NullFloat64
		if p.SuccessRateAfterFix != nil {
			rate = sql.NullFloat64{Float64: *p.SuccessRateAfterFix, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			p.PatternID, string(p.ErrorType), p.Signature, p.PatternRegex, p.Frequency, p.Confidence,
			keywords, fixes, formatTime(p.CreatedAt), formatTime(p.LastSeen), rate,
			p.SessionsSeen, p.SessionsFixed, boolInt(p.Supervised),
		); err != nil {
			return fmt.Errorf("save pattern %s: %w", p.PatternID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("patterns saved", zap.Int("count", len(ps)))
	return nil
}

// LoadPatterns returns every stored pattern, most frequent first.
func (s *SQLite) LoadPatterns(ctx context.Context) ([]*model.ErrorPattern, error) {
	rows, err := s.db.QueryContext(ctx, selectPatterns)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.ErrorPattern
	for rows.Next() {
		var (
			p                 model.ErrorPattern
			errorType         string
			keywords, fixes   string
			created, lastSeen string
			rate              sql.NullFloat64
		)
		if err := rows.Scan(
			&p.PatternID, &errorType, &p.Signature, &p.PatternRegex, &p.Frequency, &p.Confidence,
			&keywords, &fixes, &created, &lastSeen, &rate,
			&p.SessionsSeen, &p.SessionsFixed, &p.Supervised,
		); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		p.ErrorType = model.ErrorType(errorType)
		if p.ContextKeywords, err = decodeList(keywords); err != nil {
			return nil, fmt.Errorf("pattern %s keywords: %w", p.PatternID, err)
		}
		if p.CommonFixes, err = decodeList(fixes); err != nil {
			return nil, fmt.Errorf("pattern %s fixes: %w", p.PatternID, err)
		}
		if p.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("pattern %s created_at: %w", p.PatternID, err)
		}
		if p.LastSeen, err = parseTime(lastSeen); err != nil {
			return nil, fmt.Errorf("pattern %s last_seen: %w", p.PatternID, err)
		}
		if rate.Valid {
			r := rate.Float64
			p.SuccessRateAfterFix = &r
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patterns: %w", err)
	}
	return out, nil
}

// DeleteAll removes every stored pattern and returns how many there were.
func (s *SQLite) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM error_patterns")
	if err != nil {
		return 0, fmt.Errorf("delete patterns: %w", err)
	}
	return res.RowsAffected()
}

// Path returns the database path.
func (s *SQLite) Path() string {
	return s.path
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func encodeList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(b), nil
}

func decodeList(s string) ([]string, error) {
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
