package runtracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLTracker implements Tracker over database/sql. driver is either
// "sqlite" (modernc.org/sqlite, pure Go, used in development) or
// "postgres" (lib/pq, used in production); both speak the same schema.
type SQLTracker struct {
	db     *sql.DB
	driver string
}

// SQLConfig configures connection pooling.
type SQLConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultSQLConfig returns sane pooling defaults.
func DefaultSQLConfig() SQLConfig {
	return SQLConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewSQLTracker opens a connection with driver ("sqlite" or "postgres")
// against dsn, pings it, and ensures the tool_runs table exists.
func NewSQLTracker(driver, dsn string, cfg SQLConfig) (*SQLTracker, error) {
	if dsn == "" {
		return nil, fmt.Errorf("runtracker: dsn is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg = DefaultSQLConfig()
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("runtracker: open %s: %w", driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("runtracker: ping %s: %w", driver, err)
	}

	t := &SQLTracker{db: db, driver: driver}
	if err := t.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return t, nil
}

func (t *SQLTracker) migrate(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS tool_runs (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		turn_number INTEGER NOT NULL,
		intent TEXT NOT NULL,
		tier TEXT NOT NULL,
		status TEXT NOT NULL,
		latency_ms BIGINT NOT NULL,
		error_message TEXT,
		created_at TIMESTAMP NOT NULL
	)`
	_, err := t.db.ExecContext(ctx, ddl)
	if err != nil {
		return fmt.Errorf("runtracker: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (t *SQLTracker) Close() error {
	if t == nil || t.db == nil {
		return nil
	}
	return t.db.Close()
}

func (t *SQLTracker) bindVar(n int) string {
	if t.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Record inserts one Run row.
func (t *SQLTracker) Record(ctx context.Context, run Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	query := fmt.Sprintf(`INSERT INTO tool_runs
		(id, session_id, turn_number, intent, tier, status, latency_ms, error_message, created_at)
		VALUES (%s,%s,%s,%s,%s,%s,%s,%s,%s)`,
		t.bindVar(1), t.bindVar(2), t.bindVar(3), t.bindVar(4), t.bindVar(5),
		t.bindVar(6), t.bindVar(7), t.bindVar(8), t.bindVar(9))
	_, err := t.db.ExecContext(ctx, query,
		run.ID, run.SessionID, run.TurnNumber, run.Intent, run.Tier,
		string(run.Status), run.LatencyMs, nullableString(run.Error), run.CreatedAt)
	if err != nil {
		return fmt.Errorf("runtracker: record: %w", err)
	}
	return nil
}

// List returns up to limit runs for sessionID (all sessions if empty),
// most recent first.
func (t *SQLTracker) List(ctx context.Context, sessionID string, limit int) ([]Run, error) {
	query := `SELECT id, session_id, turn_number, intent, tier, status, latency_ms, error_message, created_at
		FROM tool_runs`
	var args []any
	if sessionID != "" {
		query += fmt.Sprintf(" WHERE session_id = %s", t.bindVar(1))
		args = append(args, sessionID)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("runtracker: list: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			run    Run
			status string
			errMsg sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.SessionID, &run.TurnNumber, &run.Intent, &run.Tier,
			&status, &run.LatencyMs, &errMsg, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("runtracker: scan: %w", err)
		}
		run.Status = Status(status)
		if errMsg.Valid {
			run.Error = errMsg.String
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runtracker: list: %w", err)
	}
	return out, nil
}

// Prune deletes runs older than olderThan, returning the count removed.
func (t *SQLTracker) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	query := fmt.Sprintf("DELETE FROM tool_runs WHERE created_at < %s", t.bindVar(1))
	res, err := t.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("runtracker: prune: %w", err)
	}
	return res.RowsAffected()
}

func nullableString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
