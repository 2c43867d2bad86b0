package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"finsight/internal/domain"
)

// SQLiteSink persists completed runs to a SQLite database. Query and
// response text are truncated to truncateAt runes before storage; the
// full metadata summary is kept as JSON.
type SQLiteSink struct {
	db         *sql.DB
	truncateAt int
	logger     *slog.Logger
}

// NewSQLiteSink opens (or creates) the audit database at dbPath and runs
// the schema migration. truncateAt <= 0 disables truncation.
func NewSQLiteSink(dbPath string, truncateAt int, logger *slog.Logger) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, domain.NewDomainError("audit.Open", domain.ErrAuditWrite, err.Error())
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, domain.NewDomainError("audit.Open", domain.ErrAuditWrite, "set WAL mode: "+err.Error())
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, domain.NewDomainError("audit.Open", domain.ErrAuditWrite, "migrate: "+err.Error())
	}
	return &SQLiteSink{db: db, truncateAt: truncateAt, logger: logger}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id                TEXT PRIMARY KEY,
			thread_id         TEXT NOT NULL,
			query             TEXT NOT NULL,
			response          TEXT NOT NULL,
			total_tokens      INTEGER NOT NULL,
			prompt_tokens     INTEGER NOT NULL,
			completion_tokens INTEGER NOT NULL,
			cost_usd          REAL NOT NULL,
			llm_calls         INTEGER NOT NULL,
			tool_calls        INTEGER NOT NULL,
			metadata          TEXT NOT NULL DEFAULT '{}',
			created_at        TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_thread ON runs(thread_id, created_at)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// LogRun stores one completed run.
func (s *SQLiteSink) LogRun(ctx context.Context, rec domain.RunRecord) error {
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return domain.NewDomainError("audit.LogRun", domain.ErrAuditWrite, "marshal metadata: "+err.Error())
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, thread_id, query, response,
			total_tokens, prompt_tokens, completion_tokens, cost_usd,
			llm_calls, tool_calls, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.newID(), rec.ThreadID,
		truncate(rec.Query, s.truncateAt),
		truncate(rec.Response, s.truncateAt),
		rec.Metadata.TotalTokens, rec.Metadata.PromptTokens, rec.Metadata.CompletionTokens,
		rec.Metadata.CostUSD, rec.Metadata.LLMCalls, rec.Metadata.ToolCalls,
		string(metaJSON), ts.Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.NewDomainError("audit.LogRun", domain.ErrAuditWrite, err.Error())
	}
	s.logger.Debug("run audited", "thread_id", rec.ThreadID, "tokens", rec.Metadata.TotalTokens)
	return nil
}

// Recent returns the latest n runs for a thread, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, threadID string, n int) ([]domain.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, query, response, metadata, created_at
		FROM runs WHERE thread_id = ? ORDER BY created_at DESC LIMIT ?`,
		threadID, n,
	)
	if err != nil {
		return nil, domain.NewDomainError("audit.Recent", domain.ErrAuditWrite, err.Error())
	}
	defer rows.Close()

	var recs []domain.RunRecord
	for rows.Next() {
		var rec domain.RunRecord
		var metaStr, createdStr string
		if err := rows.Scan(&rec.ThreadID, &rec.Query, &rec.Response, &metaStr, &createdStr); err != nil {
			return nil, domain.NewDomainError("audit.Recent", domain.ErrAuditWrite, err.Error())
		}
		if err := json.Unmarshal([]byte(metaStr), &rec.Metadata); err != nil {
			return nil, domain.NewDomainError("audit.Recent", domain.ErrAuditWrite, "unmarshal metadata: "+err.Error())
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, createdStr)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *SQLiteSink) newID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// truncate cuts s to at most limit runes, appending an ellipsis marker
// when anything was dropped. limit <= 0 means no truncation.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
