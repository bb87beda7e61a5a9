package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/acrenaud/trustrag/internal/core/domain"
)

// DecisionRepository persists grounding decisions for audit. Inserts are
// idempotent on decision id so NATS redeliveries do not duplicate rows.
type DecisionRepository struct {
	db *sql.DB
}

func NewDecisionRepository(db *sql.DB) *DecisionRepository {
	return &DecisionRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DecisionRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082201)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS grounding_decisions (
	id TEXT PRIMARY KEY,
	question TEXT NOT NULL,
	final_answer TEXT NOT NULL,
	accepted BOOLEAN NOT NULL,
	reasons JSONB NOT NULL DEFAULT '[]'::jsonb,
	max_authority DOUBLE PRECISION NOT NULL DEFAULT 0,
	lexical_overlap DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_grounding_decisions_accepted ON grounding_decisions(accepted);
CREATE INDEX IF NOT EXISTS idx_grounding_decisions_created_at ON grounding_decisions(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *DecisionRepository) SaveDecision(ctx context.Context, record domain.DecisionRecord) error {
	reasonsJSON, err := json.Marshal(record.Reasons)
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO grounding_decisions (
	id, question, final_answer, accepted, reasons, max_authority, lexical_overlap, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO NOTHING
`,
		record.ID, record.Question, record.FinalAnswer, record.Accepted, reasonsJSON,
		record.MaxAuthority, record.LexicalOverlap, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert grounding decision: %w", err)
	}
	return nil
}

func (r *DecisionRepository) GetByID(ctx context.Context, id string) (*domain.DecisionRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, question, final_answer, accepted, reasons, max_authority, lexical_overlap, created_at
FROM grounding_decisions
WHERE id = $1
`, id)

	record, err := scanDecision(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get decision", fmt.Errorf("decision not found: %s", id))
		}
		return nil, fmt.Errorf("get decision by id: %w", err)
	}
	return &record, nil
}

func (r *DecisionRepository) ListRecent(ctx context.Context, limit int) ([]domain.DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, question, final_answer, accepted, reasons, max_authority, lexical_overlap, created_at
FROM grounding_decisions
ORDER BY created_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.DecisionRecord, 0)
	for rows.Next() {
		record, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return out, nil
}

type decisionScanner interface {
	Scan(dest ...interface{}) error
}

func scanDecision(row decisionScanner) (domain.DecisionRecord, error) {
	var record domain.DecisionRecord
	var reasonsRaw []byte
	err := row.Scan(
		&record.ID,
		&record.Question,
		&record.FinalAnswer,
		&record.Accepted,
		&reasonsRaw,
		&record.MaxAuthority,
		&record.LexicalOverlap,
		&record.CreatedAt,
	)
	if err != nil {
		return domain.DecisionRecord{}, err
	}
	if err := json.Unmarshal(reasonsRaw, &record.Reasons); err != nil {
		return domain.DecisionRecord{}, fmt.Errorf("unmarshal reasons: %w", err)
	}
	return record, nil
}
