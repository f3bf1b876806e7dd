package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/blogkit/analytics/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	doc        JSONB NOT NULL,
	PRIMARY KEY (collection, id)
);
`

// Postgres stores each document as one JSONB row keyed by (collection, id).
type Postgres struct {
	db           *postgres.DB
	logger       *zap.Logger
	pollInterval time.Duration
}

func NewPostgres(db *postgres.DB, pollInterval time.Duration, logger *zap.Logger) *Postgres {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Postgres{
		db:           db,
		logger:       logger,
		pollInterval: pollInterval,
	}
}

func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	return nil
}

func (s *Postgres) Add(ctx context.Context, collection string, doc Doc) (string, error) {
	id := uuid.NewString()
	if err := s.set(ctx, s.db.DB, collection, id, doc); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Postgres) Get(ctx context.Context, collection, id string) (Doc, error) {
	var raw []byte
	query := `SELECT doc FROM documents WHERE collection = $1 AND id = $2`
	err := s.db.GetContext(ctx, &raw, query, collection, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return decodeDoc(raw, id)
}

func (s *Postgres) Set(ctx context.Context, collection, id string, doc Doc) error {
	return s.set(ctx, s.db.DB, collection, id, doc)
}

func (s *Postgres) set(ctx context.Context, ext sqlx.ExtContext, collection, id string, doc Doc) error {
	payload, err := encodeDoc(doc)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO documents (collection, id, doc)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE SET doc = EXCLUDED.doc
	`
	if _, err := ext.ExecContext(ctx, query, collection, id, payload); err != nil {
		return fmt.Errorf("failed to set document: %w", err)
	}
	return nil
}

func (s *Postgres) UpdateFields(ctx context.Context, collection, id string, fields Doc) error {
	return s.updateFields(ctx, s.db.DB, collection, id, fields)
}

func (s *Postgres) updateFields(ctx context.Context, ext sqlx.ExtContext, collection, id string, fields Doc) error {
	plain := make(Doc)
	expr := "doc"
	for k, v := range fields {
		inc, ok := v.(Increment)
		if !ok {
			plain[k] = v
			continue
		}
		if err := checkIdent(k); err != nil {
			return err
		}
		// Field names are code-owned constants, never caller input.
		expr = fmt.Sprintf(
			"jsonb_set(%s, '{%s}', to_jsonb(COALESCE((doc->>'%s')::numeric, 0) + %d))",
			expr, k, k, inc.Delta,
		)
	}

	payload, err := encodeDoc(plain)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE documents
		SET doc = %s || $3::jsonb
		WHERE collection = $1 AND id = $2
	`, expr)

	result, err := ext.ExecContext(ctx, query, collection, id, payload)
	if err != nil {
		return fmt.Errorf("failed to update document fields: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) Query(ctx context.Context, collection string, filters []Filter, order *OrderBy, limit int) ([]Doc, error) {
	where, args, err := buildWhere(collection, filters)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, doc FROM documents WHERE ` + where
	if order != nil {
		if err := checkIdent(order.Field); err != nil {
			return nil, err
		}
		// jsonb ordering compares numbers numerically and strings lexically,
		// which matches the fixed-width timestamp encoding.
		query += fmt.Sprintf(" ORDER BY doc->'%s'", order.Field)
		if order.Desc {
			query += " DESC"
		}
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []Doc
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc, err := decodeDoc(raw, id)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *Postgres) Count(ctx context.Context, collection string, filters []Filter) (int64, error) {
	where, args, err := buildWhere(collection, filters)
	if err != nil {
		return 0, err
	}

	var n int64
	query := `SELECT COUNT(*) FROM documents WHERE ` + where
	if err := s.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

func (s *Postgres) Delete(ctx context.Context, collection, id string) error {
	query := `DELETE FROM documents WHERE collection = $1 AND id = $2`
	if _, err := s.db.ExecContext(ctx, query, collection, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (s *Postgres) BatchWrite(ctx context.Context, ops []WriteOp) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, op := range ops {
		switch op.Kind {
		case WriteSet:
			err = s.set(ctx, tx, op.Collection, op.ID, op.Doc)
		case WriteUpdate:
			err = s.updateFields(ctx, tx, op.Collection, op.ID, op.Doc)
		case WriteDelete:
			_, err = tx.ExecContext(ctx,
				`DELETE FROM documents WHERE collection = $1 AND id = $2`,
				op.Collection, op.ID)
		}
		if err != nil {
			return fmt.Errorf("batch write failed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (s *Postgres) Subscribe(ctx context.Context, collection string, filters []Filter, order *OrderBy, limit int, fn func([]Doc)) (func(), error) {
	if err := validateFilters(filters); err != nil {
		return nil, err
	}
	return pollQuery(ctx, s, s.pollInterval, collection, filters, order, limit, fn), nil
}

func buildWhere(collection string, filters []Filter) (string, []any, error) {
	if err := validateFilters(filters); err != nil {
		return "", nil, err
	}

	clauses := []string{"collection = $1"}
	args := []any{collection}

	for _, f := range filters {
		if err := checkIdent(f.Field); err != nil {
			return "", nil, err
		}
		op := f.Op
		if op == "==" {
			op = "="
		}

		n := len(args) + 1
		switch v := f.Value.(type) {
		case time.Time:
			clauses = append(clauses, fmt.Sprintf("doc->>'%s' %s $%d", f.Field, op, n))
			args = append(args, FormatTime(v))
		case int, int64, float64:
			clauses = append(clauses, fmt.Sprintf("(doc->>'%s')::numeric %s $%d", f.Field, op, n))
			args = append(args, v)
		case bool:
			clauses = append(clauses, fmt.Sprintf("(doc->>'%s')::boolean %s $%d", f.Field, op, n))
			args = append(args, v)
		default:
			clauses = append(clauses, fmt.Sprintf("doc->>'%s' %s $%d", f.Field, op, n))
			args = append(args, fmt.Sprintf("%v", v))
		}
	}

	return strings.Join(clauses, " AND "), args, nil
}

func encodeDoc(doc Doc) ([]byte, error) {
	normalized := make(Doc, len(doc))
	for k, v := range doc {
		if _, ok := v.(Increment); ok {
			return nil, fmt.Errorf("increment sentinel is only valid in UpdateFields")
		}
		normalized[k] = normalizeValue(v)
	}
	payload, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return payload, nil
}

func decodeDoc(raw []byte, id string) (Doc, error) {
	var doc Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	doc["id"] = id
	return doc, nil
}

func checkIdent(name string) error {
	if name == "" {
		return fmt.Errorf("empty field name")
	}
	for _, r := range name {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			continue
		}
		return fmt.Errorf("invalid field name %q", name)
	}
	return nil
}
