package vectorindex

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Postgres is a pgvector-backed Index. Each namespace maps to its own table
// (vector_<namespace>), mirroring the teacher's per-concern table bootstrap
// style (internal/persistence/databases/postgres_vector.go) generalized to
// multiple namespaces instead of one "embeddings" table.
type Postgres struct {
	pool   *pgxpool.Pool
	dim    int
	metric string
}

// NewPostgres constructs a Postgres-backed Index.
func NewPostgres(pool *pgxpool.Pool, dim int, metric string) *Postgres {
	return &Postgres{pool: pool, dim: dim, metric: strings.ToLower(strings.TrimSpace(metric))}
}

func (p *Postgres) table(namespace string) string {
	return "vector_" + sanitizeIdent(namespace)
}

func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}

func (p *Postgres) ensureTable(ctx context.Context, namespace string) error {
	vecType := "vector"
	if p.dim > 0 {
		vecType = fmt.Sprintf("vector(%d)", p.dim)
	}
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  vec %s NOT NULL,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb
)`, p.table(namespace), vecType))
	return err
}

func (p *Postgres) Upsert(ctx context.Context, namespace, id string, embedding []float32, metadata map[string]string) error {
	if err := p.ensureTable(ctx, namespace); err != nil {
		return err
	}
	v := pgvector.NewVector(embedding)
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s(id, vec, metadata) VALUES ($1,$2,$3)
ON CONFLICT (id) DO UPDATE SET vec=EXCLUDED.vec, metadata=EXCLUDED.metadata
`, p.table(namespace)), id, v, nonNilMap(metadata))
	return err
}

func (p *Postgres) Delete(ctx context.Context, namespace, id string) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=$1`, p.table(namespace)), id)
	return err
}

func (p *Postgres) Query(ctx context.Context, namespace string, embedding []float32, topK int, filter map[string]string) ([]Match, error) {
	if topK <= 0 {
		topK = 10
	}
	if err := p.ensureTable(ctx, namespace); err != nil {
		return nil, err
	}
	v := pgvector.NewVector(embedding)
	op, scoreExpr := "<=>", "1 - (vec <=> $1)"
	switch p.metric {
	case "l2", "euclidean":
		op, scoreExpr = "<->", "-(vec <-> $1)"
	case "ip", "dot":
		op, scoreExpr = "<#>", "-(vec <#> $1)"
	}
	args := []any{v, topK}
	where := ""
	if len(filter) > 0 {
		where = "WHERE metadata @> $3"
		args = append(args, filter)
	}
	q := fmt.Sprintf(`SELECT id, %s AS score, metadata FROM %s %s ORDER BY vec %s $1 LIMIT $2`,
		scoreExpr, p.table(namespace), where, op)
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Match, 0, topK)
	for rows.Next() {
		var m Match
		var md map[string]string
		if err := rows.Scan(&m.ID, &m.Score, &md); err != nil {
			return nil, err
		}
		m.Metadata = md
		out = append(out, m)
	}
	return out, rows.Err()
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
