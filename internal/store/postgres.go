package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the durable Store implementation. Table bootstrap is
// best-effort CREATE IF NOT EXISTS, matching the teacher's dev-mode schema
// management; production migrations are out of scope (spec §6).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgresStore connects to dsn and ensures the schema exists.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 16
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{pool: pool}
	if err := s.bootstrap(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

// Pool exposes the underlying connection pool so callers can share it with a
// pgvector-backed vectorindex.Postgres instead of opening a second pool.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

func (s *PostgresStore) bootstrap(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			url TEXT NOT NULL,
			content_hash TEXT NOT NULL DEFAULT '',
			source_type TEXT NOT NULL DEFAULT 'html',
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			last_verified_at TIMESTAMPTZ,
			is_stale BOOLEAN NOT NULL DEFAULT false,
			UNIQUE(tenant_id, url)
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			document_id TEXT NOT NULL,
			chunk_index INT NOT NULL DEFAULT 0,
			chunk_text TEXT NOT NULL,
			embedding vector,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb
		)`,
		`CREATE TABLE IF NOT EXISTS content_items (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			source_id TEXT NOT NULL,
			category TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			published_at TIMESTAMPTZ,
			expires_at TIMESTAMPTZ,
			url TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			content_hash TEXT NOT NULL,
			embedding vector,
			UNIQUE(tenant_id, source_id, content_hash)
		)`,
		`CREATE TABLE IF NOT EXISTS source_configs (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			connector_type TEXT NOT NULL,
			subtype TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL,
			schedule TEXT NOT NULL,
			config JSONB NOT NULL DEFAULT '{}'::jsonb,
			enabled BOOLEAN NOT NULL DEFAULT true,
			should_embed BOOLEAN NOT NULL DEFAULT false,
			last_fetched_at TIMESTAMPTZ,
			last_error TEXT NOT NULL DEFAULT '',
			error_count INT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS answer_cache (
			key TEXT PRIMARY KEY,
			question TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			answer TEXT NOT NULL,
			sources JSONB NOT NULL DEFAULT '[]'::jsonb,
			stored_at TIMESTAMPTZ NOT NULL,
			ttl_seconds INT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ingestion_log (
			id BIGSERIAL PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			source_id TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			occurred_at TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			errors INT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS usage_rows (
			id BIGSERIAL PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			model TEXT NOT NULL,
			prompt_tokens INT NOT NULL,
			completion_tokens INT NOT NULL,
			total_tokens INT NOT NULL,
			estimated_cost_usd DOUBLE PRECISION NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, tenantID string) ([]Document, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, tenant_id, url, content_hash, source_type, metadata, last_verified_at, is_stale FROM documents WHERE tenant_id=$1`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var d Document
		var md map[string]string
		var sourceType string
		var lastVerified *time.Time
		if err := rows.Scan(&d.ID, &d.TenantID, &d.URL, &d.ContentHash, &sourceType, &md, &lastVerified, &d.IsStale); err != nil {
			return nil, err
		}
		d.SourceType = SourceType(sourceType)
		d.Metadata = md
		if lastVerified != nil {
			d.LastVerifiedAt = *lastVerified
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertDocument(ctx context.Context, doc Document) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO documents(id, tenant_id, url, content_hash, source_type, metadata, last_verified_at, is_stale)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (tenant_id, url) DO UPDATE SET
  content_hash=EXCLUDED.content_hash, metadata=EXCLUDED.metadata,
  last_verified_at=EXCLUDED.last_verified_at, is_stale=EXCLUDED.is_stale, source_type=EXCLUDED.source_type
`, doc.ID, doc.TenantID, doc.URL, doc.ContentHash, string(doc.SourceType), nonNilMap(doc.Metadata), doc.LastVerifiedAt, doc.IsStale)
	return err
}

func (s *PostgresStore) GetChunksByIDs(ctx context.Context, tenantID string, ids []string) ([]Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id, tenant_id, document_id, chunk_index, chunk_text, metadata FROM chunks WHERE tenant_id=$1 AND id = ANY($2)`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

func scanChunks(rows pgx.Rows) ([]Chunk, error) {
	var out []Chunk
	for rows.Next() {
		var c Chunk
		var md []byte
		if err := rows.Scan(&c.ID, &c.TenantID, &c.DocumentID, &c.ChunkIndex, &c.ChunkText, &md); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(md, &c.Metadata)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertChunk(ctx context.Context, c Chunk) error {
	md, _ := json.Marshal(c.Metadata)
	_, err := s.pool.Exec(ctx, `
INSERT INTO chunks(id, tenant_id, document_id, chunk_index, chunk_text, embedding, metadata)
VALUES ($1,$2,$3,$4,$5,$6::vector,$7)
ON CONFLICT (id) DO UPDATE SET chunk_text=EXCLUDED.chunk_text, embedding=EXCLUDED.embedding, metadata=EXCLUDED.metadata
`, c.ID, c.TenantID, c.DocumentID, c.ChunkIndex, c.ChunkText, vectorLiteral(c.Embedding), md)
	return err
}

func (s *PostgresStore) SiblingChunks(ctx context.Context, tenantID, documentID string, aroundIndex, count int) ([]Chunk, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, tenant_id, document_id, chunk_index, chunk_text, metadata FROM chunks
WHERE tenant_id=$1 AND document_id=$2 AND chunk_index <> $3
ORDER BY abs(chunk_index - $3) ASC, chunk_index ASC
LIMIT $4`, tenantID, documentID, aroundIndex, count)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

func (s *PostgresStore) GetContentItemsByIDs(ctx context.Context, tenantID string, ids []string) ([]ContentItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, tenant_id, source_id, category, title, content, summary, published_at, expires_at, url, image_url, metadata, content_hash
FROM content_items WHERE tenant_id=$1 AND id = ANY($2)`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanContentItems(rows)
}

func scanContentItems(rows pgx.Rows) ([]ContentItem, error) {
	var out []ContentItem
	for rows.Next() {
		var c ContentItem
		var category string
		var md map[string]string
		var expires *time.Time
		if err := rows.Scan(&c.ID, &c.TenantID, &c.SourceID, &category, &c.Title, &c.Content, &c.Summary,
			&c.PublishedAt, &expires, &c.URL, &c.ImageURL, &md, &c.ContentHash); err != nil {
			return nil, err
		}
		c.Category = ContentCategory(category)
		c.Metadata = md
		c.ExpiresAt = expires
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertContentItem(ctx context.Context, item ContentItem) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
INSERT INTO content_items(id, tenant_id, source_id, category, title, content, summary, published_at, expires_at, url, image_url, metadata, content_hash, embedding)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14::vector)
ON CONFLICT (tenant_id, source_id, content_hash) DO NOTHING
`, item.ID, item.TenantID, item.SourceID, string(item.Category), item.Title, item.Content, item.Summary,
		item.PublishedAt, item.ExpiresAt, item.URL, item.ImageURL, nonNilMap(item.Metadata), item.ContentHash, vectorLiteral(item.Embedding))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListContentItems(ctx context.Context, q ContentItemQuery) ([]ContentItem, int, error) {
	where := `tenant_id=$1 AND (expires_at IS NULL OR expires_at > to_timestamp($2))`
	args := []any{q.TenantID, q.NowUnix}
	idx := 3
	if q.Category != "" {
		where += " AND category=$" + itoa(idx)
		args = append(args, q.Category)
		idx++
	}
	if q.SourceID != "" {
		where += " AND source_id=$" + itoa(idx)
		args = append(args, q.SourceID)
		idx++
	}
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM content_items WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limitArg, offsetArg := idx, idx+1
	args = append(args, q.Limit, q.Offset)
	rows, err := s.pool.Query(ctx, `
SELECT id, tenant_id, source_id, category, title, content, summary, published_at, expires_at, url, image_url, metadata, content_hash
FROM content_items WHERE `+where+` ORDER BY published_at DESC LIMIT $`+itoa(limitArg)+` OFFSET $`+itoa(offsetArg), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := scanContentItems(rows)
	return items, total, err
}

func (s *PostgresStore) ListSourceConfigs(ctx context.Context, tenantID, schedule string, enabledOnly bool) ([]SourceConfig, error) {
	where := "1=1"
	args := []any{}
	idx := 1
	if tenantID != "" {
		where += " AND tenant_id=$" + itoa(idx)
		args = append(args, tenantID)
		idx++
	}
	if schedule != "" {
		where += " AND schedule=$" + itoa(idx)
		args = append(args, schedule)
		idx++
	}
	if enabledOnly {
		where += " AND enabled"
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, tenant_id, connector_type, subtype, category, schedule, config, enabled, should_embed, last_fetched_at, last_error, error_count
FROM source_configs WHERE `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SourceConfig
	for rows.Next() {
		var s2 SourceConfig
		var ctype, schedStr, category string
		var cfg map[string]string
		var lastFetched *time.Time
		if err := rows.Scan(&s2.ID, &s2.TenantID, &ctype, &s2.Subtype, &category, &schedStr, &cfg, &s2.Enabled, &s2.ShouldEmbed, &lastFetched, &s2.LastError, &s2.ErrorCount); err != nil {
			return nil, err
		}
		s2.ConnectorType = ConnectorType(ctype)
		s2.Category = ContentCategory(category)
		s2.Schedule = Schedule(schedStr)
		s2.Config = cfg
		if lastFetched != nil {
			s2.LastFetchedAt = *lastFetched
		}
		out = append(out, s2)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecordRunResult(ctx context.Context, id string, lastFetchedAt int64, lastError string, errorCount int) error {
	_, err := s.pool.Exec(ctx, `UPDATE source_configs SET last_fetched_at=to_timestamp($2), last_error=$3, error_count=$4 WHERE id=$1`,
		id, lastFetchedAt, lastError, errorCount)
	return err
}

func (s *PostgresStore) GetCachedAnswer(ctx context.Context, key string) (CachedAnswer, bool, error) {
	var a CachedAnswer
	var sourcesJSON []byte
	var ttlSeconds int
	err := s.pool.QueryRow(ctx, `SELECT key, question, tenant_id, answer, sources, stored_at, ttl_seconds FROM answer_cache WHERE key=$1`, key).
		Scan(&a.Key, &a.Question, &a.TenantID, &a.Answer, &sourcesJSON, &a.StoredAt, &ttlSeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return CachedAnswer{}, false, nil
	}
	if err != nil {
		return CachedAnswer{}, false, err
	}
	a.TTL = time.Duration(ttlSeconds) * time.Second
	_ = json.Unmarshal(sourcesJSON, &a.Sources)
	return a, true, nil
}

func (s *PostgresStore) PutCachedAnswer(ctx context.Context, a CachedAnswer) error {
	sourcesJSON, _ := json.Marshal(a.Sources)
	_, err := s.pool.Exec(ctx, `
INSERT INTO answer_cache(key, question, tenant_id, answer, sources, stored_at, ttl_seconds)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (key) DO UPDATE SET answer=EXCLUDED.answer, sources=EXCLUDED.sources, stored_at=EXCLUDED.stored_at, ttl_seconds=EXCLUDED.ttl_seconds
`, a.Key, a.Question, a.TenantID, a.Answer, sourcesJSON, a.StoredAt, int(a.TTL.Seconds()))
	return err
}

func (s *PostgresStore) AppendIngestionLog(ctx context.Context, e IngestionLogEntry) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO ingestion_log(tenant_id, kind, source_id, summary, occurred_at, duration_ms, errors)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, e.TenantID, e.Kind, e.SourceID, e.Summary, e.OccurredAt, e.DurationMS, e.Errors)
	return err
}

func (s *PostgresStore) InsertUsageRow(ctx context.Context, r UsageRow) error {
	md := nonNilMap(r.Metadata)
	_, err := s.pool.Exec(ctx, `
INSERT INTO usage_rows(tenant_id, endpoint, model, prompt_tokens, completion_tokens, total_tokens, estimated_cost_usd, metadata, recorded_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, r.TenantID, r.Endpoint, r.Model, r.PromptTokens, r.CompletionTokens, r.TotalTokens, r.EstimatedCostUSD, md, r.RecordedAt)
	return err
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
