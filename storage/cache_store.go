package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/userport/enrichment-worker/cache"
)

// ResponseCacheStore persists cache.ResponseEntry rows to api_request_cache,
// the durable L2 tier behind cache.ResponseCache's Redis-backed L1 — ported
// field-for-field from APICacheService._ensure_cache_table
// (_examples/original_source/workers/services/api_cache_service.py), with
// JSONB substituted for BigQuery JSON and TIMESTAMPTZ for BigQuery
// TIMESTAMP per SPEC_FULL.md's supplemented-feature note.
type ResponseCacheStore struct {
	db *DB
}

func NewResponseCacheStore(db *DB) *ResponseCacheStore {
	return &ResponseCacheStore{db: db}
}

// Get mirrors APICacheService.get_cached_response: a live (non-expired),
// tenant-scoped-or-global lookup by cache key.
func (s *ResponseCacheStore) Get(ctx context.Context, tenantID, key string) (cache.ResponseEntry, bool) {
	row := s.db.Pool().QueryRow(ctx, `
		SELECT cache_key, request_method, request_url, request_params, request_headers,
		       response_data, response_status, created_at, expires_at, tenant_id
		FROM api_request_cache
		WHERE cache_key = $1
		  AND (expires_at IS NULL OR expires_at > now())
		  AND (tenant_id IS NULL OR tenant_id = $2)
		ORDER BY created_at DESC
		LIMIT 1
	`, key, tenantID)

	var entry cache.ResponseEntry
	var params, headers json.RawMessage
	var tenant *string
	var expires *time.Time
	if err := row.Scan(&entry.Key, &entry.Method, &entry.URL, &params, &headers,
		&entry.ResponseData, &entry.StatusCode, &entry.CreatedAt, &expires, &tenant); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return cache.ResponseEntry{}, false
		}
		return cache.ResponseEntry{}, false
	}
	_ = json.Unmarshal(params, &entry.Params)
	_ = json.Unmarshal(headers, &entry.Headers)
	if expires != nil {
		entry.ExpiresAt = *expires
	}
	if tenant != nil {
		entry.TenantID = *tenant
	}
	return entry, true
}

// Put mirrors APICacheService.cache_response.
func (s *ResponseCacheStore) Put(ctx context.Context, entry cache.ResponseEntry) error {
	params, err := json.Marshal(entry.Params)
	if err != nil {
		return err
	}
	headers, err := json.Marshal(entry.Headers)
	if err != nil {
		return err
	}

	var expires interface{}
	if !entry.ExpiresAt.IsZero() {
		expires = entry.ExpiresAt
	}
	var tenant interface{}
	if entry.TenantID != "" {
		tenant = entry.TenantID
	}

	_, err = s.db.Pool().Exec(ctx, `
		INSERT INTO api_request_cache
			(cache_key, request_method, request_url, request_params, request_headers,
			 response_data, response_status, created_at, expires_at, tenant_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (cache_key, tenant_id) DO UPDATE SET
			response_data = EXCLUDED.response_data,
			response_status = EXCLUDED.response_status,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
	`, entry.Key, entry.Method, entry.URL, params, headers, entry.ResponseData,
		entry.StatusCode, entry.CreatedAt, expires, tenant)
	return err
}

// ClearExpired mirrors APICacheService.clear_expired_cache: delete expired
// rows plus rows older than the retention window, return rows removed.
func (s *ResponseCacheStore) ClearExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.db.Pool().Exec(ctx, `
		DELETE FROM api_request_cache
		WHERE expires_at < now() OR created_at < now() - $1::interval
	`, olderThan.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// AICacheStore persists cache.AIEntry rows to ai_cache, the durable tier
// behind cache.AICache's Redis-backed L1.
type AICacheStore struct {
	db *DB
}

func NewAICacheStore(db *DB) *AICacheStore {
	return &AICacheStore{db: db}
}

func (s *AICacheStore) Get(ctx context.Context, tenantID, key string) (cache.AIEntry, bool) {
	row := s.db.Pool().QueryRow(ctx, `
		SELECT cache_key, model, prompt, schema_fingerprint, temperature, response,
		       prompt_tokens, completion_tokens, total_tokens, created_at, expires_at, tenant_id
		FROM ai_cache
		WHERE cache_key = $1
		  AND (expires_at IS NULL OR expires_at > now())
		  AND (tenant_id IS NULL OR tenant_id = $2)
		ORDER BY created_at DESC
		LIMIT 1
	`, key, tenantID)

	var entry cache.AIEntry
	var schema *string
	var tenant *string
	var expires *time.Time
	if err := row.Scan(&entry.Key, &entry.Model, &entry.Prompt, &schema, &entry.Temperature,
		&entry.Response, &entry.TokenUsage.PromptTokens, &entry.TokenUsage.CompletionTokens,
		&entry.TokenUsage.TotalTokens, &entry.CreatedAt, &expires, &tenant); err != nil {
		return cache.AIEntry{}, false
	}
	if schema != nil {
		entry.SchemaFingerprint = *schema
	}
	if expires != nil {
		entry.ExpiresAt = *expires
	}
	if tenant != nil {
		entry.TenantID = *tenant
	}
	return entry, true
}

func (s *AICacheStore) Put(ctx context.Context, entry cache.AIEntry) error {
	var expires interface{}
	if !entry.ExpiresAt.IsZero() {
		expires = entry.ExpiresAt
	}
	var tenant interface{}
	if entry.TenantID != "" {
		tenant = entry.TenantID
	}

	_, err := s.db.Pool().Exec(ctx, `
		INSERT INTO ai_cache
			(cache_key, model, prompt, schema_fingerprint, temperature, response,
			 prompt_tokens, completion_tokens, total_tokens, created_at, expires_at, tenant_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (cache_key, tenant_id) DO UPDATE SET
			response = EXCLUDED.response,
			prompt_tokens = EXCLUDED.prompt_tokens,
			completion_tokens = EXCLUDED.completion_tokens,
			total_tokens = EXCLUDED.total_tokens,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
	`, entry.Key, entry.Model, entry.Prompt, entry.SchemaFingerprint, entry.Temperature,
		entry.Response, entry.TokenUsage.PromptTokens, entry.TokenUsage.CompletionTokens,
		entry.TokenUsage.TotalTokens, entry.CreatedAt, expires, tenant)
	return err
}
