package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vayux/mcp-intentful-agent/internal/domain"
	"github.com/vayux/mcp-intentful-agent/internal/idempotency"
)

// idempotencyTable adapts the idempotency_keys table to idempotency.Store.
type idempotencyTable struct {
	s   *SQLiteStore
	ttl time.Duration
	now func() time.Time
}

// Idempotency returns a persistent idempotency store sharing this database.
// A zero ttl keeps entries forever.
func (s *SQLiteStore) Idempotency(ttl time.Duration) idempotency.Store {
	return &idempotencyTable{s: s, ttl: ttl, now: time.Now}
}

func (t *idempotencyTable) Get(ctx context.Context, key string) (domain.ToolResult, bool, error) {
	var resultJSON string
	var expiresAt sql.NullInt64
	err := t.s.db.QueryRowContext(ctx,
		`SELECT result_json, expires_at FROM idempotency_keys WHERE key = ?`, key,
	).Scan(&resultJSON, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ToolResult{}, false, nil
	}
	if err != nil {
		return domain.ToolResult{}, false, fmt.Errorf("query idempotency key: %w", err)
	}
	if expiresAt.Valid && t.now().Unix() >= expiresAt.Int64 {
		return domain.ToolResult{}, false, nil
	}

	var r domain.ToolResult
	if err := json.Unmarshal([]byte(resultJSON), &r); err != nil {
		return domain.ToolResult{}, false, fmt.Errorf("decode cached result: %w", err)
	}
	return r, true, nil
}

func (t *idempotencyTable) Put(ctx context.Context, key string, result domain.ToolResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	var expiresAt any
	if t.ttl > 0 {
		expiresAt = t.now().Add(t.ttl).Unix()
	}

	return t.s.withRetry(ctx, "put idempotency key", func() error {
		_, err := t.s.db.ExecContext(ctx, `
			INSERT INTO idempotency_keys (key, result_json, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				result_json = excluded.result_json,
				expires_at = excluded.expires_at`,
			key, string(raw), expiresAt)
		return err
	})
}

// PurgeExpiredKeys removes idempotency entries past their expiry.
func (s *SQLiteStore) PurgeExpiredKeys(ctx context.Context) (int64, error) {
	var n int64
	err := s.withRetry(ctx, "purge idempotency keys", func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM idempotency_keys WHERE expires_at IS NOT NULL AND expires_at <= ?`, time.Now().Unix())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}
