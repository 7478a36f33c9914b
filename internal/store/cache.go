package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const (
	sqlSelectCache = `SELECT id, manifest, cn, value::text FROM node_cache ` +
		`WHERE id = $1 LIMIT 1`

	sqlInsertCache = `INSERT INTO node_cache (id, manifest, cn, value, depends) ` +
		`VALUES ($1, $2, $3, $4::jsonb, $5::bigint[])`

	sqlDeleteCache = `DELETE FROM node_cache WHERE id = ANY($1::bigint[])`
)

// CacheEntry is the denormalized read view of one node.
type CacheEntry struct {
	ID       int64
	Manifest string
	CN       string
	Value    map[string]string
}

// GetCache loads one cache row. Returns ErrNotFound when the entry has not
// been built yet.
func (s *Store) GetCache(ctx context.Context, q Querier, id int64) (*CacheEntry, error) {
	var (
		entry CacheEntry
		raw   string
	)
	err := q.QueryRowContext(ctx, sqlSelectCache, id).
		Scan(&entry.ID, &entry.Manifest, &entry.CN, &raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, ConvertError(err)
	}
	if err := json.Unmarshal([]byte(raw), &entry.Value); err != nil {
		return nil, fmt.Errorf("decode cache value of node %d: %w", id, err)
	}
	return &entry, nil
}

// ReplaceCache swaps the cache row for a node: the prior entry is deleted
// and the freshly expanded one inserted.
func (s *Store) ReplaceCache(
	ctx context.Context, q Querier,
	id int64, manifest, cn string, value map[string]string, depends []int64,
) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	if _, err := q.ExecContext(ctx, sqlDeleteCache, int64Array([]int64{id})); err != nil {
		return ConvertError(err)
	}
	if _, err := q.ExecContext(ctx, sqlInsertCache,
		id, manifest, cn, string(raw), int64Array(depends)); err != nil {
		return ConvertError(err)
	}
	return nil
}

// DeleteCache removes cache rows for the given node ids.
func (s *Store) DeleteCache(ctx context.Context, q Querier, ids []int64) error {
	if _, err := q.ExecContext(ctx, sqlDeleteCache, int64Array(ids)); err != nil {
		return ConvertError(err)
	}
	return nil
}
