package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/juehai/sitebase/internal/query"
)

// SearchOptions controls pagination and ordering of a cache search.
type SearchOptions struct {
	Start   int64
	Num     int64 // 0 means unlimited
	OrderBy string
	Order   string // "asc" or "desc"
}

// structural columns that may be ordered on directly; anything else orders
// on the named value entry
var orderColumns = map[string]bool{"id": true, "manifest": true, "cn": true}

// SearchCache runs a compiled predicate against the cache table.
func (s *Store) SearchCache(
	ctx context.Context, q Querier,
	pred *query.Predicate, opts SearchOptions,
) ([]*CacheEntry, error) {
	args := append([]any{}, pred.Args...)
	n := len(args)

	direction := "DESC"
	if strings.EqualFold(opts.Order, "asc") || opts.Order == "" {
		direction = "ASC"
	}

	orderBy := opts.OrderBy
	if orderBy == "" {
		orderBy = "id"
	}
	var orderExpr string
	if orderColumns[orderBy] {
		orderExpr = orderBy
	} else {
		n++
		orderExpr = fmt.Sprintf("value->>$%d", n)
		args = append(args, orderBy)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT id, manifest, cn, value::text FROM node_cache WHERE %s", pred.SQL)
	fmt.Fprintf(&sb, " ORDER BY %s %s NULLS FIRST", orderExpr, direction)
	if opts.Num > 0 {
		n++
		fmt.Fprintf(&sb, " LIMIT $%d", n)
		args = append(args, opts.Num)
	}
	n++
	fmt.Fprintf(&sb, " OFFSET $%d", n)
	args = append(args, opts.Start)

	rows, err := q.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, ConvertError(err)
	}
	defer rows.Close()

	var entries []*CacheEntry
	for rows.Next() {
		var (
			entry CacheEntry
			raw   string
		)
		if err := rows.Scan(&entry.ID, &entry.Manifest, &entry.CN, &raw); err != nil {
			return nil, ConvertError(err)
		}
		if err := json.Unmarshal([]byte(raw), &entry.Value); err != nil {
			return nil, fmt.Errorf("decode cache value of node %d: %w", entry.ID, err)
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, ConvertError(err)
	}
	return entries, nil
}

// CountCache counts cache rows matching a compiled predicate. The count is
// priced separately from the fetch; callers opt in.
func (s *Store) CountCache(ctx context.Context, q Querier, pred *query.Predicate) (int64, error) {
	stmt := fmt.Sprintf("SELECT count(1) FROM node_cache WHERE %s", pred.SQL)
	var total int64
	if err := q.QueryRowContext(ctx, stmt, pred.Args...).Scan(&total); err != nil {
		return 0, ConvertError(err)
	}
	return total, nil
}
