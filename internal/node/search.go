package node

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/juehai/sitebase/internal/query"
	"github.com/juehai/sitebase/internal/store"
)

// SearchOptions controls pagination and ordering of a cache search.
type SearchOptions struct {
	Start   int64
	Num     int64 // 0 means unlimited
	OrderBy string
	Order   string
	Total   bool
}

// SearchResult is a page of matched cache entries.
type SearchResult struct {
	Start  int64               `json:"start"`
	Num    int64               `json:"num"` // rows in Result
	Total  int64               `json:"total,omitempty"`
	Result []map[string]string `json:"result"`
}

// Search compiles the query expression and runs it against the cache table.
func (e *Engine) Search(
	ctx context.Context,
	expr string,
	opts SearchOptions,
) (*SearchResult, error) {
	predicate, err := query.CompileQuery(expr)
	if err != nil {
		if ge, ok := err.(*query.GrammarError); ok {
			return nil, &SearchGrammarError{Message: ge.Message, Position: ge.Pos}
		}
		return nil, err
	}

	e.logger.Debug("search",
		zap.String("query", expr),
		zap.String("sql", predicate.SQL))

	result := &SearchResult{
		Start:  opts.Start,
		Result: []map[string]string{},
	}
	err = e.store.WithinTx(ctx, func(tx *sql.Tx) error {
		if opts.Total {
			total, err := e.store.CountCache(ctx, tx, predicate)
			if err != nil {
				return err
			}
			result.Total = total
		}
		entries, err := e.store.SearchCache(ctx, tx, predicate, store.SearchOptions{
			Start:   opts.Start,
			Num:     opts.Num,
			OrderBy: opts.OrderBy,
			Order:   opts.Order,
		})
		if err != nil {
			return err
		}
		for _, entry := range entries {
			result.Result = append(result.Result, formatCache(entry))
		}
		result.Num = int64(len(result.Result))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CheckSyntax validates a query expression without touching the database.
func (e *Engine) CheckSyntax(expr string) error {
	if err := query.CheckSyntax(expr); err != nil {
		if ge, ok := err.(*query.GrammarError); ok {
			return &SearchGrammarError{Message: ge.Message, Position: ge.Pos}
		}
		return err
	}
	return nil
}
