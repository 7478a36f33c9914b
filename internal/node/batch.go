package node

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/juehai/sitebase/internal/store"
)

// WriteItem is one entry of a batch submission: a full create (zero ID) or
// an update-by-id.
type WriteItem struct {
	ID       int64
	Manifest string
	Value    map[string]any
}

// UpsertResult reports a batch write.
type UpsertResult struct {
	Affected int64       `json:"affected"`
	Cache    CacheResult `json:"cache"`
}

// Upsert validates every item of a heterogeneous batch, then writes them
// all within one transaction. Validation failures are collected per item
// into a BatchOperationError and, if any item failed, nothing is written.
// With checkOnly the batch is validated and no write happens.
func (e *Engine) Upsert(
	ctx context.Context,
	items []WriteItem,
	forceCreate, checkOnly bool,
) (*UpsertResult, error) {
	if len(items) == 0 {
		return nil, &EmptyInputData{}
	}

	e.logger.Debug("upsert batch", zap.Int("items", len(items)))

	relations := make([]*NodeRelation, 0, len(items))
	var batchErrs []NodeError
	for _, item := range items {
		create := forceCreate || item.ID == 0
		relation, err := e.validateAndMap(ctx, item.ID, item.Manifest, item.Value, create)
		if err != nil {
			if _, ok := err.(Payloader); ok {
				batchErrs = append(batchErrs, NodeError{NodeID: item.ID, Err: err})
				continue
			}
			return nil, err // store-layer failure, not an item error
		}
		relations = append(relations, relation)
	}

	if len(batchErrs) > 0 {
		return nil, &BatchOperationError{Errors: batchErrs}
	}

	if checkOnly {
		return &UpsertResult{}, nil
	}

	result := &UpsertResult{}
	err := e.store.WithinTx(ctx, func(tx *sql.Tx) error {
		memo := make(map[int64]*store.Node)
		for _, relation := range relations {
			id := relation.ID
			switch {
			case forceCreate && id != 0:
				if err := e.store.InsertNodeWithID(
					ctx, tx, id, relation.Manifest, relation.CN, relation.Value); err != nil {
					return err
				}
				result.Affected++
			case id == 0:
				newID, err := e.store.InsertNode(
					ctx, tx, relation.Manifest, relation.CN, relation.Value)
				if err != nil {
					return err
				}
				id = newID
				result.Affected++
			default:
				affected, err := e.store.UpdateNode(
					ctx, tx, id, relation.CN, relation.Value)
				if err != nil {
					return err
				}
				result.Affected += affected
			}

			delete(memo, id)
			affected, err := e.buildCacheInTx(ctx, tx, id, memo)
			if err != nil {
				return err
			}
			result.Cache.Affected += affected
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Difference is the per-node outcome of a compare: for every field whose
// effective new value differs from the stored one, the old and new values.
type Difference struct {
	NodeID int64               `json:"node_id"`
	Fields map[string][]string `json:"value"`
}

// CompareResult carries the diffs, the current cache snapshot of each
// affected node, and any per-item validation errors.
type CompareResult struct {
	Differences []Difference        `json:"differences"`
	Origins     []map[string]string `json:"origins"`
	Errors      *BatchOperationError
}

// Compare computes, without writing anything, which fields each candidate
// write would change. Create candidates treat every present field as
// changed from empty.
func (e *Engine) Compare(
	ctx context.Context,
	items []WriteItem,
	forceCreate bool,
) (*CompareResult, error) {
	if len(items) == 0 {
		return nil, &EmptyInputData{}
	}

	relations := make([]*NodeRelation, 0, len(items))
	var batchErrs []NodeError
	for _, item := range items {
		create := forceCreate || item.ID == 0
		relation, err := e.validateAndMap(ctx, item.ID, item.Manifest, item.Value, create)
		if err != nil {
			if _, ok := err.(Payloader); ok {
				batchErrs = append(batchErrs, NodeError{NodeID: item.ID, Err: err})
				continue
			}
			return nil, err
		}
		relations = append(relations, relation)
	}

	result := &CompareResult{
		Differences: []Difference{},
		Origins:     []map[string]string{},
	}
	if len(batchErrs) > 0 {
		result.Errors = &BatchOperationError{Errors: batchErrs}
	}

	err := e.store.WithinTx(ctx, func(tx *sql.Tx) error {
		for _, relation := range relations {
			manifest, _ := e.schema.Manifest(relation.Manifest)
			modified := make(map[string][]string)

			if forceCreate || relation.ID == 0 {
				for _, field := range manifest.Fields {
					if v, ok := relation.Value[field]; ok {
						modified[field] = []string{"", v}
					}
				}
			} else {
				current, err := e.store.GetNode(ctx, tx, relation.ID)
				if err == store.ErrNotFound {
					return &NodeNotFound{ID: relation.ID}
				}
				if err != nil {
					return err
				}
				for _, field := range manifest.Fields {
					old, stored := current.Value[field]
					next, submitted := relation.Value[field]
					if stored && submitted && old != next {
						modified[field] = []string{old, next}
					}
				}
			}

			if len(modified) == 0 {
				continue
			}
			result.Differences = append(result.Differences,
				Difference{NodeID: relation.ID, Fields: modified})

			origin := map[string]string{}
			if relation.ID != 0 {
				entry, err := e.store.GetCache(ctx, tx, relation.ID)
				if err == nil {
					origin = formatCache(entry)
				} else if err != store.ErrNotFound {
					return err
				}
			}
			result.Origins = append(result.Origins, origin)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
