package node

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/juehai/sitebase/internal/store"
)

// WriteResult reports a single-node write: rows affected, the cache builds
// it triggered, the id of the node (store-assigned on create), and the
// verified field values as written, with reference fields resolved to the
// target's canonical name.
type WriteResult struct {
	Affected int64             `json:"affected"`
	Cache    CacheResult       `json:"cache"`
	NodeID   int64             `json:"node_id"`
	Verified map[string]string `json:"verified"`
}

// Create validates, persists and caches a new node. A non-zero nodeID is
// honored (restores); otherwise the store assigns one.
func (e *Engine) Create(
	ctx context.Context,
	nodeID int64, manifest string, value map[string]any,
) (*WriteResult, error) {
	relation, err := e.validateAndMap(ctx, nodeID, manifest, value, true)
	if err != nil {
		return nil, err
	}

	result := &WriteResult{Verified: relation.Display}
	err = e.store.WithinTx(ctx, func(tx *sql.Tx) error {
		id := nodeID
		if id != 0 {
			if err := e.store.InsertNodeWithID(ctx, tx, id, manifest, relation.CN, relation.Value); err != nil {
				return err
			}
		} else {
			var err error
			id, err = e.store.InsertNode(ctx, tx, manifest, relation.CN, relation.Value)
			if err != nil {
				return err
			}
		}
		result.Affected = 1
		result.NodeID = id

		affected, err := e.buildCacheInTx(ctx, tx, id, make(map[int64]*store.Node))
		if err != nil {
			return err
		}
		result.Cache.Affected = affected
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Debug("node created",
		zap.Int64("id", result.NodeID), zap.String("manifest", manifest))
	return result, nil
}

// Update validates and persists changes to an existing node, rebuilds its
// cache, then rebuilds the cache of every node whose depends set contains
// the updated id.
func (e *Engine) Update(
	ctx context.Context,
	nodeID int64, manifest string, value map[string]any,
) (*WriteResult, error) {
	if nodeID == 0 {
		return nil, fmt.Errorf("node id is required for update")
	}

	relation, err := e.validateAndMap(ctx, nodeID, manifest, value, false)
	if err != nil {
		return nil, err
	}

	result := &WriteResult{NodeID: nodeID, Verified: relation.Display}
	err = e.store.WithinTx(ctx, func(tx *sql.Tx) error {
		affected, err := e.store.UpdateNode(ctx, tx, nodeID, relation.CN, relation.Value)
		if err != nil {
			return err
		}
		if affected == 0 {
			return &NodeNotFound{ID: nodeID}
		}
		result.Affected = affected

		memo := make(map[int64]*store.Node)
		cacheAffected, err := e.buildCacheInTx(ctx, tx, nodeID, memo)
		if err != nil {
			return err
		}

		rebuilt, err := e.rebuildDependents(ctx, tx, nodeID, memo)
		if err != nil {
			return err
		}
		result.Cache.Affected = cacheAffected + rebuilt
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Debug("node updated",
		zap.Int64("id", nodeID), zap.Int64("cache_rebuilds", result.Cache.Affected))
	return result, nil
}

// rebuildDependents rebuilds the cache of every node depending on the
// given id. The updated node's fields are embedded in those caches, so
// they are stale after the write.
func (e *Engine) rebuildDependents(
	ctx context.Context, tx *sql.Tx,
	nodeID int64,
	memo map[int64]*store.Node,
) (int64, error) {
	dependents, err := e.store.SelectDependents(ctx, tx, nodeID)
	if err != nil {
		return 0, err
	}

	var rebuilt int64
	for _, id := range dependents {
		if id == nodeID {
			continue
		}
		// dependents embed the updated node's fields; drop any memoized
		// copy of them so the rebuild sees fresh rows
		delete(memo, id)
		affected, err := e.buildCacheInTx(ctx, tx, id, memo)
		if err != nil {
			return rebuilt, err
		}
		rebuilt += affected
	}
	return rebuilt, nil
}

// DeleteResult reports a delete.
type DeleteResult struct {
	Affected int64 `json:"affected"`
}

// Delete removes a node. When other nodes still reference it the delete
// fails with NodeInUseError unless cascade is set, in which case the node
// and its direct referers are removed together (one level, not
// recursive). Cache rows go first, then node rows.
func (e *Engine) Delete(ctx context.Context, nodeID int64, cascade bool) (*DeleteResult, error) {
	if nodeID == 0 {
		return nil, &NodeNotFound{ID: nodeID}
	}

	result := &DeleteResult{}
	err := e.store.WithinTx(ctx, func(tx *sql.Tx) error {
		basic, err := e.store.GetNodeBasic(ctx, tx, nodeID)
		if err == store.ErrNotFound {
			return &NodeNotFound{ID: nodeID}
		}
		if err != nil {
			return err
		}

		var referers []int64
		if backref, ok := e.schema.Backref(basic.Manifest); ok {
			referers, err = e.store.SelectReferers(
				ctx, tx, backref.Referers, backref.Field, pointerToken(nodeID))
			if err != nil {
				return err
			}
		}

		if len(referers) > 0 && !cascade {
			return &NodeInUseError{ID: nodeID, Referers: referers}
		}

		ids := []int64{nodeID}
		if cascade {
			ids = append(ids, referers...)
		}

		if err := e.store.DeleteCache(ctx, tx, ids); err != nil {
			return err
		}
		affected, err := e.store.DeleteNodes(ctx, tx, ids)
		if err != nil {
			return err
		}
		result.Affected = affected
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Debug("node deleted",
		zap.Int64("id", nodeID), zap.Bool("cascade", cascade),
		zap.Int64("affected", result.Affected))
	return result, nil
}
