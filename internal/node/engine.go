package node

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/juehai/sitebase/internal/schema"
	"github.com/juehai/sitebase/internal/store"
)

// pointer tokens encode reference values as "@<id>" so they survive
// template expansion as navigable links rather than printable text.
const pointerPrefix = "@"

func pointerToken(id int64) string {
	return pointerPrefix + strconv.FormatInt(id, 10)
}

func parsePointer(s string) (int64, bool) {
	if !strings.HasPrefix(s, pointerPrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(s[len(pointerPrefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Engine orchestrates validation, persistence and cache maintenance for
// node operations. It is built once from the loaded schema and a store
// handle and shared across requests; it holds no mutable state.
type Engine struct {
	schema *schema.Registry
	store  *store.Store
	logger *zap.Logger
}

// New builds an engine.
func New(registry *schema.Registry, st *store.Store, logger *zap.Logger) *Engine {
	return &Engine{schema: registry, store: st, logger: logger}
}

// formatNode renders a node read result: reserved ".id", ".manifest" and
// ".cn" keys plus one entry per stored field.
func formatNode(n *store.Node) map[string]any {
	out := make(map[string]any, len(n.Value)+3)
	out[".id"] = strconv.FormatInt(n.ID, 10)
	out[".manifest"] = n.Manifest
	out[".cn"] = n.CN
	for k, v := range n.Value {
		out[k] = v
	}
	return out
}

// formatCache renders a cache read result in the same shape as a node read
// result.
func formatCache(entry *store.CacheEntry) map[string]string {
	out := make(map[string]string, len(entry.Value)+3)
	out[".id"] = strconv.FormatInt(entry.ID, 10)
	out[".manifest"] = entry.Manifest
	out[".cn"] = entry.CN
	for k, v := range entry.Value {
		out[k] = v
	}
	return out
}

// Select reads one node. With cascade set, reference fields hold the
// nested read result of the referenced node instead of its pointer token.
func (e *Engine) Select(ctx context.Context, nodeID int64, cascade bool) (map[string]any, error) {
	if nodeID == 0 {
		return nil, &NodeNotFound{ID: nodeID}
	}

	if cascade {
		memo := make(map[int64]*store.Node)
		tree, err := e.buildNodeTree(ctx, e.store.DB(), nodeID, memo, 0)
		if err != nil {
			return nil, err
		}
		if tree == nil {
			return nil, &NodeNotFound{ID: nodeID}
		}
		return tree, nil
	}

	n, err := e.store.GetNode(ctx, e.store.DB(), nodeID)
	if err == store.ErrNotFound {
		return nil, &NodeNotFound{ID: nodeID}
	}
	if err != nil {
		return nil, err
	}
	return formatNode(n), nil
}
