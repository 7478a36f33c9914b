package node

import (
	"context"
	"database/sql"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/juehai/sitebase/internal/store"
)

// maxTreeDepth bounds recursive tree assembly. Cyclic reference graphs are
// a configuration error; the guard turns them into a reported
// DataIntegrityError instead of unbounded recursion.
const maxTreeDepth = 32

// expandPattern matches %{dotted.path} placeholders in cache templates.
var expandPattern = regexp.MustCompile(`%\{([a-zA-Z0-9._-]+)\}`)

// CacheResult reports the outcome of a cache build.
type CacheResult struct {
	Affected int64 `json:"affected"`
}

// buildNodeTree loads a node and recursively embeds every referenced node
// under its reference field name. The memo map spans one build (or one
// batch) and avoids refetching shared references; it does not break
// cycles. A nil tree with nil error means the node does not exist.
func (e *Engine) buildNodeTree(
	ctx context.Context, q store.Querier,
	nodeID int64,
	memo map[int64]*store.Node,
	depth int,
) (map[string]any, error) {
	n, ok := memo[nodeID]
	if !ok {
		var err error
		n, err = e.store.GetNode(ctx, q, nodeID)
		if err == store.ErrNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		memo[nodeID] = n
	}

	tree := make(map[string]any, len(n.Value)+3)
	tree[".id"] = strconv.FormatInt(n.ID, 10)
	tree[".manifest"] = n.Manifest
	tree[".cn"] = n.CN
	for k, v := range n.Value {
		tree[k] = v
	}

	manifest, ok := e.schema.Manifest(n.Manifest)
	if !ok {
		e.logger.Warn("node has unknown manifest, skipping references",
			zap.Int64("id", nodeID), zap.String("manifest", n.Manifest))
		return tree, nil
	}

	for _, name := range manifest.Fields {
		fd, ok := e.schema.Field(name)
		if !ok || !fd.IsReference() {
			continue
		}
		value, _ := tree[name].(string)
		if value == "" {
			continue
		}
		targetID, ok := parsePointer(value)
		if !ok {
			return nil, &DataIntegrityError{ID: nodeID, Field: name}
		}
		if depth+1 > maxTreeDepth {
			return nil, &DataIntegrityError{ID: nodeID, Field: name}
		}
		sub, err := e.buildNodeTree(ctx, q, targetID, memo, depth+1)
		if err != nil {
			return nil, err
		}
		if sub == nil {
			sub = map[string]any{}
		}
		tree[name] = sub
	}

	return tree, nil
}

// expandVar resolves one dotted-path placeholder against an assembled
// tree. The first segment must name a field on the root node; later
// segments descend into nested nodes, falling back to one level of that
// node's own cache templates. Every node visited is recorded in depends.
func (e *Engine) expandVar(path string, tree map[string]any, depends map[int64]struct{}) string {
	segs := strings.Split(path, ".")
	if _, ok := tree[segs[0]]; !ok {
		e.logger.Warn("cache template names unknown field",
			zap.String("path", path), zap.Any("node", tree[".id"]))
		return ""
	}

	var value any = tree
	i := 0
	for i < len(segs) {
		current, ok := value.(map[string]any)
		if !ok {
			break
		}
		addDepends(current, depends)

		seg := segs[i]
		if next, ok := current[seg]; ok {
			value = next
			i++
			continue
		}

		// not a literal field: one level of template-within-template
		manifestName, _ := current[".manifest"].(string)
		templates := e.schema.CacheTemplates(manifestName)
		tpl, ok := templates[seg]
		if !ok {
			break
		}
		value = e.expandTemplate(tpl, current, depends)
		i = len(segs)
	}

	if i < len(segs) {
		e.logger.Warn("cache template path unresolved",
			zap.String("path", path), zap.Any("node", tree[".id"]))
	}

	if nested, ok := value.(map[string]any); ok {
		addDepends(nested, depends)
		if cn, ok := nested[".cn"].(string); ok {
			return cn
		}
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return ""
}

// expandTemplate substitutes every placeholder of one cache template.
func (e *Engine) expandTemplate(tpl string, tree map[string]any, depends map[int64]struct{}) string {
	return expandPattern.ReplaceAllStringFunc(tpl, func(match string) string {
		path := expandPattern.FindStringSubmatch(match)[1]
		return e.expandVar(path, tree, depends)
	})
}

// buildCacheInTx assembles the node tree, expands the manifest's cache
// templates and swaps the cache row, persisting the computed depends set
// (self excluded) on both the cache row and the node row.
func (e *Engine) buildCacheInTx(
	ctx context.Context, q store.Querier,
	nodeID int64,
	memo map[int64]*store.Node,
) (int64, error) {
	tree, err := e.buildNodeTree(ctx, q, nodeID, memo, 0)
	if err != nil {
		return 0, err
	}
	if tree == nil {
		return 0, nil
	}

	manifestName, _ := tree[".manifest"].(string)
	cn, _ := tree[".cn"].(string)

	value := make(map[string]string)
	dependsSet := make(map[int64]struct{})
	for key, tpl := range e.schema.CacheTemplates(manifestName) {
		value[key] = e.expandTemplate(tpl, tree, dependsSet)
	}
	delete(dependsSet, nodeID)

	depends := make([]int64, 0, len(dependsSet))
	for id := range dependsSet {
		depends = append(depends, id)
	}
	sort.Slice(depends, func(i, j int) bool { return depends[i] < depends[j] })

	if err := e.store.ReplaceCache(ctx, q, nodeID, manifestName, cn, value, depends); err != nil {
		return 0, err
	}
	if err := e.store.SetNodeDepends(ctx, q, nodeID, depends); err != nil {
		return 0, err
	}
	return 1, nil
}

// BuildCache rebuilds one node's cache entry on demand, outside any write.
func (e *Engine) BuildCache(ctx context.Context, nodeID int64) (*CacheResult, error) {
	var affected int64
	err := e.store.WithinTx(ctx, func(tx *sql.Tx) error {
		var err error
		affected, err = e.buildCacheInTx(ctx, tx, nodeID, make(map[int64]*store.Node))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &CacheResult{Affected: affected}, nil
}

// RebuildAll rebuilds every node's cache entry in one transaction, sharing
// one memoized node set across the builds.
func (e *Engine) RebuildAll(ctx context.Context) (*CacheResult, error) {
	result := &CacheResult{}
	err := e.store.WithinTx(ctx, func(tx *sql.Tx) error {
		ids, err := e.store.SelectAllIDs(ctx, tx)
		if err != nil {
			return err
		}
		memo := make(map[int64]*store.Node)
		for _, id := range ids {
			affected, err := e.buildCacheInTx(ctx, tx, id, memo)
			if err != nil {
				return err
			}
			result.Affected += affected
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetCache reads a node's cache entry, building it first when absent
// (read-through repair).
func (e *Engine) GetCache(ctx context.Context, nodeID int64) (map[string]string, error) {
	if nodeID == 0 {
		return nil, &NodeNotFound{ID: nodeID}
	}

	var result map[string]string
	err := e.store.WithinTx(ctx, func(tx *sql.Tx) error {
		entry, err := e.store.GetCache(ctx, tx, nodeID)
		if err == store.ErrNotFound {
			if _, err := e.buildCacheInTx(ctx, tx, nodeID, make(map[int64]*store.Node)); err != nil {
				return err
			}
			entry, err = e.store.GetCache(ctx, tx, nodeID)
			if err == store.ErrNotFound {
				return &NodeNotFound{ID: nodeID}
			}
			if err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		result = formatCache(entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func addDepends(node map[string]any, depends map[int64]struct{}) {
	raw, _ := node[".id"].(string)
	if raw == "" {
		return
	}
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		depends[id] = struct{}{}
	}
}
