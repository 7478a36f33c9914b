package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const (
	sqlCheckUnique = `SELECT count(1) FROM nodes ` +
		`WHERE manifest = $1 AND lower(value->>$2) = lower($3) LIMIT 1`

	sqlCheckUniqueOnUpdate = `SELECT count(1) FROM nodes ` +
		`WHERE manifest = $1 AND lower(value->>$2) = lower($3) AND id != $4 LIMIT 1`

	sqlSelectByCN = `SELECT id FROM nodes ` +
		`WHERE manifest = ANY($1::text[]) AND cn = $2 LIMIT 1`

	sqlInsertNode = `INSERT INTO nodes (cn, manifest, value, depends) ` +
		`VALUES ($1, $2, $3::jsonb, '{}') RETURNING id`

	sqlInsertNodeWithID = `INSERT INTO nodes (id, cn, manifest, value, depends) ` +
		`VALUES ($1, $2, $3, $4::jsonb, '{}')`

	sqlUpdateNode = `UPDATE nodes SET value = value || $1::jsonb, cn = $2 WHERE id = $3`

	sqlSelectNode = `SELECT id, manifest, cn, value::text FROM nodes WHERE id = $1 LIMIT 1`

	sqlSelectNodeBasic = `SELECT id, manifest, cn, depends::text FROM nodes ` +
		`WHERE id = $1 LIMIT 1`

	sqlDeleteNodes = `DELETE FROM nodes WHERE id = ANY($1::bigint[])`

	sqlSelectReferers = `SELECT id FROM nodes ` +
		`WHERE manifest = ANY($1::text[]) AND value->>$2 = $3 ORDER BY id`

	sqlSelectDependents = `SELECT id FROM nodes WHERE depends @> $1::bigint[] ORDER BY id`

	sqlSetNodeDepends = `UPDATE nodes SET depends = $1::bigint[] WHERE id = $2`

	sqlSelectAllIDs = `SELECT id FROM nodes ORDER BY id`
)

// Node is one persisted record.
type Node struct {
	ID       int64
	Manifest string
	CN       string
	Value    map[string]string
	Depends  []int64
}

// CheckUnique reports whether another node of the same manifest already
// holds the value (case-insensitive). On update the node itself is
// excluded.
func (s *Store) CheckUnique(
	ctx context.Context, q Querier,
	nodeID int64, manifest, field, value string, create bool,
) (bool, error) {
	var count int
	var err error
	if create {
		err = q.QueryRowContext(ctx, sqlCheckUnique, manifest, field, value).Scan(&count)
	} else {
		err = q.QueryRowContext(ctx, sqlCheckUniqueOnUpdate,
			manifest, field, value, nodeID).Scan(&count)
	}
	if err != nil {
		return false, ConvertError(err)
	}
	return count > 0, nil
}

// SelectByCN resolves a case-folded canonical name within a set of
// manifests to a node id. Returns ErrNotFound when no node matches.
func (s *Store) SelectByCN(
	ctx context.Context, q Querier, manifests []string, cn string,
) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, sqlSelectByCN, textArray(manifests), cn).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, ConvertError(err)
	}
	return id, nil
}

// InsertNode inserts a node, letting the store assign the id.
func (s *Store) InsertNode(
	ctx context.Context, q Querier, manifest, cn string, value map[string]string,
) (int64, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("encode value: %w", err)
	}
	var id int64
	if err := q.QueryRowContext(ctx, sqlInsertNode, cn, manifest, string(raw)).Scan(&id); err != nil {
		return 0, ConvertError(err)
	}
	return id, nil
}

// InsertNodeWithID inserts a node under a caller-supplied id (restores).
func (s *Store) InsertNodeWithID(
	ctx context.Context, q Querier,
	id int64, manifest, cn string, value map[string]string,
) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	if _, err := q.ExecContext(ctx, sqlInsertNodeWithID,
		id, cn, manifest, string(raw)); err != nil {
		return ConvertError(err)
	}
	return nil
}

// UpdateNode merges the submitted fields into the stored value mapping and
// sets the recomputed canonical name. Returns the number of affected rows.
func (s *Store) UpdateNode(
	ctx context.Context, q Querier,
	id int64, cn string, value map[string]string,
) (int64, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("encode value: %w", err)
	}
	res, err := q.ExecContext(ctx, sqlUpdateNode, string(raw), cn, id)
	if err != nil {
		return 0, ConvertError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, ConvertError(err)
	}
	return affected, nil
}

// GetNode loads one node's stored fields. Returns ErrNotFound when absent.
func (s *Store) GetNode(ctx context.Context, q Querier, id int64) (*Node, error) {
	var (
		node Node
		raw  string
	)
	err := q.QueryRowContext(ctx, sqlSelectNode, id).
		Scan(&node.ID, &node.Manifest, &node.CN, &raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, ConvertError(err)
	}
	if err := json.Unmarshal([]byte(raw), &node.Value); err != nil {
		return nil, fmt.Errorf("decode value of node %d: %w", id, err)
	}
	return &node, nil
}

// GetNodeBasic loads id, manifest, cn and the depends set without the
// value mapping.
func (s *Store) GetNodeBasic(ctx context.Context, q Querier, id int64) (*Node, error) {
	var (
		node    Node
		depends string
	)
	err := q.QueryRowContext(ctx, sqlSelectNodeBasic, id).
		Scan(&node.ID, &node.Manifest, &node.CN, &depends)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, ConvertError(err)
	}
	ids, err := parseInt64Array(depends)
	if err != nil {
		return nil, fmt.Errorf("decode depends of node %d: %w", id, err)
	}
	node.Depends = ids
	return &node, nil
}

// DeleteNodes removes the given node rows, returning the affected count.
func (s *Store) DeleteNodes(ctx context.Context, q Querier, ids []int64) (int64, error) {
	res, err := q.ExecContext(ctx, sqlDeleteNodes, int64Array(ids))
	if err != nil {
		return 0, ConvertError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, ConvertError(err)
	}
	return affected, nil
}

// SelectReferers finds nodes of the given manifests whose reference field
// holds the pointer token.
func (s *Store) SelectReferers(
	ctx context.Context, q Querier, manifests []string, field, token string,
) ([]int64, error) {
	rows, err := q.QueryContext(ctx, sqlSelectReferers, textArray(manifests), field, token)
	if err != nil {
		return nil, ConvertError(err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// SelectDependents finds nodes whose depends set contains the given id.
func (s *Store) SelectDependents(ctx context.Context, q Querier, id int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, sqlSelectDependents, int64Array([]int64{id}))
	if err != nil {
		return nil, ConvertError(err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// SelectAllIDs lists every node id, in id order.
func (s *Store) SelectAllIDs(ctx context.Context, q Querier) ([]int64, error) {
	rows, err := q.QueryContext(ctx, sqlSelectAllIDs)
	if err != nil {
		return nil, ConvertError(err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// SetNodeDepends persists the depends set computed by the last cache build.
func (s *Store) SetNodeDepends(ctx context.Context, q Querier, id int64, depends []int64) error {
	if _, err := q.ExecContext(ctx, sqlSetNodeDepends, int64Array(depends), id); err != nil {
		return ConvertError(err)
	}
	return nil
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, ConvertError(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, ConvertError(err)
	}
	return ids, nil
}
