package store

import "context"

// ddl creates the two tables. Migration tooling is out of scope; this is a
// bootstrap for fresh databases and a no-op otherwise.
const ddl = `
CREATE TABLE IF NOT EXISTS nodes (
    id       BIGSERIAL PRIMARY KEY,
    manifest TEXT NOT NULL,
    cn       TEXT NOT NULL,
    value    JSONB NOT NULL DEFAULT '{}'::jsonb,
    depends  BIGINT[] NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS nodes_manifest_idx ON nodes (manifest);
CREATE INDEX IF NOT EXISTS nodes_cn_idx ON nodes (cn);
CREATE INDEX IF NOT EXISTS nodes_depends_idx ON nodes USING GIN (depends);

CREATE TABLE IF NOT EXISTS node_cache (
    id       BIGINT PRIMARY KEY,
    manifest TEXT NOT NULL,
    cn       TEXT NOT NULL,
    value    JSONB NOT NULL DEFAULT '{}'::jsonb,
    depends  BIGINT[] NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS node_cache_manifest_idx ON node_cache (manifest);
`

// EnsureSchema creates the node tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, ddl)
	return ConvertError(err)
}
