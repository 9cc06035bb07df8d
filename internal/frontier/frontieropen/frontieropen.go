// Package frontieropen selects between the JSON-backed and
// SQLite-backed frontier.Store implementations. It lives outside
// internal/frontier itself so both implementations can import the
// interface package without an import cycle.
package frontieropen

import (
	"context"

	"github.com/CdubVentures/spec-harvester-sub001/internal/frontier"
	"github.com/CdubVentures/spec-harvester-sub001/internal/frontier/jsonstore"
	"github.com/CdubVentures/spec-harvester-sub001/internal/frontier/sqlitestore"
	"github.com/CdubVentures/spec-harvester-sub001/internal/platform"
)

// Open returns the SQLite-backed Store when enableSqlite is set,
// otherwise the JSON-backed one — both conform to frontier.Store.
func Open(ctx context.Context, cfg frontier.Config, storage platform.Storage, sqlitePath string, enableSqlite bool) (frontier.Store, error) {
	if enableSqlite {
		return sqlitestore.Open(cfg, sqlitePath)
	}
	return jsonstore.New(ctx, cfg, storage)
}
