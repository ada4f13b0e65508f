package app

import (
	"context"
	"fmt"

	"jobloop/internal/config"
	"jobloop/internal/errs"
	"jobloop/internal/store"
	"jobloop/internal/store/memstore"
	"jobloop/internal/store/redisstore"
	"jobloop/internal/store/sqlitestore"
	"jobloop/pkg/logx"
)

// openBackend maps backend settings onto a driver.
func openBackend(ctx context.Context, b config.Backend, log logx.Logger) (store.Backend, error) {
	switch b.Driver {
	case "redis":
		return redisstore.Open(ctx, redisstore.Config{
			Addr:      b.Addr,
			Database:  b.Database,
			Namespace: b.Namespace,
		}, redisstore.WithLogger(log))
	case "sqlite", "sqlite3":
		return sqlitestore.Open(ctx, sqlitestore.Config{Path: b.Path, BusyTimeout: b.BusyTimeout}, log)
	case "memory":
		return memstore.New(), nil
	default:
		return nil, errs.Configuration("backend.open", fmt.Errorf("unknown driver %q", b.Driver))
	}
}
