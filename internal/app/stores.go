package app

import (
	"context"

	"github.com/MrWong99/votevoice/internal/config"
	"github.com/MrWong99/votevoice/pkg/store"
	"github.com/MrWong99/votevoice/pkg/store/memory"
	"github.com/MrWong99/votevoice/pkg/store/postgres"
	"github.com/MrWong99/votevoice/pkg/store/sqlite"
)

// DefaultRegistry returns a registry with the built-in backends.
func DefaultRegistry() *config.Registry {
	r := config.NewRegistry()
	r.Register(config.BackendMemory, func(context.Context, config.StoreConfig) (store.Store, error) {
		return memory.New(), nil
	})
	r.Register(config.BackendPostgres, func(ctx context.Context, c config.StoreConfig) (store.Store, error) {
		return postgres.Open(ctx, c.DSN)
	})
	r.Register(config.BackendSQLite, func(ctx context.Context, c config.StoreConfig) (store.Store, error) {
		return sqlite.Open(ctx, c.DSN)
	})
	return r
}
