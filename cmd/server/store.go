package main

import (
	"context"
	"fmt"

	"github.com/rl1809/saleszy/internal/adapter/handler"
	"github.com/rl1809/saleszy/internal/adapter/storage"
	"github.com/rl1809/saleszy/internal/config"
	"github.com/rl1809/saleszy/internal/core/domain"
	"github.com/rl1809/saleszy/internal/core/service"
)

// store is what the commands need from either storage adapter.
type store interface {
	service.Store
	handler.Pinger
	UpsertBusiness(ctx context.Context, b domain.Business) error
	UpsertProduct(ctx context.Context, p domain.Product) error
	Migrate(ctx context.Context) error
	Close() error
}

var (
	_ store = (*storage.MySQLAdapter)(nil)
	_ store = (*storage.SQLiteAdapter)(nil)
)

func openStore(ctx context.Context, cfg *config.Config) (store, error) {
	switch cfg.Storage {
	case config.StorageMySQL:
		s, err := storage.OpenMySQL(ctx, cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StorageSQLite:
		s, err := storage.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported storage %q", cfg.Storage)
	}
}
