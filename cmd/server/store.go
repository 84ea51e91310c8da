package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"chat-relay/internal/config"
	"chat-relay/internal/db"
	"chat-relay/internal/repository"
)

// openStore opens the message store selected by cfg.StoreDriver. Closing the
// returned repo releases the underlying connection.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (repository.MessageRepo, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, err
		}
		repo, err := repository.NewPostgresMessageRepo(ctx, pool, log)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return repo, nil

	case config.DriverBadger:
		bdb, err := db.OpenBadger(cfg.BadgerPath, log)
		if err != nil {
			return nil, err
		}
		repo, err := repository.NewBadgerMessageRepo(bdb, log)
		if err != nil {
			_ = bdb.Close()
			return nil, err
		}
		return repo, nil

	case config.DriverSQLite:
		sdb, err := db.OpenSQLite(ctx, cfg.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		repo, err := repository.NewSQLiteMessageRepo(ctx, sdb, log)
		if err != nil {
			_ = sdb.Close()
			return nil, err
		}
		return repo, nil
	}

	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
