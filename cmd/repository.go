package main

import (
	"context"
	"fmt"

	"github.com/weiawesome/wes-io-talk/internal/config"
	"github.com/weiawesome/wes-io-talk/internal/repository"
	"github.com/weiawesome/wes-io-talk/pkg/database"
)

func openRepository(ctx context.Context, cfg *config.Config) (repository.MessageRepository, error) {
	switch cfg.Persistence.Driver {
	case "", "memory":
		return repository.NewMemoryMessageRepository(), nil

	case "mongo":
		repo, err := repository.NewMongoMessageRepository(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		return repo, nil

	case "cassandra":
		repo, err := repository.NewCassandraMessageRepository(cfg.Cassandra)
		if err != nil {
			return nil, err
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			repo.Close()
			return nil, err
		}
		return repo, nil

	case "sql":
		db, err := database.New(&cfg.Database)
		if err != nil {
			return nil, err
		}
		repo := repository.NewGormMessageRepository(db)
		if err := repo.Migrate(); err != nil {
			repo.Close()
			return nil, err
		}
		return repo, nil

	default:
		return nil, fmt.Errorf("unsupported persistence driver: %s", cfg.Persistence.Driver)
	}
}
