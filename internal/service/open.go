package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"analysisops/internal/config"
	"analysisops/internal/schema"
	"analysisops/internal/store"
)

// Open loads the schema files and job ledger named by cfg and returns a ready
// service. A missing topology file leaves only wide-table queries usable.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Service, error) {
	mapping, err := schema.LoadFieldMapping(cfg.Schema.FieldMappingFile)
	if err != nil {
		return nil, err
	}

	topo, err := schema.LoadTopology(cfg.Schema.TopologyFile)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: topology %s not found, device queries will fail\n", cfg.Schema.TopologyFile)
		topo = schema.NewTopology(nil)
	} else if err != nil {
		return nil, err
	}

	client, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open job ledger: %w", err)
	}
	repo := store.NewRepo(client.DB())
	if err := repo.Migrate(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("migrate job ledger: %w", err)
	}

	s := New(cfg, mapping, topo, append([]Option{WithJobStore(repo)}, opts...)...)
	s.closers = append(s.closers, repo.Close)
	return s, nil
}
