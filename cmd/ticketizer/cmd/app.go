package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"

	"github.com/jmcleod/ticketizer/backend"
	"github.com/jmcleod/ticketizer/internal/config"
	"github.com/jmcleod/ticketizer/session"
	"github.com/jmcleod/ticketizer/station"
	"github.com/jmcleod/ticketizer/storage"
	bboltstorage "github.com/jmcleod/ticketizer/storage/bbolt"
	"github.com/jmcleod/ticketizer/storage/memory"
)

type globalFlags struct {
	configPath string
	baseURL    string
	dataDir    string
	inMemory   bool
	logLevel   string
}

// app carries what every command needs once the config is loaded.
type app struct {
	flags  globalFlags
	cfg    *config.Config
	logger *slog.Logger
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.flags.baseURL != "" {
		cfg.Backend.BaseURL = a.flags.baseURL
	}
	if a.flags.dataDir != "" {
		cfg.Paths.DataDir = a.flags.dataDir
	}
	if a.flags.inMemory {
		cfg.Paths.DataDir = ""
	}
	if a.flags.logLevel != "" {
		cfg.Log.Level = a.flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

func newLogger(c config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := c.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

// newClient starts a fresh backend session.
func (a *app) newClient() *backend.Client {
	return backend.New(session.New(),
		backend.WithBaseURL(a.cfg.Backend.BaseURL),
		backend.WithTimeout(a.cfg.Backend.Timeout),
		backend.WithUserAgent(a.cfg.Backend.UserAgent),
		backend.WithLogger(a.logger),
	)
}

// openStore opens the bbolt database in the data directory, or an in-memory
// repository when none is configured.
func (a *app) openStore() (storage.Repository, func(), error) {
	path := a.cfg.DatabasePath()
	if path == "" {
		return memory.NewRepository(), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	repo, err := bboltstorage.NewRepositoryFromFile(path, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open local storage: %w", err)
	}
	return repo, func() {
		if err := repo.Close(); err != nil {
			a.logger.Warn("closing local storage", slog.String("error", err.Error()))
		}
	}, nil
}

func (a *app) loadStations(ctx context.Context, repo storage.Repository, client *backend.Client, refresh bool) (*station.Table, error) {
	opts := []station.CacheOption{station.WithLogger(a.logger)}
	if a.cfg.Search.StationTTL > 0 {
		opts = append(opts, station.WithTTL(a.cfg.Search.StationTTL))
	}
	cache := station.NewCache(repo, client, opts...)
	if refresh {
		return cache.Refresh(ctx)
	}
	return cache.Load(ctx)
}
