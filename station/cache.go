package station

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmcleod/ticketizer/backend"
	"github.com/jmcleod/ticketizer/rail"
	"github.com/jmcleod/ticketizer/storage"
)

// DefaultTTL is how long a cached station table is used before refetching.
const DefaultTTL = 7 * 24 * time.Hour

const (
	namespace  = "stations"
	recordType = "table"
	recordID   = "current"
)

// Cache keeps the fetched table in a storage.Repository.
type Cache struct {
	repo   storage.Repository
	client *backend.Client
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL sets how long a stored table stays fresh.
func WithTTL(d time.Duration) CacheOption {
	return func(c *Cache) {
		c.ttl = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

// NewCache creates a cache that fetches through client.
func NewCache(repo storage.Repository, client *backend.Client, opts ...CacheOption) *Cache {
	c := &Cache{
		repo:   repo,
		client: client,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "station")
	return c
}

// Load returns the stored table while fresh, and fetches otherwise. A stale
// table is still returned when the fetch fails.
func (c *Cache) Load(ctx context.Context) (*Table, error) {
	stored, rec, err := c.stored()
	if err != nil {
		return nil, err
	}
	if stored != nil && c.now().Sub(rec.Updated) < c.ttl {
		return NewTable(stored), nil
	}
	t, err := c.Refresh(ctx)
	if err != nil && stored != nil {
		c.logger.Warn("station refresh failed, using stale table",
			slog.Time("updated", rec.Updated),
			slog.String("error", err.Error()),
		)
		return NewTable(stored), nil
	}
	return t, err
}

// Refresh fetches the table and stores it.
func (c *Cache) Refresh(ctx context.Context) (*Table, error) {
	stations, err := Fetch(ctx, c.client)
	if err != nil {
		return nil, err
	}
	rec, err := storage.Encode(stations)
	if err != nil {
		return nil, err
	}
	rec.Updated = c.now().UTC()
	if err := c.repo.Put(namespace, recordType, recordID, rec); err != nil {
		return nil, err
	}
	c.logger.Debug("fetched station list", slog.Int("stations", len(stations)))
	return NewTable(stations), nil
}

func (c *Cache) stored() ([]rail.Station, *storage.Record, error) {
	rec, err := c.repo.Get(namespace, recordType, recordID)
	if storage.IsNotFound(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var stations []rail.Station
	if err := rec.Decode(&stations); err != nil {
		c.logger.Warn("discarding unreadable station cache", slog.String("error", err.Error()))
		return nil, nil, nil
	}
	return stations, rec, nil
}
