package captcha

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/jmcleod/ticketizer/backend"
	"github.com/jmcleod/ticketizer/rail"
)

// ErrRejected is returned by Solve when every attempt was answered wrongly.
var ErrRejected = errors.New("captcha answer rejected")

// Outcome is what a Solver returns: either an answer or a request to abort.
type Outcome struct {
	answer string
	abort  bool
}

// Answer wraps a candidate solution.
func Answer(v string) Outcome {
	return Outcome{answer: v}
}

// Abort asks the engine to stop and unwind.
func Abort() Outcome {
	return Outcome{abort: true}
}

// Aborted reports whether the outcome is an abort request.
func (o Outcome) Aborted() bool {
	return o.abort
}

// Value returns the answer of a non-abort outcome.
func (o Outcome) Value() string {
	return o.answer
}

// Solver turns a challenge image into an answer. It may block on a human.
type Solver func(ctx context.Context, image []byte) Outcome

// Cache holds the most recent captcha of an engine and refetches it whenever
// it no longer fits the session or the purpose.
type Cache struct {
	mu      sync.Mutex
	client  *backend.Client
	current *Captcha
}

// NewCache creates an empty cache for client.
func NewCache(client *backend.Client) *Cache {
	return &Cache{client: client}
}

// Get returns the cached captcha for typ, fetching a new one if needed.
func (c *Cache) Get(ctx context.Context, typ Type, checkParams url.Values) (*Captcha, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !NeedsRefresh(c.current, typ, c.client.Session().ID()) {
		return c.current, nil
	}
	return c.fetchLocked(ctx, typ, checkParams)
}

// Refresh always fetches a new captcha for typ.
func (c *Cache) Refresh(ctx context.Context, typ Type, checkParams url.Values) (*Captcha, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchLocked(ctx, typ, checkParams)
}

func (c *Cache) fetchLocked(ctx context.Context, typ Type, checkParams url.Values) (*Captcha, error) {
	fresh, err := Fetch(ctx, c.client, typ, checkParams)
	if err != nil {
		return nil, err
	}
	c.current = fresh
	return fresh, nil
}

// Source yields challenges for Solve. refresh is false only for the first
// attempt, letting the source reuse a captcha that is still fresh.
type Source func(ctx context.Context, refresh bool) (*Captcha, error)

// SolveOptions configures Solve.
type SolveOptions struct {
	// Retries is the number of additional attempts after the first; negative means none.
	Retries int
	Logger  *slog.Logger
}

// Solve runs the bounded answer loop: fetch, ask solver, verify with the
// backend. Each rejected answer fetches a new image. It returns the accepted
// captcha, rail.ErrAborted when the solver aborts, or ErrRejected once
// 1+Retries attempts failed.
func Solve(ctx context.Context, client *backend.Client, source Source, solver Solver, opts SolveOptions) (*Captcha, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	attempts := 1 + max(opts.Retries, 0)
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := source(ctx, i > 0)
		if err != nil {
			return nil, err
		}
		out := solver(ctx, c.Image)
		if out.Aborted() {
			logger.Debug("captcha aborted", slog.String("type", c.Type.String()))
			return nil, fmt.Errorf("%s captcha: %w", c.Type, rail.ErrAborted)
		}
		ok, err := Verify(ctx, client, c, out.Value())
		if err != nil {
			return nil, err
		}
		if ok {
			return c, nil
		}
		logger.Debug("incorrect captcha answer",
			slog.String("type", c.Type.String()),
			slog.Int("remaining", attempts-i-1),
		)
	}
	return nil, ErrRejected
}

// CachedSource adapts a Cache to Solve for the given purpose.
func CachedSource(cache *Cache, typ Type, checkParams url.Values) Source {
	return func(ctx context.Context, refresh bool) (*Captcha, error) {
		if refresh {
			return cache.Refresh(ctx, typ, checkParams)
		}
		return cache.Get(ctx, typ, checkParams)
	}
}
