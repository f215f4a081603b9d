// Package auth manages the login state of a backend session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/jmcleod/ticketizer/backend"
	"github.com/jmcleod/ticketizer/captcha"
	"github.com/jmcleod/ticketizer/internal/pagevars"
	"github.com/jmcleod/ticketizer/purchase"
	"github.com/jmcleod/ticketizer/rail"
)

// Manager tracks whether the session of its client is logged in. It is the
// only component that changes the login state; every other component reads
// it through IsLoggedIn.
type Manager struct {
	client     *backend.Client
	captchas   *captcha.Cache
	baseLogger *slog.Logger
	logger     *slog.Logger

	loggedIn bool
	username string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger, also handed to transactions the manager creates.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.baseLogger = logger
	}
}

// WithCaptchaCache shares a captcha cache between the manager and the
// transactions it creates. Default: a cache private to the manager.
func WithCaptchaCache(c *captcha.Cache) Option {
	return func(m *Manager) {
		m.captchas = c
	}
}

// New creates a logged-out manager for client.
func New(client *backend.Client, opts ...Option) *Manager {
	m := &Manager{
		client:     client,
		baseLogger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.captchas == nil {
		m.captchas = captcha.NewCache(client)
	}
	m.logger = m.baseLogger.With("component", "auth")
	return m
}

// Client returns the backend client the manager drives.
func (m *Manager) Client() *backend.Client {
	return m.client
}

// Username returns the account name of the current login, or "".
func (m *Manager) Username() string {
	return m.username
}

// LoggedIn returns the local login flag without asking the backend.
func (m *Manager) LoggedIn() bool {
	return m.loggedIn
}

// LoginCaptcha returns a login captcha valid for the current session.
func (m *Manager) LoginCaptcha(ctx context.Context) (*captcha.Captcha, error) {
	return m.captchas.Get(ctx, captcha.Login, nil)
}

// Login signs in with creds and the solved login captcha c.
func (m *Manager) Login(ctx context.Context, creds *Credentials, c *captcha.Captcha) error {
	if creds == nil {
		return fmt.Errorf("%w: no credentials", rail.ErrInvalidOperation)
	}
	if err := captcha.EnsureUsable(m.client, c, captcha.Login); err != nil {
		return err
	}
	if c.Answer == "" {
		return fmt.Errorf("%w: login captcha has not been solved", rail.ErrInvalidOperation)
	}

	var env *backend.Envelope
	err := creds.withPassword(func(password string) error {
		var err error
		env, err = m.client.PostJSON(ctx, backend.PathLogin, url.Values{
			"loginUserDTO.user_name": {creds.Username},
			"userDTO.password":       {password},
			"randCode":               {c.Answer},
		})
		return err
	})
	if err != nil {
		return err
	}
	if !env.Flag("loginCheck") {
		m.loggedIn, m.username = false, ""
		m.logger.Info("login rejected", slog.String("user", creds.Username))
		return rail.Rejected(rail.ErrLoginFailed, env.Messages...)
	}
	m.loggedIn, m.username = true, creds.Username
	m.logger.Info("logged in", slog.String("user", creds.Username))
	return nil
}

// LoginWithSolver obtains a login captcha through solver, allowing retries
// further attempts, and signs in. Running out of attempts is a login failure.
func (m *Manager) LoginWithSolver(ctx context.Context, creds *Credentials, solver captcha.Solver, retries int) error {
	c, err := captcha.Solve(ctx, m.client, captcha.CachedSource(m.captchas, captcha.Login, nil), solver,
		captcha.SolveOptions{Retries: retries, Logger: m.logger})
	if errors.Is(err, captcha.ErrRejected) {
		return fmt.Errorf("%w: %w", rail.ErrLoginFailed, err)
	}
	if err != nil {
		return err
	}
	return m.Login(ctx, creds, c)
}

// Logout ends the login. The local state is cleared even when the request
// fails; the backend answers with a fresh anonymous session.
func (m *Manager) Logout(ctx context.Context) error {
	user := m.username
	m.loggedIn, m.username = false, ""
	if _, err := m.client.Get(ctx, backend.PathLogout, ""); err != nil {
		m.logger.Warn("logout request failed", slog.String("user", user), slog.Any("error", err))
		return err
	}
	m.logger.Info("logged out", slog.String("user", user))
	return nil
}

// IsLoggedIn asks the backend whether the session is logged in. When the
// answer disagrees with the local flag the manager adopts it and returns it
// together with rail.ErrStateDesync.
func (m *Manager) IsLoggedIn(ctx context.Context) (bool, error) {
	env, err := m.client.PostJSON(ctx, backend.PathCheckUser, url.Values{"_json_att": {""}})
	if err != nil {
		return false, err
	}
	flag := env.Flag("flag")
	if flag == m.loggedIn {
		return flag, nil
	}
	local := m.loggedIn
	m.loggedIn = flag
	if !flag {
		m.username = ""
	}
	m.logger.Warn("login state changed on the backend", slog.Bool("local", local), slog.Bool("backend", flag))
	return flag, fmt.Errorf("%w: local %t, backend %t", rail.ErrStateDesync, local, flag)
}

// Refresh adopts the backend's login state and, when logged in, recovers the
// account name from the index page. Use it to resume a session restored from
// saved cookies.
func (m *Manager) Refresh(ctx context.Context) error {
	ok, err := m.IsLoggedIn(ctx)
	if err != nil && !errors.Is(err, rail.ErrStateDesync) {
		return err
	}
	if !ok {
		return nil
	}
	resp, err := m.client.Get(ctx, backend.PathIndex, "")
	if err != nil {
		return err
	}
	vars, err := pagevars.Vars(resp.Text(), "sessionInit")
	if err != nil {
		return err
	}
	name, err := pagevars.RequireText(vars, "sessionInit")
	if err != nil {
		return err
	}
	m.username = name
	return nil
}

// Purchaser creates a purchase transaction for train. The backend must
// confirm the session is logged in.
func (m *Manager) Purchaser(ctx context.Context, train *rail.Train, opts ...purchase.Option) (*purchase.Transaction, error) {
	ok, err := m.IsLoggedIn(ctx)
	if err != nil && !errors.Is(err, rail.ErrStateDesync) {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: not logged in", rail.ErrInvalidOperation)
	}
	base := []purchase.Option{
		purchase.WithCaptchaCache(m.captchas),
		purchase.WithLogger(m.baseLogger),
	}
	return purchase.New(m.client, train, append(base, opts...)...), nil
}
