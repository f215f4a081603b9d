package auth

import (
	"context"
	"log/slog"

	"github.com/jmcleod/ticketizer/captcha"
)

// WithSession logs in, runs fn and logs out again. The logout is issued
// when fn fails and after ctx is cancelled; its error is returned only when
// fn succeeded.
func WithSession(ctx context.Context, m *Manager, creds *Credentials, solver captcha.Solver, retries int, fn func(ctx context.Context) error) (err error) {
	if err := m.LoginWithSolver(ctx, creds, solver, retries); err != nil {
		return err
	}
	defer func() {
		lerr := m.Logout(context.WithoutCancel(ctx))
		if lerr != nil {
			m.logger.Warn("logout after session failed", slog.Any("error", lerr))
			if err == nil {
				err = lerr
			}
		}
	}()
	return fn(ctx)
}
