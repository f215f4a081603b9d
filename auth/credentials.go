package auth

import (
	"fmt"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/ticketizer/rail"
)

// Credentials identify an account. The password lives in a memguard Enclave
// (encrypted at rest in memory) and is only decrypted while a login form is
// being built. Call Destroy when done.
type Credentials struct {
	Username  string
	password  *memguard.Enclave
	destroyed bool
}

// NewCredentials seals password. The password buffer is wiped.
func NewCredentials(username string, password []byte) (*Credentials, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", rail.ErrInvalidOperation)
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("%w: password is required", rail.ErrInvalidOperation)
	}
	return &Credentials{
		Username: username,
		password: memguard.NewEnclave(password),
	}, nil
}

// withPassword decrypts the password for the duration of fn. The string
// aliases locked memory and must not be retained.
func (c *Credentials) withPassword(fn func(password string) error) error {
	if c == nil || c.destroyed || c.password == nil {
		return fmt.Errorf("%w: credentials are not usable", rail.ErrInvalidOperation)
	}
	buf, err := c.password.Open()
	if err != nil {
		return fmt.Errorf("opening password enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.String())
}

// Destroy drops the sealed password. The credentials must not be reused.
func (c *Credentials) Destroy() {
	c.password = nil
	c.destroyed = true
}
