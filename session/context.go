// Package session holds the cookie jar shared by every request an engine
// sends to the ticketing backend.
package session

import (
	"net/http"
	"sync"
	"time"
)

// DefaultIDCookie is the cookie the backend uses to identify a session.
const DefaultIDCookie = "JSESSIONID"

// Context is the cookie store for one engine. Every backend response must be
// merged back with SetCookies so ID always reflects the latest server-issued
// session. Merges are last-writer-wins.
type Context struct {
	mu       sync.RWMutex
	idCookie string
	cookies  map[string]string
}

// Option configures a Context.
type Option func(*Context)

// WithIDCookie changes the name of the session-identifying cookie.
func WithIDCookie(name string) Option {
	return func(c *Context) {
		c.idCookie = name
	}
}

// New creates an empty, anonymous session context.
func New(opts ...Option) *Context {
	c := &Context{
		idCookie: DefaultIDCookie,
		cookies:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the current session identifier, or "" before the backend issued one.
func (c *Context) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cookies[c.idCookie]
}

// Cookies returns a copy of the current cookie set.
func (c *Context) Cookies() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.cookies))
	for k, v := range c.cookies {
		out[k] = v
	}
	return out
}

// SetCookies merges every Set-Cookie header of a response. Cookies the
// backend expires are removed.
func (c *Context) SetCookies(h http.Header) {
	resp := http.Response{Header: h}
	set := resp.Cookies()
	if len(set) == 0 {
		return
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ck := range set {
		expired := !ck.Expires.IsZero() && ck.Expires.Before(now)
		if ck.MaxAge < 0 || ck.Value == "" || expired {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = ck.Value
	}
}

// Apply attaches the current cookie set to an outgoing request.
func (c *Context) Apply(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, value := range c.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}

// Reset drops every cookie, leaving an anonymous context.
func (c *Context) Reset() {
	c.mu.Lock()
	c.cookies = make(map[string]string)
	c.mu.Unlock()
}
