// Package backend is the HTTP transport to the ticketing service. Every
// request carries the engine's session cookies and every response, failed or
// not, is merged back into the session before it is inspected.
package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmcleod/ticketizer/rail"
	"github.com/jmcleod/ticketizer/session"
)

// DefaultBaseURL is the production ticketing API root.
const DefaultBaseURL = "https://kyfw.12306.cn/otn/"

// DefaultUserAgent is sent unless WithUserAgent overrides it.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) ticketizer/1.0"

const (
	defaultTimeout  = 30 * time.Second
	maxResponseBody = 8 << 20
)

// Client sends requests to the ticketing backend on behalf of one session.
type Client struct {
	base      *url.URL
	http      *http.Client
	session   *session.Context
	userAgent string
	maxBody   int64
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different backend root, e.g. a test server.
func WithBaseURL(raw string) Option {
	return func(c *Client) {
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		if u, err := url.Parse(raw); err == nil {
			c.base = u
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithMaxResponseBody caps the size of a response body. Larger bodies fail
// with rail.ErrProtocolShapeMismatch.
func WithMaxResponseBody(n int64) Option {
	return func(c *Client) {
		c.maxBody = n
	}
}

// WithLogger sets the structured logger for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client bound to the given session.
func New(sess *session.Context, opts ...Option) *Client {
	base, _ := url.Parse(DefaultBaseURL)
	c := &Client{
		base:      base,
		http:      &http.Client{Timeout: defaultTimeout},
		session:   sess,
		userAgent: DefaultUserAgent,
		maxBody:   maxResponseBody,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	c.logger = c.logger.With("component", "backend")
	return c
}

// Session returns the cookie store the client reads and updates.
func (c *Client) Session() *session.Context {
	return c.session
}

// Request describes one call. Query is an already-encoded query string so
// callers can control parameter order; Form is sent url-encoded when non-nil.
type Request struct {
	Method string
	Path   string
	Query  string
	Form   url.Values
}

// Response is a fully read backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
}

// ContentType returns the media type without parameters.
func (r *Response) ContentType() string {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return mt
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// StatusError is a non-2xx reply. It is a transport failure and is never
// mapped into the domain error taxonomy.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned HTTP %d for %s", e.StatusCode, e.URL)
}

// Do sends the request and returns the read response.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	ref, err := url.Parse(strings.TrimPrefix(r.Path, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing request path %q: %w", r.Path, err)
	}
	u := c.base.ResolveReference(ref)
	if r.Query != "" {
		u.RawQuery = r.Query
	}

	var body io.Reader
	if r.Form != nil {
		body = strings.NewReader(r.Form.Encode())
	}
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if r.Form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	c.session.Apply(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	c.session.SetCookies(resp.Header)

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", u.Path, err)
	}
	c.logger.Debug("request",
		slog.String("method", method),
		slog.String("path", u.Path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: u.String()}
	}
	if int64(len(data)) > c.maxBody {
		return nil, fmt.Errorf("%w: %s response exceeds %d bytes", rail.ErrProtocolShapeMismatch, u.Path, c.maxBody)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		URL:        u.String(),
	}, nil
}

// Get issues a GET with an encoded query string.
func (c *Client) Get(ctx context.Context, path, query string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
}

// PostForm issues a url-encoded POST. A nil form sends an empty body.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values) (*Response, error) {
	if form == nil {
		form = url.Values{}
	}
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Form: form})
}

// PostJSON issues a url-encoded POST and decodes the JSON envelope reply.
func (c *Client) PostJSON(ctx context.Context, path string, form url.Values) (*Envelope, error) {
	resp, err := c.PostForm(ctx, path, form)
	if err != nil {
		return nil, err
	}
	return DecodeEnvelope(resp.Body)
}

// GetJSON issues a GET and decodes the JSON envelope reply.
func (c *Client) GetJSON(ctx context.Context, path, query string) (*Envelope, error) {
	resp, err := c.Get(ctx, path, query)
	if err != nil {
		return nil, err
	}
	return DecodeEnvelope(resp.Body)
}

// OrderedQuery encodes key/value pairs in the order given. The query endpoint
// rejects requests whose parameters are not in its expected order, which
// url.Values.Encode does not preserve.
func OrderedQuery(pairs ...string) string {
	var sb strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		if sb.Len() > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(pairs[i]))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(pairs[i+1]))
	}
	return sb.String()
}
