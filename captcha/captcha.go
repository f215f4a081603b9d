// Package captcha fetches and verifies the backend's session-bound image
// challenges.
package captcha

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jmcleod/ticketizer/backend"
	"github.com/jmcleod/ticketizer/rail"
)

// Type is the purpose a captcha was issued for.
type Type int

const (
	Login Type = iota
	Purchase
)

func (t Type) String() string {
	switch t {
	case Login:
		return "login"
	case Purchase:
		return "purchase"
	default:
		return "unknown"
	}
}

// module and rand request values per purpose.
func (t Type) params() (module, rand string) {
	if t == Purchase {
		return "passenger", "randp"
	}
	return "login", "sjrand"
}

// Captcha is an image challenge bound to the session it was issued under.
type Captcha struct {
	Type      Type
	SessionID string
	Image     []byte
	// Answer is set once the backend accepted it.
	Answer string
	// CheckParams are extra fields required when confirming the answer.
	CheckParams url.Values
}

// NeedsRefresh reports whether c cannot serve a request of purpose typ under
// the session sessionID. This is the only freshness rule.
func NeedsRefresh(c *Captcha, typ Type, sessionID string) bool {
	return c == nil || c.SessionID != sessionID || c.Type != typ
}

// EnsureUsable fails with rail.ErrStaleCaptcha when c cannot be sent with a
// request of purpose typ under the client's current session.
func EnsureUsable(client *backend.Client, c *Captcha, typ Type) error {
	if NeedsRefresh(c, typ, client.Session().ID()) {
		return fmt.Errorf("%w: %w: %s captcha required", rail.ErrInvalidOperation, rail.ErrStaleCaptcha, typ)
	}
	return nil
}

// Fetch requests a new challenge image for typ and stamps it with the session
// the backend issued it under.
func Fetch(ctx context.Context, client *backend.Client, typ Type, checkParams url.Values) (*Captcha, error) {
	module, rand := typ.params()
	resp, err := client.Get(ctx, backend.PathCaptchaImage, backend.OrderedQuery("module", module, "rand", rand))
	if err != nil {
		return nil, err
	}
	if ct := resp.ContentType(); !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("%w: captcha content type %q", rail.ErrProtocolShapeMismatch, ct)
	}
	return &Captcha{
		Type:        typ,
		SessionID:   client.Session().ID(),
		Image:       resp.Body,
		CheckParams: cloneValues(checkParams),
	}, nil
}

// Verify submits answer for c. A true result only means the backend accepted
// the answer; each downstream request re-validates it.
func Verify(ctx context.Context, client *backend.Client, c *Captcha, answer string) (bool, error) {
	if c == nil {
		return false, fmt.Errorf("%w: no captcha", rail.ErrInvalidOperation)
	}
	if err := EnsureUsable(client, c, c.Type); err != nil {
		return false, err
	}
	_, rand := c.Type.params()
	form := url.Values{
		"rand":     {rand},
		"randCode": {answer},
	}
	for k, vs := range c.CheckParams {
		form[k] = append([]string(nil), vs...)
	}
	env, err := client.PostJSON(ctx, backend.PathCaptchaCheck, form)
	if err != nil {
		return false, err
	}
	// Older deployments answer with a bare flag, newer ones with {"result":"1"}.
	ok := backend.Truthy(env.Data) || env.Flag("result")
	if ok {
		c.Answer = answer
	}
	return ok, nil
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
