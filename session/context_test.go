package session

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func header(cookies ...string) http.Header {
	h := http.Header{}
	for _, c := range cookies {
		h.Add("Set-Cookie", c)
	}
	return h
}

func TestContext_EmptyIsAnonymous(t *testing.T) {
	c := New()
	assert.Equal(t, "", c.ID())
	assert.Empty(t, c.Cookies())
}

func TestContext_TracksLatestSessionID(t *testing.T) {
	c := New()
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("sess-%d", i)
		c.SetCookies(header("JSESSIONID="+id+"; Path=/otn", fmt.Sprintf("BIGipServerotn=%d; Path=/", i)))
		require.Equal(t, id, c.ID())
	}
	assert.Equal(t, "19", c.Cookies()["BIGipServerotn"])
}

func TestContext_ResponseWithoutCookiesKeepsState(t *testing.T) {
	c := New()
	c.SetCookies(header("JSESSIONID=abc"))
	c.SetCookies(http.Header{})
	c.SetCookies(header("other=1"))
	assert.Equal(t, "abc", c.ID())
	assert.Equal(t, map[string]string{"JSESSIONID": "abc", "other": "1"}, c.Cookies())
}

func TestContext_ExpiredCookieRemoved(t *testing.T) {
	c := New()
	c.SetCookies(header("JSESSIONID=abc", "tk=zzz"))
	c.SetCookies(header("tk=deleted; Max-Age=0"))
	_, ok := c.Cookies()["tk"]
	assert.False(t, ok)
	assert.Equal(t, "abc", c.ID())
}

func TestContext_PastExpiresRemoved(t *testing.T) {
	c := New()
	c.SetCookies(header("JSESSIONID=abc", "tk=zzz", "route=r1"))
	c.SetCookies(header(
		"tk=zzz; Expires=Thu, 01 Jan 1970 00:00:00 GMT",
		"route=r2; Expires=Fri, 01 Jan 2100 00:00:00 GMT",
	))
	assert.Equal(t, map[string]string{"JSESSIONID": "abc", "route": "r2"}, c.Cookies())
}

func TestContext_CookiesReturnsCopy(t *testing.T) {
	c := New()
	c.SetCookies(header("JSESSIONID=abc"))
	got := c.Cookies()
	got["JSESSIONID"] = "tampered"
	assert.Equal(t, "abc", c.ID())
}

func TestContext_Apply(t *testing.T) {
	c := New()
	c.SetCookies(header("JSESSIONID=abc", "route=r1"))
	req, err := http.NewRequest(http.MethodGet, "http://example.invalid/", nil)
	require.NoError(t, err)
	c.Apply(req)

	ck, err := req.Cookie("JSESSIONID")
	require.NoError(t, err)
	assert.Equal(t, "abc", ck.Value)
	ck, err = req.Cookie("route")
	require.NoError(t, err)
	assert.Equal(t, "r1", ck.Value)
}

func TestContext_CustomIDCookieAndReset(t *testing.T) {
	c := New(WithIDCookie("sid"))
	c.SetCookies(header("JSESSIONID=ignored", "sid=mine"))
	assert.Equal(t, "mine", c.ID())

	c.Reset()
	assert.Equal(t, "", c.ID())
	assert.Empty(t, c.Cookies())
}
