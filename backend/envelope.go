package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmcleod/ticketizer/rail"
)

// Envelope is the JSON wrapper the backend puts around every API reply.
type Envelope struct {
	Status     bool            `json:"status"`
	HTTPStatus int             `json:"httpstatus"`
	Messages   []string        `json:"-"`
	Data       json.RawMessage `json:"data"`
}

type rawEnvelope struct {
	Status     json.RawMessage `json:"status"`
	HTTPStatus int             `json:"httpstatus"`
	Messages   json.RawMessage `json:"messages"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a reply body. A body that is not a JSON object is a
// protocol shape mismatch.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decoding reply: %v", rail.ErrProtocolShapeMismatch, err)
	}
	env := &Envelope{
		Status:     Truthy(raw.Status),
		HTTPStatus: raw.HTTPStatus,
		Data:       raw.Data,
		Messages:   decodeMessages(raw.Messages),
	}
	return env, nil
}

// messages is either a list of strings or, on some endpoints, a single string.
func decodeMessages(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil && one != "" {
		return []string{one}
	}
	return nil
}

// DecodeData unmarshals the data member into v.
func (e *Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 || bytes.Equal(e.Data, []byte("null")) {
		return fmt.Errorf("%w: reply has no data", rail.ErrProtocolShapeMismatch)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: decoding data: %v", rail.ErrProtocolShapeMismatch, err)
	}
	return nil
}

// Field returns a raw member of the data object, or nil when absent.
func (e *Envelope) Field(name string) json.RawMessage {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(e.Data, &m); err != nil {
		return nil
	}
	return m[name]
}

// Flag reports whether the named data member is truthy.
func (e *Envelope) Flag(name string) bool {
	return Truthy(e.Field(name))
}

// JoinedMessages joins the message list for error reporting.
func (e *Envelope) JoinedMessages() string {
	return strings.Join(e.Messages, "; ")
}

// Truthy interprets the backend's assorted spellings of true: a JSON true,
// "Y", "true" or a non-zero number, bare or quoted.
func Truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return truthyString(s)
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n != 0
	}
	return false
}

func truthyString(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "true":
		return true
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	return err == nil && n != 0
}

// Int parses a data member that may be a JSON number or a numeric string.
func Int(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: %q is not an integer", rail.ErrProtocolShapeMismatch, string(raw))
}
