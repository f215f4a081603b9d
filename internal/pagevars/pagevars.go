// Package pagevars extracts values the backend embeds in inline page scripts.
//
// Two forms are recognized:
//
//	var NAME = VALUE ;       declaration
//	'NAME' : VALUE           object property (either quote style)
//
// where VALUE is 'text', "text" or null. Quoted text runs to the first
// matching quote; escapes are not interpreted. A requested name whose value
// has any other form is a rail.ErrProtocolShapeMismatch.
package pagevars

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jmcleod/ticketizer/rail"
)

// Value is an extracted value. Null is set for a literal null.
type Value struct {
	Text string
	Null bool
}

// Vars returns the declarations of the requested names found in page.
// Names that are not declared are absent from the result.
func Vars(page string, names ...string) (map[string]Value, error) {
	out := make(map[string]Value, len(names))
	for _, name := range names {
		re := regexp.MustCompile(`\bvar\s+` + regexp.QuoteMeta(name) + `\s*=\s*`)
		loc := re.FindStringIndex(page)
		if loc == nil {
			continue
		}
		v, rest, err := parseValue(page[loc[1]:])
		if err != nil {
			return nil, fmt.Errorf("%w: var %s: %v", rail.ErrProtocolShapeMismatch, name, err)
		}
		if !strings.HasPrefix(strings.TrimLeft(rest, " \t"), ";") {
			return nil, fmt.Errorf("%w: var %s: missing terminator", rail.ErrProtocolShapeMismatch, name)
		}
		out[name] = v
	}
	return out, nil
}

// Property returns the value of the first quoted object property key in page.
func Property(page, key string) (Value, bool, error) {
	re := regexp.MustCompile(`['"]` + regexp.QuoteMeta(key) + `['"]\s*:\s*`)
	loc := re.FindStringIndex(page)
	if loc == nil {
		return Value{}, false, nil
	}
	v, _, err := parseValue(page[loc[1]:])
	if err != nil {
		return Value{}, false, fmt.Errorf("%w: property %s: %v", rail.ErrProtocolShapeMismatch, key, err)
	}
	return v, true, nil
}

// RequireText returns the text of a present, non-null value.
func RequireText(vars map[string]Value, name string) (string, error) {
	v, ok := vars[name]
	if !ok {
		return "", fmt.Errorf("%w: %s not found in page", rail.ErrProtocolShapeMismatch, name)
	}
	if v.Null {
		return "", fmt.Errorf("%w: %s is null", rail.ErrProtocolShapeMismatch, name)
	}
	return v.Text, nil
}

func parseValue(s string) (Value, string, error) {
	switch {
	case strings.HasPrefix(s, "null"):
		return Value{Null: true}, s[len("null"):], nil
	case strings.HasPrefix(s, "'"), strings.HasPrefix(s, `"`):
		quote := s[:1]
		end := strings.Index(s[1:], quote)
		if end < 0 {
			return Value{}, "", fmt.Errorf("unterminated string")
		}
		return Value{Text: s[1 : 1+end]}, s[2+end:], nil
	default:
		n := min(len(s), 16)
		return Value{}, "", fmt.Errorf("unsupported value %q", s[:n])
	}
}
