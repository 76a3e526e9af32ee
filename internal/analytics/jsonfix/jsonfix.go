// Package jsonfix repairs JSON text that went through one or more rounds of
// careless quoting, as found in exported item lists.
package jsonfix

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	doubledPair = regexp.MustCompile(`""([^"]*?)""`)
	quoteRun    = regexp.MustCompile(`"+`)
)

// Parse decodes text, repairing common quoting damage first. It returns
// ok=false when the text cannot be made into JSON.
//
// Text that is already valid JSON and does not decode to a bare string is
// returned as is. Otherwise the repair steps are: trim, drop one pair of
// enclosing quotes, unescape \" sequences, collapse ""x"" into "x" and any
// remaining run of quotes into one.
func Parse(text string) (v any, ok bool) {
	defer func() {
		if recover() != nil {
			v, ok = nil, false
		}
	}()
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		if _, isString := v.(string); !isString {
			return v, true
		}
	}
	v = nil
	if len(text) >= 2 && strings.HasPrefix(text, `"`) && strings.HasSuffix(text, `"`) {
		text = text[1 : len(text)-1]
	}
	text = strings.ReplaceAll(text, `\\\"`, `"`)
	text = strings.ReplaceAll(text, `\"`, `"`)
	text = doubledPair.ReplaceAllString(text, `"$1"`)
	text = quoteRun.ReplaceAllString(text, `"`)
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, false
	}
	return v, true
}

// Normalize returns text re-encoded as compact JSON when Parse succeeds.
func Normalize(text string) ([]byte, bool) {
	v, ok := Parse(text)
	if !ok {
		return nil, false
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	return b, true
}
