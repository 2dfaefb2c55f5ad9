package bodyparse

import (
	"net/url"
	"strings"
)

// ParseSearchParams decodes an application/x-www-form-urlencoded string the
// way browsers do. Unlike url.ParseQuery it keeps pairs containing ';', and
// an invalid escape leaves that side of the pair undecoded instead of
// dropping it.
func ParseSearchParams(text string) url.Values {
	values := make(url.Values)
	for text != "" {
		var pair string
		pair, text, _ = strings.Cut(text, "&")
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		key = unescapeComponent(key)
		values[key] = append(values[key], unescapeComponent(value))
	}
	return values
}

func unescapeComponent(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return strings.ReplaceAll(s, "+", " ")
}
