package urlutil

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNotHTTP is returned for URLs that are not absolute http or https URLs.
var ErrNotHTTP = errors.New("url must be an absolute http or https url")

// Validate trims surrounding whitespace and checks that the result is an
// absolute http(s) URL with a host. The URL is returned as entered, not
// canonicalized, so visits hit exactly what the operator configured.
func Validate(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	u, err := parse(trimmed)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", ErrNotHTTP
	}
	return trimmed, nil
}

// Host returns the lowercase host name of rawURL, or "" if it cannot be parsed.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func parse(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if !u.IsAbs() || (scheme != "http" && scheme != "https") {
		return nil, ErrNotHTTP
	}
	return u, nil
}
