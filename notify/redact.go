package notify

import (
	"fmt"
	"net/url"
	"strings"
)

// RedactURL collapses a webhook URL to scheme://host/***<last4> so logs and
// artifacts never leak the secret path segment.
func RedactURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	last4 := raw
	if len(raw) > 4 {
		last4 = raw[len(raw)-4:]
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***" + last4
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s/***%s", scheme, u.Host, last4)
}
