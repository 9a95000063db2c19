package vault

import (
	"net/url"
	"strings"
)

// Normalize reduces an origin or URL to its lower-case host. Scheme, port,
// credentials and path are dropped; bare hosts are accepted.
func Normalize(origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return ""
	}
	if !strings.Contains(origin, "://") {
		origin = "//" + origin
	}
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
}
