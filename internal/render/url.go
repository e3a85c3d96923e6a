package render

import (
	"net"
	"net/url"
	"strings"
)

// KeyPrefix namespaces rendered pages in the cache.
const KeyPrefix = "render:"

// Normalize validates raw and returns its canonical form. The scheme and host
// are lowercased, a default port is dropped and the fragment is removed. Path
// and query are kept as sent.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", invalidInput(raw, "url is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", invalidInput(raw, "url could not be parsed")
	}
	if !u.IsAbs() || u.Opaque != "" {
		return "", invalidInput(raw, "url must be absolute")
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", invalidInput(raw, "url scheme must be http or https")
	}
	if u.Hostname() == "" {
		return "", invalidInput(raw, "url must include a host")
	}

	u.Scheme = scheme
	u.Host = normalizeHost(u.Host, scheme)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

func normalizeHost(host, scheme string) string {
	host = strings.ToLower(host)
	h, port, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") || port == "" {
		if strings.Contains(h, ":") {
			return "[" + h + "]"
		}
		return h
	}
	return host
}

// CacheKey returns the cache key for an already normalized URL.
func CacheKey(normalized string) string {
	return KeyPrefix + normalized
}
