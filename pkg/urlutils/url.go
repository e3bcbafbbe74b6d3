// Package urlutils provides URL helper functions.
package urlutils

import (
	"net/url"
	"strings"
)

// IsValidURL checks if a URL is valid
func IsValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// IsHTTPURL reports whether urlStr is an absolute http or https URL.
func IsHTTPURL(urlStr string) bool {
	u, err := url.Parse(strings.TrimSpace(urlStr))
	if err != nil || u.Host == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return true
	default:
		return false
	}
}

// ResolveURL resolves a relative URL against a base URL
// If the URL is already absolute, it returns it unchanged
func ResolveURL(baseURL, relativeURL string) (string, error) {
	rel, err := url.Parse(relativeURL)
	if err != nil {
		return "", err
	}

	if rel.IsAbs() {
		return relativeURL, nil
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}

	return base.ResolveReference(rel).String(), nil
}

// JoinPublic joins a public base URL and a remote object key.
func JoinPublic(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(key, "/")
}
