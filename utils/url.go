package utils

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL canonicalizes a node URL so that string comparison between
// advertised and configured URLs is reliable. The scheme and host are
// lower-cased and a single trailing slash is enforced.
func NormalizeURL(rawUrl string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawUrl))
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("invalid node url: %s", rawUrl)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)

	normalized := parsed.String()
	if !strings.HasSuffix(normalized, "/") {
		normalized = normalized + "/"
	}
	return normalized, nil
}

// MustNormalizeURL is NormalizeURL for URLs already known to be valid, such
// as values read back out of the party info store. Invalid input is
// returned unchanged.
func MustNormalizeURL(rawUrl string) string {
	normalized, err := NormalizeURL(rawUrl)
	if err != nil {
		return rawUrl
	}
	return normalized
}

func BuildUrl(rawUrl, rawPath string) (string, error) {
	baseUrl, err := url.Parse(rawUrl)
	if err != nil {
		return "", err
	}

	path, err := url.Parse(rawPath)
	if err != nil {
		return "", err
	}

	return baseUrl.ResolveReference(path).String(), nil
}
