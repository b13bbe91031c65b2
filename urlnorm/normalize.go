package urlnorm

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/docutag/postscraper/models"
)

var linkedInPattern = regexp.MustCompile(`(?i)^https://(www\.)?linkedin\.com/`)

// TrackingParams are stripped from every submitted URL
var TrackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content"}

// ValidationError reports a field-level problem with client input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// NormalizedURL is a validated submission with tracking parameters removed
type NormalizedURL struct {
	Original string
	URL      string
	Platform models.Platform
	Host     string // lowercased, without a leading www.
	Path     string // without a trailing slash
}

// Key identifies the logical post (host + path)
func (n *NormalizedURL) Key() string {
	return n.Host + n.Path
}

// Normalize validates a LinkedIn or Substack URL and strips tracking parameters.
// Path and every other query parameter are preserved in their original order.
func Normalize(raw string) (*NormalizedURL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &ValidationError{Field: "url", Message: "url is required"}
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, &ValidationError{Field: "url", Message: "url is malformed"}
	}

	platform, ok := platformOf(raw, u)
	if !ok {
		return nil, &ValidationError{Field: "url", Message: "only LinkedIn and Substack URLs are supported"}
	}

	u.RawQuery = stripTracking(u.RawQuery)

	return &NormalizedURL{
		Original: raw,
		URL:      u.String(),
		Platform: platform,
		Host:     canonicalHost(u.Host),
		Path:     canonicalPath(u.Path),
	}, nil
}

// DetectPlatform returns the platform a URL belongs to, defaulting to LinkedIn
func DetectPlatform(raw string) models.Platform {
	if IsSubstack(raw) {
		return models.PlatformSubstack
	}
	return models.PlatformLinkedIn
}

// IsSubstack reports whether the URL points at *.substack.com or substack.com/
func IsSubstack(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "substack.com" || strings.HasSuffix(host, ".substack.com")
}

// Key returns host+path for a stored URL, or "" when it cannot be parsed
func Key(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	return canonicalHost(u.Host) + canonicalPath(u.Path)
}

func platformOf(raw string, u *url.URL) (models.Platform, bool) {
	if linkedInPattern.MatchString(raw) {
		return models.PlatformLinkedIn, true
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme == "https" || scheme == "http") && IsSubstack(raw) {
		return models.PlatformSubstack, true
	}
	return "", false
}

func stripTracking(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	parts := strings.Split(rawQuery, "&")
	kept := parts[:0]
	for _, part := range parts {
		if part == "" {
			continue
		}
		name := part
		if i := strings.IndexByte(part, '='); i >= 0 {
			name = part[:i]
		}
		if decoded, err := url.QueryUnescape(name); err == nil {
			name = decoded
		}
		if isTrackingParam(name) {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "&")
}

func isTrackingParam(name string) bool {
	for _, p := range TrackingParams {
		if strings.EqualFold(name, p) {
			return true
		}
	}
	return false
}

func canonicalHost(host string) string {
	host = strings.ToLower(host)
	return strings.TrimPrefix(host, "www.")
}

func canonicalPath(path string) string {
	if path == "/" {
		return ""
	}
	return strings.TrimSuffix(path, "/")
}
