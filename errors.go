package postscraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/docutag/postscraper/llm"
)

// ErrorKind classifies why an extraction failed
type ErrorKind string

const (
	KindAuth          ErrorKind = "auth"
	KindRateLimit     ErrorKind = "rate_limit"
	KindQuota         ErrorKind = "quota"
	KindLoginRequired ErrorKind = "login_required"
	KindRenderTimeout ErrorKind = "render_timeout"
	KindInvalidURL    ErrorKind = "invalid_url"
	KindUpstream      ErrorKind = "upstream"
	KindNetwork       ErrorKind = "network"
	KindEmptyContent  ErrorKind = "empty_content"
	KindUnknown       ErrorKind = "unknown"
)

var kindMessages = map[ErrorKind]string{
	KindAuth:          "The scraping service API key is invalid or has expired",
	KindRateLimit:     "The scraping service rate limit was exceeded, try again in a few minutes",
	KindQuota:         "The scraping service usage quota has been exceeded",
	KindLoginRequired: "This post is only visible to signed-in users and cannot be extracted automatically",
	KindRenderTimeout: "The page took too long to render",
	KindInvalidURL:    "The URL could not be processed by the scraping service",
	KindUpstream:      "The scraping service is temporarily unavailable",
	KindNetwork:       "Could not reach the scraping service (timeout or connection refused)",
	KindEmptyContent:  "No post content could be extracted from the page",
}

var llmKindMessages = map[ErrorKind]string{
	KindAuth:      "The LLM API key is invalid or has expired",
	KindRateLimit: "The LLM rate limit was exceeded, try again in a few minutes",
	KindQuota:     "The LLM usage quota has been exceeded",
	KindUpstream:  "The LLM service is temporarily unavailable",
	KindNetwork:   "Could not reach the LLM service (timeout or connection refused)",
}

// ExtractionError is a classified extraction failure. Message is safe to show to users.
type ExtractionError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ExtractionError) Error() string {
	return e.Message
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, err error) *ExtractionError {
	msg, ok := kindMessages[kind]
	if !ok {
		msg = "Extraction failed"
		if err != nil {
			msg = err.Error()
		}
	}
	return &ExtractionError{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of an extraction error, or KindUnknown
func KindOf(err error) ErrorKind {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindUnknown
}

// classifyScraperResponse maps a non-200 scraping API answer onto the error taxonomy
func classifyScraperResponse(status int, body string) *ExtractionError {
	lower := strings.ToLower(body)
	cause := fmt.Errorf("scraping service returned %d: %s", status, truncate(strings.TrimSpace(body), 300))

	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden && strings.Contains(lower, "api key"),
		strings.Contains(lower, "invalid api key"), strings.Contains(lower, "apikey is not valid"):
		return newError(KindAuth, cause)
	case status == http.StatusPaymentRequired, strings.Contains(lower, "quota"), strings.Contains(lower, "usage exceeded"),
		strings.Contains(lower, "insufficient credits"):
		return newError(KindQuota, cause)
	case status == http.StatusTooManyRequests, strings.Contains(lower, "rate limit"), strings.Contains(lower, "concurrency limit"):
		return newError(KindRateLimit, cause)
	case strings.Contains(lower, "authwall"), strings.Contains(lower, "login required"), strings.Contains(lower, "sign in to view"):
		return newError(KindLoginRequired, cause)
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout, strings.Contains(lower, "timeout"),
		strings.Contains(lower, "timed out"):
		return newError(KindRenderTimeout, cause)
	case status == http.StatusBadRequest && strings.Contains(lower, "url"), strings.Contains(lower, "invalid url"),
		strings.Contains(lower, "malformed"):
		return newError(KindInvalidURL, cause)
	case status >= 500:
		return newError(KindUpstream, cause)
	}
	return newError(KindUnknown, cause)
}

// classifyTransportError maps client-side failures (dial, timeout) onto the taxonomy
func classifyTransportError(err error) *ExtractionError {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee
	}
	// *url.Error satisfies net.Error, so only timeouts and socket-level failures count as network
	var netErr net.Error
	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.As(err, &opErr),
		errors.As(err, &dnsErr),
		errors.As(err, &netErr) && netErr.Timeout():
		return newError(KindNetwork, err)
	}
	return newError(KindUnknown, err)
}

// classifyLLMError maps LLM client failures onto the taxonomy with LLM-specific messages
func classifyLLMError(err error) *ExtractionError {
	var apiErr *llm.APIError
	var kind ErrorKind
	switch {
	case errors.As(err, &apiErr) && apiErr.IsAuth():
		kind = KindAuth
	case errors.As(err, &apiErr) && apiErr.IsQuota():
		kind = KindQuota
	case errors.As(err, &apiErr) && apiErr.IsRateLimit():
		kind = KindRateLimit
	case errors.As(err, &apiErr) && apiErr.StatusCode >= 500:
		kind = KindUpstream
	default:
		ee := classifyTransportError(err)
		if ee.Kind != KindNetwork {
			return ee
		}
		kind = KindNetwork
	}
	return &ExtractionError{Kind: kind, Message: llmKindMessages[kind], Err: err}
}

// truncate cuts s to n bytes on a rune boundary
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
