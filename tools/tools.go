package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"
	"unicode/utf8"

	"difyline/config"
	"difyline/models"
)

// Truncate shortens s to at most n runes, marking the cut with "...".
// Used for log previews and for platform message limits.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return string([]rune(s)[:n])
	}
	return string([]rune(s)[:n-3]) + "..."
}

// FallbackText returns the user-facing text for a failed answer kind.
func FallbackText(f config.Fallbacks, kind string) string {
	switch kind {
	case models.ANSWER_KIND_EMPTY:
		return f.Empty
	case models.ANSWER_KIND_TIMEOUT:
		return f.Timeout
	case models.ANSWER_KIND_HTTP_ERROR:
		return f.HTTPError
	case models.ANSWER_KIND_TRANSPORT_ERROR:
		return f.Network
	case models.ANSWER_KIND_SYSTEM_ERROR:
		return f.System
	default:
		return f.Unexpected
	}
}

func fallbackAnswer(f config.Fallbacks, kind string) models.Answer {
	return models.Answer{Text: FallbackText(f, kind), Kind: kind}
}

// classifyError maps a failed call onto the answer taxonomy.
// Deadlines win over every other network failure.
func classifyError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ANSWER_KIND_TIMEOUT
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return models.ANSWER_KIND_TIMEOUT
		}
		return models.ANSWER_KIND_TRANSPORT_ERROR
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return models.ANSWER_KIND_EMPTY
	}
	return models.ANSWER_KIND_UNEXPECTED
}

// newHTTPClient returns a pooled client whose total request time is bounded by timeout.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
