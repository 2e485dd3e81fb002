// Package apperr maps arbitrary failure values into the closed error
// taxonomy used across the client core. Every failure boundary produces a
// Record; nothing above the boundary inspects raw provider errors.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
)

// Code identifies one member of the error taxonomy. The leading segment
// groups codes into categories: auth, validation, data, network, service,
// unknown.
type Code string

const (
	CodeInvalidCredentials  Code = "auth/invalid-credentials"
	CodeTokenExpired        Code = "auth/token-expired"
	CodeForbidden           Code = "auth/forbidden"
	CodeRequiresRecentLogin Code = "auth/requires-recent-login"

	CodeEmailInUse   Code = "validation/email-in-use"
	CodeWeakPassword Code = "validation/weak-password"

	CodeNotFound Code = "data/not-found"

	CodeNetworkOffline Code = "network/offline"
	CodeNetworkTimeout Code = "network/timeout"
	CodeServerError    Code = "network/server-error"

	CodeServiceUnavailable Code = "service/unavailable"
	CodeRateLimited        Code = "service/rate-limited"

	CodeUnknown Code = "unknown/error"
)

// Category returns the taxonomy segment before the first slash.
func (c Code) Category() string {
	if i := strings.IndexByte(string(c), '/'); i > 0 {
		return string(c)[:i]
	}
	return string(c)
}

// Record is the classified form of a failure. It is ephemeral: created at
// the boundary where a failure is observed and carried up as an error
// value, never persisted.
type Record struct {
	Message string
	Code    Code
	Status  int
	Details map[string]any
}

// Error implements the error interface.
func (r *Record) Error() string {
	if r == nil {
		return string(CodeUnknown)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// IsAuth reports whether the record belongs to the auth category.
func (r *Record) IsAuth() bool { return r != nil && r.Code.Category() == "auth" }

// Unauthorized reports whether the record is a 401-class failure, the
// trigger for reactive token refresh and forced logout.
func (r *Record) Unauthorized() bool { return r != nil && r.Status == http.StatusUnauthorized }

// Retryable reports whether the failure is transient enough to retry:
// connectivity loss, timeouts, provider overload, and any 5xx. Client-side
// 4xx failures are never retryable.
func (r *Record) Retryable() bool {
	if r == nil {
		return false
	}
	switch r.Code {
	case CodeNetworkOffline, CodeNetworkTimeout, CodeServiceUnavailable, CodeRateLimited:
		return true
	}
	return r.Status >= 500
}

// providerCodes maps parenthesized identity-provider markers to taxonomy
// entries. Unlisted markers fall through to unknown/error.
var providerCodes = map[string]struct {
	code   Code
	status int
}{
	"auth/user-not-found":        {CodeInvalidCredentials, http.StatusUnauthorized},
	"auth/wrong-password":        {CodeInvalidCredentials, http.StatusUnauthorized},
	"auth/invalid-credential":    {CodeInvalidCredentials, http.StatusUnauthorized},
	"auth/invalid-email":         {CodeInvalidCredentials, http.StatusUnauthorized},
	"auth/email-already-in-use":  {CodeEmailInUse, http.StatusBadRequest},
	"auth/weak-password":         {CodeWeakPassword, http.StatusBadRequest},
	"auth/requires-recent-login": {CodeRequiresRecentLogin, http.StatusUnauthorized},
	"auth/id-token-expired":      {CodeTokenExpired, http.StatusUnauthorized},
	"auth/user-token-expired":    {CodeTokenExpired, http.StatusUnauthorized},
	"auth/session-expired":       {CodeTokenExpired, http.StatusUnauthorized},
	"auth/user-disabled":         {CodeForbidden, http.StatusForbidden},
	"auth/operation-not-allowed": {CodeForbidden, http.StatusForbidden},
	"auth/not-found":             {CodeNotFound, http.StatusNotFound},
	"auth/too-many-requests":     {CodeRateLimited, http.StatusTooManyRequests},
}

var markerRe = regexp.MustCompile(`\(([a-z]+/[a-z0-9-]+)\)`)

var offlineMarkers = []string{
	"network error",
	"network is unreachable",
	"connection refused",
	"connection reset",
	"no such host",
	"broken pipe",
	"offline",
	"failed to fetch",
}

// Classify converts any failure value into a well-formed Record. It is
// total: nil, plain strings, wrapped errors, and malformed values all
// produce a usable Record, and the function never panics.
func Classify(raw any) *Record {
	switch v := raw.(type) {
	case nil:
		return &Record{Message: "unknown failure", Code: CodeUnknown, Status: http.StatusInternalServerError}
	case *Record:
		if v == nil {
			return &Record{Message: "unknown failure", Code: CodeUnknown, Status: http.StatusInternalServerError}
		}
		return v
	case error:
		return classifyError(v)
	case string:
		return classifyMessage(v)
	default:
		return classifyMessage(fmt.Sprint(v))
	}
}

func classifyError(err error) *Record {
	// Already-classified errors pass through unchanged, wrapped or not.
	var rec *Record
	if errors.As(err, &rec) && rec != nil {
		return rec
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Record{Message: err.Error(), Code: CodeNetworkTimeout, Status: http.StatusServiceUnavailable}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		code := CodeNetworkOffline
		if netErr.Timeout() {
			code = CodeNetworkTimeout
		}
		return &Record{Message: err.Error(), Code: code, Status: http.StatusServiceUnavailable}
	}
	return classifyMessage(err.Error())
}

func classifyMessage(msg string) *Record {
	if m := markerRe.FindStringSubmatch(msg); m != nil {
		if entry, ok := providerCodes[m[1]]; ok {
			return &Record{Message: msg, Code: entry.code, Status: entry.status, Details: map[string]any{"provider_code": m[1]}}
		}
		return &Record{Message: msg, Code: CodeUnknown, Status: http.StatusInternalServerError, Details: map[string]any{"provider_code": m[1]}}
	}
	lower := strings.ToLower(msg)
	for _, marker := range offlineMarkers {
		if strings.Contains(lower, marker) {
			return &Record{Message: msg, Code: CodeNetworkOffline, Status: http.StatusServiceUnavailable}
		}
	}
	if strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") {
		return &Record{Message: msg, Code: CodeNetworkTimeout, Status: http.StatusServiceUnavailable}
	}
	if strings.TrimSpace(msg) == "" {
		msg = "unknown failure"
	}
	return &Record{Message: msg, Code: CodeUnknown, Status: http.StatusInternalServerError}
}

// FromHTTP builds a Record for a non-2xx provider response. The message is
// first run through marker classification so provider codes embedded in
// response bodies keep their mapping; otherwise the HTTP status decides.
func FromHTTP(status int, message string) *Record {
	if rec := classifyMessage(message); rec.Code != CodeUnknown {
		return rec
	}
	if strings.TrimSpace(message) == "" {
		message = http.StatusText(status)
	}
	switch {
	case status == http.StatusUnauthorized:
		return &Record{Message: message, Code: CodeInvalidCredentials, Status: status}
	case status == http.StatusForbidden:
		return &Record{Message: message, Code: CodeForbidden, Status: status}
	case status == http.StatusNotFound:
		return &Record{Message: message, Code: CodeNotFound, Status: status}
	case status == http.StatusTooManyRequests:
		return &Record{Message: message, Code: CodeRateLimited, Status: status}
	case status == http.StatusServiceUnavailable:
		return &Record{Message: message, Code: CodeServiceUnavailable, Status: status}
	case status >= 500:
		return &Record{Message: message, Code: CodeServerError, Status: status}
	case status >= 400:
		return &Record{Message: message, Code: CodeUnknown, Status: status}
	default:
		return &Record{Message: message, Code: CodeUnknown, Status: http.StatusInternalServerError}
	}
}
