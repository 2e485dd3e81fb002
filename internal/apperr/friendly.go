package apperr

import (
	"strings"
	"unicode"
)

const fallbackMessage = "Something went wrong. Please try again."

// friendlyByCode holds the stable user-facing sentence for each code.
var friendlyByCode = map[Code]string{
	CodeInvalidCredentials:  "The email or password you entered is incorrect.",
	CodeTokenExpired:        "Your session has expired. Please sign in again.",
	CodeForbidden:           "You don't have permission to do that.",
	CodeRequiresRecentLogin: "Please sign in again to confirm this change.",
	CodeEmailInUse:          "An account with this email already exists.",
	CodeWeakPassword:        "Please choose a stronger password.",
	CodeNotFound:            "We couldn't find what you were looking for.",
	CodeNetworkOffline:      "You appear to be offline. Check your connection and try again.",
	CodeNetworkTimeout:      "The request took too long. Please try again.",
	CodeServerError:         "The service hit a problem on our side. Please try again shortly.",
	CodeServiceUnavailable:  "The service is temporarily unavailable. Please try again shortly.",
	CodeRateLimited:         "Too many attempts. Please wait a moment and try again.",
}

// FriendlyMessage renders a non-technical sentence for the record. Raw
// messages that read like presentable prose are kept; anything technical
// falls back to the per-code sentence or the generic fallback.
func FriendlyMessage(r *Record) string {
	if r == nil {
		return fallbackMessage
	}
	if msg, ok := friendlyByCode[r.Code]; ok {
		return msg
	}
	if presentable(r.Message) {
		return r.Message
	}
	return fallbackMessage
}

var technicalTokens = []string{
	"stack", "trace", "goroutine", "panic", "nil pointer",
	"exception", "undefined", "syscall", "errno", "sql", "grpc", "http/",
}

// presentable reports whether a raw message can be shown to an end user:
// short, starts with a capital letter, ends with terminal punctuation, and
// carries no obvious library or runtime vocabulary.
func presentable(msg string) bool {
	msg = strings.TrimSpace(msg)
	if msg == "" || len(msg) > 150 {
		return false
	}
	runes := []rune(msg)
	if !unicode.IsUpper(runes[0]) {
		return false
	}
	switch runes[len(runes)-1] {
	case '.', '!', '?':
	default:
		return false
	}
	lower := strings.ToLower(msg)
	for _, tok := range technicalTokens {
		if strings.Contains(lower, tok) {
			return false
		}
	}
	return true
}
