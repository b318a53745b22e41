package downloader

import (
	"errors"
	"strconv"
	"strings"
)

// ErrorKind labels why an extraction failed.
type ErrorKind string

const (
	KindAdmissionRejected  ErrorKind = "AdmissionRejected"
	KindBlockedByUpstream  ErrorKind = "BlockedByUpstream"
	KindContentUnavailable ErrorKind = "ContentUnavailable"
	KindFormatUnavailable  ErrorKind = "FormatUnavailable"
	KindToolingFailure     ErrorKind = "ToolingFailure"
	KindCanceled           ErrorKind = "Canceled"
	KindUnknown            ErrorKind = "Unknown"
)

// ErrAdmissionRejected is returned when every extraction slot is taken.
var ErrAdmissionRejected = &ExtractionError{
	Kind:    KindAdmissionRejected,
	Message: "server is busy, too many concurrent downloads",
	Hint:    "Try again in a moment.",
}

// ExtractionError is a classified failure with an optional remediation hint.
type ExtractionError struct {
	Kind    ErrorKind
	Message string
	Detail  string
	Hint    string
}

func (e *ExtractionError) Error() string {
	if e.Detail != "" {
		return e.Message + ": " + e.Detail
	}
	return e.Message
}

// Is matches on kind so callers can compare against sentinel values.
func (e *ExtractionError) Is(target error) bool {
	var other *ExtractionError
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

var classifierRules = []struct {
	kind    ErrorKind
	message string
	needles []string
}{
	{
		kind:    KindBlockedByUpstream,
		message: "upstream blocked the request",
		needles: []string{"sign in to confirm", "confirm you're not a bot", "confirm you’re not a bot", "http error 403", "forbidden", "http error 429", "too many requests", "blocked"},
	},
	{
		kind:    KindContentUnavailable,
		message: "video is unavailable",
		needles: []string{"video unavailable", "private video", "this video is private", "not available in your country", "not made this video available", "geo restrict", "has been removed", "members-only", "this video is not available"},
	},
	{
		kind:    KindFormatUnavailable,
		message: "requested format is not available",
		needles: []string{"requested format is not available", "no video formats found"},
	},
}

// Classify labels diagnostic text from the extractor.
func Classify(stderr string) ErrorKind {
	lower := strings.ToLower(stderr)
	for _, rule := range classifierRules {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				return rule.kind
			}
		}
	}
	return KindUnknown
}

// classifyFailure builds the error for a non-zero extractor exit.
func classifyFailure(stderr string, exitCode int) *ExtractionError {
	kind := Classify(stderr)
	detail := errorLine(stderr)
	for _, rule := range classifierRules {
		if rule.kind == kind {
			return &ExtractionError{Kind: kind, Message: rule.message, Detail: detail}
		}
	}
	return &ExtractionError{
		Kind:    KindUnknown,
		Message: "download failed (exit code " + strconv.Itoa(exitCode) + ")",
		Detail:  detail,
	}
}

func toolingFailure(message string, detail string) *ExtractionError {
	return &ExtractionError{Kind: KindToolingFailure, Message: message, Detail: detail}
}

// errorLine picks the most useful single line out of stderr.
func errorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	last := ""
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "ERROR:") {
			return truncate(strings.TrimSpace(strings.TrimPrefix(line, "ERROR:")), 300)
		}
		if last == "" {
			last = line
		}
	}
	return truncate(last, 300)
}

// Hint returns remediation advice for a failure kind given the proxy setup.
func Hint(kind ErrorKind, proxiesConfigured bool) string {
	switch kind {
	case KindBlockedByUpstream:
		if !proxiesConfigured {
			return "The server IP appears to be blocked. Configure residential proxies with PROXY_LIST and supply a cookies file via YTDLP_COOKIES."
		}
		return "Every configured proxy was blocked. Rotate the cookies file or refresh the proxies in PROXY_LIST."
	case KindContentUnavailable:
		return "The video is private, removed or region restricted."
	case KindFormatUnavailable:
		return "No stream matched the requested quality; try a lower quality."
	case KindToolingFailure:
		return "Check that yt-dlp is installed and up to date; run the diagnose command for details."
	default:
		return ""
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
