package llmcap

import (
	"errors"
	"strconv"
	"strings"

	rlmerrors "github.com/recursivelm/rlm/pkg/errors"
)

// Classify examines a raw backend error and returns an *rlmerrors.AppError
// with a Kind drawn from the error-kind taxonomy (§7). If err is
// already classified, it is returned as-is. Otherwise the error string
// is pattern-matched, the same string-classification strategy the
// teacher's ClassifyError uses for its own provider errors.
func Classify(err error, provider, model string) *rlmerrors.AppError {
	if err == nil {
		return nil
	}

	var appErr *rlmerrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "context canceled") || strings.Contains(errStr, "context deadline exceeded") {
		return &rlmerrors.AppError{Kind: rlmerrors.KindCancelled, Message: "request cancelled", Provider: provider, Model: model, Err: err}
	}

	authPatterns := []string{"unauthorized", "invalid api key", "403", "authentication", "permission denied"}
	for _, p := range authPatterns {
		if strings.Contains(errStr, p) {
			return &rlmerrors.AppError{Kind: rlmerrors.KindAuth, Message: "authentication failed", StatusCode: extractStatusCode(errStr), Provider: provider, Model: model, Err: err}
		}
	}

	if strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "too many requests") {
		return &rlmerrors.AppError{Kind: rlmerrors.KindRateLimited, Message: "rate limited", StatusCode: 429, RetryAfter: extractRetryAfter(errStr), Provider: provider, Model: model, Err: err}
	}

	badReqPatterns := []string{"bad request", "invalid argument", "model not found", "400", "invalid_request"}
	for _, p := range badReqPatterns {
		if strings.Contains(errStr, p) {
			return &rlmerrors.AppError{Kind: rlmerrors.KindAuth, Message: "invalid request", StatusCode: extractStatusCode(errStr), Provider: provider, Model: model, Err: err}
		}
	}

	retryablePatterns := []string{
		"timeout", "deadline exceeded", "connection reset", "connection refused",
		"eof", "server error", "502", "503", "504", "529", "overloaded",
		"temporarily unavailable",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(errStr, p) {
			return &rlmerrors.AppError{Kind: rlmerrors.KindTransport, Message: "transient transport error", StatusCode: extractStatusCode(errStr), Provider: provider, Model: model, Err: err}
		}
	}

	// Unknown errors default to transient/retryable, matching the
	// teacher's isRetryableError default: conservative, but prevents a
	// single unfamiliar error string from becoming a fatal surprise.
	return &rlmerrors.AppError{Kind: rlmerrors.KindTransport, Message: "unclassified error, treated as transient", Provider: provider, Model: model, Err: err}
}

func extractStatusCode(errStr string) int {
	codes := []string{"400", "401", "403", "404", "429", "500", "502", "503", "504", "529"}
	for _, code := range codes {
		if strings.Contains(errStr, code) {
			n, _ := strconv.Atoi(code)
			return n
		}
	}
	return 0
}

// extractRetryAfter looks for a "retry-after: N" style hint in the
// error text; providers that surface this in a structured field
// should set AppError.RetryAfter directly instead of relying on this.
func extractRetryAfter(errStr string) float64 {
	idx := strings.Index(errStr, "retry-after")
	if idx < 0 {
		return 0
	}
	rest := errStr[idx+len("retry-after"):]
	rest = strings.TrimLeft(rest, ": ")
	var digits strings.Builder
	for _, r := range rest {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
			continue
		}
		break
	}
	if digits.Len() == 0 {
		return 0
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return float64(n)
}
