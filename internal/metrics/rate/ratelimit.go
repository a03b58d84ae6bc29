package rate

import (
	"net/http"
	"strings"

	"cvdflow/logger"
)

// ReportRateLimitExceeded increments the rate limit exceeded counter for the
// given API call and emits the metric to CloudWatch.
func ReportRateLimitExceeded(log *logger.Log, api, instrument string) {
	component := "upstox_" + strings.ToLower(api)
	l := log.WithComponent(component)
	fields := logger.Fields{
		"api":        strings.ToLower(api),
		"instrument": instrument,
	}
	l.LogMetric(component, "rate_limit_exceeded", int64(1), "counter", fields)
	l.WithFields(fields).Warn("rate limit exceeded")
}

// detectLimit reports whether an Upstox error body signals throttling. Upstox
// answers 429 with error code UDAPI10005 and "Too Many Request Sent".
func detectLimit(msg string) bool {
	lowerMsg := strings.ToLower(msg)
	return strings.Contains(lowerMsg, "udapi10005") ||
		strings.Contains(lowerMsg, "too many request") ||
		strings.Contains(lowerMsg, "rate limit")
}

// ReportFromResponse records a rate limit event when status or body show the
// call was throttled. It returns true when an event was recorded.
func ReportFromResponse(log *logger.Log, api, instrument string, status int, body string) bool {
	if status != http.StatusTooManyRequests && !detectLimit(body) {
		return false
	}
	ReportRateLimitExceeded(log, api, instrument)
	return true
}
