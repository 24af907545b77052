package ingest

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"calmfetch/internal/domain/entity"
)

const (
	// slowResponseThreshold marks a response as probable tarpitting: the
	// server answered, but so slowly that it is telling us to go away.
	slowResponseThreshold = 15 * time.Second

	// minBodyLength below which a 2xx body is treated as broken output.
	minBodyLength = 100

	// jsMarkerWindow and challengeMarkerWindow bound the body sizes in which
	// marker matching applies. Real articles mentioning "captcha" are long;
	// challenge pages are short.
	jsMarkerWindow        = 2000
	challengeMarkerWindow = 5000
)

var jsRequiredMarkers = []string{
	"need to enable javascript",
	"javascript is required",
	"enable js to continue",
	"requires javascript",
}

var challengeMarkers = []string{
	"captcha",
	"please verify you are a human",
	"access denied",
	"security check",
	"cloudflare-ray",
}

// classifyResponse maps a raw HTTP response to a fetch outcome. The
// heuristics are conservative: anything that smells like a challenge page or
// throttling is a block to back away from, never something to retry or
// work around.
func classifyResponse(statusCode int, body []byte, elapsed time.Duration) entity.FetchOutcome {
	if elapsed > slowResponseThreshold {
		return entity.OutcomeSoftBlock
	}

	switch {
	case statusCode == http.StatusForbidden, statusCode == http.StatusNotAcceptable:
		return entity.OutcomeHardBlock
	case statusCode == http.StatusTooManyRequests:
		return entity.OutcomeSoftBlock
	case statusCode >= 500:
		return entity.OutcomeTransientError
	case statusCode == http.StatusNotModified:
		// Validators matched: a success with no body.
		return entity.OutcomeSuccess
	}

	if len(body) < minBodyLength {
		return entity.OutcomeTransientError
	}

	text := strings.ToLower(string(body))

	if len(body) < jsMarkerWindow {
		for _, marker := range jsRequiredMarkers {
			if strings.Contains(text, marker) {
				return entity.OutcomeSoftBlock
			}
		}
	}

	if statusCode == http.StatusOK && len(body) < challengeMarkerWindow {
		for _, marker := range challengeMarkers {
			if strings.Contains(text, marker) {
				return entity.OutcomeSoftBlock
			}
		}
	}

	return entity.OutcomeSuccess
}

// retryAfterDelay parses a Retry-After header value, either delta-seconds or
// an HTTP date. The boolean is false when the header is absent or malformed.
func retryAfterDelay(value string, now time.Time) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
	}
	return 0, false
}
