package entity

import "time"

// FetchOutcome is the classified result of one fetch attempt. A blocked or
// failed attempt is a normal, expected value - never an error - so callers
// cannot accidentally turn "the source said no" into a crash loop.
type FetchOutcome string

const (
	OutcomeSuccess FetchOutcome = "success"
	// OutcomeSoftBlock is a reversible, rate-limit-style refusal
	// (429, CAPTCHA, throttling): "slow down", not "stop".
	OutcomeSoftBlock FetchOutcome = "soft_block"
	// OutcomeHardBlock means the current identity/IP is burned
	// (403/406, persistent denial).
	OutcomeHardBlock FetchOutcome = "hard_block"
	// OutcomeTransientError covers network glitches, timeouts and 5xx.
	OutcomeTransientError FetchOutcome = "transient"
)

// IsBlock reports whether the outcome is any block variant.
func (o FetchOutcome) IsBlock() bool {
	return o == OutcomeSoftBlock || o == OutcomeHardBlock
}

// ErrorKind classifies failures for weighted health scoring. The ordering of
// severity (timeout < 5xx < 4xx < soft block < hard block) is encoded in the
// health monitor's penalty table, not here.
type ErrorKind string

const (
	ErrKindNetworkTimeout ErrorKind = "network_timeout"
	ErrKindServerError    ErrorKind = "http_5xx"
	ErrKindClientError    ErrorKind = "http_4xx"
	ErrKindSoftBlock      ErrorKind = "soft_block"
	ErrKindHardBlock      ErrorKind = "hard_block"
	ErrKindContentEmpty   ErrorKind = "content_empty"
	// ErrKindParseError is reserved for the downstream extraction layer;
	// the fetch core records it but never raises it.
	ErrKindParseError ErrorKind = "parse_error"
)

// ErrorKindFor maps a classified outcome to the kind used for health scoring.
func ErrorKindFor(outcome FetchOutcome) ErrorKind {
	switch outcome {
	case OutcomeSoftBlock:
		return ErrKindSoftBlock
	case OutcomeHardBlock:
		return ErrKindHardBlock
	case OutcomeTransientError:
		return ErrKindNetworkTimeout
	default:
		return ErrKindServerError
	}
}

// FetchResult is what the downstream extraction layer receives: raw bytes
// plus attempt metadata. It carries no health or circuit internals.
type FetchResult struct {
	Outcome    FetchOutcome
	Body       []byte
	StatusCode int

	// NotModified is set for 304 responses: a success with no body.
	NotModified bool

	ProxyUsed       bool
	DurationSeconds float64
	FetchedAt       time.Time
}
