// Package ingest is the gated path for every outbound fetch. It wires the
// scheduler, health monitor, circuit breaker and identity manager around a
// single HTTP call and persists the consequences in one atomic record update.
//
// A refused or failed fetch is not an error here. Callers receive errors only
// for contract violations and storage failures; everything the remote side
// does to us is a classified outcome that feeds the next scheduling decision.
package ingest

import "errors"

// Sentinel errors for ingest operations.
var (
	// ErrEmptySourceID indicates a caller passed a blank source identifier.
	ErrEmptySourceID = errors.New("source id must not be empty")

	// ErrEmptyURL indicates a caller passed a blank target URL.
	ErrEmptyURL = errors.New("url must not be empty")
)
