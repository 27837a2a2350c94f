package gateway

import (
	"time"

	"depverify/internal/evidence"
)

// Result is the normalized outcome of one successful adapter call.
type Result struct {
	// Evidence is what the call contributed, already normalized.
	Evidence []evidence.Evidence

	// Contribution describes the call itself.
	Contribution Contribution
}

// Contribution tracks one adapter call made for a claim.
type Contribution struct {
	// Adapter identifies the adapter
	Adapter string `json:"adapter"`

	// Capability is the capability that was exercised
	Capability Capability `json:"capability"`

	// Attempt is the orchestrator attempt the call belonged to
	Attempt int `json:"attempt"`

	// ItemCount is how many evidence items the call contributed
	ItemCount int `json:"itemCount"`

	// Dropped is how many observations were discarded during normalization
	Dropped int `json:"dropped,omitempty"`

	// DurationMs is how long the call took
	DurationMs int64 `json:"durationMs"`

	// Failure is set when the call failed
	Failure *Failure `json:"failure,omitempty"`
}

func contributionFor(id string, capability Capability, attempt int, started time.Time) Contribution {
	return Contribution{
		Adapter:    id,
		Capability: capability,
		Attempt:    attempt,
		DurationMs: time.Since(started).Milliseconds(),
	}
}
