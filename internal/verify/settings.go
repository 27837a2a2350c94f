package verify

import (
	"fmt"
	"time"

	"depverify/internal/errors"
	"depverify/internal/scoring"
)

const (
	// DefaultMaxAttempts bounds collection attempts per claim.
	DefaultMaxAttempts = 3

	// DefaultWorkers is the number of claims verified concurrently.
	DefaultWorkers = 4
)

// Settings is the immutable verification configuration.
type Settings struct {
	// Sources is the collection order. Empty means every allowlisted adapter
	// in allowlist order.
	Sources []string

	// Threshold is the confirmation threshold.
	Threshold float64

	// MaxAttempts bounds NeedsRetry cycles per claim.
	MaxAttempts int

	// RetryBackoff is waited between attempts.
	RetryBackoff time.Duration

	// StopWhenConfirmed ends collection early once the running score is
	// confirmed. By default every source is consulted.
	StopWhenConfirmed bool

	// Workers bounds how many claims are verified at once.
	Workers int
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Threshold:   scoring.DefaultThreshold,
		MaxAttempts: DefaultMaxAttempts,
		Workers:     DefaultWorkers,
	}
}

// withDefaults fills zero values.
func (s Settings) withDefaults() Settings {
	if s.Threshold == 0 {
		s.Threshold = scoring.DefaultThreshold
	}
	if s.MaxAttempts == 0 {
		s.MaxAttempts = DefaultMaxAttempts
	}
	if s.Workers == 0 {
		s.Workers = DefaultWorkers
	}
	s.Sources = append([]string(nil), s.Sources...)
	return s
}

// Validate checks the settings against the sources a collector offers.
func (s Settings) Validate(available []string) error {
	var problems []string

	if s.Threshold < 0 || s.Threshold > 1 {
		problems = append(problems, fmt.Sprintf("threshold must be within (0,1], got %v", s.Threshold))
	}
	if s.MaxAttempts < 0 {
		problems = append(problems, fmt.Sprintf("max attempts must be positive, got %d", s.MaxAttempts))
	}
	if s.Workers < 0 {
		problems = append(problems, fmt.Sprintf("workers must be positive, got %d", s.Workers))
	}
	if s.RetryBackoff < 0 {
		problems = append(problems, fmt.Sprintf("retry backoff must not be negative, got %s", s.RetryBackoff))
	}

	known := make(map[string]bool, len(available))
	for _, id := range available {
		known[id] = true
	}
	seen := make(map[string]bool, len(s.Sources))
	for _, id := range s.Sources {
		switch {
		case !known[id]:
			problems = append(problems, fmt.Sprintf("source %q is not an allowlisted adapter", id))
		case seen[id]:
			problems = append(problems, fmt.Sprintf("source %q listed more than once", id))
		}
		seen[id] = true
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New(errors.ConfigurationError, "invalid verification settings", nil).
		WithDetails(map[string]interface{}{"problems": problems})
}
