package gateway

import (
	"fmt"
	"sort"
	"time"

	"depverify/internal/errors"
)

// BuiltinAdapterID is the one adapter allowed when no allowlist is given.
const BuiltinAdapterID = "fs-search"

const (
	// DefaultTimeout applies to adapters without an explicit timeout.
	DefaultTimeout = 5 * time.Second

	// DefaultMaxInFlight bounds concurrent calls to one adapter.
	DefaultMaxInFlight = 4
)

// Policy is the immutable allowlist and timeout policy of a Gateway.
type Policy struct {
	// Allowlist names the adapters permitted to execute. Empty means
	// only BuiltinAdapterID.
	Allowlist []string

	// DefaultTimeout applies when Timeouts has no entry for an adapter.
	DefaultTimeout time.Duration

	// Timeouts overrides the timeout per adapter id.
	Timeouts map[string]time.Duration

	// MaxInFlight limits concurrent calls per adapter id.
	MaxInFlight map[string]int
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		Allowlist:      []string{BuiltinAdapterID},
		DefaultTimeout: DefaultTimeout,
	}
}

// GetTimeout returns the timeout for an adapter.
func (p Policy) GetTimeout(id string) time.Duration {
	if d, ok := p.Timeouts[id]; ok {
		return d
	}
	if p.DefaultTimeout > 0 {
		return p.DefaultTimeout
	}
	return DefaultTimeout
}

// GetMaxInFlight returns the in-flight limit for an adapter.
func (p Policy) GetMaxInFlight(id string) int {
	if n, ok := p.MaxInFlight[id]; ok {
		return n
	}
	return DefaultMaxInFlight
}

// Allowed reports whether id is on the allowlist.
func (p Policy) Allowed(id string) bool {
	for _, a := range p.effectiveAllowlist() {
		if a == id {
			return true
		}
	}
	return false
}

func (p Policy) effectiveAllowlist() []string {
	if len(p.Allowlist) == 0 {
		return []string{BuiltinAdapterID}
	}
	return p.Allowlist
}

// clone deep-copies the policy so later caller mutations cannot leak in.
func (p Policy) clone() Policy {
	out := Policy{
		Allowlist:      append([]string(nil), p.effectiveAllowlist()...),
		DefaultTimeout: p.DefaultTimeout,
	}
	if out.DefaultTimeout == 0 {
		out.DefaultTimeout = DefaultTimeout
	}
	if len(p.Timeouts) > 0 {
		out.Timeouts = make(map[string]time.Duration, len(p.Timeouts))
		for k, v := range p.Timeouts {
			out.Timeouts[k] = v
		}
	}
	if len(p.MaxInFlight) > 0 {
		out.MaxInFlight = make(map[string]int, len(p.MaxInFlight))
		for k, v := range p.MaxInFlight {
			out.MaxInFlight[k] = v
		}
	}
	return out
}

// Validate checks the policy against the registered adapter ids.
// Every problem is reported together as one ConfigurationError.
func (p Policy) Validate(registered map[string]bool) error {
	var problems []string

	seen := make(map[string]bool)
	for _, id := range p.effectiveAllowlist() {
		switch {
		case id == "":
			problems = append(problems, "allowlist contains an empty adapter id")
		case seen[id]:
			problems = append(problems, fmt.Sprintf("allowlist contains %q more than once", id))
		case !registered[id]:
			problems = append(problems, fmt.Sprintf("unknown adapter id %q", id))
		}
		seen[id] = true
	}

	if p.DefaultTimeout < 0 {
		problems = append(problems, fmt.Sprintf("default timeout must be positive, got %s", p.DefaultTimeout))
	}
	for _, id := range sortedKeys(p.Timeouts) {
		if !registered[id] {
			problems = append(problems, fmt.Sprintf("timeout set for unknown adapter id %q", id))
		}
		if d := p.Timeouts[id]; d <= 0 {
			problems = append(problems, fmt.Sprintf("timeout for %q must be positive, got %s", id, d))
		}
	}
	for _, id := range sortedKeys(p.MaxInFlight) {
		if !registered[id] {
			problems = append(problems, fmt.Sprintf("max in-flight set for unknown adapter id %q", id))
		}
		if n := p.MaxInFlight[id]; n <= 0 {
			problems = append(problems, fmt.Sprintf("max in-flight for %q must be positive, got %d", id, n))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New(errors.ConfigurationError, "invalid adapter policy", nil).
		WithDetails(map[string]interface{}{"problems": problems})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
