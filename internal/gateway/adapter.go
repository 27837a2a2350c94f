// Package gateway is the sandboxed boundary between the verification
// pipeline and external evidence sources.
package gateway

import (
	"context"

	"depverify/internal/evidence"
)

// Capability is the closed set of things an adapter can do.
type Capability string

const (
	CapabilitySearch       Capability = "search"
	CapabilityIntrospect   Capability = "introspect"
	CapabilityDiffImpact   Capability = "diffImpact"
	CapabilityRuntimeTrace Capability = "runtimeTrace"
)

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	switch c {
	case CapabilitySearch, CapabilityIntrospect, CapabilityDiffImpact, CapabilityRuntimeTrace:
		return true
	}
	return false
}

// DefaultKind is the evidence kind assumed for observations that do not set one.
func (c Capability) DefaultKind() evidence.Kind {
	switch c {
	case CapabilityIntrospect:
		return evidence.KindConfig
	case CapabilityDiffImpact:
		return evidence.KindSpec
	case CapabilityRuntimeTrace:
		return evidence.KindRuntime
	default:
		return evidence.KindStatic
	}
}

// Request is what an adapter is asked to look for.
type Request struct {
	Claim   evidence.Claim
	Attempt int
}

// Observation is the raw result an adapter hands back. The gateway turns
// each one into an evidence.Evidence.
type Observation struct {
	Kind      evidence.Kind // empty means the capability default
	Locator   string
	Snippet   string
	Negative  bool
	Collision bool
}

// Adapter is an external evidence source.
//
// Invoke must honour ctx; the gateway abandons calls that overrun their
// timeout either way. A clean "nothing found" is a Negative observation,
// not an error. Errors should be *Failure values; anything else is
// treated as Unavailable.
type Adapter interface {
	ID() string
	Capability() Capability
	Invoke(ctx context.Context, req Request) ([]Observation, error)
}

// AdapterFunc adapts a function into an Adapter.
type AdapterFunc struct {
	Name string
	Cap  Capability
	Fn   func(ctx context.Context, req Request) ([]Observation, error)
}

func (a AdapterFunc) ID() string { return a.Name }

func (a AdapterFunc) Capability() Capability { return a.Cap }

func (a AdapterFunc) Invoke(ctx context.Context, req Request) ([]Observation, error) {
	return a.Fn(ctx, req)
}
