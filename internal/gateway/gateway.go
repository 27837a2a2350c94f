package gateway

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"depverify/internal/errors"
	"depverify/internal/evidence"
	"depverify/internal/slogutil"
)

// Outcome labels recorded for every adapter call.
const (
	OutcomeOK          = "ok"
	OutcomeNegative    = "negative"
	OutcomeUnavailable = string(FailureUnavailable)
	OutcomeTimeout     = string(FailureTimeout)
	OutcomeRejected    = string(FailureRejected)
	OutcomeCancelled   = "cancelled"
)

// Recorder receives one observation per adapter call.
type Recorder interface {
	ObserveAdapterCall(adapter, outcome string, d time.Duration)
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger. Nil means discard.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = slogutil.OrDiscard(logger) }
}

// WithRecorder installs a call recorder.
func WithRecorder(r Recorder) Option {
	return func(g *Gateway) { g.recorder = r }
}

// WithTracer overrides the tracer used for call spans.
func WithTracer(t trace.Tracer) Option {
	return func(g *Gateway) { g.tracer = t }
}

// Gateway executes allowlisted adapters under the timeout policy and
// normalizes whatever they return. It is safe for concurrent use; its
// configuration never changes after New returns.
type Gateway struct {
	policy   Policy
	adapters map[string]Adapter
	limiter  *limiter
	logger   *slog.Logger
	recorder Recorder
	tracer   trace.Tracer
}

// New validates policy against the given adapters and returns a Gateway.
// Any problem is a ConfigurationError and nothing is partially applied.
func New(policy Policy, adapters []Adapter, opts ...Option) (*Gateway, error) {
	registered := make(map[string]bool, len(adapters))
	byID := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		if a == nil {
			return nil, errors.New(errors.ConfigurationError, "nil adapter registered", nil)
		}
		id := a.ID()
		if id == "" {
			return nil, errors.New(errors.ConfigurationError, "adapter registered without an id", nil)
		}
		if registered[id] {
			return nil, errors.Newf(errors.ConfigurationError, "adapter %q registered more than once", id)
		}
		if !a.Capability().Valid() {
			return nil, errors.Newf(errors.ConfigurationError, "adapter %q has unknown capability %q", id, a.Capability())
		}
		registered[id] = true
		byID[id] = a
	}

	if err := policy.Validate(registered); err != nil {
		return nil, err
	}

	policy = policy.clone()
	allowed := make(map[string]Adapter, len(policy.Allowlist))
	for _, id := range policy.Allowlist {
		allowed[id] = byID[id]
	}

	g := &Gateway{
		policy:   policy,
		adapters: allowed,
		limiter:  newLimiter(policy, policy.Allowlist),
		logger:   slogutil.NewDiscardLogger(),
		tracer:   otel.Tracer("depverify/gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Sources returns the allowlisted adapter ids in allowlist order.
func (g *Gateway) Sources() []string {
	return append([]string(nil), g.policy.Allowlist...)
}

// Capability returns the capability of an allowlisted adapter.
func (g *Gateway) Capability(id string) (Capability, bool) {
	a, ok := g.adapters[id]
	if !ok {
		return "", false
	}
	return a.Capability(), true
}

// Policy returns a copy of the gateway policy.
func (g *Gateway) Policy() Policy {
	return g.policy.clone()
}

type invokeOutcome struct {
	obs []Observation
	err error
}

// Collect runs one adapter for a claim.
//
// On success the Result carries normalized evidence, which may be empty or
// negative. Adapter problems are returned as *Failure together with a
// Result whose Contribution records the failure. If ctx itself ends, the
// error is a Cancelled *errors.Error.
func (g *Gateway) Collect(ctx context.Context, id string, req Request) (Result, error) {
	started := time.Now()

	a, ok := g.adapters[id]
	if !ok {
		f := NewFailure(FailureRejected, id, "adapter is not allowlisted", nil)
		return g.fail(id, "", req.Attempt, started, f)
	}
	capability := a.Capability()

	ctx, span := g.tracer.Start(ctx, "gateway.collect", trace.WithAttributes(
		attribute.String("adapter", id),
		attribute.String("capability", string(capability)),
		attribute.String("claim", req.Claim.Key()),
		attribute.Int("attempt", req.Attempt),
	))
	defer span.End()

	if err := g.limiter.Acquire(ctx, id); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return g.cancelled(id, capability, req.Attempt, started, err)
	}

	timeout := g.policy.GetTimeout(id)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The slot is held until Invoke returns, even after the call is
	// abandoned on timeout.
	done := make(chan invokeOutcome, 1)
	go func() {
		defer g.limiter.Release(id)
		defer func() {
			if r := recover(); r != nil {
				done <- invokeOutcome{err: Unavailable(fmt.Sprintf("adapter panicked: %v", r), nil)}
			}
		}()
		obs, err := a.Invoke(callCtx, req)
		done <- invokeOutcome{obs: obs, err: err}
	}()

	var out invokeOutcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		out = invokeOutcome{err: callCtx.Err()}
	}

	if out.err != nil {
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "cancelled")
			return g.cancelled(id, capability, req.Attempt, started, ctx.Err())
		}
		f := g.classify(id, timeout, out.err, callCtx.Err() != nil)
		span.SetStatus(codes.Error, string(f.Kind))
		return g.fail(id, capability, req.Attempt, started, f)
	}

	items, dropped := normalize(id, capability, out.obs)
	res := Result{Evidence: items, Contribution: contributionFor(id, capability, req.Attempt, started)}
	res.Contribution.ItemCount = len(items)
	res.Contribution.Dropped = dropped

	outcome := OutcomeOK
	if evidence.CountPositive(items) == 0 {
		outcome = OutcomeNegative
	}
	span.SetAttributes(attribute.Int("items", len(items)))
	g.record(id, outcome, started)

	g.logger.Debug("Adapter call completed",
		"adapter", id,
		"claim", req.Claim.Key(),
		"items", len(items),
		"dropped", dropped,
		"duration", time.Since(started),
	)
	for _, e := range items {
		if e.Snippet != "" {
			g.logger.Debug("Evidence collected", "adapter", id, "locator", e.Locator, "snippet", e.Snippet)
		}
	}
	return res, nil
}

// classify maps an adapter error onto a Failure.
func (g *Gateway) classify(id string, timeout time.Duration, err error, expired bool) *Failure {
	var f *Failure
	if stderrors.As(err, &f) {
		f = NewFailure(f.Kind, id, f.Message, f.cause)
		if f.Kind == "" {
			f.Kind = FailureUnavailable
		}
		return f
	}
	if expired || stderrors.Is(err, context.DeadlineExceeded) {
		return NewFailure(FailureTimeout, id, fmt.Sprintf("no response within %s", timeout), nil)
	}
	return NewFailure(FailureUnavailable, id, "adapter call failed", err)
}

func (g *Gateway) fail(id string, capability Capability, attempt int, started time.Time, f *Failure) (Result, error) {
	res := Result{Contribution: contributionFor(id, capability, attempt, started)}
	res.Contribution.Failure = f
	g.record(id, string(f.Kind), started)
	g.logger.Warn("Adapter call failed",
		"adapter", id,
		"kind", f.Kind,
		"error", f.Error(),
	)
	return res, f
}

func (g *Gateway) cancelled(id string, capability Capability, attempt int, started time.Time, cause error) (Result, error) {
	g.record(id, OutcomeCancelled, started)
	res := Result{Contribution: contributionFor(id, capability, attempt, started)}
	return res, errors.New(errors.Cancelled, fmt.Sprintf("collection from %s cancelled", id), cause)
}

func (g *Gateway) record(id, outcome string, started time.Time) {
	if g.recorder != nil {
		g.recorder.ObserveAdapterCall(id, outcome, time.Since(started))
	}
}
