package verify

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"depverify/internal/errors"
	"depverify/internal/evidence"
	"depverify/internal/gateway"
	"depverify/internal/scoring"
	"depverify/internal/slogutil"
)

// Collector runs one evidence source for a claim. *gateway.Gateway
// implements it.
type Collector interface {
	Collect(ctx context.Context, id string, req gateway.Request) (gateway.Result, error)
	Sources() []string
}

// Recorder receives one observation per finished claim.
type Recorder interface {
	ObserveClaim(status string)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Nil means discard.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = slogutil.OrDiscard(logger) }
}

// WithScorer replaces the rule scorer built from Settings.Threshold.
func WithScorer(s scoring.Scorer) Option {
	return func(o *Orchestrator) { o.scorer = s }
}

// WithRecorder installs a claim recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithTracer overrides the tracer used for claim spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// Orchestrator verifies claims one source at a time in a fixed order.
type Orchestrator struct {
	collector Collector
	settings  Settings
	sources   []string
	scorer    scoring.Scorer
	logger    *slog.Logger
	recorder  Recorder
	tracer    trace.Tracer
}

// NewOrchestrator validates settings against the collector's sources.
func NewOrchestrator(c Collector, settings Settings, opts ...Option) (*Orchestrator, error) {
	if c == nil {
		return nil, errors.New(errors.ConfigurationError, "no evidence collector configured", nil)
	}
	settings = settings.withDefaults()
	available := c.Sources()
	if err := settings.Validate(available); err != nil {
		return nil, err
	}

	sources := settings.Sources
	if len(sources) == 0 {
		sources = append([]string(nil), available...)
	}

	o := &Orchestrator{
		collector: c,
		settings:  settings,
		sources:   sources,
		scorer:    scoring.New(settings.Threshold),
		logger:    slogutil.NewDiscardLogger(),
		tracer:    otel.Tracer("depverify/verify"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Settings returns the effective settings.
func (o *Orchestrator) Settings() Settings {
	s := o.settings
	s.Sources = append([]string(nil), o.sources...)
	return s
}

// Verify runs one claim to a terminal state.
//
// The error is non-nil only when the claim can not be finished: an
// evidence invariant violation, which leaves the result StatusFailed, or
// cancellation of ctx, which leaves it StatusCancelled.
func (o *Orchestrator) Verify(ctx context.Context, claim evidence.Claim) (*ClaimResult, error) {
	ctx, span := o.tracer.Start(ctx, "verify.claim", trace.WithAttributes(
		attribute.String("claim", claim.Key()),
	))
	defer span.End()

	res := newClaimResult(claim)
	m := &machine{}
	defer func() { res.Transitions = m.history }()

	if err := m.advance(StatePending); err != nil {
		return res, err
	}

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		if err := m.advance(StateCollecting); err != nil {
			return res, err
		}

		led, failures, err := o.collect(ctx, claim, attempt, res)
		res.Failures = append(res.Failures, failures...)
		if err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return res, err
		}

		if err := m.advance(StateScoring); err != nil {
			return res, err
		}
		items := led.freeze()
		score := o.scorer.Score(items)
		res.Evidence = items
		res.Confidence = score.Confidence
		res.Confirmed = score.Confirmed
		res.Contributions = score.Contributions

		switch {
		case score.Confirmed && len(items) == 0:
			span.SetStatus(codes.Error, "invariant violation")
			err := errors.New(errors.EvidenceInvariantViolation,
				fmt.Sprintf("claim %q confirmed without evidence", claim.Key()), nil).
				WithDetails(map[string]interface{}{"claim": claim.Key(), "confidence": score.Confidence})
			res.fail(err)
			o.observe(res)
			return res, err

		case score.Confirmed:
			if err := m.advance(StateConfirmed); err != nil {
				return res, err
			}
			res.Status = StatusConfirmed

		case len(items) == 0 && anyRetryable(failures):
			if err := m.advance(StateNeedsRetry); err != nil {
				return res, err
			}
			if attempt < o.settings.MaxAttempts {
				o.logger.Debug("Claim needs retry",
					"claim", claim.Key(),
					"attempt", attempt,
					"failures", len(failures),
				)
				if err := sleepCtx(ctx, o.settings.RetryBackoff); err != nil {
					span.SetStatus(codes.Error, "cancelled")
					return res, errors.New(errors.Cancelled, "verification cancelled during retry backoff", err)
				}
				continue
			}
			if err := m.advance(StateRejected); err != nil {
				return res, err
			}
			res.Status = StatusRejected
			res.Reason = fmt.Sprintf("no evidence after %d attempts: %s", attempt, describeFailures(failures))

		default:
			if err := m.advance(StateRejected); err != nil {
				return res, err
			}
			res.Status = StatusRejected
			res.Reason = rejectionReason(items, score, o.threshold())
		}

		if err := m.advance(StateTerminal); err != nil {
			return res, err
		}
		res.markCompleted()
		span.SetAttributes(
			attribute.String("status", string(res.Status)),
			attribute.Float64("confidence", res.Confidence),
			attribute.Int("attempts", res.Attempts),
		)
		o.logger.Info("Claim verified",
			"claim", claim.Key(),
			"status", res.Status,
			"confidence", res.Confidence,
			"evidence", len(res.Evidence),
			"attempts", res.Attempts,
		)
		o.observe(res)
		return res, nil
	}
}

func (o *Orchestrator) observe(res *ClaimResult) {
	if o.recorder != nil {
		o.recorder.ObserveClaim(string(res.Status))
	}
}

// collect runs every source once for one attempt.
func (o *Orchestrator) collect(ctx context.Context, claim evidence.Claim, attempt int, res *ClaimResult) (*ledger, []*gateway.Failure, error) {
	led := newLedger(claim.Evidence)
	var failures []*gateway.Failure

	for _, id := range o.sources {
		if err := ctx.Err(); err != nil {
			return led, failures, errors.New(errors.Cancelled, "verification cancelled", err)
		}

		r, err := o.collector.Collect(ctx, id, gateway.Request{Claim: claim, Attempt: attempt})
		res.Calls = append(res.Calls, r.Contribution)
		if err != nil {
			var f *gateway.Failure
			if stderrors.As(err, &f) {
				failures = append(failures, f)
				continue
			}
			if errors.HasCode(err, errors.Cancelled) {
				return led, failures, err
			}
			failures = append(failures, gateway.NewFailure(gateway.FailureUnavailable, id, "collector error", err))
			continue
		}

		if err := led.append(r.Evidence...); err != nil {
			res.fail(err)
			return led, failures, err
		}
		if o.settings.StopWhenConfirmed && led.len() > 0 && o.scorer.Score(led.snapshot()).Confirmed {
			break
		}
	}
	return led, failures, nil
}

func (o *Orchestrator) threshold() float64 {
	if rs, ok := o.scorer.(*scoring.RuleScorer); ok && rs.Threshold > 0 {
		return rs.Threshold
	}
	return o.settings.Threshold
}

func anyRetryable(failures []*gateway.Failure) bool {
	for _, f := range failures {
		if f.Retryable() {
			return true
		}
	}
	return false
}

func describeFailures(failures []*gateway.Failure) string {
	if len(failures) == 0 {
		return "no failures recorded"
	}
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, fmt.Sprintf("%s %s", f.Adapter, f.Kind))
	}
	return strings.Join(parts, ", ")
}

func rejectionReason(items []evidence.Evidence, score scoring.Result, threshold float64) string {
	switch {
	case len(items) == 0:
		return "no evidence collected"
	case evidence.CountPositive(items) == 0:
		return "only negative evidence collected"
	default:
		return fmt.Sprintf("confidence %.2f below threshold %.2f", score.Confidence, threshold)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
