package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"depverify/internal/errors"
	"depverify/internal/evidence"
	"depverify/internal/graph"
)

type claimOutcome struct {
	index  int
	result *ClaimResult
	err    error
}

// RunVerification verifies every candidate against the collector's
// sources and returns the resulting report. See Orchestrator.Run.
func RunVerification(ctx context.Context, candidates []evidence.Claim, c Collector, settings Settings, opts ...Option) (*Report, error) {
	o, err := NewOrchestrator(c, settings, opts...)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, candidates)
}

// Run verifies claims concurrently, bounded by Settings.Workers, and folds
// confirmed claims into a graph from a single goroutine. Claim order in
// the report matches the input.
//
// A structural error (EvidenceInvariantViolation, AttributeConflict,
// GraphInvalid) fails only the claim it belongs to: the claim gets
// StatusFailed, its edge is left out, and the other claims carry on. The
// report is then returned together with an error listing the failed
// claims. If ctx is cancelled the report is returned with Partial set,
// holding only claims that reached a terminal state, together with a
// Cancelled error.
func (o *Orchestrator) Run(ctx context.Context, claims []evidence.Claim) (*Report, error) {
	report := &Report{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Claims:    make([]*ClaimResult, len(claims)),
	}

	ctx, span := o.tracer.Start(ctx, "verify.run", trace.WithAttributes(
		attribute.String("run_id", report.RunID),
		attribute.Int("claims", len(claims)),
	))
	defer span.End()

	o.logger.Info("Verification started",
		"run_id", report.RunID,
		"claims", len(claims),
		"sources", o.sources,
	)

	builder := graph.NewBuilder(graph.WithScorer(o.scorer))
	outcomes := make(chan claimOutcome, len(claims))

	folded := make(chan struct{})
	go func() {
		defer close(folded)
		for out := range outcomes {
			report.Claims[out.index] = out.result
			if out.err != nil || !out.result.EligibleForEdge() {
				continue
			}
			// AddClaim leaves the builder unchanged on error.
			if err := builder.AddClaim(out.result.Claim, out.result.Evidence); err != nil {
				out.result.fail(err)
				o.logger.Error("Claim not added to graph",
					"run_id", report.RunID,
					"claim", out.result.Claim.Key(),
					"error", err.Error(),
				)
			}
		}
	}()

	g := new(errgroup.Group)
	g.SetLimit(o.settings.Workers)
	for i := range claims {
		if ctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			res, err := o.Verify(ctx, claims[i])
			if err != nil && !errors.HasCode(err, errors.Cancelled) && res.Status != StatusFailed {
				res.fail(err)
			}
			if res.Status == StatusFailed {
				o.logger.Error("Claim failed",
					"run_id", report.RunID,
					"claim", claims[i].Key(),
					"error", res.Reason,
				)
			}
			outcomes <- claimOutcome{index: i, result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()
	close(outcomes)
	<-folded

	for i, c := range report.Claims {
		if c == nil {
			report.Claims[i] = newClaimResult(claims[i])
		}
	}
	report.Duration = time.Since(report.StartedAt)
	report.Graph = builder.Graph()
	summary := report.Summary()

	if err := ctx.Err(); err != nil {
		report.Partial = true
		span.SetStatus(codes.Error, "cancelled")
		o.logger.Warn("Verification cancelled",
			"run_id", report.RunID,
			"completed", summary.Confirmed+summary.Rejected+summary.Failed,
			"cancelled", summary.Cancelled,
		)
		return report, errors.New(errors.Cancelled, "verification cancelled", err)
	}

	span.SetAttributes(
		attribute.Int("confirmed", summary.Confirmed),
		attribute.Int("rejected", summary.Rejected),
		attribute.Int("failed", summary.Failed),
		attribute.Int("edges", summary.Edges),
	)
	o.logger.Info("Verification completed",
		"run_id", report.RunID,
		"confirmed", summary.Confirmed,
		"rejected", summary.Rejected,
		"failed", summary.Failed,
		"nodes", summary.Nodes,
		"edges", summary.Edges,
		"duration", report.Duration,
	)

	if err := failedClaimsError(report.Claims); err != nil {
		span.SetStatus(codes.Error, string(err.Code))
		return report, err
	}
	return report, nil
}

// FailedClaim is one entry of the error returned for a run with failed
// claims.
type FailedClaim struct {
	Index   int              `json:"index"`
	Claim   string           `json:"claim"`
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

// failedClaimsError aggregates the failed claims in input order. The code
// is that of the first failure.
func failedClaimsError(results []*ClaimResult) *errors.Error {
	var failed []FailedClaim
	for i, r := range results {
		if r.Status != StatusFailed || r.Error == nil {
			continue
		}
		failed = append(failed, FailedClaim{
			Index:   i,
			Claim:   r.Claim.Key(),
			Code:    r.Error.Code,
			Message: r.Error.Message,
		})
	}
	if len(failed) == 0 {
		return nil
	}
	return errors.New(failed[0].Code,
		fmt.Sprintf("%d claim(s) failed: %s", len(failed), failed[0].Message), nil).
		WithDetails(map[string]interface{}{"failedClaims": failed})
}

// MergeGraphs folds graphs from independent runs into one.
func MergeGraphs(graphs []*graph.Graph) (*graph.Graph, error) {
	return graph.Merge(graphs)
}
