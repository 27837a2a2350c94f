package verify

import (
	stderrors "errors"
	"time"

	"depverify/internal/errors"
	"depverify/internal/evidence"
	"depverify/internal/gateway"
	"depverify/internal/graph"
	"depverify/internal/scoring"
)

// ClaimResult is the scored outcome of one candidate claim. Rejected
// results are kept so they can be reviewed.
type ClaimResult struct {
	Claim         evidence.Claim         `json:"claim"`
	Status        Status                 `json:"status"`
	Evidence      []evidence.Evidence    `json:"evidence"`
	Confidence    float64                `json:"confidence"`
	Confirmed     bool                   `json:"confirmed"`
	Contributions []scoring.Contribution `json:"scoreContributions,omitempty"`
	Calls         []gateway.Contribution `json:"calls,omitempty"`
	Failures      []*gateway.Failure     `json:"failures,omitempty"`
	Attempts      int                    `json:"attempts"`
	Reason        string                 `json:"reason,omitempty"`
	Error         *errors.Error          `json:"error,omitempty"`
	Transitions   []State                `json:"transitions"`
	StartedAt     time.Time              `json:"startedAt"`
	CompletedAt   *time.Time             `json:"completedAt,omitempty"`
}

func newClaimResult(c evidence.Claim) *ClaimResult {
	return &ClaimResult{
		Claim:     c,
		Status:    StatusCancelled,
		Evidence:  []evidence.Evidence{},
		StartedAt: time.Now().UTC(),
	}
}

// IsTerminal reports whether the claim finished verification.
func (r *ClaimResult) IsTerminal() bool {
	return r.Status == StatusConfirmed || r.Status == StatusRejected || r.Status == StatusFailed
}

// fail marks the claim Failed with err as the recorded cause.
func (r *ClaimResult) fail(err error) {
	var e *errors.Error
	if !stderrors.As(err, &e) {
		e = errors.New(errors.InternalError, err.Error(), err)
	}
	r.Status = StatusFailed
	r.Error = e
	r.Reason = string(e.Code) + ": " + e.Message
	if r.CompletedAt == nil {
		r.markCompleted()
	}
}

// EligibleForEdge reports whether the claim may produce a graph edge.
func (r *ClaimResult) EligibleForEdge() bool {
	return r.Status == StatusConfirmed && len(r.Evidence) > 0
}

func (r *ClaimResult) markCompleted() {
	now := time.Now().UTC()
	r.CompletedAt = &now
}

// Duration returns how long the claim took (or has been running).
func (r *ClaimResult) Duration() time.Duration {
	end := time.Now().UTC()
	if r.CompletedAt != nil {
		end = *r.CompletedAt
	}
	return end.Sub(r.StartedAt)
}

// Summary counts claims by status.
type Summary struct {
	Total     int `json:"total"`
	Confirmed int `json:"confirmed"`
	Rejected  int `json:"rejected"`
	Cancelled int `json:"cancelled"`
	Failed    int `json:"failed"`
	Edges     int `json:"edges"`
	Nodes     int `json:"nodes"`
}

// Report is the outcome of one verification run.
type Report struct {
	RunID     string         `json:"runId"`
	StartedAt time.Time      `json:"startedAt"`
	Duration  time.Duration  `json:"duration"`
	Partial   bool           `json:"partial"`
	Graph     *graph.Graph   `json:"graph"`
	Claims    []*ClaimResult `json:"claims"`
}

// Summary counts the report's claims by status.
func (r *Report) Summary() Summary {
	s := Summary{Total: len(r.Claims)}
	for _, c := range r.Claims {
		switch c.Status {
		case StatusConfirmed:
			s.Confirmed++
		case StatusRejected:
			s.Rejected++
		case StatusFailed:
			s.Failed++
		default:
			s.Cancelled++
		}
	}
	if r.Graph != nil {
		s.Nodes = len(r.Graph.Nodes)
		s.Edges = len(r.Graph.Edges)
	}
	return s
}
