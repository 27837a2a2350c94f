package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	"depverify/internal/errors"
	"depverify/internal/gateway"
	"depverify/internal/verify"
)

// ErrorResponse is written to stderr for every failed command.
type ErrorResponse struct {
	Error *errors.Error `json:"error"`
}

// printError writes err as {"error": {...}}. Untyped errors come from
// flag and argument parsing.
func printError(w io.Writer, err error) {
	var (
		resp ErrorResponse
		e    *errors.Error
		f    *gateway.Failure
	)
	switch {
	case stderrors.As(err, &e):
		resp.Error = e
	case stderrors.As(err, &f):
		resp.Error = f.AsError()
	default:
		resp.Error = errors.New(errors.ConfigurationError, err.Error(), err)
	}
	data, mErr := json.MarshalIndent(resp, "", "  ")
	if mErr != nil {
		fmt.Fprintf(w, `{"error": {"code": %q, "message": %q}}`+"\n", errors.InternalError, err.Error())
		return
	}
	fmt.Fprintln(w, string(data))
}

// ClaimLine is one claim of a verify response.
type ClaimLine struct {
	Claim      string  `json:"claim"`
	Status     string  `json:"status"`
	Confidence float64 `json:"confidence"`
	Attempts   int     `json:"attempts"`
	Evidence   int     `json:"evidence"`
	Reason     string  `json:"reason,omitempty"`
}

// VerifyResponseCLI is the output of depverify verify.
type VerifyResponseCLI struct {
	RunID     string         `json:"runId"`
	Partial   bool           `json:"partial"`
	Duration  string         `json:"duration"`
	Summary   verify.Summary `json:"summary"`
	Claims    []ClaimLine    `json:"claims"`
	GraphPath string         `json:"graphPath,omitempty"`
	Saved     bool           `json:"saved"`
}

func newVerifyResponse(r *verify.Report) *VerifyResponseCLI {
	resp := &VerifyResponseCLI{
		RunID:    r.RunID,
		Partial:  r.Partial,
		Duration: r.Duration.Round(time.Millisecond).String(),
		Summary:  r.Summary(),
		Claims:   make([]ClaimLine, 0, len(r.Claims)),
	}
	for _, c := range r.Claims {
		resp.Claims = append(resp.Claims, ClaimLine{
			Claim:      c.Claim.String(),
			Status:     string(c.Status),
			Confidence: c.Confidence,
			Attempts:   c.Attempts,
			Evidence:   len(c.Evidence),
			Reason:     c.Reason,
		})
	}
	return resp
}

// MergeResponseCLI is the output of depverify merge.
type MergeResponseCLI struct {
	Inputs        []string `json:"inputs"`
	Output        string   `json:"output,omitempty"`
	Nodes         int      `json:"nodes"`
	Edges         int      `json:"edges"`
	SchemaVersion string   `json:"schemaVersion"`
	Fingerprint   string   `json:"fingerprint"`
}
