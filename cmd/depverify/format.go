package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"depverify/internal/errors"
	"depverify/internal/storage"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatHuman OutputFormat = "human"
)

// FormatResponse formats a response according to the specified format
func FormatResponse(resp interface{}, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(resp)
	case FormatHuman:
		return formatHuman(resp)
	default:
		return "", errors.Newf(errors.ConfigurationError, "unsupported format: %s", format)
	}
}

func formatJSON(resp interface{}) (string, error) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", errors.New(errors.InternalError, "failed to marshal JSON", err)
	}
	return string(data), nil
}

func formatHuman(resp interface{}) (string, error) {
	switch v := resp.(type) {
	case *VerifyResponseCLI:
		return formatVerifyHuman(v), nil
	case *MergeResponseCLI:
		return formatMergeHuman(v), nil
	case *RunsResponseCLI:
		return formatRunsHuman(v), nil
	case *storage.RunDetail:
		return formatRunDetailHuman(v), nil
	default:
		// For unknown types, fall back to JSON
		return formatJSON(resp)
	}
}

func formatVerifyHuman(r *VerifyResponseCLI) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run %s (%s)", r.RunID, r.Duration)
	if r.Partial {
		b.WriteString(" [partial]")
	}
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", 60) + "\n\n")

	for _, c := range r.Claims {
		fmt.Fprintf(&b, "  %-10s %.2f  %s\n", c.Status, c.Confidence, c.Claim)
		if c.Reason != "" {
			fmt.Fprintf(&b, "             %s\n", c.Reason)
		}
	}

	s := r.Summary
	fmt.Fprintf(&b, "\n%d claims: %d confirmed, %d rejected, %d cancelled, %d failed\n",
		s.Total, s.Confirmed, s.Rejected, s.Cancelled, s.Failed)
	fmt.Fprintf(&b, "Graph: %d nodes, %d edges\n", s.Nodes, s.Edges)
	if r.GraphPath != "" {
		fmt.Fprintf(&b, "Written to %s\n", r.GraphPath)
	}
	if r.Saved {
		b.WriteString("Saved to run database\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatMergeHuman(r *MergeResponseCLI) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Merged %d graph(s) into %s\n", len(r.Inputs), r.Output)
	fmt.Fprintf(&b, "  Nodes: %d\n", r.Nodes)
	fmt.Fprintf(&b, "  Edges: %d\n", r.Edges)
	fmt.Fprintf(&b, "  Schema: %s\n", r.SchemaVersion)
	fmt.Fprintf(&b, "  Fingerprint: %s", shortID(r.Fingerprint, 16))
	return b.String()
}

func formatRunsHuman(r *RunsResponseCLI) string {
	if len(r.Runs) == 0 {
		return "No runs stored in " + r.Database
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s  %-20s  %9s  %8s  %5s\n", "RUN", "STARTED", "CONFIRMED", "REJECTED", "EDGES")
	for _, run := range r.Runs {
		id := run.RunID
		if run.Partial {
			id += "*"
		}
		fmt.Fprintf(&b, "%-36s  %-20s  %9d  %8d  %5d\n",
			id, run.StartedAt.Local().Format(time.DateTime),
			run.Summary.Confirmed, run.Summary.Rejected, run.Summary.Edges)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatRunDetailHuman(d *storage.RunDetail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s\n", d.RunID)
	fmt.Fprintf(&b, "  Started:     %s\n", d.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(&b, "  Duration:    %s\n", d.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "  Partial:     %v\n", d.Partial)
	fmt.Fprintf(&b, "  Fingerprint: %s\n\n", shortID(d.Fingerprint, 16))

	for _, c := range d.Claims {
		fmt.Fprintf(&b, "  %-10s %.2f  %s\n", c.Status, c.Confidence, c.Claim)
		for _, e := range c.Evidence {
			fmt.Fprintf(&b, "             %s\n", e)
		}
		if c.Reason != "" {
			fmt.Fprintf(&b, "             %s\n", c.Reason)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func shortID(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
