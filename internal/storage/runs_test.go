package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"depverify/internal/errors"
	"depverify/internal/evidence"
	"depverify/internal/graph"
	"depverify/internal/scoring"
	"depverify/internal/verify"
)

func openStore(t *testing.T) (*Store, *DB) {
	t.Helper()
	db, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, db
}

func sampleReport(t *testing.T, runID string, startedAt time.Time) *verify.Report {
	t.Helper()
	claim := evidence.Claim{Subject: "BillingService", Predicate: evidence.PredicateWrites, Object: "billing_ledger"}
	items := []evidence.Evidence{
		{Kind: evidence.KindStatic, Locator: "billing/ledger.go:L12", Source: "fs-search"},
		{Kind: evidence.KindRuntime, Locator: "trace:abc/def", Source: "otlp-trace"},
	}
	b := graph.NewBuilder()
	if err := b.AddClaim(claim, items); err != nil {
		t.Fatal(err)
	}
	completed := startedAt.Add(40 * time.Millisecond)

	return &verify.Report{
		RunID:     runID,
		StartedAt: startedAt,
		Duration:  1500 * time.Millisecond,
		Graph:     b.Graph(),
		Claims: []*verify.ClaimResult{
			{
				Claim:      claim,
				Status:     verify.StatusConfirmed,
				Evidence:   items,
				Confidence: 0.8,
				Confirmed:  true,
				Contributions: []scoring.Contribution{
					{Rule: "static-evidence", Delta: 0.3},
					{Rule: "runtime-evidence", Delta: 0.3},
					{Rule: "multi-source-agreement", Delta: 0.2},
				},
				Attempts:    1,
				Transitions: []verify.State{verify.StatePending, verify.StateCollecting, verify.StateScoring, verify.StateConfirmed, verify.StateTerminal},
				StartedAt:   startedAt,
				CompletedAt: &completed,
			},
			{
				Claim:       evidence.Claim{Subject: "BillingService", Predicate: evidence.PredicateReads, Object: "accounts"},
				Status:      verify.StatusRejected,
				Evidence:    []evidence.Evidence{},
				Attempts:    1,
				Reason:      "no evidence collected",
				Transitions: []verify.State{verify.StatePending, verify.StateCollecting, verify.StateScoring, verify.StateRejected, verify.StateTerminal},
				StartedAt:   startedAt,
			},
		},
	}
}

func TestStore_SaveAndGetRun(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)
	report := sampleReport(t, "run-1", started)

	if err := s.SaveRun(ctx, report); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if !got.StartedAt.Equal(started) || got.Duration != 1500*time.Millisecond || got.Partial {
		t.Errorf("run = %+v", got.Run)
	}
	wantSummary := verify.Summary{Total: 2, Confirmed: 1, Rejected: 1, Nodes: 2, Edges: 1}
	if diff := cmp.Diff(wantSummary, got.Summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	if got.SchemaVersion != graph.SchemaVersion || got.Fingerprint == "" {
		t.Errorf("schema %q fingerprint %q", got.SchemaVersion, got.Fingerprint)
	}
	if diff := cmp.Diff(report.Claims, got.Claims); diff != "" {
		t.Errorf("claims mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_LoadGraph(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	report := sampleReport(t, "run-1", time.Now().UTC())
	if err := s.SaveRun(ctx, report); err != nil {
		t.Fatal(err)
	}

	g, err := s.LoadGraph(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadGraph() error = %v", err)
	}
	if diff := cmp.Diff(report.Graph, g); diff != "" {
		t.Errorf("graph mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_EmptyGraph(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	report := &verify.Report{RunID: "empty", StartedAt: time.Now().UTC()}
	if err := s.SaveRun(ctx, report); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	g, err := s.LoadGraph(ctx, "empty")
	if err != nil {
		t.Fatalf("LoadGraph() error = %v", err)
	}
	if len(g.Nodes) != 0 || len(g.Edges) != 0 {
		t.Errorf("graph = %+v, want empty", g)
	}
}

func TestStore_ListRunsNewestFirst(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "newest", "middle"} {
		offset := []time.Duration{0, 2 * time.Hour, time.Hour}[i]
		if err := s.SaveRun(ctx, sampleReport(t, id, base.Add(offset))); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.RunID)
	}
	if diff := cmp.Diff([]string{"newest", "middle", "old"}, ids); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	limited, err := s.ListRuns(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].RunID != "newest" {
		t.Errorf("ListRuns(1) = %+v", limited)
	}
}

func TestStore_SaveRunReplaces(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	report := sampleReport(t, "run-1", time.Now().UTC())
	if err := s.SaveRun(ctx, report); err != nil {
		t.Fatal(err)
	}
	report.Claims = report.Claims[:1]
	report.Partial = true
	if err := s.SaveRun(ctx, report); err != nil {
		t.Fatalf("SaveRun(again) error = %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Claims) != 1 || !got.Partial || got.Summary.Total != 1 {
		t.Errorf("run after replace = %+v with %d claims", got.Run, len(got.Claims))
	}
}

func TestStore_Errors(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	if _, err := s.GetRun(ctx, "missing"); !errors.HasCode(err, errors.NotFound) {
		t.Errorf("GetRun(missing) error = %v, want %s", err, errors.NotFound)
	}
	if _, err := s.LoadGraph(ctx, "missing"); !errors.HasCode(err, errors.NotFound) {
		t.Errorf("LoadGraph(missing) error = %v, want %s", err, errors.NotFound)
	}
	if err := s.DeleteRun(ctx, "missing"); !errors.HasCode(err, errors.NotFound) {
		t.Errorf("DeleteRun(missing) error = %v, want %s", err, errors.NotFound)
	}
	if err := s.SaveRun(ctx, &verify.Report{}); !errors.HasCode(err, errors.ConfigurationError) {
		t.Errorf("SaveRun(no id) error = %v, want %s", err, errors.ConfigurationError)
	}

	bad := sampleReport(t, "bad", time.Now().UTC())
	bad.Graph.Edges[0].Confidence = 2
	if err := s.SaveRun(ctx, bad); !errors.HasCode(err, errors.GraphInvalid) {
		t.Errorf("SaveRun(invalid graph) error = %v, want %s", err, errors.GraphInvalid)
	}
}

func TestStore_DeleteRun(t *testing.T) {
	s, db := openStore(t)
	ctx := context.Background()
	if err := s.SaveRun(ctx, sampleReport(t, "run-1", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("DeleteRun() error = %v", err)
	}

	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM claim_results`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("claim_results rows = %d after delete, want 0", n)
	}
}

func TestOpen_ReopensExisting(t *testing.T) {
	root := t.TempDir()
	db, err := Open(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRun(context.Background(), sampleReport(t, "run-1", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}
	s.Close()
	db.Close()

	if _, err := os.Stat(filepath.Join(root, DirName, FileName)); err != nil {
		t.Fatalf("database file missing: %v", err)
	}

	db, err = Open(root, nil)
	if err != nil {
		t.Fatalf("Open(existing) error = %v", err)
	}
	defer db.Close()
	s, err = NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	runs, err := s.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Errorf("len(runs) = %d after reopen, want 1", len(runs))
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	root := t.TempDir()
	db, err := Open(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.conn.Exec(`UPDATE schema_version SET version = ?`, currentSchemaVersion+1); err != nil {
		t.Fatal(err)
	}
	db.Close()

	if _, err := Open(root, nil); !errors.HasCode(err, errors.SchemaVersionConflict) {
		t.Errorf("Open() error = %v, want %s", err, errors.SchemaVersionConflict)
	}
}

func TestStore_SaveRunWithFailedClaim(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()
	report := sampleReport(t, "run-failed", time.Now().UTC())
	failed := report.Claims[1]
	failed.Status = verify.StatusFailed
	failed.Error = errors.New(errors.AttributeConflict, `node "service:billingservice": attribute owner differs`, nil)
	failed.Reason = "ATTRIBUTE_CONFLICT: attribute owner differs"

	if err := s.SaveRun(ctx, report); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	got, err := s.GetRun(ctx, "run-failed")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}

	wantSummary := verify.Summary{Total: 2, Confirmed: 1, Failed: 1, Nodes: 2, Edges: 1}
	if diff := cmp.Diff(wantSummary, got.Summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	c := got.Claims[1]
	if c.Status != verify.StatusFailed || c.Error == nil || c.Error.Code != errors.AttributeConflict {
		t.Errorf("failed claim = status %v error %+v", c.Status, c.Error)
	}
}
