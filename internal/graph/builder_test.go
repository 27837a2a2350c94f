package graph

import (
	stderrors "errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"depverify/internal/errors"
	"depverify/internal/evidence"
)

var (
	searchHit = evidence.Evidence{Kind: evidence.KindStatic, Locator: "billing/ledger.go:L42", Source: "search"}
	traceHit  = evidence.Evidence{Kind: evidence.KindRuntime, Locator: "trace:abc/01", Source: "trace"}
)

func billingClaim() evidence.Claim {
	return evidence.Claim{Subject: "BillingService", Predicate: evidence.PredicateWrites, Object: "billing_ledger"}
}

func TestNodeID(t *testing.T) {
	tests := []struct {
		typ  evidence.NodeType
		name string
		want string
	}{
		{evidence.NodeService, "BillingService", "service:billingservice"},
		{evidence.NodeTable, "  billing_ledger ", "table:billing_ledger"},
		{evidence.NodeEndpoint, "POST   /v1/charges", "endpoint:post /v1/charges"},
	}

	for _, tt := range tests {
		if got := NodeID(tt.typ, tt.name); got != tt.want {
			t.Errorf("NodeID(%v, %q) = %q, want %q", tt.typ, tt.name, got, tt.want)
		}
	}
}

func TestBuilder_AddClaim(t *testing.T) {
	b := NewBuilder()

	if err := b.AddClaim(billingClaim(), []evidence.Evidence{traceHit, searchHit}); err != nil {
		t.Fatalf("AddClaim() error = %v", err)
	}

	g := b.Graph()
	want := &Graph{
		Nodes: []Node{
			{ID: "service:billingservice", Type: evidence.NodeService, Name: "BillingService"},
			{ID: "table:billing_ledger", Type: evidence.NodeTable, Name: "billing_ledger"},
		},
		Edges: []Edge{{
			From:       "service:billingservice",
			To:         "table:billing_ledger",
			Type:       evidence.PredicateWrites,
			Evidence:   []evidence.Evidence{traceHit, searchHit},
			Confidence: 0.8,
		}},
		SchemaVersion: SchemaVersion,
	}
	if diff := cmp.Diff(want, g); diff != "" {
		t.Errorf("Graph() mismatch (-want +got):\n%s", diff)
	}
	if err := g.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestBuilder_AddClaimWithoutEvidence(t *testing.T) {
	b := NewBuilder()

	err := b.AddClaim(billingClaim(), nil)
	if code := errors.CodeOf(err); code != errors.EvidenceInvariantViolation {
		t.Fatalf("CodeOf(err) = %v, want %v", code, errors.EvidenceInvariantViolation)
	}
	if n, e := b.Len(); n != 0 || e != 0 {
		t.Errorf("Len() = (%d, %d), want (0, 0)", n, e)
	}
}

func TestBuilder_SameNodeMergesAttributes(t *testing.T) {
	b := NewBuilder()

	first := billingClaim()
	first.SubjectAttrs = map[string]interface{}{"team": "billing", "tags": []interface{}{"pci"}}
	second := evidence.Claim{
		Subject:      "billingservice",
		Predicate:    evidence.PredicateReads,
		Object:       "accounts",
		SubjectAttrs: map[string]interface{}{"tags": []string{"core", "pci"}, "tier": 1},
	}

	if err := b.AddClaim(first, []evidence.Evidence{searchHit}); err != nil {
		t.Fatalf("AddClaim(first) error = %v", err)
	}
	if err := b.AddClaim(second, []evidence.Evidence{traceHit}); err != nil {
		t.Fatalf("AddClaim(second) error = %v", err)
	}

	g := b.Graph()
	if len(g.Nodes) != 3 {
		t.Fatalf("len(Nodes) = %d, want 3", len(g.Nodes))
	}
	svc, ok := g.Node("service:billingservice")
	if !ok {
		t.Fatal("service node missing")
	}
	if svc.Name != "BillingService" {
		t.Errorf("Name = %q, want the smallest spelling BillingService", svc.Name)
	}
	wantAttrs := map[string]interface{}{
		"team": "billing",
		"tags": []interface{}{"core", "pci"},
		"tier": float64(1),
	}
	if diff := cmp.Diff(wantAttrs, svc.Attrs); diff != "" {
		t.Errorf("Attrs mismatch (-want +got):\n%s", diff)
	}
}

func TestBuilder_AttributeConflictIsAtomic(t *testing.T) {
	b := NewBuilder()

	first := billingClaim()
	first.SubjectAttrs = map[string]interface{}{"owner": "billing"}
	if err := b.AddClaim(first, []evidence.Evidence{searchHit}); err != nil {
		t.Fatalf("AddClaim(first) error = %v", err)
	}
	before := b.Graph()

	conflicting := evidence.Claim{
		Subject:      "BillingService",
		Predicate:    evidence.PredicateReads,
		Object:       "invoices",
		SubjectAttrs: map[string]interface{}{"owner": "payments"},
	}
	err := b.AddClaim(conflicting, []evidence.Evidence{traceHit})
	if code := errors.CodeOf(err); code != errors.AttributeConflict {
		t.Fatalf("CodeOf(err) = %v, want %v", code, errors.AttributeConflict)
	}

	var typed *errors.Error
	if !stderrors.As(err, &typed) {
		t.Fatal("expected *errors.Error")
	}
	conflict, ok := typed.Details.(AttrConflict)
	if !ok {
		t.Fatalf("Details = %T, want AttrConflict", typed.Details)
	}
	if conflict.Left != "billing" || conflict.Right != "payments" {
		t.Errorf("conflict = %+v, want both values reported", conflict)
	}

	if diff := cmp.Diff(before, b.Graph()); diff != "" {
		t.Errorf("builder changed after a failed claim (-before +after):\n%s", diff)
	}
}

func TestBuilder_ObjectConflictRestoresSubject(t *testing.T) {
	b := NewBuilder()
	seed := billingClaim()
	seed.ObjectAttrs = map[string]interface{}{"engine": "postgres"}
	if err := b.AddClaim(seed, []evidence.Evidence{searchHit}); err != nil {
		t.Fatalf("AddClaim(seed) error = %v", err)
	}
	before := b.Graph()

	bad := evidence.Claim{
		Subject:     "LedgerWorker",
		Predicate:   evidence.PredicateReads,
		Object:      "billing_ledger",
		ObjectAttrs: map[string]interface{}{"engine": "mysql"},
	}
	if err := b.AddClaim(bad, []evidence.Evidence{traceHit}); err == nil {
		t.Fatal("AddClaim() should fail on a conflicting object attribute")
	}
	if diff := cmp.Diff(before, b.Graph()); diff != "" {
		t.Errorf("new subject node leaked after a failed claim (-before +after):\n%s", diff)
	}
}

func TestBuilder_SelfReference(t *testing.T) {
	b := NewBuilder()
	c := evidence.Claim{Subject: "Gateway", Predicate: evidence.PredicateDependsOn, Object: "gateway"}

	if err := b.AddClaim(c, []evidence.Evidence{searchHit}); err != nil {
		t.Fatalf("AddClaim() error = %v", err)
	}
	g := b.Graph()
	if len(g.Nodes) != 1 || len(g.Edges) != 1 {
		t.Fatalf("got %d nodes and %d edges, want 1 and 1", len(g.Nodes), len(g.Edges))
	}
	if g.Nodes[0].Name != "Gateway" {
		t.Errorf("Name = %q, want Gateway", g.Nodes[0].Name)
	}
}

func TestBuilder_AddEdgeRecomputesConfidence(t *testing.T) {
	b := NewBuilder()
	if err := b.AddClaim(billingClaim(), []evidence.Evidence{searchHit}); err != nil {
		t.Fatalf("AddClaim() error = %v", err)
	}
	if err := b.AddClaim(billingClaim(), []evidence.Evidence{traceHit}); err != nil {
		t.Fatalf("AddClaim() error = %v", err)
	}

	g := b.Graph()
	if len(g.Edges) != 1 {
		t.Fatalf("len(Edges) = %d, want 1", len(g.Edges))
	}
	if g.Edges[0].Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8", g.Edges[0].Confidence)
	}
	if len(g.Edges[0].Evidence) != 2 {
		t.Errorf("len(Evidence) = %d, want 2", len(g.Edges[0].Evidence))
	}
}

func TestBuilder_AddEdgeDangling(t *testing.T) {
	b := NewBuilder()
	err := b.AddEdge(Edge{From: "service:a", To: "table:b", Type: evidence.PredicateReads, Evidence: []evidence.Evidence{searchHit}})
	if code := errors.CodeOf(err); code != errors.GraphInvalid {
		t.Errorf("CodeOf(err) = %v, want %v", code, errors.GraphInvalid)
	}
}

func TestBuilder_GraphIsSnapshot(t *testing.T) {
	b := NewBuilder()
	c := billingClaim()
	c.SubjectAttrs = map[string]interface{}{"team": "billing"}
	if err := b.AddClaim(c, []evidence.Evidence{searchHit}); err != nil {
		t.Fatalf("AddClaim() error = %v", err)
	}

	g := b.Graph()
	g.Nodes[0].Attrs["team"] = "mutated"
	g.Edges[0].Evidence[0].Locator = "mutated"

	again := b.Graph()
	if again.Nodes[0].Attrs["team"] != "billing" {
		t.Error("mutating a snapshot changed the builder's nodes")
	}
	if again.Edges[0].Evidence[0].Locator != searchHit.Locator {
		t.Error("mutating a snapshot changed the builder's edges")
	}
}
