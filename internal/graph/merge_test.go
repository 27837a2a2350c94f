package graph

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"depverify/internal/errors"
	"depverify/internal/evidence"
)

func buildGraph(t *testing.T, version string, claims ...struct {
	claim evidence.Claim
	items []evidence.Evidence
}) *Graph {
	t.Helper()
	b := NewBuilder(WithSchemaVersion(version))
	for _, c := range claims {
		if err := b.AddClaim(c.claim, c.items); err != nil {
			t.Fatalf("AddClaim(%s) error = %v", c.claim, err)
		}
	}
	return b.Graph()
}

type claimItems = struct {
	claim evidence.Claim
	items []evidence.Evidence
}

var (
	scipHit  = evidence.Evidence{Kind: evidence.KindStatic, Locator: "scip:billing/ledger.go:12", Source: "scip-index"}
	queueHit = evidence.Evidence{Kind: evidence.KindStatic, Locator: "events/publish.go:L9", Source: "search"}
	dbMiss   = evidence.Evidence{Kind: evidence.KindConfig, Locator: "sqlite:billing_ledger", Source: "sqlite", Negative: true}
)

func sampleGraphs(t *testing.T) (a, b, c *Graph) {
	t.Helper()
	billing := billingClaim()
	billing.SubjectAttrs = map[string]interface{}{"team": "billing"}

	publish := evidence.Claim{Subject: "BillingService", Predicate: evidence.PredicatePublishes, Object: "invoice.created",
		SubjectAttrs: map[string]interface{}{"tags": []interface{}{"pci"}}}
	consume := evidence.Claim{Subject: "Notifier", Predicate: evidence.PredicateConsumes, Object: "invoice.created"}

	a = buildGraph(t, "1.0.0", claimItems{billing, []evidence.Evidence{searchHit}})
	b = buildGraph(t, "1.2.0",
		claimItems{billingClaim(), []evidence.Evidence{traceHit, dbMiss}},
		claimItems{publish, []evidence.Evidence{queueHit}},
	)
	c = buildGraph(t, "1.1.0",
		claimItems{consume, []evidence.Evidence{traceHit}},
		claimItems{evidence.Claim{Subject: "billingService", Predicate: evidence.PredicateWrites, Object: "billing_ledger",
			SubjectAttrs: map[string]interface{}{"tags": []interface{}{"core"}}}, []evidence.Evidence{scipHit}},
	)
	return a, b, c
}

func mustMerge(t *testing.T, graphs ...*Graph) *Graph {
	t.Helper()
	g, err := Merge(graphs)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	return g
}

func TestMerge_Idempotent(t *testing.T) {
	a, b, c := sampleGraphs(t)
	for _, g := range []*Graph{a, b, c, mustMerge(t, a, b, c)} {
		if diff := cmp.Diff(g, mustMerge(t, g, g)); diff != "" {
			t.Errorf("merge(G, G) != G (-G +merged):\n%s", diff)
		}
	}
}

func TestMerge_Commutative(t *testing.T) {
	a, b, c := sampleGraphs(t)

	pairs := [][2]*Graph{{a, b}, {b, c}, {a, c}}
	for _, p := range pairs {
		if diff := cmp.Diff(mustMerge(t, p[0], p[1]), mustMerge(t, p[1], p[0])); diff != "" {
			t.Errorf("merge is not commutative (-ab +ba):\n%s", diff)
		}
	}
}

func TestMerge_Associative(t *testing.T) {
	a, b, c := sampleGraphs(t)

	left := mustMerge(t, mustMerge(t, a, b), c)
	right := mustMerge(t, a, mustMerge(t, b, c))
	flat := mustMerge(t, a, b, c)

	if diff := cmp.Diff(left, right); diff != "" {
		t.Errorf("(a+b)+c != a+(b+c):\n%s", diff)
	}
	if diff := cmp.Diff(left, flat); diff != "" {
		t.Errorf("(a+b)+c != merge(a, b, c):\n%s", diff)
	}
}

func TestMerge_UnionsEvidenceAndRescores(t *testing.T) {
	a, b, _ := sampleGraphs(t)

	m := mustMerge(t, a, b)

	key := EdgeKey{From: "service:billingservice", To: "table:billing_ledger", Type: evidence.PredicateWrites}
	e, ok := m.Edge(key)
	if !ok {
		t.Fatalf("edge %s missing", key)
	}
	want := []evidence.Evidence{dbMiss, traceHit, searchHit}
	if diff := cmp.Diff(want, e.Evidence); diff != "" {
		t.Errorf("Evidence mismatch (-want +got):\n%s", diff)
	}
	// +0.3 static, +0.3 runtime, +0.2 search/trace agreement; the negative item adds nothing.
	if e.Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8", e.Confidence)
	}
	if m.SchemaVersion != "1.2.0" {
		t.Errorf("SchemaVersion = %q, want 1.2.0", m.SchemaVersion)
	}

	svc, _ := m.Node("service:billingservice")
	wantAttrs := map[string]interface{}{"team": "billing", "tags": []interface{}{"pci"}}
	if diff := cmp.Diff(wantAttrs, svc.Attrs); diff != "" {
		t.Errorf("Attrs mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_SchemaVersionConflict(t *testing.T) {
	v1, _, _ := sampleGraphs(t)
	v2 := v1.Clone()
	v2.SchemaVersion = "2.x"
	v1.SchemaVersion = "1.x"

	snapshot1, snapshot2 := v1.Clone(), v2.Clone()

	g, err := Merge([]*Graph{v2, v1})
	if code := errors.CodeOf(err); code != errors.SchemaVersionConflict {
		t.Fatalf("CodeOf(err) = %v, want %v", code, errors.SchemaVersionConflict)
	}
	if g != nil {
		t.Error("Merge() should not return a graph on conflict")
	}
	if diff := cmp.Diff(snapshot1, v1); diff != "" {
		t.Errorf("first input modified:\n%s", diff)
	}
	if diff := cmp.Diff(snapshot2, v2); diff != "" {
		t.Errorf("second input modified:\n%s", diff)
	}
}

func TestMerge_AttributeConflictLeavesInputs(t *testing.T) {
	a, _, _ := sampleGraphs(t)
	other := a.Clone()
	other.Nodes[0].Attrs = map[string]interface{}{"team": "payments"}
	before := a.Clone()

	_, err := Merge([]*Graph{a, other})
	if code := errors.CodeOf(err); code != errors.AttributeConflict {
		t.Fatalf("CodeOf(err) = %v, want %v", code, errors.AttributeConflict)
	}
	if diff := cmp.Diff(before, a); diff != "" {
		t.Errorf("input modified:\n%s", diff)
	}
}

func TestMerge_RejectsInvalidInput(t *testing.T) {
	a, _, _ := sampleGraphs(t)
	broken := a.Clone()
	broken.Edges[0].Evidence = nil

	_, err := Merge([]*Graph{a, broken})
	if code := errors.CodeOf(err); code != errors.GraphInvalid {
		t.Errorf("CodeOf(err) = %v, want %v", code, errors.GraphInvalid)
	}
}

func TestMerge_Empty(t *testing.T) {
	g := mustMerge(t)
	if len(g.Nodes) != 0 || len(g.Edges) != 0 {
		t.Errorf("Merge() of nothing = %+v, want empty graph", g)
	}
	if g.SchemaVersion != SchemaVersion {
		t.Errorf("SchemaVersion = %q, want %q", g.SchemaVersion, SchemaVersion)
	}
}

func TestValidate(t *testing.T) {
	a, _, _ := sampleGraphs(t)

	tests := []struct {
		name   string
		mutate func(g *Graph)
	}{
		{"no evidence", func(g *Graph) { g.Edges[0].Evidence = []evidence.Evidence{} }},
		{"dangling endpoint", func(g *Graph) { g.Edges[0].To = "table:missing" }},
		{"confidence above one", func(g *Graph) { g.Edges[0].Confidence = 1.5 }},
		{"confidence NaN", func(g *Graph) { g.Edges[0].Confidence = math.NaN() }},
		{"confidence not derived from evidence", func(g *Graph) {
			g.Edges[0].Evidence = []evidence.Evidence{searchHit}
			g.Edges[0].Confidence = 0.9
		}},
		{"duplicate node", func(g *Graph) { g.Nodes = append(g.Nodes, g.Nodes[0]) }},
		{"duplicate edge", func(g *Graph) { g.Edges = append(g.Edges, g.Edges[0]) }},
		{"missing schema version", func(g *Graph) { g.SchemaVersion = "" }},
	}

	if err := a.Validate(); err != nil {
		t.Fatalf("Validate() on a built graph error = %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := a.Clone()
			tt.mutate(g)
			if code := errors.CodeOf(g.Validate()); code != errors.GraphInvalid {
				t.Errorf("CodeOf(Validate()) = %v, want %v", code, errors.GraphInvalid)
			}
		})
	}
}

func TestFingerprint_OrderIndependent(t *testing.T) {
	a, b, c := sampleGraphs(t)
	m := mustMerge(t, a, b, c)

	shuffled := m.Clone()
	shuffled.Nodes[0], shuffled.Nodes[len(shuffled.Nodes)-1] = shuffled.Nodes[len(shuffled.Nodes)-1], shuffled.Nodes[0]
	ev := shuffled.Edges[0].Evidence
	for i, j := 0, len(ev)-1; i < j; i, j = i+1, j-1 {
		ev[i], ev[j] = ev[j], ev[i]
	}

	f1, err := Fingerprint(m)
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	f2, err := Fingerprint(shuffled)
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	if f1 != f2 {
		t.Errorf("fingerprints differ: %s vs %s", f1, f2)
	}
	if len(f1) != 64 {
		t.Errorf("len(fingerprint) = %d, want 64", len(f1))
	}

	f3, _ := Fingerprint(a)
	if f3 == f1 {
		t.Error("different graphs should have different fingerprints")
	}
}

func TestMerge_RejectsConfidenceNotDerivedFromEvidence(t *testing.T) {
	inflated := &Graph{
		Nodes: []Node{
			{ID: "service:billingservice", Type: evidence.NodeService, Name: "BillingService"},
			{ID: "table:billing_ledger", Type: evidence.NodeTable, Name: "billing_ledger"},
		},
		Edges: []Edge{{
			From:       "service:billingservice",
			To:         "table:billing_ledger",
			Type:       evidence.PredicateWrites,
			Evidence:   []evidence.Evidence{searchHit},
			Confidence: 0.9,
		}},
		SchemaVersion: SchemaVersion,
	}

	if code := errors.CodeOf(inflated.Validate()); code != errors.GraphInvalid {
		t.Fatalf("CodeOf(Validate()) = %v, want %v", code, errors.GraphInvalid)
	}
	if _, err := Merge([]*Graph{inflated}); !errors.HasCode(err, errors.GraphInvalid) {
		t.Errorf("Merge() error = %v, want %s", err, errors.GraphInvalid)
	}

	inflated.Edges[0].Confidence = 0.3
	if err := inflated.Validate(); err != nil {
		t.Errorf("Validate() with the scored confidence error = %v", err)
	}
}
