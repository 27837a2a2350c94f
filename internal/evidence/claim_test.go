package evidence

import "testing"

func TestParsePredicate(t *testing.T) {
	tests := []struct {
		in      string
		want    Predicate
		wantErr bool
	}{
		{"writes", PredicateWrites, false},
		{" Reads ", PredicateReads, false},
		{"routes-to", PredicateRoutesTo, false},
		{"DEPENDS_ON", PredicateDependsOn, false},
		{"deletes", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePredicate(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePredicate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParsePredicate(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDefaultTypes(t *testing.T) {
	tests := []struct {
		pred    Predicate
		subject NodeType
		object  NodeType
	}{
		{PredicateReads, NodeService, NodeTable},
		{PredicateWrites, NodeService, NodeTable},
		{PredicatePublishes, NodeService, NodeQueue},
		{PredicateConsumes, NodeService, NodeQueue},
		{PredicateCalls, NodeService, NodeEndpoint},
		{PredicateRoutesTo, NodeService, NodeEndpoint},
		{PredicateDependsOn, NodeService, NodeService},
	}

	for _, tt := range tests {
		t.Run(string(tt.pred), func(t *testing.T) {
			s, o := DefaultTypes(tt.pred)
			if s != tt.subject || o != tt.object {
				t.Errorf("DefaultTypes(%v) = (%v, %v), want (%v, %v)", tt.pred, s, o, tt.subject, tt.object)
			}
		})
	}
}

func TestClaim_TypesOverride(t *testing.T) {
	c := Claim{Subject: "gateway", Predicate: PredicateReads, Object: "orders.total", ObjectType: NodeColumn}

	s, o := c.Types()
	if s != NodeService {
		t.Errorf("subject type = %v, want %v", s, NodeService)
	}
	if o != NodeColumn {
		t.Errorf("object type = %v, want %v", o, NodeColumn)
	}
}

func TestClaim_Key(t *testing.T) {
	c := Claim{Subject: " BillingService ", Predicate: PredicateWrites, Object: "billing_ledger"}
	if got, want := c.Key(), "BillingService writes billing_ledger"; got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}
