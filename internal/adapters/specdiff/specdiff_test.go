package specdiff

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"depverify/internal/evidence"
	"depverify/internal/gateway"
)

const sampleDiff = `diff --git a/api/openapi.yaml b/api/openapi.yaml
index 1111111..2222222 100644
--- a/api/openapi.yaml
+++ b/api/openapi.yaml
@@ -10,4 +10,5 @@ paths:
   /v1/charges:
     post:
-      operationId: createCharge
+      operationId: createLedgerCharge
+      x-table: billing_ledger
       responses:
diff --git a/db/old.sql b/db/old.sql
deleted file mode 100644
index 3333333..0000000
--- a/db/old.sql
+++ /dev/null
@@ -1,2 +0,0 @@
-CREATE TABLE billing_ledger_v1 (id INTEGER);
-DROP TABLE legacy;
`

func writeDiff(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "change.diff")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func request(object string) gateway.Request {
	return gateway.Request{Claim: evidence.Claim{Subject: "BillingService", Predicate: evidence.PredicateWrites, Object: object}}
}

func TestParse(t *testing.T) {
	files, err := Parse([]byte(sampleDiff))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := []ChangedFile{
		{
			Path: "api/openapi.yaml",
			Lines: []ChangedLine{
				{Line: 12, Text: "      operationId: createCharge"},
				{Line: 12, Added: true, Text: "      operationId: createLedgerCharge"},
				{Line: 13, Added: true, Text: "      x-table: billing_ledger"},
			},
		},
		{
			Path:    "db/old.sql",
			Deleted: true,
			Lines: []ChangedLine{
				{Line: 1, Text: "CREATE TABLE billing_ledger_v1 (id INTEGER);"},
				{Line: 2, Text: "DROP TABLE legacy;"},
			},
		},
	}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestInvoke(t *testing.T) {
	a := New(writeDiff(t, sampleDiff), 0)

	obs, err := a.Invoke(context.Background(), request("billing_ledger"))
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	want := []gateway.Observation{
		{Locator: "diff:api/openapi.yaml#L13", Snippet: "+x-table: billing_ledger"},
		{Locator: "diff:db/old.sql#L1", Snippet: "-CREATE TABLE billing_ledger_v1 (id INTEGER);"},
	}
	if diff := cmp.Diff(want, obs); diff != "" {
		t.Errorf("Invoke() mismatch (-want +got):\n%s", diff)
	}

	obs, err = a.Invoke(context.Background(), request("invoices"))
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if len(obs) != 1 || !obs[0].Negative {
		t.Errorf("Invoke(invoices) = %+v, want one negative observation", obs)
	}
}

func TestInvoke_MissingDiff(t *testing.T) {
	a := New(filepath.Join(t.TempDir(), "none.diff"), 0)
	_, err := a.Invoke(context.Background(), request("billing_ledger"))
	f, ok := err.(*gateway.Failure)
	if !ok || f.Kind != gateway.FailureUnavailable {
		t.Errorf("Invoke() error = %v, want unavailable failure", err)
	}
}

func TestInvoke_EmptyDiff(t *testing.T) {
	a := New(writeDiff(t, ""), 0)
	obs, err := a.Invoke(context.Background(), request("billing_ledger"))
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if len(obs) != 1 || !obs[0].Negative {
		t.Errorf("Invoke() = %+v, want one negative observation", obs)
	}
}
