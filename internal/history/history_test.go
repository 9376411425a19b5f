package history

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestSanitizeSchema(t *testing.T) {
	good := map[string]string{
		"admissions_report": "admissions_report",
		"  _runs2 ":         "_runs2",
	}
	for in, want := range good {
		got, err := SanitizeSchema(in)
		if err != nil || got != want {
			t.Fatalf("SanitizeSchema(%q) = %q, %v", in, got, err)
		}
	}
	for _, bad := range []string{"", "  ", "2runs", "runs;drop table x", "a.b", "a-b"} {
		if _, err := SanitizeSchema(bad); err == nil {
			t.Fatalf("SanitizeSchema(%q) should fail", bad)
		}
	}
}

func TestStoreRejectsBadSchemaBeforeConnecting(t *testing.T) {
	err := Store(context.Background(), Config{URL: "postgres://u:p@127.0.0.1:1/db", Schema: "x;y"}, Run{})
	if err == nil || !strings.Contains(err.Error(), "invalid schema name") {
		t.Fatalf("err = %v", err)
	}
}

func TestStoreUnreachable(t *testing.T) {
	cfg := Config{URL: "postgres://u:p@127.0.0.1:1/db?connect_timeout=1&sslmode=disable", Schema: DefaultSchema}
	err := Store(context.Background(), cfg, Run{ID: uuid.New()})
	if err == nil || !strings.Contains(err.Error(), "ping history db") {
		t.Fatalf("err = %v", err)
	}
}

func TestEnabled(t *testing.T) {
	if (Config{}).Enabled() || (Config{URL: "  "}).Enabled() {
		t.Fatalf("blank url should be disabled")
	}
	if !(Config{URL: "postgres://localhost/db"}).Enabled() {
		t.Fatalf("url should enable history")
	}
}

func TestStatementsUseSchema(t *testing.T) {
	for _, stmt := range append(schemaStatements("adm"), insertRunSQL("adm"), insertSheetSQL("adm")) {
		if !strings.Contains(stmt, "adm") {
			t.Fatalf("statement lacks schema: %s", stmt)
		}
	}
	if !strings.Contains(insertSheetSQL("adm"), "$10") {
		t.Fatalf("sheet insert should bind ten values")
	}
}

func TestFailedCount(t *testing.T) {
	sheets := []SheetRecord{{Name: "a"}, {Name: "ERROR_b", Error: "boom"}, {Name: "c"}}
	if n := failedCount(sheets); n != 1 {
		t.Fatalf("failed = %d", n)
	}
	if ns := nullString("  "); ns.Valid {
		t.Fatalf("blank string should be null")
	}
}
