package fleet

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemplate(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write template %s: %v", name, err)
	}
}

func TestFileTemplateParser_RegexExtractsNamedGroups(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "version.json", `{
		"platform": "cisco_ios",
		"operation": "show version",
		"type": "regex",
		"pattern": "Version (?P<version>\\S+), .*uptime is (?P<uptime>.+)"
	}`)

	p, err := NewFileTemplateParser(dir)
	if err != nil {
		t.Fatalf("new parser: %v", err)
	}
	if !p.HasTemplate("cisco_ios", "show version") {
		t.Fatal("expected a registered template")
	}

	rows, err := p.Parse("cisco_ios", "show version", "Cisco IOS Software, Version 15.2(4)M6, uptime is 3 weeks")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %+v", rows)
	}
	if rows[0]["version"] != "15.2(4)M6" {
		t.Fatalf("unexpected version field: %+v", rows[0])
	}
}

func TestFileTemplateParser_JSONPathExtractsFields(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "health.json", `{
		"platform": "juniper_junos",
		"operation": "GET /rpc/health",
		"type": "jsonpath",
		"fields": {"status": "result.status", "cpu": "result.metrics.cpu"}
	}`)

	p, err := NewFileTemplateParser(dir)
	if err != nil {
		t.Fatalf("new parser: %v", err)
	}

	rows, err := p.Parse("juniper_junos", "GET /rpc/health", `{"result":{"status":"ok","metrics":{"cpu":12}}}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 1 || rows[0]["status"] != "ok" || rows[0]["cpu"] != "12" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestFileTemplateParser_MissingDirIsEmptyNotError(t *testing.T) {
	p, err := NewFileTemplateParser(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("expected no error for a missing templates dir, got %v", err)
	}
	if p.HasTemplate("cisco_ios", "show version") {
		t.Fatal("expected no templates registered")
	}
}

func TestFileTemplateParser_UnknownOperationParseFailed(t *testing.T) {
	p, err := NewFileTemplateParser(t.TempDir())
	if err != nil {
		t.Fatalf("new parser: %v", err)
	}
	if _, err := p.Parse("cisco_ios", "show version", "raw"); err == nil {
		t.Fatal("expected a ParseFailed error for an unregistered template")
	}
}
