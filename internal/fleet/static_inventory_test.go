package fleet

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestStaticInventory_LookupParsesRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.json")
	data := `[
		{"name":"R1","address":"10.0.0.1","platform":"cisco_ios","credentials_ref":"lab","groups":["core"],"attributes":{"site":"dc1"}},
		{"name":"R2","address":"10.0.0.2","platform":"juniper_junos","groups":["edge"]}
	]`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write inventory: %v", err)
	}

	inv := NewStaticInventory(path)
	devices, err := inv.Lookup(context.Background())
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	if devices[0].Name != "R1" || devices[0].Attributes["site"] != "dc1" {
		t.Fatalf("unexpected first device: %+v", devices[0])
	}
	if !devices[1].HasGroup("edge") {
		t.Fatalf("expected R2 to carry the edge group: %+v", devices[1])
	}
}

func TestStaticInventory_MissingFileIsEmptyNotError(t *testing.T) {
	inv := NewStaticInventory(filepath.Join(t.TempDir(), "missing.json"))
	devices, err := inv.Lookup(context.Background())
	if err != nil {
		t.Fatalf("expected no error for a missing inventory file, got %v", err)
	}
	if len(devices) != 0 {
		t.Fatalf("expected an empty inventory, got %+v", devices)
	}
}

func TestStaticInventory_MalformedFileIsParseFailed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write inventory: %v", err)
	}
	inv := NewStaticInventory(path)
	if _, err := inv.Lookup(context.Background()); err == nil {
		t.Fatal("expected an error for a malformed inventory file")
	}
}
