package knowledge

import "testing"

func TestUpdateAlias_AppendsNewRow(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.UpdateAlias(Alias{Alias: "core-sw", Value: "10.0.0.1", Type: AliasDevice, Platform: "cisco_ios"}, OriginAdministrative, false)
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	rows, err := store.ListAliases()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].Value != "10.0.0.1" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestUpdateAlias_ReplacesMatchingRow(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.UpdateAlias(Alias{Alias: "core-sw", Value: "10.0.0.1", Type: AliasDevice}, OriginAdministrative, false); err != nil {
		t.Fatalf("update 1: %v", err)
	}
	if err := store.UpdateAlias(Alias{Alias: "core-sw", Value: "10.0.0.2", Type: AliasDevice}, OriginAdministrative, false); err != nil {
		t.Fatalf("update 2: %v", err)
	}

	rows, err := store.ListAliases()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected the row to be replaced in place, got %d rows", len(rows))
	}
	if rows[0].Value != "10.0.0.2" {
		t.Fatalf("expected updated value, got %q", rows[0].Value)
	}
}

func TestUpdateAlias_SameNameDifferentTypeIsDistinctRow(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.UpdateAlias(Alias{Alias: "edge", Value: "10.0.0.1", Type: AliasDevice}, OriginAdministrative, false); err != nil {
		t.Fatalf("update device: %v", err)
	}
	if err := store.UpdateAlias(Alias{Alias: "edge", Value: "edge-group", Type: AliasGroup}, OriginAdministrative, false); err != nil {
		t.Fatalf("update group: %v", err)
	}

	rows, err := store.ListAliases()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected two distinct rows keyed on (alias, type), got %d", len(rows))
	}
}

func TestListAliases_EmptyWhenNoFile(t *testing.T) {
	store, _ := newTestStore(t)
	rows, err := store.ListAliases()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %+v", rows)
	}
}

func TestAliasTable_EscapesPipesInCells(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.UpdateAlias(Alias{Alias: "weird", Value: "a|b", Type: AliasOther, Notes: "contains | pipe"}, OriginAdministrative, false); err != nil {
		t.Fatalf("update: %v", err)
	}
	rows, err := store.ListAliases()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].Value != "a|b" || rows[0].Notes != "contains | pipe" {
		t.Fatalf("unexpected round trip: %+v", rows)
	}
}
