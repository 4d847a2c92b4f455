package localcache

import (
	"path/filepath"
	"testing"
)

type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPut_KeepsInsertionOrder(t *testing.T) {
	s := openTest(t)
	for _, it := range []item{{"c", "third"}, {"a", "first"}, {"b", "second"}} {
		if err := s.Put("items", it.ID, it); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	got, err := Load[item](s, "items")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"c", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestPut_ReplaceKeepsPosition(t *testing.T) {
	s := openTest(t)
	s.Put("items", "a", item{"a", "one"})
	s.Put("items", "b", item{"b", "two"})
	s.Put("items", "a", item{"a", "uno"})

	got, _ := Load[item](s, "items")
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	if got[0].ID != "a" || got[0].Name != "uno" {
		t.Errorf("expected updated a first, got %+v", got[0])
	}
}

func TestTablesAreIsolated(t *testing.T) {
	s := openTest(t)
	s.Put("items", "a", item{"a", "one"})
	s.Put("itemsx", "b", item{"b", "two"})

	got, _ := Load[item](s, "items")
	if len(got) != 1 {
		t.Errorf("expected 1 item in items, got %d", len(got))
	}
}

func TestDelete(t *testing.T) {
	s := openTest(t)
	s.Put("items", "a", item{"a", "one"})
	if err := s.Delete("items", "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete("items", "missing"); err != nil {
		t.Errorf("deleting a missing record should not fail: %v", err)
	}
	got, _ := Load[item](s, "items")
	if len(got) != 0 {
		t.Errorf("expected empty table, got %d", len(got))
	}
}

func TestReplace(t *testing.T) {
	s := openTest(t)
	s.Put("items", "old", item{"old", "gone"})

	err := s.Replace("items", []Record{
		{ID: "x", Value: item{"x", "1"}},
		{ID: "y", Value: item{"y", "2"}},
	})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, _ := Load[item](s, "items")
	if len(got) != 2 || got[0].ID != "x" || got[1].ID != "y" {
		t.Errorf("unexpected table after replace: %+v", got)
	}
}

func TestReplace_Empty(t *testing.T) {
	s := openTest(t)
	s.Put("items", "a", item{"a", "one"})
	if err := s.Replace("items", nil); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, _ := Load[item](s, "items")
	if len(got) != 0 {
		t.Errorf("expected empty table, got %d", len(got))
	}
}

func TestOpen_PersistsAcrossRestart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Put("items", "b", item{"b", "first"})
	s.Put("items", "a", item{"a", "second"})
	s.Close()

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	s.Put("items", "c", item{"c", "third"})

	got, _ := Load[item](s, "items")
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	if got[0].ID != "b" || got[1].ID != "a" || got[2].ID != "c" {
		t.Errorf("order not preserved across restart: %+v", got)
	}
}
