package state

import (
	"context"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	s, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestStore_PutGet(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing): ok=%v err=%v", ok, err)
	}
	if err := s.Put(ctx, "entity/validator-1", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "entity/validator-1", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	v, ok, err := s.Get(ctx, "entity/validator-1")
	if err != nil || !ok || string(v) != `{"a":2}` {
		t.Errorf("Get: got %q ok=%v err=%v", v, ok, err)
	}
}

func TestStore_DeleteAndKeys(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	for _, k := range []string{"entity/b", "entity/a", "other/x"} {
		if err := s.Put(ctx, k, []byte("1")); err != nil {
			t.Fatal(err)
		}
	}

	keys, err := s.Keys(ctx, "entity/")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "entity/a" || keys[1] != "entity/b" {
		t.Errorf("Keys: got %v", keys)
	}

	if err := s.Delete(ctx, "entity/a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "entity/a"); err != nil {
		t.Fatalf("Delete absent: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "entity/a"); ok {
		t.Error("entity/a still present after Delete")
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	s, path := openTemp(t)
	ctx := context.Background()
	if err := s.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if v, ok, _ := s2.Get(ctx, "k"); !ok || string(v) != "v" {
		t.Errorf("after reopen: got %q ok=%v", v, ok)
	}
}
