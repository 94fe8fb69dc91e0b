package requester

import (
	"path/filepath"
	"testing"
)

func TestNewRegistryWithMissingFileIsEmpty(t *testing.T) {
	r, err := NewRegistry(filepath.Join(t.TempDir(), "requesters.yaml"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if len(r.List()) != 0 {
		t.Fatal("a fresh registry should start empty")
	}
}

func TestTouchRegistersOnFirstContact(t *testing.T) {
	r, err := NewRegistry(filepath.Join(t.TempDir(), "requesters.yaml"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	r.Touch("client-a", "ok")

	got, err := r.Get("client-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UtteranceCount != 1 || got.LastDecision != "ok" {
		t.Fatalf("requester = %+v, want count 1 decision ok", got)
	}
	if got.FirstSeen.IsZero() || got.LastSeen.IsZero() {
		t.Fatalf("requester = %+v, want non-zero timestamps", got)
	}
}

func TestTouchAccumulatesCount(t *testing.T) {
	r, err := NewRegistry(filepath.Join(t.TempDir(), "requesters.yaml"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	r.Touch("client-a", "ok")
	r.Touch("client-a", "error")
	r.Touch("client-a", "ok")

	got, err := r.Get("client-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UtteranceCount != 3 {
		t.Fatalf("UtteranceCount = %d, want 3", got.UtteranceCount)
	}
	if got.LastDecision != "ok" {
		t.Fatalf("LastDecision = %q, want \"ok\" (the most recent)", got.LastDecision)
	}
}

func TestGetUnknownRequesterIsAnError(t *testing.T) {
	r, err := NewRegistry(filepath.Join(t.TempDir(), "requesters.yaml"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := r.Get("nobody"); err == nil {
		t.Fatal("expected an error for an unknown requester")
	}
}

func TestListIsSortedByID(t *testing.T) {
	r, err := NewRegistry(filepath.Join(t.TempDir(), "requesters.yaml"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	r.Touch("zebra", "ok")
	r.Touch("alpha", "ok")
	r.Touch("mango", "ok")

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("got %d requesters, want 3", len(list))
	}
	if list[0].ID != "alpha" || list[1].ID != "mango" || list[2].ID != "zebra" {
		t.Fatalf("List() order = %v, want alphabetical", list)
	}
}

func TestSaveAndReloadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requesters.yaml")

	r, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	r.Touch("client-a", "ok")
	r.Touch("client-b", "error")

	if err := r.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("NewRegistry (reload): %v", err)
	}
	if len(reloaded.List()) != 2 {
		t.Fatalf("reloaded registry has %d requesters, want 2", len(reloaded.List()))
	}
	got, err := reloaded.Get("client-a")
	if err != nil || got.UtteranceCount != 1 {
		t.Fatalf("reloaded client-a = %+v, err=%v", got, err)
	}
}
