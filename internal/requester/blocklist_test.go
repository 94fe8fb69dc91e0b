package requester

import (
	"path/filepath"
	"testing"
)

func TestNewBlockListWithMissingFileIsEmpty(t *testing.T) {
	bl, err := NewBlockList(filepath.Join(t.TempDir(), "blocked.yaml"))
	if err != nil {
		t.Fatalf("NewBlockList: %v", err)
	}
	if bl.IsBlocked("anyone") {
		t.Fatal("nobody should be blocked on a fresh block-list")
	}
}

func TestBlockThenIsBlocked(t *testing.T) {
	bl, err := NewBlockList(filepath.Join(t.TempDir(), "blocked.yaml"))
	if err != nil {
		t.Fatalf("NewBlockList: %v", err)
	}

	if err := bl.Block("bad-actor", "spamming utterances", "operator"); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if !bl.IsBlocked("bad-actor") {
		t.Fatal("bad-actor should be blocked")
	}
	if bl.IsBlocked("someone-else") {
		t.Fatal("blocking one requester should not affect another")
	}
}

func TestBlockIsIdempotent(t *testing.T) {
	bl, err := NewBlockList(filepath.Join(t.TempDir(), "blocked.yaml"))
	if err != nil {
		t.Fatalf("NewBlockList: %v", err)
	}

	if err := bl.Block("bad-actor", "first reason", "alice"); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if err := bl.Block("bad-actor", "second reason", "bob"); err != nil {
		t.Fatalf("Block (second call): %v", err)
	}
	if len(bl.entries) != 1 {
		t.Fatalf("entries = %v, want exactly one entry (first Block wins)", bl.entries)
	}
	if bl.entries[0].Reason != "first reason" {
		t.Fatalf("reason = %q, want the first Block's reason preserved", bl.entries[0].Reason)
	}
}

func TestUnblockRemovesEntry(t *testing.T) {
	bl, err := NewBlockList(filepath.Join(t.TempDir(), "blocked.yaml"))
	if err != nil {
		t.Fatalf("NewBlockList: %v", err)
	}

	if err := bl.Block("bad-actor", "reason", "operator"); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if err := bl.Unblock("bad-actor"); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	if bl.IsBlocked("bad-actor") {
		t.Fatal("bad-actor should no longer be blocked")
	}
	if len(bl.entries) != 0 {
		t.Fatalf("entries = %v, want empty after unblock", bl.entries)
	}
}

func TestUnblockUnknownRequesterIsANoOp(t *testing.T) {
	bl, err := NewBlockList(filepath.Join(t.TempDir(), "blocked.yaml"))
	if err != nil {
		t.Fatalf("NewBlockList: %v", err)
	}
	if err := bl.Unblock("nobody"); err != nil {
		t.Fatalf("Unblock should be a no-op for an unknown requester, got: %v", err)
	}
}

func TestBlockPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocked.yaml")

	bl, err := NewBlockList(path)
	if err != nil {
		t.Fatalf("NewBlockList: %v", err)
	}
	if err := bl.Block("bad-actor", "reason", "operator"); err != nil {
		t.Fatalf("Block: %v", err)
	}

	reloaded, err := NewBlockList(path)
	if err != nil {
		t.Fatalf("NewBlockList (reload): %v", err)
	}
	if !reloaded.IsBlocked("bad-actor") {
		t.Fatal("a freshly loaded BlockList should see the persisted block")
	}
}

func TestReloadPicksUpExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocked.yaml")

	bl, err := NewBlockList(path)
	if err != nil {
		t.Fatalf("NewBlockList: %v", err)
	}
	if err := bl.Block("client-a", "reason", "operator"); err != nil {
		t.Fatalf("Block: %v", err)
	}

	// A second BlockList instance (simulating the `qpe unblock` CLI)
	// edits the file directly; Reload should pick up its state.
	other, err := NewBlockList(path)
	if err != nil {
		t.Fatalf("NewBlockList (other): %v", err)
	}
	if err := other.Unblock("client-a"); err != nil {
		t.Fatalf("Unblock: %v", err)
	}

	if err := bl.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if bl.IsBlocked("client-a") {
		t.Fatal("Reload should have picked up the external unblock")
	}
}
