package requester

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// BlockedEntry is one requester deny-list record in blocked.yaml.
type BlockedEntry struct {
	Requester string    `yaml:"requester"`
	BlockedAt time.Time `yaml:"blocked_at"`
	Reason    string    `yaml:"reason"`
	BlockedBy string    `yaml:"blocked_by"`
}

// BlockList manages the set of blocked requesters: utterances from a
// blocked requester are rejected before they ever reach the NLU client
// or the resolver (see SPEC_FULL.md §7). Persists to blocked.yaml and
// hot-reloads via config.Watcher, the same way the teacher's KillSwitch
// reloads killed.yaml on an fsnotify event — `qpe block`/`qpe unblock`
// take effect without restarting the server.
type BlockList struct {
	mu      sync.RWMutex
	blocked map[string]BlockedEntry
	entries []BlockedEntry
	path    string
}

// NewBlockList loads the block-list from the given YAML file. A missing
// file means nobody is blocked.
func NewBlockList(path string) (*BlockList, error) {
	bl := &BlockList{
		blocked: make(map[string]BlockedEntry),
		path:    path,
	}
	if err := bl.loadFromFile(); err != nil {
		return nil, err
	}
	return bl, nil
}

// IsBlocked reports whether id is currently on the block-list. Called on
// every utterance request, so it stays O(1) under a read lock.
func (bl *BlockList) IsBlocked(id string) bool {
	bl.mu.RLock()
	defer bl.mu.RUnlock()
	_, blocked := bl.blocked[id]
	return blocked
}

// Block adds id to the deny-list and persists it. A no-op if already blocked.
func (bl *BlockList) Block(id, reason, by string) error {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	if _, exists := bl.blocked[id]; exists {
		return nil
	}

	entry := BlockedEntry{
		Requester: id,
		BlockedAt: time.Now().UTC(),
		Reason:    reason,
		BlockedBy: by,
	}
	bl.blocked[id] = entry
	bl.entries = append(bl.entries, entry)

	slog.Warn("requester blocked", "requester", id, "reason", reason, "by", by)
	return bl.saveToFile()
}

// Unblock removes id from the deny-list and persists. A no-op if not blocked.
func (bl *BlockList) Unblock(id string) error {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	if _, exists := bl.blocked[id]; !exists {
		return nil
	}
	delete(bl.blocked, id)

	filtered := make([]BlockedEntry, 0, len(bl.entries))
	for _, e := range bl.entries {
		if e.Requester != id {
			filtered = append(filtered, e)
		}
	}
	bl.entries = filtered

	slog.Info("requester unblocked", "requester", id)
	return bl.saveToFile()
}

// Reload re-reads blocked.yaml from disk, replacing the in-memory state.
// Called by the config file watcher when blocked.yaml changes.
func (bl *BlockList) Reload() error {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	bl.blocked = make(map[string]BlockedEntry)
	bl.entries = nil

	if err := bl.loadFromFile(); err != nil {
		return err
	}
	slog.Info("block-list reloaded", "blocked_requesters", len(bl.blocked))
	return nil
}

// loadFromFile is not thread-safe — caller must hold the mutex.
func (bl *BlockList) loadFromFile() error {
	data, err := os.ReadFile(bl.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading block-list %s: %w", bl.path, err)
	}
	if len(data) == 0 {
		return nil
	}

	var entries []BlockedEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parsing block-list %s: %w", bl.path, err)
	}

	bl.entries = entries
	for _, e := range entries {
		bl.blocked[e.Requester] = e
	}
	return nil
}

// saveToFile is not thread-safe — caller must hold the mutex.
func (bl *BlockList) saveToFile() error {
	if len(bl.entries) == 0 {
		return os.WriteFile(bl.path, []byte(""), 0o644)
	}

	data, err := yaml.Marshal(bl.entries)
	if err != nil {
		return fmt.Errorf("marshaling block-list: %w", err)
	}
	return os.WriteFile(bl.path, data, 0o644)
}
