// Package requester tracks who is sending utterances to the engine and
// enforces an operator-maintained block-list. Retargeted from the
// teacher's internal/agent package: Registry replaces per-agent LLM
// stats with per-requester utterance counters, and BlockList replaces
// the agent kill switch with a requester deny-list.
//
// A requester is identified by the X-Requester-Id header if present,
// otherwise by remote address — see the surrounding-components table in
// SPEC_FULL.md's System Overview.
package requester

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Requester is one tracked caller of the /{text} utterance endpoint.
type Requester struct {
	ID             string    `yaml:"-" json:"id"`
	FirstSeen      time.Time `yaml:"first_seen" json:"first_seen"`
	LastSeen       time.Time `yaml:"last_seen" json:"last_seen"`
	UtteranceCount uint64    `yaml:"utterance_count" json:"utterance_count"`
	LastDecision   string    `yaml:"last_decision" json:"last_decision"`
}

// Registry manages the set of known requesters and their counters.
// Thread-safe — Touch is called concurrently from HTTP handler
// goroutines.
type Registry struct {
	mu         sync.RWMutex
	requesters map[string]*Requester
	path       string
}

type registryFile struct {
	Requesters map[string]*Requester `yaml:"requesters"`
}

// NewRegistry loads the requester registry from the given YAML file
// path. If the file doesn't exist, returns an empty registry.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{
		requesters: make(map[string]*Requester),
		path:       path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("reading requester registry %s: %w", path, err)
	}
	if len(data) == 0 {
		return r, nil
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing requester registry %s: %w", path, err)
	}

	for id, req := range file.Requesters {
		if req == nil {
			continue
		}
		req.ID = id
		r.requesters[id] = req
	}

	slog.Info("requester registry loaded", "requesters", len(r.requesters), "path", path)
	return r, nil
}

// List returns all tracked requesters, sorted alphabetically by ID.
func (r *Registry) List() []Requester {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Requester, 0, len(r.requesters))
	for _, req := range r.requesters {
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the requester with the given ID, or an error if unknown.
func (r *Registry) Get(id string) (Requester, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.requesters[id]
	if !ok {
		return Requester{}, fmt.Errorf("requester %q not found", id)
	}
	return *req, nil
}

// Touch records one utterance from id, auto-registering it on first
// contact, and records the outcome of resolving it (e.g. "ok", "error") as
// LastDecision.
func (r *Registry) Touch(id, decision string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	req, ok := r.requesters[id]
	if !ok {
		req = &Requester{ID: id, FirstSeen: now}
		r.requesters[id] = req
		slog.Info("new requester registered", "requester", id)
	}

	req.LastSeen = now
	req.UtteranceCount++
	req.LastDecision = decision
}

// Save persists the current registry state to disk.
func (r *Registry) Save() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	file := registryFile{Requesters: r.requesters}
	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("marshaling requester registry: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("writing requester registry %s: %w", r.path, err)
	}
	return nil
}
