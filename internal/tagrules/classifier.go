package tagrules

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Classifier evaluates a tag name against the combined built-in and
// custom rule set, first match wins, default ClassUnrecognized. Thread
// safe — Classify is called concurrently from builder goroutines across
// uploads, Reload is called by the config file watcher.
//
// Grounded on the teacher's engine.Engine: same RWMutex-guarded
// rebuild-on-load structure, just evaluating tag names instead of tool
// calls.
type Classifier struct {
	mu             sync.RWMutex
	rules          []Rule
	customRules    []Rule
	builtinToggles map[string]bool
}

// rulesFile is the YAML envelope for tagrules.yaml.
type rulesFile struct {
	Rules   []Rule          `yaml:"rules"`
	Builtin map[string]bool `yaml:"builtin"`
}

// New creates a Classifier, loading custom rules from path. A missing
// file is not an error — the built-in vocabulary alone is a complete,
// working classifier.
func New(path string) (*Classifier, error) {
	c := &Classifier{}
	if err := c.load(path); err != nil {
		return nil, err
	}
	return c, nil
}

// Default returns a Classifier with only the built-in tag vocabulary,
// for callers (tests, ad hoc tooling) that don't need a rules file.
func Default() *Classifier {
	c := &Classifier{}
	c.builtinToggles = defaultBuiltinToggles()
	c.rebuild()
	return c
}

// Classify returns the NodeClass for a tag name, or ClassUnrecognized if
// no rule matches. Unrecognized tags are tolerated by the builder, not
// an error — this mirrors spec.md's "unrecognized tags are tolerated".
func (c *Classifier) Classify(name string) NodeClass {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, r := range c.rules {
		if matches(&r, name) {
			return r.Class
		}
	}
	return ClassUnrecognized
}

// Reload re-reads path and rebuilds the rule set. Called by the config
// file watcher when tagrules.yaml changes.
func (c *Classifier) Reload(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadUnlocked(path)
}

func (c *Classifier) load(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadUnlocked(path)
}

func (c *Classifier) loadUnlocked(path string) error {
	customRules, builtinToggles, err := loadRulesFromFile(path)
	if err != nil {
		return err
	}

	defaults := defaultBuiltinToggles()
	if builtinToggles == nil {
		builtinToggles = defaults
	} else {
		for name, def := range defaults {
			if _, ok := builtinToggles[name]; !ok {
				builtinToggles[name] = def
			}
		}
	}

	for i := range customRules {
		if err := compile(&customRules[i]); err != nil {
			return err
		}
	}

	c.customRules = customRules
	c.builtinToggles = builtinToggles
	c.rebuild()
	return nil
}

func (c *Classifier) rebuild() {
	var combined []Rule
	for _, r := range builtinRules() {
		enabled, exists := c.builtinToggles[r.Name]
		if !exists {
			enabled = true
		}
		if !enabled {
			continue
		}
		if err := compile(&r); err != nil {
			continue
		}
		combined = append(combined, r)
	}
	combined = append(combined, c.customRules...)
	c.rules = combined
}

func loadRulesFromFile(path string) ([]Rule, map[string]bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("reading tag rules %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil, nil
	}

	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parsing tag rules %s: %w", path, err)
	}
	return f.Rules, f.Builtin, nil
}

// WriteDefault writes a tagrules.yaml with every built-in rule enabled
// and no custom rules.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(&rulesFile{Builtin: defaultBuiltinToggles()})
	if err != nil {
		return err
	}
	header := "# qpe tag classification rules\n# Custom rules extend recognition beyond the built-in vocabulary.\n\n"
	return os.WriteFile(path, []byte(header+string(data)), 0o644)
}
