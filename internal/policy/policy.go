// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
)

// Policy approves tool invocations matching configured or remembered rules.
// It is safe for concurrent use.
type Policy struct {
	store *Store

	mu         sync.RWMutex
	static     []Rule
	remembered []Rule
}

// New creates a policy from configured rules. store may be nil, in which
// case remembered rules last only for the life of the process.
func New(rules []string, store *Store) (*Policy, error) {
	static, err := ParseRules(rules)
	if err != nil {
		return nil, err
	}
	p := &Policy{store: store, static: static}
	if store != nil {
		remembered, err := store.List()
		if err != nil {
			return nil, fmt.Errorf("loading remembered rules: %w", err)
		}
		p.remembered = remembered
	}
	return p, nil
}

// SetRules replaces the configured rules. Remembered rules are kept.
func (p *Policy) SetRules(rules []string) error {
	static, err := ParseRules(rules)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.static = static
	p.mu.Unlock()
	return nil
}

// Allows reports whether any rule permits the invocation.
func (p *Policy) Allows(tool string, input json.RawMessage) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, r := range p.static {
		if r.Matches(tool, input) {
			return true
		}
	}
	for _, r := range p.remembered {
		if r.Matches(tool, input) {
			return true
		}
	}
	return false
}

// Remember records the rule derived from an approved invocation and returns
// it.
func (p *Policy) Remember(tool string, input json.RawMessage) (Rule, error) {
	r := RuleFor(tool, input)

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.remembered {
		if existing == r {
			return r, nil
		}
	}
	if p.store != nil {
		if err := p.store.Add(r); err != nil {
			return r, fmt.Errorf("storing rule %s: %w", r, err)
		}
	}
	p.remembered = append(p.remembered, r)
	log.Printf("policy: remembered %s", r)
	return r, nil
}

// Forget drops a remembered rule.
func (p *Policy) Forget(r Rule) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.remembered[:0]
	for _, existing := range p.remembered {
		if existing != r {
			kept = append(kept, existing)
		}
	}
	p.remembered = kept
	if p.store != nil {
		return p.store.Delete(r)
	}
	return nil
}

// Rules returns configured rules followed by remembered ones.
func (p *Policy) Rules() []Rule {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Rule, 0, len(p.static)+len(p.remembered))
	out = append(out, p.static...)
	return append(out, p.remembered...)
}
