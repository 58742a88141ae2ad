package workflow

import (
	"errors"
	"fmt"
	"slices"
)

// TransitionRule is one immutable entry of the transition table
type TransitionRule struct {
	From         State  `json:"from" yaml:"from"`
	To           State  `json:"to" yaml:"to"`
	Action       Action `json:"action" yaml:"action"`
	Description  string `json:"description,omitempty" yaml:"description"`
	AllowedRoles []Role `json:"allowed_roles" yaml:"roles"`
	RequiresNote bool   `json:"requires_note" yaml:"requires_note"`
}

// Permits returns true if the role may invoke the rule
func (r TransitionRule) Permits(role Role) bool {
	return slices.Contains(r.AllowedRoles, role)
}

func (r TransitionRule) clone() TransitionRule {
	r.AllowedRoles = slices.Clone(r.AllowedRoles)
	return r
}

type ruleKey struct {
	from   State
	action Action
}

// Catalog is the closed table of legal transitions. It is built once and never mutated.
type Catalog struct {
	initial State
	order   []State
	rules   map[State][]TransitionRule
	index   map[ruleKey]TransitionRule
}

// InitialState returns the state every application starts in
func (c *Catalog) InitialState() State {
	return c.initial
}

// AllStates returns the set of states the catalog covers
func (c *Catalog) AllStates() []State {
	return slices.Clone(c.order)
}

// RulesFor returns the outbound rules of a state; terminal and unknown states yield an empty list
func (c *Catalog) RulesFor(state State) []TransitionRule {
	rules := c.rules[state]
	out := make([]TransitionRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.clone())
	}
	return out
}

// Rule looks up the rule for (from, action)
func (c *Catalog) Rule(from State, action Action) (TransitionRule, bool) {
	r, ok := c.index[ruleKey{from: from, action: action}]
	if !ok {
		return TransitionRule{}, false
	}
	return r.clone(), true
}

// Rules returns every rule, grouped by source state in catalog order
func (c *Catalog) Rules() []TransitionRule {
	var out []TransitionRule
	for _, s := range c.order {
		out = append(out, c.RulesFor(s)...)
	}
	return out
}

// AvailableActions returns the rules the role may invoke from the given state
func (c *Catalog) AvailableActions(state State, role Role) []TransitionRule {
	var out []TransitionRule
	for _, r := range c.rules[state] {
		if r.Permits(role) {
			out = append(out, r.clone())
		}
	}
	return out
}

// HasWriteAccess returns true if the role appears on at least one rule
func (c *Catalog) HasWriteAccess(role Role) bool {
	for _, r := range c.index {
		if r.Permits(role) {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the state has no outbound rules
func (c *Catalog) IsTerminal(state State) bool {
	return len(c.rules[state]) == 0
}

// TerminalStates returns the states with no outbound rules, in catalog order
func (c *Catalog) TerminalStates() []State {
	var out []State
	for _, s := range c.order {
		if c.IsTerminal(s) {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks the table is closed, complete and reachable
func (c *Catalog) Validate() error {
	var errs []error

	if !c.initial.IsValid() {
		errs = append(errs, fmt.Errorf("initial state %q is not a known state", c.initial))
	}

	for _, s := range c.order {
		rules := c.rules[s]
		if s.IsTerminal() && len(rules) > 0 {
			errs = append(errs, fmt.Errorf("terminal state %s has %d outbound rules", s, len(rules)))
		}
		if !s.IsTerminal() && len(rules) == 0 {
			errs = append(errs, fmt.Errorf("state %s has no outbound rule", s))
		}
		for _, r := range rules {
			if !r.To.IsValid() {
				errs = append(errs, fmt.Errorf("rule %s from %s targets unknown state %q", r.Action, s, r.To))
			}
			if len(r.AllowedRoles) == 0 {
				errs = append(errs, fmt.Errorf("rule %s from %s allows no role", r.Action, s))
			}
			for _, role := range r.AllowedRoles {
				if !role.IsValid() {
					errs = append(errs, fmt.Errorf("rule %s from %s lists unknown role %q", r.Action, s, role))
				}
			}
		}
	}

	reached := map[State]bool{c.initial: true}
	queue := []State{c.initial}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for _, r := range c.rules[s] {
			if len(r.AllowedRoles) == 0 || reached[r.To] {
				continue
			}
			reached[r.To] = true
			queue = append(queue, r.To)
		}
	}
	for _, s := range c.order {
		if !reached[s] {
			errs = append(errs, fmt.Errorf("state %s is unreachable from %s", s, c.initial))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidCatalog, errors.Join(errs...))
	}
	return nil
}
