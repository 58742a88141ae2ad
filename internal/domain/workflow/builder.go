package workflow

import (
	"errors"
	"fmt"
	"slices"
)

// CatalogBuilder builds a validated transition catalog
type CatalogBuilder interface {
	// Configure returns a state configuration for the given state
	Configure(state State) StateConfiguration

	// Build freezes the configured rules into a validated Catalog
	Build() (*Catalog, error)
}

// StateConfiguration configures the outbound rules of a specific state
type StateConfiguration interface {
	// Permit allows the roles to move the state to toState through action
	Permit(action Action, toState State, roles ...Role) StateConfiguration

	// PermitWithNote is Permit for transitions that need a non-empty note
	PermitWithNote(action Action, toState State, roles ...Role) StateConfiguration

	// Describe attaches a human description to the rule for action
	Describe(action Action, description string) StateConfiguration
}

// stateConfig implements StateConfiguration
type stateConfig struct {
	builder   *catalogBuilder
	fromState State
	rules     []TransitionRule
}

// catalogBuilder implements CatalogBuilder
type catalogBuilder struct {
	initial        State
	order          []State
	configurations map[State]*stateConfig
	errs           []error
}

// NewBuilder creates a builder whose catalog starts applications in initial
func NewBuilder(initial State) CatalogBuilder {
	b := &catalogBuilder{
		initial:        initial,
		configurations: make(map[State]*stateConfig),
	}
	for _, s := range AllStates() {
		b.Configure(s)
	}
	return b
}

// Configure returns a state configuration for the given state
func (b *catalogBuilder) Configure(state State) StateConfiguration {
	config, exists := b.configurations[state]
	if exists {
		return config
	}

	if !state.IsValid() {
		b.errs = append(b.errs, fmt.Errorf("%w: %q", ErrInvalidState, state))
	}
	config = &stateConfig{
		builder:   b,
		fromState: state,
	}
	b.configurations[state] = config
	b.order = append(b.order, state)

	return config
}

// Build freezes the configured rules into a validated Catalog
func (b *catalogBuilder) Build() (*Catalog, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, errors.Join(b.errs...))
	}

	c := &Catalog{
		initial: b.initial,
		order:   slices.Clone(b.order),
		rules:   make(map[State][]TransitionRule, len(b.configurations)),
		index:   make(map[ruleKey]TransitionRule),
	}
	for state, config := range b.configurations {
		rules := make([]TransitionRule, 0, len(config.rules))
		for _, r := range config.rules {
			r = r.clone()
			rules = append(rules, r)
			c.index[ruleKey{from: state, action: r.Action}] = r
		}
		c.rules[state] = rules
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Permit allows the roles to move the state to toState through action
func (c *stateConfig) Permit(action Action, toState State, roles ...Role) StateConfiguration {
	return c.add(action, toState, false, roles)
}

// PermitWithNote is Permit for transitions that need a non-empty note
func (c *stateConfig) PermitWithNote(action Action, toState State, roles ...Role) StateConfiguration {
	return c.add(action, toState, true, roles)
}

// Describe attaches a human description to the rule for action
func (c *stateConfig) Describe(action Action, description string) StateConfiguration {
	for i := range c.rules {
		if c.rules[i].Action == action {
			c.rules[i].Description = description
			return c
		}
	}
	c.builder.errs = append(c.builder.errs, fmt.Errorf("describe: no rule %s from %s", action, c.fromState))
	return c
}

func (c *stateConfig) add(action Action, toState State, requiresNote bool, roles []Role) StateConfiguration {
	if !action.IsValid() {
		c.builder.errs = append(c.builder.errs, fmt.Errorf("%w: %q from %s", ErrInvalidAction, action, c.fromState))
	}
	if !toState.IsValid() {
		c.builder.errs = append(c.builder.errs, fmt.Errorf("%w: target %q of %s from %s", ErrInvalidState, toState, action, c.fromState))
	}
	for _, r := range c.rules {
		if r.Action == action {
			c.builder.errs = append(c.builder.errs, fmt.Errorf("duplicate rule %s from %s", action, c.fromState))
			return c
		}
	}

	c.rules = append(c.rules, TransitionRule{
		From:         c.fromState,
		To:           toState,
		Action:       action,
		AllowedRoles: slices.Clone(roles),
		RequiresNote: requiresNote,
	})

	return c
}
