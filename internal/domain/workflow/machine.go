package workflow

import (
	"context"
	"fmt"
)

// StateMachine tracks a current state and moves it along catalog rules
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the action is permitted in the current state
	CanFire(action Action) bool

	// Fire attempts to execute the action, transitioning to the new state if allowed
	Fire(ctx context.Context, action Action) error

	// PermittedActions returns all actions that can be fired in the current state
	PermittedActions() []Action
}

// stateMachine implements StateMachine
type stateMachine struct {
	currentState State
	catalog      *Catalog
}

// NewMachine creates a state machine over the catalog starting at initialState
func NewMachine(catalog *Catalog, initialState State) (StateMachine, error) {
	if !initialState.IsValid() {
		return nil, fmt.Errorf("%w: initial state %q", ErrInvalidState, initialState)
	}
	return &stateMachine{
		currentState: initialState,
		catalog:      catalog,
	}, nil
}

// State returns the current state
func (m *stateMachine) State() State {
	return m.currentState
}

// CanFire returns true if the action is permitted in the current state
func (m *stateMachine) CanFire(action Action) bool {
	_, ok := m.catalog.Rule(m.currentState, action)
	return ok
}

// Fire attempts to execute the action, transitioning to the new state if allowed
func (m *stateMachine) Fire(ctx context.Context, action Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rule, ok := m.catalog.Rule(m.currentState, action)
	if !ok {
		return fmt.Errorf("%w: cannot fire %s from state %s", ErrInvalidTransition, action, m.currentState)
	}

	m.currentState = rule.To
	return nil
}

// PermittedActions returns all actions that can be fired in the current state
func (m *stateMachine) PermittedActions() []Action {
	rules := m.catalog.RulesFor(m.currentState)
	actions := make([]Action, 0, len(rules))
	for _, r := range rules {
		actions = append(actions, r.Action)
	}
	return actions
}

// Step is one recorded move used when replaying an audit trail
type Step struct {
	From   State
	To     State
	Action Action
}

// Replay folds steps from the catalog's initial state and returns the state reached.
// It fails if a step does not start where the previous one ended or disagrees with the catalog.
func Replay(ctx context.Context, catalog *Catalog, steps []Step) (State, error) {
	machine, err := NewMachine(catalog, catalog.InitialState())
	if err != nil {
		return "", err
	}

	for i, step := range steps {
		if step.From != machine.State() {
			return machine.State(), fmt.Errorf("%w: step %d starts at %s but trail is at %s",
				ErrInvalidTransition, i, step.From, machine.State())
		}
		if err := machine.Fire(ctx, step.Action); err != nil {
			return machine.State(), fmt.Errorf("step %d: %w", i, err)
		}
		if machine.State() != step.To {
			return machine.State(), fmt.Errorf("%w: step %d recorded %s but %s leads to %s",
				ErrInvalidTransition, i, step.To, step.Action, machine.State())
		}
	}

	return machine.State(), nil
}
