// Package pipeline drives the five stages of an outlier scan, one isolated
// process per stage, through a validated state machine.
package pipeline

import (
	"fmt"

	"outlierscan/internal/stage"
)

// State is a controller state.
type State string

const (
	StateInit   State = "Init"
	StateStage1 State = "Stage1"
	StateStage2 State = "Stage2"
	StateStage3 State = "Stage3"
	StateStage4 State = "Stage4"
	StateStage5 State = "Stage5"
	StateDone   State = "Done"
	StateFailed State = "Failed"
)

// StateFor returns the state in which stage id runs.
func StateFor(id stage.ID) State {
	return State(fmt.Sprintf("Stage%d", int(id)))
}

// IsTerminal reports whether s ends the run.
func IsTerminal(s State) bool {
	return s == StateDone || s == StateFailed
}

// next is the only forward edge out of each non-terminal state.
var next = map[State]State{
	StateInit:   StateStage1,
	StateStage1: StateStage2,
	StateStage2: StateStage3,
	StateStage3: StateStage4,
	StateStage4: StateStage5,
	StateStage5: StateDone,
}

// Machine tracks the state of one run. It is not safe for concurrent use;
// the controller is its only writer.
type Machine struct {
	state   State
	history []State
}

// NewMachine returns a machine in StateInit.
func NewMachine() *Machine {
	return &Machine{state: StateInit, history: []State{StateInit}}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// History returns every state visited, in order.
func (m *Machine) History() []State {
	out := make([]State, len(m.history))
	copy(out, m.history)
	return out
}

// Transition moves to `to` if the edge is allowed: one step forward, or to
// StateFailed from any non-terminal state. Terminal states are absorbing.
func (m *Machine) Transition(to State) error {
	if IsTerminal(m.state) {
		return fmt.Errorf("disallowed transition: %s is terminal (attempted %s)", m.state, to)
	}
	if to != StateFailed && next[m.state] != to {
		return fmt.Errorf("disallowed transition: %s -> %s", m.state, to)
	}
	m.state = to
	m.history = append(m.history, to)
	return nil
}
