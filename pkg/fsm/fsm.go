// Package fsm is a small hierarchical state machine kernel. A Machine is an
// explicit transition table from (state, outcome) to the next state or to one
// of the machine's own outcomes. A Machine is itself a State, so machines nest;
// an Iterator runs a contained state once per element of a sequence.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Common errors
var (
	ErrNoTransition   = errors.New("no transition for outcome")
	ErrInvalidMachine = errors.New("invalid state machine")
)

// Outcome is the label a state returns when it finishes.
type Outcome string

// State is one step of a machine.
//
// A state always reports an outcome; the error carries diagnostics for it
// (for example the timeout that produced a failure outcome). An empty outcome
// together with a non-nil error aborts the enclosing machine.
type State interface {
	Execute(ctx context.Context) (Outcome, error)
}

// StateFunc adapts a function to State.
type StateFunc func(ctx context.Context) (Outcome, error)

// Execute calls f.
func (f StateFunc) Execute(ctx context.Context) (Outcome, error) {
	return f(ctx)
}

// Transition records one step taken by a machine.
type Transition struct {
	RunID   string    `json:"run_id,omitempty"`
	Machine string    `json:"machine"`
	From    string    `json:"from"`
	Outcome Outcome   `json:"outcome"`
	To      string    `json:"to"`
	At      time.Time `json:"at"`
	Err     string    `json:"error,omitempty"`
}

// TerminationHook runs when a machine stops, with the terminal outcome ("" on
// abort). Its error is joined into the machine's error.
type TerminationHook func(ctx context.Context, outcome Outcome) error

// Observer receives every transition of a machine and of its nested machines.
type Observer func(Transition)

// observable is implemented by states that emit transitions themselves.
type observable interface {
	Observe(o Observer)
	useClock(now func() time.Time)
}

// Transitions maps the outcomes of a state to the next state name or to an
// outcome of the enclosing machine.
type Transitions map[Outcome]string

// Machine is a finite state machine with named states.
type Machine struct {
	name     string
	outcomes map[Outcome]bool
	initial  string
	order    []string
	states   map[string]State
	table    map[string]Transitions

	now         func() time.Time
	observers   []Observer
	onTerminate []TerminationHook

	mu      sync.RWMutex
	current string
}

// NewMachine creates a machine that terminates with one of outcomes.
func NewMachine(name string, outcomes ...Outcome) *Machine {
	m := &Machine{
		name:     name,
		outcomes: make(map[Outcome]bool, len(outcomes)),
		states:   make(map[string]State),
		table:    make(map[string]Transitions),
		now:      time.Now,
	}
	for _, o := range outcomes {
		m.outcomes[o] = true
	}
	return m
}

// Name returns the machine name.
func (m *Machine) Name() string {
	return m.name
}

// Add registers a state. The first state added is the initial state.
func (m *Machine) Add(name string, s State, transitions Transitions) *Machine {
	if _, exists := m.states[name]; !exists {
		m.order = append(m.order, name)
	}
	if m.initial == "" {
		m.initial = name
	}
	m.states[name] = s
	m.table[name] = transitions
	if child, ok := s.(observable); ok {
		child.useClock(m.now)
		for _, o := range m.observers {
			child.Observe(o)
		}
	}
	return m
}

// SetInitial overrides the initial state.
func (m *Machine) SetInitial(name string) *Machine {
	m.initial = name
	return m
}

// SetClock replaces the time source used to stamp transitions, here and in
// nested machines.
func (m *Machine) SetClock(now func() time.Time) *Machine {
	m.useClock(now)
	return m
}

func (m *Machine) useClock(now func() time.Time) {
	m.now = now
	for _, s := range m.states {
		if child, ok := s.(observable); ok {
			child.useClock(now)
		}
	}
}

// Observe registers o on this machine and on every nested machine or
// iterator, including ones added later.
func (m *Machine) Observe(o Observer) {
	m.observers = append(m.observers, o)
	for _, s := range m.states {
		if child, ok := s.(observable); ok {
			child.Observe(o)
		}
	}
}

// OnTerminate registers a hook run every time Execute returns, whatever the
// outcome.
func (m *Machine) OnTerminate(hook TerminationHook) *Machine {
	m.onTerminate = append(m.onTerminate, hook)
	return m
}

// Current returns the state being executed, or "" when idle.
func (m *Machine) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// States returns the state names in insertion order.
func (m *Machine) States() []string {
	return append([]string(nil), m.order...)
}

// Validate checks that the machine has an initial state and that every
// transition targets a known state or machine outcome.
func (m *Machine) Validate() error {
	if m.initial == "" {
		return fmt.Errorf("%w: %s has no states", ErrInvalidMachine, m.name)
	}
	if _, ok := m.states[m.initial]; !ok {
		return fmt.Errorf("%w: %s initial state %q is not registered", ErrInvalidMachine, m.name, m.initial)
	}
	for _, name := range m.order {
		if m.outcomes[Outcome(name)] {
			return fmt.Errorf("%w: %s state %q shadows a machine outcome", ErrInvalidMachine, m.name, name)
		}
		for outcome, target := range m.table[name] {
			_, isState := m.states[target]
			if !isState && !m.outcomes[Outcome(target)] {
				return fmt.Errorf("%w: %s.%s outcome %q targets unknown %q", ErrInvalidMachine, m.name, name, outcome, target)
			}
		}
	}
	return nil
}

// Execute runs the machine from its initial state until it reaches one of
// its outcomes. Errors reported by states along the way are joined into the
// returned error; the outcome is still the terminal one.
func (m *Machine) Execute(ctx context.Context) (Outcome, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	defer m.setCurrent("")

	outcome, err := m.run(ctx)
	for _, hook := range m.onTerminate {
		if herr := hook(ctx, outcome); herr != nil {
			err = errors.Join(err, fmt.Errorf("%s termination: %w", m.name, herr))
		}
	}
	return outcome, err
}

func (m *Machine) run(ctx context.Context) (Outcome, error) {
	var errs []error
	name := m.initial
	for {
		m.setCurrent(name)
		outcome, err := m.states[name].Execute(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s.%s: %w", m.name, name, err))
		}
		if outcome == "" {
			if err == nil {
				errs = append(errs, fmt.Errorf("%w: %s.%s returned an empty outcome", ErrNoTransition, m.name, name))
			}
			return "", errors.Join(errs...)
		}

		target, ok := m.table[name][outcome]
		if !ok {
			if !m.outcomes[outcome] {
				errs = append(errs, fmt.Errorf("%w: %s.%s -> %q", ErrNoTransition, m.name, name, outcome))
				return "", errors.Join(errs...)
			}
			target = string(outcome)
		}

		m.emit(Transition{Machine: m.name, From: name, Outcome: outcome, To: target, At: m.now(), Err: errString(err)})

		if m.outcomes[Outcome(target)] {
			return Outcome(target), errors.Join(errs...)
		}
		name = target
	}
}

func (m *Machine) setCurrent(name string) {
	m.mu.Lock()
	m.current = name
	m.mu.Unlock()
}

func (m *Machine) emit(t Transition) {
	for _, o := range m.observers {
		o(t)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
