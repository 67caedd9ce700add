package fsm

import (
	"context"
	"fmt"
	"time"
)

// Iterator runs a contained state once per element of a sequence. Before
// each run the element is handed to bind, so the contained machine starts
// from its initial state with fresh input. The loop continues while the
// contained state returns the loop outcome; any other outcome ends the
// iteration and is returned as is. Once the sequence is exhausted the
// iterator returns its exhausted outcome.
type Iterator[T any] struct {
	name      string
	items     func() []T
	bind      func(index int, item T)
	container State
	loop      Outcome
	exhausted Outcome

	now       func() time.Time
	observers []Observer
}

// NewIterator creates an iterator. items is evaluated when the iterator
// executes, not when it is built, so it can read data produced by earlier
// states.
func NewIterator[T any](name string, items func() []T, bind func(int, T), container State, loop, exhausted Outcome) *Iterator[T] {
	it := &Iterator[T]{
		name:      name,
		items:     items,
		bind:      bind,
		container: container,
		loop:      loop,
		exhausted: exhausted,
		now:       time.Now,
	}
	return it
}

// Name returns the iterator name.
func (it *Iterator[T]) Name() string {
	return it.name
}

// Observe registers o here and on the contained state.
func (it *Iterator[T]) Observe(o Observer) {
	it.observers = append(it.observers, o)
	if child, ok := it.container.(observable); ok {
		child.Observe(o)
	}
}

func (it *Iterator[T]) useClock(now func() time.Time) {
	it.now = now
	if child, ok := it.container.(observable); ok {
		child.useClock(now)
	}
}

// Execute runs the contained state over every element.
func (it *Iterator[T]) Execute(ctx context.Context) (Outcome, error) {
	items := it.items()
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if it.bind != nil {
			it.bind(i, item)
		}

		outcome, err := it.container.Execute(ctx)
		from := fmt.Sprintf("CONTAINER_STATE[%d]", i)
		if outcome == it.loop {
			it.emit(Transition{Machine: it.name, From: from, Outcome: outcome, To: from, At: it.now(), Err: errString(err)})
			continue
		}
		if outcome != "" {
			it.emit(Transition{Machine: it.name, From: from, Outcome: outcome, To: string(outcome), At: it.now(), Err: errString(err)})
		}
		if err != nil {
			err = fmt.Errorf("%s element %d: %w", it.name, i, err)
		}
		return outcome, err
	}
	return it.exhausted, nil
}

func (it *Iterator[T]) emit(t Transition) {
	for _, o := range it.observers {
		o(t)
	}
}
