// Package queue holds the pending worklist of identifiers awaiting removal.
package queue

// Stack is a LIFO worklist. It is not safe for concurrent use; the owner
// serializes access.
type Stack[T any] struct {
	items []T
}

// NewStack returns a stack seeded with items. The last element of items is
// popped first.
func NewStack[T any](items []T) *Stack[T] {
	s := &Stack[T]{items: make([]T, len(items))}
	copy(s.items, items)
	return s
}

// Pop removes and returns the most recently added item.
func (s *Stack[T]) Pop() (T, bool) {
	var zero T
	if len(s.items) == 0 {
		return zero, false
	}
	last := len(s.items) - 1
	item := s.items[last]
	s.items[last] = zero
	s.items = s.items[:last]
	return item, true
}

// Push appends item; it will be the next one popped.
func (s *Stack[T]) Push(item T) {
	s.items = append(s.items, item)
}

// Len returns the number of pending items.
func (s *Stack[T]) Len() int {
	return len(s.items)
}

// Items returns a copy of the pending items, bottom first.
func (s *Stack[T]) Items() []T {
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}
