package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStackPopOrder(t *testing.T) {
	s := NewStack([]string{"A", "B", "C"})

	got, ok := s.Pop()
	assert.True(t, ok)
	assert.Equal(t, "C", got)
	assert.Equal(t, 2, s.Len())

	s.Push("C")
	got, _ = s.Pop()
	assert.Equal(t, "C", got, "pushed-back item is popped next")

	got, _ = s.Pop()
	assert.Equal(t, "B", got)
	got, _ = s.Pop()
	assert.Equal(t, "A", got)

	_, ok = s.Pop()
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestStackDoesNotAliasInput(t *testing.T) {
	in := []string{"1", "2"}
	s := NewStack(in)
	in[1] = "changed"

	got, _ := s.Pop()
	assert.Equal(t, "2", got)

	items := s.Items()
	items[0] = "mutated"
	assert.Equal(t, []string{"1"}, s.Items())
}
