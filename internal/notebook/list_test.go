package notebook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordChanges[T any](l *List[T]) *[]ListChange[T] {
	var got []ListChange[T]
	l.Changed.Connect(func(ch ListChange[T]) { got = append(got, ch) })
	return &got
}

func TestList_InsertEmitsAdd(t *testing.T) {
	l := NewList("a", "c")
	got := recordChanges(l)

	l.Insert(1, "b")

	assert.Equal(t, []string{"a", "b", "c"}, l.Items())
	require.Len(t, *got, 1)
	assert.Equal(t, ChangeAdd, (*got)[0].Type)
	assert.Equal(t, 1, (*got)[0].NewIndex)
	assert.Equal(t, []string{"b"}, (*got)[0].NewValues)
}

func TestList_RemoveOutOfRange(t *testing.T) {
	l := NewList(1, 2)
	got := recordChanges(l)

	_, ok := l.Remove(5)
	assert.False(t, ok)
	assert.Empty(t, *got)

	v, ok := l.Remove(0)
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, []int{2}, l.Items())
}

func TestList_Move(t *testing.T) {
	tests := []struct {
		name     string
		from, to int
		want     []string
	}{
		{"forward", 0, 2, []string{"b", "c", "a", "d"}},
		{"backward", 3, 1, []string{"a", "d", "b", "c"}},
		{"to end", 1, 3, []string{"a", "c", "d", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewList("a", "b", "c", "d")
			got := recordChanges(l)

			require.True(t, l.Move(tt.from, tt.to))
			assert.Equal(t, tt.want, l.Items())
			require.Len(t, *got, 1)
			assert.Equal(t, ChangeMove, (*got)[0].Type)
			assert.Equal(t, tt.from, (*got)[0].OldIndex)
			assert.Equal(t, tt.to, (*got)[0].NewIndex)
		})
	}
}

func TestList_SetAndClear(t *testing.T) {
	l := NewList("x", "y")
	got := recordChanges(l)

	require.True(t, l.Set(1, "z"))
	l.Clear()
	l.Clear()

	require.Len(t, *got, 2)
	assert.Equal(t, ChangeSet, (*got)[0].Type)
	assert.Equal(t, []string{"y"}, (*got)[0].OldValues)
	assert.Equal(t, ChangeRemove, (*got)[1].Type)
	assert.Equal(t, []string{"x", "z"}, (*got)[1].OldValues)
	assert.Equal(t, 0, l.Len())
}
