package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuffer_EvictsOldest(t *testing.T) {
	b := New[int](3)
	for i := 1; i <= 5; i++ {
		b.Push(i)
	}
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, int64(5), b.Total())
	assert.Equal(t, []int{3, 4, 5}, b.Snapshot())
	assert.Equal(t, []int{5, 4}, b.Recent(2))
	assert.Equal(t, []int{5, 4, 3}, b.Recent(0))
}

func TestBuffer_PartiallyFilled(t *testing.T) {
	b := New[string](4)
	b.Push("a")
	b.Push("b")
	assert.Equal(t, []string{"a", "b"}, b.Snapshot())
	assert.Equal(t, []string{"b", "a"}, b.Recent(10))
}
