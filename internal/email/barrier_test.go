package email

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinBarrierEitherOrder(t *testing.T) {
	for _, leftFirst := range []bool{true, false} {
		var got []string
		b := newJoinBarrier(func(a int, s string) {
			got = append(got, s)
			assert.Equal(t, 7, a)
		})

		if leftFirst {
			b.setLeft(7)
			assert.Empty(t, got)
			b.setRight("body")
		} else {
			b.setRight("body")
			assert.Empty(t, got)
			b.setLeft(7)
		}
		assert.Equal(t, []string{"body"}, got)
	}
}

func TestJoinBarrierIgnoresDuplicates(t *testing.T) {
	var fired int
	var seen string
	b := newJoinBarrier(func(_ int, s string) {
		fired++
		seen = s
	})

	b.setRight("first")
	b.setRight("second")
	b.setLeft(1)
	b.setLeft(2)
	b.setRight("third")

	assert.Equal(t, 1, fired)
	assert.Equal(t, "first", seen)
}

func TestJoinBarrierConcurrent(t *testing.T) {
	for i := 0; i < 200; i++ {
		var fired atomic.Int32
		b := newJoinBarrier(func(int, int) { fired.Add(1) })

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); b.setLeft(1) }()
		go func() { defer wg.Done(); b.setRight(2) }()
		wg.Wait()

		assert.EqualValues(t, 1, fired.Load())
	}
}
