package email

import "sync"

// joinBarrier fires done exactly once, after both inputs have arrived, in
// whichever order they come. Repeated arrivals of the same input are ignored.
type joinBarrier[A, B any] struct {
	mu     sync.Mutex
	left   A
	right  B
	hasL   bool
	hasR   bool
	fired  bool
	onDone func(A, B)
}

func newJoinBarrier[A, B any](onDone func(A, B)) *joinBarrier[A, B] {
	return &joinBarrier[A, B]{onDone: onDone}
}

func (j *joinBarrier[A, B]) setLeft(a A) {
	j.mu.Lock()
	if j.hasL {
		j.mu.Unlock()
		return
	}
	j.left, j.hasL = a, true
	j.tryFire()
}

func (j *joinBarrier[A, B]) setRight(b B) {
	j.mu.Lock()
	if j.hasR {
		j.mu.Unlock()
		return
	}
	j.right, j.hasR = b, true
	j.tryFire()
}

// tryFire is called with j.mu held and releases it
func (j *joinBarrier[A, B]) tryFire() {
	if !j.hasL || !j.hasR || j.fired {
		j.mu.Unlock()
		return
	}
	j.fired = true
	a, b := j.left, j.right
	j.mu.Unlock()
	j.onDone(a, b)
}
