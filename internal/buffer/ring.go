// Package buffer holds small fixed-capacity containers shared by logging and
// event history.
package buffer

// Ring keeps the most recent entries up to a fixed capacity. It is not safe
// for concurrent use; callers provide their own locking.
type Ring[T any] struct {
	entries []T
	start   int
	count   int
}

func NewRing[T any](size int) *Ring[T] {
	if size <= 0 {
		size = 1
	}
	return &Ring[T]{
		entries: make([]T, size),
	}
}

// Add appends entry, overwriting the oldest one once the ring is full.
func (r *Ring[T]) Add(entry T) {
	if r == nil || len(r.entries) == 0 {
		return
	}

	if r.count < len(r.entries) {
		r.entries[(r.start+r.count)%len(r.entries)] = entry
		r.count++
		return
	}

	r.entries[r.start] = entry
	r.start = (r.start + 1) % len(r.entries)
}

func (r *Ring[T]) Len() int {
	if r == nil {
		return 0
	}
	return r.count
}

func (r *Ring[T]) Cap() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Last returns up to n of the newest entries, oldest first. n <= 0 returns all.
func (r *Ring[T]) Last(n int) []T {
	if r == nil || r.count == 0 {
		return nil
	}
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]T, n)
	offset := r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.entries[(r.start+offset+i)%len(r.entries)]
	}
	return out
}

func (r *Ring[T]) List() []T {
	return r.Last(0)
}

func (r *Ring[T]) Reset() {
	if r == nil {
		return
	}
	var zero T
	for i := range r.entries {
		r.entries[i] = zero
	}
	r.start = 0
	r.count = 0
}
