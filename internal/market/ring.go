package market

// ring is a fixed-capacity circular buffer. When full, a push evicts the
// oldest entry. Reads return items oldest-first.
type ring[T any] struct {
	buf   []T
	head  int
	count int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = v
		r.count++
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
}

// replaceLastIf swaps the newest entry for v when match approves it.
// Returns false on an empty ring or a non-match.
func (r *ring[T]) replaceLastIf(match func(T) bool, v T) bool {
	if r.count == 0 {
		return false
	}
	idx := (r.head + r.count - 1) % len(r.buf)
	if !match(r.buf[idx]) {
		return false
	}
	r.buf[idx] = v
	return true
}

func (r *ring[T]) len() int { return r.count }

func (r *ring[T]) items() []T {
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// last returns up to n of the newest entries, oldest-first.
func (r *ring[T]) last(n int) []T {
	if n <= 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}
	out := make([]T, n)
	start := r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.head+start+i)%len(r.buf)]
	}
	return out
}
