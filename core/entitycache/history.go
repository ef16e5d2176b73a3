package entitycache

// history is a fixed size ring of the last added entities, oldest first.
type history[T any] struct {
	items []T
	start int
	size  int
}

func newHistory[T any](capacity int) *history[T] {
	return &history[T]{items: make([]T, capacity)}
}

func (h *history[T]) push(objs ...T) {
	capacity := len(h.items)
	if capacity == 0 {
		return
	}
	for _, obj := range objs {
		if h.size < capacity {
			h.items[(h.start+h.size)%capacity] = obj
			h.size++
			continue
		}
		h.items[h.start] = obj // evict oldest
		h.start = (h.start + 1) % capacity
	}
}

func (h *history[T]) snapshot() []T {
	out := make([]T, 0, h.size)
	for i := 0; i < h.size; i++ {
		out = append(out, h.items[(h.start+i)%len(h.items)])
	}
	return out
}
