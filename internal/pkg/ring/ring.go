package ring

import "sync"

// Buffer 是固定容量的环形缓冲，满后覆盖最旧元素。并发安全。
type Buffer[T any] struct {
	mu    sync.RWMutex
	items []T
	start int
	size  int
	total int64
}

func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

func (b *Buffer[T]) Push(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total++
	if b.size < len(b.items) {
		b.items[(b.start+b.size)%len(b.items)] = v
		b.size++
		return
	}
	b.items[b.start] = v
	b.start = (b.start + 1) % len(b.items)
}

func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *Buffer[T]) Cap() int {
	return len(b.items)
}

// Total 返回累计写入次数（含已被覆盖的）。
func (b *Buffer[T]) Total() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

// Snapshot 按写入顺序（最旧在前）返回副本。
func (b *Buffer[T]) Snapshot() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.start+i)%len(b.items)]
	}
	return out
}

// Recent 返回最近 n 条，最新在前。
func (b *Buffer[T]) Recent(n int) []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n <= 0 || n > b.size {
		n = b.size
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		idx := (b.start + b.size - 1 - i) % len(b.items)
		out = append(out, b.items[idx])
	}
	return out
}
