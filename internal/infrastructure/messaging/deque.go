// Package messaging provides the queue primitives backing task distribution.
package messaging

// Deque is a double-ended queue with O(1) push/pop using a circular
// buffer. It is not synchronized; callers hold their own lock.
type Deque[T any] struct {
	buffer   []T
	head     int
	tail     int
	count    int
	capacity int
}

// NewDeque creates a new Deque with the given initial capacity.
func NewDeque[T any](initialCapacity int) *Deque[T] {
	if initialCapacity < 1 {
		initialCapacity = 16
	}
	return &Deque[T]{
		buffer:   make([]T, initialCapacity),
		capacity: initialCapacity,
	}
}

// Len returns the number of elements in the deque.
func (d *Deque[T]) Len() int {
	return d.count
}

// grow doubles the capacity of the deque.
func (d *Deque[T]) grow() {
	newCapacity := d.capacity * 2
	newBuffer := make([]T, newCapacity)
	for i := 0; i < d.count; i++ {
		newBuffer[i] = d.buffer[(d.head+i)%d.capacity]
	}
	d.buffer = newBuffer
	d.head = 0
	d.tail = d.count
	d.capacity = newCapacity
}

// PushBack adds an element to the back of the deque. O(1) amortized.
func (d *Deque[T]) PushBack(item T) {
	if d.count == d.capacity {
		d.grow()
	}
	d.buffer[d.tail] = item
	d.tail = (d.tail + 1) % d.capacity
	d.count++
}

// PushFront adds an element to the front of the deque. O(1) amortized.
func (d *Deque[T]) PushFront(item T) {
	if d.count == d.capacity {
		d.grow()
	}
	d.head = (d.head - 1 + d.capacity) % d.capacity
	d.buffer[d.head] = item
	d.count++
}

// PopFront removes and returns the element at the front. O(1).
func (d *Deque[T]) PopFront() (T, bool) {
	var zero T
	if d.count == 0 {
		return zero, false
	}
	item := d.buffer[d.head]
	d.buffer[d.head] = zero // help GC
	d.head = (d.head + 1) % d.capacity
	d.count--
	return item, true
}

// At returns the element at the given index. O(1).
func (d *Deque[T]) At(index int) (T, bool) {
	var zero T
	if index < 0 || index >= d.count {
		return zero, false
	}
	return d.buffer[(d.head+index)%d.capacity], true
}

// FindAndRemove removes the first element matching the predicate. O(n).
func (d *Deque[T]) FindAndRemove(predicate func(T) bool) (T, bool) {
	var zero T
	for i := 0; i < d.count; i++ {
		idx := (d.head + i) % d.capacity
		if predicate(d.buffer[idx]) {
			item := d.buffer[idx]
			for j := i; j < d.count-1; j++ {
				cur := (d.head + j) % d.capacity
				next := (d.head + j + 1) % d.capacity
				d.buffer[cur] = d.buffer[next]
			}
			d.tail = (d.tail - 1 + d.capacity) % d.capacity
			d.buffer[d.tail] = zero
			d.count--
			return item, true
		}
	}
	return zero, false
}

// ToSlice returns all elements in order as a new slice.
func (d *Deque[T]) ToSlice() []T {
	result := make([]T, d.count)
	for i := 0; i < d.count; i++ {
		result[i] = d.buffer[(d.head+i)%d.capacity]
	}
	return result
}

// Clear removes all elements from the deque.
func (d *Deque[T]) Clear() {
	var zero T
	for i := 0; i < d.count; i++ {
		d.buffer[(d.head+i)%d.capacity] = zero
	}
	d.head = 0
	d.tail = 0
	d.count = 0
}
