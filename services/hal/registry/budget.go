package registry

import (
	"sync"

	"benchio/errcode"
)

// Budget caps the bytes handles may draw for default buffers when the
// caller does not supply its own. There is no heap on the target past
// start-up, so the limit is fixed.
type Budget struct {
	mu    sync.Mutex
	limit int
	used  int
}

func NewBudget(limit int) *Budget { return &Budget{limit: limit} }

// Take reserves n bytes or fails with OutOfMemory.
func (b *Budget) Take(n int) error {
	if n < 0 {
		return errcode.New(errcode.InvalidArgument, "budget.take", "negative size")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used+n > b.limit {
		return errcode.New(errcode.OutOfMemory, "budget.take", "buffer budget exhausted")
	}
	b.used += n
	return nil
}

// Give returns n bytes to the budget.
func (b *Budget) Give(n int) {
	b.mu.Lock()
	b.used -= n
	if b.used < 0 {
		b.used = 0
	}
	b.mu.Unlock()
}

// Alloc takes n bytes from the budget and returns a zeroed slice of that size.
func (b *Budget) Alloc(n int) ([]byte, error) {
	if err := b.Take(n); err != nil {
		return nil, err
	}
	return make([]byte, n), nil
}

func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limit - b.used
}
