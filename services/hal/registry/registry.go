// services/hal/registry/registry.go
package registry

import (
	"sync"

	"benchio/errcode"
)

// Table is a fixed arena of handle slots indexed by bus id. Slots are
// allocated once at construction; a claimed slot hands back the same *T
// every time, so handles never move and callbacks can hold them.
type Table[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
}

type slot[T any] struct {
	live bool
	v    *T
}

// NewTable returns a table with n slots.
func NewTable[T any](n int) *Table[T] {
	t := &Table[T]{slots: make([]slot[T], n)}
	for i := range t.slots {
		t.slots[i].v = new(T)
	}
	return t
}

func (t *Table[T]) Len() int { return len(t.slots) }

// Claim marks slot id live and returns its storage. The caller is
// responsible for resetting the value it finds there.
func (t *Table[T]) Claim(id int) (*T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.slots) {
		return nil, errcode.New(errcode.InvalidArgument, "registry.claim", "bus id out of range")
	}
	s := &t.slots[id]
	if s.live {
		return nil, errcode.New(errcode.ResourceBusy, "registry.claim", "handle already initialised")
	}
	s.live = true
	return s.v, nil
}

// Release frees slot id. It reports whether the slot was live.
func (t *Table[T]) Release(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.slots) || !t.slots[id].live {
		return false
	}
	t.slots[id].live = false
	return true
}

// Lookup returns the live handle for id.
func (t *Table[T]) Lookup(id int) (*T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.slots) || !t.slots[id].live {
		return nil, false
	}
	return t.slots[id].v, true
}

func (t *Table[T]) Live(id int) bool {
	_, ok := t.Lookup(id)
	return ok
}

// Each calls fn for every live slot in id order. fn must not claim or
// release slots.
func (t *Table[T]) Each(fn func(id int, v *T)) {
	t.mu.Lock()
	live := make([]int, 0, len(t.slots))
	for i := range t.slots {
		if t.slots[i].live {
			live = append(live, i)
		}
	}
	t.mu.Unlock()
	for _, id := range live {
		fn(id, t.slots[id].v)
	}
}

// Reset marks every slot free. Test use only; live handles are abandoned.
func (t *Table[T]) Reset() {
	t.mu.Lock()
	for i := range t.slots {
		t.slots[i].live = false
	}
	t.mu.Unlock()
}
