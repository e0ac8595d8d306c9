package store

import (
	"slices"

	"forgedash/pkg/protocol"
)

// collection keeps entities keyed by ID in insertion order. Re-inserting an
// existing ID replaces the value in place.
type collection[T protocol.Entity] struct {
	order []string
	items map[string]T
}

func newCollection[T protocol.Entity]() collection[T] {
	return collection[T]{items: make(map[string]T)}
}

func (c *collection[T]) get(id string) (T, bool) {
	v, ok := c.items[id]
	return v, ok
}

func (c *collection[T]) put(v T) {
	id := v.EntityID()
	if _, exists := c.items[id]; !exists {
		c.order = append(c.order, id)
	}
	c.items[id] = v
}

func (c *collection[T]) del(id string) bool {
	if _, exists := c.items[id]; !exists {
		return false
	}
	delete(c.items, id)
	if i := slices.Index(c.order, id); i >= 0 {
		c.order = slices.Delete(c.order, i, i+1)
	}
	return true
}

func (c *collection[T]) len() int {
	return len(c.order)
}

// list returns the values in insertion order, passed through clone.
func (c *collection[T]) list(clone func(T) T) []T {
	out := make([]T, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, clone(c.items[id]))
	}
	return out
}

func identity[T any](v T) T { return v }

func cloneJob(j protocol.Job) protocol.Job { return j.Clone() }

func cloneDLQ(e protocol.DLQEntry) protocol.DLQEntry { return e.Clone() }
