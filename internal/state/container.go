// Package state holds the flat name-to-tensor mapping that flows through a
// conversion.
package state

import (
	"cmp"
	"slices"
	"sort"
	"sync"

	"github.com/samcharles93/statemap/internal/tensor"
)

type slot struct {
	t   tensor.Tensor
	seq uint64
}

// Container maps parameter names to tensor handles. Iteration follows
// insertion order. All methods are safe for concurrent use; Put never
// overwrites.
type Container struct {
	mu      sync.Mutex
	entries map[string]slot
	next    uint64
}

func New() *Container {
	return &Container{entries: make(map[string]slot)}
}

// FromMap inserts raw in sorted key order so that iteration over a container
// built from an unordered source is reproducible.
func FromMap(raw map[string]tensor.Tensor) *Container {
	c := &Container{entries: make(map[string]slot, len(raw))}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c.entries[name] = slot{t: raw[name], seq: c.next}
		c.next++
	}
	return c
}

func (c *Container) Get(name string) (tensor.Tensor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[name]
	return s.t, ok
}

func (c *Container) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// Pop removes and returns the tensor stored under name.
func (c *Container) Pop(name string) (tensor.Tensor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[name]
	if !ok {
		return nil, &KeyError{Op: "pop", Key: name, Err: ErrKeyNotFound}
	}
	delete(c.entries, name)
	return s.t, nil
}

// Put stores t under name. It fails if name is already present.
func (c *Container) Put(name string, t tensor.Tensor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.putLocked(name, t)
}

func (c *Container) putLocked(name string, t tensor.Tensor) error {
	if _, ok := c.entries[name]; ok {
		return &KeyError{Op: "put", Key: name, Err: ErrDuplicateKey}
	}
	c.entries[name] = slot{t: t, seq: c.next}
	c.next++
	return nil
}

// Rename moves the tensor at oldName to newName. On failure the container is
// left unchanged.
func (c *Container) Rename(oldName, newName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[oldName]
	if !ok {
		return &KeyError{Op: "rename", Key: oldName, Err: ErrKeyNotFound}
	}
	if _, ok := c.entries[newName]; ok {
		return &KeyError{Op: "rename", Key: newName, Err: ErrDuplicateKey}
	}
	delete(c.entries, oldName)
	return c.putLocked(newName, s.t)
}

func (c *Container) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns the names in insertion order.
func (c *Container) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	type named struct {
		name string
		seq  uint64
	}
	all := make([]named, 0, len(c.entries))
	for name, s := range c.entries {
		all = append(all, named{name, s.seq})
	}
	slices.SortFunc(all, func(a, b named) int { return cmp.Compare(a.seq, b.seq) })
	out := make([]string, len(all))
	for i, n := range all {
		out[i] = n.name
	}
	return out
}

// RemainingKeys is Keys under the name used by completeness audits.
func (c *Container) RemainingKeys() []string {
	return c.Keys()
}

// Range calls fn for each entry in insertion order until fn returns false.
// fn runs without the lock held and may call back into the container.
func (c *Container) Range(fn func(name string, t tensor.Tensor) bool) {
	for _, name := range c.Keys() {
		t, ok := c.Get(name)
		if !ok {
			continue
		}
		if !fn(name, t) {
			return
		}
	}
}

// Clone returns a container with the same names and handles. Tensor payloads
// are shared, not copied.
func (c *Container) Clone() *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := &Container{entries: make(map[string]slot, len(c.entries)), next: c.next}
	for name, s := range c.entries {
		out.entries[name] = s
	}
	return out
}
