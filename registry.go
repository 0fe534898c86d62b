/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"container/heap"
	"fmt"
)

// uidHeap is a min-heap of released participant ids.
type uidHeap []uint16

func (h uidHeap) Len() int           { return len(h) }
func (h uidHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h uidHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *uidHeap) Push(x any) {
	*h = append(*h, x.(uint16))
}

func (h *uidHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// uidPool hands out 16-bit participant ids, starting at 1. Released ids
// are reused lowest-first before the serial counter grows, so the id space
// only runs out once 65535 participants are connected at the same time.
type uidPool struct {
	serial uint32
	free   uidHeap
}

// acquire returns the next free id, or false when the space is exhausted.
// Id 0 is never handed out.
func (p *uidPool) acquire() (uint16, bool) {
	if p.free.Len() > 0 {
		return heap.Pop(&p.free).(uint16), true
	}

	if p.serial >= 0xffff {
		return 0, false
	}
	p.serial++

	return uint16(p.serial), true
}

func (p *uidPool) release(id uint16) {
	heap.Push(&p.free, id)
}

// Registry maps participant ids to display names for the lifetime of a
// session, preserving join order. Turn order freezes to this join order
// when a game starts.
type Registry struct {
	names map[uint16]string
	order []uint16
}

func newRegistry() *Registry {
	return &Registry{
		names: make(map[uint16]string),
	}
}

// Register stores a participant. Ids are unique for their lifetime in the
// registry; a collision leaves the registry unchanged.
func (r *Registry) Register(id uint16, name string) error {
	if _, ok := r.names[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateIdentity, id)
	}

	r.names[id] = name
	r.order = append(r.order, id)

	return nil
}

// Unregister removes a participant. Removing an absent id is a no-op.
func (r *Registry) Unregister(id uint16) {
	if _, ok := r.names[id]; !ok {
		return
	}

	delete(r.names, id)
	for i, other := range r.order {
		if other == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) Lookup(id uint16) (string, bool) {
	name, ok := r.names[id]
	return name, ok
}

// IDs returns the registered ids in join order.
func (r *Registry) IDs() []uint16 {
	ids := make([]uint16, len(r.order))
	copy(ids, r.order)
	return ids
}

func (r *Registry) Len() int {
	return len(r.names)
}

func (r *Registry) Clear() {
	r.names = make(map[uint16]string)
	r.order = nil
}
