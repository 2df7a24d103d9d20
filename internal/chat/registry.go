package chat

import (
	"sort"
	"sync"
)

// Member is a joined connection as seen by the Registry and Broadcaster.
// The Registry only borrows members; reading and closing belong to the
// owning session, except that the Broadcaster may Close a member it
// failed to write to.
type Member interface {
	ID() string
	Name() string
	WriteLine(line string) error
	Close() error
}

type entry struct {
	m   Member
	seq uint64
}

// Registry is the single source of truth for who is currently joined.
// Its lock is held only to copy, insert or remove; never across I/O.
type Registry struct {
	mu      sync.Mutex
	seq     uint64
	members map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{members: make(map[string]entry)}
}

// Insert adds m. It returns false if m's ID is already present.
func (r *Registry) Insert(m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[m.ID()]; ok {
		return false
	}
	r.seq++
	r.members[m.ID()] = entry{m: m, seq: r.seq}
	return true
}

// Remove deletes id and reports whether this call removed it.
func (r *Registry) Remove(id string) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.members[id]
	if !ok {
		return nil, false
	}
	delete(r.members, id)
	return e.m, true
}

func (r *Registry) Contains(id string) bool {
	r.mu.Lock()
	_, ok := r.members[id]
	r.mu.Unlock()
	return ok
}

// Snapshot copies the current members in insertion order.
func (r *Registry) Snapshot() []Member {
	r.mu.Lock()
	es := make([]entry, 0, len(r.members))
	for _, e := range r.members {
		es = append(es, e)
	}
	r.mu.Unlock()

	sort.Slice(es, func(i, j int) bool { return es[i].seq < es[j].seq })
	out := make([]Member, len(es))
	for i, e := range es {
		out[i] = e.m
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Names returns display names in join order.
func (r *Registry) Names() []string {
	ms := r.Snapshot()
	names := make([]string, len(ms))
	for i, m := range ms {
		names[i] = m.Name()
	}
	return names
}
