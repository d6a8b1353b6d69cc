package alerting

import "time"

// entityState is everything the engine remembers about one entity.
type entityState struct {
	entity       Entity
	metrics      map[string]*MetricState
	availability *AvailabilityState
	errorCode    int // last ERROR code raised, 0 when none
	lastSeen     time.Time
}

// registry stores entity state in a slot table indexed by entity ID. Freed
// slots are reused so a churning entity set does not grow the table.
type registry struct {
	index map[string]int
	slots []*entityState
	free  []int
}

func newRegistry() *registry {
	return &registry{index: make(map[string]int)}
}

// get returns the state for id, or nil.
func (r *registry) get(id string) *entityState {
	i, ok := r.index[id]
	if !ok {
		return nil
	}
	return r.slots[i]
}

// getOrCreate returns the state for e.ID, creating it on first use. The
// entity's name and parent are refreshed from e.
func (r *registry) getOrCreate(e Entity) *entityState {
	if st := r.get(e.ID); st != nil {
		st.entity = e
		return st
	}
	st := &entityState{entity: e, metrics: make(map[string]*MetricState)}
	if n := len(r.free); n > 0 {
		i := r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[i] = st
		r.index[e.ID] = i
		return st
	}
	r.slots = append(r.slots, st)
	r.index[e.ID] = len(r.slots) - 1
	return st
}

// remove drops id and reports whether it was present.
func (r *registry) remove(id string) bool {
	i, ok := r.index[id]
	if !ok {
		return false
	}
	delete(r.index, id)
	r.slots[i] = nil
	r.free = append(r.free, i)
	return true
}

func (r *registry) len() int { return len(r.index) }

// each calls fn for every live entity in slot order.
func (r *registry) each(fn func(*entityState)) {
	for _, st := range r.slots {
		if st != nil {
			fn(st)
		}
	}
}
