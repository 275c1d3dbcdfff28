package state

// Snapshot is an immutable view of a land state: field name -> canonical
// value tree. Snapshots are never mutated in place; the diff path produces a
// fresh one per sync cycle.
type Snapshot map[string]interface{}

// NewSnapshot normalizes and deep-copies a raw state map.
func NewSnapshot(raw map[string]interface{}) Snapshot {
	snap := make(Snapshot, len(raw))
	for k, v := range raw {
		snap[k] = Normalize(Clone(v))
	}
	return snap
}

// Clone returns an independent copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = Clone(v)
	}
	return out
}

// Equal reports whether two snapshots carry the same values.
func (s Snapshot) Equal(other Snapshot) bool {
	return Equal(map[string]interface{}(s), map[string]interface{}(other))
}
