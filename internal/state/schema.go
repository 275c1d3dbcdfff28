package state

// SyncPolicy tags a state field with its visibility.
type SyncPolicy int

const (
	// Broadcast fields are visible to every joined player.
	Broadcast SyncPolicy = iota
	// Private fields hold a map keyed by player id; each player sees only
	// their own entry, exposed directly at the field path.
	Private
)

// Schema maps top-level state fields to their sync policy. Fields absent from
// the schema default to Broadcast.
type Schema map[string]SyncPolicy

// Policy returns the policy for a field.
func (s Schema) Policy(field string) SyncPolicy {
	if s == nil {
		return Broadcast
	}
	if p, ok := s[field]; ok {
		return p
	}
	return Broadcast
}

// FilterForPlayer serializes a state into the snapshot a given player is
// entitled to see. Filtering happens before diffing so that lastSnapshot
// always reflects what the subscriber actually received.
func (s Schema) FilterForPlayer(raw map[string]interface{}, playerID string) Snapshot {
	snap := make(Snapshot, len(raw))
	for field, v := range raw {
		switch s.Policy(field) {
		case Broadcast:
			snap[field] = Normalize(Clone(v))
		case Private:
			owned, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			if own, ok := owned[playerID]; ok {
				snap[field] = Normalize(Clone(own))
			}
		}
	}
	return snap
}
