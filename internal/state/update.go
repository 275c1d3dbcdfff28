package state

// UpdateKind discriminates the three state update shapes.
type UpdateKind string

const (
	UpdateFirstSync UpdateKind = "firstSync"
	UpdateDiff      UpdateKind = "diff"
	UpdateNoChange  UpdateKind = "noChange"
)

// Update is what the keeper hands the adapter for one subscriber: the initial
// snapshot, an incremental diff, or nothing.
type Update struct {
	Kind     UpdateKind
	Snapshot Snapshot // firstSync
	Patches  []Patch  // diff
}

// FirstSync wraps a snapshot as the initial update.
func FirstSync(snap Snapshot) Update {
	return Update{Kind: UpdateFirstSync, Snapshot: snap}
}

// DiffUpdate wraps a patch list.
func DiffUpdate(patches []Patch) Update {
	return Update{Kind: UpdateDiff, Patches: patches}
}

// NoChange is the empty update.
func NoChange() Update {
	return Update{Kind: UpdateNoChange}
}
