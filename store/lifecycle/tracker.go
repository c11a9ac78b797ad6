// Package lifecycle tracks the state of each resource id and the live
// references held on each version, deciding when resources may be purged.
//
// A Tracker is not safe for concurrent use. Callers serialize access, the
// storage control runs every call on its task queue.
package lifecycle

import (
	"fmt"

	"github.com/wolfeidau/swstore"
)

// State is the lifecycle state of a resource.
type State int

const (
	// StateUnknown is a resource this tracker has not seen, for example one
	// recovered from a previous session.
	StateUnknown State = iota
	StateUncommitted
	StateCommitted
	StatePendingPurge
	StatePurged
)

func (s State) String() string {
	switch s {
	case StateUncommitted:
		return "uncommitted"
	case StateCommitted:
		return "committed"
	case StatePendingPurge:
		return "pending_purge"
	case StatePurged:
		return "purged"
	default:
		return "unknown"
	}
}

type version struct {
	refs    int
	deleted bool
	pending []swstore.ResourceID
}

// Tracker holds resource states and version reference counts.
type Tracker struct {
	states    map[swstore.ResourceID]State
	versions  map[swstore.VersionID]*version
	committed map[swstore.VersionID][]swstore.ResourceID
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{
		states:    make(map[swstore.ResourceID]State),
		versions:  make(map[swstore.VersionID]*version),
		committed: make(map[swstore.VersionID][]swstore.ResourceID),
	}
}

// MarkUncommitted records ids reserved for a registration not yet stored.
func (t *Tracker) MarkUncommitted(ids []swstore.ResourceID) {
	for _, id := range ids {
		switch s := t.states[id]; s {
		case StateUnknown, StateUncommitted:
			t.states[id] = StateUncommitted
		default:
			panic(fmt.Sprintf("lifecycle: resource %d cannot become uncommitted from %s", id, s))
		}
	}
}

// Commit records ids as the resources of a stored version. Resources reused
// from a replaced version stay committed.
func (t *Tracker) Commit(v swstore.VersionID, ids []swstore.ResourceID) {
	for _, id := range ids {
		switch s := t.states[id]; s {
		case StateUnknown, StateUncommitted, StateCommitted:
			t.states[id] = StateCommitted
		default:
			panic(fmt.Sprintf("lifecycle: resource %d cannot be committed from %s", id, s))
		}
	}
	t.committed[v] = append([]swstore.ResourceID(nil), ids...)
}

// CheckCommit returns an error if any of ids may no longer be committed
// because it was doomed or purged. Commit panics on such ids.
func (t *Tracker) CheckCommit(ids []swstore.ResourceID) error {
	for _, id := range ids {
		if s := t.states[id]; s == StatePendingPurge || s == StatePurged {
			return fmt.Errorf("lifecycle: resource %d is %s", id, s)
		}
	}
	return nil
}

// VersionResources returns the resources committed for v.
func (t *Tracker) VersionResources(v swstore.VersionID) []swstore.ResourceID {
	return t.committed[v]
}

// AddRef records a new live reference to v.
func (t *Tracker) AddRef(v swstore.VersionID) {
	vs, ok := t.versions[v]
	if !ok {
		vs = &version{}
		t.versions[v] = vs
	}
	vs.refs++
}

// Release drops one live reference to v. When it was the last reference of
// a deleted version the version's resources become pending purge and are
// returned.
func (t *Tracker) Release(v swstore.VersionID) []swstore.ResourceID {
	vs, ok := t.versions[v]
	if !ok || vs.refs <= 0 {
		panic(fmt.Sprintf("lifecycle: release of version %d without a reference", v))
	}
	vs.refs--
	if vs.refs > 0 {
		return nil
	}

	delete(t.versions, v)
	if !vs.deleted {
		return nil
	}
	t.markPendingPurge(vs.pending)
	return vs.pending
}

// MarkDeleted records that v was removed from the database together with
// ids. Without live references the ids become pending purge and are
// returned now, otherwise they are returned by the last Release.
func (t *Tracker) MarkDeleted(v swstore.VersionID, ids []swstore.ResourceID) []swstore.ResourceID {
	delete(t.committed, v)
	ids = append([]swstore.ResourceID(nil), ids...)

	vs, ok := t.versions[v]
	if ok && vs.refs > 0 {
		vs.deleted = true
		vs.pending = append(vs.pending, ids...)
		return nil
	}
	t.markPendingPurge(ids)
	return ids
}

// MarkDoomed moves uncommitted resources to pending purge. Dooming a
// committed resource is a programming error.
func (t *Tracker) MarkDoomed(ids []swstore.ResourceID) {
	for _, id := range ids {
		switch s := t.states[id]; s {
		case StateUnknown, StateUncommitted, StatePendingPurge:
			t.states[id] = StatePendingPurge
		default:
			panic(fmt.Sprintf("lifecycle: cannot doom %s resource %d", s, id))
		}
	}
}

// MarkPurged records that the blobs of ids were deleted.
func (t *Tracker) MarkPurged(ids []swstore.ResourceID) {
	for _, id := range ids {
		switch s := t.states[id]; s {
		case StateUnknown, StatePendingPurge:
			t.states[id] = StatePurged
		default:
			panic(fmt.Sprintf("lifecycle: cannot purge %s resource %d", s, id))
		}
	}
}

func (t *Tracker) markPendingPurge(ids []swstore.ResourceID) {
	for _, id := range ids {
		switch s := t.states[id]; s {
		case StateUnknown, StateCommitted, StatePendingPurge:
			t.states[id] = StatePendingPurge
		default:
			panic(fmt.Sprintf("lifecycle: %s resource %d cannot become pending purge", s, id))
		}
	}
}

// State returns the state of id.
func (t *Tracker) State(id swstore.ResourceID) State {
	return t.states[id]
}

// Held reports whether id must not be purged yet: it is uncommitted or
// still committed to a stored or referenced version.
func (t *Tracker) Held(id swstore.ResourceID) bool {
	s := t.states[id]
	return s == StateUncommitted || s == StateCommitted
}

// RefCount returns the number of live references to v.
func (t *Tracker) RefCount(v swstore.VersionID) int {
	if vs, ok := t.versions[v]; ok {
		return vs.refs
	}
	return 0
}

// LiveVersions returns the number of versions with live references.
func (t *Tracker) LiveVersions() int {
	return len(t.versions)
}
