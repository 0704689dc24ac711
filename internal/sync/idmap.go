package sync

import "fmt"

// EntityKind identifies which of the three entity tables a remote id
// belongs to. Identifier scopes are independent per kind.
type EntityKind int

const (
	// EntityNone is the zero value, used when no entity is in scope.
	EntityNone EntityKind = iota
	// EntityCategory is a task category.
	EntityCategory
	// EntityTask is a task.
	EntityTask
	// EntityEffort is a time-tracking record attached to a task.
	EntityEffort
)

// String returns a human-readable representation of the entity kind.
func (k EntityKind) String() string {
	switch k {
	case EntityCategory:
		return "category"
	case EntityTask:
		return "task"
	case EntityEffort:
		return "effort"
	default:
		return "none"
	}
}

// IdentifierMap correlates desktop-assigned remote ids with the local ids
// the store hands back on commit, scoped per entity kind.
//
// The map lives for exactly one session. The protocol guarantees strict
// parent-before-child stream order, so Resolve is a plain table lookup
// rather than any kind of graph solver.
type IdentifierMap struct {
	entries map[EntityKind]map[string]string
}

// NewIdentifierMap creates an empty IdentifierMap.
func NewIdentifierMap() *IdentifierMap {
	return &IdentifierMap{
		entries: make(map[EntityKind]map[string]string),
	}
}

// Put registers a remoteID -> localID mapping for the given kind.
//
// Re-registering the same pair is a no-op: the store is idempotent by
// remote id, so a re-delivered entity commits to the same local record.
// Binding a remote id to a different local id indicates an internal
// consistency failure and returns a KindDuplicateMapping error.
func (m *IdentifierMap) Put(kind EntityKind, remoteID, localID string) error {
	table := m.entries[kind]
	if table == nil {
		table = make(map[string]string)
		m.entries[kind] = table
	}

	if existing, ok := table[remoteID]; ok {
		if existing == localID {
			return nil
		}
		return &Error{
			Kind:     KindDuplicateMapping,
			Entity:   kind,
			RemoteID: remoteID,
			Message:  fmt.Sprintf("already bound to local id %s", existing),
		}
	}

	table[remoteID] = localID
	return nil
}

// Resolve returns the local id registered for the given remote id.
// Returns a KindUnresolvedReference error if the remote id is unknown.
func (m *IdentifierMap) Resolve(kind EntityKind, remoteID string) (string, error) {
	if localID, ok := m.entries[kind][remoteID]; ok {
		return localID, nil
	}
	return "", &Error{
		Kind:     KindUnresolvedReference,
		Entity:   kind,
		RemoteID: remoteID,
		Message:  "remote id not mapped",
	}
}

// Len returns the number of mappings registered for the given kind.
func (m *IdentifierMap) Len(kind EntityKind) int {
	return len(m.entries[kind])
}
