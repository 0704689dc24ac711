package sync

import (
	"context"
	"time"
)

// CategoryRecord is a fully-resolved category ready to be written to the
// local store. Relationship fields carry local ids, never remote ids.
type CategoryRecord struct {
	RemoteID      string
	Name          string
	ParentLocalID string // empty for a root category
}

// TaskRecord is a fully-resolved task ready to be written to the local store.
type TaskRecord struct {
	RemoteID         string
	Subject          string
	Description      string
	Start            *time.Time
	Due              *time.Time
	Completed        *time.Time
	ParentLocalID    string // empty for a top-level task
	CategoryLocalIDs []string
}

// EffortRecord is a fully-resolved effort ready to be written to the local
// store. A nil Ended represents an open (in-progress) effort.
type EffortRecord struct {
	RemoteID    string
	Subject     string
	TaskLocalID string
	Started     time.Time
	Ended       *time.Time
}

// LocalStore is the device-side store the session commits into.
//
// Each operation is create-or-update keyed by remote id: re-delivery of a
// previously-seen remote id within one session updates the existing local
// record rather than duplicating it, and returns the same local id. Each
// operation must be atomic per entity; the session commits incrementally
// and never rolls back entities already written.
type LocalStore interface {
	// CreateOrUpdateCategory writes a category and returns its local id.
	CreateOrUpdateCategory(ctx context.Context, rec CategoryRecord) (string, error)

	// CreateOrUpdateTask writes a task, replacing its category set, and
	// returns its local id.
	CreateOrUpdateTask(ctx context.Context, rec TaskRecord) (string, error)

	// CreateOrUpdateEffort writes an effort and returns its local id.
	CreateOrUpdateEffort(ctx context.Context, rec EffortRecord) (string, error)
}

// DeviceChanges is the set of local modifications accumulated since the
// last synchronization, to be pushed back to the desktop.
type DeviceChanges struct {
	NewCategories  []CategoryRecord
	NewTasks       []TaskRecord
	ModifiedTasks  []TaskRecord
	DeletedTaskIDs []string
}

// ChangeSender pushes local changes to the desktop companion. This is the
// outbound half of two-way synchronization; the full-restore engine in this
// package only consumes the inbound direction.
type ChangeSender interface {
	SendChanges(ctx context.Context, changes DeviceChanges) error
}
