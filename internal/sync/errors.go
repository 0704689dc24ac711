package sync

import (
	"fmt"
	"strings"
)

// ErrorKind classifies the fatal error that ended a session.
type ErrorKind string

const (
	// KindStructural indicates malformed or out-of-order stream events.
	KindStructural ErrorKind = "structural"

	// KindUnresolvedReference indicates a relationship pointing at a remote
	// id that has not been mapped yet. The protocol requires strict
	// parent-before-child order, so this is fatal.
	KindUnresolvedReference ErrorKind = "unresolved-reference"

	// KindDuplicateMapping indicates a remote id was re-bound to a different
	// local id within one session. Under the update-not-duplicate policy
	// this should never happen; it is an internal consistency failure.
	KindDuplicateMapping ErrorKind = "duplicate-mapping"

	// KindFieldDecode indicates a malformed date or number at commit time.
	KindFieldDecode ErrorKind = "field-decode"

	// KindCancelled indicates the caller cancelled the session.
	KindCancelled ErrorKind = "cancelled"

	// KindStore indicates the local store rejected a write.
	KindStore ErrorKind = "store"
)

// Error is the single error type surfaced by a failed session. Every error
// is fatal: a session either completes fully or fails once. The fields give
// the caller enough context to decide whether restarting the full sync is
// worthwhile.
type Error struct {
	Kind     ErrorKind
	Entity   EntityKind // EntityNone when no entity was in scope
	RemoteID string     // remote id of the offending entity, if any
	Field    string     // offending field name, if any
	Message  string
	Err      error // underlying cause, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sync %s error", e.Kind)
	if e.Entity != EntityNone {
		fmt.Fprintf(&b, " (%s", e.Entity)
		if e.RemoteID != "" {
			fmt.Fprintf(&b, " %s", e.RemoteID)
		}
		b.WriteString(")")
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %q", e.Field)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}
