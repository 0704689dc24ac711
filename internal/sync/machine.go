package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// State is the top-level phase of a session's state machine.
type State int

const (
	// StateIdle is the initial state, before the document root opens.
	StateIdle State = iota
	// StateAwaitingRoot is inside the document root, between phase
	// containers.
	StateAwaitingRoot
	// StateInCategories is inside the <categories> container.
	StateInCategories
	// StateInTasks is inside the <tasks> container.
	StateInTasks
	// StateInEfforts is inside the <efforts> container.
	StateInEfforts
	// StateComplete is the successful terminal state.
	StateComplete
	// StateFailed is the absorbing failure state.
	StateFailed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingRoot:
		return "awaiting-root"
	case StateInCategories:
		return "in-categories"
	case StateInTasks:
		return "in-tasks"
	case StateInEfforts:
		return "in-efforts"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Element and attribute vocabulary, protocol version 1. The vocabulary is
// fixed and versioned; unknown elements are structural errors, never
// silently skipped.
const (
	elemRoot       = "tasksync"
	elemCategories = "categories"
	elemTasks      = "tasks"
	elemEfforts    = "efforts"
	elemCategory   = "category"
	elemTask       = "task"
	elemEffort     = "effort"

	fieldName        = "name"
	fieldParent      = "parent"
	fieldSubject     = "subject"
	fieldDescription = "description"
	fieldStart       = "start"
	fieldDue         = "due"
	fieldCompleted   = "completed"
	fieldTask        = "task"
	fieldStarted     = "started"
	fieldEnded       = "ended"

	attrID    = "id"
	attrTotal = "total"
)

// phases lists the required phase containers in their fixed stream order.
var phases = []struct {
	elem   string
	state  State
	entity string
	kind   EntityKind
}{
	{elemCategories, StateInCategories, elemCategory, EntityCategory},
	{elemTasks, StateInTasks, elemTask, EntityTask},
	{elemEfforts, StateInEfforts, elemEffort, EntityEffort},
}

// entityFields maps each entity kind to its recognized field elements.
var entityFields = map[EntityKind]map[string]bool{
	EntityCategory: {
		fieldName:   true,
		fieldParent: true,
	},
	EntityTask: {
		fieldSubject:     true,
		fieldDescription: true,
		fieldStart:       true,
		fieldDue:         true,
		fieldCompleted:   true,
		fieldParent:      true,
		elemCategory:     true,
	},
	EntityEffort: {
		fieldSubject: true,
		fieldTask:    true,
		fieldStarted: true,
		fieldEnded:   true,
	},
}

// Session is the mutable context for one full-restore operation.
//
// A session is created per restore attempt, driven to a terminal state, and
// discarded; it is never reused. All methods must be called from a single
// goroutine, except Cancel, which may be called from anywhere.
type Session struct {
	ctx      context.Context
	store    LocalStore
	reporter Reporter
	logger   *log.Logger

	state State
	// phase indexes the next expected container in phases.
	phase  int
	idmap  *IdentifierMap
	counts Counts
	total  int

	cur       draft
	inEntity  bool
	field     string
	fieldBuf  strings.Builder
	fieldOpen bool

	cancelled atomic.Bool
	termErr   *Error
}

// NewSession creates a session committing into store.
//
// If reporter is nil, notifications are discarded. If logger is nil, a
// default logger writing to stderr is used. The context is checked between
// events and consulted on every store write; cancelling it fails the
// session with a KindCancelled error.
func NewSession(ctx context.Context, store LocalStore, reporter Reporter, logger *log.Logger) *Session {
	if reporter == nil {
		reporter = NopReporter{}
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Session{
		ctx:      ctx,
		store:    store,
		reporter: reporter,
		logger:   logger,
		state:    StateIdle,
		idmap:    NewIdentifierMap(),
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	return s.state
}

// Counts returns the per-kind commit counters.
func (s *Session) Counts() Counts {
	return s.counts
}

// Total returns the expected item count announced by the document root,
// or 0 if the root did not announce one.
func (s *Session) Total() int {
	return s.total
}

// Err returns the terminal error, or nil if the session has not failed.
func (s *Session) Err() error {
	if s.termErr == nil {
		return nil
	}
	return s.termErr
}

// Cancel requests that the session stop. The flag is checked before each
// event; the session then fails with a KindCancelled error. Entities
// already committed to the local store remain; idempotent commits make
// re-running the full sync safe.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
}

// Feed processes one structural event.
//
// On a grammar violation or any other fatal condition the session
// transitions to Failed, fires the reporter's Failure callback once, and
// returns the error; subsequent calls return the same error without
// processing anything. Once the session is Complete, further events are
// ignored.
func (s *Session) Feed(ev Event) error {
	switch s.state {
	case StateFailed:
		return s.termErr
	case StateComplete:
		return nil
	}

	if s.cancelled.Load() || s.ctx.Err() != nil {
		return s.fail(&Error{Kind: KindCancelled, Message: "session cancelled"})
	}

	switch ev.Type {
	case EventOpen:
		return s.handleOpen(ev)
	case EventText:
		return s.handleText(ev)
	case EventClose:
		return s.handleClose(ev)
	default:
		return s.failf("unknown event type %d", int(ev.Type))
	}
}

func (s *Session) handleOpen(ev Event) error {
	switch s.state {
	case StateIdle:
		if ev.Name != elemRoot {
			return s.failf("expected <%s> root, got <%s>", elemRoot, ev.Name)
		}
		if raw, ok := ev.Attr[attrTotal]; ok && raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return s.fail(&Error{
					Kind:    KindFieldDecode,
					Field:   attrTotal,
					Message: "malformed total attribute",
					Err:     err,
				})
			}
			s.total = n
		}
		s.state = StateAwaitingRoot
		return nil

	case StateAwaitingRoot:
		if s.phase >= len(phases) || ev.Name != phases[s.phase].elem {
			return s.failf("expected <%s> container, got <%s>", s.expectedContainer(), ev.Name)
		}
		s.state = phases[s.phase].state
		return nil

	case StateInCategories, StateInTasks, StateInEfforts:
		ph := phases[s.phase]
		if !s.inEntity {
			if ev.Name != ph.entity {
				return s.failf("expected <%s> inside <%s>, got <%s>", ph.entity, ph.elem, ev.Name)
			}
			remoteID := ev.Attr[attrID]
			if remoteID == "" {
				return s.failf("<%s> element missing %s attribute", ph.entity, attrID)
			}
			s.cur.reset(ph.kind, remoteID)
			s.inEntity = true
			return nil
		}
		if s.fieldOpen {
			return s.failf("unexpected <%s> inside <%s> field", ev.Name, s.field)
		}
		if !entityFields[s.cur.kind][ev.Name] {
			return s.fail(&Error{
				Kind:     KindStructural,
				Entity:   s.cur.kind,
				RemoteID: s.cur.remoteID,
				Field:    ev.Name,
				Message:  "unknown field",
			})
		}
		s.field = ev.Name
		s.fieldOpen = true
		s.fieldBuf.Reset()
		return nil

	default:
		return s.failf("unexpected <%s> in state %s", ev.Name, s.state)
	}
}

func (s *Session) handleText(ev Event) error {
	if s.fieldOpen {
		// Chunks may arrive split; concatenate until the field closes.
		s.fieldBuf.WriteString(ev.Text)
		return nil
	}
	if strings.TrimSpace(ev.Text) == "" {
		// Inter-element whitespace from document formatting.
		return nil
	}
	return s.failf("unexpected character data in state %s", s.state)
}

func (s *Session) handleClose(ev Event) error {
	switch s.state {
	case StateInCategories, StateInTasks, StateInEfforts:
		if s.fieldOpen {
			if ev.Name != s.field {
				return s.failf("expected </%s>, got </%s>", s.field, ev.Name)
			}
			s.cur.setField(s.field, s.fieldBuf.String())
			s.fieldOpen = false
			s.field = ""
			return nil
		}
		ph := phases[s.phase]
		if s.inEntity {
			if ev.Name != ph.entity {
				return s.failf("expected </%s>, got </%s>", ph.entity, ev.Name)
			}
			if err := s.commit(); err != nil {
				return err
			}
			s.inEntity = false
			return nil
		}
		if ev.Name != ph.elem {
			return s.failf("expected </%s>, got </%s>", ph.elem, ev.Name)
		}
		s.phase++
		s.state = StateAwaitingRoot
		return nil

	case StateAwaitingRoot:
		if ev.Name != elemRoot {
			return s.failf("expected </%s>, got </%s>", elemRoot, ev.Name)
		}
		if s.phase < len(phases) {
			return s.failf("document closed before required <%s> phase", phases[s.phase].elem)
		}
		s.state = StateComplete
		s.logger.Printf("restore complete: categories=%d tasks=%d efforts=%d done=%d",
			s.counts.Categories, s.counts.Tasks, s.counts.Efforts, s.counts.Done)
		s.reporter.Complete(s.counts)
		return nil

	default:
		return s.failf("unexpected </%s> in state %s", ev.Name, s.state)
	}
}

// commit builds and stores the current draft, then advances counters and
// emits a progress update.
func (s *Session) commit() error {
	var err error
	switch s.cur.kind {
	case EntityCategory:
		err = s.buildCategory(&s.cur)
	case EntityTask:
		err = s.buildTask(&s.cur)
	case EntityEffort:
		err = s.buildEffort(&s.cur)
	default:
		err = &Error{Kind: KindStructural, Message: "commit with no entity kind"}
	}
	if err != nil {
		return s.failErr(err)
	}
	s.reporter.Progress(s.counts, s.total)
	return nil
}

// expectedContainer names the next phase container the grammar allows, for
// error messages.
func (s *Session) expectedContainer() string {
	if s.phase < len(phases) {
		return phases[s.phase].elem
	}
	return "/" + elemRoot
}

// fail transitions to Failed, releases the draft, and fires the failure
// callback exactly once.
func (s *Session) fail(e *Error) error {
	if s.state == StateFailed {
		return s.termErr
	}
	s.state = StateFailed
	s.termErr = e
	s.cur = draft{}
	s.inEntity = false
	s.fieldOpen = false
	s.fieldBuf.Reset()
	s.logger.Printf("restore failed: %v", e)
	s.reporter.Failure(e)
	return e
}

// failf fails the session with a structural error.
func (s *Session) failf(format string, args ...any) error {
	return s.fail(&Error{Kind: KindStructural, Message: fmt.Sprintf(format, args...)})
}

// failErr fails the session with an error produced by a builder or the
// identifier map, coercing foreign errors into the structural kind.
func (s *Session) failErr(err error) error {
	if e, ok := err.(*Error); ok {
		return s.fail(e)
	}
	return s.fail(&Error{Kind: KindStructural, Message: err.Error(), Err: err})
}
