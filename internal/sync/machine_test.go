package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"testing"
	"time"
)

// memStore is an in-memory LocalStore with create-or-update semantics
// keyed by remote id, mirroring the contract of the SQLite store.
type memStore struct {
	categories map[string]CategoryRecord
	tasks      map[string]TaskRecord
	efforts    map[string]EffortRecord
	localIDs   map[string]string // "<kind>/<remoteID>" -> local id
	nextID     int

	failRemoteID string // CreateOrUpdate* fails for this remote id
}

func newMemStore() *memStore {
	return &memStore{
		categories: make(map[string]CategoryRecord),
		tasks:      make(map[string]TaskRecord),
		efforts:    make(map[string]EffortRecord),
		localIDs:   make(map[string]string),
	}
}

func (ms *memStore) localID(kind EntityKind, remoteID string) string {
	key := fmt.Sprintf("%s/%s", kind, remoteID)
	if id, ok := ms.localIDs[key]; ok {
		return id
	}
	ms.nextID++
	id := fmt.Sprintf("loc-%d", ms.nextID)
	ms.localIDs[key] = id
	return id
}

func (ms *memStore) CreateOrUpdateCategory(_ context.Context, rec CategoryRecord) (string, error) {
	if rec.RemoteID == ms.failRemoteID {
		return "", errors.New("store write refused")
	}
	ms.categories[rec.RemoteID] = rec
	return ms.localID(EntityCategory, rec.RemoteID), nil
}

func (ms *memStore) CreateOrUpdateTask(_ context.Context, rec TaskRecord) (string, error) {
	if rec.RemoteID == ms.failRemoteID {
		return "", errors.New("store write refused")
	}
	ms.tasks[rec.RemoteID] = rec
	return ms.localID(EntityTask, rec.RemoteID), nil
}

func (ms *memStore) CreateOrUpdateEffort(_ context.Context, rec EffortRecord) (string, error) {
	if rec.RemoteID == ms.failRemoteID {
		return "", errors.New("store write refused")
	}
	ms.efforts[rec.RemoteID] = rec
	return ms.localID(EntityEffort, rec.RemoteID), nil
}

// recordingReporter captures every callback for assertions.
type recordingReporter struct {
	progress  []Counts
	completes []Counts
	failures  []*Error
}

func (r *recordingReporter) Progress(counts Counts, total int) {
	r.progress = append(r.progress, counts)
}

func (r *recordingReporter) Complete(counts Counts) {
	r.completes = append(r.completes, counts)
}

func (r *recordingReporter) Failure(err *Error) {
	r.failures = append(r.failures, err)
}

func testLogger() *log.Logger {
	return log.New(testWriter{}, "[test] ", 0)
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

// Event construction helpers.

func open(name string, attrs ...string) Event {
	m := make(map[string]string)
	for i := 0; i+1 < len(attrs); i += 2 {
		m[attrs[i]] = attrs[i+1]
	}
	return Event{Type: EventOpen, Name: name, Attr: m}
}

func text(s string) Event {
	return Event{Type: EventText, Text: s}
}

func closing(name string) Event {
	return Event{Type: EventClose, Name: name}
}

// fieldEvents emits <name>value</name>.
func fieldEvents(name, value string) []Event {
	return []Event{open(name), text(value), closing(name)}
}

// entityEvents emits <elem id="id">fields...</elem>, where fields are
// alternating name/value pairs.
func entityEvents(elem, id string, fields ...string) []Event {
	evs := []Event{open(elem, attrID, id)}
	for i := 0; i+1 < len(fields); i += 2 {
		evs = append(evs, fieldEvents(fields[i], fields[i+1])...)
	}
	return append(evs, closing(elem))
}

// docEvents wraps per-phase entity event groups into a full document.
func docEvents(total int, cats, tasks, efforts [][]Event) []Event {
	evs := []Event{open(elemRoot, attrTotal, fmt.Sprintf("%d", total))}
	for _, phase := range []struct {
		elem   string
		groups [][]Event
	}{
		{elemCategories, cats},
		{elemTasks, tasks},
		{elemEfforts, efforts},
	} {
		evs = append(evs, open(phase.elem))
		for _, g := range phase.groups {
			evs = append(evs, g...)
		}
		evs = append(evs, closing(phase.elem))
	}
	return append(evs, closing(elemRoot))
}

func feedAll(t *testing.T, s *Session, evs []Event) {
	t.Helper()
	for i, ev := range evs {
		if err := s.Feed(ev); err != nil {
			t.Fatalf("Feed failed at event %d (%s %s): %v", i, ev.Type, ev.Name, err)
		}
	}
}

func feedUntilError(s *Session, evs []Event) error {
	for _, ev := range evs {
		if err := s.Feed(ev); err != nil {
			return err
		}
	}
	return nil
}

func TestFullRestore(t *testing.T) {
	store := newMemStore()
	reporter := &recordingReporter{}
	s := NewSession(context.Background(), store, reporter, testLogger())

	evs := docEvents(3,
		[][]Event{entityEvents(elemCategory, "C1", fieldName, "Work")},
		[][]Event{entityEvents(elemTask, "T1",
			fieldSubject, "Write report",
			elemCategory, "C1",
		)},
		[][]Event{entityEvents(elemEffort, "E1",
			fieldTask, "T1",
			fieldStarted, "2024-01-01T09:00",
		)},
	)
	feedAll(t, s, evs)

	if s.State() != StateComplete {
		t.Fatalf("expected complete, got %s", s.State())
	}

	counts := s.Counts()
	if counts.Categories != 1 || counts.Tasks != 1 || counts.Efforts != 1 {
		t.Errorf("unexpected counts: %+v", counts)
	}
	if counts.Done != 0 {
		t.Errorf("expected done=0 for task without completion date, got %d", counts.Done)
	}

	// Effort with no ended value commits as an open effort.
	effort := store.efforts["E1"]
	if effort.Ended != nil {
		t.Errorf("expected open effort, got end %v", effort.Ended)
	}
	wantStart := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	if !effort.Started.Equal(wantStart) {
		t.Errorf("expected start %v, got %v", wantStart, effort.Started)
	}

	// Task's category set resolves to the local id produced for C1.
	task := store.tasks["T1"]
	catLocal, err := s.idmap.Resolve(EntityCategory, "C1")
	if err != nil {
		t.Fatalf("C1 not mapped: %v", err)
	}
	if len(task.CategoryLocalIDs) != 1 || task.CategoryLocalIDs[0] != catLocal {
		t.Errorf("expected categories [%s], got %v", catLocal, task.CategoryLocalIDs)
	}

	// Effort's task reference resolves to T1's local id.
	taskLocal, err := s.idmap.Resolve(EntityTask, "T1")
	if err != nil {
		t.Fatalf("T1 not mapped: %v", err)
	}
	if effort.TaskLocalID != taskLocal {
		t.Errorf("expected effort task %s, got %s", taskLocal, effort.TaskLocalID)
	}

	if len(reporter.progress) != 3 {
		t.Errorf("expected 3 progress updates, got %d", len(reporter.progress))
	}
	if len(reporter.completes) != 1 {
		t.Errorf("expected 1 complete callback, got %d", len(reporter.completes))
	}
	if len(reporter.failures) != 0 {
		t.Errorf("unexpected failure callbacks: %d", len(reporter.failures))
	}
}

func TestParentChildResolution(t *testing.T) {
	store := newMemStore()
	s := NewSession(context.Background(), store, nil, testLogger())

	evs := docEvents(4,
		[][]Event{
			entityEvents(elemCategory, "C1", fieldName, "Work"),
			entityEvents(elemCategory, "C2", fieldName, "Reports", fieldParent, "C1"),
		},
		[][]Event{
			entityEvents(elemTask, "T1", fieldSubject, "Parent task"),
			entityEvents(elemTask, "T2", fieldSubject, "Child task", fieldParent, "T1"),
		},
		nil,
	)
	feedAll(t, s, evs)

	if s.State() != StateComplete {
		t.Fatalf("expected complete, got %s", s.State())
	}

	parentLocal, _ := s.idmap.Resolve(EntityCategory, "C1")
	if got := store.categories["C2"].ParentLocalID; got != parentLocal {
		t.Errorf("expected category parent %s, got %s", parentLocal, got)
	}

	taskParentLocal, _ := s.idmap.Resolve(EntityTask, "T1")
	if got := store.tasks["T2"].ParentLocalID; got != taskParentLocal {
		t.Errorf("expected task parent %s, got %s", taskParentLocal, got)
	}
}

func TestSplitTextChunks(t *testing.T) {
	store := newMemStore()
	s := NewSession(context.Background(), store, nil, testLogger())

	evs := []Event{
		open(elemRoot),
		open(elemCategories),
		open(elemCategory, attrID, "C1"),
		open(fieldName),
		text("Wo"),
		text("r"),
		text("k"),
		closing(fieldName),
		closing(elemCategory),
		closing(elemCategories),
		open(elemTasks), closing(elemTasks),
		open(elemEfforts), closing(elemEfforts),
		closing(elemRoot),
	}
	feedAll(t, s, evs)

	if got := store.categories["C1"].Name; got != "Work" {
		t.Errorf("expected concatenated name %q, got %q", "Work", got)
	}
}

func TestRedeliveryUpdatesInsteadOfDuplicating(t *testing.T) {
	store := newMemStore()
	reporter := &recordingReporter{}
	s := NewSession(context.Background(), store, reporter, testLogger())

	evs := docEvents(2,
		[][]Event{
			entityEvents(elemCategory, "C1", fieldName, "Work"),
			entityEvents(elemCategory, "C1", fieldName, "Work (renamed)"),
		},
		nil, nil,
	)
	feedAll(t, s, evs)

	if s.State() != StateComplete {
		t.Fatalf("expected complete, got %s", s.State())
	}

	// Exactly one local entity, with the second delivery's values.
	if len(store.categories) != 1 {
		t.Fatalf("expected 1 category, got %d", len(store.categories))
	}
	if got := store.categories["C1"].Name; got != "Work (renamed)" {
		t.Errorf("expected updated name, got %q", got)
	}

	// Progress counters increment per commit event, matching the
	// desktop-reported total.
	if got := s.Counts().Categories; got != 2 {
		t.Errorf("expected 2 commit events, got %d", got)
	}
	if s.idmap.Len(EntityCategory) != 1 {
		t.Errorf("expected 1 distinct mapping, got %d", s.idmap.Len(EntityCategory))
	}
}

func TestDoneCountsCompletedTasks(t *testing.T) {
	store := newMemStore()
	s := NewSession(context.Background(), store, nil, testLogger())

	evs := docEvents(2,
		nil,
		[][]Event{
			entityEvents(elemTask, "T1", fieldSubject, "Open task"),
			entityEvents(elemTask, "T2",
				fieldSubject, "Finished task",
				fieldCompleted, "2024-02-01",
			),
		},
		nil,
	)
	feedAll(t, s, evs)

	counts := s.Counts()
	if counts.Tasks != 2 {
		t.Errorf("expected 2 tasks, got %d", counts.Tasks)
	}
	if counts.Done != 1 {
		t.Errorf("expected done=1, got %d", counts.Done)
	}
	if store.tasks["T2"].Completed == nil {
		t.Error("expected completion date on T2")
	}
}

func TestUnresolvedParentFailsSession(t *testing.T) {
	store := newMemStore()
	reporter := &recordingReporter{}
	s := NewSession(context.Background(), store, reporter, testLogger())

	evs := docEvents(1,
		nil,
		[][]Event{entityEvents(elemTask, "T2",
			fieldSubject, "Orphan",
			fieldParent, "T-unseen",
		)},
		nil,
	)
	err := feedUntilError(s, evs)
	if err == nil {
		t.Fatal("expected session failure")
	}

	var syncErr *Error
	if !errors.As(err, &syncErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if syncErr.Kind != KindUnresolvedReference {
		t.Errorf("expected %s, got %s", KindUnresolvedReference, syncErr.Kind)
	}
	if s.State() != StateFailed {
		t.Errorf("expected failed, got %s", s.State())
	}

	// No partial commit: the offending task never reached the store.
	if len(store.tasks) != 0 {
		t.Errorf("expected no committed tasks, got %d", len(store.tasks))
	}
	if len(reporter.failures) != 1 {
		t.Errorf("expected 1 failure callback, got %d", len(reporter.failures))
	}
	if len(reporter.completes) != 0 {
		t.Errorf("unexpected complete callback")
	}
}

func TestCancellationBetweenEntities(t *testing.T) {
	store := newMemStore()
	reporter := &recordingReporter{}
	s := NewSession(context.Background(), store, reporter, testLogger())

	prefix := []Event{
		open(elemRoot, attrTotal, "2"),
		open(elemCategories),
	}
	prefix = append(prefix, entityEvents(elemCategory, "C1", fieldName, "Work")...)
	feedAll(t, s, prefix)

	s.Cancel()

	err := s.Feed(open(elemCategory, attrID, "C2"))
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	var syncErr *Error
	if !errors.As(err, &syncErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if syncErr.Kind != KindCancelled {
		t.Errorf("expected %s, got %s", KindCancelled, syncErr.Kind)
	}

	// Already-committed entities remain; no rollback.
	if len(store.categories) != 1 {
		t.Errorf("expected committed category to remain, got %d", len(store.categories))
	}

	// Exactly one failure callback, even when more events arrive.
	if err := s.Feed(closing(elemCategory)); err == nil {
		t.Error("expected terminal error on further events")
	}
	if len(reporter.failures) != 1 {
		t.Errorf("expected 1 failure callback, got %d", len(reporter.failures))
	}
	if len(reporter.completes) != 0 {
		t.Error("unexpected complete callback after cancellation")
	}
}

func TestContextCancellationFailsSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewSession(ctx, newMemStore(), nil, testLogger())

	feedAll(t, s, []Event{open(elemRoot)})
	cancel()

	err := s.Feed(open(elemCategories))
	var syncErr *Error
	if !errors.As(err, &syncErr) || syncErr.Kind != KindCancelled {
		t.Fatalf("expected cancellation error, got %v", err)
	}
}

func TestGrammarViolations(t *testing.T) {
	tests := []struct {
		name string
		evs  []Event
		kind ErrorKind
	}{
		{
			name: "wrong root element",
			evs:  []Event{open("export")},
			kind: KindStructural,
		},
		{
			name: "phases out of order",
			evs:  []Event{open(elemRoot), open(elemTasks)},
			kind: KindStructural,
		},
		{
			name: "unknown field in category",
			evs: []Event{
				open(elemRoot), open(elemCategories),
				open(elemCategory, attrID, "C1"),
				open(fieldDue),
			},
			kind: KindStructural,
		},
		{
			name: "entity missing id attribute",
			evs: []Event{
				open(elemRoot), open(elemCategories),
				open(elemCategory),
			},
			kind: KindStructural,
		},
		{
			name: "out of order close",
			evs: []Event{
				open(elemRoot), open(elemCategories),
				open(elemCategory, attrID, "C1"),
				open(fieldName), text("Work"),
				closing(elemCategory),
			},
			kind: KindStructural,
		},
		{
			name: "missing required field at commit",
			evs: []Event{
				open(elemRoot), open(elemCategories),
				open(elemCategory, attrID, "C1"),
				closing(elemCategory),
			},
			kind: KindStructural,
		},
		{
			name: "document closed before efforts phase",
			evs: []Event{
				open(elemRoot),
				open(elemCategories), closing(elemCategories),
				open(elemTasks), closing(elemTasks),
				closing(elemRoot),
			},
			kind: KindStructural,
		},
		{
			name: "stray character data",
			evs:  []Event{open(elemRoot), text("junk")},
			kind: KindStructural,
		},
		{
			name: "malformed total attribute",
			evs:  []Event{open(elemRoot, attrTotal, "many")},
			kind: KindFieldDecode,
		},
		{
			name: "malformed task date",
			evs: append([]Event{open(elemRoot),
				open(elemCategories), closing(elemCategories),
				open(elemTasks)},
				entityEvents(elemTask, "T1",
					fieldSubject, "Bad date",
					fieldDue, "tomorrow",
				)...),
			kind: KindFieldDecode,
		},
		{
			name: "malformed effort timestamp",
			evs: append([]Event{open(elemRoot),
				open(elemCategories), closing(elemCategories),
				open(elemTasks)},
				append(entityEvents(elemTask, "T1", fieldSubject, "Task"),
					append([]Event{closing(elemTasks), open(elemEfforts)},
						entityEvents(elemEffort, "E1",
							fieldTask, "T1",
							fieldStarted, "nine o'clock",
						)...)...)...),
			kind: KindFieldDecode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reporter := &recordingReporter{}
			s := NewSession(context.Background(), newMemStore(), reporter, testLogger())

			err := feedUntilError(s, tt.evs)
			if err == nil {
				t.Fatal("expected session failure")
			}

			var syncErr *Error
			if !errors.As(err, &syncErr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if syncErr.Kind != tt.kind {
				t.Errorf("expected kind %s, got %s (%v)", tt.kind, syncErr.Kind, syncErr)
			}
			if s.State() != StateFailed {
				t.Errorf("expected failed state, got %s", s.State())
			}
			if len(reporter.failures) != 1 {
				t.Errorf("expected 1 failure callback, got %d", len(reporter.failures))
			}
		})
	}
}

func TestStoreErrorFailsSession(t *testing.T) {
	store := newMemStore()
	store.failRemoteID = "C1"
	s := NewSession(context.Background(), store, nil, testLogger())

	evs := docEvents(1,
		[][]Event{entityEvents(elemCategory, "C1", fieldName, "Work")},
		nil, nil,
	)
	err := feedUntilError(s, evs)

	var syncErr *Error
	if !errors.As(err, &syncErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if syncErr.Kind != KindStore {
		t.Errorf("expected %s, got %s", KindStore, syncErr.Kind)
	}
	if syncErr.RemoteID != "C1" {
		t.Errorf("expected offending remote id C1, got %s", syncErr.RemoteID)
	}
}

func TestEmptyPhasesAreValid(t *testing.T) {
	reporter := &recordingReporter{}
	s := NewSession(context.Background(), newMemStore(), reporter, testLogger())

	feedAll(t, s, docEvents(0, nil, nil, nil))

	if s.State() != StateComplete {
		t.Fatalf("expected complete, got %s", s.State())
	}
	if got := s.Counts().Committed(); got != 0 {
		t.Errorf("expected no commits, got %d", got)
	}
	if len(reporter.completes) != 1 {
		t.Errorf("expected 1 complete callback, got %d", len(reporter.completes))
	}
}
