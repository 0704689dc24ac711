package dashboard

import (
	"encoding/json"
	"time"

	"github.com/taskpouch/taskpouch/internal/sync"
)

// Reporter forwards restore session callbacks to dashboard clients.
// It implements sync.Reporter; a session wired with it streams progress
// to every connected WebSocket client as entities commit.
type Reporter struct {
	server *Server
}

// NewReporter creates a reporter that broadcasts through the given server.
func NewReporter(server *Server) *Reporter {
	return &Reporter{server: server}
}

// Progress broadcasts counters after a committed entity.
func (r *Reporter) Progress(counts sync.Counts, total int) {
	r.send(MessageTypeProgress, ProgressData{
		Counts:    counts,
		Committed: counts.Committed(),
		Total:     total,
	})
}

// Complete broadcasts final counters for a finished restore.
func (r *Reporter) Complete(counts sync.Counts) {
	r.send(MessageTypeComplete, CompleteData{Counts: counts})
}

// Failure broadcasts a fatal restore error.
func (r *Reporter) Failure(err *sync.Error) {
	data := FailureData{
		Kind:    string(err.Kind),
		Message: err.Message,
	}
	if err.Entity != sync.EntityNone {
		data.Entity = err.Entity.String()
	}
	data.RemoteID = err.RemoteID
	data.Field = err.Field
	r.send(MessageTypeFailure, data)
}

func (r *Reporter) send(typ MessageType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.server.logger.Printf("Failed to marshal %s payload: %v", typ, err)
		return
	}
	r.server.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: data})
}
