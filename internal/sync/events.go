package sync

// EventType represents the kind of structural event fed to a session.
type EventType int

const (
	// EventOpen is an element-open event carrying a name and attributes.
	EventOpen EventType = iota
	// EventText is a character-data chunk. Consecutive text events between
	// an open and its close concatenate in order.
	EventText
	// EventClose is an element-close event carrying a name.
	EventClose
)

// String returns a human-readable representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventText:
		return "text"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is one structural event from the export stream.
type Event struct {
	Type EventType
	// Name is the element name for open and close events.
	Name string
	// Attr holds the element attributes for open events.
	Attr map[string]string
	// Text is the character data for text events.
	Text string
}
