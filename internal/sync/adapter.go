package sync

import (
	"encoding/xml"
	"errors"
	"io"
)

// Run drives the session from an XML byte stream until the document
// completes or the session fails.
//
// Run is a pure adapter over the stdlib tokenizer: it translates
// StartElement, CharData and EndElement tokens into session events,
// preserving event order and text chunk boundaries, and buffers nothing
// itself. Comments, directives and processing instructions are not part of
// the grammar and are dropped. Tokenizer errors and a stream that ends
// before the document root closes fail the session with a structural
// error.
//
// Example:
//
//	session := sync.NewSession(ctx, store, reporter, nil)
//	if err := session.Run(conn); err != nil {
//	    return err
//	}
func (s *Session) Run(r io.Reader) error {
	dec := xml.NewDecoder(r)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			if s.state == StateComplete {
				return nil
			}
			return s.failf("stream ended in state %s before document close", s.state)
		}
		if err != nil {
			return s.fail(&Error{Kind: KindStructural, Message: "malformed stream", Err: err})
		}

		ev, ok := translateToken(tok)
		if !ok {
			continue
		}
		if err := s.Feed(ev); err != nil {
			return err
		}
		if s.state == StateComplete {
			return nil
		}
	}
}

// translateToken converts an xml.Token into a session event. Returns
// (Event{}, false) for token kinds outside the grammar.
func translateToken(tok xml.Token) (Event, bool) {
	switch t := tok.(type) {
	case xml.StartElement:
		attrs := make(map[string]string, len(t.Attr))
		for _, a := range t.Attr {
			attrs[a.Name.Local] = a.Value
		}
		return Event{Type: EventOpen, Name: t.Name.Local, Attr: attrs}, true
	case xml.EndElement:
		return Event{Type: EventClose, Name: t.Name.Local}, true
	case xml.CharData:
		return Event{Type: EventText, Text: string(t)}, true
	default:
		return Event{}, false
	}
}
