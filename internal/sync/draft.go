package sync

import (
	"time"
)

// Date and time layouts for the v1 wire vocabulary. Task dates are plain
// days; effort timestamps are minute-precision with an optional seconds
// part, depending on the desktop version.
const dateLayout = "2006-01-02"

var timeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// draft accumulates field values for the entity currently being assembled.
// It is owned exclusively by its session, passed explicitly through the
// transition code, and reset after every commit.
type draft struct {
	kind     EntityKind
	remoteID string
	values   map[string]string
	// categories holds remote ids from the repeatable <category> field of
	// task elements, in stream order.
	categories []string
}

// reset prepares the draft for a new entity.
func (d *draft) reset(kind EntityKind, remoteID string) {
	d.kind = kind
	d.remoteID = remoteID
	d.values = make(map[string]string)
	d.categories = d.categories[:0]
}

// setField finalizes a field's buffered text into the draft. Re-delivery
// of the same field overwrites the prior value; the repeatable <category>
// field of tasks appends instead.
func (d *draft) setField(name, text string) {
	if d.kind == EntityTask && name == elemCategory {
		d.categories = append(d.categories, text)
		return
	}
	d.values[name] = text
}

// value returns the finalized text for a field and whether it was set.
func (d *draft) value(name string) (string, bool) {
	v, ok := d.values[name]
	return v, ok
}

// dateField decodes an optional day-precision field. Unset or empty fields
// decode to nil, matching the desktop convention that an empty string
// means "no date".
func (d *draft) dateField(name string) (*time.Time, error) {
	raw, ok := d.value(name)
	if !ok || raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, &Error{
			Kind:     KindFieldDecode,
			Entity:   d.kind,
			RemoteID: d.remoteID,
			Field:    name,
			Message:  "malformed date",
			Err:      err,
		}
	}
	return &t, nil
}

// timeField decodes an optional timestamp field, trying each supported
// layout in order.
func (d *draft) timeField(name string) (*time.Time, error) {
	raw, ok := d.value(name)
	if !ok || raw == "" {
		return nil, nil
	}
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return &t, nil
		}
		lastErr = err
	}
	return nil, &Error{
		Kind:     KindFieldDecode,
		Entity:   d.kind,
		RemoteID: d.remoteID,
		Field:    name,
		Message:  "malformed timestamp",
		Err:      lastErr,
	}
}
