package types

// Event represents a typed notification emitted by an invocation. Type is the
// fixed leading tag; Attributes carry the contextual values as strings.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// NewEvent starts an event with the given tag.
func NewEvent(typ string) *Event {
	return &Event{Type: typ, Attributes: make(map[string]string)}
}

// With sets an attribute and returns the event for chaining.
func (e *Event) With(key, value string) *Event {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// Attr returns an attribute value or the empty string.
func (e *Event) Attr(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}
