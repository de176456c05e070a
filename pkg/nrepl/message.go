// Package nrepl drives nREPL sessions over an established transport:
// a single reader goroutine decodes responses and demultiplexes them
// to in-flight operations by id, while callers block on typed waits
// with timeout and cancellation.
package nrepl

// Message is one decoded response dict. Accessors tolerate missing or
// mistyped fields by returning zero values; every field the peer sent,
// known or not, stays reachable through Raw.
type Message struct {
	raw map[string]interface{}
}

func newMessage(raw map[string]interface{}) *Message {
	return &Message{raw: raw}
}

// Raw returns the underlying decoded dict.
func (m *Message) Raw() map[string]interface{} {
	return m.raw
}

// str extracts a byte-string field as a string.
func (m *Message) str(key string) (string, bool) {
	v, ok := m.raw[key]
	if !ok {
		return "", false
	}
	b, ok := v.([]byte)
	if !ok {
		return "", false
	}
	return string(b), true
}

// ID returns the request id this message answers, if any.
func (m *Message) ID() string {
	s, _ := m.str("id")
	return s
}

// Session returns the session the message belongs to.
func (m *Message) Session() string {
	s, _ := m.str("session")
	return s
}

// NewSession returns the session id granted by a clone reply.
func (m *Message) NewSession() string {
	s, _ := m.str("new-session")
	return s
}

// Value returns the evaluation result carried by this message. The
// second return distinguishes an absent field from an empty value.
func (m *Message) Value() (string, bool) {
	return m.str("value")
}

// Out returns a stdout fragment, if present.
func (m *Message) Out() (string, bool) {
	return m.str("out")
}

// ErrOutput returns a stderr fragment, if present.
func (m *Message) ErrOutput() (string, bool) {
	return m.str("err")
}

// Ex returns the exception description of a failed evaluation.
func (m *Message) Ex() string {
	s, _ := m.str("ex")
	return s
}

// RootEx returns the root cause of a failed evaluation.
func (m *Message) RootEx() string {
	s, _ := m.str("root-ex")
	return s
}

// Status returns the status tags on this message.
func (m *Message) Status() []string {
	v, ok := m.raw["status"]
	if !ok {
		return nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if b, ok := item.([]byte); ok {
			out = append(out, string(b))
		}
	}
	return out
}

// HasStatus reports whether tag appears in the message's status list.
func (m *Message) HasStatus(tag string) bool {
	for _, s := range m.Status() {
		if s == tag {
			return true
		}
	}
	return false
}
