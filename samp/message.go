// Package samp defines the message envelope, response forms, identifier
// generation and error taxonomy shared by the hub and client sides of the
// Altair messaging system. Messages travel as string-keyed maps whose
// values are strings, lists or nested maps, mirroring the profile's wire
// representation.
package samp

import "fmt"

// Wire-level keys used in message and response maps.
const (
	KeyMType    = "samp.mtype"
	KeyParams   = "samp.params"
	KeyStatus   = "samp.status"
	KeyResult   = "samp.result"
	KeyError    = "samp.error"
	KeyErrorTxt = "samp.errortxt"
)

// Administrative mtypes originated by the hub itself.
const (
	MTypeHubEventShutdown      = "samp.hub.event.shutdown"
	MTypeHubEventRegister      = "samp.hub.event.register"
	MTypeHubEventUnregister    = "samp.hub.event.unregister"
	MTypeHubEventMetadata      = "samp.hub.event.metadata"
	MTypeHubEventSubscriptions = "samp.hub.event.subscriptions"
	MTypeAppPing               = "samp.app.ping"
)

// Params holds the parameter block of a message. Legal values are strings,
// []any lists and map[string]any maps, nested to any depth.
type Params map[string]any

// String returns the named parameter if it is present and is a string.
func (p Params) String(key string) (string, bool) {
	v, ok := p[key].(string)
	return v, ok
}

// List returns the named parameter if it is present and is a list.
func (p Params) List(key string) ([]any, bool) {
	v, ok := p[key].([]any)
	return v, ok
}

// Message is a typed message as routed between clients. MType identifies
// the meaning of the message, Params carries its arguments and Extra holds
// any additional top-level keys received alongside the standard two.
type Message struct {
	MType  string
	Params Params
	Extra  map[string]any
}

// New creates an empty message with the given mtype.
func New(mtype string) *Message {
	return &Message{
		MType:  mtype,
		Params: Params{},
	}
}

// Set stores a single parameter and returns the message so calls can be
// chained when building a message inline.
func (m *Message) Set(key string, value any) *Message {
	if m.Params == nil {
		m.Params = Params{}
	}
	m.Params[key] = value
	return m
}

// ToMap renders the message in its wire form, a map carrying samp.mtype,
// samp.params and any extra top-level keys.
func (m *Message) ToMap() map[string]any {
	out := make(map[string]any, len(m.Extra)+2)
	for k, v := range m.Extra {
		out[k] = v
	}
	out[KeyMType] = m.MType
	p := m.Params
	if p == nil {
		p = Params{}
	}
	out[KeyParams] = map[string]any(p)
	return out
}

// FromMap parses a wire-form map into a Message. The samp.mtype entry must
// be a non-empty string and samp.params, when present, must be a map;
// anything else yields ErrMalformed. Unknown top-level keys are preserved
// in Extra.
func FromMap(raw map[string]any) (*Message, error) {
	mt, ok := raw[KeyMType].(string)
	if !ok || mt == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformed, KeyMType)
	}
	m := New(mt)
	if pv, ok := raw[KeyParams]; ok {
		pm, ok := pv.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a map", ErrMalformed, KeyParams)
		}
		m.Params = Params(pm)
	}
	for k, v := range raw {
		if k == KeyMType || k == KeyParams {
			continue
		}
		if m.Extra == nil {
			m.Extra = make(map[string]any)
		}
		m.Extra[k] = v
	}
	return m, nil
}
