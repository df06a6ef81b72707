// Package livereload maintains persistent websocket connections to browser
// clients and propagates build results to them. Each connection runs an
// explicit tagged state machine (connected, subscribed, pushing, desynced);
// updates for one connection are delivered strictly in build-completion
// order, and a connection that misses an ack deadline receives exactly one
// reload instruction before any further patch.
package livereload

import tavoerrors "github.com/TechWithDunamix/tavo/internal/errors"

// MessageKind enumerates the live-update channel message types.
type MessageKind string

const (
	KindSubscribe MessageKind = "subscribe"
	KindPatch     MessageKind = "patch"
	KindReload    MessageKind = "reload"
	KindAck       MessageKind = "ack"
	KindError     MessageKind = "error"
)

// Message is one live-update channel frame, in either direction.
type Message struct {
	Kind       MessageKind            `json:"kind"`
	Entries    []string               `json:"entries,omitempty"` // subscribe
	Entry      string                 `json:"entry,omitempty"`   // patch, ack
	Hash       string                 `json:"hash,omitempty"`    // patch, ack
	Payload    string                 `json:"payload,omitempty"` // patch: artifact URL
	Diagnostic *tavoerrors.Diagnostic `json:"diagnostic,omitempty"`
}

// Update is a build completion fanned out to clients.
type Update struct {
	Entry   string
	Hash    string
	Payload string
	// ForceReload requests a full reload instead of a targeted patch, set
	// when the change classification rules out safe patching (layout or
	// root edits, config or route-structure changes).
	ForceReload bool
}

// State tags a connection's position in its lifecycle.
type State int

const (
	StateConnected State = iota
	StateSubscribed
	StatePushing
	StateDesynced
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StatePushing:
		return "pushing"
	case StateDesynced:
		return "desynced"
	default:
		return "unknown"
	}
}
