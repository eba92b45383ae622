package docs

import "go.mongodb.org/mongo-driver/v2/bson"

// Event type tags as they appear on the wire.
const (
	EventJoined     = "joined"
	EventPeerJoined = "peer_joined"
	EventPeerLeft   = "peer_left"
	EventLeft       = "left"
	EventPeerUpdate = "peer_update"
	EventSaved      = "saved"
	EventConflict   = "conflict"
	EventDeleted    = "deleted"
	EventError      = "error"
)

// Error codes carried by ErrorEvent.
const (
	CodeAccessDenied     = "ACCESS_DENIED"
	CodeNotJoined        = "NOT_JOINED"
	CodeWriteDenied      = "WRITE_DENIED"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeBadMessage       = "BAD_MESSAGE"
)

// LeaveReason distinguishes an explicit leave from a dropped transport.
type LeaveReason string

const (
	LeaveExplicit   LeaveReason = "explicit"
	LeaveDisconnect LeaveReason = "disconnect"
)

// Event is one server-to-client message. The concrete types below form
// the closed set of envelopes the protocol can emit; each carries its
// own "type" tag so marshalling stays flat.
type Event interface {
	EventType() string
}

// JoinedEvent is the direct reply to a successful join.
type JoinedEvent struct {
	Type        string       `json:"type"`
	Document    Snapshot     `json:"document"`
	Permission  Permission   `json:"permission"`
	ActiveUsers []ActiveUser `json:"active_users"`
}

func (e JoinedEvent) EventType() string { return EventJoined }

// PeerJoinedEvent is broadcast to the rest of the room on a new join.
type PeerJoinedEvent struct {
	Type string     `json:"type"`
	User ActiveUser `json:"user"`
}

func (e PeerJoinedEvent) EventType() string { return EventPeerJoined }

// PeerLeftEvent is broadcast to the remaining members on a leave.
type PeerLeftEvent struct {
	Type   string      `json:"type"`
	User   ActiveUser  `json:"user"`
	Reason LeaveReason `json:"reason"`
}

func (e PeerLeftEvent) EventType() string { return EventPeerLeft }

// LeftEvent is the direct reply to an explicit leave.
type LeftEvent struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
}

func (e LeftEvent) EventType() string { return EventLeft }

// PeerUpdateEvent carries a live, unsaved edit preview to the other
// room members. Never persisted.
type PeerUpdateEvent struct {
	Type      string     `json:"type"`
	User      ActiveUser `json:"user"`
	Title     *string    `json:"title,omitempty"`
	Body      *string    `json:"body,omitempty"`
	Transient bool       `json:"transient"`
}

func (e PeerUpdateEvent) EventType() string { return EventPeerUpdate }

// SavedEvent is broadcast to every member, submitter included, after a
// committed save so all clients converge on one authoritative state.
type SavedEvent struct {
	Type    string     `json:"type"`
	Version int64      `json:"version"`
	Title   string     `json:"title"`
	Body    string     `json:"body"`
	Editor  ActiveUser `json:"editor"`
}

func (e SavedEvent) EventType() string { return EventSaved }

// ConflictEvent is sent to the submitting connection only when its save
// lost the compare-and-swap.
type ConflictEvent struct {
	Type          string `json:"type"`
	ClientVersion int64  `json:"client_version"`
	ServerVersion int64  `json:"server_version"`
	ServerTitle   string `json:"server_title"`
	ServerBody    string `json:"server_body"`
}

func (e ConflictEvent) EventType() string { return EventConflict }

// DeletedEvent tells room members the document was soft-deleted.
type DeletedEvent struct {
	Type       string        `json:"type"`
	DocumentID bson.ObjectID `json:"document_id"`
}

func (e DeletedEvent) EventType() string { return EventDeleted }

// ErrorEvent is the error envelope for the persistent connection.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ErrorEvent) EventType() string { return EventError }

// NewErrorEvent builds an error envelope with the tag set.
func NewErrorEvent(code, message string) ErrorEvent {
	return ErrorEvent{Type: EventError, Code: code, Message: message}
}
