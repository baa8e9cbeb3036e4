// Package events defines the wire-level event catalogue exchanged over a live
// connection, the payload shapes that travel with each event, and the
// delivery outcome reported by the router.
package events

import (
	"encoding/json"
	"strings"
)

// Event names. Every frame on the wire carries one of these.
const (
	OnlineSnapshot       = "online-snapshot"
	Typing               = "typing"
	StopTyping           = "stop-typing"
	NewMessage           = "new-message"
	NewNotification      = "new-notification"
	NewFriendRequest     = "new-friend-request"
	FriendRequestUpdated = "friend-request-updated"
	CallRequest          = "call-request"
	CallAccept           = "call-accept"
	CallReject           = "call-reject"
	CallOffer            = "call-offer"
	CallAnswer           = "call-answer"
	CallICECandidate     = "call-ice-candidate"
	CallEnded            = "call-ended"
	CallTimeout          = "call-timeout"
	Error                = "error"
)

const callPrefix = "call-"

// IsCall reports whether name belongs to the call signaling namespace.
func IsCall(name string) bool {
	return strings.HasPrefix(name, callPrefix)
}

// Frame is the JSON envelope of every message on a connection.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals payload into a frame ready for a connection's send queue.
func Encode(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = raw
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// TypingPayload is sent by a client as {receiver} and delivered as {sender}.
type TypingPayload struct {
	Receiver string `json:"receiver,omitempty"`
	Sender   string `json:"sender,omitempty"`
}

// Signal is the payload of every call-* event. Payload is the opaque
// signaling blob (SDP offer/answer, ICE candidate) and is never inspected.
type Signal struct {
	To      string          `json:"to"`
	From    string          `json:"from,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload is returned to the originating connection for rejected frames.
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

// Outcome is the result of a push attempt.
type Outcome int

const (
	Delivered Outcome = iota
	Dropped
)

func (o Outcome) String() string {
	if o == Delivered {
		return "delivered"
	}
	return "dropped"
}

// DropReason explains a Dropped outcome.
type DropReason string

const (
	ReasonOffline    DropReason = "offline"
	ReasonBufferFull DropReason = "buffer-full"
	ReasonClosed     DropReason = "closed"
	ReasonEncode     DropReason = "encode"
)

// Delivery reports whether a pushed event reached a live connection queue.
// A dropped delivery is the expected outcome for an offline identity and is
// never an error.
type Delivery struct {
	Outcome Outcome
	Reason  DropReason
}

// Sent reports whether the event was queued on a live connection.
func (d Delivery) Sent() bool { return d.Outcome == Delivered }

// Drop returns a Dropped delivery with reason.
func Drop(reason DropReason) Delivery {
	return Delivery{Outcome: Dropped, Reason: reason}
}

// Pusher delivers an event to the live connection of an identity, if any.
type Pusher interface {
	Push(identity, event string, payload any) Delivery
}
