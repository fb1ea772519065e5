// Package ws defines the JSON frames exchanged with gateway clients.
package ws

import (
	"encoding/json"
)

// Inbound frame types
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeSend        = "send"
	TypeRead        = "read"
	TypeReadAll     = "read_all"
	TypeHistory     = "history"
	TypePing        = "ping"
	TypeLogout      = "logout"
)

// Outbound frame types
const (
	TypeMessage      = "message"
	TypeAck          = "ack"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeError        = "error"
	TypePong         = "pong"
	TypeReadDone     = "read_done"
)

// Inbound is a frame sent by a client
type Inbound struct {
	Type        string `json:"type"`
	RoomID      uint   `json:"roomId,omitempty"`
	Body        string `json:"body,omitempty"`
	ClientMsgID string `json:"clientMsgId,omitempty"`
	MessageID   string `json:"messageId,omitempty"`
	Cursor      string `json:"cursor,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Order       string `json:"order,omitempty"`
}

// Outbound is a frame sent to a client. Message carries a stored message for
// message and ack frames, and the error text for error frames.
type Outbound struct {
	Type        string          `json:"type"`
	RoomID      uint            `json:"roomId,omitempty"`
	ClientMsgID string          `json:"clientMsgId,omitempty"`
	Message     json.RawMessage `json:"message,omitempty"`
	Messages    json.RawMessage `json:"messages,omitempty"`
	NextCursor  string          `json:"nextCursor,omitempty"`
	Updated     *int64          `json:"updated,omitempty"`
	Code        string          `json:"code,omitempty"`
	Ref         string          `json:"ref,omitempty"`
}

// ErrorFrame builds an error frame; ref echoes the client message id or frame type it answers
func ErrorFrame(roomID uint, code, text, ref string) Outbound {
	msg, _ := json.Marshal(text)
	return Outbound{Type: TypeError, RoomID: roomID, Code: code, Message: msg, Ref: ref}
}

// ErrorText returns the text of an error frame
func (o Outbound) ErrorText() string {
	var s string
	if o.Type == TypeError {
		json.Unmarshal(o.Message, &s)
	}
	return s
}
