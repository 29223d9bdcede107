package broker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies what changed.
type Type string

const (
	ListingAdd            Type = "LISTING_ADD"
	ListingRemove         Type = "LISTING_REMOVE"
	CollectionBoxUpdate   Type = "COLLECTION_BOX_UPDATE"
	ExpiredListingsUpdate Type = "EXPIRED_LISTINGS_UPDATE"
	Notification          Type = "NOTIFICATION"
)

// Known reports whether t is a type this version understands.
func (t Type) Known() bool {
	switch t {
	case ListingAdd, ListingRemove, CollectionBoxUpdate, ExpiredListingsUpdate, Notification:
		return true
	}
	return false
}

// Note is the payload of a NOTIFICATION message.
type Note struct {
	Recipient uuid.UUID `json:"recipient"`
	Text      string    `json:"text"`
}

// Payload carries either the id of the changed aggregate (a listing id or a
// player id) or a notification.
type Payload struct {
	ID           *uuid.UUID `json:"id,omitempty"`
	Notification *Note      `json:"notification,omitempty"`
}

// Message is the unit exchanged between processes. It only signals a change;
// receivers reload the aggregate from the store.
type Message struct {
	Type    Type    `json:"type"`
	Payload Payload `json:"payload"`
	Origin  string  `json:"origin,omitempty"`
	SentAt  int64   `json:"sent_at"`
}

// NewIDMessage builds a change signal for the aggregate id.
func NewIDMessage(t Type, id uuid.UUID, origin string) Message {
	return Message{Type: t, Payload: Payload{ID: &id}, Origin: origin, SentAt: time.Now().UnixMilli()}
}

// NewNotification builds a NOTIFICATION message.
func NewNotification(recipient uuid.UUID, text, origin string) Message {
	return Message{
		Type:    Notification,
		Payload: Payload{Notification: &Note{Recipient: recipient, Text: text}},
		Origin:  origin,
		SentAt:  time.Now().UnixMilli(),
	}
}

// Encode serializes m for the wire.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return data, nil
}

// Decode parses a wire message. Unknown types decode fine; callers decide
// what to do with them.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("message has no type")
	}
	return m, nil
}
