package chat

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/pagechat/pagechat/pkg/id"
)

const (
	// TextMessage is a plain UTF-8 text message.
	TextMessage MessageType = "text"
	// ImageMessage carries a reference to an image.
	ImageMessage MessageType = "image"
	// FileMessage carries a reference to an arbitrary file.
	FileMessage MessageType = "file"
)

// MessageType determines how the message content should be interpreted.
type MessageType string

var (
	// ErrReferenceNotFound is returned when a referenced user or room does
	// not exist. Not retryable; the caller must correct its input.
	ErrReferenceNotFound = errors.New("referenced user or room not found")
	// ErrPageFull is returned by AppendToPage when the page is sealed at
	// capacity. It is consumed internally by the post sequence, which creates
	// a new page instead; it is never surfaced to API clients.
	ErrPageFull = errors.New("page is at capacity")
	// ErrStaleWatermark is returned when a catch-up watermark is inconsistent
	// with the room's state. The client should resynchronize from scratch.
	ErrStaleWatermark = errors.New("stale or invalid watermark")
	// ErrAlreadyMember is returned when the user already belongs to the room.
	ErrAlreadyMember = errors.New("user already in room")
	// ErrInvalidMessage is returned when a message input fails validation.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrInvalidRoom is returned when a room input fails validation.
	ErrInvalidRoom = errors.New("invalid room")
)

var validate = validator.New()

// Message is an immutable message document. It is owned by the message
// collection; pages reference it by ID and never own it.
type Message struct {
	ID       id.ID       `json:"id"`
	SenderID id.ID       `json:"senderId"`
	RoomID   id.ID       `json:"roomId"`
	Type     MessageType `json:"type"`
	Content  string      `json:"content"`
	// CreatedAt is the creation time in unix seconds.
	CreatedAt int64 `json:"createdAt"`
}

// Page is a bounded container of message IDs belonging to one room, in
// insertion order. A page is appended to while under capacity; once it
// reaches capacity it is sealed and a new page is created instead.
type Page struct {
	ID id.ID `json:"id"`
	// RoomID is set on the first page created for a room and zero on every
	// later page.
	RoomID     id.ID   `json:"roomId"`
	MessageIDs []id.ID `json:"messageIds"`
}

// Room is a room document. Beyond the name and member list it carries the
// room's message ledger: the total message count, the time of the last post
// and the ordered list of page IDs, oldest first.
//
// Ledger invariants: the sum of page lengths over PageIDs equals
// MessageCount; UpdateTime never decreases; PageIDs grows by exactly one
// entry each time the active page seals.
type Room struct {
	ID      id.ID   `json:"id"`
	Name    string  `json:"name"`
	Members []id.ID `json:"members"`
	// MessageCount is the total number of messages ever posted to the room.
	MessageCount int `json:"messageCount"`
	// UpdateTime is the CreatedAt of the last message, in unix seconds.
	UpdateTime int64   `json:"updateTime"`
	PageIDs    []id.ID `json:"pageIds"`
}

// Watermark identifies how much of a room's history a client has seen: the
// room's UpdateTime and MessageCount at the client's last fetch.
type Watermark struct {
	UpdateTime   int64 `json:"updateTime"`
	MessageCount int   `json:"messageCount"`
}

// MessageCreateInput is a validated message record handed to PostMessage.
type MessageCreateInput struct {
	SenderID id.ID       `json:"senderId"`
	RoomID   id.ID       `json:"roomId"`
	Type     MessageType `json:"type" validate:"required,oneof=text image file"`
	Content  string      `json:"content" validate:"required,min=1,max=4096"`
}

// Validate validates the message input.
func (m *MessageCreateInput) Validate() error {
	if m.SenderID.IsZero() || m.RoomID.IsZero() {
		return ErrInvalidMessage
	}
	if err := validate.Struct(m); err != nil {
		return ErrInvalidMessage
	}
	return nil
}

// RoomCreateInput is the input for creating a room.
type RoomCreateInput struct {
	Name string `json:"name" validate:"required,min=1,max=32"`
	// Members are the initial members of the room. Each must reference an
	// existing user.
	Members []id.ID `json:"members"`
}

// Validate validates the room input.
func (r *RoomCreateInput) Validate() error {
	if err := validate.Struct(r); err != nil {
		return ErrInvalidRoom
	}
	return nil
}
