package chat

import (
	"context"

	"github.com/pagechat/pagechat/pkg/id"
)

// ChatStore is the room message storage engine. Rooms, pages and messages
// live in separate collections of the same document store; the post sequence
// spans all three and commits atomically.
type ChatStore interface {
	// CreateRoom creates a room with an empty ledger (zero messages, no
	// pages). Every initial member must reference an existing user, otherwise
	// it returns ErrReferenceNotFound and creates nothing. The room is
	// appended to each member's room list in the same transaction.
	CreateRoom(ctx context.Context, input RoomCreateInput) (*Room, error)

	// GetRoomByID returns the room with the given ID, or nil if no such room
	// exists.
	GetRoomByID(ctx context.Context, roomID id.ID) (*Room, error)

	// RoomExists reports whether the room exists. It has no side effects.
	RoomExists(ctx context.Context, roomID id.ID) (bool, error)

	// IsMember reports whether the user is a member of the room. It has no
	// side effects.
	IsMember(ctx context.Context, roomID, userID id.ID) (bool, error)

	// AddMember adds the user to the room and the room to the user's room
	// list in one transaction. If the room or user does not exist it returns
	// ErrReferenceNotFound; if the user is already a member it returns
	// ErrAlreadyMember. Neither failure leaves any mutation behind.
	AddMember(ctx context.Context, roomID, userID id.ID) error

	// PostMessage runs the post transaction: it creates the message document,
	// appends its ID to the room's active page (creating and registering a
	// new page when there is none or the active one is sealed) and updates
	// the room ledger, all atomically. If the sender or room does not exist
	// it returns ErrReferenceNotFound without side effects. Posts to the same
	// room are serialized; posts to different rooms proceed concurrently.
	PostMessage(ctx context.Context, input MessageCreateInput) (*Message, error)

	// FetchSince returns the messages the client is missing relative to its
	// watermark, newest first, at most maxBatch. A client that is exactly
	// caught up gets an empty slice. A client that claims more messages than
	// the room holds while being behind on time gets the newest maxBatch
	// messages as a recovery heuristic. A watermark ahead of the room's state
	// in both dimensions yields ErrStaleWatermark. A missing room yields
	// ErrReferenceNotFound.
	FetchSince(ctx context.Context, roomID id.ID, mark Watermark, maxBatch int) ([]Message, error)

	// GetMessage returns the message with the given ID.
	// A missing message yields docstore.ErrNotFound.
	GetMessage(ctx context.Context, messageID id.ID) (*Message, error)

	// CreatePage creates a new page seeded with one message ID. roomID is
	// recorded on the page only for a room's first page; pass the zero ID
	// otherwise.
	CreatePage(ctx context.Context, initialMessageID, roomID id.ID) (id.ID, error)

	// AppendToPage appends the message ID to the page. If the page is at
	// capacity it returns ErrPageFull and leaves the page untouched; the
	// caller creates a new page instead. A missing page yields
	// docstore.ErrNotFound.
	AppendToPage(ctx context.Context, pageID, messageID id.ID) error

	// GetPage returns the page with the given ID.
	// A missing page yields docstore.ErrNotFound.
	GetPage(ctx context.Context, pageID id.ID) (*Page, error)

	// GetPages batch-fetches pages. Missing IDs are absent from the result.
	GetPages(ctx context.Context, pageIDs []id.ID) (map[id.ID]Page, error)
}
