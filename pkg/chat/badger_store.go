package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"

	"github.com/pagechat/pagechat/pkg/docstore"
	"github.com/pagechat/pagechat/pkg/id"
)

const (
	// DefaultPageCapacity is the number of message IDs a page holds before it
	// seals.
	DefaultPageCapacity = 100

	// maxTxnRetries bounds retries of a conflicted post transaction. With the
	// per-room lock serializing writers of a room, conflicts only arise from
	// unrelated keys sharing a transaction, so a couple of retries suffice.
	maxTxnRetries = 3
)

func roomKey(roomID id.ID) []byte {
	return docstore.Key("room", roomID.String())
}

func pageKey(pageID id.ID) []byte {
	return docstore.Key("page", pageID.String())
}

func messageKey(messageID id.ID) []byte {
	return docstore.Key("message", messageID.String())
}

// Options configures a BadgerChatStore.
type Options struct {
	// PageCapacity overrides DefaultPageCapacity when positive.
	PageCapacity int
	// Clock overrides the time source. Used in tests.
	Clock func() time.Time
}

// UserDirectory is the slice of the user store the chat store depends on:
// an existence check and the transaction-scoped room list append.
type UserDirectory interface {
	Exists(ctx context.Context, userID id.ID) (bool, error)
	AddRoomTx(txn *badger.Txn, userID, roomID id.ID) error
}

// BadgerChatStore implements ChatStore on the embedded document store.
// All writes touching a room's ledger run under that room's lock and inside a
// single storage transaction, so readers observe either the pre- or the
// post-transaction state, never a torn one.
type BadgerChatStore struct {
	db       *docstore.DB
	users    UserDirectory
	capacity int
	clock    func() time.Time
	locks    *SyncMap[id.ID, *sync.Mutex]
	log      *slog.Logger
}

func NewBadgerChatStore(db *docstore.DB, users UserDirectory, log *slog.Logger, options Options) *BadgerChatStore {
	capacity := options.PageCapacity
	if capacity <= 0 {
		capacity = DefaultPageCapacity
	}
	clock := options.Clock
	if clock == nil {
		clock = time.Now
	}
	return &BadgerChatStore{
		db:       db,
		users:    users,
		capacity: capacity,
		clock:    clock,
		locks:    NewSyncMap[id.ID, *sync.Mutex](),
		log:      log,
	}
}

// PageCapacity returns the configured page capacity.
func (s *BadgerChatStore) PageCapacity() int {
	return s.capacity
}

func (s *BadgerChatStore) roomLock(roomID id.ID) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(roomID, &sync.Mutex{})
	return mu
}

// update runs fn in a read-write transaction, retrying on conflict.
// A conflicted transaction left no trace in the store.
func (s *BadgerChatStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxTxnRetries; i++ {
		err = s.db.Update(fn)
		if !docstore.IsConflict(err) {
			return docstore.Translate(err)
		}
		s.log.Debug("retrying conflicted transaction", "attempt", i+1)
	}
	return docstore.Translate(err)
}

func (s *BadgerChatStore) CreateRoom(ctx context.Context, input RoomCreateInput) (*Room, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	members := lo.Uniq(input.Members)
	for _, userID := range members {
		ok, err := s.users.Exists(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("checking member %s: %w", userID, err)
		}
		if !ok {
			return nil, ErrReferenceNotFound
		}
	}

	created := &Room{
		ID:      id.NewAt(s.clock()),
		Name:    input.Name,
		Members: members,
		PageIDs: []id.ID{},
	}

	err := s.update(func(txn *badger.Txn) error {
		for _, userID := range members {
			if err := s.users.AddRoomTx(txn, userID, created.ID); err != nil {
				if errors.Is(err, docstore.ErrNotFound) {
					return ErrReferenceNotFound
				}
				return err
			}
		}
		return docstore.Put(txn, roomKey(created.ID), created)
	})
	if err != nil {
		if errors.Is(err, ErrReferenceNotFound) {
			return nil, ErrReferenceNotFound
		}
		return nil, fmt.Errorf("creating room: %w", err)
	}

	return created, nil
}

func (s *BadgerChatStore) GetRoomByID(ctx context.Context, roomID id.ID) (*Room, error) {
	found := new(Room)
	err := s.db.View(func(txn *badger.Txn) error {
		return docstore.Get(txn, roomKey(roomID), found)
	})
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting room %s: %w", roomID, docstore.Translate(err))
	}
	return found, nil
}

func (s *BadgerChatStore) RoomExists(ctx context.Context, roomID id.ID) (bool, error) {
	var exists bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		exists, err = docstore.Exists(txn, roomKey(roomID))
		return err
	})
	if err != nil {
		return false, fmt.Errorf("checking room %s: %w", roomID, docstore.Translate(err))
	}
	return exists, nil
}

func (s *BadgerChatStore) IsMember(ctx context.Context, roomID, userID id.ID) (bool, error) {
	room, err := s.GetRoomByID(ctx, roomID)
	if err != nil {
		return false, err
	}
	if room == nil {
		return false, nil
	}
	return lo.Contains(room.Members, userID), nil
}

func (s *BadgerChatStore) AddMember(ctx context.Context, roomID, userID id.ID) error {
	ok, err := s.users.Exists(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrReferenceNotFound
	}

	err = s.update(func(txn *badger.Txn) error {
		var room Room
		if err := docstore.Get(txn, roomKey(roomID), &room); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return ErrReferenceNotFound
			}
			return err
		}
		if lo.Contains(room.Members, userID) {
			return ErrAlreadyMember
		}
		room.Members = append(room.Members, userID)
		if err := s.users.AddRoomTx(txn, userID, roomID); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return ErrReferenceNotFound
			}
			return err
		}
		return docstore.Put(txn, roomKey(roomID), &room)
	})
	if err != nil {
		if errors.Is(err, ErrReferenceNotFound) || errors.Is(err, ErrAlreadyMember) {
			return err
		}
		return fmt.Errorf("adding member to room %s: %w", roomID, err)
	}
	return nil
}

func (s *BadgerChatStore) PostMessage(ctx context.Context, input MessageCreateInput) (*Message, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	ok, err := s.users.Exists(ctx, input.SenderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrReferenceNotFound
	}
	ok, err = s.RoomExists(ctx, input.RoomID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrReferenceNotFound
	}

	// Serialize posts per room so two writers never read the same active
	// page state. Writers of other rooms are not blocked.
	mu := s.roomLock(input.RoomID)
	mu.Lock()
	defer mu.Unlock()

	now := s.clock()
	message := &Message{
		ID:        id.NewAt(now),
		SenderID:  input.SenderID,
		RoomID:    input.RoomID,
		Type:      input.Type,
		Content:   input.Content,
		CreatedAt: now.Unix(),
	}

	err = s.update(func(txn *badger.Txn) error {
		var room Room
		if err := docstore.Get(txn, roomKey(input.RoomID), &room); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return ErrReferenceNotFound
			}
			return err
		}

		if err := docstore.Put(txn, messageKey(message.ID), message); err != nil {
			return err
		}

		if len(room.PageIDs) == 0 {
			// First message of the room: the seeding page carries the room ID.
			page := Page{ID: id.NewAt(now), RoomID: room.ID, MessageIDs: []id.ID{message.ID}}
			if err := docstore.Put(txn, pageKey(page.ID), &page); err != nil {
				return err
			}
			room.PageIDs = []id.ID{page.ID}
		} else {
			activeID := room.PageIDs[len(room.PageIDs)-1]
			var active Page
			if err := docstore.Get(txn, pageKey(activeID), &active); err != nil {
				return err
			}
			if len(active.MessageIDs) < s.capacity {
				active.MessageIDs = append(active.MessageIDs, message.ID)
				if err := docstore.Put(txn, pageKey(activeID), &active); err != nil {
					return err
				}
			} else {
				// Active page sealed: start a new one and register it on the
				// ledger.
				page := Page{ID: id.NewAt(now), MessageIDs: []id.ID{message.ID}}
				if err := docstore.Put(txn, pageKey(page.ID), &page); err != nil {
					return err
				}
				room.PageIDs = append(room.PageIDs, page.ID)
			}
		}

		room.MessageCount++
		room.UpdateTime = message.CreatedAt
		return docstore.Put(txn, roomKey(room.ID), &room)
	})
	if err != nil {
		if errors.Is(err, ErrReferenceNotFound) {
			return nil, ErrReferenceNotFound
		}
		return nil, fmt.Errorf("posting message to room %s: %w", input.RoomID, err)
	}

	return message, nil
}

func (s *BadgerChatStore) FetchSince(ctx context.Context, roomID id.ID, mark Watermark, maxBatch int) ([]Message, error) {
	// The whole read sequence runs in one View transaction so the ledger,
	// the pages and the messages come from the same snapshot. Reading them
	// across snapshots would let a concurrent post slip into the pages after
	// delta was computed from the older ledger, and the truncation below
	// would then cut the oldest message the client is owed.
	var messages []Message
	err := s.db.View(func(txn *badger.Txn) error {
		var room Room
		if err := docstore.Get(txn, roomKey(roomID), &room); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return ErrReferenceNotFound
			}
			return err
		}

		var delta int
		switch {
		case room.UpdateTime > mark.UpdateTime && room.MessageCount < mark.MessageCount:
			// The client claims more messages than the room holds. Resend the
			// newest maxBatch messages so it can recover.
			delta = maxBatch
		case room.UpdateTime >= mark.UpdateTime && room.MessageCount >= mark.MessageCount:
			delta = min(room.MessageCount-mark.MessageCount, maxBatch)
		default:
			return ErrStaleWatermark
		}
		messages = []Message{}
		if delta == 0 {
			return nil
		}

		// Whole trailing pages are fetched even when delta spans only part of
		// the oldest one; the surplus is cut after sorting.
		pagesNeeded := (delta + s.capacity - 1) / s.capacity
		if pagesNeeded > len(room.PageIDs) {
			pagesNeeded = len(room.PageIDs)
		}
		tail := room.PageIDs[len(room.PageIDs)-pagesNeeded:]

		var messageIDs []id.ID
		for _, pageID := range tail {
			var page Page
			if err := docstore.Get(txn, pageKey(pageID), &page); err != nil {
				if errors.Is(err, docstore.ErrNotFound) {
					s.log.Warn("ledger references missing page", "room", roomID, "page", pageID)
					continue
				}
				return err
			}
			messageIDs = append(messageIDs, page.MessageIDs...)
		}

		messages = make([]Message, 0, len(messageIDs))
		for _, messageID := range messageIDs {
			var message Message
			if err := docstore.Get(txn, messageKey(messageID), &message); err != nil {
				if errors.Is(err, docstore.ErrNotFound) {
					s.log.Warn("page references missing message", "room", roomID, "message", messageID)
					continue
				}
				return err
			}
			messages = append(messages, message)
		}

		// ID order is creation order, so newest first is descending by ID.
		sort.Slice(messages, func(i, j int) bool {
			return messages[j].ID.Less(messages[i].ID)
		})
		if len(messages) > delta {
			messages = messages[:delta]
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrReferenceNotFound) || errors.Is(err, ErrStaleWatermark) {
			return nil, err
		}
		return nil, fmt.Errorf("fetching messages for room %s: %w", roomID, docstore.Translate(err))
	}
	return messages, nil
}

func (s *BadgerChatStore) GetMessage(ctx context.Context, messageID id.ID) (*Message, error) {
	found := new(Message)
	err := s.db.View(func(txn *badger.Txn) error {
		return docstore.Get(txn, messageKey(messageID), found)
	})
	if err != nil {
		return nil, docstore.Translate(err)
	}
	return found, nil
}

func (s *BadgerChatStore) CreatePage(ctx context.Context, initialMessageID, roomID id.ID) (id.ID, error) {
	page := Page{ID: id.NewAt(s.clock()), RoomID: roomID, MessageIDs: []id.ID{initialMessageID}}
	err := s.update(func(txn *badger.Txn) error {
		return docstore.Put(txn, pageKey(page.ID), &page)
	})
	if err != nil {
		return id.ID{}, fmt.Errorf("creating page: %w", err)
	}
	return page.ID, nil
}

func (s *BadgerChatStore) AppendToPage(ctx context.Context, pageID, messageID id.ID) error {
	err := s.update(func(txn *badger.Txn) error {
		var page Page
		if err := docstore.Get(txn, pageKey(pageID), &page); err != nil {
			return err
		}
		if len(page.MessageIDs) >= s.capacity {
			return ErrPageFull
		}
		page.MessageIDs = append(page.MessageIDs, messageID)
		return docstore.Put(txn, pageKey(pageID), &page)
	})
	if errors.Is(err, ErrPageFull) || errors.Is(err, docstore.ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("appending to page %s: %w", pageID, err)
	}
	return nil
}

func (s *BadgerChatStore) GetPage(ctx context.Context, pageID id.ID) (*Page, error) {
	found := new(Page)
	err := s.db.View(func(txn *badger.Txn) error {
		return docstore.Get(txn, pageKey(pageID), found)
	})
	if err != nil {
		return nil, docstore.Translate(err)
	}
	return found, nil
}

func (s *BadgerChatStore) GetPages(ctx context.Context, pageIDs []id.ID) (map[id.ID]Page, error) {
	pages := make(map[id.ID]Page, len(pageIDs))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, pageID := range pageIDs {
			var page Page
			if err := docstore.Get(txn, pageKey(pageID), &page); err != nil {
				if errors.Is(err, docstore.ErrNotFound) {
					continue
				}
				return err
			}
			pages[pageID] = page
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching pages: %w", docstore.Translate(err))
	}
	return pages, nil
}
