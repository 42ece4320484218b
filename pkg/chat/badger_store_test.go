package chat

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/pagechat/pagechat/pkg/docstore"
	"github.com/pagechat/pagechat/pkg/id"
	"github.com/pagechat/pagechat/pkg/user"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setUp(t *testing.T, options Options) (user.Store, *BadgerChatStore, *fakeClock) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := docstore.OpenInMemory(log)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	if options.Clock == nil {
		options.Clock = clock.Now
	}

	userStore := user.NewBadgerStore(db)
	chatStore := NewBadgerChatStore(db, userStore, log, options)
	return userStore, chatStore, clock
}

func createUser(t *testing.T, userStore user.Store, phone string) *user.User {
	created, err := userStore.Create(context.Background(), user.CreateInput{
		Name:        "user " + phone,
		PhoneNumber: phone,
		Password:    "password1",
	})
	if err != nil {
		t.Fatalf("Create user %s: %v", phone, err)
	}
	return created
}

func createRoom(t *testing.T, chatStore *BadgerChatStore, members ...id.ID) *Room {
	room, err := chatStore.CreateRoom(context.Background(), RoomCreateInput{
		Name:    "room",
		Members: members,
	})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return room
}

// countDocuments counts the keys under a collection prefix.
func countDocuments(t *testing.T, s *BadgerChatStore, collection string) int {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(collection + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	require.Nil(t, err)
	return count
}

func Test_CreateRoom(t *testing.T) {
	userStore, chatStore, _ := setUp(t, Options{})
	ctx := context.Background()
	u := createUser(t, userStore, "1000")

	t.Run("create_room_with_missing_member", func(t *testing.T) {
		room, err := chatStore.CreateRoom(ctx, RoomCreateInput{Name: "room", Members: []id.ID{id.New()}})
		require.Equal(t, ErrReferenceNotFound, err)
		require.Nil(t, room)
	})
	t.Run("create_room_with_invalid_name", func(t *testing.T) {
		room, err := chatStore.CreateRoom(ctx, RoomCreateInput{Name: ""})
		require.Equal(t, ErrInvalidRoom, err)
		require.Nil(t, room)
	})
	t.Run("create_room_successfully", func(t *testing.T) {
		room, err := chatStore.CreateRoom(ctx, RoomCreateInput{Name: "room", Members: []id.ID{u.ID}})
		require.Nil(t, err)
		require.NotNil(t, room)
		require.Equal(t, 0, room.MessageCount)
		require.Zero(t, room.UpdateTime)
		require.Empty(t, room.PageIDs)
		require.Equal(t, []id.ID{u.ID}, room.Members)

		got, err := chatStore.GetRoomByID(ctx, room.ID)
		require.Nil(t, err)
		require.Equal(t, room, got)

		// The room shows up on the member's room list.
		member, err := userStore.GetByID(ctx, u.ID)
		require.Nil(t, err)
		require.Contains(t, member.Rooms, room.ID)
	})
	t.Run("get_missing_room", func(t *testing.T) {
		got, err := chatStore.GetRoomByID(ctx, id.New())
		require.Nil(t, err)
		require.Nil(t, got)
	})
}

func Test_AddMember(t *testing.T) {
	userStore, chatStore, _ := setUp(t, Options{})
	ctx := context.Background()
	u1 := createUser(t, userStore, "1001")
	u2 := createUser(t, userStore, "1002")
	room := createRoom(t, chatStore, u1.ID)

	t.Run("add_member_to_missing_room", func(t *testing.T) {
		err := chatStore.AddMember(ctx, id.New(), u2.ID)
		require.Equal(t, ErrReferenceNotFound, err)
	})
	t.Run("add_missing_user", func(t *testing.T) {
		err := chatStore.AddMember(ctx, room.ID, id.New())
		require.Equal(t, ErrReferenceNotFound, err)
	})
	t.Run("add_member_successfully", func(t *testing.T) {
		err := chatStore.AddMember(ctx, room.ID, u2.ID)
		require.Nil(t, err)

		ok, err := chatStore.IsMember(ctx, room.ID, u2.ID)
		require.Nil(t, err)
		require.True(t, ok)

		member, err := userStore.GetByID(ctx, u2.ID)
		require.Nil(t, err)
		require.Contains(t, member.Rooms, room.ID)
	})
	t.Run("add_existing_member", func(t *testing.T) {
		err := chatStore.AddMember(ctx, room.ID, u2.ID)
		require.Equal(t, ErrAlreadyMember, err)
	})
	t.Run("is_member_of_missing_room", func(t *testing.T) {
		ok, err := chatStore.IsMember(ctx, id.New(), u1.ID)
		require.Nil(t, err)
		require.False(t, ok)
	})
}

func Test_PostMessage(t *testing.T) {
	const capacity = 5
	userStore, chatStore, _ := setUp(t, Options{PageCapacity: capacity})
	ctx := context.Background()
	sender := createUser(t, userStore, "2000")
	room := createRoom(t, chatStore, sender.ID)

	t.Run("post_to_missing_room_has_no_side_effects", func(t *testing.T) {
		messagesBefore := countDocuments(t, chatStore, "message")
		pagesBefore := countDocuments(t, chatStore, "page")

		posted, err := chatStore.PostMessage(ctx, MessageCreateInput{
			SenderID: sender.ID,
			RoomID:   id.New(),
			Type:     TextMessage,
			Content:  "hello",
		})
		require.Equal(t, ErrReferenceNotFound, err)
		require.Nil(t, posted)
		require.Equal(t, messagesBefore, countDocuments(t, chatStore, "message"))
		require.Equal(t, pagesBefore, countDocuments(t, chatStore, "page"))
	})
	t.Run("post_from_missing_sender", func(t *testing.T) {
		posted, err := chatStore.PostMessage(ctx, MessageCreateInput{
			SenderID: id.New(),
			RoomID:   room.ID,
			Type:     TextMessage,
			Content:  "hello",
		})
		require.Equal(t, ErrReferenceNotFound, err)
		require.Nil(t, posted)
	})
	t.Run("post_invalid_type", func(t *testing.T) {
		posted, err := chatStore.PostMessage(ctx, MessageCreateInput{
			SenderID: sender.ID,
			RoomID:   room.ID,
			Type:     "video",
			Content:  "hello",
		})
		require.Equal(t, ErrInvalidMessage, err)
		require.Nil(t, posted)
	})
	t.Run("first_post_seeds_a_page", func(t *testing.T) {
		posted, err := chatStore.PostMessage(ctx, MessageCreateInput{
			SenderID: sender.ID,
			RoomID:   room.ID,
			Type:     TextMessage,
			Content:  "hello",
		})
		require.Nil(t, err)
		require.NotNil(t, posted)
		require.Equal(t, sender.ID, posted.SenderID)

		got, err := chatStore.GetRoomByID(ctx, room.ID)
		require.Nil(t, err)
		require.Equal(t, 1, got.MessageCount)
		require.Equal(t, posted.CreatedAt, got.UpdateTime)
		require.Len(t, got.PageIDs, 1)

		page, err := chatStore.GetPage(ctx, got.PageIDs[0])
		require.Nil(t, err)
		require.Equal(t, room.ID, page.RoomID)
		require.Equal(t, []id.ID{posted.ID}, page.MessageIDs)
	})
}

func Test_PostMessage_LedgerInvariants(t *testing.T) {
	const capacity = 5
	const posts = 12
	userStore, chatStore, _ := setUp(t, Options{PageCapacity: capacity})
	ctx := context.Background()
	sender := createUser(t, userStore, "2001")
	room := createRoom(t, chatStore, sender.ID)

	for i := 0; i < posts; i++ {
		_, err := chatStore.PostMessage(ctx, MessageCreateInput{
			SenderID: sender.ID,
			RoomID:   room.ID,
			Type:     TextMessage,
			Content:  "message",
		})
		require.Nil(t, err)
	}

	got, err := chatStore.GetRoomByID(ctx, room.ID)
	require.Nil(t, err)
	require.Equal(t, posts, got.MessageCount)
	// ceil(12 / 5) pages
	require.Len(t, got.PageIDs, 3)

	pages, err := chatStore.GetPages(ctx, got.PageIDs)
	require.Nil(t, err)
	require.Len(t, pages, 3)

	total := 0
	for _, page := range pages {
		require.LessOrEqual(t, len(page.MessageIDs), capacity)
		total += len(page.MessageIDs)
	}
	require.Equal(t, posts, total)

	// Sealed pages are full; only the active page is partial.
	require.Len(t, pages[got.PageIDs[0]].MessageIDs, capacity)
	require.Len(t, pages[got.PageIDs[1]].MessageIDs, capacity)
	require.Len(t, pages[got.PageIDs[2]].MessageIDs, posts-2*capacity)

	// Only the room's first page carries the room ID.
	require.Equal(t, room.ID, pages[got.PageIDs[0]].RoomID)
	require.True(t, pages[got.PageIDs[1]].RoomID.IsZero())
	require.True(t, pages[got.PageIDs[2]].RoomID.IsZero())
}

func Test_PostMessage_Concurrent(t *testing.T) {
	const capacity = 7
	const posts = 50
	userStore, chatStore, _ := setUp(t, Options{PageCapacity: capacity})
	ctx := context.Background()
	sender := createUser(t, userStore, "2002")
	room := createRoom(t, chatStore, sender.ID)

	var wg sync.WaitGroup
	errs := make(chan error, posts)
	for i := 0; i < posts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := chatStore.PostMessage(ctx, MessageCreateInput{
				SenderID: sender.ID,
				RoomID:   room.ID,
				Type:     TextMessage,
				Content:  "concurrent",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.Nil(t, err)
	}

	got, err := chatStore.GetRoomByID(ctx, room.ID)
	require.Nil(t, err)
	require.Equal(t, posts, got.MessageCount)
	require.Len(t, got.PageIDs, (posts+capacity-1)/capacity)

	pages, err := chatStore.GetPages(ctx, got.PageIDs)
	require.Nil(t, err)
	total := 0
	for _, page := range pages {
		require.LessOrEqual(t, len(page.MessageIDs), capacity)
		total += len(page.MessageIDs)
	}
	require.Equal(t, posts, total)
}

func Test_PageOperations(t *testing.T) {
	const capacity = 3
	_, chatStore, _ := setUp(t, Options{PageCapacity: capacity})
	ctx := context.Background()

	t.Run("create_and_get_page", func(t *testing.T) {
		first := id.New()
		roomID := id.New()
		pageID, err := chatStore.CreatePage(ctx, first, roomID)
		require.Nil(t, err)

		page, err := chatStore.GetPage(ctx, pageID)
		require.Nil(t, err)
		require.Equal(t, roomID, page.RoomID)
		require.Equal(t, []id.ID{first}, page.MessageIDs)
	})
	t.Run("append_until_capacity", func(t *testing.T) {
		pageID, err := chatStore.CreatePage(ctx, id.New(), id.ID{})
		require.Nil(t, err)

		require.Nil(t, chatStore.AppendToPage(ctx, pageID, id.New()))
		require.Nil(t, chatStore.AppendToPage(ctx, pageID, id.New()))

		// At capacity the append signals failure instead of truncating.
		err = chatStore.AppendToPage(ctx, pageID, id.New())
		require.Equal(t, ErrPageFull, err)

		page, err := chatStore.GetPage(ctx, pageID)
		require.Nil(t, err)
		require.Len(t, page.MessageIDs, capacity)
	})
	t.Run("append_to_missing_page", func(t *testing.T) {
		err := chatStore.AppendToPage(ctx, id.New(), id.New())
		require.Equal(t, docstore.ErrNotFound, err)
	})
	t.Run("get_missing_page", func(t *testing.T) {
		_, err := chatStore.GetPage(ctx, id.New())
		require.Equal(t, docstore.ErrNotFound, err)
	})
	t.Run("get_pages_skips_missing", func(t *testing.T) {
		pageID, err := chatStore.CreatePage(ctx, id.New(), id.ID{})
		require.Nil(t, err)

		pages, err := chatStore.GetPages(ctx, []id.ID{pageID, id.New()})
		require.Nil(t, err)
		require.Len(t, pages, 1)
		require.Contains(t, pages, pageID)
	})
}

func Test_FetchSince(t *testing.T) {
	const capacity = 100
	const posts = 250
	userStore, chatStore, clock := setUp(t, Options{PageCapacity: capacity})
	ctx := context.Background()
	sender := createUser(t, userStore, "3000")
	room := createRoom(t, chatStore, sender.ID)

	posted := make([]*Message, 0, posts)
	for i := 0; i < posts; i++ {
		clock.Advance(time.Second)
		message, err := chatStore.PostMessage(ctx, MessageCreateInput{
			SenderID: sender.ID,
			RoomID:   room.ID,
			Type:     TextMessage,
			Content:  "catchup",
		})
		require.Nil(t, err)
		posted = append(posted, message)
	}

	current, err := chatStore.GetRoomByID(ctx, room.ID)
	require.Nil(t, err)
	require.Equal(t, posts, current.MessageCount)
	require.Len(t, current.PageIDs, 3)

	t.Run("cold_start_fetches_across_pages_newest_first", func(t *testing.T) {
		messages, err := chatStore.FetchSince(ctx, room.ID, Watermark{}, 500)
		require.Nil(t, err)
		require.Len(t, messages, posts)
		for i, message := range messages {
			require.Equal(t, posted[posts-1-i].ID, message.ID)
		}
	})
	t.Run("caught_up_client_gets_empty_slice", func(t *testing.T) {
		mark := Watermark{UpdateTime: current.UpdateTime, MessageCount: current.MessageCount}
		messages, err := chatStore.FetchSince(ctx, room.ID, mark, 500)
		require.Nil(t, err)
		require.Empty(t, messages)
	})
	t.Run("delta_is_clamped_to_max_batch", func(t *testing.T) {
		messages, err := chatStore.FetchSince(ctx, room.ID, Watermark{}, 40)
		require.Nil(t, err)
		require.Len(t, messages, 40)
		require.Equal(t, posted[posts-1].ID, messages[0].ID)
	})
	t.Run("partial_catch_up", func(t *testing.T) {
		mark := Watermark{UpdateTime: posted[99].CreatedAt, MessageCount: 100}
		messages, err := chatStore.FetchSince(ctx, room.ID, mark, 500)
		require.Nil(t, err)
		require.Len(t, messages, posts-100)
		require.Equal(t, posted[posts-1].ID, messages[0].ID)
		require.Equal(t, posted[100].ID, messages[len(messages)-1].ID)
	})
	t.Run("overcounting_client_gets_max_batch_tail", func(t *testing.T) {
		// Behind on time but claiming more messages than the room holds:
		// recovery clamp resends the newest maxBatch messages.
		mark := Watermark{UpdateTime: posted[0].CreatedAt - 100, MessageCount: posts + 1000}
		messages, err := chatStore.FetchSince(ctx, room.ID, mark, 25)
		require.Nil(t, err)
		require.Len(t, messages, 25)
		require.Equal(t, posted[posts-1].ID, messages[0].ID)
	})
	t.Run("watermark_ahead_in_both_dimensions_is_stale", func(t *testing.T) {
		mark := Watermark{UpdateTime: current.UpdateTime + 1000, MessageCount: current.MessageCount + 10}
		messages, err := chatStore.FetchSince(ctx, room.ID, mark, 500)
		require.Equal(t, ErrStaleWatermark, err)
		require.Nil(t, messages)
	})
	t.Run("missing_room", func(t *testing.T) {
		messages, err := chatStore.FetchSince(ctx, id.New(), Watermark{}, 500)
		require.Equal(t, ErrReferenceNotFound, err)
		require.Nil(t, messages)
	})
}

func Test_FetchSince_RoundTrip(t *testing.T) {
	userStore, chatStore, _ := setUp(t, Options{})
	ctx := context.Background()
	sender := createUser(t, userStore, "3001")
	room := createRoom(t, chatStore, sender.ID)

	posted, err := chatStore.PostMessage(ctx, MessageCreateInput{
		SenderID: sender.ID,
		RoomID:   room.ID,
		Type:     ImageMessage,
		Content:  "https://example.com/cat.png",
	})
	require.Nil(t, err)

	messages, err := chatStore.FetchSince(ctx, room.ID, Watermark{}, 10)
	require.Nil(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, *posted, messages[0])

	got, err := chatStore.GetMessage(ctx, posted.ID)
	require.Nil(t, err)
	require.Equal(t, posted, got)
}

func Test_FetchSince_ConcurrentPosts(t *testing.T) {
	const capacity = 10
	const posts = 300
	userStore, chatStore, _ := setUp(t, Options{PageCapacity: capacity})
	ctx := context.Background()
	sender := createUser(t, userStore, "3003")
	room := createRoom(t, chatStore, sender.ID)

	var mu sync.Mutex
	var posted []*Message
	done := make(chan error, 1)
	go func() {
		for i := 0; i < posts; i++ {
			message, err := chatStore.PostMessage(ctx, MessageCreateInput{
				SenderID: sender.ID,
				RoomID:   room.ID,
				Type:     TextMessage,
				Content:  "concurrent",
			})
			if err != nil {
				done <- err
				return
			}
			mu.Lock()
			posted = append(posted, message)
			mu.Unlock()
		}
		done <- nil
	}()

	// A reader one message behind must always be served the message it is
	// owed, no matter how many posts commit while the fetch runs. The ledger,
	// pages and messages all come from one snapshot, so a post landing
	// mid-fetch can never push the owed message past the truncation cut.
	for finished := false; !finished; {
		select {
		case err := <-done:
			require.Nil(t, err)
			finished = true
		default:
		}

		mu.Lock()
		seen := make([]*Message, len(posted))
		copy(seen, posted)
		mu.Unlock()
		if len(seen) == 0 {
			continue
		}

		owed := seen[len(seen)-1]
		mark := Watermark{UpdateTime: owed.CreatedAt, MessageCount: len(seen) - 1}
		messages, err := chatStore.FetchSince(ctx, room.ID, mark, posts)
		require.Nil(t, err)
		require.NotEmpty(t, messages)

		ids := make([]id.ID, len(messages))
		for i, message := range messages {
			ids[i] = message.ID
		}
		require.Contains(t, ids, owed.ID)
	}
}

func Test_FetchSince_EmptyRoom(t *testing.T) {
	userStore, chatStore, _ := setUp(t, Options{})
	ctx := context.Background()
	sender := createUser(t, userStore, "3002")
	room := createRoom(t, chatStore, sender.ID)

	messages, err := chatStore.FetchSince(ctx, room.ID, Watermark{}, 10)
	require.Nil(t, err)
	require.Empty(t, messages)
}
