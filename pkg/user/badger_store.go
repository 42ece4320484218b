package user

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/pagechat/pagechat/pkg/docstore"
	"github.com/pagechat/pagechat/pkg/id"
)

// Document collections owned by this store. "user:phone:<number>" holds the
// owning user's ID and enforces phone number uniqueness.
func userKey(userID id.ID) []byte {
	return docstore.Key("user", userID.String())
}

func phoneKey(phoneNumber string) []byte {
	return docstore.Key("user", "phone", phoneNumber)
}

// maxTxnRetries bounds retries of a conflicted registration transaction.
// Concurrent registrations of the same phone number conflict on the index
// key; the retry re-reads it and reports the conflict as ErrConflictedUser.
const maxTxnRetries = 3

type BadgerStore struct {
	db *docstore.DB
}

func NewBadgerStore(db *docstore.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// update runs fn in a read-write transaction, retrying on conflict.
// A conflicted transaction left no trace in the store.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxTxnRetries; i++ {
		err = s.db.Update(fn)
		if !docstore.IsConflict(err) {
			return err
		}
	}
	return err
}

func (s *BadgerStore) Create(ctx context.Context, input CreateInput) (*User, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	created := &User{
		ID:          id.New(),
		Name:        input.Name,
		PhoneNumber: input.PhoneNumber,
		Password:    string(hashed),
		Rooms:       []id.ID{},
	}

	err = s.update(func(txn *badger.Txn) error {
		taken, err := docstore.Exists(txn, phoneKey(input.PhoneNumber))
		if err != nil {
			return err
		}
		if taken {
			return ErrConflictedUser
		}
		if err := docstore.Put(txn, phoneKey(input.PhoneNumber), created.ID); err != nil {
			return err
		}
		return docstore.Put(txn, userKey(created.ID), created)
	})
	if err != nil {
		if errors.Is(err, ErrConflictedUser) {
			return nil, ErrConflictedUser
		}
		return nil, fmt.Errorf("creating user: %w", docstore.Translate(err))
	}

	return created, nil
}

func (s *BadgerStore) GetByID(ctx context.Context, userID id.ID) (*User, error) {
	found := new(User)
	err := s.db.View(func(txn *badger.Txn) error {
		return docstore.Get(txn, userKey(userID), found)
	})
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting user %s: %w", userID, docstore.Translate(err))
	}
	return found, nil
}

func (s *BadgerStore) GetByPhone(ctx context.Context, phoneNumber string) (*User, error) {
	found := new(User)
	err := s.db.View(func(txn *badger.Txn) error {
		var userID id.ID
		if err := docstore.Get(txn, phoneKey(phoneNumber), &userID); err != nil {
			return err
		}
		return docstore.Get(txn, userKey(userID), found)
	})
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting user by phone: %w", docstore.Translate(err))
	}
	return found, nil
}

func (s *BadgerStore) Exists(ctx context.Context, userID id.ID) (bool, error) {
	var exists bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		exists, err = docstore.Exists(txn, userKey(userID))
		return err
	})
	if err != nil {
		return false, fmt.Errorf("checking user %s: %w", userID, docstore.Translate(err))
	}
	return exists, nil
}

func (s *BadgerStore) ComparePassword(ctx context.Context, phoneNumber, password string) (bool, error) {
	found, err := s.GetByPhone(ctx, phoneNumber)
	if err != nil {
		return false, err
	}
	if found == nil {
		return false, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(found.Password), []byte(password)); err != nil {
		return false, nil
	}
	return true, nil
}

func (s *BadgerStore) AddRoomTx(txn *badger.Txn, userID, roomID id.ID) error {
	var found User
	if err := docstore.Get(txn, userKey(userID), &found); err != nil {
		return err
	}
	found.Rooms = append(found.Rooms, roomID)
	return docstore.Put(txn, userKey(userID), &found)
}
