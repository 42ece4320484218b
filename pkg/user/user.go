package user

import (
	"context"
	"errors"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/go-playground/validator/v10"

	"github.com/pagechat/pagechat/pkg/id"
)

var (
	// ErrConflictedUser is returned when the phone number is already registered.
	ErrConflictedUser = errors.New("phone number already registered")
	// ErrInvalidInput is returned when a registration input fails validation.
	ErrInvalidInput = errors.New("invalid user input")
)

var validate = validator.New()

// User is a registered user document. Password holds the bcrypt hash, never
// the plain text.
type User struct {
	ID          id.ID   `json:"id"`
	Name        string  `json:"name"`
	PhoneNumber string  `json:"phoneNumber"`
	Password    string  `json:"password"`
	Rooms       []id.ID `json:"rooms"`
}

// CreateInput is the input for registering a user.
type CreateInput struct {
	Name        string `json:"name" validate:"required,min=1,max=32"`
	PhoneNumber string `json:"phoneNumber" validate:"required,numeric,min=1,max=20"`
	Password    string `json:"password" validate:"required,alphanum,min=1,max=32"`
}

// Validate validates the registration input.
func (i *CreateInput) Validate() error {
	if err := validate.Struct(i); err != nil {
		return ErrInvalidInput
	}
	return nil
}

type Store interface {
	// Create registers a new user with a hashed password and returns the
	// stored document. If the phone number is taken it returns
	// ErrConflictedUser. If the input is malformed it returns ErrInvalidInput.
	Create(ctx context.Context, input CreateInput) (*User, error)

	// GetByID returns the user with the given ID, or nil if no such user
	// exists.
	GetByID(ctx context.Context, userID id.ID) (*User, error)

	// GetByPhone returns the user registered under the phone number, or nil
	// if no such user exists.
	GetByPhone(ctx context.Context, phoneNumber string) (*User, error)

	// Exists reports whether a user with the given ID exists. It has no side
	// effects.
	Exists(ctx context.Context, userID id.ID) (bool, error)

	// ComparePassword reports whether the password matches the stored hash
	// for the user registered under the phone number. A missing user compares
	// false.
	ComparePassword(ctx context.Context, phoneNumber, password string) (bool, error)

	// AddRoomTx appends roomID to the user's room list inside the supplied
	// transaction. It is called by the room membership and room creation
	// flows so the user and room documents commit together.
	AddRoomTx(txn *badger.Txn, userID, roomID id.ID) error
}
