package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/pagechat/pagechat/pkg/docstore"
	"github.com/pagechat/pagechat/pkg/id"
	"github.com/pagechat/pagechat/pkg/user"
)

var (
	ErrBadCredentials  = errors.New("invalid credentials")
	ErrUnauthenticated = errors.New("unauthenticated")
)

type Auth interface {
	// NewSession verifies the credentials and issues a token. The token
	// supersedes any previous session of the user: only the most recently
	// issued token is accepted.
	NewSession(ctx context.Context, phoneNumber, password string) (token string, userID id.ID, exp time.Time, err error)
	// Session resolves a token to a session, or ErrUnauthenticated.
	Session(ctx context.Context, token string) (*Session, error)
	// DestroySession invalidates the session behind the token. Destroying an
	// already invalid session is not an error.
	DestroySession(ctx context.Context, token string) error
}

type Session struct {
	UserID id.ID
}

// sessionDoc is the per-user session document. It expires with the token, and
// it pins the one live token of the user.
type sessionDoc struct {
	UserID    id.ID  `json:"userId"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

func sessionKey(userID id.ID) []byte {
	return docstore.Key("session", userID.String())
}

// BadgerAuth implements Auth with sessions stored as expiring documents.
type BadgerAuth struct {
	users        user.Store
	db           *docstore.DB
	tokenOptions TokenOptions
	clock        func() time.Time
}

func NewBadgerAuth(users user.Store, db *docstore.DB, tokenOptions TokenOptions) *BadgerAuth {
	return &BadgerAuth{
		users:        users,
		db:           db,
		tokenOptions: tokenOptions,
		clock:        time.Now,
	}
}

func (a *BadgerAuth) NewSession(ctx context.Context, phoneNumber, password string) (string, id.ID, time.Time, error) {
	found, err := a.users.GetByPhone(ctx, phoneNumber)
	if err != nil {
		return "", id.ID{}, time.Time{}, fmt.Errorf("getting user by phone: %w", err)
	}
	if found == nil {
		return "", id.ID{}, time.Time{}, ErrBadCredentials
	}

	ok, err := a.users.ComparePassword(ctx, phoneNumber, password)
	if err != nil {
		return "", id.ID{}, time.Time{}, fmt.Errorf("comparing password: %w", err)
	}
	if !ok {
		return "", id.ID{}, time.Time{}, ErrBadCredentials
	}

	now := a.clock()
	token, exp, err := createToken(found.ID, a.tokenOptions, now)
	if err != nil {
		return "", id.ID{}, time.Time{}, fmt.Errorf("creating token: %w", err)
	}

	doc := sessionDoc{UserID: found.ID, Token: token, ExpiresAt: exp.Unix()}
	err = a.db.Update(func(txn *badger.Txn) error {
		return docstore.PutTTL(txn, sessionKey(found.ID), &doc, a.tokenOptions.Exp)
	})
	if err != nil {
		return "", id.ID{}, time.Time{}, fmt.Errorf("storing session: %w", docstore.Translate(err))
	}

	return token, found.ID, exp, nil
}

func (a *BadgerAuth) Session(ctx context.Context, token string) (*Session, error) {
	claims, err := verifyToken(token, a.tokenOptions)
	if err != nil {
		if errors.Is(err, errTokenExpired) || errors.Is(err, errTokenInvalid) || errors.Is(err, errUnrecognizedToken) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("verifying token: %w", err)
	}

	userID, err := id.Parse(claims.UID)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	var doc sessionDoc
	err = a.db.View(func(txn *badger.Txn) error {
		return docstore.Get(txn, sessionKey(userID), &doc)
	})
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("getting session: %w", docstore.Translate(err))
	}

	// A newer login supersedes this token.
	if doc.Token != token {
		return nil, ErrUnauthenticated
	}

	return &Session{UserID: userID}, nil
}

func (a *BadgerAuth) DestroySession(ctx context.Context, token string) error {
	session, err := a.Session(ctx, token)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			return nil
		}
		return fmt.Errorf("getting session: %w", err)
	}

	err = a.db.Update(func(txn *badger.Txn) error {
		return docstore.Delete(txn, sessionKey(session.UserID))
	})
	if err != nil {
		return fmt.Errorf("destroying session: %w", docstore.Translate(err))
	}
	return nil
}

type sessionContextKey struct{}

// ContextWithSession attaches the session to the context.
func ContextWithSession(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, session)
}

// SessionFromContext extracts the session attached by ContextWithSession.
func SessionFromContext(ctx context.Context) (Session, bool) {
	session, ok := ctx.Value(sessionContextKey{}).(Session)
	return session, ok
}
