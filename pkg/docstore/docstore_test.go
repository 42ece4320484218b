package docstore

import (
	"log/slog"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func setUp(t *testing.T) *DB {
	db, err := OpenInMemory(slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func Test_Key(t *testing.T) {
	require.Equal(t, []byte("room"), Key("room"))
	require.Equal(t, []byte("room:abc"), Key("room", "abc"))
	require.Equal(t, []byte("user:phone:123"), Key("user", "phone", "123"))
}

func Test_PutGet(t *testing.T) {
	db := setUp(t)
	key := Key("doc", "a")

	err := db.Update(func(txn *badger.Txn) error {
		return Put(txn, key, doc{Name: "a", Count: 3})
	})
	require.Nil(t, err)

	var got doc
	err = db.View(func(txn *badger.Txn) error {
		return Get(txn, key, &got)
	})
	require.Nil(t, err)
	require.Equal(t, doc{Name: "a", Count: 3}, got)
}

func Test_GetMissing(t *testing.T) {
	db := setUp(t)
	err := db.View(func(txn *badger.Txn) error {
		var got doc
		return Get(txn, Key("doc", "missing"), &got)
	})
	require.Equal(t, ErrNotFound, err)
}

func Test_Exists(t *testing.T) {
	db := setUp(t)
	key := Key("doc", "a")
	err := db.Update(func(txn *badger.Txn) error {
		return Put(txn, key, doc{Name: "a"})
	})
	require.Nil(t, err)

	err = db.View(func(txn *badger.Txn) error {
		ok, err := Exists(txn, key)
		require.Nil(t, err)
		require.True(t, ok)

		ok, err = Exists(txn, Key("doc", "missing"))
		require.Nil(t, err)
		require.False(t, ok)
		return nil
	})
	require.Nil(t, err)
}

func Test_PutTTL(t *testing.T) {
	db := setUp(t)
	key := Key("session", "a")
	err := db.Update(func(txn *badger.Txn) error {
		return PutTTL(txn, key, doc{Name: "a"}, 50*time.Millisecond)
	})
	require.Nil(t, err)

	time.Sleep(100 * time.Millisecond)

	err = db.View(func(txn *badger.Txn) error {
		var got doc
		return Get(txn, key, &got)
	})
	require.Equal(t, ErrNotFound, err)
}

func Test_Delete(t *testing.T) {
	db := setUp(t)
	key := Key("doc", "a")
	err := db.Update(func(txn *badger.Txn) error {
		if err := Put(txn, key, doc{Name: "a"}); err != nil {
			return err
		}
		return nil
	})
	require.Nil(t, err)

	err = db.Update(func(txn *badger.Txn) error {
		return Delete(txn, key)
	})
	require.Nil(t, err)

	err = db.View(func(txn *badger.Txn) error {
		var got doc
		return Get(txn, key, &got)
	})
	require.Equal(t, ErrNotFound, err)
}
