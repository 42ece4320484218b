// Package id provides the 12-byte document identifier used for users, rooms,
// messages and message pages.
package id

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync/atomic"
	"time"
)

// ErrInvalidID is returned by Parse when the input is not a canonical
// 24-character hex encoding of a 12-byte identifier.
var ErrInvalidID = errors.New("invalid id")

// ID is a 12-byte unique identifier: a 4-byte big-endian unix timestamp in
// seconds, followed by a 5-byte per-process random value and a 3-byte
// big-endian counter. Because the timestamp leads, byte order, canonical hex
// string order and creation order all agree; same-second ties are broken by
// the random and counter components.
type ID [12]byte

// EncodedLen is the length of the canonical hex encoding of an ID.
const EncodedLen = 24

var (
	processRand [5]byte
	counter     atomic.Uint32
)

func init() {
	if _, err := rand.Read(processRand[:]); err != nil {
		panic("id: reading random source: " + err.Error())
	}
	var seed [4]byte
	if _, err := rand.Read(seed[:]); err != nil {
		panic("id: reading random source: " + err.Error())
	}
	counter.Store(binary.BigEndian.Uint32(seed[:]))
}

// New returns a new ID stamped with the current time.
func New() ID {
	return NewAt(time.Now())
}

// NewAt returns a new ID stamped with the given time. The time is truncated
// to second precision.
func NewAt(t time.Time) ID {
	var id ID
	binary.BigEndian.PutUint32(id[0:4], uint32(t.Unix()))
	copy(id[4:9], processRand[:])
	c := counter.Add(1)
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)
	return id
}

// Parse decodes the canonical hex encoding of an ID.
// It returns ErrInvalidID if the input is malformed.
func Parse(s string) (ID, error) {
	var id ID
	if len(s) != EncodedLen {
		return id, ErrInvalidID
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, ErrInvalidID
	}
	copy(id[:], b)
	return id, nil
}

// String returns the canonical 24-character lowercase hex encoding.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Timestamp returns the creation time carried in the ID, at second precision.
func (id ID) Timestamp() time.Time {
	return time.Unix(int64(binary.BigEndian.Uint32(id[0:4])), 0)
}

// IsZero reports whether the ID is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Compare compares two IDs byte-wise. Since the timestamp leads, the result
// follows creation order.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// Less reports whether id was created before other.
func (id ID) Less(other ID) bool {
	return id.Compare(other) < 0
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
