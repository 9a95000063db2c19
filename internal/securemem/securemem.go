// Package securemem keeps key material in memguard-locked memory so it is
// excluded from swap and core dumps and wiped when destroyed.
package securemem

import (
	"crypto/subtle"
	"errors"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned when a destroyed key is used.
var ErrDestroyed = errors.New("secure key destroyed")

// Key holds a symmetric key in locked memory.
type Key struct {
	buf *memguard.LockedBuffer
}

// NewKey moves raw into locked memory. raw is wiped.
func NewKey(raw []byte) *Key {
	if len(raw) == 0 {
		return nil
	}
	buf := memguard.NewBufferFromBytes(raw)
	buf.Freeze()
	return &Key{buf: buf}
}

// Empty reports whether the key is absent or destroyed.
func (k *Key) Empty() bool {
	return k == nil || k.buf == nil || !k.buf.IsAlive() || k.buf.Size() == 0
}

// Len returns the key length in bytes.
func (k *Key) Len() int {
	if k.Empty() {
		return 0
	}
	return k.buf.Size()
}

// Use runs fn with a view of the key bytes. fn must not retain the slice.
func (k *Key) Use(fn func(key []byte) error) error {
	if k.Empty() {
		return ErrDestroyed
	}
	return fn(k.buf.Bytes())
}

// Equal compares two keys in constant time.
func (k *Key) Equal(other *Key) bool {
	if k.Empty() || other.Empty() {
		return k.Empty() && other.Empty()
	}
	return subtle.ConstantTimeCompare(k.buf.Bytes(), other.buf.Bytes()) == 1
}

// Destroy wipes the key. Safe to call more than once.
func (k *Key) Destroy() {
	if k == nil || k.buf == nil {
		return
	}
	k.buf.Destroy()
	k.buf = nil
}

// Wipe zeroes b in place.
func Wipe(b []byte) {
	memguard.WipeBytes(b)
}

// Init installs memguard's interrupt handler so locked memory is purged
// when the process is interrupted.
func Init() {
	memguard.CatchInterrupt()
}

// Purge destroys every locked buffer. Call right before exit.
func Purge() {
	memguard.Purge()
}
