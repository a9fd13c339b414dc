package filter

import (
	"crypto/rand"
	"encoding/binary"
)

// Salt is the 128-bit value Bloom and Cuckoo both hash keys against so
// that rebuilds preserve key identity across instances. It is copied
// by value into each filter at construction and never mutated — a
// rebuild installs new filter instances carrying either the same Salt
// (to keep bit/bucket positions stable) or a freshly generated one.
type Salt [2]uint64

// NewSalt draws a fresh 128-bit salt from a cryptographic RNG.
func NewSalt() Salt {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("filter: crypto/rand unavailable: " + err.Error())
	}
	return Salt{
		binary.BigEndian.Uint64(buf[0:8]),
		binary.BigEndian.Uint64(buf[8:16]),
	}
}

// bytes renders the salt as 16 bytes for mixing into a hash input.
func (s Salt) bytes() [16]byte {
	var out [16]byte
	binary.BigEndian.PutUint64(out[0:8], s[0])
	binary.BigEndian.PutUint64(out[8:16], s[1])
	return out
}
