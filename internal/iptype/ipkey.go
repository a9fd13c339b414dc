// Package iptype derives fixed-width membership keys from IP addresses.
//
// Using a hashed key rather than the textual address decouples the key
// width from the address family and spreads keys uniformly over the
// Bloom/Cuckoo index space without any extra mixing downstream.
package iptype

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"net"
)

// IPKey is a 128-bit key derived from the canonical packed form of an
// address. Two equal addresses always produce the same IPKey; the
// derivation is otherwise collision-resistant over the IPv4 space.
type IPKey struct {
	Hi uint64
	Lo uint64
}

// ParseIPv4 normalizes a dotted-quad IPv4 string into an IPKey.
// IPv6 literals and malformed addresses are rejected — widening to IPv6
// support is out of scope (see spec Non-goals).
func ParseIPv4(s string) (IPKey, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return IPKey{}, fmt.Errorf("iptype: invalid address %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return IPKey{}, fmt.Errorf("iptype: not an IPv4 address %q", s)
	}
	return KeyFromPacked(v4), nil
}

// KeyFromPacked derives an IPKey from a canonical packed 4-byte IPv4
// address. Callers that already hold a validated net.IP's 4-byte form
// can skip the string round-trip ParseIPv4 performs.
func KeyFromPacked(packed []byte) IPKey {
	sum := sha256.Sum256(packed)
	return IPKey{
		Hi: binary.BigEndian.Uint64(sum[0:8]),
		Lo: binary.BigEndian.Uint64(sum[8:16]),
	}
}

// String renders the key as a hex pair, useful for logs and tests.
func (k IPKey) String() string {
	return fmt.Sprintf("%016x%016x", k.Hi, k.Lo)
}

// Bytes renders the key as 16 bytes, big-endian, for feeding into a
// hash function.
func (k IPKey) Bytes() [16]byte {
	var out [16]byte
	binary.BigEndian.PutUint64(out[0:8], k.Hi)
	binary.BigEndian.PutUint64(out[8:16], k.Lo)
	return out
}
