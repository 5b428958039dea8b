// Package types defines the small set of primitive values shared across the
// harness: addresses, hashes, and emitted logs.
package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	// HashLength is the byte length of a Hash (a Keccak256 digest or a
	// zero-padded storage slot / topic).
	HashLength = 32
	// AddressLength is the byte length of an Address.
	AddressLength = 20
)

// Hash is a 32-byte value: a Keccak256 digest, a storage slot, or a log topic.
type Hash [HashLength]byte

// Address is the 20-byte identifier of an externally-owned or contract
// account. Equality on the hex form is case-insensitive (the raw byte form
// already normalizes case, so plain Go equality on Address values is
// always correct; Hex() only matters when addresses arrive as strings).
type Address [AddressLength]byte

// BytesToHash converts bytes to a Hash, left-padding if shorter than 32 bytes
// and truncating from the left (keeping the low-order bytes) if longer.
func BytesToHash(b []byte) Hash {
	var h Hash
	h.SetBytes(b)
	return h
}

// HexToHash parses a (possibly 0x-prefixed) hex string into a Hash.
func HexToHash(s string) Hash { return BytesToHash(fromHex(s)) }

// Bytes returns the raw 32-byte form.
func (h Hash) Bytes() []byte { return h[:] }

// Hex returns the "0x"-prefixed lowercase hex form.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// SetBytes copies b into the hash, left-padding with zero if b is shorter
// than HashLength and keeping only the low-order HashLength bytes otherwise.
func (h *Hash) SetBytes(b []byte) {
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
}

// IsZero reports whether the hash is the zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// BytesToAddress converts bytes to an Address, left-padding if shorter than
// 20 bytes and keeping only the low-order 20 bytes if longer.
func BytesToAddress(b []byte) Address {
	var a Address
	a.SetBytes(b)
	return a
}

// HexToAddress parses a (possibly 0x-prefixed) hex string into an Address.
// The input's checksum casing, if any, is not validated; callers that need
// to validate a checksum should call VerifyChecksum explicitly.
func HexToAddress(s string) Address { return BytesToAddress(fromHex(s)) }

// Bytes returns the raw 20-byte form.
func (a Address) Bytes() []byte { return a[:] }

// Hex returns the EIP-55 checksummed hex form, e.g. "0x5aAeb6..." — this is
// the canonical string view the ABI codec and stack-trace renderer print.
func (a Address) Hex() string { return ChecksumAddress(a) }

// String implements fmt.Stringer.
func (a Address) String() string { return a.Hex() }

// SetBytes copies b into the address, left-padding with zero if b is shorter
// than AddressLength and keeping only the low-order AddressLength bytes
// otherwise.
func (a *Address) SetBytes(b []byte) {
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
}

// IsZero reports whether the address is the zero address.
func (a Address) IsZero() bool { return a == Address{} }

// ChecksumAddress renders addr using the EIP-55 mixed-case checksum: each
// hex digit of the lowercase address is uppercased iff the corresponding
// nibble of keccak256(lowercase hex) is >= 8.
func ChecksumAddress(addr Address) string {
	lower := hex.EncodeToString(addr[:])
	d := sha3.NewLegacyKeccak256()
	d.Write([]byte(lower))
	hash := d.Sum(nil)

	out := make([]byte, len(lower))
	for i, c := range []byte(lower) {
		if c >= '0' && c <= '9' {
			out[i] = c
			continue
		}
		// nibble i: high nibble of hash[i/2] if i even, low nibble if odd.
		var nibble byte
		if i%2 == 0 {
			nibble = hash[i/2] >> 4
		} else {
			nibble = hash[i/2] & 0x0f
		}
		if nibble >= 8 {
			out[i] = c - 'a' + 'A'
		} else {
			out[i] = c
		}
	}
	return "0x" + string(out)
}

// IsChecksumValid reports whether s is either all-lowercase/all-uppercase
// hex (unchecksummed, always accepted) or matches the EIP-55 checksum of
// its own address value.
func IsChecksumValid(s string) bool {
	raw := strings.TrimPrefix(s, "0x")
	if raw == strings.ToLower(raw) || raw == strings.ToUpper(raw) {
		return true
	}
	return s == ChecksumAddress(HexToAddress(s))
}

// EqualHex reports whether two hex-encoded address strings denote the same
// address, case-insensitively — the codec's equality contract from spec §3.
func EqualHex(a, b string) bool {
	return strings.EqualFold(strings.TrimPrefix(a, "0x"), strings.TrimPrefix(b, "0x"))
}

func fromHex(s string) []byte {
	if has0xPrefix(s) {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

// MustParseAddress is a convenience for tests and literal addresses; it
// panics on malformed input so mistakes surface immediately.
func MustParseAddress(s string) Address {
	if len(strings.TrimPrefix(s, "0x")) != AddressLength*2 {
		panic(fmt.Sprintf("types: %q is not a 20-byte address", s))
	}
	return HexToAddress(s)
}
