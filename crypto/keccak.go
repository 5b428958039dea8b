// Package crypto wraps the hash primitives the harness needs: Keccak256 for
// selectors, event topics, and SHA3-preimage tracing, and CREATE/CREATE2
// address derivation.
package crypto

import (
	"golang.org/x/crypto/sha3"

	"github.com/vyperlang/boa/types"
)

// Keccak256 calculates the Keccak-256 hash of the concatenation of data.
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// Keccak256Hash calculates Keccak-256 and returns it as a types.Hash.
func Keccak256Hash(data ...[]byte) types.Hash {
	return types.BytesToHash(Keccak256(data...))
}

// Selector computes the 4-byte ABI function/event selector prefix of a
// canonical signature string, e.g. "transfer(address,uint256)".
func Selector(signature string) [4]byte {
	h := Keccak256([]byte(signature))
	var sel [4]byte
	copy(sel[:], h[:4])
	return sel
}
