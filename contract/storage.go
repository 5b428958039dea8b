package contract

import (
	"context"
	"fmt"

	"github.com/vyperlang/boa/abi"
	"github.com/vyperlang/boa/types"
)

// StorageVar is one proxy entry of Contract.Storage() — spec §4.H: "simple
// scalars read the slot via get_storage_slot; mapping variables walk the
// SSTORE trace... and unwrap each key via the SHA3 preimage trace".
type StorageVar struct {
	name    string
	slot    StorageSlot
	valType abi.Type
	keyType *abi.Type // non-nil for HashMap[K, V]-shaped declarations

	contract *Contract
}

// Get reads the current value. For a scalar variable this is the decoded
// word at the declared slot; for a mapping it returns an error instead,
// since a mapping has no single "value" — use GetMap.
func (v *StorageVar) Get(ctx context.Context) (any, error) {
	if v.keyType != nil {
		return nil, fmt.Errorf("contract: %s is a mapping, call GetMap instead", v.name)
	}
	slot := slotHash(v.slot.Slot)
	word, err := v.contract.env.GetStorage(ctx, v.contract.address, slot)
	if err != nil {
		return nil, err
	}
	return abi.Decode(v.valType, word.Bytes())
}

// GetMap reconstructs {key: value} for a mapping variable by walking every
// SSTORE slot ever written to the contract, reversing each one back to its
// key via the recorded SHA3 preimage, and keeping only the slots whose
// preimage's base-slot half matches this variable's declared slot — spec
// §4.H's storage key reversal, §8 invariant 5.
func (v *StorageVar) GetMap(ctx context.Context) (map[any]any, error) {
	if v.keyType == nil {
		return nil, fmt.Errorf("contract: %s is not a mapping, call Get instead", v.name)
	}
	out := make(map[any]any)
	baseSlot := slotHash(v.slot.Slot)

	for _, slot := range v.contract.env.SstoreSlots(v.contract.address) {
		preimage, ok := v.contract.env.Sha3Preimage(slot)
		if !ok || len(preimage) != 64 {
			continue
		}
		keyBytes, baseBytes := preimage[:32], preimage[32:]
		if types.BytesToHash(baseBytes) != baseSlot {
			continue
		}
		key, err := abi.Decode(*v.keyType, keyBytes)
		if err != nil {
			continue
		}
		word, err := v.contract.env.GetStorage(ctx, v.contract.address, slot)
		if err != nil {
			continue
		}
		val, err := abi.Decode(v.valType, word.Bytes())
		if err != nil {
			continue
		}
		// zero-value writes (a mapping entry set then reset to the zero
		// word) are filtered per spec §8 invariant 5's "modulo zero
		// filtering" — an all-zero word is indistinguishable from "never
		// written" at this layer, which matches the source's own behavior.
		if isZero(word) {
			continue
		}
		out[mapKey(key)] = val
	}
	return out, nil
}

// slotHash renders a declared base-slot index as its 32-byte word form,
// the shape both a scalar read and a mapping-key preimage's second half use.
func slotHash(slot uint64) types.Hash {
	var b [32]byte
	for i := 0; i < 8; i++ {
		b[31-i] = byte(slot >> (8 * i))
	}
	return types.BytesToHash(b[:])
}

func isZero(h types.Hash) bool {
	for _, b := range h {
		if b != 0 {
			return false
		}
	}
	return true
}

// mapKey normalizes a decoded key value into something usable as a Go map
// key: types.Address and *big.Int (returned by abi.Decode for uint/int)
// aren't directly comparable/hashable the way a plain string or int64 is,
// so this renders them to a stable string form instead of returning them
// as-is, matching the original's checksummed-address / decimal-string map
// keys for S4's "address keys checksummed" expectation.
func mapKey(v any) any {
	switch x := v.(type) {
	case types.Address:
		return x.ChecksumAddress()
	case fmt.Stringer:
		return x.String()
	default:
		return v
	}
}

// Storage is the Contract.storage proxy, spec §4.H: one StorageVar per
// declared variable, keyed by name.
type Storage struct {
	vars map[string]*StorageVar
}

// Var returns the proxy for the named storage variable.
func (s *Storage) Var(name string) (*StorageVar, bool) {
	v, ok := s.vars[name]
	return v, ok
}

func buildStorage(c *Contract) (*Storage, error) {
	s := &Storage{vars: make(map[string]*StorageVar)}
	for name, slot := range c.artifact.StorageLayout {
		valType, keyType, err := parseStorageType(slot.Type)
		if err != nil {
			return nil, fmt.Errorf("contract: storage variable %s: %w", name, err)
		}
		s.vars[name] = &StorageVar{name: name, slot: slot, valType: valType, keyType: keyType, contract: c}
	}
	return s, nil
}

// parseStorageType accepts either a plain ABI type string ("uint256") for
// a scalar, or "HashMap[K,V]" for a mapping, returning the value type and
// (for a mapping) the key type.
func parseStorageType(decl string) (valType abi.Type, keyType *abi.Type, err error) {
	const prefix = "HashMap["
	if len(decl) > len(prefix) && decl[:len(prefix)] == prefix && decl[len(decl)-1] == ']' {
		inner := decl[len(prefix) : len(decl)-1]
		comma := indexOfByte(inner, ',')
		if comma < 0 {
			return abi.Type{}, nil, fmt.Errorf("malformed HashMap declaration %q", decl)
		}
		kt, err := abi.ParseType(trimSpace(inner[:comma]))
		if err != nil {
			return abi.Type{}, nil, err
		}
		vt, err := abi.ParseType(trimSpace(inner[comma+1:]))
		if err != nil {
			return abi.Type{}, nil, err
		}
		return vt, &kt, nil
	}
	t, err := abi.ParseType(decl)
	return t, nil, err
}

func trimSpace(s string) string {
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}
