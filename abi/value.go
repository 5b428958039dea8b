package abi

import (
	"reflect"

	"github.com/vyperlang/boa/types"
)

// Addressable is implemented by any value that wraps an address — the Go
// analogue of "anything with an `.address` attribute auto-unwraps" from
// spec §4.A. Contract objects and ABIContract instances implement this so
// they can be passed directly as `address`-typed arguments.
type Addressable interface {
	Address() types.Address
}

// TupleValue is the decoded form of an ABITuple: an ordered list of named
// fields, preserving Solidity/Vyper declaration order. Field names are
// taken from the ABI; callers that built the Type from a bare signature
// string (no component names) get synthetic names "_0", "_1", ...
type TupleValue struct {
	TypeName string
	Names    []string
	Values   []any
}

// Get returns the value of the named field and whether it was found.
func (t TupleValue) Get(name string) (any, bool) {
	for i, n := range t.Names {
		if n == name {
			return t.Values[i], true
		}
	}
	return nil, false
}

// asSlice normalizes array-ish Go inputs ([]any, typed slices, arrays) into
// a []any, so encodeArrayElems doesn't need one reflect path per element type.
func asSlice(v any) ([]any, bool) {
	if vs, ok := v.([]any); ok {
		return vs, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, false
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	default:
		return nil, false
	}
}

// resolveAddress auto-unwraps Addressable values and accepts types.Address,
// [20]byte, or a hex string, matching the "anything with .address" rule.
func resolveAddress(v any) (types.Address, bool) {
	switch x := v.(type) {
	case types.Address:
		return x, true
	case Addressable:
		return x.Address(), true
	case [20]byte:
		return types.Address(x), true
	case string:
		if len(x) >= 2 {
			return types.HexToAddress(x), true
		}
	}
	return types.Address{}, false
}

// SafeFieldName renames a field to "_<index>" if name collides with a
// reserved Go identifier or is empty — used when tuple/event components are
// turned into named record fields (spec §4.H "renamed if they collide").
func SafeFieldName(name string, index int) string {
	if name == "" || reservedIdents[name] {
		return syntheticName(index)
	}
	return name
}

func syntheticName(index int) string {
	return "_" + itoa(index)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

var reservedIdents = map[string]bool{
	"type": true, "func": true, "range": true, "map": true, "chan": true,
	"interface": true, "struct": true, "var": true, "const": true,
	"package": true, "import": true, "return": true, "go": true,
	"select": true, "defer": true, "fallthrough": true,
	"break": true, "case": true, "continue": true, "default": true,
	"else": true, "for": true, "goto": true, "if": true, "switch": true,
}
