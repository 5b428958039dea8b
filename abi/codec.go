package abi

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/vyperlang/boa/types"
)

// Encode ABI-encodes a single value against t, using head/tail encoding for
// the dynamic parts. It is the single-value building block EncodeArgs
// and the tuple/array encoders are built from.
func Encode(t Type, v any) ([]byte, error) {
	return encodeOne(t, v)
}

// EncodeArgs ABI-encodes a list of values against their declared types in
// positional order — the calldata tail produced for a function call.
func EncodeArgs(types []Type, vals []any) ([]byte, error) {
	if len(types) != len(vals) {
		return nil, newEncodeError(Type{}, vals, "argument count %d does not match type count %d", len(vals), len(types))
	}
	return encodeTuple(types, vals)
}

// Decode ABI-decodes data against t and returns the typed Go tree:
// *big.Int for uint/int, types.Address for address, bool, []byte for
// bytes/bytesN, string for string, []any for arrays, TupleValue for tuples.
func Decode(t Type, data []byte) (any, error) {
	v, _, err := decodeOne(t, data, 0)
	return v, err
}

// DecodeArgs decodes a sequence of ABI values (e.g. a function's full
// return data) against their declared types.
func DecodeArgs(argTypes []Type, data []byte) ([]any, error) {
	return decodeTuple(argTypes, data, 0)
}

// IsEncodable reports whether v can be encoded as t without error — the
// predicate overload resolution uses to pick among candidate signatures.
func IsEncodable(t Type, v any) bool {
	_, err := Encode(t, v)
	return err == nil
}

func encodeTuple(fieldTypes []Type, vals []any) ([]byte, error) {
	headSize := len(fieldTypes) * 32
	var heads, tails []byte
	for i, t := range fieldTypes {
		enc, err := encodeOne(t, vals[i])
		if err != nil {
			return nil, err
		}
		if t.IsDynamic() {
			offset := headSize + len(tails)
			heads = append(heads, pad32(big.NewInt(int64(offset)).Bytes())...)
			tails = append(tails, enc...)
		} else {
			heads = append(heads, enc...)
		}
	}
	return append(heads, tails...), nil
}

func encodeOne(t Type, v any) ([]byte, error) {
	switch t.Kind {
	case KindUint, KindInt:
		return encodeInt(t, v)
	case KindAddress:
		addr, ok := resolveAddress(v)
		if !ok {
			return nil, newEncodeError(t, v, "not an address")
		}
		return pad32(addr.Bytes()), nil
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, newEncodeError(t, v, "not a bool")
		}
		if b {
			return pad32([]byte{1}), nil
		}
		return make([]byte, 32), nil
	case KindFixedBytes:
		b, ok := asBytes(v)
		if !ok {
			return nil, newEncodeError(t, v, "not bytes-like")
		}
		if len(b) > t.Size {
			return nil, newEncodeError(t, v, "value has %d bytes, bytes%d can hold at most %d", len(b), t.Size, t.Size)
		}
		out := make([]byte, 32)
		copy(out, b)
		return out, nil
	case KindBytes:
		b, ok := asBytes(v)
		if !ok {
			return nil, newEncodeError(t, v, "not bytes-like")
		}
		return encodeDynamicBytes(b), nil
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, newEncodeError(t, v, "not a string")
		}
		return encodeDynamicBytes([]byte(s)), nil
	case KindFixedArray:
		elems, ok := asSlice(v)
		if !ok {
			return nil, newEncodeError(t, v, "not array-like")
		}
		if len(elems) != t.Size {
			return nil, newEncodeError(t, v, "array has %d elements, type wants %d", len(elems), t.Size)
		}
		return encodeArrayElems(*t.Elem, elems)
	case KindDynamicArray:
		elems, ok := asSlice(v)
		if !ok {
			return nil, newEncodeError(t, v, "not array-like")
		}
		body, err := encodeArrayElems(*t.Elem, elems)
		if err != nil {
			return nil, err
		}
		return append(pad32(big.NewInt(int64(len(elems))).Bytes()), body...), nil
	case KindTuple:
		vals, err := tupleComponentValues(t, v)
		if err != nil {
			return nil, err
		}
		fieldTypes := make([]Type, len(t.Fields))
		for i, f := range t.Fields {
			fieldTypes[i] = f.Type
		}
		return encodeTuple(fieldTypes, vals)
	default:
		return nil, newEncodeError(t, v, "unsupported type kind")
	}
}

func tupleComponentValues(t Type, v any) ([]any, error) {
	switch x := v.(type) {
	case TupleValue:
		return x.Values, nil
	case []any:
		if len(x) != len(t.Fields) {
			return nil, newEncodeError(t, v, "tuple has %d values, type wants %d", len(x), len(t.Fields))
		}
		return x, nil
	default:
		if elems, ok := asSlice(v); ok {
			return elems, nil
		}
		return nil, newEncodeError(t, v, "not tuple-like")
	}
}

func encodeArrayElems(elemType Type, elems []any) ([]byte, error) {
	if !elemType.IsDynamic() {
		var out []byte
		for _, e := range elems {
			enc, err := encodeOne(elemType, e)
			if err != nil {
				return nil, err
			}
			out = append(out, enc...)
		}
		return out, nil
	}
	headSize := len(elems) * 32
	var heads, tails []byte
	for _, e := range elems {
		enc, err := encodeOne(elemType, e)
		if err != nil {
			return nil, err
		}
		offset := headSize + len(tails)
		heads = append(heads, pad32(big.NewInt(int64(offset)).Bytes())...)
		tails = append(tails, enc...)
	}
	return append(heads, tails...), nil
}

func encodeInt(t Type, v any) ([]byte, error) {
	bi, ok := toBigInt(v)
	if !ok {
		return nil, newEncodeError(t, v, "not an integer")
	}
	max, min := rangeFor(t)
	if bi.Cmp(max) > 0 || bi.Cmp(min) < 0 {
		return nil, newEncodeError(t, v, "%s out of range for %s", bi.String(), t.String())
	}
	if bi.Sign() >= 0 {
		return pad32(bi.Bytes()), nil
	}
	// Two's complement over 256 bits for negative signed values.
	mod := new(big.Int).Lsh(big.NewInt(1), 256)
	twos := new(big.Int).Add(bi, mod)
	return pad32(twos.Bytes()), nil
}

func rangeFor(t Type) (max, min *big.Int) {
	if t.Kind == KindUint {
		max = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(t.Bits)), big.NewInt(1))
		min = big.NewInt(0)
		return
	}
	max = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(t.Bits-1)), big.NewInt(1))
	min = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), uint(t.Bits-1)))
	return
}

func toBigInt(v any) (*big.Int, bool) {
	switch x := v.(type) {
	case *big.Int:
		return x, true
	case int:
		return big.NewInt(int64(x)), true
	case int64:
		return big.NewInt(x), true
	case int32:
		return big.NewInt(int64(x)), true
	case uint64:
		return new(big.Int).SetUint64(x), true
	case uint32:
		return new(big.Int).SetUint64(uint64(x)), true
	case uint:
		return new(big.Int).SetUint64(uint64(x)), true
	case *uint256.Int:
		return x.ToBig(), true
	case uint256.Int:
		return x.ToBig(), true
	default:
		return nil, false
	}
}

func asBytes(v any) ([]byte, bool) {
	switch x := v.(type) {
	case []byte:
		return x, true
	case string:
		return []byte(x), true
	default:
		return nil, false
	}
}

func encodeDynamicBytes(data []byte) []byte {
	lenBytes := pad32(big.NewInt(int64(len(data))).Bytes())
	padded := make([]byte, ((len(data)+31)/32)*32)
	copy(padded, data)
	return append(lenBytes, padded...)
}

func pad32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func decodeTuple(fieldTypes []Type, data []byte, base int) ([]any, error) {
	if len(fieldTypes) == 0 {
		return nil, nil
	}
	out := make([]any, len(fieldTypes))
	headPos := base
	for i, t := range fieldTypes {
		if headPos+32 > len(data) {
			return nil, newDecodeError(t, "need 32 bytes at offset %d, have %d", headPos, len(data))
		}
		pos := headPos
		if t.IsDynamic() {
			off := new(big.Int).SetBytes(data[headPos : headPos+32]).Int64()
			pos = base + int(off)
			if pos < 0 || pos > len(data) {
				return nil, newDecodeError(t, "offset %d exceeds data length %d", pos, len(data))
			}
		}
		v, _, err := decodeOne(t, data, pos)
		if err != nil {
			return nil, err
		}
		out[i] = v
		headPos += 32
	}
	return out, nil
}

func decodeOne(t Type, data []byte, offset int) (any, int, error) {
	switch t.Kind {
	case KindUint, KindInt:
		if offset+32 > len(data) {
			return nil, 0, newDecodeError(t, "need 32 bytes at offset %d", offset)
		}
		raw := new(big.Int).SetBytes(data[offset : offset+32])
		if t.Kind == KindInt {
			// The word is always a 256-bit two's-complement encoding
			// regardless of the declared bit width, per the ABI spec.
			full := new(big.Int).Lsh(big.NewInt(1), 256)
			half := new(big.Int).Rsh(full, 1)
			if raw.Cmp(half) >= 0 {
				raw = new(big.Int).Sub(raw, full)
			}
		}
		return raw, offset + 32, nil

	case KindAddress:
		if offset+32 > len(data) {
			return nil, 0, newDecodeError(t, "need 32 bytes at offset %d", offset)
		}
		return types.BytesToAddress(data[offset+12 : offset+32]), offset + 32, nil

	case KindBool:
		if offset+32 > len(data) {
			return nil, 0, newDecodeError(t, "need 32 bytes at offset %d", offset)
		}
		v := new(big.Int).SetBytes(data[offset : offset+32])
		return v.Sign() != 0, offset + 32, nil

	case KindFixedBytes:
		if offset+32 > len(data) {
			return nil, 0, newDecodeError(t, "need 32 bytes at offset %d", offset)
		}
		out := make([]byte, t.Size)
		copy(out, data[offset:offset+t.Size])
		return out, offset + 32, nil

	case KindBytes:
		b, err := decodeDynamicBytes(t, data, offset)
		return b, offset + 32, err

	case KindString:
		b, err := decodeDynamicBytes(t, data, offset)
		if err != nil {
			return nil, 0, err
		}
		return string(b), offset + 32, nil

	case KindFixedArray:
		v, err := decodeArray(t, data, offset, t.Size)
		return v, offset + 32, err

	case KindDynamicArray:
		if offset+32 > len(data) {
			return nil, 0, newDecodeError(t, "need 32 bytes at offset %d", offset)
		}
		length := int(new(big.Int).SetBytes(data[offset : offset+32]).Int64())
		v, err := decodeArray(t, data, offset+32, length)
		return v, offset + 32, err

	case KindTuple:
		fieldTypes := make([]Type, len(t.Fields))
		names := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			fieldTypes[i] = f.Type
			names[i] = SafeFieldName(f.Name, i)
		}
		vals, err := decodeTuple(fieldTypes, data, offset)
		if err != nil {
			return nil, 0, err
		}
		return TupleValue{TypeName: t.TupleName, Names: names, Values: vals}, offset + 32, nil

	default:
		return nil, 0, newDecodeError(t, "unsupported type kind")
	}
}

func decodeDynamicBytes(t Type, data []byte, offset int) ([]byte, error) {
	if offset+32 > len(data) {
		return nil, newDecodeError(t, "need 32 bytes at offset %d", offset)
	}
	length := int(new(big.Int).SetBytes(data[offset : offset+32]).Int64())
	start := offset + 32
	if length < 0 || start+length > len(data) {
		return nil, newDecodeError(t, "dynamic data at offset %d, length %d exceeds data length %d", start, length, len(data))
	}
	out := make([]byte, length)
	copy(out, data[start:start+length])
	return out, nil
}

func decodeArray(t Type, data []byte, base, length int) ([]any, error) {
	elemType := *t.Elem
	out := make([]any, length)
	if elemType.IsDynamic() {
		for i := 0; i < length; i++ {
			hOff := base + i*32
			if hOff+32 > len(data) {
				return nil, newDecodeError(t, "array element offset at %d", hOff)
			}
			eOff := base + int(new(big.Int).SetBytes(data[hOff:hOff+32]).Int64())
			v, _, err := decodeOne(elemType, data, eOff)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	pos := base
	for i := 0; i < length; i++ {
		v, next, err := decodeOne(elemType, data, pos)
		if err != nil {
			return nil, err
		}
		out[i] = v
		pos = next
	}
	return out, nil
}
