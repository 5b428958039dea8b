package abi

import (
	"math/big"
	"reflect"
	"testing"

	"github.com/vyperlang/boa/types"
)

func mustType(t *testing.T, s string) Type {
	t.Helper()
	ty, err := ParseType(s)
	if err != nil {
		t.Fatalf("ParseType(%q): %v", s, err)
	}
	return ty
}

func TestRoundTripUint256(t *testing.T) {
	ty := mustType(t, "uint256")
	in := big.NewInt(123456789)
	enc, err := Encode(ty, in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(ty, enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.(*big.Int).Cmp(in) != 0 {
		t.Errorf("got %v, want %v", out, in)
	}
}

func TestRoundTripInt8Negative(t *testing.T) {
	ty := mustType(t, "int8")
	in := big.NewInt(-5)
	enc, err := Encode(ty, in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(ty, enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.(*big.Int).Cmp(in) != 0 {
		t.Errorf("got %v, want %v", out, in)
	}
}

func TestInt8OutOfRangeRejected(t *testing.T) {
	ty := mustType(t, "int8")
	if IsEncodable(ty, big.NewInt(1000)) {
		t.Error("1000 should not be encodable as int8")
	}
	if !IsEncodable(ty, big.NewInt(-1)) {
		t.Error("-1 should be encodable as int8")
	}
}

func TestUint256AcceptsLargePositive(t *testing.T) {
	ty := mustType(t, "uint256")
	if !IsEncodable(ty, big.NewInt(1000)) {
		t.Error("1000 should be encodable as uint256")
	}
	if IsEncodable(ty, big.NewInt(-1)) {
		t.Error("-1 should not be encodable as uint256")
	}
}

func TestAddressRoundTrip(t *testing.T) {
	ty := mustType(t, "address")
	addr := types.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	enc, err := Encode(ty, addr)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(ty, enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.(types.Address) != addr {
		t.Errorf("got %v, want %v", out, addr)
	}
}

type fakeContract struct{ addr types.Address }

func (f fakeContract) Address() types.Address { return f.addr }

func TestAddressableAutoUnwraps(t *testing.T) {
	ty := mustType(t, "address")
	addr := types.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	enc, err := Encode(ty, fakeContract{addr: addr})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(ty, enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.(types.Address) != addr {
		t.Errorf("got %v, want %v", out, addr)
	}
}

func TestRoundTripDynamicArray(t *testing.T) {
	ty := mustType(t, "uint256[]")
	in := []any{big.NewInt(1), big.NewInt(2), big.NewInt(3)}
	enc, err := Encode(ty, in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(ty, enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := out.([]any)
	if len(got) != len(in) {
		t.Fatalf("got %d elements, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i].(*big.Int).Cmp(in[i].(*big.Int)) != 0 {
			t.Errorf("element %d: got %v, want %v", i, got[i], in[i])
		}
	}
}

func TestRoundTripString(t *testing.T) {
	ty := mustType(t, "string")
	enc, err := Encode(ty, "hello, world")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(ty, enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.(string) != "hello, world" {
		t.Errorf("got %q", out)
	}
}

func TestRoundTripNestedTuple(t *testing.T) {
	ty := mustType(t, "(uint256,(address,bool))")
	addr := types.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	in := []any{big.NewInt(7), []any{addr, true}}

	enc, err := Encode(ty, in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(ty, enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	tup := out.(TupleValue)
	if tup.Values[0].(*big.Int).Cmp(big.NewInt(7)) != 0 {
		t.Errorf("field 0 = %v", tup.Values[0])
	}
	inner := tup.Values[1].(TupleValue)
	if inner.Values[0].(types.Address) != addr || inner.Values[1].(bool) != true {
		t.Errorf("nested tuple decoded wrong: %+v", inner)
	}
}

func TestEncodeArgsMatchesManualConcat(t *testing.T) {
	types_ := []Type{mustType(t, "uint256"), mustType(t, "bool")}
	got, err := EncodeArgs(types_, []any{big.NewInt(1), true})
	if err != nil {
		t.Fatalf("EncodeArgs: %v", err)
	}
	if len(got) != 64 {
		t.Fatalf("len = %d, want 64", len(got))
	}
	a, err := Encode(types_[0], big.NewInt(1))
	if err != nil {
		t.Fatalf("Encode uint256: %v", err)
	}
	b, err := Encode(types_[1], true)
	if err != nil {
		t.Fatalf("Encode bool: %v", err)
	}
	if want := append(a, b...); !reflect.DeepEqual(got, want) {
		t.Errorf("EncodeArgs = %x, want %x", got, want)
	}
}

func TestUnwrapReturn(t *testing.T) {
	if UnwrapReturn(nil, false) != nil {
		t.Error("empty return should unwrap to nil")
	}
	single := UnwrapReturn([]any{42}, false)
	if single != 42 {
		t.Errorf("single return should unwrap to the value itself, got %v", single)
	}
	multi := UnwrapReturn([]any{1, 2}, false)
	if !reflect.DeepEqual(multi, []any{1, 2}) {
		t.Errorf("multi return should stay a slice, got %v", multi)
	}
	forced := UnwrapReturn([]any{1}, true)
	if !reflect.DeepEqual(forced, []any{1}) {
		t.Errorf("forceTuple should keep single-element slice, got %v", forced)
	}
}

func TestParseTypeArrayOfTuples(t *testing.T) {
	ty, err := ParseType("(uint256,address)[2]")
	if err != nil {
		t.Fatalf("ParseType: %v", err)
	}
	if ty.Kind != KindFixedArray || ty.Size != 2 || ty.Elem.Kind != KindTuple {
		t.Errorf("got %+v", ty)
	}
}
