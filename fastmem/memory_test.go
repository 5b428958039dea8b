package fastmem

import (
	"bytes"
	"testing"

	"github.com/holiman/uint256"
)

func TestExtendGrowsToWordBoundary(t *testing.T) {
	m := New()
	m.Extend(0, 1)
	if m.Len() != 32 {
		t.Errorf("got %d, want 32", m.Len())
	}
	m.Extend(40, 1)
	if m.Len() != 64 {
		t.Errorf("got %d, want 64", m.Len())
	}
}

func TestWriteWordThenReadWordRoundTrips(t *testing.T) {
	m := New()
	m.Extend(0, 32)
	val := uint256.NewInt(12345)
	m.WriteWord(0, *val)
	got := m.ReadWord(0)
	if !got.Eq(val) {
		t.Errorf("got %v, want %v", got.Hex(), val.Hex())
	}
}

func TestByteWriteInvalidatesCachedWord(t *testing.T) {
	m := New()
	m.Extend(0, 32)
	m.WriteWord(0, *uint256.NewInt(999))
	m.Write(0, make([]byte, 32)) // zero it via the byte path
	got := m.ReadWord(0)
	if !got.IsZero() {
		t.Errorf("expected zeroed word after byte write, got %v", got.Hex())
	}
}

func TestReadBytesFlushesDirtyWord(t *testing.T) {
	m := New()
	m.Extend(0, 32)
	val := uint256.NewInt(42)
	m.WriteWord(0, *val)
	data := m.ReadBytes(0, 32)
	want := val.Bytes32()
	if !bytes.Equal(data, want[:]) {
		t.Errorf("got %x, want %x", data, want)
	}
}

func TestWriteUnalignedUpdatesByteBuffer(t *testing.T) {
	m := New()
	m.Extend(0, 64)
	m.Write(10, []byte{0xAA, 0xBB})
	data := m.ReadBytes(10, 2)
	if !bytes.Equal(data, []byte{0xAA, 0xBB}) {
		t.Errorf("got %x", data)
	}
}

func TestDataFlushesAllDirtyWords(t *testing.T) {
	m := New()
	m.Extend(0, 64)
	m.WriteWord(0, *uint256.NewInt(1))
	m.WriteWord(32, *uint256.NewInt(2))
	data := m.Data()
	if len(data) != 64 {
		t.Fatalf("got len %d", len(data))
	}
	if data[31] != 1 || data[63] != 2 {
		t.Errorf("flush did not land expected bytes: %x", data)
	}
}
