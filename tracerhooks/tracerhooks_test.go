package tracerhooks

import (
	"testing"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/vyperlang/boa/crypto"
	"github.com/vyperlang/boa/types"
)

// fakeScope is a minimal tracing.OpContext for exercising the hooks without
// a real EVM run.
type fakeScope struct {
	stack  []uint256.Int
	memory []byte
	addr   gethcommon.Address
}

func (f fakeScope) MemoryData() []byte            { return f.memory }
func (f fakeScope) StackData() []uint256.Int      { return f.stack }
func (f fakeScope) Caller() gethcommon.Address    { return gethcommon.Address{} }
func (f fakeScope) Address() gethcommon.Address   { return f.addr }
func (f fakeScope) CallValue() *uint256.Int       { return uint256.NewInt(0) }
func (f fakeScope) CallInput() []byte             { return nil }
func (f fakeScope) ContractCode() []byte          { return nil }

func TestPCTraceRecordsInOrder(t *testing.T) {
	trace := NewPCTrace(0, 0)
	trace.Record(1)
	trace.Record(2)
	trace.Record(5)
	got := trace.PCs()
	want := []uint64{1, 2, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPCTraceLastMatch(t *testing.T) {
	trace := NewPCTrace(0, 0)
	trace.Record(10)
	trace.Record(20)
	trace.Record(30)
	known := map[uint64]string{10: "a", 30: "c"}
	v, ok := trace.LastMatch(func(pc uint64) (any, bool) {
		s, ok := known[pc]
		return s, ok
	})
	if !ok || v != "c" {
		t.Errorf("got (%v, %v), want (c, true)", v, ok)
	}
}

func TestSha3TraceRecordsExact64ByteRegion(t *testing.T) {
	trace := NewSha3Trace()
	hook := trace.OnOpcode()

	key := make([]byte, 32)
	key[31] = 0x07
	baseSlot := make([]byte, 32)
	baseSlot[31] = 0x03
	preimage := append(append([]byte{}, key...), baseSlot...)

	mem := make([]byte, 64)
	copy(mem, preimage)

	scope := fakeScope{
		memory: mem,
		stack: []uint256.Int{
			*uint256.NewInt(64), // size (second from top)
			*uint256.NewInt(0),  // offset (top)
		},
	}
	hook(0, opSHA3, 0, 0, scope, nil, 0, nil)

	image := crypto.Keccak256Hash(preimage)
	got, ok := trace.Preimage(image)
	if !ok {
		t.Fatal("preimage not recorded")
	}
	if len(got) != 64 {
		t.Fatalf("got len %d, want 64", len(got))
	}
}

func TestSha3TraceIgnoresNon64ByteRegions(t *testing.T) {
	trace := NewSha3Trace()
	hook := trace.OnOpcode()
	scope := fakeScope{
		memory: make([]byte, 32),
		stack: []uint256.Int{
			*uint256.NewInt(32), // size
			*uint256.NewInt(0),  // offset
		},
	}
	hook(0, opSHA3, 0, 0, scope, nil, 0, nil)
	if len(trace.preimages) != 0 {
		t.Errorf("expected no preimages recorded, got %d", len(trace.preimages))
	}
}

func TestSstoreTraceRecordsSlots(t *testing.T) {
	trace := NewSstoreTrace()
	hook := trace.OnOpcode()
	addr := types.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	gethAddr := gethcommon.BytesToAddress(addr.Bytes())

	scope := fakeScope{
		addr: gethAddr,
		stack: []uint256.Int{
			*uint256.NewInt(999), // value
			*uint256.NewInt(7),   // slot (top)
		},
	}
	hook(0, opSSTORE, 0, 0, scope, nil, 0, nil)

	slots := trace.Slots(addr)
	if len(slots) != 1 {
		t.Fatalf("got %d slots, want 1", len(slots))
	}
	var want types.Hash
	want[31] = 7
	if slots[0] != want {
		t.Errorf("got %v, want %v", slots[0], want)
	}
}

func TestSstoreTraceUnionsAcrossCalls(t *testing.T) {
	trace := NewSstoreTrace()
	hook := trace.OnOpcode()
	addr := types.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	gethAddr := gethcommon.BytesToAddress(addr.Bytes())

	for _, slot := range []uint64{1, 2, 1} {
		scope := fakeScope{
			addr: gethAddr,
			stack: []uint256.Int{
				*uint256.NewInt(0),
				*uint256.NewInt(slot),
			},
		}
		hook(0, opSSTORE, 0, 0, scope, nil, 0, nil)
	}
	if got := len(trace.Slots(addr)); got != 2 {
		t.Errorf("got %d distinct slots, want 2", got)
	}
}
