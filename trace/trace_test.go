package trace

import (
	"errors"
	"testing"

	gethtracing "github.com/ethereum/go-ethereum/core/tracing"

	"github.com/vyperlang/boa/abi"
	"github.com/vyperlang/boa/computation"
	"github.com/vyperlang/boa/fastmem"
	"github.com/vyperlang/boa/gasmeter"
	"github.com/vyperlang/boa/types"
)

func TestDecodeRevertReasonErrorString(t *testing.T) {
	strType, _ := abi.ParseType("string")
	encoded, _ := abi.Encode(strType, "insufficient balance")
	output := append([]byte{0x08, 0xc3, 0x79, 0xa0}, encoded...)

	reason, ok := DecodeRevertReason(output)
	if !ok || reason != "insufficient balance" {
		t.Fatalf("got (%q, %v), want (\"insufficient balance\", true)", reason, ok)
	}
}

func TestDecodeRevertReasonPanic(t *testing.T) {
	output := make([]byte, 36)
	copy(output, []byte{0x4e, 0x48, 0x7b, 0x71})
	output[35] = 0x11 // arithmetic overflow/underflow
	reason, ok := DecodeRevertReason(output)
	if !ok {
		t.Fatal("expected ok")
	}
	if reason == "" {
		t.Fatal("expected non-empty reason")
	}
}

func TestDecodeRevertReasonUnrecognized(t *testing.T) {
	if _, ok := DecodeRevertReason([]byte{0x01, 0x02, 0x03, 0x04}); ok {
		t.Fatal("expected not ok for unrecognized selector")
	}
}

func TestBuildStackTraceUnknownContractFrame(t *testing.T) {
	comp := &computation.Computation{
		Msg: computation.Message{To: types.HexToAddress("0x0000000000000000000000000000000000000009")},
		Err: errors.New("execution reverted"),
	}
	st := BuildStackTrace(comp, nil)
	if len(st.Frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(st.Frames))
	}
	if st.Frames[0].ErrorDetail != "unknown" {
		t.Errorf("got %q", st.Frames[0].ErrorDetail)
	}
}

func TestBuildStackTraceKnownContractDecodesPrettyReason(t *testing.T) {
	strType, _ := abi.ParseType("string")
	encoded, _ := abi.Encode(strType, "nope")
	output := append([]byte{0x08, 0xc3, 0x79, 0xa0}, encoded...)

	comp := &computation.Computation{
		Msg:    computation.Message{To: types.HexToAddress("0x0000000000000000000000000000000000000009")},
		Output: output,
		Err:    errors.New("execution reverted"),
	}
	resolve := func(types.Address) (string, bool) { return "MyContract", true }
	st := BuildStackTrace(comp, resolve)
	leaf := st.Frames[len(st.Frames)-1]
	if leaf.PrettyReason != "nope" {
		t.Errorf("got %q", leaf.PrettyReason)
	}
	if leaf.ErrorDetail != "user revert with reason" {
		t.Errorf("got %q", leaf.ErrorDetail)
	}
}

func TestBuildStackTraceCarriesFailingFrameMemory(t *testing.T) {
	mem := fastmem.FromBytes([]byte{0xAA, 0xBB, 0xCC, 0xDD})
	comp := &computation.Computation{
		Msg:    computation.Message{To: types.HexToAddress("0x0000000000000000000000000000000000000009")},
		Err:    errors.New("execution reverted"),
		Memory: mem,
	}
	resolve := func(types.Address) (string, bool) { return "C", true }
	st := BuildStackTrace(comp, resolve)
	leaf := st.Frames[len(st.Frames)-1]
	if len(leaf.Memory) != 4 {
		t.Fatalf("Memory length = %d, want 4", len(leaf.Memory))
	}
	if leaf.Memory[0] != 0xAA || leaf.Memory[3] != 0xDD {
		t.Errorf("Memory = %x, want snapshot bytes preserved", leaf.Memory)
	}
}

func TestBuildStackTraceRecursesIntoErroringChild(t *testing.T) {
	child := &computation.Computation{
		Msg:                      computation.Message{To: types.HexToAddress("0x0000000000000000000000000000000000000008")},
		Err:                      errors.New("execution reverted"),
		ContractReprBeforeRevert: "Child()",
	}
	parent := &computation.Computation{
		Msg:                      computation.Message{To: types.HexToAddress("0x0000000000000000000000000000000000000009")},
		Err:                      errors.New("execution reverted"),
		ContractReprBeforeRevert: "Parent()",
		Children:                 []*computation.Computation{child},
	}
	resolve := func(types.Address) (string, bool) { return "C", true }
	st := BuildStackTrace(parent, resolve)
	if len(st.Frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(st.Frames))
	}
}

func TestCheckBoaErrorMatchesPositional(t *testing.T) {
	err := &BoaError{Trace: &StackTrace{Frames: []Frame{{PrettyReason: "insufficient balance"}}}}
	if !CheckBoaErrorMatches(err, "insufficient balance") {
		t.Error("expected match")
	}
	if CheckBoaErrorMatches(err, "something else") {
		t.Error("expected no match")
	}
}

func TestCheckBoaErrorMatchesVMError(t *testing.T) {
	err := &BoaError{Trace: &StackTrace{Frames: []Frame{{
		ErrorDetail:  "user revert with reason",
		PrettyReason: "nope",
	}}}}
	if !CheckBoaErrorMatches(err, "", WithVMError("nope")) {
		t.Error("expected match")
	}
}

func TestCheckBoaErrorMatchesCompilerDetail(t *testing.T) {
	err := &BoaError{Trace: &StackTrace{Frames: []Frame{{ErrorDetail: "overflow"}}}}
	if !CheckBoaErrorMatches(err, "", WithCompilerDetail("overflow")) {
		t.Error("expected match")
	}
	if CheckBoaErrorMatches(err, "", WithCompilerDetail("other")) {
		t.Error("expected no match")
	}
}

func TestBuildByPCAttributesChildGas(t *testing.T) {
	meter := gasmeter.NewProfiling()
	root := &computation.Computation{
		Gasmeter: meter,
		ChildPCs: []uint64{5},
		Children: []*computation.Computation{
			{GasUsed: 1000, GasRefunded: 10},
		},
	}
	onGasChange := meter.OnGasChange(func() uint64 { return 5 })
	onGasChange(2000, 1900, gethtracing.GasChangeCallOpCode)

	byPC := BuildByPC(root)
	d, ok := byPC[5]
	if !ok {
		t.Fatalf("expected pc 5 entry")
	}
	if d.GasUsed != 100 {
		t.Errorf("GasUsed = %d, want 100", d.GasUsed)
	}
	if d.ChildGasUsed != 1000 || d.ChildGasRefunded != 10 {
		t.Errorf("child gas = %d/%d, want 1000/10", d.ChildGasUsed, d.ChildGasRefunded)
	}
}

func TestBuildByPCNilGasmeterIsEmpty(t *testing.T) {
	comp := &computation.Computation{}
	if byPC := BuildByPC(comp); len(byPC) != 0 {
		t.Errorf("got %d entries, want 0", len(byPC))
	}
}

func TestLineProfileFoldDefaultsLineToPC(t *testing.T) {
	pcs := ByPC{7: {GasUsed: 50}}
	lp := NewLineProfile()
	lp.Fold(pcs, nil)
	if lp.ByLine[7].GasUsed != 50 {
		t.Errorf("got %+v", lp.ByLine[7])
	}
}

func TestLineProfileFoldCustomLineOf(t *testing.T) {
	pcs := ByPC{7: {GasUsed: 50}, 8: {GasUsed: 25}}
	lp := NewLineProfile()
	lp.Fold(pcs, func(pc uint64) uint64 { return 1 })
	if lp.ByLine[1].GasUsed != 75 {
		t.Errorf("got %+v", lp.ByLine[1])
	}
}

func TestLineProfileMerge(t *testing.T) {
	a := NewLineProfile()
	a.ByLine[1] = &Datum{GasUsed: 10}
	b := NewLineProfile()
	b.ByLine[1] = &Datum{GasUsed: 5}
	a.Merge(b)
	if a.ByLine[1].GasUsed != 15 {
		t.Errorf("got %d", a.ByLine[1].GasUsed)
	}
}

func TestCallProfilerStats(t *testing.T) {
	p := NewCallProfiler()
	key := CallKey{Address: types.Address{}, ContractName: "Foo", FunctionName: "bar"}
	p.Record(key, 100, 120)
	p.Record(key, 200, 220)
	p.Record(key, 300, 320)

	stats := p.Stats(key)
	if stats.Count != 3 {
		t.Errorf("count = %d", stats.Count)
	}
	if stats.Mean != 200 {
		t.Errorf("mean = %v", stats.Mean)
	}
	if stats.Median != 200 {
		t.Errorf("median = %v", stats.Median)
	}
	if stats.Min != 100 || stats.Max != 300 {
		t.Errorf("min/max = %d/%d", stats.Min, stats.Max)
	}
}

func TestCallProfilerKeysSortedByMeanDescending(t *testing.T) {
	p := NewCallProfiler()
	small := CallKey{FunctionName: "small"}
	big := CallKey{FunctionName: "big"}
	p.Record(small, 10, 10)
	p.Record(big, 1000, 1000)

	keys := p.Keys()
	if len(keys) != 2 || keys[0] != big {
		t.Fatalf("got %+v, want big first", keys)
	}
}

func TestBuildTraceFrameUnknownContract(t *testing.T) {
	comp := &computation.Computation{
		Msg:     computation.Message{To: types.HexToAddress("0x0000000000000000000000000000000000000009"), Data: []byte{0xAA, 0xBB, 0xCC, 0xDD}},
		GasUsed: 42,
	}
	frame := BuildTraceFrame(comp, 0, nil)
	if frame.GasUsed != 42 {
		t.Errorf("GasUsed = %d", frame.GasUsed)
	}
	d, err := frame.ToDict()
	if err != nil {
		t.Fatal(err)
	}
	if d["gas_used"].(float64) != 42 {
		t.Errorf("dict gas_used = %v", d["gas_used"])
	}
}

type fakeFrameSource struct{ name string }

func (f fakeFrameSource) FormatCall(data []byte) string   { return "call(" + f.name + ")" }
func (f fakeFrameSource) FormatReturn(output []byte) string { return "ret(" + f.name + ")" }
func (f fakeFrameSource) DisplayName() string               { return f.name }

func TestBuildTraceFrameKnownContractUsesFrameSource(t *testing.T) {
	addr := types.HexToAddress("0x0000000000000000000000000000000000000009")
	comp := &computation.Computation{Msg: computation.Message{To: addr}}
	resolve := func(a types.Address) (FrameSource, bool) {
		if a == addr {
			return fakeFrameSource{name: "MyContract"}, true
		}
		return nil, false
	}
	frame := BuildTraceFrame(comp, 0, resolve)
	if frame.Source != "MyContract" {
		t.Errorf("Source = %q", frame.Source)
	}
	if frame.Input != "call(MyContract)" {
		t.Errorf("Input = %q", frame.Input)
	}
}

func TestBuildTraceFrameRecursesIntoChildren(t *testing.T) {
	child := &computation.Computation{Msg: computation.Message{To: types.Address{}}}
	parent := &computation.Computation{
		Msg:      computation.Message{To: types.Address{}},
		Children: []*computation.Computation{child},
	}
	frame := BuildTraceFrame(parent, 0, nil)
	if len(frame.Children) != 1 {
		t.Fatalf("got %d children, want 1", len(frame.Children))
	}
	if frame.Children[0].Depth != 1 {
		t.Errorf("child depth = %d, want 1", frame.Children[0].Depth)
	}
}

func TestToHTMLEmbedsJSON(t *testing.T) {
	comp := &computation.Computation{Msg: computation.Message{To: types.Address{}}}
	frame := BuildTraceFrame(comp, 0, nil)
	html, err := frame.ToHTML()
	if err != nil {
		t.Fatal(err)
	}
	if html == "" {
		t.Fatal("expected non-empty HTML")
	}
}
