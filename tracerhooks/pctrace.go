// Package tracerhooks implements the per-computation instrumentation
// primitives (spec component B): a program-counter trace equivalent to
// py-evm's TracingCodeStream, a SHA3-preimage tracer, and an SSTORE
// tracer. Each is built as a set of github.com/ethereum/go-ethereum
// core/tracing.Hooks callbacks rather than a bytecode-stream wrapper,
// since the underlying engine is go-ethereum's own interpreter: the
// harness observes execution through its live-tracing hook surface
// instead of re-implementing opcode dispatch.
package tracerhooks

import (
	"github.com/ethereum/go-ethereum/core/tracing"

	"github.com/vyperlang/boa/types"
)

const (
	opSHA3   = 0x20
	opSSTORE = 0x55
)

// PCTrace is the ordered list of program counters visited by a single
// computation, the equivalent of py-evm's TracingCodeStream._trace. It
// backs both the gas profiler's line attribution (component K) and the
// stack-trace error-hint lookup (component J), both of which scan it in
// reverse for "the most recent PC that matches."
type PCTrace struct {
	pcs []uint64

	// StartPC and FakeCodesize mirror the py-evm TracingCodeStream
	// configuration knobs used by Contract.eval/.internal/.inject
	// (spec §4.F, §4.H): StartPC lets a synthetic call begin execution
	// partway into injected bytecode, and FakeCodesize is surfaced so
	// callers building that injected bytecode can make CODESIZE agree
	// with the contract's real source length (see DESIGN.md on why this
	// is a build-time bytecode property here, not a runtime hook, since
	// go-ethereum's interpreter does not expose a per-call CODESIZE
	// override point).
	StartPC      uint64
	FakeCodesize int
}

// NewPCTrace returns a trace starting at startPC with the given fake
// codesize (0 means "no override", i.e. report the real bytecode length).
func NewPCTrace(startPC uint64, fakeCodesize int) *PCTrace {
	return &PCTrace{StartPC: startPC, FakeCodesize: fakeCodesize}
}

// Record appends pc to the trace. Called from OnOpcode for every
// instruction the computation executes, in execution order.
func (p *PCTrace) Record(pc uint64) { p.pcs = append(p.pcs, pc) }

// PCs returns the recorded trace in execution order.
func (p *PCTrace) PCs() []uint64 { return p.pcs }

// LastMatch scans the trace in reverse and returns the first pc for which
// lookup(pc) reports a hit, i.e. "the most recent PC with known source
// information."
func (p *PCTrace) LastMatch(lookup func(pc uint64) (v any, ok bool)) (any, bool) {
	for i := len(p.pcs) - 1; i >= 0; i-- {
		if v, ok := lookup(p.pcs[i]); ok {
			return v, true
		}
	}
	return nil, false
}

// OnOpcode returns a tracing.Hooks-compatible callback that records pc into
// the trace. Callers compose it with the SHA3/SSTORE tracer hooks and the
// computation-tree hooks (package computation) into a single
// tracing.Hooks by calling each callback in turn from one OnOpcode.
func (p *PCTrace) OnOpcode() func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
	return func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
		p.Record(pc)
	}
}

// Sha3Trace maps a 32-byte Keccak256 digest to the bytes that produced it.
// Only preimages whose size was exactly 64 bytes are recorded (spec §3),
// since that is the shape of `keccak256(concat(key, base_slot))` that
// Solidity/Vyper mapping storage uses — anything else can't be a mapping
// key derivation and isn't useful for storage-key reversal.
type Sha3Trace struct {
	preimages map[types.Hash][]byte
}

// NewSha3Trace returns an empty trace.
func NewSha3Trace() *Sha3Trace {
	return &Sha3Trace{preimages: make(map[types.Hash][]byte)}
}

// Preimage returns the recorded preimage for image, if any.
func (s *Sha3Trace) Preimage(image types.Hash) ([]byte, bool) {
	p, ok := s.preimages[image]
	return p, ok
}

// record stores image -> preimage unconditionally; exported only for tests
// that want to seed a trace without going through the hook.
func (s *Sha3Trace) record(image types.Hash, preimage []byte) {
	cp := make([]byte, len(preimage))
	copy(cp, preimage)
	s.preimages[image] = cp
}

// OnOpcode returns the hook that watches for SHA3/KECCAK256 and, when the
// hashed region was exactly 64 bytes, records image -> preimage.
//
// go-ethereum's OnOpcode fires before the opcode executes, so scope still
// holds the pre-execution stack (offset, size) and the memory it will read
// from. Rather than wait for a later callback to learn the digest, the
// hook hashes the memory region itself and uses that as the map key —
// identical to what the opcode is about to push, without needing to pair
// a before/after snapshot.
func (s *Sha3Trace) OnOpcode() func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
	return newSha3Hook(s)
}

// SstoreTrace records, for each contract address, the set of storage slots
// it has written via SSTORE — regardless of the value written, including
// explicit zero-writes, so callers can dedupe or walk "all slots ever
// touched" (spec §3).
type SstoreTrace struct {
	slots map[types.Address]map[types.Hash]struct{}
}

// NewSstoreTrace returns an empty trace.
func NewSstoreTrace() *SstoreTrace {
	return &SstoreTrace{slots: make(map[types.Address]map[types.Hash]struct{})}
}

// Slots returns the set of slots written at addr, in no particular order
// (the trace is append/union and explicitly order-insensitive, spec §5).
func (s *SstoreTrace) Slots(addr types.Address) []types.Hash {
	set := s.slots[addr]
	out := make([]types.Hash, 0, len(set))
	for slot := range set {
		out = append(out, slot)
	}
	return out
}

func (s *SstoreTrace) record(addr types.Address, slot types.Hash) {
	set, ok := s.slots[addr]
	if !ok {
		set = make(map[types.Hash]struct{})
		s.slots[addr] = set
	}
	set[slot] = struct{}{}
}

// OnOpcode returns the hook that watches for SSTORE and records
// (contractAddress -> slot) for every write.
func (s *SstoreTrace) OnOpcode() func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
	return newSstoreHook(s)
}
