package tracerhooks

import "github.com/ethereum/go-ethereum/core/tracing"

// Bundle groups the three per-computation tracers and exposes them as a
// single core/tracing.Hooks value, so a computation only has to install one
// tracer on the vm.Config to get the PC trace, SHA3 preimages, and SSTORE
// slots all at once.
type Bundle struct {
	PC     *PCTrace
	Sha3   *Sha3Trace
	Sstore *SstoreTrace
}

// NewBundle wires a fresh PCTrace (with the given StartPC/FakeCodesize),
// Sha3Trace, and SstoreTrace into one Bundle.
func NewBundle(startPC uint64, fakeCodesize int) *Bundle {
	return &Bundle{
		PC:     NewPCTrace(startPC, fakeCodesize),
		Sha3:   NewSha3Trace(),
		Sstore: NewSstoreTrace(),
	}
}

// Hooks returns a core/tracing.Hooks whose OnOpcode callback fans out to all
// three tracers in turn. Other hook fields are left nil. The Env's EVM
// construction does not use Bundle: it builds its own tracing.Hooks that
// calls the three tracers' OnOpcode callbacks and the computation
// package's hooks directly.
func (b *Bundle) Hooks() *tracing.Hooks {
	pc := b.PC.OnOpcode()
	sha3 := b.Sha3.OnOpcode()
	sstore := b.Sstore.OnOpcode()
	return &tracing.Hooks{
		OnOpcode: func(pc_ uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
			pc(pc_, op, gas, cost, scope, rData, depth, err)
			sha3(pc_, op, gas, cost, scope, rData, depth, err)
			sstore(pc_, op, gas, cost, scope, rData, depth, err)
		},
	}
}
