package tracerhooks

import (
	"github.com/ethereum/go-ethereum/core/tracing"

	"github.com/vyperlang/boa/crypto"
)

// newSha3Hook builds the OnOpcode callback for Sha3Trace. Only SHA3
// (KECCAK256, opcode 0x20) is matched; everything else is a no-op.
func newSha3Hook(trace *Sha3Trace) func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
	return func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
		if op != opSHA3 {
			return
		}
		stack := scope.StackData()
		if len(stack) < 2 {
			return
		}
		// SHA3 pops offset (top of stack) then size.
		offset := stack[len(stack)-1].Uint64()
		size := stack[len(stack)-2].Uint64()
		if size != 64 {
			return
		}
		mem := scope.MemoryData()
		if offset+size > uint64(len(mem)) {
			return
		}
		preimage := mem[offset : offset+size]
		image := crypto.Keccak256Hash(preimage)
		trace.record(image, preimage)
	}
}
