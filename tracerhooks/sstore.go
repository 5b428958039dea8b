package tracerhooks

import (
	"github.com/ethereum/go-ethereum/core/tracing"

	"github.com/vyperlang/boa/types"
)

// newSstoreHook builds the OnOpcode callback for SstoreTrace. Only SSTORE
// (opcode 0x55) is matched.
func newSstoreHook(trace *SstoreTrace) func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
	return func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
		if op != opSSTORE {
			return
		}
		stack := scope.StackData()
		if len(stack) < 1 {
			return
		}
		// SSTORE pops key (top of stack) then value.
		slot := types.Hash(stack[len(stack)-1].Bytes32())
		addr := types.Address(scope.Address())
		trace.record(addr, slot)
	}
}
