package env

import (
	"math/big"

	"github.com/vyperlang/boa/types"
)

// VMPatch is the mutable per-block execution context the harness lets
// callers override for things Vyper's environment builtins expose
// (block.number, block.timestamp, …). Go has no attribute-interception
// magic to match py-evm's VMPatcher.__getattr__/__setattr__ pair, so this
// is a plain struct; Anchor gives the same scoped save/restore behavior
// via a returned restore closure instead of a context manager.
type VMPatch struct {
	BlockNumber    uint64
	Timestamp      uint64
	Coinbase       types.Address
	Difficulty     *big.Int
	PrevHashes     []types.Hash
	ChainID        *big.Int
	GasLimit       uint64
	Prevrandao     types.Hash
	CodeSizeLimit  int
}

// NewVMPatch returns the default mainnet-ish starting context. Env.Fork
// leaves these fields as they are: it does not take the block number,
// timestamp or chain id from the upstream chain.
func NewVMPatch() *VMPatch {
	return &VMPatch{
		ChainID:       big.NewInt(1),
		GasLimit:      30_000_000,
		CodeSizeLimit: 24576, // EIP-170
		Difficulty:    new(big.Int),
	}
}

// snapshot is a plain copy of every patchable field, used by Anchor.
type vmPatchSnapshot VMPatch

func (p *VMPatch) snapshot() vmPatchSnapshot {
	s := vmPatchSnapshot(*p)
	s.PrevHashes = append([]types.Hash(nil), p.PrevHashes...)
	return s
}

func (p *VMPatch) restore(s vmPatchSnapshot) {
	*p = VMPatch(s)
}

// Anchor snapshots every patchable field and returns a restore function
// that rolls them back — the Go equivalent of VMPatcher.anchor()'s
// contextmanager, used by Env.Anchor to scope a temporary override.
func (p *VMPatch) Anchor() (restore func()) {
	snap := p.snapshot()
	return func() { p.restore(snap) }
}
