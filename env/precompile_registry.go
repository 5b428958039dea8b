// Package env implements the Environment singleton (spec component G):
// the chain wrapper every Contract/ABIContract call goes through, plus
// its supporting VMPatch block-context facade and custom precompile
// registry.
package env

import (
	"sort"
	"sync"

	"github.com/vyperlang/boa/types"
)

// PrecompileFunc is a custom precompile's implementation: given the call
// input, it returns output bytes or an error that becomes a reverted call.
type PrecompileFunc func(input []byte) ([]byte, error)

// PrecompileInfo describes one registered custom precompile.
type PrecompileInfo struct {
	Address types.Address
	Name    string
	Fn      PrecompileFunc
}

// PrecompileRegistry is a thread-safe registry of harness-injected
// precompiles — contracts like console.log that exist only inside the
// test harness, not on any real chain. The real Ethereum precompiles
// (0x01-0x0a) need no entry here since go-ethereum's EVM already
// implements them; this registry is consulted only as a fallback when the
// EVM's own precompile set doesn't claim an address.
type PrecompileRegistry struct {
	mu          sync.RWMutex
	precompiles map[types.Address]*PrecompileInfo
}

// NewPrecompileRegistry returns an empty registry. env.New registers the
// console.log precompile (see console.go) into the registry it creates.
func NewPrecompileRegistry() *PrecompileRegistry {
	return &PrecompileRegistry{precompiles: make(map[types.Address]*PrecompileInfo)}
}

// Register adds a precompile. Re-registering the same address overwrites
// the previous entry — unlike a real chain's fixed precompile set, the
// harness's custom registry is meant to be reconfigured across tests.
func (r *PrecompileRegistry) Register(info PrecompileInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := info
	r.precompiles[stored.Address] = &stored
}

// Unregister removes any precompile at addr.
func (r *PrecompileRegistry) Unregister(addr types.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.precompiles, addr)
}

// Lookup returns the precompile at addr, if any.
func (r *PrecompileRegistry) Lookup(addr types.Address) (*PrecompileInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.precompiles[addr]
	if !ok {
		return nil, false
	}
	cp := *info
	return &cp, true
}

// IsPrecompile reports whether addr has a registered custom precompile.
func (r *PrecompileRegistry) IsPrecompile(addr types.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.precompiles[addr]
	return ok
}

// All returns every registered precompile, sorted by address.
func (r *PrecompileRegistry) All() []PrecompileInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]PrecompileInfo, 0, len(r.precompiles))
	for _, info := range r.precompiles {
		result = append(result, *info)
	}
	sort.Slice(result, func(i, j int) bool {
		return addressLess(result[i].Address, result[j].Address)
	})
	return result
}

// Count returns the number of registered precompiles.
func (r *PrecompileRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.precompiles)
}

func addressLess(a, b types.Address) bool {
	for i := range a {
		if a[i] < b[i] {
			return true
		}
		if a[i] > b[i] {
			return false
		}
	}
	return false
}
