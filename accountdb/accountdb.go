// Package accountdb implements the Account DB (Fork) component (spec E):
// a locally-journaled account store backed by an upstream JSON-RPC node,
// with "dontfetch" tracking so a slot or account that's already been
// materialized (by a read or a write) is never refetched even if its
// locally-journaled value is zero.
package accountdb

import (
	"context"
	"fmt"
	"math/big"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/vyperlang/boa/crypto"
	"github.com/vyperlang/boa/types"
)

// Account mirrors the fields a forked chain actually needs locally;
// storage lives in a separate map keyed by (address, slot) rather than
// nested per-account, matching the RPC surface (eth_getStorageAt is
// per-slot, not per-account).
type Account struct {
	Balance  *big.Int
	Nonce    uint64
	Code     []byte
	CodeHash types.Hash
}

func emptyAccount() *Account {
	return &Account{Balance: new(big.Int)}
}

type slotKey struct {
	addr types.Address
	slot types.Hash
}

// journalEntry is an undo action pushed before a mutation, popped and run
// on RevertToSnapshot.
type journalEntry func(db *Fork)

// Fork is the Account DB (Fork) from spec component E.
type Fork struct {
	client RPCClient
	// local is true for a Fork built over a nil client — a plain local
	// chain with no upstream to round-trip to. Every not-yet-materialized
	// account/slot is then just empty rather than fetched.
	local bool
	block string // hex block number, pinned at fork time

	accounts map[types.Address]*Account
	storage  map[slotKey]types.Hash

	// dontfetch tracks which accounts/slots are locally authoritative —
	// set on both reads that materialize a value and writes — so a zero
	// value already known to be zero is never refetched as if unknown.
	dontfetchAccounts mapset.Set[types.Address]
	dontfetchSlots    mapset.Set[slotKey]

	journal        []journalEntry
	validRevisions []int
}

// ErrPrestateUnsupported is returned by an RPCClient that cannot run
// debug_traceCall with the prestateTracer.
var ErrPrestateUnsupported = fmt.Errorf("accountdb: prestate tracing unsupported by this client")

// NewFork creates an AccountDB pinned to block (a hex block number or tag
// resolved by the caller before construction — see ResolveAndPin). client
// is wrapped with the RPC cache (spec §5) kept for that client, which every
// Fork built over the same client shares, so repeat reads of the same
// (method, params) at the same block never round-trip twice.
func NewFork(client RPCClient, block string) *Fork {
	return &Fork{
		client:            WrapCachingRPCClient(client),
		local:             client == nil,
		block:             block,
		accounts:          make(map[types.Address]*Account),
		storage:           make(map[slotKey]types.Hash),
		dontfetchAccounts: mapset.NewSet[types.Address](),
		dontfetchSlots:    mapset.NewSet[slotKey](),
	}
}

// ResolveAndPin fetches the current block number from client and returns a
// Fork pinned to it, as a decimal-free hex string. This is the usual
// construction path; NewFork is exposed directly for tests that want to
// pin an arbitrary block.
func ResolveAndPin(ctx context.Context, client RPCClient) (*Fork, error) {
	n, err := client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("accountdb: resolving fork block: %w", err)
	}
	return NewFork(client, fmt.Sprintf("0x%x", n)), nil
}

// Block returns the pinned block identifier.
func (f *Fork) Block() string { return f.block }

// GetAccount returns the account at addr, fetching and caching it via
// eth_getBalance/eth_getTransactionCount/eth_getCode if not already
// locally journaled.
func (f *Fork) GetAccount(ctx context.Context, addr types.Address) (*Account, error) {
	if acc, ok := f.accounts[addr]; ok {
		return acc, nil
	}
	if f.local {
		return f.mutableAccount(addr), nil
	}
	balance, err := f.client.GetBalance(ctx, addr, f.block)
	if err != nil {
		return nil, fmt.Errorf("accountdb: eth_getBalance(%s): %w", addr.Hex(), err)
	}
	nonce, err := f.client.GetTransactionCount(ctx, addr, f.block)
	if err != nil {
		return nil, fmt.Errorf("accountdb: eth_getTransactionCount(%s): %w", addr.Hex(), err)
	}
	code, err := f.client.GetCode(ctx, addr, f.block)
	if err != nil {
		return nil, fmt.Errorf("accountdb: eth_getCode(%s): %w", addr.Hex(), err)
	}
	acc := &Account{Balance: balance, Nonce: nonce, Code: code, CodeHash: hashCode(code)}
	f.accounts[addr] = acc
	f.dontfetchAccounts.Add(addr)
	return acc, nil
}

// GetCode returns addr's code, preferring the locally-journaled copy if
// its hash is already known, otherwise fetching via eth_getCode.
func (f *Fork) GetCode(ctx context.Context, addr types.Address) ([]byte, error) {
	if acc, ok := f.accounts[addr]; ok && acc.Code != nil {
		return acc.Code, nil
	}
	if f.local {
		return f.mutableAccount(addr).Code, nil
	}
	code, err := f.client.GetCode(ctx, addr, f.block)
	if err != nil {
		return nil, fmt.Errorf("accountdb: eth_getCode(%s): %w", addr.Hex(), err)
	}
	acc := f.mutableAccount(addr)
	acc.Code = code
	acc.CodeHash = hashCode(code)
	return code, nil
}

// GetStorage returns the value at (addr, slot), fetching via
// eth_getStorageAt on first access and marking the slot dontfetch so a
// later read (even of an explicit zero) never refetches it.
func (f *Fork) GetStorage(ctx context.Context, addr types.Address, slot types.Hash) (types.Hash, error) {
	key := slotKey{addr, slot}
	if f.dontfetchSlots.Contains(key) {
		return f.storage[key], nil
	}
	if f.local {
		f.dontfetchSlots.Add(key)
		return types.Hash{}, nil
	}
	val, err := f.client.GetStorageAt(ctx, addr, slot, f.block)
	if err != nil {
		return types.Hash{}, fmt.Errorf("accountdb: eth_getStorageAt(%s,%s): %w", addr.Hex(), slot.Hex(), err)
	}
	f.journal = append(f.journal, func(db *Fork) {
		delete(db.storage, key)
		db.dontfetchSlots.Remove(key)
	})
	f.storage[key] = val
	f.dontfetchSlots.Add(key)
	return val, nil
}

// SetStorage writes value at (addr, slot) and marks the slot dontfetch,
// per the "write paths mirror normal semantics" rule.
func (f *Fork) SetStorage(addr types.Address, slot types.Hash, value types.Hash) {
	key := slotKey{addr, slot}
	old, existed := f.storage[key]
	wasMarked := f.dontfetchSlots.Contains(key)
	f.journal = append(f.journal, func(db *Fork) {
		if existed {
			db.storage[key] = old
		} else {
			delete(db.storage, key)
		}
		if !wasMarked {
			db.dontfetchSlots.Remove(key)
		}
	})
	f.storage[key] = value
	f.dontfetchSlots.Add(key)
}

// SetBalance writes addr's balance and marks the account dontfetch.
func (f *Fork) SetBalance(addr types.Address, balance *big.Int) {
	acc := f.mutableAccount(addr)
	old := new(big.Int).Set(acc.Balance)
	f.journal = append(f.journal, func(db *Fork) {
		db.accounts[addr].Balance = old
	})
	acc.Balance = new(big.Int).Set(balance)
}

// SetNonce writes addr's nonce and marks the account dontfetch.
func (f *Fork) SetNonce(addr types.Address, nonce uint64) {
	acc := f.mutableAccount(addr)
	old := acc.Nonce
	f.journal = append(f.journal, func(db *Fork) {
		db.accounts[addr].Nonce = old
	})
	acc.Nonce = nonce
}

// SetCode writes addr's code and marks the account dontfetch.
func (f *Fork) SetCode(addr types.Address, code []byte) {
	acc := f.mutableAccount(addr)
	oldCode, oldHash := acc.Code, acc.CodeHash
	f.journal = append(f.journal, func(db *Fork) {
		db.accounts[addr].Code = oldCode
		db.accounts[addr].CodeHash = oldHash
	})
	acc.Code = code
	acc.CodeHash = hashCode(code)
}

// mutableAccount returns addr's account, materializing an empty one
// locally (without an RPC round trip) if none exists yet, and marks it
// dontfetch since the caller is about to write to it.
func (f *Fork) mutableAccount(addr types.Address) *Account {
	acc, ok := f.accounts[addr]
	if !ok {
		acc = emptyAccount()
		f.accounts[addr] = acc
	}
	f.dontfetchAccounts.Add(addr)
	return acc
}

// Snapshot returns a revision id that RevertToSnapshot can roll back to.
func (f *Fork) Snapshot() int {
	id := len(f.validRevisions)
	f.validRevisions = append(f.validRevisions, len(f.journal))
	return id
}

// RevertToSnapshot undoes every journal entry recorded since id's
// Snapshot call, in reverse order.
func (f *Fork) RevertToSnapshot(id int) {
	if id < 0 || id >= len(f.validRevisions) {
		return
	}
	target := f.validRevisions[id]
	for i := len(f.journal) - 1; i >= target; i-- {
		f.journal[i](f)
	}
	f.journal = f.journal[:target]
	f.validRevisions = f.validRevisions[:id]
}

// PrefetchPrestate runs debug_traceCall with the prestateTracer for the
// given call and, for every account it touched that isn't already
// locally materialized, seeds balance/nonce/code and any storage slots
// not already dontfetch, in one journaled batch that's discarded wholesale
// on any protocol error — prefetching never surfaces an error to the
// caller, per spec.
func (f *Fork) PrefetchPrestate(ctx context.Context, from, to types.Address, data []byte, value *big.Int) {
	snap := f.Snapshot()
	accounts, err := f.client.TracePrestate(ctx, from, to, data, value, f.block)
	if err != nil {
		f.RevertToSnapshot(snap)
		return
	}
	for _, pa := range accounts {
		if _, known := f.accounts[pa.Address]; !known {
			acc := emptyAccount()
			if pa.Balance != nil {
				acc.Balance = new(big.Int).Set(pa.Balance)
			}
			if pa.Nonce != nil {
				acc.Nonce = *pa.Nonce
			}
			if pa.Code != nil {
				acc.Code = pa.Code
				acc.CodeHash = hashCode(pa.Code)
			}
			f.accounts[pa.Address] = acc
			f.dontfetchAccounts.Add(pa.Address)
		}
		for _, se := range pa.Storage {
			key := slotKey{pa.Address, se.Slot}
			if !f.dontfetchSlots.Contains(key) {
				f.storage[key] = se.Value
				f.dontfetchSlots.Add(key)
			}
		}
	}
	// Prefetched data becomes part of the base state: the writes above go
	// straight into the maps without journal entries, and only the
	// snapshot taken for this batch is dropped, since PrefetchPrestate
	// itself isn't something callers snapshot/revert around.
	f.validRevisions = f.validRevisions[:snap]
}

func hashCode(code []byte) types.Hash {
	if len(code) == 0 {
		return types.Hash{}
	}
	return crypto.Keccak256Hash(code)
}
