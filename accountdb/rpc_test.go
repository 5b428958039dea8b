package accountdb

import (
	"context"
	"math/big"
	"testing"

	"github.com/vyperlang/boa/types"
)

func TestCachingRPCClientSharesCacheAcrossForksOfSameClient(t *testing.T) {
	rpc := newFakeRPC()
	addr := types.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	rpc.balances[addr] = big.NewInt(900)

	// Two independent Forks over the *same* underlying client, pinned to
	// the same block, simulate two forked Envs talking to one upstream
	// node — the scenario spec §5's "process-wide RPC cache" describes.
	dbA := NewFork(rpc, "0x64")
	dbB := NewFork(rpc, "0x64")

	if _, err := dbA.GetAccount(context.Background(), addr); err != nil {
		t.Fatal(err)
	}
	callsAfterA := rpc.calls

	if _, err := dbB.GetAccount(context.Background(), addr); err != nil {
		t.Fatal(err)
	}
	if rpc.calls != callsAfterA {
		t.Errorf("expected dbB to reuse dbA's cached RPC answers, got %d more calls", rpc.calls-callsAfterA)
	}
}

func TestCachingRPCClientIsolatedAcrossDistinctClients(t *testing.T) {
	rpcA := newFakeRPC()
	rpcB := newFakeRPC()
	addr := types.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	rpcA.balances[addr] = big.NewInt(1)
	rpcB.balances[addr] = big.NewInt(2)

	dbA := NewFork(rpcA, "0x64")
	dbB := NewFork(rpcB, "0x64")

	accA, err := dbA.GetAccount(context.Background(), addr)
	if err != nil {
		t.Fatal(err)
	}
	accB, err := dbB.GetAccount(context.Background(), addr)
	if err != nil {
		t.Fatal(err)
	}
	if accA.Balance.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("dbA: got balance %v, want 1", accA.Balance)
	}
	if accB.Balance.Cmp(big.NewInt(2)) != 0 {
		t.Errorf("dbB: got balance %v (leaked from a different client's cache?), want 2", accB.Balance)
	}
	if rpcA.calls == 0 || rpcB.calls == 0 {
		t.Error("expected both distinct clients to be hit at least once")
	}
}

func TestCachingRPCClientCachesStorageAndCode(t *testing.T) {
	rpc := newFakeRPC()
	addr := types.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	slot := types.HexToHash("0x09")
	rpc.storage[slotKey{addr, slot}] = types.HexToHash("0x2a")
	rpc.codes[addr] = []byte{0x60, 0x00}

	wrapped := WrapCachingRPCClient(rpc)

	v1, err := wrapped.GetStorageAt(context.Background(), addr, slot, "0x64")
	if err != nil {
		t.Fatal(err)
	}
	callsAfterFirst := rpc.calls
	v2, err := wrapped.GetStorageAt(context.Background(), addr, slot, "0x64")
	if err != nil {
		t.Fatal(err)
	}
	if v1 != v2 {
		t.Errorf("cached storage mismatch: %v vs %v", v1, v2)
	}
	if rpc.calls != callsAfterFirst {
		t.Error("expected second GetStorageAt to be served from cache")
	}

	code1, err := wrapped.GetCode(context.Background(), addr, "0x64")
	if err != nil {
		t.Fatal(err)
	}
	callsAfterCode := rpc.calls
	code2, err := wrapped.GetCode(context.Background(), addr, "0x64")
	if err != nil {
		t.Fatal(err)
	}
	if string(code1) != string(code2) {
		t.Errorf("cached code mismatch: %x vs %x", code1, code2)
	}
	if rpc.calls != callsAfterCode {
		t.Error("expected second GetCode to be served from cache")
	}
}

func TestWrapCachingRPCClientIsIdempotent(t *testing.T) {
	rpc := newFakeRPC()
	once := WrapCachingRPCClient(rpc)
	twice := WrapCachingRPCClient(once)
	if once != twice {
		t.Error("expected wrapping an already-wrapped client to be a no-op")
	}
}
