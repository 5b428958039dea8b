package accountdb

import (
	"context"
	"math/big"
	"testing"

	"github.com/vyperlang/boa/types"
)

type fakeRPC struct {
	balances map[types.Address]*big.Int
	nonces   map[types.Address]uint64
	codes    map[types.Address][]byte
	storage  map[slotKey]types.Hash
	calls    int

	prestateErr error
	prestate    []PrestateAccount
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		balances: make(map[types.Address]*big.Int),
		nonces:   make(map[types.Address]uint64),
		codes:    make(map[types.Address][]byte),
		storage:  make(map[slotKey]types.Hash),
	}
}

func (f *fakeRPC) GetBalance(ctx context.Context, addr types.Address, block string) (*big.Int, error) {
	f.calls++
	if b, ok := f.balances[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (f *fakeRPC) GetTransactionCount(ctx context.Context, addr types.Address, block string) (uint64, error) {
	f.calls++
	return f.nonces[addr], nil
}

func (f *fakeRPC) GetCode(ctx context.Context, addr types.Address, block string) ([]byte, error) {
	f.calls++
	return f.codes[addr], nil
}

func (f *fakeRPC) GetStorageAt(ctx context.Context, addr types.Address, slot types.Hash, block string) (types.Hash, error) {
	f.calls++
	return f.storage[slotKey{addr, slot}], nil
}

func (f *fakeRPC) BlockNumber(ctx context.Context) (uint64, error) { return 100, nil }

func (f *fakeRPC) TracePrestate(ctx context.Context, from, to types.Address, data []byte, value *big.Int, block string) ([]PrestateAccount, error) {
	if f.prestateErr != nil {
		return nil, f.prestateErr
	}
	return f.prestate, nil
}

func TestGetAccountFetchesOnceAndCaches(t *testing.T) {
	rpc := newFakeRPC()
	addr := types.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	rpc.balances[addr] = big.NewInt(500)
	rpc.nonces[addr] = 3

	db := NewFork(rpc, "0x64")
	acc, err := db.GetAccount(context.Background(), addr)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acc.Balance.Cmp(big.NewInt(500)) != 0 || acc.Nonce != 3 {
		t.Errorf("got %+v", acc)
	}
	callsAfterFirst := rpc.calls
	if _, err := db.GetAccount(context.Background(), addr); err != nil {
		t.Fatal(err)
	}
	if rpc.calls != callsAfterFirst {
		t.Errorf("expected no additional RPC calls on cached read, got %d more", rpc.calls-callsAfterFirst)
	}
}

func TestGetStorageMarksDontfetchAndReturnsZeroWithoutRefetch(t *testing.T) {
	rpc := newFakeRPC()
	addr := types.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	slot := types.HexToHash("0x01")

	db := NewFork(rpc, "0x64")
	val, err := db.GetStorage(context.Background(), addr, slot)
	if err != nil {
		t.Fatalf("GetStorage: %v", err)
	}
	if !val.IsZero() {
		t.Errorf("expected zero, got %v", val)
	}
	callsAfterFirst := rpc.calls
	if _, err := db.GetStorage(context.Background(), addr, slot); err != nil {
		t.Fatal(err)
	}
	if rpc.calls != callsAfterFirst {
		t.Error("expected dontfetch to prevent a second RPC call")
	}
}

func TestSetStorageMarksDontfetchWithoutRPC(t *testing.T) {
	rpc := newFakeRPC()
	addr := types.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	slot := types.HexToHash("0x02")
	want := types.HexToHash("0x2a")

	db := NewFork(rpc, "0x64")
	db.SetStorage(addr, slot, want)

	calls := rpc.calls
	got, err := db.GetStorage(context.Background(), addr, slot)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if rpc.calls != calls {
		t.Error("write-then-read should not hit RPC")
	}
}

func TestSnapshotRevertUndoesWrites(t *testing.T) {
	rpc := newFakeRPC()
	addr := types.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	slot := types.HexToHash("0x03")

	db := NewFork(rpc, "0x64")
	snap := db.Snapshot()
	db.SetStorage(addr, slot, types.HexToHash("0x2a"))
	db.SetBalance(addr, big.NewInt(777))

	db.RevertToSnapshot(snap)

	got, err := db.GetStorage(context.Background(), addr, slot)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsZero() {
		t.Errorf("expected reverted slot to read zero via RPC fallback, got %v", got)
	}
}

func TestPrefetchPrestateSeedsUnmaterializedAccounts(t *testing.T) {
	rpc := newFakeRPC()
	addr := types.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	slot := types.HexToHash("0x04")
	rpc.prestate = []PrestateAccount{
		{
			Address: addr,
			Balance: big.NewInt(42),
			Storage: []StorageEntry{{Slot: slot, Value: types.HexToHash("0x07")}},
		},
	}

	db := NewFork(rpc, "0x64")
	db.PrefetchPrestate(context.Background(), types.Address{}, addr, nil, nil)

	acc, err := db.GetAccount(context.Background(), addr)
	if err != nil {
		t.Fatal(err)
	}
	if acc.Balance.Cmp(big.NewInt(42)) != 0 {
		t.Errorf("got balance %v, want 42", acc.Balance)
	}
	val, err := db.GetStorage(context.Background(), addr, slot)
	if err != nil {
		t.Fatal(err)
	}
	if val != types.HexToHash("0x07") {
		t.Errorf("got %v", val)
	}
}

func TestPrefetchPrestateDiscardsOnError(t *testing.T) {
	rpc := newFakeRPC()
	rpc.prestateErr = ErrPrestateUnsupported
	addr := types.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")

	db := NewFork(rpc, "0x64")
	db.PrefetchPrestate(context.Background(), types.Address{}, addr, nil, nil)

	if _, ok := db.accounts[addr]; ok {
		t.Error("expected no account materialized after failed prefetch")
	}
}
