package computation

import (
	"math/big"
	"testing"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/vyperlang/boa/types"
)

func TestBuilderAssemblesNestedChildren(t *testing.T) {
	root := Message{
		Sender: types.HexToAddress("0x0000000000000000000000000000000000000001"),
		To:     types.HexToAddress("0x0000000000000000000000000000000000000002"),
		Value:  big.NewInt(0),
	}
	b := NewBuilder(root, false)
	hooks := b.Hooks()

	hooks.OnEnter(0, byte(0xf1), gethcommon.Address(root.Sender), gethcommon.Address(root.To), nil, 100000, big.NewInt(0))
	hooks.OnOpcode(0, 0x60, 0, 0, nil, nil, 0, nil)

	childTo := types.HexToAddress("0x0000000000000000000000000000000000000003")
	hooks.OnEnter(1, byte(0xf1), gethcommon.Address(root.To), gethcommon.Address(childTo), []byte{1, 2}, 50000, big.NewInt(0))
	hooks.OnExit(1, []byte{0xAA}, 1000, nil, false)

	hooks.OnExit(0, []byte{0xBB}, 5000, nil, false)

	rootComp := b.Root()
	if len(rootComp.Children) != 1 {
		t.Fatalf("got %d children, want 1", len(rootComp.Children))
	}
	if rootComp.Children[0].Msg.To != childTo {
		t.Errorf("child To = %v, want %v", rootComp.Children[0].Msg.To, childTo)
	}
	if len(rootComp.ChildPCs) != 1 || rootComp.ChildPCs[0] != 0 {
		t.Errorf("ChildPCs = %v", rootComp.ChildPCs)
	}
	if rootComp.IsError() {
		t.Error("root should not be in error")
	}
}

func TestBuilderRecordsErrorAndRepr(t *testing.T) {
	root := Message{To: types.HexToAddress("0x0000000000000000000000000000000000000002")}
	b := NewBuilder(root, false)
	hooks := b.Hooks()

	hooks.OnEnter(0, byte(0xf1), gethcommon.Address{}, gethcommon.Address(root.To), nil, 1000, big.NewInt(0))
	hooks.OnExit(0, nil, 1000, errRevert{}, true)

	rootComp := b.Root()
	if !rootComp.IsError() {
		t.Error("expected error recorded")
	}
	if rootComp.ContractReprBeforeRevert == "" {
		t.Error("expected a contract repr captured before revert")
	}
}

type errRevert struct{}

func (errRevert) Error() string { return "execution reverted" }

func TestBuilderRecordsLogsInOrderWithIDs(t *testing.T) {
	root := Message{To: types.HexToAddress("0x0000000000000000000000000000000000000002")}
	b := NewBuilder(root, false)
	hooks := b.Hooks()

	hooks.OnEnter(0, byte(0xf1), gethcommon.Address{}, gethcommon.Address(root.To), nil, 1000, big.NewInt(0))
	hooks.OnLog(&gethtypes.Log{Address: gethcommon.Address(root.To), Topics: []gethcommon.Hash{{1}}, Data: []byte{9}})
	hooks.OnLog(&gethtypes.Log{Address: gethcommon.Address(root.To), Data: []byte{8}})
	hooks.OnExit(0, nil, 1000, nil, false)

	logs := b.Root().Logs
	if len(logs) != 2 {
		t.Fatalf("got %d logs, want 2", len(logs))
	}
	if logs[0].ID != 0 || logs[1].ID != 1 {
		t.Errorf("expected increasing log IDs, got %d, %d", logs[0].ID, logs[1].ID)
	}
}

func TestProfilingGasMeterAttributesToCurrentFrame(t *testing.T) {
	root := Message{To: types.HexToAddress("0x0000000000000000000000000000000000000002")}
	b := NewBuilder(root, true)
	hooks := b.Hooks()

	hooks.OnEnter(0, byte(0xf1), gethcommon.Address{}, gethcommon.Address(root.To), nil, 1000, big.NewInt(0))
	hooks.OnOpcode(7, 0x01, 0, 0, nil, nil, 0, nil)
	hooks.OnGasChange(1000, 900, tracing.GasChangeCallOpCode)
	hooks.OnExit(0, nil, 1000, nil, false)

	if got := b.Root().Gasmeter.GasUsedOf(7); got != 100 {
		t.Errorf("got %d, want 100", got)
	}
}
