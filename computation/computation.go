package computation

import (
	"math/big"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/vyperlang/boa/fastmem"
	"github.com/vyperlang/boa/gasmeter"
	"github.com/vyperlang/boa/tracerhooks"
	"github.com/vyperlang/boa/types"
)

// Message is the call/create request that produced a Computation: sender,
// target, value, calldata, and the code actually executed (which may
// differ from the target's stored code for eval/inject scenarios).
type Message struct {
	Sender   types.Address
	To       types.Address
	Value    *big.Int
	Data     []byte
	Code     []byte
	IsStatic bool
	Gas      uint64
	IsCreate bool
}

// Computation is the reconstructed EVM execution record (spec §3): one
// per call/create frame, built from go-ethereum's live-tracing hooks
// rather than owned by the interpreter itself.
type Computation struct {
	Msg          Message
	PCTrace      *tracerhooks.PCTrace
	Logs         []types.Log
	Children     []*Computation
	ChildPCs     []uint64 // PC at each sub-call site, parallel to Children
	Output       []byte
	Err          error
	GasUsed      uint64
	GasRefunded  uint64

	// Memory is the word-cached view (fastmem, component D) of this
	// frame's EVM memory at the moment it stopped executing — populated
	// on error exit only (see Builder.onExit), since that's the one case
	// a caller needs to read memory after the fact: decoding a failing
	// frame's local variables (spec §4.J). Successful frames leave this
	// nil; nothing downstream needs post-hoc memory for a call that
	// returned normally.
	Memory *fastmem.Memory

	// Extension slots from spec §3.
	Contract                 any // back-reference to the owning *contract.Contract, set by that package
	FakeCodesize             int
	StartPC                  uint64
	ContractReprBeforeRevert string

	Gasmeter *gasmeter.Profiling // non-nil only when profiling is enabled

	parent *Computation

	// lastMemory holds a live reference to the EVM's own memory buffer for
	// the opcode just about to execute, refreshed on every OnOpcode call.
	// It is NOT safe to retain past the hook that set it — go-ethereum
	// reuses the underlying buffer across opcodes — which is exactly why
	// onExit copies it into Memory (via fastmem.FromBytes) before this
	// frame's hooks stop firing, rather than exposing it directly.
	lastMemory []byte

	// callType is the vm.OpCode (CALL/CREATE/CREATE2/...) this frame was
	// entered with, recorded so onExit can tell a CREATE-type frame apart
	// from an ordinary call without a second parameter threaded through.
	callType byte
}

// IsError reports whether the call reverted or otherwise failed.
func (c *Computation) IsError() bool { return c.Err != nil }

// Builder assembles a Computation tree from a single top-level call by
// implementing go-ethereum's OnEnter/OnExit/OnLog/OnGasChange hooks. One
// Builder is used per Env.execute_code/deploy_code invocation.
type Builder struct {
	root    *Computation
	current *Computation
	stack   []*Computation

	nextLogID uint64
	profiling bool

	// PrecompileHook, if set, fires on every nested call (any call type,
	// any depth > 0) with the target address and input, before the call's
	// real (empty-code) outcome is known to the caller. env uses this to
	// run a custom precompile's side effects — e.g. console.log's emitted
	// line — when contract bytecode itself issues the call, since
	// go-ethereum's tracing hooks are observational and can't substitute
	// real return data for an in-flight call (see the engine decision in
	// DESIGN.md). A call made directly at a precompile address from Go
	// (env.ExecuteCode) is short-circuited before the EVM runs at all and
	// gets a real synthesized result instead of this side-effect-only path.
	PrecompileHook func(addr types.Address, input []byte)

	// CreateHook, if set, fires after a nested CREATE/CREATE2 frame exits
	// successfully, with the newly created address and its deployed
	// runtime bytecode — the observational equivalent of py-evm's
	// apply_create_message post-hook: it runs strictly after the CREATE
	// has already completed rather than intercepting it, letting env
	// auto-wrap a Contract at addr when the code (or, for an EIP-1167
	// minimal proxy, its delegation target's code) matches a previously
	// registered contract's runtime bytecode.
	CreateHook func(addr types.Address, runtimeCode []byte)
}

// NewBuilder starts a Builder whose root frame is msg, optionally with
// per-pc gas profiling enabled.
func NewBuilder(msg Message, profiling bool) *Builder {
	root := &Computation{
		Msg:     msg,
		PCTrace: tracerhooks.NewPCTrace(0, 0),
	}
	if profiling {
		root.Gasmeter = gasmeter.NewProfiling()
	}
	return &Builder{root: root, current: root, profiling: profiling}
}

// Root returns the top-level Computation once tracing has completed.
func (b *Builder) Root() *Computation { return b.root }

// Hooks returns the tracing.Hooks this Builder installs on the EVM
// config: OnEnter/OnExit push/pop call frames, OnLog appends to the
// current frame, and OnGasChange feeds the current frame's profiling
// meter (if any).
func (b *Builder) Hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnEnter:     b.onEnter,
		OnExit:      b.onExit,
		OnLog:       b.onLog,
		OnGasChange: b.onGasChange,
		OnOpcode:    b.OnOpcode,
	}
}

func (b *Builder) onEnter(depth int, typ byte, from, to gethcommon.Address, input []byte, gas uint64, value *big.Int) {
	if depth == 0 {
		// The root frame already exists (constructed in NewBuilder), so
		// there is nothing to push.
		return
	}
	child := &Computation{
		Msg: Message{
			Sender:   types.Address(from),
			To:       types.Address(to),
			Value:    new(big.Int).Set(valueOrZero(value)),
			Data:     append([]byte(nil), input...),
			Gas:      gas,
			IsStatic: b.current.Msg.IsStatic,
		},
		PCTrace:  tracerhooks.NewPCTrace(0, 0),
		parent:   b.current,
		callType: typ,
	}
	if b.profiling {
		child.Gasmeter = gasmeter.NewProfiling()
	}
	if b.PrecompileHook != nil {
		b.PrecompileHook(child.Msg.To, child.Msg.Data)
	}
	// Record the call site: the most recent PC the parent frame visited
	// before this sub-call was dispatched.
	if pcs := b.current.PCTrace.PCs(); len(pcs) > 0 {
		b.current.ChildPCs = append(b.current.ChildPCs, pcs[len(pcs)-1])
	} else {
		b.current.ChildPCs = append(b.current.ChildPCs, 0)
	}
	b.current.Children = append(b.current.Children, child)
	b.stack = append(b.stack, b.current)
	b.current = child
}

func (b *Builder) onExit(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
	b.current.Output = append([]byte(nil), output...)
	b.current.GasUsed = gasUsed
	if err != nil {
		b.current.Err = err
		b.current.ContractReprBeforeRevert = reprContract(b.current)
		if b.current.lastMemory != nil {
			b.current.Memory = fastmem.FromBytes(b.current.lastMemory)
		}
	} else if depth > 0 && isCreateType(b.current.callType) && b.CreateHook != nil {
		b.CreateHook(b.current.Msg.To, b.current.Output)
	}
	b.current.lastMemory = nil
	if depth == 0 {
		return
	}
	if len(b.stack) == 0 {
		return
	}
	b.current = b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
}

// HandleLog is the entry point a custom vm.StateDB.AddLog implementation
// calls directly, since this harness's StateDB doesn't go through
// go-ethereum's own state object (which would invoke tracing.Hooks.OnLog
// itself) — see env's stateDB adapter.
func (b *Builder) HandleLog(l *gethtypes.Log) { b.onLog(l) }

func (b *Builder) onLog(l *gethtypes.Log) {
	if l == nil {
		return
	}
	topics := make([]types.Hash, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = types.Hash(t)
	}
	entry := types.Log{
		ID:      b.nextLogID,
		Address: types.Address(l.Address),
		Topics:  topics,
		Data:    append([]byte(nil), l.Data...),
	}
	b.nextLogID++
	b.current.Logs = append(b.current.Logs, entry)
}

func (b *Builder) onGasChange(old, new_ uint64, reason tracing.GasChangeReason) {
	frame := b.current
	hook := frame.Gasmeter
	if hook == nil {
		if old > new_ {
			frame.GasUsed += old - new_
		} else {
			frame.GasRefunded += new_ - old
		}
		return
	}
	pcProvider := func() uint64 {
		pcs := frame.PCTrace.PCs()
		if len(pcs) == 0 {
			return 0
		}
		return pcs[len(pcs)-1]
	}
	hook.OnGasChange(pcProvider)(old, new_, reason)
	if old > new_ {
		frame.GasUsed += old - new_
	} else {
		frame.GasRefunded += new_ - old
	}
}

// OnOpcode records the current PC into the active frame's trace. The caller
// assembling the final tracing.Hooks composes it with the PC, SHA3 and
// SSTORE tracers' OnOpcode callbacks (see env's EVM construction).
func (b *Builder) OnOpcode(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
	b.current.PCTrace.Record(pc)
	if scope != nil {
		b.current.lastMemory = scope.MemoryData()
	}
}

// isCreateType reports whether typ (an OnEnter call-type byte) is CREATE
// or CREATE2 — the two call types that deploy new code and so are
// eligible for the CreateHook auto-registration check.
func isCreateType(typ byte) bool {
	return typ == byte(vm.CREATE) || typ == byte(vm.CREATE2)
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// reprContract renders a short, best-effort description of the
// contract/address a frame was executing against, captured before a
// revert unwinds further state — spec's `_contract_repr_before_revert`.
func reprContract(c *Computation) string {
	if c.Msg.To.IsZero() {
		return "<create>"
	}
	return c.Msg.To.Hex()
}
