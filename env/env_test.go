package env

import (
	"context"
	"testing"

	"github.com/vyperlang/boa/abi"
	"github.com/vyperlang/boa/crypto"
	"github.com/vyperlang/boa/trace"
	"github.com/vyperlang/boa/types"
)

// wrapInitcode wraps runtime as deployable initcode: CODECOPY runtime out
// of the code stream into memory, then RETURN it, the usual hand-assembled
// constructor shape for a contract with no constructor logic of its own.
// runtime must fit in a single PUSH1 length operand.
func wrapInitcode(runtime []byte) []byte {
	if len(runtime) > 255 {
		panic("wrapInitcode: runtime too long for a PUSH1 length encoding")
	}
	n := byte(len(runtime))
	const codeOffset = 12
	init := []byte{
		0x60, n,          // PUSH1 len
		0x60, codeOffset, // PUSH1 codeOffset
		0x60, 0x00, // PUSH1 destOffset
		0x39,       // CODECOPY
		0x60, n,    // PUSH1 len
		0x60, 0x00, // PUSH1 offset
		0xf3, // RETURN
	}
	return append(init, runtime...)
}

// return42Runtime always returns uint256(42), ignoring calldata entirely.
var return42Runtime = []byte{
	0x60, 0x2a, // PUSH1 42
	0x60, 0x00, // PUSH1 0
	0x52,       // MSTORE
	0x60, 0x20, // PUSH1 32
	0x60, 0x00, // PUSH1 0
	0xf3, // RETURN
}

// revertNopeRuntime reverts with an ABI-encoded Error(string) "nope" — the
// standard compiler-emitted "revert with reason" wrapper (trace.DecodeRevertReason
// decodes the same shape in trace_test.go).
func revertNopeRuntime(t *testing.T) []byte {
	t.Helper()
	strType, err := abi.ParseType("string")
	if err != nil {
		t.Fatal(err)
	}
	encoded, err := abi.Encode(strType, "nope")
	if err != nil {
		t.Fatal(err)
	}
	payload := append([]byte{0x08, 0xc3, 0x79, 0xa0}, encoded...)
	if len(payload) > 255 {
		t.Fatalf("payload too long for PUSH1 offsets: %d", len(payload))
	}
	n := byte(len(payload))
	const codeOffset = 12
	runtime := []byte{
		0x60, n,          // PUSH1 len
		0x60, codeOffset, // PUSH1 codeOffset
		0x60, 0x00, // PUSH1 destOffset
		0x39,       // CODECOPY
		0x60, n,    // PUSH1 len
		0x60, 0x00, // PUSH1 offset
		0xfd, // REVERT
	}
	return append(runtime, payload...)
}

func mustDeploy(t *testing.T, e *Env, initcode []byte) types.Address {
	t.Helper()
	addr, _, _, err := e.DeployCode(context.Background(), types.Address{}, nil, initcode, 0, nil)
	if err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	return addr
}

// TestDeployAndCallReturnsValue exercises scenario S1: deploying a small
// contract and calling it returns the value it computes.
func TestDeployAndCallReturnsValue(t *testing.T) {
	e := New()
	addr := mustDeploy(t, e, wrapInitcode(return42Runtime))

	comp, err := e.RawCall(context.Background(), Message{To: addr})
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	want := make([]byte, 32)
	want[31] = 42
	if string(comp.Output) != string(want) {
		t.Errorf("Output = %x, want %x", comp.Output, want)
	}
}

// TestCallRevertsWithDecodableReason exercises scenario S2: a reverting
// call's recorded error and output decode to the dev-supplied reason.
func TestCallRevertsWithDecodableReason(t *testing.T) {
	e := New()
	addr := mustDeploy(t, e, wrapInitcode(revertNopeRuntime(t)))

	comp, err := e.ExecuteCode(context.Background(), Message{To: addr})
	if err != nil {
		t.Fatalf("ExecuteCode itself errored: %v", err)
	}
	if !comp.IsError() {
		t.Fatal("expected the call to revert")
	}
	reason, ok := trace.DecodeRevertReason(comp.Output)
	if !ok || reason != "nope" {
		t.Errorf("got (%q, %v), want (\"nope\", true)", reason, ok)
	}
}

// TestGasProfilingAttributesChargesToPCs exercises scenario S6: enabling
// gas profiling on a call populates a real per-PC gas breakdown from an
// actual go-ethereum run, not a synthesized one.
func TestGasProfilingAttributesChargesToPCs(t *testing.T) {
	e := New()
	addr := mustDeploy(t, e, wrapInitcode(return42Runtime))

	comp, err := e.RawCall(context.Background(), Message{To: addr, Profiling: true})
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if comp.Gasmeter == nil {
		t.Fatal("expected a non-nil profiling gas meter on the root frame")
	}
	byPC := comp.Gasmeter.GasUsedByPC()
	if len(byPC) == 0 {
		t.Fatal("expected at least one PC with attributed gas usage")
	}
}

// consoleLogStringCalldata builds calldata for console.sol's log(string)
// overload, matching exactly what ConsoleLogPrecompile decodes via
// abi.DecodeArgs(sig.argTypes, input[4:]) for that selector.
func consoleLogStringCalldata(t *testing.T, s string) []byte {
	t.Helper()
	strType, err := abi.ParseType("string")
	if err != nil {
		t.Fatal(err)
	}
	encoded, err := abi.EncodeArgs([]abi.Type{strType}, []any{s})
	if err != nil {
		t.Fatal(err)
	}
	sel := crypto.Selector("log(string)")
	return append(append([]byte{}, sel[:]...), encoded...)
}

// staticcallRuntime builds a runtime that CODECOPYs calldata into memory and
// issues a STATICCALL to target with it, forwarding all remaining gas and
// ignoring the call's return data and success flag entirely, then STOPs —
// the shape a console.sol-compiled contract's own bytecode takes to emit a
// console.log line as a side effect of a normal call.
func staticcallRuntime(t *testing.T, target types.Address, calldata []byte) []byte {
	t.Helper()
	if len(calldata) > 255 {
		t.Fatalf("calldata too long for a PUSH1 length encoding: %d", len(calldata))
	}
	n := byte(len(calldata))
	const codeOffset = 39
	runtime := []byte{
		0x60, n,          // PUSH1 len
		0x60, codeOffset, // PUSH1 codeOffset
		0x60, 0x00, // PUSH1 destOffset
		0x39, // CODECOPY
		0x60, 0x00, // PUSH1 retSize
		0x60, 0x00, // PUSH1 retOffset
		0x60, n, // PUSH1 argsSize
		0x60, 0x00, // PUSH1 argsOffset
		0x73, // PUSH20 address
	}
	runtime = append(runtime, target.Bytes()...)
	runtime = append(runtime,
		0x5a, // GAS
		0xfa, // STATICCALL
		0x00, // STOP
	)
	if len(runtime) != codeOffset {
		t.Fatalf("staticcallRuntime: prefix is %d bytes, codeOffset const says %d", len(runtime), codeOffset)
	}
	return append(runtime, calldata...)
}

// TestConsoleLogDispatchesThroughNestedStaticcall exercises the other half
// of Comment 1's precompile wiring: a contract's own bytecode issuing a
// nested STATICCALL to ConsoleLogAddress mid-execution, the
// Builder.PrecompileHook path, as opposed to a top-level call landing
// directly on a precompile address (covered implicitly by ExecuteCode's
// short-circuit and not exercised by any test here).
func TestConsoleLogDispatchesThroughNestedStaticcall(t *testing.T) {
	e := New()

	var lines []string
	e.SetConsoleSink(func(line string) { lines = append(lines, line) })

	calldata := consoleLogStringCalldata(t, "hi")
	addr := mustDeploy(t, e, wrapInitcode(staticcallRuntime(t, ConsoleLogAddress, calldata)))

	if _, err := e.RawCall(context.Background(), Message{To: addr}); err != nil {
		t.Fatalf("call failed: %v", err)
	}

	if len(lines) != 1 || lines[0] != "hi" {
		t.Errorf("console sink got %v, want [\"hi\"]", lines)
	}
}

// TestCreateHijackAutoRegistersMinimalProxy exercises scenario S3: a
// factory contract's own bytecode deploying an EIP-1167 minimal proxy to a
// previously-registered contract B causes the newly created address to be
// auto-registered, without any Go-side caller ever seeing the CREATE.
func TestCreateHijackAutoRegistersMinimalProxy(t *testing.T) {
	e := New()

	// Deploy B and register it the way contract.newContract would, minus
	// the contract package itself (env can't import it — contract imports
	// env).
	bAddr := mustDeploy(t, e, wrapInitcode(return42Runtime))
	type wrapper struct{ at types.Address }
	e.RegisterContract(bAddr, ContractRegistration{
		Obj:             wrapper{at: bAddr},
		RuntimeBytecode: return42Runtime,
		RebindAt: func(a types.Address) (any, error) {
			return wrapper{at: a}, nil
		},
	})

	// Hand-assemble the EIP-1167 minimal proxy runtime that delegates to B.
	eip1167Prefix := []byte{0x36, 0x3d, 0x3d, 0x37, 0x3d, 0x3d, 0x3d, 0x36, 0x3d, 0x73}
	eip1167Suffix := []byte{0x5a, 0xf4, 0x3d, 0x82, 0x80, 0x3e, 0x90, 0x3d, 0x91, 0x60, 0x2b, 0x57, 0xfd, 0x5b, 0xf3}
	proxyRuntime := append(append(append([]byte{}, eip1167Prefix...), bAddr.Bytes()...), eip1167Suffix...)
	proxyInit := wrapInitcode(proxyRuntime)
	if len(proxyInit) > 255 {
		t.Fatalf("proxy initcode too long for PUSH1 encoding: %d", len(proxyInit))
	}

	// A factory whose runtime CODECOPYs the embedded proxy initcode into
	// memory, CREATEs it, and returns the new address.
	ln := byte(len(proxyInit))
	const factoryCodeOffset = 22
	factoryRuntime := []byte{
		0x60, ln,                // PUSH1 len
		0x60, factoryCodeOffset, // PUSH1 codeOffset
		0x60, 0x00, // PUSH1 destOffset
		0x39,       // CODECOPY
		0x60, ln,   // PUSH1 size (for CREATE)
		0x60, 0x00, // PUSH1 offset (for CREATE)
		0x60, 0x00, // PUSH1 value
		0xf0,       // CREATE
		0x60, 0x00, // PUSH1 memOffset
		0x52,       // MSTORE
		0x60, 0x20, // PUSH1 32
		0x60, 0x00, // PUSH1 0
		0xf3, // RETURN
	}
	factoryRuntime = append(factoryRuntime, proxyInit...)

	factoryAddr := mustDeploy(t, e, wrapInitcode(factoryRuntime))

	comp, err := e.RawCall(context.Background(), Message{To: factoryAddr, IsModifying: true})
	if err != nil {
		t.Fatalf("factory call failed: %v", err)
	}
	if len(comp.Output) != 32 {
		t.Fatalf("Output = %x, want a 32-byte address word", comp.Output)
	}
	proxyAddr := types.BytesToAddress(comp.Output)
	if proxyAddr.IsZero() {
		t.Fatal("factory's CREATE returned the zero address")
	}

	obj, ok := e.LookupContract(proxyAddr)
	if !ok {
		t.Fatal("expected the CREATE hijack to auto-register the proxy address")
	}
	w, ok := obj.(wrapper)
	if !ok || w.at != proxyAddr {
		t.Errorf("registered wrapper = %#v, want bound at %s", obj, proxyAddr.Hex())
	}
}
