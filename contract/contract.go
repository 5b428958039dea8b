package contract

import (
	"context"
	"fmt"

	"github.com/vyperlang/boa/abi"
	"github.com/vyperlang/boa/crypto"
	"github.com/vyperlang/boa/env"
	"github.com/vyperlang/boa/trace"
	"github.com/vyperlang/boa/types"
)

// Contract is a deployed-contract facade backed by a compiled Artifact —
// spec §4.H. Unlike ABIContract (component I), it knows its own bytecode
// and storage/code layout, which is what makes Storage(), Immutables(),
// and Stomp possible.
type Contract struct {
	artifact *Artifact
	env      *env.Env
	address  types.Address

	overloads map[string]*ABIOverload
	events    map[types.Hash]*ABIEvent
	bound     *boundContract

	storage *Storage
}

// Deploy assembles initcode = artifact.Bytecode ++ abi_encode(ctor_sig,
// ctorArgs), runs it, and binds the resulting address — spec's `__init__`.
func Deploy(ctx context.Context, e *env.Env, artifact *Artifact, ctorArgs []any, opts CallOptions) (*Contract, *Computation, error) {
	argTypes, err := artifact.ctorArgTypes()
	if err != nil {
		return nil, nil, err
	}
	if len(argTypes) != len(ctorArgs) {
		return nil, nil, fmt.Errorf("contract: %s constructor wants %d arguments, got %d", artifact.ContractName, len(argTypes), len(ctorArgs))
	}
	resolved := make([]any, len(ctorArgs))
	for i, a := range ctorArgs {
		resolved[i] = unwrapAddressable(a)
	}
	encodedArgs, err := abi.EncodeArgs(argTypes, resolved)
	if err != nil {
		return nil, nil, err
	}
	initcode := make([]byte, 0, len(artifact.Bytecode)+len(encodedArgs))
	initcode = append(initcode, artifact.Bytecode...)
	initcode = append(initcode, encodedArgs...)

	addr, _, comp, err := e.DeployCode(ctx, opts.Sender, opts.Value, initcode, opts.Gas, nil)
	c := &Computation{Raw: comp}
	if err != nil {
		return nil, c, err
	}
	deployed, bindErr := newContract(e, artifact, addr)
	if bindErr != nil {
		return nil, c, bindErr
	}
	return deployed, c, nil
}

// DeployFromBlueprint deploys artifact's constructor against ctorArgs by
// running a previously-deployed EIP-5202 blueprint's stored initcode
// rather than artifact.Bytecode directly — spec §4.F/§6's
// `create_from_blueprint`.
func DeployFromBlueprint(ctx context.Context, e *env.Env, artifact *Artifact, blueprintAddr types.Address, ctorArgs []any, opts CallOptions, useCreate2 bool, salt types.Hash) (*Contract, *Computation, error) {
	argTypes, err := artifact.ctorArgTypes()
	if err != nil {
		return nil, nil, err
	}
	if len(argTypes) != len(ctorArgs) {
		return nil, nil, fmt.Errorf("contract: %s constructor wants %d arguments, got %d", artifact.ContractName, len(argTypes), len(ctorArgs))
	}
	resolved := make([]any, len(ctorArgs))
	for i, a := range ctorArgs {
		resolved[i] = unwrapAddressable(a)
	}
	encodedArgs, err := abi.EncodeArgs(argTypes, resolved)
	if err != nil {
		return nil, nil, err
	}

	addr, _, comp, err := e.DeployFromBlueprint(ctx, opts.Sender, opts.Value, blueprintAddr, encodedArgs, opts.Gas, useCreate2, salt)
	c := &Computation{Raw: comp}
	if err != nil {
		return nil, c, err
	}
	deployed, bindErr := newContract(e, artifact, addr)
	if bindErr != nil {
		return nil, c, bindErr
	}
	return deployed, c, nil
}

func newContract(e *env.Env, artifact *Artifact, address types.Address) (*Contract, error) {
	bound := &boundContract{address: address, env: e}
	overloads, events, err := buildOverloads(artifact.ABI, artifact.ContractName, bound)
	if err != nil {
		return nil, err
	}
	c := &Contract{
		artifact:  artifact,
		env:       e,
		address:   address,
		overloads: overloads,
		events:    events,
		bound:     bound,
	}
	storage, err := buildStorage(c)
	if err != nil {
		return nil, err
	}
	c.storage = storage
	e.RegisterContract(address, env.ContractRegistration{
		Obj:             c,
		RuntimeBytecode: artifact.BytecodeRuntime,
		RebindAt: func(a types.Address) (any, error) {
			return newContract(e, artifact, a)
		},
	})
	return c, nil
}

// At binds artifact to an already-deployed address — spec's `at`
// classmethod. Per spec's boundary behavior, a mismatch between the
// artifact's expected runtime bytecode and what's actually deployed
// (ignoring the trailing immutable data section) is a warning, not a
// construction error; the returned bool reports whether it looked right.
func At(ctx context.Context, e *env.Env, artifact *Artifact, address types.Address) (*Contract, bool, error) {
	c, err := newContract(e, artifact, address)
	if err != nil {
		return nil, false, err
	}
	code, err := e.GetCode(ctx, address)
	if err != nil || len(code) == 0 {
		return c, false, nil
	}
	return c, bytecodeMatches(artifact.BytecodeRuntime, code, artifact.ImmutableSectionBytes), nil
}

func bytecodeMatches(expected, actual []byte, immutableBytes int) bool {
	expectedCode := expected
	if immutableBytes > 0 && len(expectedCode) >= immutableBytes {
		expectedCode = expectedCode[:len(expectedCode)-immutableBytes]
	}
	if len(actual) < len(expectedCode) {
		return false
	}
	for i, b := range expectedCode {
		if actual[i] != b {
			return false
		}
	}
	return true
}

// Stomp installs artifact's own runtime bytecode at address in place of
// whatever is there, preserving an immutable data section — spec §4.H/§9's
// open question on layout mismatches resolves to the safe default the
// design notes suggest: reject rather than guess when dataSection isn't
// supplied and no existing code is present to carry one forward from.
func Stomp(ctx context.Context, e *env.Env, artifact *Artifact, address types.Address, dataSection []byte) (*Contract, error) {
	code := append([]byte(nil), artifact.BytecodeRuntime...)
	if artifact.ImmutableSectionBytes > 0 {
		if dataSection == nil {
			existing, err := e.GetCode(ctx, address)
			if err != nil || len(existing) < artifact.ImmutableSectionBytes {
				return nil, fmt.Errorf("contract: stomp %s at %s needs an explicit data section (no compatible existing code to preserve one from)", artifact.ContractName, address.Hex())
			}
			dataSection = existing[len(existing)-artifact.ImmutableSectionBytes:]
		}
		if len(dataSection) != artifact.ImmutableSectionBytes {
			return nil, fmt.Errorf("contract: stomp %s at %s: data section is %d bytes, want %d", artifact.ContractName, address.Hex(), len(dataSection), artifact.ImmutableSectionBytes)
		}
		code = append(code, dataSection...)
	}
	if err := e.SetCode(address, code); err != nil {
		return nil, err
	}
	return newContract(e, artifact, address)
}

// Name returns the compiled contract's declared name.
func (c *Contract) Name() string { return c.artifact.ContractName }

// Address returns the deployed address — satisfies abi.Addressable.
func (c *Contract) Address() types.Address { return c.address }

// Function returns the overload set for name.
func (c *Contract) Function(name string) (*ABIOverload, bool) {
	o, ok := c.overloads[name]
	return o, ok
}

// Call resolves and invokes the named external function against args.
func (c *Contract) Call(ctx context.Context, name string, args []any, disambiguateSignature string, opts CallOptions) (any, *Computation, error) {
	o, ok := c.overloads[name]
	if !ok {
		known := make([]string, 0, len(c.overloads))
		for n := range c.overloads {
			known = append(known, n)
		}
		if suggestion := suggestFunctionName(name, known); suggestion != "" {
			return nil, nil, fmt.Errorf("contract: %s has no function %q (did you mean %q?)", c, name, suggestion)
		}
		return nil, nil, fmt.Errorf("contract: %s has no function %q", c, name)
	}
	return o.Call(ctx, args, disambiguateSignature, opts)
}

// Storage returns the per-variable storage proxy built from the artifact's
// storage layout.
func (c *Contract) Storage() *Storage { return c.storage }

// Immutables decodes every declared immutable variable out of the
// currently deployed code's trailing data section.
func (c *Contract) Immutables(ctx context.Context) (map[string]any, error) {
	if len(c.artifact.CodeLayout) == 0 {
		return nil, nil
	}
	code, err := c.env.GetCode(ctx, c.address)
	if err != nil {
		return nil, err
	}
	if len(code) < c.artifact.ImmutableSectionBytes {
		return nil, fmt.Errorf("contract: %s has no immutable data section deployed", c)
	}
	data := code[len(code)-c.artifact.ImmutableSectionBytes:]
	out := make(map[string]any, len(c.artifact.CodeLayout))
	for name, slot := range c.artifact.CodeLayout {
		t, err := abi.ParseType(slot.Type)
		if err != nil {
			return nil, fmt.Errorf("contract: immutable %s: %w", name, err)
		}
		if slot.Offset < 0 || slot.Offset+32 > len(data) {
			return nil, fmt.Errorf("contract: immutable %s offset out of range", name)
		}
		val, err := abi.Decode(t, data[slot.Offset:slot.Offset+32])
		if err != nil {
			return nil, fmt.Errorf("contract: immutable %s: %w", name, err)
		}
		out[name] = val
	}
	return out, nil
}

// InternalCall executes a caller-assembled stub (stubBytecode, prepended
// to the deployed runtime bytecode and dispatched to by selector) against
// this contract's storage — spec's `.internal.<fn>` stub-injection call.
// Assembling the stub itself requires Vyper-compiler internals (the
// function's entry PC and calling convention) this project does not have;
// InternalCall takes the already-assembled stub as input, the way spec §6
// frames a compiled artifact as something an external collaborator
// supplies, and implements only the execution mechanics: fake-codesize
// bookkeeping, temporary bytecode override, and return decoding.
func (c *Contract) InternalCall(ctx context.Context, stubBytecode []byte, selector [4]byte, args []any, argTypes []abi.Type, returnType *abi.Type, opts CallOptions) (any, *Computation, error) {
	resolved := make([]any, len(args))
	for i, a := range args {
		resolved[i] = unwrapAddressable(a)
	}
	encoded, err := abi.EncodeArgs(argTypes, resolved)
	if err != nil {
		return nil, nil, err
	}
	calldata := append(append([]byte{}, selector[:]...), encoded...)

	runtimeCode, err := c.env.GetCode(ctx, c.address)
	if err != nil {
		return nil, nil, err
	}
	override := append(append([]byte{}, stubBytecode...), runtimeCode...)

	comp, callErr := c.env.RawCall(ctx, env.Message{
		Sender:           opts.Sender,
		To:               c.address,
		Value:            opts.Value,
		Data:             calldata,
		Gas:              opts.Gas,
		OverrideBytecode: override,
		IsModifying:      true,
		FakeCodesize:     len(runtimeCode),
	})
	res := &Computation{Raw: comp}
	if callErr != nil {
		return nil, res, callErr
	}
	if returnType == nil {
		return nil, res, nil
	}
	val, err := abi.Decode(*returnType, comp.Output)
	return val, res, err
}

// Inject redeploys this contract's code from injectedArtifact (produced by
// recompiling the source with an extra function externally — this project
// has no compiler, so producing injectedArtifact itself is out of scope),
// preserving the existing immutable data section. Mirrors spec's
// `.inject.<fn>` recompile-and-swap call, minus the recompilation step.
func (c *Contract) Inject(ctx context.Context, injectedArtifact *Artifact) (*Contract, error) {
	return Stomp(ctx, c.env, injectedArtifact, c.address, nil)
}

// Eval executes caller-supplied bytecode (an externally compiled Vyper
// expression's bytecode — this project has no compiler of its own, see
// DESIGN.md) against this contract's storage under spec's synthetic
// "dbug()" selector, decoding the result as returnType.
func (c *Contract) Eval(ctx context.Context, bytecode []byte, returnType *abi.Type) (any, *Computation, error) {
	selector := crypto.Selector("dbug()")
	comp, callErr := c.env.RawCall(ctx, env.Message{
		To:               c.address,
		Data:             selector[:],
		OverrideBytecode: bytecode,
		IsModifying:      true,
	})
	res := &Computation{Raw: comp}
	if callErr != nil {
		return nil, res, callErr
	}
	if returnType == nil {
		return nil, res, nil
	}
	val, err := abi.Decode(*returnType, comp.Output)
	return val, res, err
}

func (c *Contract) String() string {
	return fmt.Sprintf("<%s at %s>", c.artifact.ContractName, c.address.Hex())
}

// methodIDMap returns method-id -> "name(types)" for every function.
func (c *Contract) methodIDMap() map[[4]byte]string {
	out := make(map[[4]byte]string)
	for _, o := range c.overloads {
		for _, f := range o.Functions() {
			out[f.Selector()] = f.Name() + f.Signature()
		}
	}
	return out
}

// StackTrace builds the stack trace for comp's failure.
func (c *Contract) StackTrace(comp *Computation) *trace.StackTrace {
	resolve := func(addr types.Address) (string, bool) {
		obj, ok := c.env.LookupContract(addr)
		if !ok {
			return "", false
		}
		if s, ok := obj.(fmt.Stringer); ok {
			return s.String(), true
		}
		return "", false
	}
	return trace.BuildStackTrace(comp.Raw, resolve)
}

// GetLogs collects comp's logs (and child logs, if includeChildLogs).
func (c *Contract) GetLogs(comp *Computation, includeChildLogs bool) []RawLogEntry {
	return collectLogs(comp.Raw, c.env, includeChildLogs)
}

// DecodeLog implements eventDecoder against this contract's own event table.
func (c *Contract) DecodeLog(log types.Log) (*DecodedEvent, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("contract: anonymous log has no topic0 to match an event")
	}
	ev, ok := c.events[log.Topics[0]]
	if !ok {
		return nil, fmt.Errorf("contract: %s has no event matching topic %s", c, log.Topics[0].Hex())
	}
	return ev.Decode(log.Address, log.Topics, log.Data)
}

// --- trace.FrameSource --------------------------------------------------

// DisplayName satisfies trace.FrameSource.
func (c *Contract) DisplayName() string { return c.String() }

// FormatCall satisfies trace.FrameSource.
func (c *Contract) FormatCall(data []byte) string {
	if len(data) < 4 {
		return fmt.Sprintf("0x%x", data)
	}
	var sel [4]byte
	copy(sel[:], data[:4])
	name, ok := c.methodIDMap()[sel]
	if !ok {
		return fmt.Sprintf("%s.0x%x(...)", c.artifact.ContractName, sel)
	}
	return fmt.Sprintf("%s.%s", c.artifact.ContractName, name)
}

// FormatReturn satisfies trace.FrameSource.
func (c *Contract) FormatReturn(output []byte) string {
	return fmt.Sprintf("0x%x", output)
}
