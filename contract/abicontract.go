package contract

import (
	"context"
	"fmt"

	"github.com/vyperlang/boa/env"
	"github.com/vyperlang/boa/trace"
	"github.com/vyperlang/boa/types"
)

// ABIContract is a deployed-contract facade built from just an ABI list —
// spec §4.I, "we do not have the source code for this contract".
type ABIContract struct {
	name     string
	filename string
	address  types.Address
	env      *env.Env

	overloads map[string]*ABIOverload
	events    map[types.Hash]*ABIEvent

	bound *boundContract
}

// ABIContractFactory represents an ABI not yet coupled to an address —
// spec §4.I/§9's "Factory... doesn't actually do any deployment".
type ABIContractFactory struct {
	name     string
	filename string
	entries  []ABIEntry
}

// NewABIContractFactory parses entries into function/event tables under
// name, warning the caller (via the returned warnings slice, since this
// package has no logger of its own to print through) about same-name
// function overload groups, per spec's overload warning.
func NewABIContractFactory(name string, entries []ABIEntry) (*ABIContractFactory, []string) {
	var warnings []string
	counts := map[string]int{}
	for _, e := range entries {
		if e.Type == "function" {
			counts[e.Name]++
		}
	}
	for name, n := range counts {
		if n > 1 {
			warnings = append(warnings, fmt.Sprintf("%s overloads %s! overloaded methods might not work correctly at this time", name, name))
		}
	}
	return &ABIContractFactory{name: name, entries: entries}, warnings
}

// At constructs an ABIContract bound to address, registering it with e.
// Per spec's boundary behavior, a mismatch between expected and actual
// deployed bytecode (here: no bytecode at all) is a warning, not a
// construction-time error — the returned bool reports whether any code was
// found at address.
func (f *ABIContractFactory) At(ctx context.Context, e *env.Env, address types.Address) (*ABIContract, bool, error) {
	overloads, events, err := buildOverloads(f.entries, f.name, &boundContract{address: address, env: e})
	if err != nil {
		return nil, false, err
	}
	c := &ABIContract{
		name:      f.name,
		filename:  f.filename,
		address:   address,
		env:       e,
		overloads: overloads,
		events:    events,
		bound:     &boundContract{address: address, env: e},
	}

	code, err := e.GetCode(ctx, address)
	hasCode := err == nil && len(code) > 0

	reg := env.ContractRegistration{Obj: c}
	if hasCode {
		reg.RuntimeBytecode = code
		reg.RebindAt = func(a types.Address) (any, error) {
			bound, _, err := f.At(ctx, e, a)
			return bound, err
		}
	}
	e.RegisterContract(address, reg)
	return c, hasCode, nil
}

// buildOverloads parses entries' "function" items into name-grouped
// ABIOverloads (bound to bound) and its "event" items into a topic0-keyed
// table — the function/event table construction ABIContract and Contract
// both need.
func buildOverloads(entries []ABIEntry, contractName string, bound *boundContract) (map[string]*ABIOverload, map[types.Hash]*ABIEvent, error) {
	byName := map[string][]*ABIFunction{}
	var order []string
	events := make(map[types.Hash]*ABIEvent)
	for _, entry := range entries {
		switch entry.Type {
		case "function":
			fn, err := NewABIFunction(entry, contractName)
			if err != nil {
				return nil, nil, err
			}
			if _, seen := byName[entry.Name]; !seen {
				order = append(order, entry.Name)
			}
			byName[entry.Name] = append(byName[entry.Name], fn)
		case "event":
			ev, err := NewABIEvent(entry)
			if err != nil {
				return nil, nil, err
			}
			events[ev.Topic0] = ev
		}
	}
	overloads := make(map[string]*ABIOverload, len(order))
	for _, name := range order {
		overload := NewABIOverload(byName[name])
		overload.bind(bound)
		overloads[name] = overload
	}
	return overloads, events, nil
}

// Name returns the contract's ABI-facade name.
func (c *ABIContract) Name() string { return c.name }

// Address returns the deployed address — satisfies abi.Addressable, so an
// ABIContract can be passed directly wherever an `address`-typed argument
// is expected.
func (c *ABIContract) Address() types.Address { return c.address }

// Function returns the overload set for name, per spec §9's "generic
// dispatch via contract.call(name, args)" design note.
func (c *ABIContract) Function(name string) (*ABIOverload, bool) {
	o, ok := c.overloads[name]
	return o, ok
}

// Call resolves and invokes name against args. disambiguateSignature, if
// non-empty, breaks overload ties per spec §4.I step 3.
func (c *ABIContract) Call(ctx context.Context, name string, args []any, disambiguateSignature string, opts CallOptions) (any, *Computation, error) {
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

func (c *ABIContract) String() string {
	if c.filename != "" {
		return fmt.Sprintf("<%s interface at %s> (file %s)", c.name, c.address.Hex(), c.filename)
	}
	return fmt.Sprintf("<%s interface at %s>", c.name, c.address.Hex())
}

// methodIDMap returns method-id -> "name(types)" for every function. It is
// rebuilt on every call; FormatCall uses it to name a call's selector.
func (c *ABIContract) methodIDMap() map[[4]byte]string {
	out := make(map[[4]byte]string)
	for _, o := range c.overloads {
		for _, f := range o.Functions() {
			out[f.Selector()] = f.Name() + f.Signature()
		}
	}
	return out
}

// StackTrace builds the stack trace for comp's failure, resolving every
// known address along the way through env.
func (c *ABIContract) StackTrace(comp *Computation) *trace.StackTrace {
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

// GetLogs collects comp's logs (and child logs, if includeChildLogs),
// decoding any whose emitter is a registered contract, per spec §4.H.
func (c *ABIContract) GetLogs(comp *Computation, includeChildLogs bool) []RawLogEntry {
	return collectLogs(comp.Raw, c.env, includeChildLogs)
}

// DecodeLog implements eventDecoder: look up the log's topic-0 selector in
// this contract's own event table and decode it.
func (c *ABIContract) DecodeLog(log types.Log) (*DecodedEvent, error) {
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
func (c *ABIContract) DisplayName() string { return c.String() }

// FormatCall satisfies trace.FrameSource: resolve the selector to a
// function and render it as "name.fn(types)", or "name.0x<selector>(...)"
// for an unknown selector. The arguments are not decoded.
func (c *ABIContract) FormatCall(data []byte) string {
	if len(data) < 4 {
		return fmt.Sprintf("0x%x", data)
	}
	var sel [4]byte
	copy(sel[:], data[:4])
	name, ok := c.methodIDMap()[sel]
	if !ok {
		return fmt.Sprintf("%s.0x%x(...)", c.name, sel)
	}
	return fmt.Sprintf("%s.%s", c.name, name)
}

// FormatReturn satisfies trace.FrameSource.
func (c *ABIContract) FormatReturn(output []byte) string {
	return fmt.Sprintf("0x%x", output)
}
