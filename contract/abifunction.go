// Package contract implements the deployed-contract facades: Contract
// (component H, backed by a compiled artifact) and ABIContract (component
// I, backed by a bare ABI list), plus the overload resolution and calldata
// marshaling both share.
package contract

import (
	"context"
	"fmt"
	"math/big"

	"github.com/xrash/smetrics"

	"github.com/vyperlang/boa/abi"
	"github.com/vyperlang/boa/crypto"
	"github.com/vyperlang/boa/env"
	"github.com/vyperlang/boa/types"
)

// ABIParam is one {name, type, components, indexed} entry from a compiler
// or hand-written ABI list.
type ABIParam struct {
	Name       string
	Type       string
	Components []ABIParam
	Indexed    bool
}

// ABIEntry is one top-level ABI list item: a function, event, or constructor.
type ABIEntry struct {
	Type            string // "function", "event", "constructor", "fallback", "receive"
	Name            string
	Inputs          []ABIParam
	Outputs         []ABIParam
	StateMutability string // "view", "pure", "nonpayable", "payable"
}

func (p ABIParam) toType() (abi.Type, error) {
	if len(p.Components) > 0 {
		fields := make([]abi.Field, len(p.Components))
		for i, c := range p.Components {
			t, err := c.toType()
			if err != nil {
				return abi.Type{}, err
			}
			fields[i] = abi.Field{Name: abi.SafeFieldName(c.Name, i), Type: t}
		}
		base := abi.Type{Kind: abi.KindTuple, Fields: fields, TupleName: p.Name}
		return wrapArraySuffix(p.Type, base)
	}
	return abi.ParseType(p.Type)
}

// wrapArraySuffix re-applies any "[]"/"[N]" suffixes baked into a tuple
// component's declared type string (ABI tuples carry array-ness on the
// "type" field as "tuple[]"/"tuple[3]" rather than on a nested Type).
func wrapArraySuffix(declared string, base abi.Type) (abi.Type, error) {
	i := indexOfByte(declared, '[')
	if i < 0 {
		return base, nil
	}
	suffix := declared[i:]
	for len(suffix) > 0 {
		end := indexOfByte(suffix, ']')
		if end < 0 {
			return abi.Type{}, fmt.Errorf("contract: malformed array suffix %q", declared)
		}
		inner := suffix[1:end]
		suffix = suffix[end+1:]
		elem := base
		if inner == "" {
			base = abi.Type{Kind: abi.KindDynamicArray, Elem: &elem}
		} else {
			n := 0
			for _, c := range inner {
				if c < '0' || c > '9' {
					return abi.Type{}, fmt.Errorf("contract: bad array length %q", inner)
				}
				n = n*10 + int(c-'0')
			}
			base = abi.Type{Kind: abi.KindFixedArray, Size: n, Elem: &elem}
		}
	}
	return base, nil
}

func indexOfByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// boundContract is the narrow surface ABIFunction needs from whatever
// contract object owns it — implemented by both ABIContract and Contract.
type boundContract struct {
	address types.Address
	env     *env.Env
}

// ABIFunction is one function signature parsed from an ABI entry: spec
// §4.I's cached argument_types/return_type/signature/method_id.
type ABIFunction struct {
	entry        ABIEntry
	contractName string

	argTypes []abi.Type
	outTypes []abi.Type
	isMutable bool

	selector  [4]byte
	signature string // "(t1,t2,...)"

	bound *boundContract
}

// NewABIFunction parses entry's input/output types and computes its
// selector, grounded on spec §4.I.
func NewABIFunction(entry ABIEntry, contractName string) (*ABIFunction, error) {
	argTypes := make([]abi.Type, len(entry.Inputs))
	for i, in := range entry.Inputs {
		t, err := in.toType()
		if err != nil {
			return nil, fmt.Errorf("contract: %s.%s: %w", contractName, entry.Name, err)
		}
		argTypes[i] = t
	}
	outTypes := make([]abi.Type, len(entry.Outputs))
	for i, out := range entry.Outputs {
		t, err := out.toType()
		if err != nil {
			return nil, fmt.Errorf("contract: %s.%s: %w", contractName, entry.Name, err)
		}
		outTypes[i] = t
	}
	// Signature("", ...) renders just "(t1,t2,...)" since the name prefix is empty.
	sig := abi.Signature("", argTypes)

	return &ABIFunction{
		entry:        entry,
		contractName: contractName,
		argTypes:     argTypes,
		outTypes:     outTypes,
		isMutable:    entry.StateMutability != "view" && entry.StateMutability != "pure",
		selector:     crypto.Selector(entry.Name + sig),
		signature:    sig,
	}, nil
}

// Name returns the function's ABI name.
func (f *ABIFunction) Name() string { return f.entry.Name }

// Signature returns the cached "(t1,t2,...)" argument signature.
func (f *ABIFunction) Signature() string { return f.signature }

// Selector returns the cached 4-byte method id.
func (f *ABIFunction) Selector() [4]byte { return f.selector }

// ArgumentTypes returns the cached parsed input types.
func (f *ABIFunction) ArgumentTypes() []abi.Type { return f.argTypes }

// ReturnType returns the function's unwrapped return shape: nil for no
// outputs, the single type for one output, or a synthetic tuple type for
// multiple outputs — mirroring spec's return_type cached property.
func (f *ABIFunction) ReturnType() *abi.Type {
	switch len(f.outTypes) {
	case 0:
		return nil
	case 1:
		t := f.outTypes[0]
		return &t
	default:
		fields := make([]abi.Field, len(f.outTypes))
		for i, t := range f.outTypes {
			fields[i] = abi.Field{Name: abi.SafeFieldName(f.entry.Outputs[i].Name, i), Type: t}
		}
		t := abi.Type{Kind: abi.KindTuple, Fields: fields}
		return &t
	}
}

func (f *ABIFunction) String() string {
	return fmt.Sprintf("ABI %s.%s%s", f.contractName, f.entry.Name, f.signature)
}

// IsEncodableWith reports whether args can be encoded against f's argument
// types without error — the candidate filter used by overload resolution.
func (f *ABIFunction) IsEncodableWith(args []any) bool {
	if len(args) != len(f.argTypes) {
		return false
	}
	for i, t := range f.argTypes {
		if !abi.IsEncodable(t, unwrapAddressable(args[i])) {
			return false
		}
	}
	return true
}

// unwrapAddressable auto-unwraps anything with an Address() method (a
// *Contract or *ABIContract passed where an `address` argument is
// expected), per spec §4.A/§4.I's "anything with .address" rule.
func unwrapAddressable(v any) any {
	if a, ok := v.(interface{ Address() types.Address }); ok {
		return a.Address()
	}
	return v
}

// PrepareCalldata encodes method_id ++ abi_encode(signature, args).
func (f *ABIFunction) PrepareCalldata(args []any) ([]byte, error) {
	if len(args) != len(f.argTypes) {
		return nil, fmt.Errorf("contract: bad args to %s (expected %d arguments, got %d)", f, len(f.argTypes), len(args))
	}
	resolved := make([]any, len(args))
	for i, a := range args {
		resolved[i] = unwrapAddressable(a)
	}
	encoded, err := abi.EncodeArgs(f.argTypes, resolved)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 4+len(encoded))
	out = append(out, f.selector[:]...)
	out = append(out, encoded...)
	return out, nil
}

// DecodeOutput ABI-decodes output against f's return shape and unwraps it
// per spec §4.A/§4.I: () -> nil, (x,) -> x, (x,y,...) -> []any.
func (f *ABIFunction) DecodeOutput(output []byte) (any, error) {
	rt := f.ReturnType()
	if rt == nil {
		return nil, nil
	}
	if len(f.outTypes) == 1 {
		return abi.Decode(f.outTypes[0], output)
	}
	vals, err := abi.DecodeArgs(f.outTypes, output)
	if err != nil {
		return nil, err
	}
	return abi.UnwrapReturn(vals, false), nil
}

// bind attaches owner so Call can reach the Env; ABIOverload.bind threads
// this through every candidate function.
func (f *ABIFunction) bind(b *boundContract) { f.bound = b }

// Call executes the function against its bound contract: assembles
// calldata, runs it through Env.RawCall, and decodes the return value.
// sender/value/gas follow spec's `__call__(*args, value=0, gas=None,
// sender=None)` — zero values mean "use Env defaults".
func (f *ABIFunction) Call(ctx context.Context, args []any, opts CallOptions) (any, *Computation, error) {
	if f.bound == nil {
		return nil, nil, fmt.Errorf("contract: cannot call %s without deploying or binding the contract", f)
	}
	calldata, err := f.PrepareCalldata(args)
	if err != nil {
		return nil, nil, err
	}
	comp, callErr := f.bound.env.RawCall(ctx, env.Message{
		Sender:      opts.Sender,
		To:          f.bound.address,
		Value:       opts.Value,
		Data:        calldata,
		Gas:         opts.Gas,
		IsModifying: f.isMutable,
	})
	c := &Computation{Raw: comp}
	if callErr != nil {
		return nil, c, callErr
	}
	out, err := f.DecodeOutput(comp.Output)
	return out, c, err
}

// CallOptions carries the optional keyword arguments spec's __call__ accepts.
type CallOptions struct {
	Value  *big.Int // nil means 0
	Sender types.Address
	Gas    uint64
}

// ABIOverload groups every ABIFunction sharing a name, spec §4.I/§4.H "a
// dispatch object per external function".
type ABIOverload struct {
	name      string
	functions []*ABIFunction
}

// NewABIOverload groups functions (already required to share a name).
func NewABIOverload(functions []*ABIFunction) *ABIOverload {
	return &ABIOverload{name: functions[0].Name(), functions: functions}
}

// Name returns the shared function name.
func (o *ABIOverload) Name() string { return o.name }

// Functions returns every candidate signature for this name.
func (o *ABIOverload) Functions() []*ABIFunction { return o.functions }

func (o *ABIOverload) bind(b *boundContract) {
	for _, f := range o.functions {
		f.bind(b)
	}
}

// AmbiguousOverloadError is raised when more than one candidate signature
// matches the given arguments and no disambiguator was supplied.
type AmbiguousOverloadError struct {
	Name       string
	Candidates []string
}

func (e *AmbiguousOverloadError) Error() string {
	return fmt.Sprintf("contract: ambiguous call to %s, candidates: %v (pass DisambiguateSignature to choose one)", e.Name, e.Candidates)
}

// NoMatchingOverloadError is raised when zero candidate signatures match.
type NoMatchingOverloadError struct {
	Name string
	Args []any
}

func (e *NoMatchingOverloadError) Error() string {
	return fmt.Sprintf("contract: could not find matching %s function for given arguments %v", e.Name, e.Args)
}

// suggestFunctionName ranks known against query by Jaro-Winkler similarity
// and returns the closest match, or "" if known is empty. Used to annotate
// "no such function" errors with "did you mean ...?" the way titanoboa's
// edit-distance-ranked suggestions do for a typo'd attribute access.
func suggestFunctionName(query string, known []string) string {
	best := ""
	bestScore := -1.0
	for _, candidate := range known {
		score := smetrics.JaroWinkler(query, candidate, 0.7, 4)
		if score > bestScore {
			bestScore = score
			best = candidate
		}
	}
	return best
}

// Resolve picks the single ABIFunction matching args, per spec §4.I's
// three-step resolution: arity filter, is_abi_encodable filter, then
// disambiguate by explicit signature if more than one candidate survives.
func (o *ABIOverload) Resolve(args []any, disambiguateSignature string) (*ABIFunction, error) {
	var byArity []*ABIFunction
	for _, f := range o.functions {
		if len(f.argTypes) == len(args) {
			byArity = append(byArity, f)
		}
	}
	var candidates []*ABIFunction
	for _, f := range byArity {
		if f.IsEncodableWith(args) {
			candidates = append(candidates, f)
		}
	}
	switch len(candidates) {
	case 0:
		return nil, &NoMatchingOverloadError{Name: o.name, Args: args}
	case 1:
		return candidates[0], nil
	default:
		if disambiguateSignature != "" {
			for _, f := range candidates {
				if f.Name()+f.Signature() == disambiguateSignature {
					return f, nil
				}
			}
			return nil, fmt.Errorf("contract: disambiguate_signature %q did not match any candidate for %s", disambiguateSignature, o.name)
		}
		sigs := make([]string, len(candidates))
		for i, f := range candidates {
			sigs[i] = f.Name() + f.Signature()
		}
		return nil, &AmbiguousOverloadError{Name: o.name, Candidates: sigs}
	}
}

// Call resolves the matching overload and calls it.
func (o *ABIOverload) Call(ctx context.Context, args []any, disambiguateSignature string, opts CallOptions) (any, *Computation, error) {
	f, err := o.Resolve(args, disambiguateSignature)
	if err != nil {
		return nil, nil, err
	}
	return f.Call(ctx, args, opts)
}
