// Package trace implements stack-trace assembly and error translation
// (component J), gas profiling (component K), and call-trace rendering
// (component L) over a computation.Computation tree.
package trace

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/vyperlang/boa/abi"
	"github.com/vyperlang/boa/computation"
	"github.com/vyperlang/boa/types"
)

// errorStringSelector is Error(string)'s 4-byte selector, the standard
// Solidity/Vyper "revert with reason" wrapper.
var errorStringSelector = [4]byte{0x08, 0xc3, 0x79, 0xa0}

// panicUintSelector is Panic(uint256)'s 4-byte selector, used for
// compiler-inserted assertions (overflow, division by zero, out-of-bounds).
var panicUintSelector = [4]byte{0x4e, 0x48, 0x7b, 0x71}

var panicReasons = map[uint64]string{
	0x00: "generic panic",
	0x01: "assertion failed",
	0x11: "arithmetic overflow/underflow",
	0x12: "division or modulo by zero",
	0x21: "invalid enum value",
	0x22: "invalid storage byte array access",
	0x31: "pop from empty array",
	0x32: "array index out of bounds",
	0x41: "out of memory",
	0x51: "called an uninitialized function pointer",
}

// DecodeRevertReason extracts the human-readable reason from revert
// output, handling both Error(string) and Panic(uint256) — the two
// standard ABI-encoded revert wrappers compilers emit. ok is false when
// output isn't either shape (a raw/unencoded revert, or empty data).
func DecodeRevertReason(output []byte) (reason string, ok bool) {
	if len(output) < 4 {
		return "", false
	}
	var sel [4]byte
	copy(sel[:], output[:4])
	switch sel {
	case errorStringSelector:
		strType, _ := abi.ParseType("string")
		v, err := abi.Decode(strType, output[4:])
		if err != nil {
			return "", false
		}
		s, _ := v.(string)
		return s, true
	case panicUintSelector:
		if len(output) < 36 {
			return "", false
		}
		code := binary.BigEndian.Uint64(output[28:36])
		if msg, known := panicReasons[code]; known {
			return fmt.Sprintf("panic: %s (0x%02x)", msg, code), true
		}
		return fmt.Sprintf("panic: unknown code 0x%02x", code), true
	default:
		return "", false
	}
}

// Frame is one entry of a StackTrace — spec §4.J's per-frame record,
// pared down to what's derivable without a Vyper compiler artifact's
// source map/AST: contract_repr, the raw VM error, a best-effort
// error-detail string, and (when decodable) the user-facing revert reason.
type Frame struct {
	ContractRepr string
	VMError      error
	ErrorDetail  string
	DevReason    string
	PrettyReason string

	// Memory is the failing frame's EVM memory at the moment it stopped
	// executing (computation.Computation.Memory, fastmem — component D),
	// flushed to plain bytes. Without a compiler's frame-layout table this
	// project can't name which bytes are which local variable (see
	// contract/artifact.go), so this is offered as the raw material for a
	// caller's own inspection rather than a decoded locals map.
	Memory []byte
}

func (f Frame) String() string {
	if f.PrettyReason != "" {
		return fmt.Sprintf("  %s (%s): %s", f.ContractRepr, f.ErrorDetail, f.PrettyReason)
	}
	return fmt.Sprintf("  %s (%s)", f.ContractRepr, f.ErrorDetail)
}

// StackTrace is an ordered list of frames; the last frame is the
// innermost failure, matching spec's ordering.
type StackTrace struct {
	Frames []Frame
}

func (s *StackTrace) String() string {
	lines := make([]string, len(s.Frames))
	for i, f := range s.Frames {
		lines[i] = f.String()
	}
	return strings.Join(lines, "\n")
}

// ContractResolver looks up the human name for addr, so frames for known
// contracts can print something better than a bare hex address.
type ContractResolver func(addr types.Address) (name string, known bool)

// BuildStackTrace assembles a StackTrace for comp's failure, recursing
// into the last erroring child when the failure looks like a propagated
// external-call/create failure (matching spec's recursion trigger,
// approximated here by "the failing frame has no own decodable revert
// reason but a child computation also errored" rather than a genuine
// compiler error-hint lookup, since no Vyper artifact is available to
// supply one).
func BuildStackTrace(comp *computation.Computation, resolve ContractResolver) *StackTrace {
	st := &StackTrace{}
	buildStackTrace(comp, resolve, st)
	return st
}

func buildStackTrace(comp *computation.Computation, resolve ContractResolver, st *StackTrace) {
	if comp == nil {
		return
	}
	name, known := "", false
	if resolve != nil {
		name, known = resolve(comp.Msg.To)
	}

	repr := comp.ContractReprBeforeRevert
	if repr == "" {
		repr = comp.Msg.To.Hex()
	}
	if !known {
		st.Frames = append(st.Frames, Frame{
			ContractRepr: fmt.Sprintf("<Unknown location in unknown contract %s>", comp.Msg.To.Hex()),
			VMError:      comp.Err,
			ErrorDetail:  "unknown",
		})
	} else {
		pretty, hasPretty := DecodeRevertReason(comp.Output)
		detail := "reverted"
		if hasPretty {
			detail = "user revert with reason"
		}
		var mem []byte
		if comp.Memory != nil {
			mem = comp.Memory.Data()
		}
		st.Frames = append(st.Frames, Frame{
			ContractRepr: fmt.Sprintf("%s(%s)", name, repr),
			VMError:      comp.Err,
			ErrorDetail:  detail,
			PrettyReason: pretty,
			Memory:       mem,
		})
	}

	// Recurse into the last erroring child, if any — the closest
	// approximation of "the failing PC's hint says this was a propagated
	// call/create failure" without a real compiler error-hint map.
	for i := len(comp.Children) - 1; i >= 0; i-- {
		if comp.Children[i].IsError() {
			buildStackTrace(comp.Children[i], resolve, st)
			break
		}
	}
}

// BoaError is the error type raised by a failed contract call — it wraps
// the full StackTrace rather than just the leaf VM error, so callers get
// the whole call chain in one %v.
type BoaError struct {
	Trace *StackTrace
}

func (e *BoaError) Error() string {
	if e.Trace == nil || len(e.Trace.Frames) == 0 {
		return "boa: call reverted"
	}
	return e.Trace.String()
}

// PrettyReason returns the innermost frame's decoded user-facing reason, if any.
func (e *BoaError) PrettyReason() string {
	if e.Trace == nil || len(e.Trace.Frames) == 0 {
		return ""
	}
	return e.Trace.Frames[len(e.Trace.Frames)-1].PrettyReason
}

// MatchOption narrows what CheckBoaErrorMatches requires of the leaf frame.
type MatchOption func(*matchSpec)

type matchSpec struct {
	compiler string
	vmError  string
	custom   map[string]string
}

// WithCompilerDetail matches iff the leaf frame's ErrorDetail equals s.
func WithCompilerDetail(s string) MatchOption {
	return func(m *matchSpec) { m.compiler = s }
}

// WithVMError matches iff the leaf frame's ErrorDetail is "user revert
// with reason" and its decoded pretty reason equals s.
func WithVMError(s string) MatchOption {
	return func(m *matchSpec) { m.vmError = s }
}

// WithDevReason matches iff the leaf frame's DevReason equals s.
func WithDevReason(s string) MatchOption {
	return func(m *matchSpec) { m.custom["dev_reason"] = s }
}

// CheckBoaErrorMatches implements spec's check_boa_error_matches pattern
// helper: a bare positional string matches the pretty VM reason, the
// compiler detail, or the dev reason (any one is enough); additional
// options narrow the match to a specific field.
func CheckBoaErrorMatches(err *BoaError, pattern string, opts ...MatchOption) bool {
	if err == nil || err.Trace == nil || len(err.Trace.Frames) == 0 {
		return false
	}
	leaf := err.Trace.Frames[len(err.Trace.Frames)-1]
	spec := &matchSpec{custom: make(map[string]string)}
	for _, opt := range opts {
		opt(spec)
	}
	if spec.compiler != "" {
		return leaf.ErrorDetail == spec.compiler
	}
	if spec.vmError != "" {
		return leaf.ErrorDetail == "user revert with reason" && leaf.PrettyReason == spec.vmError
	}
	if s, ok := spec.custom["dev_reason"]; ok {
		return leaf.DevReason == s
	}
	if pattern == "" {
		return false
	}
	return pattern == leaf.PrettyReason || pattern == leaf.ErrorDetail || pattern == leaf.DevReason
}
