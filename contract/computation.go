package contract

import (
	gocomputation "github.com/vyperlang/boa/computation"
	"github.com/vyperlang/boa/types"
)

// Computation wraps the raw computation.Computation record with the
// decoding helpers spec §4.H's stack_trace/get_logs/marshal_to_python
// operations need, without making the low-level computation package aware
// of ABI/contract concepts.
type Computation struct {
	Raw *gocomputation.Computation
}

// IsError reports whether the underlying call reverted.
func (c *Computation) IsError() bool { return c.Raw != nil && c.Raw.IsError() }

// Output returns the raw return/revert data.
func (c *Computation) Output() []byte {
	if c.Raw == nil {
		return nil
	}
	return c.Raw.Output
}

// contractRegistry is the narrow slice of *env.Env that get_logs/stack
// traces need: looking up which registered contract owns an address.
type contractRegistry interface {
	LookupContract(addr types.Address) (any, bool)
}

// eventDecoder is implemented by anything (Contract, ABIContract) that can
// decode its own emitted logs — the get_logs "ask the emitter to decode
// its own log" rule from spec §4.H.
type eventDecoder interface {
	DecodeLog(log types.Log) (*DecodedEvent, error)
}

// RawLogEntry is one get_logs() result: the decoded form when the emitter
// is a registered, event-decoding contract, or the raw Log otherwise.
type RawLogEntry struct {
	Log     types.Log
	Decoded *DecodedEvent // nil if the emitter couldn't decode it
}

// collectLogs gathers comp's logs (and, if includeChildren, every
// descendant's logs) sorted by monotonically increasing log id — spec's
// "collect logs, sort by internal log id" — decoding each via its
// registered emitter when possible.
func collectLogs(comp *gocomputation.Computation, registry contractRegistry, includeChildren bool) []RawLogEntry {
	var all []types.Log
	var walk func(c *gocomputation.Computation)
	walk = func(c *gocomputation.Computation) {
		if c == nil {
			return
		}
		all = append(all, c.Logs...)
		if includeChildren {
			for _, child := range c.Children {
				walk(child)
			}
		}
	}
	walk(comp)

	sortLogsByID(all)

	out := make([]RawLogEntry, len(all))
	for i, l := range all {
		entry := RawLogEntry{Log: l}
		if registry != nil {
			if obj, ok := registry.LookupContract(l.Address); ok {
				if dec, ok := obj.(eventDecoder); ok {
					if d, err := dec.DecodeLog(l); err == nil {
						entry.Decoded = d
					}
				}
			}
		}
		out[i] = entry
	}
	return out
}

func sortLogsByID(logs []types.Log) {
	for i := 1; i < len(logs); i++ {
		for j := i; j > 0 && logs[j].ID < logs[j-1].ID; j-- {
			logs[j], logs[j-1] = logs[j-1], logs[j]
		}
	}
}
