package contract

import (
	"fmt"

	"github.com/vyperlang/boa/abi"
	"github.com/vyperlang/boa/crypto"
	"github.com/vyperlang/boa/types"
)

// ABIEvent is a parsed "event" ABI entry, used by get_logs to decode raw
// Log entries into named records — spec §6's event-log format.
type ABIEvent struct {
	Name      string
	Inputs    []ABIParam
	Topic0    types.Hash // keccak256(signature), the non-indexed-only selector
	signature string
}

// NewABIEvent parses entry (which must have Type == "event") into an
// ABIEvent with its topic-0 selector precomputed.
func NewABIEvent(entry ABIEntry) (*ABIEvent, error) {
	argTypes := make([]abi.Type, len(entry.Inputs))
	for i, in := range entry.Inputs {
		t, err := in.toType()
		if err != nil {
			return nil, fmt.Errorf("contract: event %s: %w", entry.Name, err)
		}
		argTypes[i] = t
	}
	sig := abi.Signature(entry.Name, argTypes)
	return &ABIEvent{
		Name:      entry.Name,
		Inputs:    entry.Inputs,
		Topic0:    crypto.Keccak256Hash([]byte(sig)),
		signature: sig,
	}, nil
}

// DecodedEvent is the named-record decoding of one Log, spec §6: "named
// record {address, <event fields in declaration order>}".
type DecodedEvent struct {
	Address types.Address
	Name    string
	Fields  []string
	Values  []any
}

// Get returns the named field's value.
func (d *DecodedEvent) Get(name string) (any, bool) {
	for i, n := range d.Fields {
		if n == name {
			return d.Values[i], true
		}
	}
	return nil, false
}

// Decode reconstructs a DecodedEvent from log's topics/data: indexed
// params decode from topics[1:] (as their encoded word, since indexed
// dynamic types are hashed and only recoverable as their hash at the ABI
// layer), non-indexed params decode from data in declaration order.
func (e *ABIEvent) Decode(addr types.Address, topics []types.Hash, data []byte) (*DecodedEvent, error) {
	fields := make([]string, len(e.Inputs))
	values := make([]any, len(e.Inputs))

	topicIdx := 1 // topics[0] is the event selector
	var dataTypes []abi.Type
	var dataIdx []int
	for i, in := range e.Inputs {
		fields[i] = abi.SafeFieldName(in.Name, i)
		if in.Indexed {
			if topicIdx >= len(topics) {
				return nil, fmt.Errorf("contract: event %s missing indexed topic %d", e.Name, topicIdx)
			}
			t, err := in.toType()
			if err != nil {
				return nil, err
			}
			v, err := abi.Decode(t, topics[topicIdx].Bytes())
			if err != nil {
				// Indexed dynamic types (string/bytes/array) are stored as
				// their keccak256 hash, not their ABI encoding; surface the
				// raw topic instead of failing the whole decode.
				v = topics[topicIdx]
			}
			values[i] = v
			topicIdx++
			continue
		}
		t, err := in.toType()
		if err != nil {
			return nil, err
		}
		dataTypes = append(dataTypes, t)
		dataIdx = append(dataIdx, i)
	}

	if len(dataTypes) > 0 {
		decoded, err := abi.DecodeArgs(dataTypes, data)
		if err != nil {
			return nil, err
		}
		for j, idx := range dataIdx {
			values[idx] = decoded[j]
		}
	}

	return &DecodedEvent{Address: addr, Name: e.Name, Fields: fields, Values: values}, nil
}
