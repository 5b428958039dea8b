package contract

import "github.com/vyperlang/boa/abi"

// StorageSlot is one entry of a compiled artifact's storage_layout: a
// scalar or mapping variable's base slot and declared type.
type StorageSlot struct {
	Slot uint64
	Type string
}

// ImmutableSlot is one entry of a compiled artifact's code_layout: an
// immutable variable's byte offset into the data section appended after
// the runtime bytecode, and its declared type.
type ImmutableSlot struct {
	Offset int
	Type   string
}

// Artifact is the compiled-source input to Contract (component H), spec
// §6's "External Interfaces / Compiler artifact": bytecode, ABI, and the
// layout tables a Vyper-like compiler would normally hand the harness. The
// source-map/AST/error-hint tables spec §6 also lists are deliberately not
// modeled here — this project has no compiler integration to populate
// them from, so Contract's stack traces fall back to the ABI-only
// decoding trace.BuildStackTrace already provides (see DESIGN.md).
type Artifact struct {
	ContractName string

	Bytecode        []byte // initcode: constructor logic ++ runtime
	BytecodeRuntime []byte // what ends up stored on-chain after a successful deploy

	ABI []ABIEntry

	StorageLayout map[string]StorageSlot
	CodeLayout    map[string]ImmutableSlot // immutable variables

	ImmutableSectionBytes int
}

// ctorType returns the parsed input types of the ABI's "constructor" entry,
// or nil if the artifact declares none (a zero-argument constructor).
func (a *Artifact) ctorArgTypes() ([]abi.Type, error) {
	for _, e := range a.ABI {
		if e.Type == "constructor" {
			types := make([]abi.Type, len(e.Inputs))
			for i, in := range e.Inputs {
				t, err := in.toType()
				if err != nil {
					return nil, err
				}
				types[i] = t
			}
			return types, nil
		}
	}
	return nil, nil
}
