package abi

// UnwrapReturn implements the ABI call return-unwrapping rule from spec
// §4.A/§4.I:
//
//	()        -> nil
//	(x,)      -> x
//	(x, y, …) -> []any{x, y, …}
//
// forceTuple keeps the tuple form even for a single component, for the case
// where the declared Vyper-side return type is itself a tuple (so a single
// struct return isn't mistaken for a single scalar return).
func UnwrapReturn(vals []any, forceTuple bool) any {
	switch {
	case len(vals) == 0:
		return nil
	case len(vals) == 1 && !forceTuple:
		return vals[0]
	default:
		return vals
	}
}
