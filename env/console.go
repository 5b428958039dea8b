package env

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/vyperlang/boa/abi"
	"github.com/vyperlang/boa/crypto"
	"github.com/vyperlang/boa/types"
)

// ConsoleLogAddress is the conventional address Hardhat/Foundry's
// console.sol targets: contracts compiled against that library emit a
// STATICCALL to this address instead of a real precompile.
var ConsoleLogAddress = types.HexToAddress("0x000000000000000000636F6e736F6c652e6c6f67")

type consoleSig struct {
	argTypes []abi.Type
	format   string
}

// consoleSelectors maps a 4-byte selector to the argument types and a
// printf-style format string, covering console.sol's most common
// overloads. Unknown selectors are dumped as raw hex rather than erroring,
// since the precompile's entire purpose is "never break the call."
var consoleSelectors = map[[4]byte]consoleSig{}

func registerConsole(sig string, format string, types_ ...string) {
	argTypes := make([]abi.Type, len(types_))
	for i, s := range types_ {
		t, err := abi.ParseType(s)
		if err != nil {
			panic("env: bad console.log signature: " + err.Error())
		}
		argTypes[i] = t
	}
	sel := crypto.Selector(sig)
	consoleSelectors[sel] = consoleSig{argTypes: argTypes, format: format}
}

func init() {
	registerConsole("log(string)", "%s", "string")
	registerConsole("log(uint256)", "%s", "uint256")
	registerConsole("log(int256)", "%s", "int256")
	registerConsole("log(address)", "%s", "address")
	registerConsole("log(bool)", "%s", "bool")
	registerConsole("log(bytes)", "%s", "bytes")
	registerConsole("log(string,uint256)", "%s %s", "string", "uint256")
	registerConsole("log(string,string)", "%s %s", "string", "string")
	registerConsole("log(string,address)", "%s %s", "string", "address")
	registerConsole("log(string,bool)", "%s %s", "string", "bool")
	registerConsole("log(uint256,uint256)", "%s %s", "uint256", "uint256")
}

// ConsoleLogSink receives formatted console.log lines as they're emitted
// during execution. Env wires this to whatever the caller wants (stdout,
// a buffer for test assertions) rather than printing directly, since a
// library shouldn't decide where its output goes.
type ConsoleLogSink func(line string)

// ConsoleLogPrecompile builds the console.log precompile implementation:
// it decodes the selector-prefixed calldata per consoleSelectors, formats
// a line, and hands it to sink. It never returns an error and never
// reverts — an unrecognized call is reported verbatim rather than failing
// the transaction, matching real console.sol's "always succeeds" contract.
func ConsoleLogPrecompile(sink ConsoleLogSink) PrecompileFunc {
	return func(input []byte) ([]byte, error) {
		if sink == nil || len(input) < 4 {
			return nil, nil
		}
		var sel [4]byte
		copy(sel[:], input[:4])
		sig, ok := consoleSelectors[sel]
		if !ok {
			sink(fmt.Sprintf("console.log(unrecognized selector %x)", sel))
			return nil, nil
		}
		vals, err := abi.DecodeArgs(sig.argTypes, input[4:])
		if err != nil {
			sink(fmt.Sprintf("console.log(undecodable args for selector %x)", sel))
			return nil, nil
		}
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = formatConsoleArg(v)
		}
		line := sig.format
		for _, p := range parts {
			line = strings.Replace(line, "%s", p, 1)
		}
		sink(line)
		return nil, nil
	}
}

func formatConsoleArg(v any) string {
	switch x := v.(type) {
	case *big.Int:
		return x.String()
	case types.Address:
		return x.Hex()
	case bool:
		if x {
			return "true"
		}
		return "false"
	case []byte:
		return fmt.Sprintf("0x%x", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
