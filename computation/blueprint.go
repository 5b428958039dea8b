// Package computation reconstructs the EVM "Computation" execution record
// (msg, children, logs, output, error, gas) from go-ethereum's tracing
// hooks, and implements the CREATE-hijack logic that auto-registers
// contracts deployed through an EIP-5202 blueprint or an EIP-1167 minimal
// proxy.
package computation

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vyperlang/boa/crypto"
	"github.com/vyperlang/boa/types"
)

var (
	eip1167Prefix = []byte{0x36, 0x3d, 0x3d, 0x37, 0x3d, 0x3d, 0x3d, 0x36, 0x3d, 0x73}
	eip1167Suffix = []byte{0x5a, 0xf4, 0x3d, 0x82, 0x80, 0x3e, 0x90, 0x3d, 0x91, 0x60, 0x2b, 0x57, 0xfd, 0x5b, 0xf3}

	// ErrNotMinimalProxy is returned by ExtractMinimalProxyTarget when the
	// bytecode does not match the EIP-1167 template.
	ErrNotMinimalProxy = errors.New("computation: not an EIP-1167 minimal proxy")

	// ErrNotBlueprint and friends are returned by ParseBlueprint.
	ErrNotBlueprint        = errors.New("computation: not an EIP-5202 blueprint")
	ErrBlueprintReserved   = errors.New("computation: reserved preamble bits are set")
	ErrBlueprintEmptyInit  = errors.New("computation: blueprint initcode is empty")
)

// IsMinimalProxy reports whether bytecode is a runtime that DELEGATECALLs a
// fixed target per EIP-1167.
func IsMinimalProxy(bytecode []byte) bool {
	return bytes.HasPrefix(bytecode, eip1167Prefix) &&
		bytes.HasSuffix(bytecode, eip1167Suffix) &&
		len(bytecode) == len(eip1167Prefix)+types.AddressLength+len(eip1167Suffix)
}

// ExtractMinimalProxyTarget returns the delegation target embedded in an
// EIP-1167 minimal proxy's runtime bytecode.
func ExtractMinimalProxyTarget(bytecode []byte) (types.Address, error) {
	if !IsMinimalProxy(bytecode) {
		return types.Address{}, ErrNotMinimalProxy
	}
	raw := bytecode[len(eip1167Prefix) : len(eip1167Prefix)+types.AddressLength]
	return types.BytesToAddress(raw), nil
}

// Blueprint is the parsed form of an EIP-5202 blueprint container.
type Blueprint struct {
	Version      uint8
	PreambleData []byte // nil if the container carried no length-encoded preamble
	Initcode     []byte
}

// ParseBlueprint decodes an EIP-5202 blueprint. The wire format is:
//
//	bytecode[0:2]  == 0xFE71
//	bytecode[2]    == version<<2 | n_length_bytes (n_length_bytes == 0b11 is reserved)
//	bytecode[3:3+n]                = big-endian data_length
//	bytecode[3+n : 3+n+data_length] = preamble data (only if n > 0)
//	remainder                       = initcode (must be non-empty)
func ParseBlueprint(bytecode []byte) (Blueprint, error) {
	if len(bytecode) < 3 || bytecode[0] != 0xFE || bytecode[1] != 0x71 {
		return Blueprint{}, ErrNotBlueprint
	}
	version := (bytecode[2] >> 2) & 0x3F
	nLengthBytes := int(bytecode[2] & 0x3)
	if nLengthBytes == 0b11 {
		return Blueprint{}, ErrBlueprintReserved
	}

	if len(bytecode) < 3+nLengthBytes {
		return Blueprint{}, fmt.Errorf("computation: truncated blueprint preamble length")
	}
	var dataLength int
	for _, b := range bytecode[3 : 3+nLengthBytes] {
		dataLength = dataLength<<8 | int(b)
	}

	var preamble []byte
	dataStart := 3 + nLengthBytes
	if nLengthBytes != 0 {
		if len(bytecode) < dataStart+dataLength {
			return Blueprint{}, fmt.Errorf("computation: truncated blueprint preamble data")
		}
		preamble = bytecode[dataStart : dataStart+dataLength]
	}

	initcode := bytecode[dataStart+dataLength:]
	if len(initcode) == 0 {
		return Blueprint{}, ErrBlueprintEmptyInit
	}

	return Blueprint{Version: version, PreambleData: preamble, Initcode: initcode}, nil
}

// CreateAddress computes the address a CREATE from sender at the given
// nonce would deploy to: the low 20 bytes of keccak256(rlp([sender, nonce])).
func CreateAddress(sender types.Address, nonce uint64) types.Address {
	enc := rlpEncodeCreate(sender, nonce)
	return types.BytesToAddress(crypto.Keccak256(enc)[12:])
}

// Create2Address computes the EIP-1014 CREATE2 address:
//
//	keccak256(0xFF ++ deployer ++ salt ++ keccak256(initcode))[-20:]
func Create2Address(deployer types.Address, salt types.Hash, initcode []byte) types.Address {
	initHash := crypto.Keccak256(initcode)
	buf := make([]byte, 0, 1+types.AddressLength+types.HashLength+types.HashLength)
	buf = append(buf, 0xFF)
	buf = append(buf, deployer.Bytes()...)
	buf = append(buf, salt.Bytes()...)
	buf = append(buf, initHash...)
	return types.BytesToAddress(crypto.Keccak256(buf)[12:])
}

// Create2AddressFromBlueprint derives the CREATE2 address for a contract
// deployed via `create_minimal_proxy_to`/`create_from_blueprint`, where the
// hashed initcode is the blueprint's *parsed* initcode section, not the
// raw blueprint bytecode (spec §6, "EIP-5202 blueprint").
func Create2AddressFromBlueprint(deployer types.Address, salt types.Hash, blueprintBytecode []byte) (types.Address, error) {
	bp, err := ParseBlueprint(blueprintBytecode)
	if err != nil {
		return types.Address{}, err
	}
	return Create2Address(deployer, salt, bp.Initcode), nil
}

// rlpEncodeCreate encodes [sender, nonce] the way RLP would for a CREATE
// address derivation, without pulling in a general RLP encoder: a 2-element
// list of a 20-byte string and a minimal big-endian nonce string.
func rlpEncodeCreate(sender types.Address, nonce uint64) []byte {
	nonceBytes := encodeMinimalUint(nonce)

	addrField := rlpBytes(sender.Bytes())
	nonceField := rlpBytes(nonceBytes)

	payload := append(append([]byte{}, addrField...), nonceField...)
	return append(rlpListHeader(len(payload)), payload...)
}

func encodeMinimalUint(v uint64) []byte {
	if v == 0 {
		return nil
	}
	var b [8]byte
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	i := 0
	for i < 8 && b[i] == 0 {
		i++
	}
	return b[i:]
}

func rlpBytes(b []byte) []byte {
	if len(b) == 1 && b[0] < 0x80 {
		return b
	}
	if len(b) < 56 {
		return append([]byte{byte(0x80 + len(b))}, b...)
	}
	lenBytes := encodeMinimalUint(uint64(len(b)))
	return append(append([]byte{byte(0xb7 + len(lenBytes))}, lenBytes...), b...)
}

func rlpListHeader(payloadLen int) []byte {
	if payloadLen < 56 {
		return []byte{byte(0xc0 + payloadLen)}
	}
	lenBytes := encodeMinimalUint(uint64(payloadLen))
	return append([]byte{byte(0xf7 + len(lenBytes))}, lenBytes...)
}
