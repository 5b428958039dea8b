package types

// Log is one LOG0..LOG4 emission. ID is a monotonically increasing counter
// assigned by the computation hook as each LOG opcode executes; log
// collection orders by ID, never by reconstructed tree position, per the
// ordering rule in spec §5.
type Log struct {
	ID      uint64
	Address Address
	Topics  []Hash
	Data    []byte
}
