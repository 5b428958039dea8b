// Package fastmem implements the word-cache memory layer from spec
// component D: a cache of whole 32-byte words layered above a plain byte
// buffer, so callers doing word-aligned reads/writes (the common case for
// EVM memory traffic — PUSH/MLOAD/MSTORE operate on words) skip the
// byte-copy path entirely.
package fastmem

import "github.com/holiman/uint256"

const wordSize = 32

// dirty is a cache-slot state: clean means the cached word mirrors the
// byte buffer; dirty means the cache is newer and the byte buffer needs a
// writeback before any byte-level read.
type dirty uint8

const (
	clean dirty = iota
	stale       // the slot has never been populated; falls through to a byte read
	needsWriteback
)

// Memory layers a word cache over a byte-addressable buffer, grounded on
// the plain byte-store model (store []byte, Resize/Get/Set) and extended
// with the cache bookkeeping spec component D calls for.
type Memory struct {
	store []byte

	words   []uint256.Int
	states  []dirty
}

// New returns an empty Memory.
func New() *Memory {
	return &Memory{}
}

// FromBytes wraps an already-materialized memory snapshot (e.g. the EVM's
// memory at the point a call reverted) so callers decoding it — stack
// traces pulling local-variable values out of a failing frame, spec
// §4.J's "walking the compiler's frame layout over EVM memory" — get the
// same word-cache fast path as live execution. data is copied, so later
// changes to the caller's slice do not affect the Memory.
func FromBytes(data []byte) *Memory {
	m := &Memory{store: append([]byte(nil), data...)}
	words := m.wordCount()
	m.words = make([]uint256.Int, words)
	m.states = make([]dirty, words)
	for i := range m.states {
		m.states[i] = stale
	}
	return m
}

func (m *Memory) wordCount() int { return len(m.store) / wordSize }

// Extend grows the byte backing and the word cache to cover [0, pos+size),
// rounded up to whole words. New word slots are marked stale: nothing has
// been cached there yet, so a read must fall through to the byte buffer
// (which is itself zero-filled by append).
func (m *Memory) Extend(pos, size uint64) {
	if size == 0 {
		return
	}
	need := pos + size
	if need <= uint64(len(m.store)) {
		return
	}
	words := (need + wordSize - 1) / wordSize
	newLen := words * wordSize
	m.store = append(m.store, make([]byte, newLen-uint64(len(m.store)))...)
	for uint64(len(m.words)) < words {
		m.words = append(m.words, uint256.Int{})
		m.states = append(m.states, stale)
	}
}

// flushRange writes back any dirty cached words whose bytes overlap
// [offset, offset+size) so a subsequent byte-level read sees consistent
// data — the invariant spec component D requires.
func (m *Memory) flushRange(offset, size uint64) {
	if size == 0 {
		return
	}
	firstWord := offset / wordSize
	lastWord := (offset + size - 1) / wordSize
	for w := firstWord; w <= lastWord && int(w) < len(m.states); w++ {
		if m.states[w] == needsWriteback {
			m.writeback(w)
		}
	}
}

func (m *Memory) writeback(word uint64) {
	b := m.words[word].Bytes32()
	copy(m.store[word*wordSize:(word+1)*wordSize], b[:])
	m.states[word] = clean
}

// ReadWord returns the 32-byte word at pos. When pos is word-aligned and
// the cache slot is clean or dirty, it's served directly from the cache;
// otherwise it falls back to a byte read (caching the result as clean).
func (m *Memory) ReadWord(pos uint64) uint256.Int {
	if pos%wordSize == 0 {
		word := pos / wordSize
		if int(word) < len(m.states) && m.states[word] != stale {
			return m.words[word]
		}
	}
	var v uint256.Int
	v.SetBytes(m.readBytesRaw(pos, wordSize))
	if pos%wordSize == 0 {
		word := pos / wordSize
		if int(word) < len(m.states) {
			m.words[word] = v
			m.states[word] = clean
		}
	}
	return v
}

// WriteWord stores val at pos, word-aligned. The write lands in the cache
// and is marked pending writeback; it's only flushed to the byte buffer on
// a subsequent byte-level read/write that overlaps it.
func (m *Memory) WriteWord(pos uint64, val uint256.Int) {
	if pos%wordSize != 0 {
		b := val.Bytes32()
		m.writeRaw(pos, b[:])
		return
	}
	word := pos / wordSize
	m.Extend(pos, wordSize)
	m.words[word] = val
	m.states[word] = needsWriteback
}

// ReadBytes returns a copy of [offset, offset+size), flushing any
// overlapping dirty cache words first.
func (m *Memory) ReadBytes(offset, size uint64) []byte {
	if size == 0 {
		return nil
	}
	m.flushRange(offset, size)
	return m.readBytesRaw(offset, size)
}

func (m *Memory) readBytesRaw(offset, size uint64) []byte {
	out := make([]byte, size)
	if offset >= uint64(len(m.store)) {
		return out
	}
	end := offset + size
	if end > uint64(len(m.store)) {
		end = uint64(len(m.store))
	}
	copy(out, m.store[offset:end])
	return out
}

// Write copies value into memory at offset, flushing overlapping dirty
// cache words first so the byte buffer starts from a consistent base.
func (m *Memory) Write(offset uint64, value []byte) {
	if len(value) == 0 {
		return
	}
	m.flushRange(offset, uint64(len(value)))
	m.writeRaw(offset, value)
	m.invalidateRange(offset, uint64(len(value)))
}

func (m *Memory) writeRaw(offset uint64, value []byte) {
	copy(m.store[offset:offset+uint64(len(value))], value)
}

// invalidateRange marks cache words overlapping the just-written byte
// range as stale, so the next ReadWord re-derives them from the buffer
// rather than serving an out-of-date cached value.
func (m *Memory) invalidateRange(offset, size uint64) {
	firstWord := offset / wordSize
	lastWord := (offset + size - 1) / wordSize
	for w := firstWord; w <= lastWord && int(w) < len(m.states); w++ {
		if m.states[w] == clean {
			m.states[w] = stale
		}
	}
}

// Len returns the current byte length of the backing buffer.
func (m *Memory) Len() int { return len(m.store) }

// Data returns a copy of the full memory contents, with all dirty words
// flushed first.
func (m *Memory) Data() []byte {
	m.flushRange(0, uint64(len(m.store)))
	out := make([]byte, len(m.store))
	copy(out, m.store)
	return out
}
