// Package crc implements the incremental integrity digest used by the
// receive engine to validate file contents against the value carried in
// an EOF PDU.
package crc

import "hash/crc32"

// Digest is a running CRC-32/IEEE accumulator. It is a plain value type:
// the zero value is a fresh digest, and two digests compare equal
// with ==.
type Digest uint32

// Single folds one byte into the digest.
func (d Digest) Single(b byte) Digest {
	return Digest(crc32.Update(uint32(d), crc32.IEEETable, []byte{b}))
}

// Block folds an arbitrary byte slice into the digest.
func (d Digest) Block(buf []byte) Digest {
	if len(buf) == 0 {
		return d
	}
	return Digest(crc32.Update(uint32(d), crc32.IEEETable, buf))
}

// Uint32 returns the finalized digest value as carried on the wire.
func (d Digest) Uint32() uint32 {
	return uint32(d)
}
