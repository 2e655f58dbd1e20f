// Package quickxorhash implements QuickXorHash, the content hash OneDrive
// reports for every file.
//
// Each input byte is XORed into a 160-bit circular register at a bit offset
// that advances by 11 per byte. The finished digest XORs the total input
// length, little-endian, into its last 8 bytes.
//
// Algorithm reference:
// https://learn.microsoft.com/en-us/onedrive/developer/code-snippets/quickxorhash
package quickxorhash

import (
	"encoding/base64"
	"encoding/binary"
	"hash"
)

const (
	// Size is the length, in bytes, of a QuickXorHash digest.
	Size = 20

	// BlockSize is the preferred input block size for the hash, in bytes.
	BlockSize = 64

	shift       = 11
	widthInBits = Size * 8
)

// digest holds the register as bytes; bit k of the register is bit k%8 of
// cell k/8.
type digest struct {
	cells  [Size]byte
	offset int // bit offset of the next byte, in [0, widthInBits)
	length uint64
}

// New returns a new hash.Hash computing the QuickXorHash checksum.
func New() hash.Hash {
	return &digest{}
}

// Write absorbs p into the running hash. It never fails.
func (d *digest) Write(p []byte) (int, error) {
	off := d.offset

	for _, b := range p {
		idx, sh := off/8, off%8
		v := uint16(b) << sh

		d.cells[idx] ^= byte(v)
		d.cells[(idx+1)%Size] ^= byte(v >> 8)

		off += shift
		if off >= widthInBits {
			off -= widthInBits
		}
	}

	d.offset = off
	d.length += uint64(len(p))

	return len(p), nil
}

// Sum appends the digest to b without changing the hash state.
func (d *digest) Sum(b []byte) []byte {
	out := d.cells

	var lengthBytes [8]byte
	binary.LittleEndian.PutUint64(lengthBytes[:], d.length)

	for i, lb := range lengthBytes {
		out[Size-len(lengthBytes)+i] ^= lb
	}

	return append(b, out[:]...)
}

// Reset resets the hash to its initial state.
func (d *digest) Reset() {
	*d = digest{}
}

// Size returns the number of bytes Sum will return.
func (d *digest) Size() int {
	return Size
}

// BlockSize returns the hash's underlying block size.
func (d *digest) BlockSize() int {
	return BlockSize
}

// Sum returns the base64 digest of data, the encoding OneDrive uses in
// file hash facets.
func Sum(data []byte) string {
	h := New()
	_, _ = h.Write(data)

	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
