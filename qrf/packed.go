package qrf

import "log"

//PackedBuffer stores small unsigned codes at a fixed bit width. Codes are laid
//out back to back starting from bit 0 of the first byte; a code may span a
//byte boundary. The buffer is allocated once and rewritten in place, so the
//prediction hot path performs no allocations.
type PackedBuffer struct {
	bits uint8
	n    int
	data []byte
}

//NewPackedBuffer allocates a buffer for n codes of the given width.
func NewPackedBuffer(n int, bits uint8) *PackedBuffer {
	if bits < 1 || bits > MaxBits {
		log.Panicf("unsupported code width %d", bits)
	}
	totalBits := n * int(bits)
	return &PackedBuffer{
		bits: bits,
		n:    n,
		data: make([]byte, (totalBits+7)/8),
	}
}

//Len returns the number of codes the buffer holds.
func (buf *PackedBuffer) Len() int {
	return buf.n
}

//Bits returns the width of one code in bits.
func (buf *PackedBuffer) Bits() uint8 {
	return buf.bits
}

//Bytes returns the backing storage. The slice aliases the buffer and is
//overwritten by the next Set; callers that keep it must copy.
func (buf *PackedBuffer) Bytes() []byte {
	return buf.data
}

//Set writes the code at position ind. Bits of the code above the buffer width
//are discarded.
func (buf *PackedBuffer) Set(ind int, code uint8) {
	mask := uint16(1)<<buf.bits - 1
	bitPos := ind * int(buf.bits)
	byteInd := bitPos >> 3
	shift := uint(bitPos & 7)

	word := uint16(buf.data[byteInd])
	if byteInd+1 < len(buf.data) {
		word |= uint16(buf.data[byteInd+1]) << 8
	}
	word = word&^(mask<<shift) | (uint16(code)&mask)<<shift

	buf.data[byteInd] = byte(word)
	if byteInd+1 < len(buf.data) {
		buf.data[byteInd+1] = byte(word >> 8)
	}
}

//At reads the code at position ind.
func (buf *PackedBuffer) At(ind int) uint8 {
	mask := uint16(1)<<buf.bits - 1
	bitPos := ind * int(buf.bits)
	byteInd := bitPos >> 3
	shift := uint(bitPos & 7)

	word := uint16(buf.data[byteInd])
	if byteInd+1 < len(buf.data) {
		word |= uint16(buf.data[byteInd+1]) << 8
	}
	return uint8(word >> shift & mask)
}

//Reset zeroes the buffer.
func (buf *PackedBuffer) Reset() {
	for ind := range buf.data {
		buf.data[ind] = 0
	}
}
