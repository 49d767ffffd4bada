package serum

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Reader extracts little-endian fields at fixed offsets. Offsets come from the
// documented account layouts, so an out of range read is a programming error
// and panics instead of returning an error.
type Reader struct {
	buf []byte
}

// NewReader wraps buf without copying it.
func NewReader(buf []byte) Reader {
	return Reader{buf: buf}
}

// Len returns the number of bytes available to the reader.
func (r Reader) Len() int {
	return len(r.buf)
}

// Slice returns n bytes starting at off. The returned slice aliases the buffer.
func (r Reader) Slice(off, n int) []byte {
	r.check(off, n)
	return r.buf[off : off+n]
}

// Sub returns a reader over n bytes starting at off.
func (r Reader) Sub(off, n int) Reader {
	return Reader{buf: r.Slice(off, n)}
}

func (r Reader) U8(off int) uint8 {
	return must(r.decoder(off, 1).ReadUint8())
}

func (r Reader) U16(off int) uint16 {
	return must(r.decoder(off, 2).ReadUint16(bin.LE))
}

func (r Reader) U32(off int) uint32 {
	return must(r.decoder(off, 4).ReadUint32(bin.LE))
}

func (r Reader) U64(off int) uint64 {
	return must(r.decoder(off, 8).ReadUint64(bin.LE))
}

func (r Reader) I64(off int) int64 {
	return must(r.decoder(off, 8).ReadInt64(bin.LE))
}

// U128 reads a 128-bit little-endian integer: low word first, high word second.
func (r Reader) U128(off int) bin.Uint128 {
	return must(r.decoder(off, 16).ReadUint128(bin.LE))
}

// PublicKey copies the 32 bytes at off into a solana.PublicKey.
func (r Reader) PublicKey(off int) solana.PublicKey {
	return solana.PublicKeyFromBytes(r.Slice(off, solana.PublicKeyLength))
}

func (r Reader) decoder(off, width int) *bin.Decoder {
	r.check(off, width)
	return bin.NewBinDecoder(r.buf[off : off+width])
}

func (r Reader) check(off, width int) {
	if off < 0 || width < 0 || off+width > len(r.buf) {
		panic(fmt.Sprintf("serum: read of %d bytes at offset %d exceeds buffer of %d bytes", width, off, len(r.buf)))
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(fmt.Sprintf("serum: %v", err))
	}
	return v
}
