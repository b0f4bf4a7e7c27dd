// Package chunkfile implements the durable envelope for persisted chunks:
// a fixed header, one snappy-compressed column block, and a checksummed
// footer. The control plane treats the block as opaque bytes; physical
// column encodings live outside this subsystem.
package chunkfile

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// Header is written at the start of each chunk file.
type Header struct {
	Magic   uint32
	Version uint32
}

const (
	chunkMagic = 0x434c4348 // "CLCH"
	headerLen  = 4 + 4
)

// Footer closes a chunk file. The checksum covers the uncompressed block.
type Footer struct {
	Magic         uint32
	Rows          uint64
	BlockLen      uint32 // compressed length on disk
	RawLen        uint32 // uncompressed length
	Checksum      [32]byte
	FooterListLen uint32 // reserved, zero
}

const footerLen = 4 + 8 + 4 + 4 + 32 + 4

// HeaderLen returns the encoded header length.
func HeaderLen() int64 { return headerLen }

// FooterLen returns the encoded footer length.
func FooterLen() int64 { return footerLen }

// NewHeader returns a header with the magic and version set.
func NewHeader(version uint32) Header {
	return Header{Magic: chunkMagic, Version: version}
}

// EncodeHeader writes the header.
func EncodeHeader(w io.Writer, h Header) error {
	var buf [headerLen]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	_, err := w.Write(buf[:])
	return err
}

// DecodeHeader reads and validates the header.
func DecodeHeader(r io.Reader) (Header, error) {
	var buf [headerLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	h := Header{
		Magic:   binary.LittleEndian.Uint32(buf[0:4]),
		Version: binary.LittleEndian.Uint32(buf[4:8]),
	}
	if h.Magic != chunkMagic {
		return Header{}, fmt.Errorf("chunkfile: invalid header magic %#x", h.Magic)
	}
	return h, nil
}

// EncodeFooter writes the footer.
func EncodeFooter(w io.Writer, f Footer) error {
	var buf [footerLen]byte
	binary.LittleEndian.PutUint32(buf[0:4], f.Magic)
	binary.LittleEndian.PutUint64(buf[4:12], f.Rows)
	binary.LittleEndian.PutUint32(buf[12:16], f.BlockLen)
	binary.LittleEndian.PutUint32(buf[16:20], f.RawLen)
	copy(buf[20:52], f.Checksum[:])
	binary.LittleEndian.PutUint32(buf[52:56], f.FooterListLen)
	_, err := w.Write(buf[:])
	return err
}

// DecodeFooter reads and validates the footer.
func DecodeFooter(r io.Reader) (Footer, error) {
	var buf [footerLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Footer{}, err
	}
	f := Footer{
		Magic:         binary.LittleEndian.Uint32(buf[0:4]),
		Rows:          binary.LittleEndian.Uint64(buf[4:12]),
		BlockLen:      binary.LittleEndian.Uint32(buf[12:16]),
		RawLen:        binary.LittleEndian.Uint32(buf[16:20]),
		FooterListLen: binary.LittleEndian.Uint32(buf[52:56]),
	}
	copy(f.Checksum[:], buf[20:52])
	if f.Magic != chunkMagic {
		return Footer{}, fmt.Errorf("chunkfile: invalid footer magic %#x", f.Magic)
	}
	return f, nil
}

// HashBlock computes the content checksum of an uncompressed block.
func HashBlock(data []byte) [32]byte {
	return blake3.Sum256(data)
}
