package chunkfile

import (
	"fmt"
	"io"
	"os"

	"github.com/golang/snappy"
)

// Read loads and decompresses the block stored at path, verifying the footer
// checksum against the decoded contents.
func Read(path string) ([]byte, Footer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, Footer{}, err
	}
	defer file.Close()

	if _, err := DecodeHeader(file); err != nil {
		return nil, Footer{}, err
	}
	info, err := file.Stat()
	if err != nil {
		return nil, Footer{}, err
	}
	if info.Size() < headerLen+footerLen {
		return nil, Footer{}, io.ErrUnexpectedEOF
	}
	if _, err := file.Seek(-footerLen, io.SeekEnd); err != nil {
		return nil, Footer{}, err
	}
	footer, err := DecodeFooter(file)
	if err != nil {
		return nil, Footer{}, err
	}
	if int64(footer.BlockLen) != info.Size()-headerLen-footerLen {
		return nil, Footer{}, fmt.Errorf("chunkfile: block length %d disagrees with file size %d", footer.BlockLen, info.Size())
	}
	compressed := make([]byte, footer.BlockLen)
	if _, err := file.ReadAt(compressed, headerLen); err != nil {
		return nil, Footer{}, err
	}
	block, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, Footer{}, fmt.Errorf("chunkfile: decompress %s: %w", path, err)
	}
	if uint32(len(block)) != footer.RawLen {
		return nil, Footer{}, fmt.Errorf("chunkfile: raw length %d, footer recorded %d", len(block), footer.RawLen)
	}
	if HashBlock(block) != footer.Checksum {
		return nil, Footer{}, fmt.Errorf("chunkfile: checksum mismatch in %s", path)
	}
	return block, footer, nil
}

// Verify fully checks the file at path: envelope, decompressed block, and
// content checksum. Replay uses it to prove a catalog entry still points at
// intact durable storage, so damage anywhere in the file must fail here.
func Verify(path string) (Footer, error) {
	_, footer, err := Read(path)
	return footer, err
}
