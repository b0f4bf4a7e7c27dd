package chunkfile

import (
	"os"

	"github.com/golang/snappy"
)

// Write persists one chunk's block to path and returns the footer. The write
// goes through a temp file and rename so a crash never leaves a partial file
// at the durable location.
func Write(path string, version uint32, rows uint64, block []byte) (Footer, error) {
	footer := Footer{
		Magic:    chunkMagic,
		Rows:     rows,
		RawLen:   uint32(len(block)),
		Checksum: HashBlock(block),
	}
	compressed := snappy.Encode(nil, block)
	footer.BlockLen = uint32(len(compressed))

	tmp := path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return Footer{}, err
	}
	if err := EncodeHeader(file, NewHeader(version)); err != nil {
		_ = file.Close()
		return Footer{}, err
	}
	if _, err := file.Write(compressed); err != nil {
		_ = file.Close()
		return Footer{}, err
	}
	if err := EncodeFooter(file, footer); err != nil {
		_ = file.Close()
		return Footer{}, err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return Footer{}, err
	}
	if err := file.Close(); err != nil {
		return Footer{}, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return Footer{}, err
	}
	return footer, nil
}
