package recording

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic is the 4-byte frame header of every zstd stream.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// resolvePath tries path.zstd first, then path itself, mirroring the
// save-side suffix mapping.
func resolvePath(path string) (string, error) {
	if !strings.HasSuffix(path, ".zstd") {
		if _, err := os.Stat(path + ".zstd"); err == nil {
			return path + ".zstd", nil
		}
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("load recording %s: %w", path, err)
	}
	return path, nil
}

// Load reads, decompresses, and fully decodes a recording. Every failure
// mode names the file.
func Load(path string) (*Recording, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("load recording %s: read: %w", resolved, err)
	}

	if bytes.HasPrefix(data, zstdMagic) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("load recording %s: zstd init: %w", resolved, err)
		}
		defer dec.Close()
		data, err = dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("load recording %s: decompress: %w", resolved, err)
		}
	}

	var rec Recording
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("load recording %s: parse: %w", resolved, err)
	}
	if err := validateSchema(rec.SchemaVersion); err != nil {
		return nil, fmt.Errorf("load recording %s: %w", resolved, err)
	}
	return &rec, nil
}

// openStream opens a recording for streaming reads, transparently
// layering a zstd decoder when the content is compressed. The returned
// closer releases both the decoder and the file.
func openStream(path string) (io.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load recording %s: open: %w", path, err)
	}

	head := make([]byte, 4)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		f.Close()
		return nil, nil, fmt.Errorf("load recording %s: read: %w", path, err)
	}
	combined := io.MultiReader(bytes.NewReader(head[:n]), f)

	if bytes.Equal(head[:n], zstdMagic) {
		dec, err := zstd.NewReader(combined)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("load recording %s: zstd init: %w", path, err)
		}
		return dec, func() { dec.Close(); f.Close() }, nil
	}
	return combined, func() { f.Close() }, nil
}
