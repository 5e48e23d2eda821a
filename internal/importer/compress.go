package importer

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/pierrec/lz4/v4"

	"github.com/mealplanner/importer/internal/common/configtypes"
)

// ErrDecompression is returned when a cached payload cannot be decoded.
var ErrDecompression = errors.New("decompression failed")

// compressMinSize is the smallest payload worth compressing.
const compressMinSize = 1024

// Payload header bytes. Redis values carry no file extension, so the
// algorithm is recorded in front of the data.
const (
	headerNone   byte = 0
	headerSnappy byte = 1
	headerLZ4    byte = 2
)

// compress encodes content with the named algorithm and prefixes the header.
// Small payloads and unknown algorithms are stored uncompressed.
func compress(content []byte, algorithm string) ([]byte, error) {
	if len(content) < compressMinSize {
		algorithm = configtypes.CompressionNone
	}

	switch algorithm {
	case configtypes.CompressionSnappy:
		return append([]byte{headerSnappy}, snappy.Encode(nil, content)...), nil

	case configtypes.CompressionLZ4:
		var buf bytes.Buffer
		buf.WriteByte(headerLZ4)
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(content); err != nil {
			w.Close()
			return nil, fmt.Errorf("lz4 compression failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compression close failed: %w", err)
		}
		return buf.Bytes(), nil

	default:
		return append([]byte{headerNone}, content...), nil
	}
}

// decompress reverses compress based on the header byte.
func decompress(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecompression)
	}

	header, data := payload[0], payload[1:]
	switch header {
	case headerNone:
		return data, nil

	case headerSnappy:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrDecompression, err)
		}
		return out, nil

	case headerLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrDecompression, err)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: unknown header %d", ErrDecompression, header)
	}
}
