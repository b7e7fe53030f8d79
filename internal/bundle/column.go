package bundle

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// writeFloat64Column writes values to path as one or more chunks per
// writeChunks, little-endian f64.
func writeFloat64Column(path string, values []float64, chunkBytes int, compress bool) error {
	raw := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v))
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("bundle: create %q: %w", path, err)
	}
	defer f.Close()
	return writeChunks(f, raw, chunkBytes, 8, compress)
}

func readFloat64Column(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bundle: open %q: %w", path, err)
	}
	defer f.Close()
	raw, err := readChunks(f)
	if err != nil {
		return nil, err
	}
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("bundle: %q: column length %d not a multiple of 8: %w", path, len(raw), errInvalidData)
	}
	out := make([]float64, len(raw)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out, nil
}

// writeInt64Column writes values (typically timestamps) to path.
func writeInt64Column(path string, values []int64, chunkBytes int, compress bool) error {
	raw := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(raw[i*8:], uint64(v))
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("bundle: create %q: %w", path, err)
	}
	defer f.Close()
	return writeChunks(f, raw, chunkBytes, 8, compress)
}

func readInt64Column(path string) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bundle: open %q: %w", path, err)
	}
	defer f.Close()
	raw, err := readChunks(f)
	if err != nil {
		return nil, err
	}
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("bundle: %q: column length %d not a multiple of 8: %w", path, len(raw), errInvalidData)
	}
	out := make([]int64, len(raw)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out, nil
}
