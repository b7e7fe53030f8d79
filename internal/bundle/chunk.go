package bundle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// chunkHeader is the 16-byte header prefixing every on-disk chunk. The
// bundle format's blosc codec is stood in for here by zstd
// (github.com/klauspost/compress) — see DESIGN.md for why.
type chunkHeader struct {
	Ver       uint8
	LZVer     uint8
	Flags     uint8
	TypeSize  uint8
	NBytes    uint32 // decompressed length
	BlockSize uint32
	CBytes    uint32 // on-disk payload length
}

const (
	flagCompressed uint8 = 1 << 0
	headerSize           = 16
)

func writeChunkHeader(w io.Writer, h chunkHeader) error {
	buf := make([]byte, headerSize)
	buf[0] = h.Ver
	buf[1] = h.LZVer
	buf[2] = h.Flags
	buf[3] = h.TypeSize
	binary.LittleEndian.PutUint32(buf[4:8], h.NBytes)
	binary.LittleEndian.PutUint32(buf[8:12], h.BlockSize)
	binary.LittleEndian.PutUint32(buf[12:16], h.CBytes)
	_, err := w.Write(buf)
	return err
}

func readChunkHeader(r io.Reader) (chunkHeader, error) {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return chunkHeader{}, err
	}
	return chunkHeader{
		Ver:       buf[0],
		LZVer:     buf[1],
		Flags:     buf[2],
		TypeSize:  buf[3],
		NBytes:    binary.LittleEndian.Uint32(buf[4:8]),
		BlockSize: binary.LittleEndian.Uint32(buf[8:12]),
		CBytes:    binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// writeChunks splits raw (already little-endian encoded) into chunks of
// at most chunkBytes, optionally zstd-compressing each, and writes them
// sequentially to w.
func writeChunks(w io.Writer, raw []byte, chunkBytes int, typeSize uint8, compress bool) error {
	if chunkBytes <= 0 {
		chunkBytes = len(raw)
	}
	if chunkBytes == 0 {
		return nil
	}
	var enc *zstd.Encoder
	if compress {
		var err error
		enc, err = zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("bundle: new zstd writer: %w", err)
		}
		defer enc.Close()
	}

	for off := 0; off < len(raw); off += chunkBytes {
		end := off + chunkBytes
		if end > len(raw) {
			end = len(raw)
		}
		piece := raw[off:end]

		h := chunkHeader{Ver: 1, LZVer: 1, TypeSize: typeSize, NBytes: uint32(len(piece)), BlockSize: uint32(chunkBytes)}
		payload := piece
		if compress {
			payload = enc.EncodeAll(piece, nil)
			h.Flags |= flagCompressed
		}
		h.CBytes = uint32(len(payload))

		if err := writeChunkHeader(w, h); err != nil {
			return err
		}
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// readChunks reads every chunk from r until EOF and returns the
// concatenated decompressed bytes.
func readChunks(r io.Reader) ([]byte, error) {
	var dec *zstd.Decoder
	var out bytes.Buffer
	for {
		h, err := readChunkHeader(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bundle: read chunk header: %w", err)
		}
		payload := make([]byte, h.CBytes)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("bundle: read chunk payload: %w", err)
		}
		if h.Flags&flagCompressed != 0 {
			if dec == nil {
				dec, err = zstd.NewReader(nil)
				if err != nil {
					return nil, fmt.Errorf("bundle: new zstd reader: %w", err)
				}
				defer dec.Close()
			}
			decoded, err := dec.DecodeAll(payload, make([]byte, 0, h.NBytes))
			if err != nil {
				return nil, fmt.Errorf("bundle: decompress chunk: %w", err)
			}
			out.Write(decoded)
		} else {
			out.Write(payload)
		}
	}
	return out.Bytes(), nil
}
