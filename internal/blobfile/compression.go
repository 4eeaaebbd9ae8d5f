package blobfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects the block compression of a blob file.
type Codec uint8

const (
	// CodecNone stores payloads verbatim.
	CodecNone Codec = 0
	// CodecLZ4 uses LZ4 block compression.
	CodecLZ4 Codec = 1
	// CodecZSTD uses ZSTD, better ratio at higher cost.
	CodecZSTD Codec = 2
	// CodecSnappy uses Snappy block compression.
	CodecSnappy Codec = 3
)

// ErrUnknownCodec is returned for codec values this package does not know.
var ErrUnknownCodec = errors.New("blobfile: unknown codec")

// ParseCodec converts a configuration name into a Codec.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZSTD, nil
	case "snappy":
		return CodecSnappy, nil
	}
	return CodecNone, fmt.Errorf("%w: %q", ErrUnknownCodec, s)
}

// Valid reports whether c is a known codec.
func (c Codec) Valid() bool { return c <= CodecSnappy }

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZSTD:
		return "zstd"
	case CodecSnappy:
		return "snappy"
	}
	return fmt.Sprintf("codec(%d)", uint8(c))
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Block framing: [uncompressed uint32][compressed uint32][data].
// A compressed size of 0 marks a block stored raw.
const blockHeaderSize = 8

// maxRatio is the largest compressed/raw ratio still worth storing compressed.
const maxRatio = 0.9

func compressBlock(data []byte, c Codec) ([]byte, error) {
	if c == CodecNone || len(data) == 0 {
		return data, nil
	}

	var compressed []byte
	var err error
	switch c {
	case CodecLZ4:
		compressed, err = compressLZ4(data)
	case CodecZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	case CodecSnappy:
		compressed = snappy.Encode(nil, data)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, c)
	}
	if err != nil {
		return nil, err
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*maxRatio {
		out := make([]byte, blockHeaderSize+len(data))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
		copy(out[blockHeaderSize:], data)
		return out, nil
	}

	out := make([]byte, blockHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[blockHeaderSize:], compressed)
	return out, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	buf := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, buf, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil // incompressible
	}
	return buf[:n], nil
}

// decompressBlock decodes a framed block. The result never aliases data.
func decompressBlock(data []byte, c Codec) ([]byte, error) {
	if c == CodecNone {
		return append([]byte(nil), data...), nil
	}
	if len(data) < blockHeaderSize {
		return nil, ErrCorruptBlock
	}
	rawSize := binary.LittleEndian.Uint32(data[0:])
	compSize := binary.LittleEndian.Uint32(data[4:])

	if compSize == 0 {
		if uint32(len(data)) < blockHeaderSize+rawSize {
			return nil, ErrCorruptBlock
		}
		return append([]byte(nil), data[blockHeaderSize:blockHeaderSize+rawSize]...), nil
	}
	if uint32(len(data)) < blockHeaderSize+compSize {
		return nil, ErrCorruptBlock
	}
	src := data[blockHeaderSize : blockHeaderSize+compSize]
	out := make([]byte, rawSize)

	switch c {
	case CodecLZ4:
		n, err := lz4.UncompressBlock(src, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptBlock, err)
		}
		out = out[:n]
	case CodecZSTD:
		dec := getZstdDecoder()
		decoded, err := dec.DecodeAll(src, out[:0])
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptBlock, err)
		}
		out = decoded
	case CodecSnappy:
		decoded, err := snappy.Decode(out, src)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptBlock, err)
		}
		out = decoded
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, c)
	}
	if uint32(len(out)) != rawSize {
		return nil, fmt.Errorf("%w: decoded %d bytes, want %d", ErrCorruptBlock, len(out), rawSize)
	}
	return out, nil
}
