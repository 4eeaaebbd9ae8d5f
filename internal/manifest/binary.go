package manifest

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/hupe1980/readstore/internal/hash"
)

const (
	binaryMagic   = 0x54534452 // "RDST"
	binaryVersion = 1
)

// Version is the format version this code writes.
const Version = binaryVersion

// writeFramed writes the 16-byte preamble (magic, version, CRC32C and length
// of the payload) followed by the payload.
func writeFramed(w io.Writer, magic uint32, payload []byte) error {
	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], binaryVersion)
	binary.LittleEndian.PutUint32(header[8:12], hash.CRC32C(payload))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFramed(r io.Reader, magic uint32) ([]byte, uint32, error) {
	header := make([]byte, 16)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, 0, err
	}
	if got := binary.LittleEndian.Uint32(header[0:4]); got != magic {
		return nil, 0, fmt.Errorf("%w: %#x", ErrInvalidMagic, got)
	}
	version := binary.LittleEndian.Uint32(header[4:8])
	if version != binaryVersion {
		return nil, 0, &MismatchError{Field: "version", Want: binaryVersion, Got: uint64(version)}
	}
	checksum := binary.LittleEndian.Uint32(header[8:12])
	length := binary.LittleEndian.Uint32(header[12:16])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, 0, err
	}
	if hash.CRC32C(payload) != checksum {
		return nil, 0, ErrChecksum
	}
	return payload, version, nil
}

// WriteBinary writes the header.
// Payload:
//
//	CreatedAt       (8 bytes) UnixNano
//	RecordSizes     (3 x 4 bytes)
//	LibrarySize     (4 bytes)
//	StringSize      (4 bytes)
//	Counts          (3 x 4 bytes)
//	NumLibraries    (4 bytes)
//	NumStrings      (4 bytes)
//	Loaded          (8 bytes)
//	Errors          (8 bytes)
//	NumRandom       (8 bytes)
//	PackedMaxLength (4 bytes)
//	NormalMaxLength (4 bytes)
//	Compression     (1 byte)
//	Canonical       (1 byte)
//	LastClass       (1 byte)
func (i *Info) WriteBinary(w io.Writer) error {
	pb := newPayloadBuffer(make([]byte, 0, 128))

	pb.writeUint64(uint64(i.CreatedAt.UnixNano()))
	for _, s := range i.Layout.Records {
		pb.writeUint32(s)
	}
	pb.writeUint32(i.Layout.Library)
	pb.writeUint32(i.Layout.String)
	for _, c := range i.Counts {
		pb.writeUint32(c)
	}
	pb.writeUint32(i.NumLibraries)
	pb.writeUint32(i.NumStrings)
	pb.writeUint64(i.Loaded)
	pb.writeUint64(i.Errors)
	pb.writeUint64(i.NumRandom)
	pb.writeUint32(i.PackedMaxLength)
	pb.writeUint32(i.NormalMaxLength)
	pb.writeUint8(i.Compression)
	pb.writeBool(i.Canonical)
	pb.writeUint8(i.LastClass)

	if pb.err != nil {
		return pb.err
	}

	return writeFramed(w, binaryMagic, pb.buf)
}

// ReadBinary reads a header. A version other than Version is a *MismatchError.
func ReadBinary(r io.Reader) (*Info, error) {
	payload, version, err := readFramed(r, binaryMagic)
	if err != nil {
		return nil, err
	}

	pb := newPayloadBuffer(payload)
	i := &Info{Version: int(version)}

	i.CreatedAt = time.Unix(0, int64(pb.readUint64()))
	for c := range i.Layout.Records {
		i.Layout.Records[c] = pb.readUint32()
	}
	i.Layout.Library = pb.readUint32()
	i.Layout.String = pb.readUint32()
	for c := range i.Counts {
		i.Counts[c] = pb.readUint32()
	}
	i.NumLibraries = pb.readUint32()
	i.NumStrings = pb.readUint32()
	i.Loaded = pb.readUint64()
	i.Errors = pb.readUint64()
	i.NumRandom = pb.readUint64()
	i.PackedMaxLength = pb.readUint32()
	i.NormalMaxLength = pb.readUint32()
	i.Compression = pb.readUint8()
	i.Canonical = pb.readBool()
	i.LastClass = pb.readUint8()

	if pb.err != nil {
		return nil, pb.err
	}
	return i, nil
}

type payloadBuffer struct {
	buf []byte
	pos int
	err error
}

func newPayloadBuffer(b []byte) *payloadBuffer {
	return &payloadBuffer{buf: b}
}

func (p *payloadBuffer) writeUint64(v uint64) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint64(p.buf, v)
}

func (p *payloadBuffer) writeUint32(v uint32) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
}

func (p *payloadBuffer) writeUint8(v uint8) {
	if p.err != nil {
		return
	}
	p.buf = append(p.buf, v)
}

func (p *payloadBuffer) writeBool(v bool) {
	var b uint8
	if v {
		b = 1
	}
	p.writeUint8(b)
}

func (p *payloadBuffer) writeString(v string) {
	if p.err != nil {
		return
	}
	if len(v) > math.MaxUint16 {
		p.err = fmt.Errorf("manifest: string of %d bytes too long", len(v))
		return
	}
	p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(len(v)))
	p.buf = append(p.buf, v...)
}

func (p *payloadBuffer) readString() string {
	if p.err != nil {
		return ""
	}
	if p.pos+2 > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return ""
	}
	n := int(binary.LittleEndian.Uint16(p.buf[p.pos:]))
	p.pos += 2
	if p.pos+n > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return ""
	}
	v := string(p.buf[p.pos : p.pos+n])
	p.pos += n
	return v
}

func (p *payloadBuffer) readUint64() uint64 {
	if p.err != nil {
		return 0
	}
	if p.pos+8 > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return 0
	}
	v := binary.LittleEndian.Uint64(p.buf[p.pos:])
	p.pos += 8
	return v
}

func (p *payloadBuffer) readUint32() uint32 {
	if p.err != nil {
		return 0
	}
	if p.pos+4 > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return 0
	}
	v := binary.LittleEndian.Uint32(p.buf[p.pos:])
	p.pos += 4
	return v
}

func (p *payloadBuffer) readUint8() uint8 {
	if p.err != nil {
		return 0
	}
	if p.pos+1 > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return 0
	}
	v := p.buf[p.pos]
	p.pos++
	return v
}

func (p *payloadBuffer) readBool() bool {
	return p.readUint8() == 1
}
