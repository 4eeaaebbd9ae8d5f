package manifest

import (
	"bytes"
	"io"
	"time"
)

const sealMagic = 0x54504452 // "RDPT"

// SealedFile describes one file of a published partition.
type SealedFile struct {
	Name string
	Size int64
	CRC  uint32
}

// Seal lists the files of a published partition. Publishers write it after
// every file it names, so a seal that can be read names complete files.
type Seal struct {
	Partition uint32
	CreatedAt time.Time
	Files     []SealedFile
}

// WriteBinary writes the seal.
// Payload:
//
//	Partition (4 bytes)
//	CreatedAt (8 bytes) UnixNano
//	NumFiles  (4 bytes)
//	Files     (NumFiles x {name length (2 bytes), name, size (8 bytes), CRC32C (4 bytes)})
func (s *Seal) WriteBinary(w io.Writer) error {
	pb := newPayloadBuffer(make([]byte, 0, 16+len(s.Files)*24))

	pb.writeUint32(s.Partition)
	pb.writeUint64(uint64(s.CreatedAt.UnixNano()))
	pb.writeUint32(uint32(len(s.Files)))
	for _, f := range s.Files {
		pb.writeString(f.Name)
		pb.writeUint64(uint64(f.Size))
		pb.writeUint32(f.CRC)
	}
	if pb.err != nil {
		return pb.err
	}
	return writeFramed(w, sealMagic, pb.buf)
}

// Bytes returns the encoded seal.
func (s *Seal) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := s.WriteBinary(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadSeal reads a seal written by WriteBinary.
func ReadSeal(r io.Reader) (*Seal, error) {
	payload, _, err := readFramed(r, sealMagic)
	if err != nil {
		return nil, err
	}

	pb := newPayloadBuffer(payload)
	s := &Seal{Partition: pb.readUint32()}
	s.CreatedAt = time.Unix(0, int64(pb.readUint64()))
	n := pb.readUint32()
	for i := uint32(0); i < n && pb.err == nil; i++ {
		s.Files = append(s.Files, SealedFile{
			Name: pb.readString(),
			Size: int64(pb.readUint64()),
			CRC:  pb.readUint32(),
		})
	}
	if pb.err != nil {
		return nil, pb.err
	}
	return s, nil
}
