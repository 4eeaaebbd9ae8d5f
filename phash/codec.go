package phash

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/readstore/internal/hash"
)

// Image layout, little-endian:
//
//	Preamble (24 bytes)
//	  Magic      uint32
//	  Version    uint32
//	  Checksum   uint32 CRC32C of the payload
//	  Reserved   uint32
//	  PayloadLen uint64
//	Payload
//	  Meta       (128 bytes)
//	    NumBuckets uint32
//	    Capacity   uint32
//	    Used       uint32 slots ever handed out
//	    Free       int32  head of the free list, -1 if empty
//	    Live       uint32
//	    Tombstones uint32
//	    Collisions uint64
//	    Counts     [16]uint32
//	  Buckets    NumBuckets x int32, -1 if empty
//	  Nodes      Capacity x 32 bytes
//	    Key   uint64
//	    ID    uint32
//	    Bits  uint32 deleted:1 type:4 refcount:27
//	    Next  int32
//	    Gen   uint32
//	    NS    uint8
//	    Used  uint8
//	    (6 bytes padding)
const (
	imageMagic   = 0x48534850 // "PHSH"
	imageVersion = 1

	preambleSize = 24
	metaSize     = 128
	bucketSize   = 4
	nodeSize     = 32

	deletedBit   = 1 << 31
	typeShift    = 27
	typeMask     = 0xF
	maxRefCount  = 1<<27 - 1
	refCountMask = maxRefCount
)

type meta struct {
	numBuckets uint32
	capacity   uint32
	used       uint32
	free       int32
	live       uint32
	tombstones uint32
	collisions uint64
	counts     [MaxType + 1]uint32
}

type node struct {
	key  uint64
	id   uint32
	bits uint32
	next int32
	gen  uint32
	ns   Namespace
	used bool
}

func packBits(deleted bool, typ Type, refCount uint32) uint32 {
	b := uint32(typ&typeMask)<<typeShift | refCount&refCountMask
	if deleted {
		b |= deletedBit
	}
	return b
}

func (n *node) deleted() bool {
	return n.bits&deletedBit != 0
}

func (n *node) typ() Type {
	return Type(n.bits >> typeShift & typeMask)
}

func (n *node) refCount() uint32 {
	return n.bits & refCountMask
}

func (n *node) setRefCount(r uint32) {
	n.bits = n.bits&^refCountMask | r&refCountMask
}

func (n *node) setDeleted(d bool) {
	if d {
		n.bits |= deletedBit
	} else {
		n.bits &^= deletedBit
	}
}

func (n *node) value() Value {
	return Value{ID: n.id, Type: n.typ(), Deleted: n.deleted(), RefCount: n.refCount()}
}

func encodeMeta(b []byte, m *meta) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], m.numBuckets)
	le.PutUint32(b[4:], m.capacity)
	le.PutUint32(b[8:], m.used)
	le.PutUint32(b[12:], uint32(m.free))
	le.PutUint32(b[16:], m.live)
	le.PutUint32(b[20:], m.tombstones)
	le.PutUint64(b[24:], m.collisions)
	for i, c := range m.counts {
		le.PutUint32(b[32+4*i:], c)
	}
}

func decodeMeta(b []byte) meta {
	le := binary.LittleEndian
	m := meta{
		numBuckets: le.Uint32(b[0:]),
		capacity:   le.Uint32(b[4:]),
		used:       le.Uint32(b[8:]),
		free:       int32(le.Uint32(b[12:])),
		live:       le.Uint32(b[16:]),
		tombstones: le.Uint32(b[20:]),
		collisions: le.Uint64(b[24:]),
	}
	for i := range m.counts {
		m.counts[i] = le.Uint32(b[32+4*i:])
	}
	return m
}

func encodeNode(b []byte, n *node) {
	le := binary.LittleEndian
	le.PutUint64(b[0:], n.key)
	le.PutUint32(b[8:], n.id)
	le.PutUint32(b[12:], n.bits)
	le.PutUint32(b[16:], uint32(n.next))
	le.PutUint32(b[20:], n.gen)
	b[24] = byte(n.ns)
	b[25] = 0
	if n.used {
		b[25] = 1
	}
	clear(b[26:nodeSize])
}

func decodeNode(b []byte) node {
	le := binary.LittleEndian
	return node{
		key:  le.Uint64(b[0:]),
		id:   le.Uint32(b[8:]),
		bits: le.Uint32(b[12:]),
		next: int32(le.Uint32(b[16:])),
		gen:  le.Uint32(b[20:]),
		ns:   Namespace(b[24]),
		used: b[25] == 1,
	}
}

func payloadSize(m *meta) uint64 {
	return metaSize + uint64(m.numBuckets)*bucketSize + uint64(m.capacity)*nodeSize
}

// encodeImage serializes the writable state.
func encodeImage(m *meta, buckets []int32, nodes []node) []byte {
	size := payloadSize(m)
	img := make([]byte, preambleSize+size)
	payload := img[preambleSize:]

	encodeMeta(payload[:metaSize], m)
	off := metaSize
	for _, b := range buckets {
		binary.LittleEndian.PutUint32(payload[off:], uint32(b))
		off += bucketSize
	}
	for i := range nodes {
		encodeNode(payload[off:off+nodeSize], &nodes[i])
		off += nodeSize
	}

	le := binary.LittleEndian
	le.PutUint32(img[0:], imageMagic)
	le.PutUint32(img[4:], imageVersion)
	le.PutUint32(img[8:], hash.CRC32C(payload))
	le.PutUint64(img[16:], size)
	return img
}

// checkImage validates the preamble and checksum and returns the payload and
// its decoded meta block.
func checkImage(img []byte) ([]byte, meta, error) {
	if len(img) < preambleSize+metaSize {
		return nil, meta{}, fmt.Errorf("%w: image too small (%d bytes)", ErrCorrupt, len(img))
	}
	le := binary.LittleEndian
	if magic := le.Uint32(img[0:]); magic != imageMagic {
		return nil, meta{}, fmt.Errorf("%w: invalid magic %#x", ErrCorrupt, magic)
	}
	if v := le.Uint32(img[4:]); v != imageVersion {
		return nil, meta{}, fmt.Errorf("%w: got %d, want %d", ErrVersion, v, imageVersion)
	}
	size := le.Uint64(img[16:])
	if size != uint64(len(img)-preambleSize) {
		return nil, meta{}, fmt.Errorf("%w: payload length %d, file holds %d", ErrCorrupt, size, len(img)-preambleSize)
	}
	payload := img[preambleSize:]
	if sum := hash.CRC32C(payload); sum != le.Uint32(img[8:]) {
		return nil, meta{}, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	m := decodeMeta(payload[:metaSize])
	if m.numBuckets == 0 || m.numBuckets&(m.numBuckets-1) != 0 {
		return nil, meta{}, fmt.Errorf("%w: bucket count %d is not a power of two", ErrCorrupt, m.numBuckets)
	}
	if m.used > m.capacity || m.live > m.used || payloadSize(&m) != size {
		return nil, meta{}, fmt.Errorf("%w: inconsistent meta block", ErrCorrupt)
	}
	return payload, m, nil
}

// decodeImage fully decodes a payload for writable use.
func decodeImage(payload []byte, m *meta) ([]int32, []node) {
	buckets := make([]int32, m.numBuckets)
	off := metaSize
	for i := range buckets {
		buckets[i] = int32(binary.LittleEndian.Uint32(payload[off:]))
		off += bucketSize
	}
	nodes := make([]node, m.capacity)
	for i := range nodes {
		nodes[i] = decodeNode(payload[off : off+nodeSize])
		off += nodeSize
	}
	return buckets, nodes
}
