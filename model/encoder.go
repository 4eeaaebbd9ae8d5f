package model

import (
	"errors"
	"fmt"
)

// Encoder turns bases and quality values into the payloads stored with a
// fragment, and back.
type Encoder interface {
	Encode(seq, qlt []byte) (encSeq, encQlt []byte, err error)
	Decode(encSeq, encQlt []byte) (seq, qlt []byte, err error)
}

// ErrLengthMismatch is returned when sequence and quality lengths differ.
var ErrLengthMismatch = errors.New("model: sequence and quality lengths differ")

const (
	qvOffset = '0'
	maxQV    = 31
)

var baseCodes = [256]byte{'A': 0, 'C': 1, 'G': 2, 'T': 3, 'a': 0, 'c': 1, 'g': 2, 't': 3}

var codeBases = [8]byte{'A', 'C', 'G', 'T', 'N', 'N', 'N', 'N'}

func baseCode(b byte) byte {
	switch b {
	case 'A', 'a', 'C', 'c', 'G', 'g', 'T', 't':
		return baseCodes[b]
	default:
		return 4
	}
}

// QVEncoder stores bases verbatim and packs each base with its quality
// value into one byte: qv<<3 | code, qv clamped to 31. Qualities use the
// '0'-offset text convention.
type QVEncoder struct{}

var _ Encoder = QVEncoder{}

func (QVEncoder) Encode(seq, qlt []byte) ([]byte, []byte, error) {
	if qlt != nil && len(qlt) != len(seq) {
		return nil, nil, fmt.Errorf("%w: %d != %d", ErrLengthMismatch, len(seq), len(qlt))
	}
	encSeq := append([]byte(nil), seq...)
	if qlt == nil {
		return encSeq, nil, nil
	}
	encQlt := make([]byte, len(seq))
	for i, b := range seq {
		qv := 0
		if qlt[i] > qvOffset {
			qv = int(qlt[i] - qvOffset)
		}
		if qv > maxQV {
			qv = maxQV
		}
		encQlt[i] = byte(qv)<<3 | baseCode(b)
	}
	return encSeq, encQlt, nil
}

func (QVEncoder) Decode(encSeq, encQlt []byte) ([]byte, []byte, error) {
	if encQlt == nil {
		return append([]byte(nil), encSeq...), nil, nil
	}
	seq := make([]byte, len(encQlt))
	qlt := make([]byte, len(encQlt))
	for i, e := range encQlt {
		seq[i] = codeBases[e&7]
		qlt[i] = qvOffset + e>>3
	}
	return seq, qlt, nil
}
