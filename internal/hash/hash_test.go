package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C(t *testing.T) {
	// Known vector for CRC32C("123456789").
	assert.Equal(t, uint32(0xE3069283), CRC32C([]byte("123456789")))

	h := NewCRC32C()
	_, _ = h.Write([]byte("12345"))
	_, _ = h.Write([]byte("6789"))
	assert.Equal(t, uint32(0xE3069283), h.Sum32())
}

func TestKey64(t *testing.T) {
	assert.Equal(t, Key64(1, 42), Key64(1, 42))
	assert.NotEqual(t, Key64(1, 42), Key64(2, 42))
	assert.NotEqual(t, Key64(1, 42), Key64(1, 43))
}

func TestString64(t *testing.T) {
	assert.Equal(t, String64("readA"), Sum64([]byte("readA")))
	assert.NotEqual(t, String64("readA"), String64("readB"))
}
