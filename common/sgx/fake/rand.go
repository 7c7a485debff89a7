package fake

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

// GetHardwareRand64 emulates RDRAND with a 64-bit operand.
func GetHardwareRand64() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		return 0, fmt.Errorf("fake: hardware random source failed: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// GetHardwareRandBytes fills a buffer of n bytes from the hardware random
// source.
func GetHardwareRandBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("fake: invalid random length: %d", n)
	}
	b := make([]byte, n)
	for off := 0; off < n; off += 8 {
		v, err := GetHardwareRand64()
		if err != nil {
			return nil, err
		}
		var word [8]byte
		binary.LittleEndian.PutUint64(word[:], v)
		copy(b[off:], word[:])
	}
	return b, nil
}
