package audio

import "encoding/binary"

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	SamplesToBytesInto(samples, buf)
	return buf
}

// SamplesToBytesInto writes little-endian bytes into dst, which must hold
// len(samples)*2 bytes. Returns the used portion.
func SamplesToBytesInto(samples []int16, dst []byte) []byte {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(s))
	}
	return dst[:len(samples)*2]
}
