package audio

import "encoding/binary"

// SamplesFromPCM interprets b as little-endian signed 16-bit samples.
func SamplesFromPCM(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// PCMFromSamples packs samples as little-endian signed 16-bit bytes.
func PCMFromSamples(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
