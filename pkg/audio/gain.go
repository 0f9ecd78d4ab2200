package audio

// Amplify scales the amplitude of s16le PCM by factor, clipping at the
// 16-bit range.
func Amplify(pcm []byte, factor float64) []byte {
	if factor == 1 {
		return append([]byte(nil), pcm...)
	}
	samples := SamplesFromPCM(pcm)
	for i, v := range samples {
		scaled := float64(v) * factor
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}
		samples[i] = int16(scaled)
	}
	return PCMFromSamples(samples)
}
