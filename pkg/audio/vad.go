package audio

// DefaultEnergyThreshold separates speech from room noise for 16-bit mono
// input. Tuned against typical USB microphones.
const DefaultEnergyThreshold = 500.0

// Energy returns the mean absolute amplitude of the chunk.
func Energy(pcm []byte) float64 {
	samples := SamplesFromPCM(pcm)
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		if v < 0 {
			sum -= float64(v)
		} else {
			sum += float64(v)
		}
	}
	return sum / float64(len(samples))
}

// HasSpeech reports whether the chunk's energy exceeds the threshold.
func HasSpeech(pcm []byte, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultEnergyThreshold
	}
	return Energy(pcm) > threshold
}
