package audio

import (
	"bytes"
	"errors"
	"io"
	"os"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"

	"github.com/horchlabs/horch/pkg/errorsx"
)

// EncodeWAV wraps s16le PCM in a RIFF container in memory.
func EncodeWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	ws := &writerseeker.WriterSeeker{}
	enc := wav.NewEncoder(ws, sampleRate, 16, channels, 1)
	if err := enc.Write(intBuffer(pcm, sampleRate, channels)); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonWAVEncode)
	}
	if err := enc.Close(); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonWAVEncode)
	}
	out, err := io.ReadAll(ws.Reader())
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonWAVEncode)
	}
	return out, nil
}

// WriteWAVFile writes s16le PCM to path as a RIFF WAV file.
func WriteWAVFile(path string, pcm []byte, sampleRate, channels int) error {
	f, err := os.Create(path)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonWAVEncode)
	}
	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	if err := enc.Write(intBuffer(pcm, sampleRate, channels)); err != nil {
		_ = f.Close()
		return errorsx.Wrap(err, errorsx.ReasonWAVEncode)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return errorsx.Wrap(err, errorsx.ReasonWAVEncode)
	}
	return f.Close()
}

// DecodeWAV extracts s16le PCM plus format info from a RIFF WAV payload.
func DecodeWAV(data []byte) (pcm []byte, sampleRate, channels int, err error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, 0, 0, errorsx.Wrap(errors.New("not a valid wav file"), errorsx.ReasonWAVDecode)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, errorsx.Wrap(err, errorsx.ReasonWAVDecode)
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		samples[i] = int16(v)
	}
	return PCMFromSamples(samples), int(dec.SampleRate), int(dec.NumChans), nil
}

func intBuffer(pcm []byte, sampleRate, channels int) *gaudio.IntBuffer {
	samples := SamplesFromPCM(pcm)
	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(v)
	}
	return &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           data,
	}
}
