package vosk

import (
	"context"
	"strings"

	vosk "github.com/alphacep/vosk-api/go"

	"github.com/horchlabs/horch/pkg/errorsx"
)

// batchChunkFrames matches the read granularity used for whole-file
// transcription: 4000 frames of 16-bit mono PCM per recognizer call.
const batchChunkFrames = 4000

// TranscribePCM runs the whole buffer through a fresh recognizer and returns
// the concatenated segment texts. pcm is s16le mono at the given rate.
func (e *Engine) TranscribePCM(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	rec, err := vosk.NewRecognizer(e.model, float64(sampleRate))
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonASRConnect)
	}
	defer rec.Free()

	chunkBytes := batchChunkFrames * 2
	var sb strings.Builder
	for off := 0; off < len(pcm); off += chunkBytes {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		end := off + chunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if rec.AcceptWaveform(pcm[off:end]) != 0 {
			if text := resultText(rec.Result()); text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		}
	}
	if text := resultText(rec.FinalResult()); text != "" {
		sb.WriteString(text)
	}
	return strings.TrimSpace(sb.String()), nil
}
