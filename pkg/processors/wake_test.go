package processors

import (
	"testing"
	"time"

	"github.com/horchlabs/horch/pkg/audio"
	"github.com/horchlabs/horch/pkg/frames"
	"github.com/horchlabs/horch/pkg/listen"
)

func loudFrame(streamID string) frames.AudioFrame {
	s := make([]int16, 1024)
	for i := range s {
		s[i] = 2000
	}
	return frames.NewAudioFrame(streamID, time.Now().UnixNano(), audio.PCMFromSamples(s), 16000, 1, nil)
}

func quietFrame(streamID string) frames.AudioFrame {
	return frames.NewAudioFrame(streamID, time.Now().UnixNano(), make([]byte, 2048), 16000, 1, nil)
}

func wakeConfig() listen.Config {
	return listen.Config{
		TriggerWord:    "wetter",
		SampleRate:     16000,
		ChunkSamples:   1024,
		BufferChunks:   30,
		ProbeMinChunks: 15,
		SilenceSeconds: 1.5,
		Threshold:      500,
	}
}

func TestWakeProcessorDropsIdleAudio(t *testing.T) {
	proc := NewWakeProcessor(wakeConfig(), func(pcm []byte) (string, error) {
		return "nichts relevantes", nil
	})
	for i := 0; i < 20; i++ {
		out, err := proc.Process(loudFrame("mic"))
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		if out != nil {
			t.Fatalf("idle audio must be consumed, got %d frames", len(out))
		}
	}
}

func TestWakeProcessorEmitsUtterance(t *testing.T) {
	proc := NewWakeProcessor(wakeConfig(), func(pcm []byte) (string, error) {
		return "wetter berlin", nil
	})

	var started bool
	var uttID string
	for i := 0; i < 20 && !started; i++ {
		out, err := proc.Process(loudFrame("mic"))
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		for _, f := range out {
			if sf, ok := f.(frames.SystemFrame); ok && sf.Name() == frames.SysRecordingStarted {
				started = true
				uttID = sf.Meta()[frames.MetaUtteranceID]
			}
		}
		if started {
			if len(out) != 2 {
				t.Fatalf("expected system + pre-buffer frames, got %d", len(out))
			}
			af, ok := out[1].(frames.AudioFrame)
			if !ok {
				t.Fatalf("expected audio frame after start notice")
			}
			if af.Meta()[frames.MetaUtteranceID] != uttID {
				t.Fatalf("pre-buffer frame missing utterance tag")
			}
		}
	}
	if !started {
		t.Fatalf("expected recording to start")
	}
	if uttID == "" {
		t.Fatalf("expected utterance id on start notice")
	}

	// while recording, chunks are forwarded tagged
	out, err := proc.Process(loudFrame("mic"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected forwarded chunk, got %d frames", len(out))
	}
	if out[0].Meta()[frames.MetaUtteranceID] != uttID {
		t.Fatalf("forwarded chunk missing utterance tag")
	}

	// silence closes the utterance with stop + flush
	var stopped, flushed bool
	for i := 0; i < 40; i++ {
		out, err := proc.Process(quietFrame("mic"))
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		for _, f := range out {
			if sf, ok := f.(frames.SystemFrame); ok && sf.Name() == frames.SysRecordingStopped {
				stopped = true
			}
			if cf, ok := f.(frames.ControlFrame); ok && cf.Code() == frames.ControlFlush {
				if cf.Meta()[frames.MetaReason] == "utterance_end" {
					flushed = true
				}
			}
		}
		if stopped {
			break
		}
	}
	if !stopped {
		t.Fatalf("expected recording to stop after silence")
	}
	if !flushed {
		t.Fatalf("expected utterance_end flush after stop")
	}
}

func TestWakeProcessorUploadBypassesGate(t *testing.T) {
	proc := NewWakeProcessor(wakeConfig(), func(pcm []byte) (string, error) {
		t.Fatalf("probe must not run for upload streams")
		return "", nil
	})
	meta := map[string]string{frames.MetaSource: "upload"}
	af := frames.NewAudioFrame("upload-1", time.Now().UnixNano(), make([]byte, 2048), 16000, 1, meta)
	out, err := proc.Process(af)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(out) != 1 || out[0].Kind() != frames.KindAudio {
		t.Fatalf("upload audio must pass through unchanged")
	}
}

func TestWakeProcessorProbeErrorKeepsStream(t *testing.T) {
	calls := 0
	proc := NewWakeProcessor(wakeConfig(), func(pcm []byte) (string, error) {
		calls++
		if calls < 3 {
			return "", errTest
		}
		return "wetter", nil
	})
	var started bool
	for i := 0; i < 30; i++ {
		out, err := proc.Process(loudFrame("mic"))
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		for _, f := range out {
			if sf, ok := f.(frames.SystemFrame); ok && sf.Name() == frames.SysRecordingStarted {
				started = true
			}
		}
		if started {
			break
		}
	}
	if !started {
		t.Fatalf("probe errors must not kill the stream")
	}
}
