package processors

import (
	"errors"
	"testing"
	"time"

	"github.com/horchlabs/horch/pkg/adapters/asr"
	"github.com/horchlabs/horch/pkg/frames"
	"github.com/horchlabs/horch/pkg/providers/mock"
)

var errTest = errors.New("test failure")

func TestASRProcessorForwardsFinalTranscript(t *testing.T) {
	factory := func(streamID string) asr.StreamingASR {
		return mock.NewASR(mock.ASRConfig{StreamID: streamID, Transcript: "wetter berlin"})
	}
	proc := NewASRProcessor(factory)

	meta := map[string]string{frames.MetaUtteranceID: "utt-1"}
	af := frames.NewAudioFrame("mic", time.Now().UnixNano(), make([]byte, 2048), 16000, 1, meta)
	out, err := proc.Process(af)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	var audioSeen, finalText string
	for _, f := range out {
		switch f.Kind() {
		case frames.KindAudio:
			audioSeen = f.Meta()[frames.MetaUtteranceID]
		case frames.KindText:
			tf := f.(frames.TextFrame)
			if tf.Meta()[frames.MetaIsFinal] == "true" {
				finalText = tf.Text()
			}
		}
	}
	if audioSeen != "utt-1" {
		t.Fatalf("audio frame must pass through for archiving")
	}
	if finalText != "wetter berlin" {
		t.Fatalf("expected final transcript, got %q", finalText)
	}
}

func TestASRProcessorSuppressesInterimByDefault(t *testing.T) {
	factory := func(streamID string) asr.StreamingASR {
		return mock.NewASR(mock.ASRConfig{
			StreamID:          streamID,
			Transcript:        "final",
			InterimTranscript: "inter",
			EmitInterim:       true,
		})
	}
	proc := NewASRProcessor(factory)

	af := frames.NewAudioFrame("mic", time.Now().UnixNano(), make([]byte, 2048), 16000, 1, nil)
	out, err := proc.Process(af)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	for _, f := range out {
		if f.Kind() == frames.KindText {
			tf := f.(frames.TextFrame)
			if tf.Meta()[frames.MetaIsFinal] != "true" {
				t.Fatalf("interim should not be forwarded by default")
			}
		}
	}
}

func TestASRProcessorForwardsInterimWhenEnabled(t *testing.T) {
	factory := func(streamID string) asr.StreamingASR {
		return mock.NewASR(mock.ASRConfig{
			StreamID:          streamID,
			Transcript:        "final",
			InterimTranscript: "inter",
			EmitInterim:       true,
		})
	}
	proc := NewASRProcessor(factory)
	proc.SetForwardInterim(true)

	af := frames.NewAudioFrame("mic", time.Now().UnixNano(), make([]byte, 2048), 16000, 1, nil)
	out, err := proc.Process(af)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	var interim bool
	for _, f := range out {
		if f.Kind() == frames.KindText && f.Meta()[frames.MetaIsFinal] != "true" {
			interim = true
		}
	}
	if !interim {
		t.Fatalf("expected interim frame when forwarding enabled")
	}
}

func TestASRProcessorRecoversAfterCloseAll(t *testing.T) {
	factory := func(streamID string) asr.StreamingASR {
		return mock.NewASR(mock.ASRConfig{StreamID: streamID})
	}
	proc := NewASRProcessor(factory)
	af := frames.NewAudioFrame("mic", time.Now().UnixNano(), make([]byte, 2048), 16000, 1, nil)
	if _, err := proc.Process(af); err != nil {
		t.Fatalf("process: %v", err)
	}
	proc.CloseAll()
	if _, err := proc.Process(af); err != nil {
		t.Fatalf("process after close: %v", err)
	}
}

func TestASRProcessorUtteranceEndClosesSession(t *testing.T) {
	created := 0
	factory := func(streamID string) asr.StreamingASR {
		created++
		return mock.NewASR(mock.ASRConfig{StreamID: streamID, Transcript: "hallo"})
	}
	proc := NewASRProcessor(factory)

	af := frames.NewAudioFrame("mic", time.Now().UnixNano(), make([]byte, 2048), 16000, 1, nil)
	if _, err := proc.Process(af); err != nil {
		t.Fatalf("process: %v", err)
	}
	if created != 1 {
		t.Fatalf("expected one session, got %d", created)
	}

	flush := frames.NewControlFrame("mic", time.Now().UnixNano(), frames.ControlFlush,
		map[string]string{frames.MetaReason: "utterance_end"})
	out, err := proc.Process(flush)
	if err != nil {
		t.Fatalf("process flush: %v", err)
	}
	var sawFlush bool
	for _, f := range out {
		if cf, ok := f.(frames.ControlFrame); ok && cf.Code() == frames.ControlFlush {
			sawFlush = true
		}
	}
	if !sawFlush {
		t.Fatalf("flush control must be forwarded")
	}

	// the next audio frame must build a fresh session
	if _, err := proc.Process(af); err != nil {
		t.Fatalf("process after flush: %v", err)
	}
	if created != 2 {
		t.Fatalf("expected a fresh session after utterance end, got %d", created)
	}
}
