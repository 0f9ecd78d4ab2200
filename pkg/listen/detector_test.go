package listen

import (
	"errors"
	"testing"

	"github.com/horchlabs/horch/pkg/audio"
)

func loudChunk(samples int) []byte {
	s := make([]int16, samples)
	for i := range s {
		s[i] = 2000
	}
	return audio.PCMFromSamples(s)
}

func quietChunk(samples int) []byte {
	return make([]byte, samples*2)
}

func testConfig() Config {
	return Config{
		TriggerWord:    "wetter",
		SampleRate:     16000,
		ChunkSamples:   1024,
		BufferChunks:   30,
		ProbeMinChunks: 15,
		SilenceSeconds: 1.5,
		Threshold:      500,
	}
}

func TestDetectorTriggersOnKeyword(t *testing.T) {
	probes := 0
	d := NewDetector(testConfig(), func(pcm []byte) (string, error) {
		probes++
		return "wie ist das Wetter heute", nil
	})

	var triggered bool
	for i := 0; i < 20; i++ {
		res, err := d.Feed(loudChunk(1024))
		if err != nil {
			t.Fatalf("feed: %v", err)
		}
		if res.Triggered {
			triggered = true
			if len(res.PreBuffer) < 15*1024*2 {
				t.Fatalf("pre-trigger buffer too short: %d bytes", len(res.PreBuffer))
			}
			break
		}
	}
	if !triggered {
		t.Fatalf("expected trigger after probe window filled")
	}
	if probes == 0 {
		t.Fatalf("expected at least one probe call")
	}
	if !d.Triggered() {
		t.Fatalf("detector should be in recording state")
	}
}

func TestDetectorNoProbeBeforeWindowFilled(t *testing.T) {
	d := NewDetector(testConfig(), func(pcm []byte) (string, error) {
		t.Fatalf("probe called before %d chunks buffered", 15)
		return "", nil
	})
	for i := 0; i < 14; i++ {
		if _, err := d.Feed(loudChunk(1024)); err != nil {
			t.Fatalf("feed: %v", err)
		}
	}
}

func TestDetectorIgnoresOtherSpeech(t *testing.T) {
	d := NewDetector(testConfig(), func(pcm []byte) (string, error) {
		return "hallo welt", nil
	})
	for i := 0; i < 40; i++ {
		res, err := d.Feed(loudChunk(1024))
		if err != nil {
			t.Fatalf("feed: %v", err)
		}
		if res.Triggered {
			t.Fatalf("should not trigger without keyword")
		}
	}
}

func TestDetectorStopsAfterSilence(t *testing.T) {
	d := NewDetector(testConfig(), func(pcm []byte) (string, error) {
		return "wetter", nil
	})

	for i := 0; i < 20; i++ {
		res, err := d.Feed(loudChunk(1024))
		if err != nil {
			t.Fatalf("feed: %v", err)
		}
		if res.Triggered {
			break
		}
	}
	if !d.Triggered() {
		t.Fatalf("expected trigger")
	}

	// a bit more speech, then sustained silence
	for i := 0; i < 5; i++ {
		if _, err := d.Feed(loudChunk(1024)); err != nil {
			t.Fatalf("feed: %v", err)
		}
	}
	var rec []byte
	for i := 0; i < 40; i++ {
		res, err := d.Feed(quietChunk(1024))
		if err != nil {
			t.Fatalf("feed: %v", err)
		}
		if res.Recording != nil {
			rec = res.Recording
			break
		}
	}
	if rec == nil {
		t.Fatalf("expected recording after silence window")
	}
	// pre-trigger buffer must be part of the recording
	if len(rec) < 15*1024*2 {
		t.Fatalf("recording too short: %d bytes", len(rec))
	}
	if d.Triggered() {
		t.Fatalf("detector should be idle again")
	}
}

func TestDetectorProbeErrorKeepsListening(t *testing.T) {
	calls := 0
	d := NewDetector(testConfig(), func(pcm []byte) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("recognizer busy")
		}
		return "wetter morgen", nil
	})

	var sawErr, triggered bool
	for i := 0; i < 30; i++ {
		res, err := d.Feed(loudChunk(1024))
		if err != nil {
			sawErr = true
			continue
		}
		if res.Triggered {
			triggered = true
			break
		}
	}
	if !sawErr {
		t.Fatalf("expected probe error to surface")
	}
	if !triggered {
		t.Fatalf("expected trigger on retry after error")
	}
}
