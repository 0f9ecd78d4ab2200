package observers

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/horchlabs/horch/pkg/metrics"
)

func TestTimelineObserverWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)

	ev := metrics.MetricsEvent{
		Name: "frame_out",
		Time: time.Now(),
		Tags: map[string]string{
			"stream_id": "stream-1",
			"trace_id":  "trace-1",
			"kind":      "audio",
		},
	}
	obs.RecordEvent(ev)
	_ = obs.Close()

	path := filepath.Join(dir, "trace-1.jsonl")
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !strings.Contains(string(b), "audio_out") {
		t.Fatalf("expected audio_out event in file")
	}
}

func TestUsageObserverAccumulates(t *testing.T) {
	dir := t.TempDir()
	obs := NewUsageObserver(dir)

	obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventASRAudioIn,
		Time: time.Now(),
		Tags: map[string]string{"stream_id": "mic"},
		Fields: map[string]any{
			"bytes":       32000,
			"sample_rate": 16000,
			"channels":    1,
		},
	})
	obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventASRFinal,
		Time: time.Now(),
		Tags: map[string]string{"stream_id": "mic"},
	})
	if err := obs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "mic.usage.json"))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, "\"audio_seconds\": 1") {
		t.Fatalf("expected one second of audio, got %s", s)
	}
	if !strings.Contains(s, "\"utterances\": 1") {
		t.Fatalf("expected one utterance, got %s", s)
	}
}
