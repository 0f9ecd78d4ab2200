package horch

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
transports:
  provider: websocket
vendors:
  asr:
    provider: mock
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.SampleRate != 16000 {
		t.Fatalf("expected default sample rate 16000, got %d", cfg.Engine.SampleRate)
	}
	if cfg.Engine.ChunkSamples != 1024 {
		t.Fatalf("expected default chunk 1024, got %d", cfg.Engine.ChunkSamples)
	}
	if cfg.Listen.TriggerWord != "wetter" {
		t.Fatalf("expected default trigger word, got %q", cfg.Listen.TriggerWord)
	}
	if cfg.Listen.SilenceMS != 1500 {
		t.Fatalf("expected default silence 1500ms, got %d", cfg.Listen.SilenceMS)
	}
	if cfg.Listen.Threshold != 500 {
		t.Fatalf("expected default threshold 500, got %v", cfg.Listen.Threshold)
	}
	if cfg.Archive.RecordingsDir != "recordings" || cfg.Archive.TranscriptsDir != "transcribe_text" {
		t.Fatalf("unexpected archive defaults %+v", cfg.Archive)
	}
	if cfg.Weather.DefaultCity != "heilbronn" {
		t.Fatalf("expected default city heilbronn, got %q", cfg.Weather.DefaultCity)
	}
	if !cfg.Pipeline.Async {
		t.Fatalf("expected async pipeline by default")
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("TEST_BACKEND_URL", "http://backend.local/api/weather/")
	t.Setenv("TEST_MODEL_PATH", "/opt/models/de")
	path := writeConfig(t, `
transports:
  provider: websocket
vendors:
  asr:
    provider: vosk
    settings:
      model_path: "${TEST_MODEL_PATH}"
weather:
  api_url: "${TEST_BACKEND_URL}"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Weather.APIURL != "http://backend.local/api/weather/" {
		t.Fatalf("env not expanded in api_url: %q", cfg.Weather.APIURL)
	}
	if cfg.Vendors.ASR.Settings["model_path"] != "/opt/models/de" {
		t.Fatalf("env not expanded in settings: %v", cfg.Vendors.ASR.Settings)
	}
}

func TestLoadConfigRequiresProviders(t *testing.T) {
	path := writeConfig(t, `
vendors:
  asr:
    provider: mock
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected validation error without transport provider")
	}

	path = writeConfig(t, `
transports:
  provider: websocket
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected validation error without asr provider")
	}
}

func TestParseBackpressure(t *testing.T) {
	if parseBackpressure("wait") != 1 {
		t.Fatalf("wait must map to the waiting mode")
	}
	if parseBackpressure("drop") != 0 || parseBackpressure("") != 0 {
		t.Fatalf("drop must be the default")
	}
}
