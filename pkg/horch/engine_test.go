package horch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/horchlabs/horch/pkg/frames"
	"github.com/horchlabs/horch/pkg/pipeline"
	mocktransport "github.com/horchlabs/horch/pkg/transports/mock"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		Pipeline: pipeline.Config{
			Async:         true,
			StageBuffer:   16,
			HighCapacity:  64,
			LowCapacity:   128,
			FairnessRatio: 3,
		},
		Engine: pipeline.EngineConfig{
			SampleRate:      16000,
			ChunkSamples:    1024,
			ASRReplayChunks: 8,
		},
		Vendors: VendorsConfig{
			ASR: VendorConfig{
				Provider: "mock",
				Settings: map[string]any{"transcript": "wetter berlin"},
			},
		},
		Transports: TransportsConfig{Provider: "mock"},
		Listen: ListenConfig{
			TriggerWord:     "wetter",
			Threshold:       500,
			SilenceMS:       1500,
			PreBufferChunks: 30,
			ProbeMinChunks:  15,
			Gain:            1.0,
		},
		Archive: ArchiveConfig{
			RecordingsDir:  filepath.Join(dir, "recordings"),
			TranscriptsDir: filepath.Join(dir, "transcribe_text"),
		},
		Weather:     WeatherConfig{Enabled: false},
		Capture:     CaptureConfig{Enabled: false, StreamID: "mic"},
		Environment: "test",
		LogLevel:    "error",
	}
}

func TestEngineTranscribesUploads(t *testing.T) {
	cfg := testConfig(t)
	transport := mocktransport.New()

	app, err := NewEngine(EngineOptions{Config: cfg, Transport: transport})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = app.Stop() }()

	meta := map[string]string{
		frames.MetaSource:  "upload",
		frames.MetaTraceID: "trace-1",
	}
	af := frames.NewAudioFrame("upload-c1", time.Now().UnixNano(), make([]byte, 4096), 16000, 1, meta)
	transport.Push(af)

	var sawProcessing, sawTranscript, sawCity bool
	deadline := time.After(3 * time.Second)
	for !(sawProcessing && sawTranscript && sawCity) {
		select {
		case f := <-transport.Sent():
			switch ff := f.(type) {
			case frames.SystemFrame:
				switch ff.Name() {
				case frames.SysProcessing:
					sawProcessing = true
				case frames.SysCity:
					if ff.Meta()[frames.MetaCity] == "berlin" {
						sawCity = true
					}
				}
			case frames.TextFrame:
				if ff.Meta()[frames.MetaIsFinal] == "true" && ff.Text() == "wetter berlin" {
					sawTranscript = true
				}
			}
		case <-deadline:
			t.Fatalf("missing upload results: processing=%v transcript=%v city=%v",
				sawProcessing, sawTranscript, sawCity)
		}
	}
}

func TestEngineRemovesSessionOnStreamEnd(t *testing.T) {
	cfg := testConfig(t)
	transport := mocktransport.New()

	app, err := NewEngine(EngineOptions{Config: cfg, Transport: transport})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = app.Stop() }()

	meta := map[string]string{frames.MetaSource: "transport"}
	af := frames.NewAudioFrame("mic", time.Now().UnixNano(), make([]byte, 2048), 16000, 1, meta)
	transport.Push(af)

	waitFor := func(cond func() bool) bool {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if cond() {
				return true
			}
			time.Sleep(10 * time.Millisecond)
		}
		return false
	}
	if !waitFor(func() bool { return app.Registry().Count() == 1 }) {
		t.Fatalf("expected a session for the mic stream")
	}

	transport.Push(frames.NewSystemFrame("mic", time.Now().UnixNano(), frames.SysStreamEnd, meta))
	if !waitFor(func() bool { return app.Registry().Count() == 0 }) {
		t.Fatalf("expected session removal on stream end")
	}
}

func TestBuildTransport(t *testing.T) {
	cfg := testConfig(t)
	tr, err := BuildTransport(cfg)
	if err != nil {
		t.Fatalf("build mock transport: %v", err)
	}
	if tr.Name() != "mock" {
		t.Fatalf("unexpected transport %q", tr.Name())
	}

	cfg.Transports = TransportsConfig{
		Provider: "websocket",
		Settings: map[string]any{"server_addr": ":0"},
	}
	tr, err = BuildTransport(cfg)
	if err != nil {
		t.Fatalf("build websocket transport: %v", err)
	}
	if tr.Name() != "websocket" {
		t.Fatalf("unexpected transport %q", tr.Name())
	}

	cfg.Transports.Provider = "carrier-pigeon"
	if _, err := BuildTransport(cfg); err == nil {
		t.Fatalf("expected error for unknown transport provider")
	}
}
