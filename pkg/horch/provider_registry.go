package horch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/horchlabs/horch/pkg/adapters/asr"
	"github.com/horchlabs/horch/pkg/configutil"
	"github.com/horchlabs/horch/pkg/providers/mock"
	"github.com/horchlabs/horch/pkg/providers/vosk"
)

type ASRFactory func(streamID string) asr.StreamingASR

type ASRFactoryBuilder func(cfg Config, traceID string) (ASRFactory, error)

// BatchTranscriber turns a complete PCM buffer into text outside the
// streaming path. It backs the trigger word probe and file uploads.
type BatchTranscriber interface {
	TranscribePCM(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}

type BatchBuilder func(cfg Config) (BatchTranscriber, error)

type ProviderRegistry struct {
	asr   map[string]ASRFactoryBuilder
	batch map[string]BatchBuilder
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		asr:   make(map[string]ASRFactoryBuilder),
		batch: make(map[string]BatchBuilder),
	}
}

func (r *ProviderRegistry) RegisterASR(name string, builder ASRFactoryBuilder) {
	r.asr[strings.ToLower(strings.TrimSpace(name))] = builder
}

func (r *ProviderRegistry) RegisterBatch(name string, builder BatchBuilder) {
	r.batch[strings.ToLower(strings.TrimSpace(name))] = builder
}

func (r *ProviderRegistry) BuildASRFactory(provider string, cfg Config, traceID string) (ASRFactory, error) {
	fn := r.asr[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("asr provider not registered: %s", provider)
	}
	return fn(cfg, traceID)
}

func (r *ProviderRegistry) BuildBatch(provider string, cfg Config) (BatchTranscriber, error) {
	fn := r.batch[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("batch transcriber not registered: %s", provider)
	}
	return fn(cfg)
}

type voskSettings struct {
	ModelPath string `mapstructure:"model_path"`
	Language  string `mapstructure:"language"`
}

type mockSettings struct {
	Transcript        string `mapstructure:"transcript"`
	InterimTranscript string `mapstructure:"interim_transcript"`
	EmitInterim       bool   `mapstructure:"emit_interim"`
}

type mockBatch struct {
	transcript string
}

func (m mockBatch) TranscribePCM(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	_ = ctx
	_ = pcm
	_ = sampleRate
	return m.transcript, nil
}

// RegisterDefaultProviders wires the built-in vosk and mock recognizers.
// The vosk model is loaded once and shared between the streaming factory
// and the batch transcriber.
func RegisterDefaultProviders(r *ProviderRegistry) {
	var (
		voskOnce sync.Once
		voskEng  *vosk.Engine
		voskErr  error
	)
	loadVosk := func(cfg Config) (*vosk.Engine, error) {
		voskOnce.Do(func() {
			var settings voskSettings
			if err := configutil.DecodeSettings(cfg.Vendors.ASR.Settings, &settings); err != nil {
				voskErr = err
				return
			}
			voskEng, voskErr = vosk.NewEngine(settings.ModelPath)
		})
		return voskEng, voskErr
	}

	r.RegisterASR("vosk", func(cfg Config, traceID string) (ASRFactory, error) {
		eng, err := loadVosk(cfg)
		if err != nil {
			return nil, err
		}
		var settings voskSettings
		_ = configutil.DecodeSettings(cfg.Vendors.ASR.Settings, &settings)
		return func(streamID string) asr.StreamingASR {
			return eng.NewStream(asr.Config{
				StreamID:   streamID,
				TraceID:    traceID,
				SampleRate: cfg.Engine.SampleRate,
				Language:   settings.Language,
				ModelPath:  eng.ModelPath(),
			})
		}, nil
	})
	r.RegisterBatch("vosk", func(cfg Config) (BatchTranscriber, error) {
		return loadVosk(cfg)
	})

	r.RegisterASR("mock", func(cfg Config, traceID string) (ASRFactory, error) {
		var settings mockSettings
		if err := configutil.DecodeSettings(cfg.Vendors.ASR.Settings, &settings); err != nil {
			return nil, err
		}
		return func(streamID string) asr.StreamingASR {
			return mock.NewASR(mock.ASRConfig{
				StreamID:          streamID,
				TraceID:           traceID,
				Transcript:        settings.Transcript,
				InterimTranscript: settings.InterimTranscript,
				EmitInterim:       settings.EmitInterim,
			})
		}, nil
	})
	r.RegisterBatch("mock", func(cfg Config) (BatchTranscriber, error) {
		var settings mockSettings
		if err := configutil.DecodeSettings(cfg.Vendors.ASR.Settings, &settings); err != nil {
			return nil, err
		}
		transcript := settings.Transcript
		if transcript == "" {
			transcript = "mock transcript"
		}
		return mockBatch{transcript: transcript}, nil
	})
}
