package horch

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/horchlabs/horch/pkg/pipeline"
	"github.com/spf13/viper"
)

type Config struct {
	Pipeline      pipeline.Config       `mapstructure:"pipeline"`
	Engine        pipeline.EngineConfig `mapstructure:"engine"`
	Vendors       VendorsConfig         `mapstructure:"vendors"`
	Transports    TransportsConfig      `mapstructure:"transports"`
	Listen        ListenConfig          `mapstructure:"listen"`
	ASR           ASRProcessingConfig   `mapstructure:"asr"`
	Archive       ArchiveConfig         `mapstructure:"archive"`
	Weather       WeatherConfig         `mapstructure:"weather"`
	Capture       CaptureConfig         `mapstructure:"capture"`
	Environment   string                `mapstructure:"environment"`
	LogLevel      string                `mapstructure:"log_level"`
	LogFormat     string                `mapstructure:"log_format"`
	Observability ObservabilityConfig   `mapstructure:"observability"`
	Privacy       PrivacyConfig         `mapstructure:"privacy"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	ASR VendorConfig `mapstructure:"asr"`
}

type TransportsConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

// ListenConfig tunes the trigger word gate in front of the recognizer.
type ListenConfig struct {
	TriggerWord     string  `mapstructure:"trigger_word"`
	Threshold       float64 `mapstructure:"threshold"`
	SilenceMS       int     `mapstructure:"silence_ms"`
	PreBufferChunks int     `mapstructure:"pre_buffer_chunks"`
	ProbeMinChunks  int     `mapstructure:"probe_min_chunks"`
	Gain            float64 `mapstructure:"gain"`
}

type ASRProcessingConfig struct {
	ForwardInterim bool `mapstructure:"forward_interim"`
}

type ArchiveConfig struct {
	RecordingsDir  string `mapstructure:"recordings_dir"`
	TranscriptsDir string `mapstructure:"transcripts_dir"`
}

type WeatherConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	APIURL      string `mapstructure:"api_url"`
	TimeoutMS   int    `mapstructure:"timeout_ms"`
	MaxRetries  int    `mapstructure:"max_retries"`
	BackoffMS   int    `mapstructure:"backoff_ms"`
	DefaultCity string `mapstructure:"default_city"`
}

// CaptureConfig selects the local audio source. File replaces the microphone
// when set, which keeps the full pipeline runnable without audio hardware.
type CaptureConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	StreamID string `mapstructure:"stream_id"`
	File     string `mapstructure:"file"`
	Realtime bool   `mapstructure:"realtime"`
}

type ObservabilityConfig struct {
	ArtifactsDir  string `mapstructure:"artifacts_dir"`
	RecordAudio   bool   `mapstructure:"record_audio"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("pipeline.async", true)
	v.SetDefault("pipeline.stagebuffer", 128)
	v.SetDefault("pipeline.highcapacity", 256)
	v.SetDefault("pipeline.lowcapacity", 512)
	v.SetDefault("pipeline.fairnessratio", 3)
	v.SetDefault("pipeline.backpressure", "drop")
	v.SetDefault("engine.samplerate", 16000)
	v.SetDefault("engine.chunk_samples", 1024)
	v.SetDefault("engine.asr_replay_chunks", 50)
	v.SetDefault("listen.trigger_word", "wetter")
	v.SetDefault("listen.threshold", 500.0)
	v.SetDefault("listen.silence_ms", 1500)
	v.SetDefault("listen.pre_buffer_chunks", 30)
	v.SetDefault("listen.probe_min_chunks", 15)
	v.SetDefault("listen.gain", 1.0)
	v.SetDefault("asr.forward_interim", false)
	v.SetDefault("archive.recordings_dir", "recordings")
	v.SetDefault("archive.transcripts_dir", "transcribe_text")
	v.SetDefault("weather.enabled", true)
	v.SetDefault("weather.api_url", "")
	v.SetDefault("weather.timeout_ms", 10000)
	v.SetDefault("weather.max_retries", 2)
	v.SetDefault("weather.backoff_ms", 250)
	v.SetDefault("weather.default_city", "heilbronn")
	v.SetDefault("capture.enabled", true)
	v.SetDefault("capture.stream_id", "mic")
	v.SetDefault("capture.file", "")
	v.SetDefault("capture.realtime", true)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.record_audio", false)
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw struct {
		Pipeline struct {
			Async         bool   `mapstructure:"async"`
			StageBuffer   int    `mapstructure:"stagebuffer"`
			HighCapacity  int    `mapstructure:"highcapacity"`
			LowCapacity   int    `mapstructure:"lowcapacity"`
			FairnessRatio int    `mapstructure:"fairnessratio"`
			Backpressure  string `mapstructure:"backpressure"`
		} `mapstructure:"pipeline"`
		Engine        pipeline.EngineConfig `mapstructure:"engine"`
		Vendors       VendorsConfig         `mapstructure:"vendors"`
		Transports    TransportsConfig      `mapstructure:"transports"`
		Listen        ListenConfig          `mapstructure:"listen"`
		ASR           ASRProcessingConfig   `mapstructure:"asr"`
		Archive       ArchiveConfig         `mapstructure:"archive"`
		Weather       WeatherConfig         `mapstructure:"weather"`
		Capture       CaptureConfig         `mapstructure:"capture"`
		Environment   string                `mapstructure:"environment"`
		LogLevel      string                `mapstructure:"log_level"`
		LogFormat     string                `mapstructure:"log_format"`
		Observability ObservabilityConfig   `mapstructure:"observability"`
		Privacy       PrivacyConfig         `mapstructure:"privacy"`
	}
	if err := v.Unmarshal(&raw); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg := Config{
		Pipeline: pipeline.Config{
			Async:         raw.Pipeline.Async,
			StageBuffer:   raw.Pipeline.StageBuffer,
			HighCapacity:  raw.Pipeline.HighCapacity,
			LowCapacity:   raw.Pipeline.LowCapacity,
			FairnessRatio: raw.Pipeline.FairnessRatio,
			Backpressure:  parseBackpressure(raw.Pipeline.Backpressure),
		},
		Engine:        raw.Engine,
		Vendors:       raw.Vendors,
		Transports:    raw.Transports,
		Listen:        raw.Listen,
		ASR:           raw.ASR,
		Archive:       raw.Archive,
		Weather:       raw.Weather,
		Capture:       raw.Capture,
		Environment:   raw.Environment,
		LogLevel:      raw.LogLevel,
		LogFormat:     raw.LogFormat,
		Observability: raw.Observability,
		Privacy:       raw.Privacy,
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Transports.Provider) == "" {
		return fmt.Errorf("transports.provider is required")
	}
	if strings.TrimSpace(c.Vendors.ASR.Provider) == "" {
		return fmt.Errorf("vendors.asr.provider is required")
	}
	if c.Engine.SampleRate <= 0 {
		return fmt.Errorf("engine.samplerate must be positive")
	}
	if c.Engine.ChunkSamples <= 0 {
		return fmt.Errorf("engine.chunk_samples must be positive")
	}
	if strings.TrimSpace(c.Listen.TriggerWord) == "" {
		return fmt.Errorf("listen.trigger_word is required")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.ASR.Settings = expandSettings(cfg.Vendors.ASR.Settings)
	cfg.Transports.Settings = expandSettings(cfg.Transports.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}

func parseBackpressure(v string) pipeline.BackpressureMode {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "wait":
		return pipeline.BackpressureWait
	case "drop", "":
		return pipeline.BackpressureDrop
	default:
		if n, err := strconv.Atoi(v); err == nil {
			return pipeline.BackpressureMode(n)
		}
	}
	return pipeline.BackpressureDrop
}
