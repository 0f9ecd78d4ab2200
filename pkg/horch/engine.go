package horch

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/horchlabs/horch/pkg/capture"
	"github.com/horchlabs/horch/pkg/configutil"
	"github.com/horchlabs/horch/pkg/frames"
	"github.com/horchlabs/horch/pkg/listen"
	"github.com/horchlabs/horch/pkg/metrics"
	"github.com/horchlabs/horch/pkg/observers"
	"github.com/horchlabs/horch/pkg/pipeline"
	"github.com/horchlabs/horch/pkg/processors"
	"github.com/horchlabs/horch/pkg/redact"
	"github.com/horchlabs/horch/pkg/runner"
	"github.com/horchlabs/horch/pkg/transports"
	"github.com/horchlabs/horch/pkg/transports/mock"
	"github.com/horchlabs/horch/pkg/transports/wsserver"
	"github.com/horchlabs/horch/pkg/weather"
)

type Engine struct {
	cfg       Config
	registry  *pipeline.SessionRegistry
	transport transports.Transport
	providers *ProviderRegistry
	runner    *pipeline.Runner
	asyncObs  *metrics.AsyncObserver
	batch     BatchTranscriber
	source    capture.Source
	ctx       context.Context
	cancel    context.CancelFunc
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	Transport transports.Transport
	// Source overrides the configured capture source (microphone or file).
	Source capture.Source
	// Optional hooks and extensions.
	PreProcessors  []pipeline.FrameProcessor
	PostProcessors []pipeline.FrameProcessor
}

type observerSink interface {
	SetObserver(metrics.Observer)
}

type healthSink interface {
	SetHealth(func() map[string]any)
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	SetDefaultLogger(cfg.LogLevel, cfg.LogFormat)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	slog.Info("horch_init",
		"environment", cfg.Environment,
		"asr_provider", cfg.Vendors.ASR.Provider,
		"transport", cfg.Transports.Provider,
		"trigger_word", cfg.Listen.TriggerWord,
	)

	// Logging Configuration
	pipeline.LogConfiguration(cfg.Engine)
	latencyObs := observers.NewLatencyObserver(slog.Default())
	logObs := observers.NewLoggerObserver(slog.Default())
	var timelineObs *observers.TimelineObserver
	var usageObs *observers.UsageObserver
	obsList := []metrics.Observer{latencyObs, logObs}
	if dir := strings.TrimSpace(cfg.Observability.ArtifactsDir); dir != "" {
		if cfg.Observability.RetentionDays > 0 {
			_, _ = observers.PurgeArtifacts(dir, time.Duration(cfg.Observability.RetentionDays)*24*time.Hour)
		}
		timelineObs = observers.NewTimelineObserver(dir)
		usageObs = observers.NewUsageObserver(dir)
		obsList = append(obsList, timelineObs, usageObs)
	}
	multiObs := observers.NewMultiObserver(obsList...)
	asyncObs := metrics.NewAsyncObserver(multiObs, 2048)

	providers := opts.Providers
	if providers == nil {
		providers = NewProviderRegistry()
		RegisterDefaultProviders(providers)
	}

	// Load the recognizer model up front. The trigger word probe and file
	// uploads need it before any stream exists.
	batch, err := providers.BuildBatch(cfg.Vendors.ASR.Provider, cfg)
	if err != nil {
		return nil, fmt.Errorf("build batch transcriber: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	probe := func(pcm []byte) (string, error) {
		probeCtx, probeCancel := context.WithTimeout(ctx, 10*time.Second)
		defer probeCancel()
		return batch.TranscribePCM(probeCtx, pcm, cfg.Engine.SampleRate)
	}

	var weatherClient *weather.Client
	if strings.TrimSpace(cfg.Weather.APIURL) != "" {
		weatherClient = weather.NewClient(weather.ClientConfig{
			APIURL:     cfg.Weather.APIURL,
			Timeout:    time.Duration(cfg.Weather.TimeoutMS) * time.Millisecond,
			MaxRetries: cfg.Weather.MaxRetries,
			Backoff:    time.Duration(cfg.Weather.BackoffMS) * time.Millisecond,
		})
	} else if cfg.Weather.Enabled {
		slog.Warn("weather_backend_disabled", "reason", "weather.api_url is empty")
	}

	var sink func(frames.Frame)
	if opts.Transport != nil {
		sink = func(f frames.Frame) {
			_ = opts.Transport.Send(f)
		}
	}

	listenCfg := listen.Config{
		TriggerWord:    cfg.Listen.TriggerWord,
		SampleRate:     cfg.Engine.SampleRate,
		ChunkSamples:   cfg.Engine.ChunkSamples,
		BufferChunks:   cfg.Listen.PreBufferChunks,
		ProbeMinChunks: cfg.Listen.ProbeMinChunks,
		SilenceSeconds: float64(cfg.Listen.SilenceMS) / 1000.0,
		Threshold:      cfg.Listen.Threshold,
	}

	// Registry Factory
	registry := pipeline.NewSessionRegistry(func(sessCtx context.Context, streamID, traceID, source string) (pipeline.Orchestrator, error) {
		asrFactory, err := providers.BuildASRFactory(cfg.Vendors.ASR.Provider, cfg, traceID)
		if err != nil {
			return nil, err
		}
		asrProc := processors.NewASRProcessor(asrFactory)
		asrProc.SetForwardInterim(cfg.ASR.ForwardInterim)
		asrProc.SetReplayBuffer(processors.ASRReplayConfig{MaxChunks: cfg.Engine.ASRReplayChunks})
		asrProc.SetObserver(asyncObs)
		asrProc.SetContext(sessCtx)

		wakeProc := processors.NewWakeProcessor(listenCfg, probe)
		wakeProc.SetObserver(asyncObs)

		archiveProc, err := processors.NewArchiveProcessor(processors.ArchiveConfig{
			RecordingsDir: cfg.Archive.RecordingsDir,
			TranscriptDir: cfg.Archive.TranscriptsDir,
			SampleRate:    cfg.Engine.SampleRate,
			Channels:      1,
		})
		if err != nil {
			return nil, err
		}
		archiveProc.SetObserver(asyncObs)

		weatherProc := processors.NewWeatherProcessor(weather.NewExtractor(), weatherClient)
		weatherProc.SetFetchEnabled(cfg.Weather.Enabled && weatherClient != nil)
		weatherProc.SetObserver(asyncObs)
		weatherProc.SetContext(sessCtx)

		builder := pipeline.NewTranscriberBuilder().
			WithGain(processors.NewGainProcessor(cfg.Listen.Gain))
		for _, p := range opts.PreProcessors {
			if p != nil {
				builder = builder.WithProcessor(p)
			}
		}
		builder = builder.WithWake(wakeProc).
			WithASR(asrProc).
			WithArchive(archiveProc).
			WithWeather(weatherProc)
		for _, p := range opts.PostProcessors {
			if p != nil {
				builder = builder.WithSerializer(p)
			}
		}

		orch := builder.Build(cfg.Pipeline)
		orch.SetContext(sessCtx)
		orch.SetObserver(asyncObs)
		if sink != nil {
			orch.SetSink(sink)
		}

		go func() {
			<-sessCtx.Done()
			asrProc.CloseAll()
			wakeProc.CloseStream(streamID)
		}()

		return orch, nil
	})

	if obsT, ok := opts.Transport.(observerSink); ok {
		obsT.SetObserver(asyncObs)
	}
	if hs, ok := opts.Transport.(healthSink); ok {
		provider := cfg.Vendors.ASR.Provider
		hs.SetHealth(func() map[string]any {
			return map[string]any{
				"asr_provider":   provider,
				"model_loaded":   true,
				"active_streams": registry.Count(),
			}
		})
	}

	hooks := runner.Hooks{
		OnStart: func() {
			fields := []any{"message", "Horch Engine Ready"}
			if rr, ok := opts.Transport.(transports.ReadyReporter); ok {
				for k, v := range rr.ReadyFields() {
					fields = append(fields, k, v)
				}
			}
			slog.Info("engine_ready", fields...)
		},
		OnStop: func() {
			if asyncObs != nil {
				asyncObs.Close()
			}
			if timelineObs != nil {
				_ = timelineObs.Close()
			}
			if usageObs != nil {
				_ = usageObs.Close()
			}
			slog.Info("shutdown", "goroutines", runtime.NumGoroutine(), "active_streams", registry.Count())
		},
	}

	drainer := pipeline.DrainerFunc(func() error {
		if opts.Transport != nil {
			_ = opts.Transport.Stop()
		}
		registry.SetDraining(true)
		registry.CloseAll()
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer drainCancel()
		_ = registry.WaitForEmpty(drainCtx, 200*time.Millisecond)
		return nil
	})

	lr := pipeline.NewDrainRunner(drainer, hooks, 30*time.Second)

	source := opts.Source
	if source == nil && cfg.Capture.Enabled {
		captureCfg := capture.Config{
			SampleRate:   cfg.Engine.SampleRate,
			Channels:     1,
			ChunkSamples: cfg.Engine.ChunkSamples,
		}
		if strings.TrimSpace(cfg.Capture.File) != "" {
			source = capture.NewFileSource(cfg.Capture.File, captureCfg, cfg.Capture.Realtime)
		} else {
			source = capture.NewMicSource(captureCfg)
		}
	}

	return &Engine{
		cfg:       cfg,
		registry:  registry,
		transport: opts.Transport,
		providers: providers,
		runner:    lr,
		asyncObs:  asyncObs,
		batch:     batch,
		source:    source,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// BuildTransport constructs the configured transport from its settings block.
func BuildTransport(cfg Config) (transports.Transport, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transports.Provider)) {
	case "websocket", "ws":
		var wsCfg wsserver.Config
		if err := configutil.DecodeSettings(cfg.Transports.Settings, &wsCfg); err != nil {
			return nil, err
		}
		if wsCfg.MicStreamID == "" {
			wsCfg.MicStreamID = cfg.Capture.StreamID
		}
		return wsserver.New(wsCfg), nil
	case "mock":
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("transport provider not registered: %s", cfg.Transports.Provider)
	}
}

func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.transport != nil {
		if err := e.transport.Start(ctx); err != nil {
			return err
		}
		go e.routeTransport(ctx)
	}
	if e.source != nil {
		if err := e.source.Start(e.ctx); err != nil {
			return err
		}
		go e.pumpCapture(ctx)
	}
	go func() {
		_ = e.runner.Run(ctx)
	}()
	return nil
}

func (e *Engine) Stop() error {
	if e.source != nil {
		_ = e.source.Close()
	}
	if e.cancel != nil {
		e.cancel()
	}
	return e.runner.Stop()
}

// pumpCapture feeds microphone (or replay file) chunks into the mic session.
func (e *Engine) pumpCapture(ctx context.Context) {
	streamID := e.cfg.Capture.StreamID
	if streamID == "" {
		streamID = "mic"
	}
	traceID := uuid.NewString()
	meta := map[string]string{
		frames.MetaTraceID: traceID,
		frames.MetaSource:  "mic",
	}
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-e.source.Chunks():
			if !ok {
				return
			}
			sess, _, err := e.registry.GetOrCreate(streamID, traceID, "mic")
			if err != nil {
				slog.Error("capture_session_error", "stream_id", streamID, "error", err.Error())
				continue
			}
			af := frames.NewAudioFrame(streamID, time.Now().UnixNano(), chunk, e.cfg.Engine.SampleRate, 1, meta)
			nonBlockingSend(sess.Orch.In(), af)
		}
	}
}

func (e *Engine) routeTransport(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-e.transport.Recv():
			if !ok {
				return
			}
			meta := f.Meta()
			streamID := meta[frames.MetaStreamID]
			if streamID == "" {
				continue
			}
			traceID := meta[frames.MetaTraceID]
			source := meta[frames.MetaSource]

			if f.Kind() == frames.KindSystem {
				sf := f.(frames.SystemFrame)
				if sf.Name() == frames.SysStreamEnd {
					e.registry.Remove(streamID)
					continue
				}
			}

			// Uploads arrive as one complete buffer at the file's own sample
			// rate, so they go through batch transcription instead of the
			// streaming recognizer. The transcript is injected back into the
			// upload session and flows through archive and weather as usual.
			if source == "upload" {
				if f.Kind() == frames.KindAudio {
					af := f.(frames.AudioFrame)
					e.recordAudioIn(af, streamID, traceID)
					go e.transcribeUpload(ctx, af)
				}
				continue
			}

			if f.Kind() == frames.KindAudio {
				af := f.(frames.AudioFrame)
				e.recordAudioIn(af, streamID, traceID)
			}

			sess, _, err := e.registry.GetOrCreate(streamID, traceID, source)
			if err != nil {
				slog.Error("transport_session_error", "stream_id", streamID, "error", err.Error())
				continue
			}
			nonBlockingSend(sess.Orch.In(), f)
		}
	}
}

func (e *Engine) transcribeUpload(ctx context.Context, af frames.AudioFrame) {
	meta := af.Meta()
	streamID := meta[frames.MetaStreamID]
	traceID := meta[frames.MetaTraceID]

	if e.transport != nil {
		_ = e.transport.Send(frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SysProcessing, meta))
	}

	uploadCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	text, err := e.batch.TranscribePCM(uploadCtx, af.RawPayload(), af.Rate())
	if err != nil {
		slog.Error("upload_transcribe_error", "stream_id", streamID, "error", err.Error())
		if e.transport != nil {
			_ = e.transport.Send(frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SysError, map[string]string{
				frames.MetaStreamID: streamID,
				frames.MetaMessage:  "Transkription fehlgeschlagen",
			}))
		}
		return
	}
	if strings.TrimSpace(text) == "" {
		if e.transport != nil {
			_ = e.transport.Send(frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SysMessage, map[string]string{
				frames.MetaStreamID: streamID,
				frames.MetaMessage:  "Keine Sprache erkannt",
			}))
		}
		return
	}

	textMeta := map[string]string{
		frames.MetaIsFinal: "true",
		frames.MetaSource:  "upload",
	}
	if traceID != "" {
		textMeta[frames.MetaTraceID] = traceID
	}
	tf := frames.NewTextFrame(streamID, time.Now().UnixNano(), text, textMeta)

	sess, _, err := e.registry.GetOrCreate(streamID, traceID, "upload")
	if err != nil {
		slog.Error("upload_session_error", "stream_id", streamID, "error", err.Error())
		if e.transport != nil {
			_ = e.transport.Send(tf)
		}
		return
	}
	nonBlockingSend(sess.Orch.In(), tf)
}

func (e *Engine) recordAudioIn(af frames.AudioFrame, streamID, traceID string) {
	if e.asyncObs == nil {
		return
	}
	fields := map[string]any{
		"sample_rate": af.Rate(),
		"channels":    af.Channels(),
	}
	if e.cfg.Observability.RecordAudio {
		fields["payload_b64"] = base64.StdEncoding.EncodeToString(af.RawPayload())
	}
	tags := map[string]string{
		frames.MetaStreamID: streamID,
		"component":         "transport",
	}
	if traceID != "" {
		tags[frames.MetaTraceID] = traceID
	}
	e.asyncObs.RecordEvent(metrics.MetricsEvent{
		Name:   "audio_in",
		Time:   time.Now(),
		Tags:   tags,
		Fields: fields,
	})
}

func nonBlockingSend(ch chan frames.Frame, f frames.Frame) {
	select {
	case ch <- f:
	default:
	}
}

func SetDefaultLogger(level, format string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(strings.TrimSpace(format)) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func (e *Engine) ProviderRegistry() *ProviderRegistry {
	return e.providers
}

func (e *Engine) Transport() transports.Transport {
	return e.transport
}

func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) Registry() *pipeline.SessionRegistry {
	return e.registry
}

func (e *Engine) Context() context.Context {
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

func (e *Engine) Health() error {
	if e.transport == nil {
		return fmt.Errorf("missing transport")
	}
	return nil
}
