package vosk

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	vosk "github.com/alphacep/vosk-api/go"

	"github.com/horchlabs/horch/pkg/adapters/asr"
	"github.com/horchlabs/horch/pkg/errorsx"
	"github.com/horchlabs/horch/pkg/frames"
	"github.com/horchlabs/horch/pkg/logging"
)

// Engine wraps a loaded Kaldi model. Loading is expensive, so one Engine is
// shared across all streams and upload transcriptions.
type Engine struct {
	model *vosk.VoskModel
	path  string
}

func NewEngine(modelPath string) (*Engine, error) {
	if strings.TrimSpace(modelPath) == "" {
		return nil, errorsx.Wrap(errors.New("model path is empty"), errorsx.ReasonASRModel)
	}
	model, err := vosk.NewModel(modelPath)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonASRModel)
	}
	return &Engine{model: model, path: modelPath}, nil
}

func (e *Engine) ModelPath() string { return e.path }

func (e *Engine) Close() {
	if e.model != nil {
		e.model.Free()
		e.model = nil
	}
}

// NewStream creates a streaming recognizer bound to this engine's model.
func (e *Engine) NewStream(cfg asr.Config) *StreamingASR {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	logger := logging.NewComponentLogger(slog.Default(), "vosk_asr")
	return &StreamingASR{
		engine: e,
		cfg:    cfg,
		out:    make(chan frames.Frame, 256),
		logger: logger,
	}
}

// StreamingASR feeds PCM chunks into a per-stream Kaldi recognizer and emits
// interim and final text frames. The recognizer is not safe for concurrent
// use, so all calls go through the mutex.
type StreamingASR struct {
	engine *Engine
	cfg    asr.Config
	rec    *vosk.VoskRecognizer
	out    chan frames.Frame
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu          sync.Mutex
	started     bool
	lastPartial string
}

func (s *StreamingASR) Name() string { return "vosk_streaming" }

func (s *StreamingASR) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	rec, err := vosk.NewRecognizer(s.engine.model, float64(s.cfg.SampleRate))
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonASRConnect)
	}
	s.mu.Lock()
	s.rec = rec
	s.started = true
	s.mu.Unlock()

	s.logger.Info("recognizer_ready",
		slog.String("stream_id", s.cfg.StreamID),
		slog.Int("sample_rate", s.cfg.SampleRate),
		slog.String("model", s.engine.path))
	return nil
}

func (s *StreamingASR) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.rec != nil {
		if text := resultText(s.rec.FinalResult()); text != "" {
			s.emitLocked(s.textFrame(text, true))
			s.emitLocked(s.flushFrame("utterance_end"))
		}
		s.rec.Free()
		s.rec = nil
	}
	if s.out != nil {
		close(s.out)
		s.out = nil
	}
	s.started = false
	return nil
}

func (s *StreamingASR) SendAudio(frame frames.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.rec == nil {
		return errorsx.Wrap(errors.New("not started"), errorsx.ReasonASRSend)
	}
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}

	if s.rec.AcceptWaveform(frame.RawPayload()) != 0 {
		text := resultText(s.rec.Result())
		s.lastPartial = ""
		if text != "" {
			s.emitLocked(s.textFrame(text, true))
			s.emitLocked(s.flushFrame("segment_final"))
		}
		return nil
	}

	partial := partialText(s.rec.PartialResult())
	if partial != "" && partial != s.lastPartial {
		s.lastPartial = partial
		s.emitLocked(s.textFrame(partial, false))
	}
	return nil
}

func (s *StreamingASR) Results() <-chan frames.Frame { return s.out }

func (s *StreamingASR) textFrame(text string, final bool) frames.Frame {
	meta := map[string]string{
		frames.MetaStreamID: s.cfg.StreamID,
		frames.MetaSource:   "asr",
		frames.MetaIsFinal:  "false",
	}
	if final {
		meta[frames.MetaIsFinal] = "true"
	}
	if s.cfg.TraceID != "" {
		meta[frames.MetaTraceID] = s.cfg.TraceID
	}
	return frames.NewTextFrame(s.cfg.StreamID, time.Now().UnixNano(), text, meta)
}

func (s *StreamingASR) flushFrame(reason string) frames.Frame {
	meta := map[string]string{
		frames.MetaStreamID: s.cfg.StreamID,
		frames.MetaSource:   "asr",
		frames.MetaReason:   reason,
	}
	if s.cfg.TraceID != "" {
		meta[frames.MetaTraceID] = s.cfg.TraceID
	}
	return frames.NewControlFrame(s.cfg.StreamID, time.Now().UnixNano(), frames.ControlFlush, meta)
}

func (s *StreamingASR) emitLocked(f frames.Frame) {
	if s.out == nil {
		return
	}
	select {
	case s.out <- f:
	default:
		s.logger.Warn("out_channel_full", slog.String("stream_id", s.cfg.StreamID))
	}
}

func resultText(raw string) string {
	var r struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return ""
	}
	return strings.TrimSpace(r.Text)
}

func partialText(raw string) string {
	var r struct {
		Partial string `json:"partial"`
	}
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return ""
	}
	return strings.TrimSpace(r.Partial)
}

var _ asr.StreamingASR = (*StreamingASR)(nil)
