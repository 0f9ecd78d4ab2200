package processors

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/horchlabs/horch/pkg/adapters/asr"
	"github.com/horchlabs/horch/pkg/errorsx"
	"github.com/horchlabs/horch/pkg/frames"
	"github.com/horchlabs/horch/pkg/metrics"
	"github.com/horchlabs/horch/pkg/pipeline"
	"github.com/horchlabs/horch/pkg/redact"
	"github.com/horchlabs/horch/pkg/resilience"
)

type ASRProcessor struct {
	mu             sync.Mutex
	sessions       map[string]asr.StreamingASR
	factory        func(streamID string) asr.StreamingASR
	replayCfg      ASRReplayConfig
	replay         map[string]*audioReplayBuffer
	ctx            context.Context
	obs            metrics.Observer
	trace          map[string]string
	retry          resilience.RetryPolicy
	breaker        *resilience.CircuitBreaker
	interimLogged  map[string]bool
	forwardInterim bool
	provider       string
	breakerOpen    bool
}

type ASRReplayConfig struct {
	MaxChunks int
}

type audioChunk struct {
	data     []byte
	rate     int
	channels int
}

type audioReplayBuffer struct {
	maxChunks int
	chunks    []audioChunk
}

func newAudioReplayBuffer(maxChunks int) *audioReplayBuffer {
	if maxChunks <= 0 {
		maxChunks = 0
	}
	return &audioReplayBuffer{maxChunks: maxChunks}
}

func (b *audioReplayBuffer) Add(chunk audioChunk) {
	if b == nil || b.maxChunks <= 0 {
		return
	}
	b.chunks = append(b.chunks, chunk)
	if len(b.chunks) > b.maxChunks {
		b.chunks = b.chunks[len(b.chunks)-b.maxChunks:]
	}
}

func (b *audioReplayBuffer) Snapshot() []audioChunk {
	if b == nil || len(b.chunks) == 0 {
		return nil
	}
	out := make([]audioChunk, len(b.chunks))
	copy(out, b.chunks)
	return out
}

func NewASRProcessor(factory func(streamID string) asr.StreamingASR) *ASRProcessor {
	return &ASRProcessor{
		sessions:      make(map[string]asr.StreamingASR),
		factory:       factory,
		replayCfg:     ASRReplayConfig{MaxChunks: 50},
		replay:        make(map[string]*audioReplayBuffer),
		trace:         make(map[string]string),
		retry:         resilience.NewRetryPolicy(2, 200*time.Millisecond),
		breaker:       resilience.NewCircuitBreaker(3, 30*time.Second),
		interimLogged: make(map[string]bool),
	}
}

// SetReplayBuffer configures how many recent audio chunks to replay on reconnect.
func (p *ASRProcessor) SetReplayBuffer(cfg ASRReplayConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cfg.MaxChunks < 0 {
		cfg.MaxChunks = 0
	}
	p.replayCfg = cfg
	if cfg.MaxChunks == 0 {
		p.replay = make(map[string]*audioReplayBuffer)
	}
}

// SetForwardInterim toggles emitting interim text frames downstream.
func (p *ASRProcessor) SetForwardInterim(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forwardInterim = enabled
}

func (p *ASRProcessor) Name() string { return "asr_processor" }

func (p *ASRProcessor) SetObserver(obs metrics.Observer) { p.obs = obs }

func (p *ASRProcessor) SetContext(ctx context.Context) {
	if ctx != nil {
		p.ctx = ctx
	}
}

func (p *ASRProcessor) Process(f frames.Frame) ([]frames.Frame, error) {
	switch f.Kind() {
	case frames.KindSystem:
		sf := f.(frames.SystemFrame)
		if sf.Name() == frames.SysStreamEnd {
			meta := sf.Meta()
			out := []frames.Frame{f}
			out = append(out, p.closeAndDrain(meta[frames.MetaStreamID])...)
			return out, nil
		}
		return []frames.Frame{f}, nil
	case frames.KindControl:
		cf := f.(frames.ControlFrame)
		meta := cf.Meta()
		if cf.Code() == frames.ControlFlush && meta[frames.MetaReason] == "utterance_end" {
			streamID := meta[frames.MetaStreamID]
			out := p.closeAndDrain(streamID)
			out = append(out, f)
			return out, nil
		}
		return []frames.Frame{f}, nil
	case frames.KindAudio:
	default:
		return []frames.Frame{f}, nil
	}

	af := f.(frames.AudioFrame)
	meta := af.Meta()
	streamID := meta[frames.MetaStreamID]
	p.addReplay(streamID, af)
	if v := meta[frames.MetaTraceID]; v != "" {
		p.setTrace(streamID, v)
	}

	if !p.breaker.Allow() {
		p.record(metrics.EventBreakerDenied, streamID, p.getTrace(streamID))
		p.setBreakerOpen(true, streamID, p.getTrace(streamID))
		slog.Info("asr_circuit_open", "stream_id", streamID, "reason_code", string(errorsx.ReasonASRCircuitOpen))
		frames.ReleaseAudioFrame(f)
		return []frames.Frame{frames.NewControlFrame(streamID, time.Now().UnixNano(), frames.ControlFallback, meta)}, nil
	}
	p.setBreakerOpen(false, streamID, p.getTrace(streamID))

	sess, err := p.getOrCreate(streamID)
	if err != nil {
		err = errorsx.Wrap(err, errorsx.ReasonASRConnect)
		slog.Info("asr_session_error", "stream_id", streamID, "reason_code", string(errorsx.Reason(err)), "error", err.Error())
		p.recordRateLimit(err, streamID, p.getTrace(streamID))
		p.breaker.OnError(err)
		frames.ReleaseAudioFrame(f)
		return []frames.Frame{frames.NewControlFrame(streamID, time.Now().UnixNano(), frames.ControlFallback, meta)}, nil
	}
	p.setProviderFromSession(sess)
	p.recordWithFields(metrics.EventASRAudioIn, streamID, p.getTrace(streamID), map[string]any{
		"bytes":       len(af.RawPayload()),
		"sample_rate": af.Rate(),
		"channels":    af.Channels(),
	})
	if err := sess.SendAudio(af); err != nil {
		err = errorsx.Wrap(err, errorsx.ReasonASRSend)
		slog.Info("asr_send_error", "stream_id", streamID, "reason_code", string(errorsx.Reason(err)), "error", err.Error())
		replayed := false
		retryErr := p.retry.Do(func() error {
			p.CloseStream(streamID)
			sess, err = p.getOrCreate(streamID)
			if err != nil {
				return err
			}
			if !replayed {
				p.replayToSession(streamID, sess)
				replayed = true
			}
			return sess.SendAudio(af)
		})
		if retryErr != nil {
			retryErr = errorsx.Wrap(retryErr, errorsx.ReasonASRRetry)
			slog.Info("asr_retry_error", "stream_id", streamID, "reason_code", string(errorsx.Reason(retryErr)), "error", retryErr.Error())
			p.recordRateLimit(retryErr, streamID, p.getTrace(streamID))
			p.breaker.OnError(retryErr)
			frames.ReleaseAudioFrame(f)
			return []frames.Frame{frames.NewControlFrame(streamID, time.Now().UnixNano(), frames.ControlFallback, meta)}, nil
		}
	}
	p.breaker.OnSuccess()

	// forward the audio so the archive stage can accumulate the utterance
	out := []frames.Frame{f}

	res := p.drainFramesWithSignals(sess.Results(), streamID)
	out = append(out, res...)
	return out, nil
}

func (p *ASRProcessor) getOrCreate(streamID string) (asr.StreamingASR, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sess, ok := p.sessions[streamID]; ok {
		return sess, nil
	}
	sess := p.factory(streamID)
	if p.ctx == nil {
		p.ctx = context.Background()
	}
	if err := sess.Start(p.ctx); err != nil {
		return nil, err
	}
	p.sessions[streamID] = sess
	return sess, nil
}

func (p *ASRProcessor) CloseStream(streamID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sess, ok := p.sessions[streamID]; ok {
		_ = sess.Close()
		delete(p.sessions, streamID)
	}
	delete(p.trace, streamID)
	delete(p.replay, streamID)
	delete(p.interimLogged, streamID)
}

// closeAndDrain flushes the recognizer's final hypothesis by closing the
// session and collecting whatever frames it emitted on the way out.
func (p *ASRProcessor) closeAndDrain(streamID string) []frames.Frame {
	if streamID == "" {
		return nil
	}
	p.mu.Lock()
	sess, ok := p.sessions[streamID]
	if ok {
		delete(p.sessions, streamID)
	}
	delete(p.replay, streamID)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	ch := sess.Results()
	_ = sess.Close()
	out := p.drainFramesWithSignals(ch, streamID)
	p.mu.Lock()
	delete(p.trace, streamID)
	delete(p.interimLogged, streamID)
	p.mu.Unlock()
	return out
}

func (p *ASRProcessor) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, sess := range p.sessions {
		_ = sess.Close()
		delete(p.sessions, id)
	}
	p.trace = make(map[string]string)
	p.replay = make(map[string]*audioReplayBuffer)
	p.interimLogged = make(map[string]bool)
}

func (p *ASRProcessor) drainFramesWithSignals(ch <-chan frames.Frame, streamID string) []frames.Frame {
	var out []frames.Frame
	if ch == nil {
		return out
	}
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return out
			}
			if f.Kind() == frames.KindText {
				tf := f.(frames.TextFrame)
				p.mu.Lock()
				forwardInterim := p.forwardInterim
				p.mu.Unlock()
				if tf.Meta()[frames.MetaIsFinal] != "true" {
					p.logInterim(streamID, tf.Text())
					if forwardInterim {
						out = append(out, tf)
					}
					continue
				}
				p.logFinal(streamID, tf.Text())
				p.record(metrics.EventASRFinal, streamID, p.getTrace(streamID))
				out = append(out, tf)
				continue
			}
			out = append(out, f)
		default:
			return out
		}
	}
}

var _ pipeline.FrameProcessor = (*ASRProcessor)(nil)

func (p *ASRProcessor) record(name, streamID, traceID string) {
	if p.obs == nil {
		return
	}
	tags := map[string]string{frames.MetaStreamID: streamID, "component": "asr"}
	if traceID != "" {
		tags[frames.MetaTraceID] = traceID
	}
	if p.provider != "" {
		tags["provider"] = p.provider
	}
	p.obs.RecordEvent(metrics.MetricsEvent{
		Name: name,
		Time: time.Now(),
		Tags: tags,
	})
}

func (p *ASRProcessor) recordWithFields(name, streamID, traceID string, fields map[string]any) {
	if p.obs == nil {
		return
	}
	tags := map[string]string{frames.MetaStreamID: streamID, "component": "asr"}
	if traceID != "" {
		tags[frames.MetaTraceID] = traceID
	}
	if p.provider != "" {
		tags["provider"] = p.provider
	}
	p.obs.RecordEvent(metrics.MetricsEvent{
		Name:   name,
		Time:   time.Now(),
		Tags:   tags,
		Fields: fields,
	})
}

func (p *ASRProcessor) addReplay(streamID string, af frames.AudioFrame) {
	if streamID == "" {
		return
	}
	p.mu.Lock()
	cfg := p.replayCfg
	buf := p.replay[streamID]
	if cfg.MaxChunks <= 0 {
		p.mu.Unlock()
		return
	}
	if buf == nil {
		buf = newAudioReplayBuffer(cfg.MaxChunks)
		p.replay[streamID] = buf
	}
	p.mu.Unlock()

	chunk := audioChunk{
		data:     append([]byte(nil), af.RawPayload()...),
		rate:     af.Rate(),
		channels: af.Channels(),
	}
	p.mu.Lock()
	buf.Add(chunk)
	p.mu.Unlock()
}

func (p *ASRProcessor) replayToSession(streamID string, sess asr.StreamingASR) {
	if sess == nil || streamID == "" {
		return
	}
	p.mu.Lock()
	buf := p.replay[streamID]
	p.mu.Unlock()
	if buf == nil {
		return
	}
	chunks := buf.Snapshot()
	for _, chunk := range chunks {
		if len(chunk.data) == 0 {
			continue
		}
		af := frames.NewAudioFrame(streamID, time.Now().UnixNano(), chunk.data, chunk.rate, chunk.channels, nil)
		_ = sess.SendAudio(af)
	}
}

func (p *ASRProcessor) recordRateLimit(err error, streamID, traceID string) {
	if err == nil {
		return
	}
	if resilience.IsRateLimit(err) {
		p.record(metrics.EventRateLimit, streamID, traceID)
	}
}

func (p *ASRProcessor) setProviderFromSession(sess asr.StreamingASR) {
	if sess == nil || p.provider != "" {
		return
	}
	p.provider = sess.Name()
}

func (p *ASRProcessor) setBreakerOpen(open bool, streamID, traceID string) {
	if p.breakerOpen == open {
		return
	}
	p.breakerOpen = open
	if open {
		p.record(metrics.EventBreakerOpen, streamID, traceID)
		return
	}
	p.record(metrics.EventBreakerClose, streamID, traceID)
}

func (p *ASRProcessor) setTrace(streamID, traceID string) {
	p.mu.Lock()
	p.trace[streamID] = traceID
	p.mu.Unlock()
}

func (p *ASRProcessor) getTrace(streamID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trace[streamID]
}

func (p *ASRProcessor) logInterim(streamID, text string) {
	p.mu.Lock()
	if p.interimLogged[streamID] {
		p.mu.Unlock()
		return
	}
	p.interimLogged[streamID] = true
	traceID := p.trace[streamID]
	p.mu.Unlock()
	safe := redact.Text(text)
	slog.Info("asr_interim", "stream_id", streamID, "trace_id", traceID, "text", clipText(safe))
}

func (p *ASRProcessor) logFinal(streamID, text string) {
	traceID := p.getTrace(streamID)
	safe := redact.Text(text)
	slog.Info("asr_final", "stream_id", streamID, "trace_id", traceID, "text", clipText(safe))
	p.recordWithFields("asr_final_text", streamID, traceID, map[string]any{"text": safe})
}

func clipText(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= 120 {
		return text
	}
	return text[:120] + "..."
}
