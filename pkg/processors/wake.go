package processors

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/horchlabs/horch/pkg/errorsx"
	"github.com/horchlabs/horch/pkg/frames"
	"github.com/horchlabs/horch/pkg/listen"
	"github.com/horchlabs/horch/pkg/metrics"
	"github.com/horchlabs/horch/pkg/pipeline"
)

// WakeProcessor gates the audio stream behind the trigger word. Idle audio is
// consumed; once the detector fires, the pre-trigger buffer and every
// following chunk flow downstream tagged with an utterance ID until trailing
// silence closes the utterance. Upload streams skip the gate entirely.
type WakeProcessor struct {
	mu        sync.Mutex
	cfg       listen.Config
	probe     listen.ProbeFunc
	detectors map[string]*listen.Detector
	utterance map[string]string
	obs       metrics.Observer
}

func NewWakeProcessor(cfg listen.Config, probe listen.ProbeFunc) *WakeProcessor {
	return &WakeProcessor{
		cfg:       cfg,
		probe:     probe,
		detectors: make(map[string]*listen.Detector),
		utterance: make(map[string]string),
	}
}

func (p *WakeProcessor) Name() string { return "wake_processor" }

func (p *WakeProcessor) SetObserver(obs metrics.Observer) { p.obs = obs }

func (p *WakeProcessor) Process(f frames.Frame) ([]frames.Frame, error) {
	if f.Kind() != frames.KindAudio {
		return []frames.Frame{f}, nil
	}
	af := f.(frames.AudioFrame)
	meta := af.Meta()
	if meta[frames.MetaSource] == "upload" {
		return []frames.Frame{f}, nil
	}
	streamID := meta[frames.MetaStreamID]
	traceID := meta[frames.MetaTraceID]

	det := p.detectorFor(streamID)
	res, err := det.Feed(af.RawPayload())
	if err != nil {
		slog.Info("wake_probe_error",
			"stream_id", streamID,
			"reason_code", string(errorsx.Reason(errorsx.Wrap(err, errorsx.ReasonASRModel))),
			"error", err.Error())
		frames.ReleaseAudioFrame(f)
		return nil, nil
	}

	var out []frames.Frame

	if res.Triggered {
		uttID := uuid.NewString()
		p.setUtterance(streamID, uttID)
		p.record(metrics.EventTrigger, streamID, traceID, uttID)
		p.record(metrics.EventRecStart, streamID, traceID, uttID)
		slog.Info("trigger_detected", "stream_id", streamID, "utterance_id", uttID)

		sysMeta := p.taggedMeta(meta, uttID)
		out = append(out,
			frames.NewSystemFrame(streamID, af.PTS(), frames.SysRecordingStarted, sysMeta),
			frames.NewAudioFrame(streamID, af.PTS(), res.PreBuffer, af.Rate(), af.Channels(), sysMeta),
		)
		frames.ReleaseAudioFrame(f)
		return out, nil
	}

	if !det.Triggered() && res.Recording == nil {
		// idle listening, nothing to forward
		frames.ReleaseAudioFrame(f)
		return nil, nil
	}

	uttID := p.getUtterance(streamID)
	tagged := p.taggedMeta(meta, uttID)
	out = append(out, frames.NewAudioFrame(streamID, af.PTS(), af.Data(), af.Rate(), af.Channels(), tagged))
	frames.ReleaseAudioFrame(f)

	if res.Recording != nil {
		p.record(metrics.EventRecStop, streamID, traceID, uttID)
		slog.Info("recording_stopped",
			"stream_id", streamID,
			"utterance_id", uttID,
			"bytes", len(res.Recording))

		stopMeta := p.taggedMeta(meta, uttID)
		stopMeta[frames.MetaEndReason] = "silence"
		flushMeta := p.taggedMeta(meta, uttID)
		flushMeta[frames.MetaReason] = "utterance_end"
		out = append(out,
			frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SysRecordingStopped, stopMeta),
			frames.NewControlFrame(streamID, time.Now().UnixNano(), frames.ControlFlush, flushMeta),
		)
		p.setUtterance(streamID, "")
	}
	return out, nil
}

func (p *WakeProcessor) detectorFor(streamID string) *listen.Detector {
	p.mu.Lock()
	defer p.mu.Unlock()
	det := p.detectors[streamID]
	if det == nil {
		det = listen.NewDetector(p.cfg, p.probe)
		p.detectors[streamID] = det
	}
	return det
}

func (p *WakeProcessor) CloseStream(streamID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.detectors, streamID)
	delete(p.utterance, streamID)
}

func (p *WakeProcessor) setUtterance(streamID, uttID string) {
	p.mu.Lock()
	if uttID == "" {
		delete(p.utterance, streamID)
	} else {
		p.utterance[streamID] = uttID
	}
	p.mu.Unlock()
}

func (p *WakeProcessor) getUtterance(streamID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.utterance[streamID]
}

func (p *WakeProcessor) taggedMeta(meta map[string]string, uttID string) map[string]string {
	out := make(map[string]string, len(meta)+2)
	for k, v := range meta {
		out[k] = v
	}
	out[frames.MetaSource] = "wake"
	if uttID != "" {
		out[frames.MetaUtteranceID] = uttID
	}
	return out
}

func (p *WakeProcessor) record(name, streamID, traceID, uttID string) {
	if p.obs == nil {
		return
	}
	tags := map[string]string{frames.MetaStreamID: streamID, "component": "wake"}
	if traceID != "" {
		tags[frames.MetaTraceID] = traceID
	}
	if uttID != "" {
		tags[frames.MetaUtteranceID] = uttID
	}
	p.obs.RecordEvent(metrics.MetricsEvent{Name: name, Time: time.Now(), Tags: tags})
}

var _ pipeline.FrameProcessor = (*WakeProcessor)(nil)
