package processors

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/horchlabs/horch/pkg/audio"
	"github.com/horchlabs/horch/pkg/errorsx"
	"github.com/horchlabs/horch/pkg/frames"
	"github.com/horchlabs/horch/pkg/metrics"
	"github.com/horchlabs/horch/pkg/pipeline"
)

const archiveTimestampLayout = "20060102_150405"

type ArchiveConfig struct {
	RecordingsDir string
	TranscriptDir string
	SampleRate    int
	Channels      int
}

// ArchiveProcessor accumulates triggered utterance audio and persists each
// finished utterance as recordings/audio_<ts>.wav plus its transcript as
// transcribe_text/transcription_<ts>.text.
type ArchiveProcessor struct {
	mu   sync.Mutex
	cfg  ArchiveConfig
	bufs map[string][]byte
	obs  metrics.Observer
	now  func() time.Time
}

func NewArchiveProcessor(cfg ArchiveConfig) (*ArchiveProcessor, error) {
	if cfg.RecordingsDir == "" {
		cfg.RecordingsDir = "recordings"
	}
	if cfg.TranscriptDir == "" {
		cfg.TranscriptDir = "transcribe_text"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if err := os.MkdirAll(cfg.RecordingsDir, 0o755); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonArchiveWrite)
	}
	if err := os.MkdirAll(cfg.TranscriptDir, 0o755); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonArchiveWrite)
	}
	return &ArchiveProcessor{
		cfg:  cfg,
		bufs: make(map[string][]byte),
		now:  time.Now,
	}, nil
}

func (p *ArchiveProcessor) Name() string { return "archive_processor" }

func (p *ArchiveProcessor) SetObserver(obs metrics.Observer) { p.obs = obs }

func (p *ArchiveProcessor) Process(f frames.Frame) ([]frames.Frame, error) {
	switch f.Kind() {
	case frames.KindAudio:
		af := f.(frames.AudioFrame)
		meta := af.Meta()
		uttID := meta[frames.MetaUtteranceID]
		if uttID == "" {
			return []frames.Frame{f}, nil
		}
		p.mu.Lock()
		p.bufs[uttID] = append(p.bufs[uttID], af.RawPayload()...)
		p.mu.Unlock()
		frames.ReleaseAudioFrame(f)
		return nil, nil
	case frames.KindSystem:
		sf := f.(frames.SystemFrame)
		if sf.Name() != frames.SysRecordingStopped {
			return []frames.Frame{f}, nil
		}
		meta := sf.Meta()
		uttID := meta[frames.MetaUtteranceID]
		p.mu.Lock()
		pcm := p.bufs[uttID]
		delete(p.bufs, uttID)
		p.mu.Unlock()
		out := []frames.Frame{f}
		if len(pcm) == 0 {
			return out, nil
		}
		path, err := p.writeWAV(pcm)
		streamID := meta[frames.MetaStreamID]
		if err != nil {
			slog.Info("archive_wav_error",
				"stream_id", streamID,
				"utterance_id", uttID,
				"reason_code", string(errorsx.Reason(err)),
				"error", err.Error())
			return out, nil
		}
		slog.Info("archive_wav", "stream_id", streamID, "utterance_id", uttID, "path", path, "bytes", len(pcm))
		p.record(metrics.EventArchiveWAV, streamID, meta[frames.MetaTraceID], float64(len(pcm)))
		// downstream clients expect a processing status between the
		// stop notice and the transcription
		procMeta := sf.Meta()
		out = append(out, frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SysProcessing, procMeta))
		return out, nil
	case frames.KindText:
		tf := f.(frames.TextFrame)
		meta := tf.Meta()
		if meta[frames.MetaIsFinal] != "true" || tf.Text() == "" {
			return []frames.Frame{f}, nil
		}
		path, err := p.writeTranscript(tf.Text())
		streamID := meta[frames.MetaStreamID]
		if err != nil {
			slog.Info("archive_text_error",
				"stream_id", streamID,
				"reason_code", string(errorsx.Reason(err)),
				"error", err.Error())
			return []frames.Frame{f}, nil
		}
		slog.Info("archive_text", "stream_id", streamID, "path", path)
		p.record(metrics.EventArchiveText, streamID, meta[frames.MetaTraceID], float64(len(tf.Text())))
		return []frames.Frame{f}, nil
	}
	return []frames.Frame{f}, nil
}

func (p *ArchiveProcessor) writeWAV(pcm []byte) (string, error) {
	ts := p.now().Format(archiveTimestampLayout)
	path := filepath.Join(p.cfg.RecordingsDir, "audio_"+ts+".wav")
	if err := audio.WriteWAVFile(path, pcm, p.cfg.SampleRate, p.cfg.Channels); err != nil {
		return "", err
	}
	return path, nil
}

func (p *ArchiveProcessor) writeTranscript(text string) (string, error) {
	ts := p.now().Format(archiveTimestampLayout)
	path := filepath.Join(p.cfg.TranscriptDir, "transcription_"+ts+".text")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonArchiveWrite)
	}
	return path, nil
}

func (p *ArchiveProcessor) record(name, streamID, traceID string, value float64) {
	if p.obs == nil {
		return
	}
	tags := map[string]string{frames.MetaStreamID: streamID, "component": "archive"}
	if traceID != "" {
		tags[frames.MetaTraceID] = traceID
	}
	p.obs.RecordEvent(metrics.MetricsEvent{Name: name, Time: time.Now(), Value: value, Tags: tags})
}

var _ pipeline.FrameProcessor = (*ArchiveProcessor)(nil)
