package observers

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/horchlabs/horch/pkg/metrics"
)

type UsageSummary struct {
	TraceID       string  `json:"trace_id,omitempty"`
	StreamID      string  `json:"stream_id,omitempty"`
	AudioSec      float64 `json:"audio_seconds"`
	Utterances    int     `json:"utterances"`
	ArchiveBytes  int64   `json:"archive_bytes"`
	RecordedAtUTC string  `json:"recorded_at_utc"`
}

// UsageObserver accumulates per-stream audio and archive usage and writes
// a summary file per stream on Close.
type UsageObserver struct {
	dir   string
	mu    sync.Mutex
	stats map[string]*UsageSummary
}

func NewUsageObserver(dir string) *UsageObserver {
	return &UsageObserver{dir: dir, stats: make(map[string]*UsageSummary)}
}

func (o *UsageObserver) RecordEvent(ev metrics.MetricsEvent) {
	if strings.TrimSpace(o.dir) == "" {
		return
	}
	id := ""
	streamID := ""
	traceID := ""
	if ev.Tags != nil {
		streamID = ev.Tags["stream_id"]
		traceID = ev.Tags["trace_id"]
		if traceID != "" {
			id = traceID
		} else {
			id = streamID
		}
	}
	if id == "" {
		return
	}

	switch ev.Name {
	case metrics.EventASRAudioIn:
		sec := audioSecondsFromFields(ev.Fields)
		if sec <= 0 {
			return
		}
		o.mu.Lock()
		stat := o.statLocked(id, traceID, streamID)
		stat.AudioSec += sec
		o.mu.Unlock()
	case metrics.EventASRFinal:
		o.mu.Lock()
		stat := o.statLocked(id, traceID, streamID)
		stat.Utterances++
		o.mu.Unlock()
	case metrics.EventArchiveWAV, metrics.EventArchiveText:
		if ev.Value <= 0 {
			return
		}
		o.mu.Lock()
		stat := o.statLocked(id, traceID, streamID)
		stat.ArchiveBytes += int64(ev.Value)
		o.mu.Unlock()
	}
}

func (o *UsageObserver) statLocked(id, traceID, streamID string) *UsageSummary {
	stat := o.stats[id]
	if stat == nil {
		stat = &UsageSummary{TraceID: traceID, StreamID: streamID}
		o.stats[id] = stat
	}
	return stat
}

func (o *UsageObserver) Close() error {
	if strings.TrimSpace(o.dir) == "" {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return err
	}
	var errOut error
	for id, stat := range o.stats {
		stat.RecordedAtUTC = time.Now().UTC().Format(time.RFC3339)
		b, err := json.MarshalIndent(stat, "", "  ")
		if err != nil {
			errOut = errors.Join(errOut, err)
			continue
		}
		path := filepath.Join(o.dir, sanitizeID(id)+".usage.json")
		if err := os.WriteFile(path, b, 0o644); err != nil {
			errOut = errors.Join(errOut, err)
		}
	}
	return errOut
}

func audioSecondsFromFields(fields map[string]any) float64 {
	if fields == nil {
		return 0
	}
	bytes := 0
	switch v := fields["bytes"].(type) {
	case int:
		bytes = v
	case float64:
		bytes = int(v)
	}
	if bytes <= 0 {
		return 0
	}
	sampleRate := 0
	channels := 1
	if v, ok := fields["sample_rate"].(float64); ok {
		sampleRate = int(v)
	} else if v, ok := fields["sample_rate"].(int); ok {
		sampleRate = v
	}
	if v, ok := fields["channels"].(float64); ok {
		channels = int(v)
	} else if v, ok := fields["channels"].(int); ok {
		channels = v
	}
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	// 16-bit samples
	return float64(bytes) / float64(2*sampleRate*channels)
}

var _ metrics.Observer = (*UsageObserver)(nil)
