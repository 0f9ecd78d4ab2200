package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/horchlabs/horch/pkg/metrics"
)

type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*trace
	log    *slog.Logger
}

type trace struct {
	audioIn   time.Time
	trigger   time.Time
	asrFinal  time.Time
	broadcast time.Time
	traceID   string
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*trace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	streamID := ""
	if ev.Tags != nil {
		streamID = ev.Tags["stream_id"]
	}
	if streamID == "" {
		return
	}
	o.mu.Lock()
	t := o.traces[streamID]
	if t == nil {
		t = &trace{}
		o.traces[streamID] = t
	}
	switch ev.Name {
	case metrics.EventASRAudioIn:
		if t.audioIn.IsZero() {
			t.audioIn = ev.Time
		}
		if t.traceID == "" && ev.Tags != nil {
			t.traceID = ev.Tags["trace_id"]
		}
	case metrics.EventTrigger:
		if t.trigger.IsZero() {
			t.trigger = ev.Time
		}
	case metrics.EventASRFinal:
		if t.asrFinal.IsZero() {
			t.asrFinal = ev.Time
		}
	case metrics.EventBroadcast:
		t.broadcast = ev.Time
	}
	if !t.broadcast.IsZero() {
		o.logTurnaroundLocked(streamID, t)
		delete(o.traces, streamID)
	}
	o.mu.Unlock()
}

func (o *LatencyObserver) logTurnaroundLocked(streamID string, t *trace) {
	triggerLatency := durationMs(t.audioIn, t.trigger)
	asrLatency := durationMs(t.trigger, t.asrFinal)
	broadcastLatency := durationMs(t.asrFinal, t.broadcast)
	turnaround := durationMs(t.audioIn, t.broadcast)
	o.log.Info("latency",
		"stream_id", streamID,
		"trace_id", t.traceID,
		"trigger_ms", triggerLatency,
		"asr_ms", asrLatency,
		"broadcast_ms", broadcastLatency,
		"turnaround_ms", turnaround,
	)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}
