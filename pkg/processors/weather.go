package processors

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/horchlabs/horch/pkg/frames"
	"github.com/horchlabs/horch/pkg/metrics"
	"github.com/horchlabs/horch/pkg/pipeline"
	"github.com/horchlabs/horch/pkg/weather"
)

// WeatherProcessor inspects final transcripts for weather intent. Matches
// produce city and message frames for the clients plus a backend lookup.
type WeatherProcessor struct {
	mu        sync.Mutex
	extractor *weather.Extractor
	client    *weather.Client
	ctx       context.Context
	obs       metrics.Observer
	city      map[string]string
	fetch     bool
}

func NewWeatherProcessor(extractor *weather.Extractor, client *weather.Client) *WeatherProcessor {
	return &WeatherProcessor{
		extractor: extractor,
		client:    client,
		city:      make(map[string]string),
		fetch:     client != nil,
	}
}

func (p *WeatherProcessor) Name() string { return "weather_processor" }

func (p *WeatherProcessor) SetObserver(obs metrics.Observer) { p.obs = obs }

func (p *WeatherProcessor) SetContext(ctx context.Context) {
	if ctx != nil {
		p.ctx = ctx
	}
}

// SetFetchEnabled toggles the backend lookup; extraction always runs.
func (p *WeatherProcessor) SetFetchEnabled(enabled bool) {
	p.mu.Lock()
	p.fetch = enabled && p.client != nil
	p.mu.Unlock()
}

func (p *WeatherProcessor) Process(f frames.Frame) ([]frames.Frame, error) {
	switch f.Kind() {
	case frames.KindControl:
		cf := f.(frames.ControlFrame)
		if cf.Code() == frames.ControlSetCity {
			meta := cf.Meta()
			streamID := meta[frames.MetaStreamID]
			if city := meta[frames.MetaCity]; city != "" {
				p.mu.Lock()
				p.city[streamID] = city
				p.mu.Unlock()
				slog.Info("city_set", "stream_id", streamID, "city", city)
			}
		}
		return []frames.Frame{f}, nil
	case frames.KindText:
	default:
		return []frames.Frame{f}, nil
	}

	tf := f.(frames.TextFrame)
	meta := tf.Meta()
	if meta[frames.MetaIsFinal] != "true" || tf.Text() == "" {
		return []frames.Frame{f}, nil
	}
	streamID := meta[frames.MetaStreamID]
	traceID := meta[frames.MetaTraceID]

	out := []frames.Frame{f}

	q := p.extractor.Extract(tf.Text())
	if !q.IsWeatherQuery {
		return out, nil
	}
	p.record(metrics.EventWeatherHit, streamID, traceID, map[string]string{
		frames.MetaTimePeriod: string(q.TimePeriod),
	})
	slog.Info("weather_query",
		"stream_id", streamID,
		"location", q.Location,
		"time_period", string(q.TimePeriod))

	location := q.Location
	if location == "" {
		p.mu.Lock()
		location = p.city[streamID]
		p.mu.Unlock()
	}
	if location == "" {
		return out, nil
	}

	cityMeta := map[string]string{
		frames.MetaStreamID:   streamID,
		frames.MetaCity:       location,
		frames.MetaTimePeriod: string(q.TimePeriod),
	}
	if traceID != "" {
		cityMeta[frames.MetaTraceID] = traceID
	}
	out = append(out,
		frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SysCity, cityMeta),
		frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SysMessage, map[string]string{
			frames.MetaStreamID: streamID,
			frames.MetaMessage:  fmt.Sprintf("Stadt auf %s gesetzt. Klicken Sie auf 'Aktualisieren', um die Wetterdaten zu laden.", location),
		}),
	)

	p.mu.Lock()
	fetch := p.fetch
	p.mu.Unlock()
	if !fetch {
		return out, nil
	}

	ctx := p.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	report, err := p.client.Fetch(fetchCtx, location)
	if err != nil {
		slog.Info("weather_fetch_error", "stream_id", streamID, "city", location, "error", err.Error())
		out = append(out, frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SysError, map[string]string{
			frames.MetaStreamID: streamID,
			frames.MetaMessage:  "Wetterdaten konnten nicht geladen werden",
		}))
		return out, nil
	}
	out = append(out, frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SysWeather, map[string]string{
		frames.MetaStreamID: streamID,
		frames.MetaCity:     report.Location,
		frames.MetaPayload:  string(report.Raw),
	}))
	return out, nil
}

func (p *WeatherProcessor) record(name, streamID, traceID string, extra map[string]string) {
	if p.obs == nil {
		return
	}
	tags := map[string]string{frames.MetaStreamID: streamID, "component": "weather"}
	if traceID != "" {
		tags[frames.MetaTraceID] = traceID
	}
	for k, v := range extra {
		tags[k] = v
	}
	p.obs.RecordEvent(metrics.MetricsEvent{Name: name, Time: time.Now(), Tags: tags})
}

var _ pipeline.FrameProcessor = (*WeatherProcessor)(nil)
