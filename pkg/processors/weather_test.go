package processors

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/horchlabs/horch/pkg/frames"
	"github.com/horchlabs/horch/pkg/weather"
)

func finalText(streamID, text string) frames.TextFrame {
	return frames.NewTextFrame(streamID, time.Now().UnixNano(), text,
		map[string]string{frames.MetaIsFinal: "true"})
}

func TestWeatherProcessorEmitsCityAndMessage(t *testing.T) {
	proc := NewWeatherProcessor(weather.NewExtractor(), nil)

	out, err := proc.Process(finalText("mic", "wie ist das wetter in berlin"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	var city, message string
	for _, f := range out {
		sf, ok := f.(frames.SystemFrame)
		if !ok {
			continue
		}
		switch sf.Name() {
		case frames.SysCity:
			city = sf.Meta()[frames.MetaCity]
		case frames.SysMessage:
			message = sf.Meta()[frames.MetaMessage]
		}
	}
	if city != "berlin" {
		t.Fatalf("expected city frame for berlin, got %q", city)
	}
	if message == "" {
		t.Fatalf("expected ui message frame")
	}
}

func TestWeatherProcessorPassesNonWeatherText(t *testing.T) {
	proc := NewWeatherProcessor(weather.NewExtractor(), nil)
	out, err := proc.Process(finalText("mic", "ich gehe einkaufen"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("non-weather transcript should only pass through, got %d frames", len(out))
	}
}

func TestWeatherProcessorFetchesBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"temp":18}`))
	}))
	defer srv.Close()

	client := weather.NewClient(weather.ClientConfig{APIURL: srv.URL + "/api/weather/", Timeout: time.Second})
	proc := NewWeatherProcessor(weather.NewExtractor(), client)

	out, err := proc.Process(finalText("mic", "wetter hamburg"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	var sawReport bool
	for _, f := range out {
		if sf, ok := f.(frames.SystemFrame); ok && sf.Name() == frames.SysWeather {
			sawReport = true
			if sf.Meta()[frames.MetaCity] != "hamburg" {
				t.Fatalf("report city mismatch: %q", sf.Meta()[frames.MetaCity])
			}
		}
	}
	if !sawReport {
		t.Fatalf("expected weather report frame")
	}
}

func TestWeatherProcessorBackendFailureEmitsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := weather.NewClient(weather.ClientConfig{
		APIURL:     srv.URL + "/api/weather/",
		Timeout:    time.Second,
		MaxRetries: 1,
		Backoff:    time.Millisecond,
	})
	proc := NewWeatherProcessor(weather.NewExtractor(), client)

	out, err := proc.Process(finalText("mic", "wetter hamburg"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	var sawError bool
	for _, f := range out {
		if sf, ok := f.(frames.SystemFrame); ok && sf.Name() == frames.SysError {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("expected error frame on backend failure")
	}
}

func TestWeatherProcessorSetCityFallback(t *testing.T) {
	proc := NewWeatherProcessor(weather.NewExtractor(), nil)

	set := frames.NewControlFrame("mic", time.Now().UnixNano(), frames.ControlSetCity,
		map[string]string{frames.MetaCity: "heilbronn"})
	if _, err := proc.Process(set); err != nil {
		t.Fatalf("process set_city: %v", err)
	}

	out, err := proc.Process(finalText("mic", "wie wird das wetter"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	var city string
	for _, f := range out {
		if sf, ok := f.(frames.SystemFrame); ok && sf.Name() == frames.SysCity {
			city = sf.Meta()[frames.MetaCity]
		}
	}
	if city != "heilbronn" {
		t.Fatalf("expected stored city fallback, got %q", city)
	}
}
