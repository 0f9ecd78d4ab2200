package weather

import "testing"

func TestExtractKnownCity(t *testing.T) {
	e := NewExtractor()
	q := e.Extract("Wie ist das Wetter in Berlin")
	if !q.IsWeatherQuery {
		t.Fatalf("expected weather query")
	}
	if q.Location != "berlin" {
		t.Fatalf("expected berlin, got %q", q.Location)
	}
	if q.TimePeriod != PeriodToday {
		t.Fatalf("expected today, got %q", q.TimePeriod)
	}
}

func TestExtractCityImpliesWeather(t *testing.T) {
	e := NewExtractor()
	q := e.Extract("hamburg")
	if !q.IsWeatherQuery {
		t.Fatalf("a known city alone should count as a weather query")
	}
	if q.Location != "hamburg" {
		t.Fatalf("expected hamburg, got %q", q.Location)
	}
}

func TestExtractPatternFallback(t *testing.T) {
	e := NewExtractor()
	q := e.Extract("wetter tübingen bitte")
	if q.Location != "tübingen" {
		t.Fatalf("expected pattern city, got %q", q.Location)
	}
}

func TestExtractPatternSkipsTimeWords(t *testing.T) {
	e := NewExtractor()
	q := e.Extract("wetter morgen")
	if q.Location != "" {
		t.Fatalf("time word must not become a location, got %q", q.Location)
	}
	if q.TimePeriod != PeriodTomorrow {
		t.Fatalf("expected tomorrow, got %q", q.TimePeriod)
	}
}

func TestExtractWeekWins(t *testing.T) {
	e := NewExtractor()
	q := e.Extract("wetter morgen und die ganze woche")
	if q.TimePeriod != PeriodWeek {
		t.Fatalf("week words take precedence, got %q", q.TimePeriod)
	}
}

func TestExtractEmptyText(t *testing.T) {
	e := NewExtractor()
	q := e.Extract("")
	if q.IsWeatherQuery || q.Location != "" {
		t.Fatalf("empty text must not match")
	}
	if q.TimePeriod != PeriodToday {
		t.Fatalf("default period is today")
	}
}

func TestExtractNonWeatherText(t *testing.T) {
	e := NewExtractor()
	q := e.Extract("ich gehe jetzt einkaufen")
	if q.IsWeatherQuery {
		t.Fatalf("unrelated text must not match")
	}
}
