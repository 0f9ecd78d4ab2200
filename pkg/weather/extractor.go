package weather

import (
	"regexp"
	"strings"
)

type TimePeriod string

const (
	PeriodToday    TimePeriod = "today"
	PeriodTomorrow TimePeriod = "tomorrow"
	PeriodWeek     TimePeriod = "week"
)

// Query is what the extractor found in a transcript.
type Query struct {
	IsWeatherQuery bool       `json:"is_weather_query"`
	Location       string     `json:"location,omitempty"`
	TimePeriod     TimePeriod `json:"time_period"`
	OriginalQuery  string     `json:"original_query,omitempty"`
}

var (
	weatherWords = []string{
		"wetter", "temperatur", "regen", "schnee", "sonne", "wind",
		"kalt", "warm", "gewitter", "niederschlag", "bewölkt", "wolken",
		"grad", "celsius", "vorhersage",
	}

	knownCities = []string{
		"berlin", "hamburg", "münchen", "köln", "frankfurt", "stuttgart",
		"düsseldorf", "dresden", "leipzig", "hannover", "nürnberg",
		"dortmund", "essen", "bremen", "bonn", "mannheim", "heilbronn",
	}

	todayWords    = []string{"heute", "jetzt", "aktuell"}
	tomorrowWords = []string{"morgen"}
	weekWords     = []string{"woche", "tage", "übermorgen"}

	// "wetter <stadt>" fallback for cities outside the known list
	cityAfterTrigger = regexp.MustCompile(`wetter\s+([a-zäöüß]+)`)
)

// Extractor pulls a weather query out of free-form German text.
type Extractor struct{}

func NewExtractor() *Extractor { return &Extractor{} }

func (e *Extractor) Extract(text string) Query {
	q := Query{TimePeriod: PeriodToday}
	if strings.TrimSpace(text) == "" {
		return q
	}
	q.OriginalQuery = text
	lower := strings.ToLower(text)

	for _, w := range weatherWords {
		if strings.Contains(lower, w) {
			q.IsWeatherQuery = true
			break
		}
	}

	for _, city := range knownCities {
		if strings.Contains(lower, city) {
			q.Location = city
			q.IsWeatherQuery = true
			break
		}
	}

	if q.Location == "" && q.IsWeatherQuery {
		if m := cityAfterTrigger.FindStringSubmatch(lower); m != nil {
			candidate := m[1]
			if !containsWord(weatherWords, candidate) &&
				!containsWord(todayWords, candidate) &&
				!containsWord(tomorrowWords, candidate) &&
				!containsWord(weekWords, candidate) {
				q.Location = candidate
			}
		}
	}

	for _, w := range tomorrowWords {
		if strings.Contains(lower, w) {
			q.TimePeriod = PeriodTomorrow
			break
		}
	}
	for _, w := range weekWords {
		if strings.Contains(lower, w) {
			q.TimePeriod = PeriodWeek
			break
		}
	}
	return q
}

func containsWord(list []string, w string) bool {
	for _, v := range list {
		if v == w {
			return true
		}
	}
	return false
}
