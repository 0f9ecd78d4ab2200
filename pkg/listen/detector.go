package listen

import (
	"strings"

	"github.com/horchlabs/horch/pkg/audio"
)

// ProbeFunc transcribes a short pre-trigger window so the detector can look
// for the trigger word. It receives raw s16le PCM.
type ProbeFunc func(pcm []byte) (string, error)

type Config struct {
	TriggerWord    string
	SampleRate     int
	ChunkSamples   int
	BufferChunks   int
	ProbeMinChunks int
	SilenceSeconds float64
	Threshold      float64
}

func (c *Config) applyDefaults() {
	if c.TriggerWord == "" {
		c.TriggerWord = "wetter"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.ChunkSamples <= 0 {
		c.ChunkSamples = 1024
	}
	if c.BufferChunks <= 0 {
		c.BufferChunks = 30
	}
	if c.ProbeMinChunks <= 0 {
		c.ProbeMinChunks = 15
	}
	if c.SilenceSeconds <= 0 {
		c.SilenceSeconds = 1.5
	}
	if c.Threshold <= 0 {
		c.Threshold = audio.DefaultEnergyThreshold
	}
}

// Result reports what happened while consuming one chunk.
type Result struct {
	// Triggered is set on the chunk where the trigger word was recognized.
	Triggered bool
	// PreBuffer holds the rolling pre-trigger PCM, set together with
	// Triggered so the trigger word itself reaches the recognizer.
	PreBuffer []byte
	// Recording holds the full utterance PCM once silence ends it.
	Recording []byte
}

// Detector watches a chunked PCM stream for the trigger word and records
// the utterance that follows it. A rolling pre-trigger buffer keeps about a
// second of audio so the trigger word itself lands in the recording.
type Detector struct {
	cfg           Config
	probe         ProbeFunc
	trigger       string
	silenceChunks int

	buffer    [][]byte
	frames    [][]byte
	triggered bool
	silence   int
}

func NewDetector(cfg Config, probe ProbeFunc) *Detector {
	cfg.applyDefaults()
	fps := cfg.SampleRate / cfg.ChunkSamples
	return &Detector{
		cfg:           cfg,
		probe:         probe,
		trigger:       strings.ToLower(cfg.TriggerWord),
		silenceChunks: int(cfg.SilenceSeconds * float64(fps)),
	}
}

func (d *Detector) Triggered() bool { return d.triggered }

// Feed consumes one chunk of s16le PCM. The probe error is reported but
// never corrupts detector state, the stream just keeps listening.
func (d *Detector) Feed(chunk []byte) (Result, error) {
	d.buffer = append(d.buffer, append([]byte(nil), chunk...))
	if len(d.buffer) > d.cfg.BufferChunks {
		d.buffer = d.buffer[1:]
	}

	isSpeech := audio.HasSpeech(chunk, d.cfg.Threshold)

	if !d.triggered {
		if !isSpeech || len(d.buffer) < d.cfg.ProbeMinChunks || d.probe == nil {
			return Result{}, nil
		}
		text, err := d.probe(concat(d.buffer))
		if err != nil {
			return Result{}, err
		}
		if !strings.Contains(strings.ToLower(text), d.trigger) {
			return Result{}, nil
		}
		d.triggered = true
		d.silence = 0
		d.frames = make([][]byte, len(d.buffer))
		copy(d.frames, d.buffer)
		return Result{Triggered: true, PreBuffer: concat(d.buffer)}, nil
	}

	d.frames = append(d.frames, append([]byte(nil), chunk...))
	if isSpeech {
		d.silence = 0
		return Result{}, nil
	}
	d.silence++
	if d.silence < d.silenceChunks {
		return Result{}, nil
	}

	rec := concat(d.frames)
	d.Reset()
	return Result{Recording: rec}, nil
}

// Reset returns the detector to idle listening.
func (d *Detector) Reset() {
	d.triggered = false
	d.silence = 0
	d.frames = nil
	d.buffer = nil
}

func concat(chunks [][]byte) []byte {
	size := 0
	for _, c := range chunks {
		size += len(c)
	}
	out := make([]byte, 0, size)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
