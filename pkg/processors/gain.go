package processors

import (
	"github.com/horchlabs/horch/pkg/audio"
	"github.com/horchlabs/horch/pkg/frames"
	"github.com/horchlabs/horch/pkg/pipeline"
)

// GainProcessor scales audio amplitude before detection and recognition.
type GainProcessor struct {
	factor float64
}

func NewGainProcessor(factor float64) *GainProcessor {
	if factor <= 0 {
		factor = 1
	}
	return &GainProcessor{factor: factor}
}

func (p *GainProcessor) Name() string { return "gain_processor" }

func (p *GainProcessor) Process(f frames.Frame) ([]frames.Frame, error) {
	if f.Kind() != frames.KindAudio || p.factor == 1 {
		return []frames.Frame{f}, nil
	}
	af := f.(frames.AudioFrame)
	boosted := audio.Amplify(af.RawPayload(), p.factor)
	out := frames.NewAudioFrame("", af.PTS(), boosted, af.Rate(), af.Channels(), af.Meta())
	frames.ReleaseAudioFrame(f)
	return []frames.Frame{out}, nil
}

var _ pipeline.FrameProcessor = (*GainProcessor)(nil)
