package pipeline

// TranscriberBuilder assembles the processor chain for a transcription stream.
type TranscriberBuilder struct {
	pre  []FrameProcessor
	core []FrameProcessor
	post []FrameProcessor
}

func NewTranscriberBuilder() *TranscriberBuilder {
	return &TranscriberBuilder{}
}

func (b *TranscriberBuilder) WithProcessor(p FrameProcessor) *TranscriberBuilder {
	b.core = append(b.core, p)
	return b
}

func (b *TranscriberBuilder) WithProcessorList(list []FrameProcessor) *TranscriberBuilder {
	for _, p := range list {
		if p != nil {
			b.core = append(b.core, p)
		}
	}
	return b
}

func (b *TranscriberBuilder) WithGain(p FrameProcessor) *TranscriberBuilder {
	b.pre = append(b.pre, p)
	return b
}

func (b *TranscriberBuilder) WithWake(p FrameProcessor) *TranscriberBuilder {
	return b.WithProcessor(p)
}

func (b *TranscriberBuilder) WithASR(p FrameProcessor) *TranscriberBuilder {
	return b.WithProcessor(p)
}

func (b *TranscriberBuilder) WithArchive(p FrameProcessor) *TranscriberBuilder {
	return b.WithProcessor(p)
}

func (b *TranscriberBuilder) WithWeather(p FrameProcessor) *TranscriberBuilder {
	return b.WithProcessor(p)
}

func (b *TranscriberBuilder) WithSerializer(p FrameProcessor) *TranscriberBuilder {
	b.post = append(b.post, p)
	return b
}

func (b *TranscriberBuilder) Build(cfg Config) Orchestrator {
	return NewWithPipelineConfig(PipelineConfig{
		Config:     cfg,
		Processors: append(append(b.pre, b.core...), b.post...),
	})
}
