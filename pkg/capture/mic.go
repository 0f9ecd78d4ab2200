package capture

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/horchlabs/horch/pkg/errorsx"
	"github.com/horchlabs/horch/pkg/logging"
)

// MicSource captures from the default input device and re-slices the driver
// periods into fixed chunks.
type MicSource struct {
	cfg    Config
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	out    chan []byte
	logger *slog.Logger

	mu      sync.Mutex
	pending []byte
	closed  bool
}

func NewMicSource(cfg Config) *MicSource {
	cfg.applyDefaults()
	return &MicSource{
		cfg:    cfg,
		out:    make(chan []byte, 64),
		logger: logging.NewComponentLogger(slog.Default(), "mic_capture"),
	}
}

func (m *MicSource) Start(ctx context.Context) error {
	ctxCfg := malgo.ContextConfig{}
	ctxCfg.ThreadPriority = malgo.ThreadPriorityRealtime

	mctx, err := malgo.InitContext(nil, ctxCfg, nil)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonCaptureDevice)
	}
	m.ctx = mctx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(m.cfg.Channels)
	deviceConfig.SampleRate = uint32(m.cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	chunkBytes := m.cfg.ChunkSamples * m.cfg.Channels * 2
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			m.onData(pInputSamples, chunkBytes)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		return errorsx.Wrap(err, errorsx.ReasonCaptureDevice)
	}
	m.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		return errorsx.Wrap(err, errorsx.ReasonCaptureDevice)
	}

	m.logger.Info("capture_started",
		slog.Int("sample_rate", m.cfg.SampleRate),
		slog.Int("channels", m.cfg.Channels),
		slog.Int("chunk_samples", m.cfg.ChunkSamples))

	if ctx != nil {
		go func() {
			<-ctx.Done()
			_ = m.Close()
		}()
	}
	return nil
}

func (m *MicSource) onData(in []byte, chunkBytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.pending = append(m.pending, in...)
	for len(m.pending) >= chunkBytes {
		chunk := make([]byte, chunkBytes)
		copy(chunk, m.pending[:chunkBytes])
		m.pending = m.pending[chunkBytes:]
		select {
		case m.out <- chunk:
		default:
			// consumer is behind, drop the oldest pending chunk
			m.logger.Warn("chunk_dropped")
		}
	}
}

func (m *MicSource) Chunks() <-chan []byte { return m.out }

func (m *MicSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.device != nil {
		_ = m.device.Stop()
		m.device.Uninit()
		m.device = nil
	}
	if m.ctx != nil {
		_ = m.ctx.Uninit()
		m.ctx = nil
	}
	close(m.out)
	m.logger.Info("capture_stopped")
	return nil
}

var _ Source = (*MicSource)(nil)
