package capture

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/horchlabs/horch/pkg/audio"
	"github.com/horchlabs/horch/pkg/errorsx"
)

// FileSource replays a WAV file as a chunked stream. With Realtime set it
// paces chunks at the file's sample rate, otherwise it emits as fast as the
// consumer reads.
type FileSource struct {
	cfg      Config
	path     string
	realtime bool
	out      chan []byte
	cancel   context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func NewFileSource(path string, cfg Config, realtime bool) *FileSource {
	cfg.applyDefaults()
	return &FileSource{
		cfg:      cfg,
		path:     path,
		realtime: realtime,
		out:      make(chan []byte, 64),
	}
}

func (f *FileSource) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonCaptureDevice)
	}
	pcm, rate, ch, err := audio.DecodeWAV(data)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	chunkBytes := f.cfg.ChunkSamples * ch * 2
	interval := time.Duration(0)
	if f.realtime && rate > 0 {
		interval = time.Duration(f.cfg.ChunkSamples) * time.Second / time.Duration(rate)
	}

	// The goroutine is the only closer of f.out, so Close can never race a
	// send on a closed channel.
	go func() {
		defer close(f.out)
		for off := 0; off < len(pcm); off += chunkBytes {
			end := off + chunkBytes
			if end > len(pcm) {
				end = len(pcm)
			}
			chunk := make([]byte, end-off)
			copy(chunk, pcm[off:end])
			select {
			case <-runCtx.Done():
				return
			case f.out <- chunk:
			}
			if interval > 0 {
				select {
				case <-runCtx.Done():
					return
				case <-time.After(interval):
				}
			}
		}
	}()
	return nil
}

func (f *FileSource) Chunks() <-chan []byte { return f.out }

func (f *FileSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.cancel != nil {
		f.cancel()
	} else {
		// never started, no goroutine owns the channel
		close(f.out)
	}
	return nil
}

var _ Source = (*FileSource)(nil)
