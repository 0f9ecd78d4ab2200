package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/horchlabs/horch/pkg/audio"
)

func TestFileSourceReplaysChunks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.wav")

	samples := make([]int16, 4096)
	for i := range samples {
		samples[i] = int16(i % 300)
	}
	if err := audio.WriteWAVFile(path, audio.PCMFromSamples(samples), 16000, 1); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	src := NewFileSource(path, Config{SampleRate: 16000, Channels: 1, ChunkSamples: 1024}, false)
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	total := 0
	timeout := time.After(2 * time.Second)
	for {
		select {
		case chunk, ok := <-src.Chunks():
			if !ok {
				if total != len(samples)*2 {
					t.Fatalf("expected %d bytes, got %d", len(samples)*2, total)
				}
				return
			}
			total += len(chunk)
		case <-timeout:
			t.Fatalf("timed out waiting for chunks")
		}
	}
}

func TestFileSourceCloseDuringReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.wav")

	// enough chunks to keep the replay goroutine blocked on the channel
	samples := make([]int16, 1024*200)
	if err := audio.WriteWAVFile(path, audio.PCMFromSamples(samples), 16000, 1); err != nil {
		t.Fatalf("write wav: %v", err)
	}

	src := NewFileSource(path, Config{SampleRate: 16000, Channels: 1, ChunkSamples: 1024}, false)
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-src.Chunks():
	case <-time.After(time.Second):
		t.Fatalf("expected a first chunk")
	}
	if err := src.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// the replay goroutine must close the channel without panicking
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-src.Chunks():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatalf("channel not closed after Close")
		}
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "missing.wav"), Config{}, false)
	if err := src.Start(context.Background()); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := os.Stat("missing.wav"); err == nil {
		t.Fatalf("should not create the file")
	}
}
