package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiselabs/poise/internal/domain"
)

func TestMockManager_ProducesFramesAndAudio(t *testing.T) {
	m := NewMockManager()
	h, err := m.Acquire(context.Background(), Constraints{
		FrameRate:  30,
		Width:      640,
		Height:     480,
		AudioChunk: 20 * time.Millisecond,
		WantCamera: true,
		WantMic:    true,
	})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer m.Release(h)

	select {
	case frame := <-h.Frames():
		if frame.Width != 640 || frame.Height != 480 || len(frame.Data) == 0 {
			t.Errorf("Unexpected frame: %dx%d, %d bytes", frame.Width, frame.Height, len(frame.Data))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No frame produced")
	}

	select {
	case chunk := <-h.AudioChunks():
		if len(chunk.PCM) == 0 || chunk.Duration != 20*time.Millisecond {
			t.Errorf("Unexpected audio chunk: %d bytes, %v", len(chunk.PCM), chunk.Duration)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No audio produced")
	}
}

func TestMockManager_AudioOnly(t *testing.T) {
	m := NewMockManager()
	h, err := m.Acquire(context.Background(), Constraints{
		AudioChunk: 20 * time.Millisecond,
		WantMic:    true,
	})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer m.Release(h)

	select {
	case <-h.AudioChunks():
	case <-time.After(2 * time.Second):
		t.Fatal("No audio produced")
	}

	// No camera requested: the frame channel must stay silent.
	select {
	case frame, ok := <-h.Frames():
		if ok {
			t.Errorf("Frame produced without camera: %+v", frame)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMockManager_ReleaseClosesStreams(t *testing.T) {
	m := NewMockManager()
	h, err := m.Acquire(context.Background(), Constraints{
		FrameRate:  30,
		AudioChunk: 20 * time.Millisecond,
		WantCamera: true,
		WantMic:    true,
	})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if err := m.Release(h); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-h.Frames():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("Frame channel never closed after release")
		}
	}
}

func TestMockManager_ReleaseIdempotent(t *testing.T) {
	m := NewMockManager()
	h, err := m.Acquire(context.Background(), Constraints{WantMic: true})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if err := m.Release(h); err != nil {
		t.Fatalf("First release failed: %v", err)
	}
	if err := m.Release(h); err != nil {
		t.Fatalf("Second release failed: %v", err)
	}
	if err := m.Release(nil); err != nil {
		t.Fatalf("Nil release failed: %v", err)
	}
}

func TestMockManager_FrameDataImmutable(t *testing.T) {
	m := NewMockManager()
	h, err := m.Acquire(context.Background(), Constraints{
		FrameRate:  100,
		WantCamera: true,
	})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer m.Release(h)

	var first Frame
	select {
	case first = <-h.Frames():
	case <-time.After(2 * time.Second):
		t.Fatal("No frame produced")
	}
	snapshot := append([]byte(nil), first.Data...)

	// A held frame must not change while the producer keeps ticking.
	for i := 0; i < 3; i++ {
		select {
		case <-h.Frames():
		case <-time.After(2 * time.Second):
			t.Fatal("Producer stopped ticking")
		}
	}

	for i, b := range first.Data {
		if b != snapshot[i] {
			t.Fatalf("Frame data mutated at byte %d after later ticks", i)
		}
	}
}

func TestMockManager_AcquireCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewMockManager().Acquire(ctx, Constraints{WantMic: true}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestDeviceManager_AcquireCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewDeviceManager().Acquire(ctx, Constraints{WantMic: true}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestMockManager_FailureModes(t *testing.T) {
	m := NewMockManager()
	m.FailWith = domain.ErrPermissionDenied

	if _, err := m.Acquire(context.Background(), Constraints{WantMic: true}); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied, got %v", err)
	}
	// Without FailOnce the failure is persistent.
	if _, err := m.Acquire(context.Background(), Constraints{WantMic: true}); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("Expected persistent failure, got %v", err)
	}

	once := NewMockManager()
	once.FailWith = domain.ErrDeviceUnavailable
	once.FailOnce = true

	if _, err := once.Acquire(context.Background(), Constraints{WantMic: true}); !errors.Is(err, domain.ErrDeviceUnavailable) {
		t.Fatalf("Expected ErrDeviceUnavailable, got %v", err)
	}
	h, err := once.Acquire(context.Background(), Constraints{WantMic: true})
	if err != nil {
		t.Fatalf("Second acquire should succeed with FailOnce: %v", err)
	}
	once.Release(h)
}
