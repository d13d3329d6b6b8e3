package capture

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// MockManager produces synthetic frames and audio at the requested rates.
// Used in tests and on platforms without a capture backend.
type MockManager struct {
	// FailWith, when set, makes Acquire fail with this error. FailOnce makes
	// only the first Acquire fail, which exercises the single-retry rule.
	FailWith error
	FailOnce bool

	failed bool
}

// NewMockManager creates a mock capture manager.
func NewMockManager() *MockManager {
	return &MockManager{}
}

// Acquire implements Manager.
func (m *MockManager) Acquire(ctx context.Context, c Constraints) (*Handle, error) {
	if m.FailWith != nil && (!m.FailOnce || !m.failed) {
		m.failed = true
		return nil, m.FailWith
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.FrameRate <= 0 {
		c.FrameRate = 15
	}
	if c.AudioChunk <= 0 {
		c.AudioChunk = 250 * time.Millisecond
	}

	prodCtx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		frames: make(chan Frame, 8),
		audio:  make(chan AudioChunk, 8),
		cancel: cancel,
	}

	if c.WantCamera {
		h.wg.Add(1)
		go m.produceFrames(prodCtx, h, c)
	}
	if c.WantMic {
		h.wg.Add(1)
		go m.produceAudio(prodCtx, h, c)
	}

	slog.Debug("Mock capture acquired", "frame_rate", c.FrameRate, "audio_chunk", c.AudioChunk)
	return h, nil
}

// Release implements Manager.
func (m *MockManager) Release(h *Handle) error {
	if h == nil {
		return nil
	}
	h.release()
	slog.Debug("Mock capture released")
	return nil
}

func (m *MockManager) produceFrames(ctx context.Context, h *Handle, c Constraints) {
	defer h.wg.Done()
	ticker := time.NewTicker(time.Second / time.Duration(c.FrameRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			// Fresh buffer per frame; a consumer may hold its data past the
			// next tick.
			data := make([]byte, 64)
			rand.Read(data)
			frame := Frame{Timestamp: now, Width: c.Width, Height: c.Height, Data: data}
			select {
			case h.frames <- frame:
			default:
				// Consumer is behind; drop rather than block the producer.
			}
		}
	}
}

func (m *MockManager) produceAudio(ctx context.Context, h *Handle, c Constraints) {
	defer h.wg.Done()
	ticker := time.NewTicker(c.AudioChunk)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			pcm := make([]byte, 320)
			rand.Read(pcm)
			chunk := AudioChunk{Timestamp: now, Duration: c.AudioChunk, PCM: pcm}
			select {
			case h.audio <- chunk:
			default:
			}
		}
	}
}
