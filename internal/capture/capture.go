// Package capture provides scoped acquisition of microphone and camera
// signal for the lifetime of a session.
package capture

import (
	"context"
	"sync"
	"time"
)

// Frame is one video frame from the camera source.
type Frame struct {
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
}

// AudioChunk is one chunk of encoded audio from the microphone source.
type AudioChunk struct {
	Timestamp time.Time
	Duration  time.Duration
	PCM       []byte
}

// Constraints describe the signal a session wants to acquire.
type Constraints struct {
	FrameRate  int
	Width      int
	Height     int
	AudioChunk time.Duration
	WantCamera bool
	WantMic    bool
}

// Handle is a live acquisition. Frames and AudioChunks are closed when the
// handle is released; consumers must treat channel close as end of signal.
type Handle struct {
	frames chan Frame
	audio  chan AudioChunk

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	released sync.Once
}

// Frames returns the video frame stream.
func (h *Handle) Frames() <-chan Frame { return h.frames }

// AudioChunks returns the audio chunk stream.
func (h *Handle) AudioChunks() <-chan AudioChunk { return h.audio }

// release stops the producers and closes both channels. Safe to call more
// than once.
func (h *Handle) release() {
	h.released.Do(func() {
		h.cancel()
		h.wg.Wait()
		close(h.frames)
		close(h.audio)
	})
}

// Manager acquires and releases capture resources. Release must run on every
// session exit path: normal end, error, and forced cancellation.
type Manager interface {
	Acquire(ctx context.Context, c Constraints) (*Handle, error)
	Release(h *Handle) error
}
