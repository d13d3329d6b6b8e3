package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/poiselabs/poise/internal/domain"
)

// Default device nodes probed by the device manager.
const (
	defaultVideoDevice = "/dev/video0"
	defaultAudioDevice = "/dev/dsp"
)

// DeviceManager acquires real capture devices. Linux only; other platforms
// report PlatformUnsupported and should use the platform's native binding
// behind the Manager interface.
type DeviceManager struct {
	VideoDevice string
	AudioDevice string
}

// NewDeviceManager creates a device capture manager with default device
// nodes.
func NewDeviceManager() *DeviceManager {
	return &DeviceManager{
		VideoDevice: defaultVideoDevice,
		AudioDevice: defaultAudioDevice,
	}
}

// Acquire implements Manager. Open failures map onto the capture error
// taxonomy: permission errors to ErrPermissionDenied, missing devices to
// ErrDeviceUnavailable.
func (m *DeviceManager) Acquire(ctx context.Context, c Constraints) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if runtime.GOOS != "linux" {
		return nil, fmt.Errorf("capture on %s: %w", runtime.GOOS, domain.ErrPlatformUnsupported)
	}

	if c.FrameRate <= 0 {
		c.FrameRate = 15
	}
	if c.AudioChunk <= 0 {
		c.AudioChunk = 250 * time.Millisecond
	}

	var video, audio *os.File
	var err error

	if c.WantCamera {
		video, err = openDevice(m.VideoDevice)
		if err != nil {
			return nil, err
		}
	}
	if c.WantMic {
		audio, err = openDevice(m.AudioDevice)
		if err != nil {
			if video != nil {
				_ = video.Close()
			}
			return nil, err
		}
	}

	prodCtx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		frames: make(chan Frame, 8),
		audio:  make(chan AudioChunk, 8),
		cancel: cancel,
	}

	if video != nil {
		h.wg.Add(1)
		go readFrames(prodCtx, h, video, c)
	}
	if audio != nil {
		h.wg.Add(1)
		go readAudio(prodCtx, h, audio, c)
	}

	slog.Info("Capture devices acquired",
		"video", m.VideoDevice, "audio", m.AudioDevice,
		"frame_rate", c.FrameRate)
	return h, nil
}

// Release implements Manager.
func (m *DeviceManager) Release(h *Handle) error {
	if h == nil {
		return nil
	}
	h.release()
	slog.Info("Capture devices released")
	return nil
}

func openDevice(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err == nil {
		return f, nil
	}
	switch {
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("open %s: %w", path, domain.ErrPermissionDenied)
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("open %s: %w", path, domain.ErrDeviceUnavailable)
	default:
		return nil, fmt.Errorf("open %s: %w", path, domain.ErrDeviceUnavailable)
	}
}

func readFrames(ctx context.Context, h *Handle, dev *os.File, c Constraints) {
	defer h.wg.Done()
	defer dev.Close()

	ticker := time.NewTicker(time.Second / time.Duration(c.FrameRate))
	defer ticker.Stop()

	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := dev.Read(buf)
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					slog.Warn("Video device read error", "error", err)
				}
				return
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case h.frames <- Frame{Timestamp: now, Width: c.Width, Height: c.Height, Data: data}:
			default:
			}
		}
	}
}

func readAudio(ctx context.Context, h *Handle, dev *os.File, c Constraints) {
	defer h.wg.Done()
	defer dev.Close()

	ticker := time.NewTicker(c.AudioChunk)
	defer ticker.Stop()

	buf := make([]byte, 16*1024)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := dev.Read(buf)
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					slog.Warn("Audio device read error", "error", err)
				}
				return
			}
			pcm := make([]byte, n)
			copy(pcm, buf[:n])
			select {
			case h.audio <- AudioChunk{Timestamp: now, Duration: c.AudioChunk, PCM: pcm}:
			default:
			}
		}
	}
}
