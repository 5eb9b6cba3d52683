// Package accel models an optional accelerator for the threshold and resize
// steps. Availability is an explicit Capability returned by a Probe, never a
// global flag, and every opened Handle is scoped to a single job.
package accel

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"strings"
	"sync"

	"github.com/anthonynsimon/bild/segment"
	"github.com/anthonynsimon/bild/transform"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrReleased is returned when a handle is used after Release
	ErrReleased = errors.New("accelerator handle released")

	// ErrBusy is returned by Open when every context is taken
	ErrBusy = errors.New("accelerator busy")
)

// Mode selects how the probe decides availability
type Mode string

const (
	ModeAuto Mode = "auto"
	ModeOn   Mode = "on"
	ModeOff  Mode = "off"
)

// ParseMode validates a mode string
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAuto, ModeOn, ModeOff:
		return m, nil
	case "":
		return ModeAuto, nil
	default:
		return "", fmt.Errorf("unknown accelerator mode %q", s)
	}
}

// Handle is an open accelerator context holding a device-side copy of one
// source image.
type Handle interface {
	// Binarize thresholds the uploaded source into a two-level image.
	Binarize(level uint8) (image.Image, error)
	Resize(img image.Image, width, height int) (image.Image, error)
	// Release frees the context. It is safe to call more than once.
	Release()
}

// Device opens accelerator contexts
type Device interface {
	Name() string
	Open(ctx context.Context, src *image.Gray) (Handle, error)
}

// Capability is the result of probing for an accelerator: either Available
// with a Device, or Unavailable.
type Capability struct {
	device Device
}

// Unavailable selects the fallback path
var Unavailable = Capability{}

// Available wraps a device as a usable capability
func Available(d Device) Capability {
	return Capability{device: d}
}

// Device returns the device and whether one is available
func (c Capability) Device() (Device, bool) {
	return c.device, c.device != nil
}

// Probe reports accelerator availability. Workers query it once per job.
type Probe interface {
	Probe() Capability
}

// ProbeFunc adapts a function to Probe
type ProbeFunc func() Capability

// Probe calls f
func (f ProbeFunc) Probe() Capability { return f() }

// ParallelDevice runs the threshold and resize kernels through bild, which
// spreads the work across GOMAXPROCS. Concurrent contexts are bounded by a
// weighted semaphore. Open never waits for a context, so a job that finds
// the device full runs on the fallback path instead.
type ParallelDevice struct {
	slots *semaphore.Weighted
}

// NewParallelDevice creates a device allowing contexts concurrent handles.
// A non-positive value means GOMAXPROCS.
func NewParallelDevice(contexts int) *ParallelDevice {
	if contexts <= 0 {
		contexts = runtime.GOMAXPROCS(0)
	}
	return &ParallelDevice{slots: semaphore.NewWeighted(int64(contexts))}
}

// Name identifies the device in logs
func (d *ParallelDevice) Name() string { return "bild-parallel" }

// Open takes a free context and uploads a private copy of src
func (d *ParallelDevice) Open(ctx context.Context, src *image.Gray) (Handle, error) {
	if src == nil || src.Bounds().Empty() {
		return nil, errors.New("accelerator: empty source image")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("accelerator: %w", err)
	}
	if !d.slots.TryAcquire(1) {
		return nil, ErrBusy
	}
	return &parallelHandle{
		device: d,
		src: &image.Gray{
			Pix:    append([]uint8(nil), src.Pix...),
			Stride: src.Stride,
			Rect:   src.Rect,
		},
	}, nil
}

type parallelHandle struct {
	device *ParallelDevice
	once   sync.Once

	mu  sync.Mutex
	src *image.Gray
}

func (h *parallelHandle) uploaded() (*image.Gray, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.src == nil {
		return nil, ErrReleased
	}
	return h.src, nil
}

func (h *parallelHandle) Binarize(level uint8) (image.Image, error) {
	src, err := h.uploaded()
	if err != nil {
		return nil, err
	}
	return segment.Threshold(src, level), nil
}

func (h *parallelHandle) Resize(img image.Image, width, height int) (image.Image, error) {
	if _, err := h.uploaded(); err != nil {
		return nil, err
	}
	return transform.Resize(img, width, height, transform.Linear), nil
}

func (h *parallelHandle) Release() {
	h.once.Do(func() {
		h.mu.Lock()
		h.src = nil
		h.mu.Unlock()
		h.device.slots.Release(1)
	})
}

// NewProbe returns the probe for a mode. Auto reports the device available
// when more than one CPU is schedulable, since the parallel kernels gain
// nothing on a single CPU.
func NewProbe(mode Mode, device Device) Probe {
	switch mode {
	case ModeOff:
		return ProbeFunc(func() Capability { return Unavailable })
	case ModeOn:
		return ProbeFunc(func() Capability { return Available(device) })
	default:
		return ProbeFunc(func() Capability {
			if runtime.GOMAXPROCS(0) > 1 {
				return Available(device)
			}
			return Unavailable
		})
	}
}
