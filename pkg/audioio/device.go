package audioio

import (
	"context"
	"errors"
	"log/slog"
)

var (
	// ErrPermissionDenied is returned when the user refuses microphone access.
	ErrPermissionDenied = errors.New("audioio: microphone permission denied")

	// ErrDeviceUnavailable is returned when no capture device can be opened.
	ErrDeviceUnavailable = errors.New("audioio: capture device unavailable")

	// ErrMicBusy is returned by TryAcquire while another scope holds the mic.
	ErrMicBusy = errors.New("audioio: microphone in use")
)

// Device opens a fresh capture source each time the mic is acquired.
type Device interface {
	Open(ctx context.Context) (Source, error)
}

// DeviceFunc adapts a function to the Device interface.
type DeviceFunc func(ctx context.Context) (Source, error)

// Open calls f.
func (f DeviceFunc) Open(ctx context.Context) (Source, error) { return f(ctx) }

// NewDevice returns a Device that builds sources from cfg.
func NewDevice(cfg Config, logger *slog.Logger) Device {
	return DeviceFunc(func(ctx context.Context) (Source, error) {
		return NewSource(cfg, logger)
	})
}

// DeniedDevice is a Device whose user always refuses access.
var DeniedDevice Device = DeviceFunc(func(context.Context) (Source, error) {
	return nil, ErrPermissionDenied
})
