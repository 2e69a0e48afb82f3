package capture

import (
	"context"
	"errors"
	"image"
)

// FacingMode is the requested camera orientation
type FacingMode string

const (
	// FacingUser selects the front (user-facing) camera
	FacingUser FacingMode = "user"
	// FacingEnvironment selects the rear camera
	FacingEnvironment FacingMode = "environment"
)

var (
	// ErrPermissionDenied is returned by a Camera when access to the device is refused
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrDeviceUnavailable is returned by a Camera when no usable device exists
	ErrDeviceUnavailable = errors.New("camera device unavailable")
)

// Camera acquires video streams from a device
type Camera interface {
	// Acquire blocks until the device is streaming or access is refused.
	// ctx bounds the acquisition only; the returned Stream lives until its
	// tracks are stopped.
	Acquire(ctx context.Context, facing FacingMode) (Stream, error)
}

// Stream is a live video source owned by exactly one Session
type Stream interface {
	// Frame returns the most recently decoded frame
	Frame() (image.Image, error)

	// Tracks returns every media track backing the stream
	Tracks() []Track
}

// Track is a single media track of a Stream
type Track interface {
	// Kind returns the track kind, e.g. "video"
	Kind() string

	// Stop releases the hardware behind the track. Stop is idempotent.
	Stop()

	// Live reports whether the track has not been stopped yet
	Live() bool
}

// stopTracks stops every track of s
func stopTracks(s Stream) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
