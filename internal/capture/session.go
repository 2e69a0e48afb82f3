package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"
)

// AcquireFailedMessage is the user-facing message shown when the camera cannot be acquired
const AcquireFailedMessage = "Camera access is blocked or unavailable. Please allow camera permissions."

var (
	// ErrInvalidState is returned when Open is called on a session that was already opened
	ErrInvalidState = errors.New("invalid session state")
	// ErrNotStreaming is returned by Capture and Frame outside the streaming state
	ErrNotStreaming = errors.New("session is not streaming")
	// ErrAlreadyCaptured is returned by Capture once the session has delivered its artifact
	ErrAlreadyCaptured = errors.New("session already delivered a capture")
	// ErrNoFrame is returned when the stream has no decodable frame yet
	ErrNoFrame = errors.New("no frame available")
	// ErrEncoding is returned when a frame could not be encoded. The session stays
	// streaming so the capture can be retried.
	ErrEncoding = errors.New("frame encoding failed")
	// ErrReleased is returned by Open when Close won the race against a pending acquisition
	ErrReleased = errors.New("session released")
)

// State is the lifecycle state of a Session
type State int

const (
	StateUnopened State = iota
	StateAcquiring
	StateStreaming
	StateError
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateAcquiring:
		return "acquiring"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	case StateReleased:
		return "released"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *State) UnmarshalText(text []byte) error {
	for st := StateUnopened; st <= StateReleased; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Callbacks connects a Session to its consumer
type Callbacks struct {
	// OnCapture receives the artifact of a successful Capture. The session keeps no reference to it.
	OnCapture func(Artifact)
	// OnClose is invoked exactly once, when the session is closed
	OnClose func()
}

// SessionOpts has optional settings for a Session
type SessionOpts struct {
	Facing  FacingMode       // Defaults to FacingUser.
	Quality int              // JPEG quality, defaults to JPEGQuality.
	Now     func() time.Time // Clock for artifact timestamps, defaults to time.Now.
}

// Session mediates between a Camera and a consumer that wants a single frame.
//
// A session moves from unopened to acquiring to streaming, or to error when the
// camera cannot be acquired. Close releases the camera from any state and is
// terminal; a closed or failed session is never reopened.
type Session struct {
	camera    Camera
	callbacks Callbacks
	opts      SessionOpts

	mu        sync.Mutex
	state     State
	stream    Stream
	errMsg    string
	cancel    context.CancelFunc
	delivered bool

	closeOnce sync.Once
}

// NewSession creates a Session for camera using the front-facing camera
func NewSession(camera Camera, callbacks Callbacks) *Session {
	return NewSessionWithOpts(camera, callbacks, SessionOpts{})
}

// NewSessionWithOpts creates a Session with custom options
func NewSessionWithOpts(camera Camera, callbacks Callbacks, opts SessionOpts) *Session {
	if opts.Facing == "" {
		opts.Facing = FacingUser
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = JPEGQuality
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{
		camera:    camera,
		callbacks: callbacks,
		opts:      opts,
		state:     StateUnopened,
	}
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ErrorMessage returns the user-facing message of a failed acquisition, or ""
func (s *Session) ErrorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Open acquires the camera. It blocks until the camera grants or refuses
// access; there is no timeout besides ctx. If Close is called while Open is
// pending, the late stream is stopped and ErrReleased is returned.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUnopened {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: open in state %s", ErrInvalidState, state)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = StateAcquiring
	s.mu.Unlock()

	stream, err := s.camera.Acquire(ctx, s.opts.Facing)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = nil

	if s.state != StateAcquiring {
		if err == nil {
			slog.Debug("Discarding stream acquired after close")
			stopTracks(stream)
		}
		return ErrReleased
	}

	if err != nil {
		s.state = StateError
		s.errMsg = AcquireFailedMessage
		return fmt.Errorf("acquiring camera: %w", err)
	}

	s.stream = stream
	s.state = StateStreaming
	return nil
}

// Frame returns the current preview frame
func (s *Session) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStreaming {
		return nil, ErrNotStreaming
	}
	frame, err := s.stream.Frame()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}
	return frame, nil
}

// Capture encodes the current frame as JPEG and hands it to OnCapture.
// Outside the streaming state, or after an artifact was delivered, Capture does
// nothing and returns ErrNotStreaming or ErrAlreadyCaptured.
func (s *Session) Capture() error {
	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return ErrNotStreaming
	}
	if s.delivered {
		s.mu.Unlock()
		return ErrAlreadyCaptured
	}

	frame, err := s.stream.Frame()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrNoFrame, err)
	}

	data, bounds, err := encodeJPEG(frame, s.opts.Quality)
	if err != nil {
		s.mu.Unlock()
		slog.Warn("Failed to encode capture", "error", err)
		return fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	s.delivered = true
	s.mu.Unlock()

	artifact := Artifact{
		Data:       data,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		CapturedAt: s.opts.Now(),
	}
	if s.callbacks.OnCapture != nil {
		s.callbacks.OnCapture(artifact)
	}
	return nil
}

// Close stops every track, aborts a pending Open and invokes OnClose.
// It is safe to call Close more than once and from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		stream := s.stream
		s.stream = nil
		s.state = StateReleased
		s.mu.Unlock()

		stopTracks(stream)

		if s.callbacks.OnClose != nil {
			s.callbacks.OnClose()
		}
	})
}
