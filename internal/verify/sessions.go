package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/zombor/idverify/internal/capture"
	"github.com/zombor/idverify/internal/metrics"
)

// ErrSessionNotFound is returned for unknown or already closed session IDs
var ErrSessionNotFound = errors.New("camera session not found")

// IDGenerator generates unique IDs for camera sessions
type IDGenerator interface {
	Generate() string
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// cameraSession is a capture.Session plus the plumbing the HTTP layer needs
type cameraSession struct {
	id       string
	session  *capture.Session
	artifact chan capture.Artifact
	done     chan struct{}
}

// CameraSessions owns the camera on behalf of the page. At most one session
// is live at a time: opening a new one closes the previous one first.
type CameraSessions struct {
	camera      capture.Camera
	metrics     *metrics.Metrics
	idGenerator IDGenerator
	timeSource  TimeSource

	openMu   sync.Mutex
	mu       sync.Mutex
	sessions map[string]*cameraSession
}

// NewCameraSessions creates a session manager for camera
func NewCameraSessions(camera capture.Camera, m *metrics.Metrics) *CameraSessions {
	return NewCameraSessionsWithDeps(camera, m, &uuidGenerator{}, &defaultTimeSource{})
}

// NewCameraSessionsWithDeps creates a session manager with custom dependencies for testing
func NewCameraSessionsWithDeps(camera capture.Camera, m *metrics.Metrics, idGen IDGenerator, timeSrc TimeSource) *CameraSessions {
	return &CameraSessions{
		camera:      camera,
		metrics:     m,
		idGenerator: idGen,
		timeSource:  timeSrc,
		sessions:    make(map[string]*cameraSession),
	}
}

// Open releases any live session and starts acquiring the camera for a new
// one. Acquisition continues in the background; poll Status for the outcome.
func (c *CameraSessions) Open() SessionStatus {
	c.openMu.Lock()
	defer c.openMu.Unlock()

	c.CloseAll()

	cs := &cameraSession{
		id:       c.idGenerator.Generate(),
		artifact: make(chan capture.Artifact, 1),
		done:     make(chan struct{}),
	}
	cs.session = capture.NewSessionWithOpts(c.camera, capture.Callbacks{
		OnCapture: func(a capture.Artifact) {
			cs.artifact <- a
		},
		OnClose: func() {
			c.mu.Lock()
			if c.sessions[cs.id] == cs {
				delete(c.sessions, cs.id)
			}
			c.mu.Unlock()
			c.metrics.SessionClosed()
			close(cs.done)
			slog.Info("Camera session closed", "session", cs.id)
		},
	}, capture.SessionOpts{Now: c.timeSource.Now})

	c.mu.Lock()
	c.sessions[cs.id] = cs
	c.mu.Unlock()
	c.metrics.SessionOpened()

	slog.Info("Opening camera session", "session", cs.id)
	go c.acquire(cs)

	return SessionStatus{ID: cs.id, State: capture.StateAcquiring}
}

// acquire waits for the camera without a deadline; Close aborts it
func (c *CameraSessions) acquire(cs *cameraSession) {
	start := c.timeSource.Now()
	err := cs.session.Open(context.Background())
	elapsed := c.timeSource.Now().Sub(start)
	switch {
	case err == nil:
		slog.Info("Camera streaming", "session", cs.id, "duration", elapsed)
		c.metrics.ObserveSessionOutcome("streaming", elapsed)
	case errors.Is(err, capture.ErrReleased), errors.Is(err, capture.ErrInvalidState):
		// Closed before or during acquisition.
		c.metrics.ObserveSessionOutcome("released_pending", elapsed)
	default:
		slog.Warn("Camera acquisition failed", "session", cs.id, "error", err)
		c.metrics.ObserveSessionOutcome("error", elapsed)
	}
}

// lookup returns the live session with id
func (c *CameraSessions) lookup(id string) (*cameraSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, ok := c.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return cs, nil
}

// Status reports the state of session id
func (c *CameraSessions) Status(id string) (SessionStatus, error) {
	cs, err := c.lookup(id)
	if err != nil {
		return SessionStatus{}, err
	}
	return SessionStatus{
		ID:    cs.id,
		State: cs.session.State(),
		Error: cs.session.ErrorMessage(),
	}, nil
}

// Capture takes the selfie for session id and then closes the session, the
// way the page dismisses the camera once a picture was taken.
func (c *CameraSessions) Capture(id string) (capture.Artifact, error) {
	cs, err := c.lookup(id)
	if err != nil {
		return capture.Artifact{}, err
	}

	if err := cs.session.Capture(); err != nil {
		if errors.Is(err, capture.ErrEncoding) || errors.Is(err, capture.ErrNoFrame) {
			c.metrics.IncrementCapture("encoding_failed")
		} else {
			c.metrics.IncrementCapture("rejected")
		}
		return capture.Artifact{}, err
	}

	artifact := <-cs.artifact
	c.metrics.IncrementCapture("delivered")
	cs.session.Close()
	return artifact, nil
}

// Close releases session id
func (c *CameraSessions) Close(id string) error {
	cs, err := c.lookup(id)
	if err != nil {
		return err
	}
	cs.session.Close()
	return nil
}

// CloseAll releases every live session
func (c *CameraSessions) CloseAll() {
	c.mu.Lock()
	live := make([]*cameraSession, 0, len(c.sessions))
	for _, cs := range c.sessions {
		live = append(live, cs)
	}
	c.mu.Unlock()

	for _, cs := range live {
		cs.session.Close()
	}
}

// Len returns the number of live sessions
func (c *CameraSessions) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}
