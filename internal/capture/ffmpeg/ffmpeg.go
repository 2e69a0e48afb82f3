// Package ffmpeg implements a capture.Camera on top of an ffmpeg process
// reading a V4L2 device. Frames are written as JPEG files to a temporary
// directory and picked up with fsnotify.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/zombor/idverify/internal/capture"
)

// CameraOpts has options for a new ffmpeg camera.
type CameraOpts struct {
	Verbose   bool
	DeviceID  string // As retrieved from ListDevices. If empty, Acquire picks a device matching the facing mode.
	Width     int    // Defaults to 640.
	Height    int    // Defaults to 480.
	Framerate int    // Defaults to 15.
}

// Camera acquires streams by starting ffmpeg.
type Camera struct {
	opts        CameraOpts
	command     string
	listDevices func() ([]Device, error)
	makeTempDir func() (string, error)
}

// Check that Camera implements interface capture.Camera.
var _ capture.Camera = (*Camera)(nil)

// NewCamera creates a new ffmpeg camera. No process is started until Acquire.
func NewCamera(opts CameraOpts) *Camera {
	if opts.Width <= 0 {
		opts.Width = 640
	}
	if opts.Height <= 0 {
		opts.Height = 480
	}
	if opts.Framerate <= 0 {
		opts.Framerate = 15
	}
	return &Camera{
		opts:        opts,
		command:     "ffmpeg",
		listDevices: ListDevices,
		makeTempDir: tempDir,
	}
}

func (c *Camera) logf(msg string, args ...any) {
	if c.opts.Verbose {
		slog.Info(msg, args...)
	}
}

// args returns the ffmpeg arguments for recording deviceID
func (c *Camera) args(deviceID string) []string {
	return []string{
		"-f", "v4l2",
		"-framerate", fmt.Sprintf("%d", c.opts.Framerate),
		"-video_size", fmt.Sprintf("%dx%d", c.opts.Width, c.opts.Height),
		"-i", deviceID,
		"-f", "image2",
		"-qscale:v", "2",
		"frame%d.jpg",
	}
}

// Acquire starts ffmpeg for the selected device and waits for the first frame.
//
// Callers must stop the tracks of the returned stream to clean up.
func (c *Camera) Acquire(ctx context.Context, facing capture.FacingMode) (_ capture.Stream, rerr error) {
	deviceID := c.opts.DeviceID
	if deviceID == "" {
		devs, err := c.listDevices()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
		}
		dev := selectDevice(devs, facing)
		c.logf("Selected camera device", "name", dev.Name, "facing", facing)
		deviceID = dev.ID
	}

	if err := checkDevice(deviceID); err != nil {
		return nil, err
	}

	s := &stream{
		ready:  make(chan struct{}),
		exited: make(chan struct{}),
	}
	s.track = &videoTrack{stop: s.shutdown}
	s.track.live.Store(true)

	// Ensure cleanup in case of failure.
	defer func() {
		if rerr != nil {
			s.track.Stop()
		}
	}()

	dir, err := c.makeTempDir()
	if err != nil {
		return nil, fmt.Errorf("making temp dir: %w", err)
	}
	s.tempDir = dir
	c.logf("Writing camera frames", "dir", dir)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new file change watcher: %w", err)
	}
	s.watcher = watcher
	if err := watcher.Add(dir); err != nil {
		return nil, fmt.Errorf("registering file change watcher for temp dir: %w", err)
	}
	go s.watch(c.opts.Verbose)

	// The process outlives ctx, which only bounds the acquisition.
	procCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	args := c.args(deviceID)
	c.logf("Starting ffmpeg", "args", strings.Join(args, " "))
	cmd := exec.CommandContext(procCtx, c.command, args...)
	cmd.Dir = dir
	if c.opts.Verbose {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("%w: starting %s: %v", capture.ErrDeviceUnavailable, c.command, err)
	}
	go func() {
		err := cmd.Wait()
		if s.track.Live() {
			slog.Warn("ffmpeg exited", "device", deviceID, "error", err)
		}
		close(s.exited)
	}()

	select {
	case <-s.ready:
		return s, nil
	case <-s.exited:
		return nil, fmt.Errorf("%w: ffmpeg exited before the first frame", capture.ErrDeviceUnavailable)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// stream holds the latest frame written by ffmpeg
type stream struct {
	mu    sync.RWMutex
	frame image.Image

	ready     chan struct{}
	readyOnce sync.Once
	exited    chan struct{}

	tempDir string
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	track   *videoTrack
}

// Check that stream implements interface capture.Stream.
var _ capture.Stream = (*stream)(nil)

func (s *stream) Frame() (image.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.frame == nil {
		return nil, fmt.Errorf("no frame decoded yet")
	}
	return s.frame, nil
}

func (s *stream) Tracks() []capture.Track {
	return []capture.Track{s.track}
}

// watch decodes every completed frame file and keeps the newest one
func (s *stream) watch(verbose bool) {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) || !strings.HasSuffix(ev.Name, ".jpg") {
				continue
			}
			f, err := os.Open(ev.Name)
			if err != nil {
				continue
			}
			img, err := jpeg.Decode(f)
			f.Close()
			if err != nil {
				// May be partially written; a later write event retries.
				continue
			}
			if err := os.Remove(ev.Name); err != nil && verbose {
				slog.Debug("Removing frame", "file", ev.Name, "error", err)
			}

			s.mu.Lock()
			s.frame = img
			s.mu.Unlock()
			s.readyOnce.Do(func() { close(s.ready) })

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Watching camera frames", "error", err)
		}
	}
}

// shutdown stops ffmpeg and removes the temporary directory
func (s *stream) shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.watcher != nil {
		s.watcher.Close()
	}
	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}
}

// videoTrack is the single track of an ffmpeg stream
type videoTrack struct {
	live     atomic.Bool
	stopOnce sync.Once
	stop     func()
}

func (t *videoTrack) Kind() string { return "video" }

func (t *videoTrack) Stop() {
	t.stopOnce.Do(func() {
		t.live.Store(false)
		t.stop()
	})
}

func (t *videoTrack) Live() bool { return t.live.Load() }
