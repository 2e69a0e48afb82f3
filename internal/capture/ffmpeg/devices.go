package ffmpeg

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/zombor/idverify/internal/capture"
)

var errInstallHint = errors.New("executable not found, install with: sudo apt install -y ffmpeg v4l-utils")

// Device is a V4L2 camera device
type Device struct {
	Name string
	ID   string // Device node, e.g. /dev/video0.
}

// userFacingHints are substrings of device names that usually denote a front camera
var userFacingHints = []string{"front", "user", "facetime", "integrated", "webcam"}

// environmentFacingHints are substrings of device names that usually denote a rear camera
var environmentFacingHints = []string{"rear", "back", "environment", "world"}

// ListDevices returns the devices reported by v4l2-ctl.
// ListDevices returns an error if no devices are available.
func ListDevices() ([]Device, error) {
	cmd := exec.Command("v4l2-ctl", "--list-devices")
	buf, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			err = errInstallHint
		}
		return nil, fmt.Errorf("listing devices using v4l2-ctl: %w", err)
	}
	return parseDevices(string(buf))
}

// parseDevices parses the output of v4l2-ctl --list-devices. Every device
// heading is followed by tab-indented device nodes; only the first node of a
// heading is a capture node, the rest are metadata nodes.
func parseDevices(s string) ([]Device, error) {
	var curDevice string
	var taken bool
	devices := []Device{}
	for _, line := range strings.Split(s, "\n") {
		if !strings.HasPrefix(line, "\t") {
			curDevice = strings.TrimSuffix(strings.TrimSpace(line), ":")
			taken = false
			continue
		}
		if curDevice == "" || taken || strings.HasPrefix(curDevice, "bcm2835-") {
			continue
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "/dev/video") {
			continue
		}
		devices = append(devices, Device{
			Name: fmt.Sprintf("%s (%s)", curDevice, line),
			ID:   line,
		})
		taken = true
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no devices available")
	}
	return devices, nil
}

// selectDevice picks the device best matching the facing mode, falling back to the first one
func selectDevice(devices []Device, facing capture.FacingMode) Device {
	hints := userFacingHints
	if facing == capture.FacingEnvironment {
		hints = environmentFacingHints
	}
	for _, dev := range devices {
		name := strings.ToLower(dev.Name)
		for _, hint := range hints {
			if strings.Contains(name, hint) {
				return dev
			}
		}
	}
	return devices[0]
}

// checkDevice maps device access problems onto the capture error taxonomy
func checkDevice(id string) error {
	f, err := os.OpenFile(id, os.O_RDONLY, 0)
	switch {
	case err == nil:
		return f.Close()
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %v", capture.ErrPermissionDenied, err)
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
	}
}

// tempDir returns a temporary directory in /dev/shm if it exists, or
// otherwise in the OS default temporary directory.
func tempDir() (string, error) {
	// Check that /dev/shm exists first, to avoid creating a directory in /dev.
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		dir, err := os.MkdirTemp("/dev/shm", "idverify-camera")
		if err == nil {
			return dir, nil
		}
	}
	return os.MkdirTemp("", "idverify-camera")
}
