package capture

import (
	"bytes"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
)

// JPEGQuality is the quality factor used for still captures (0.9 on a 0-1 scale)
const JPEGQuality = 90

// Artifact is a single JPEG-encoded still image
type Artifact struct {
	Data       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// ContentType returns the MIME type of the artifact
func (a Artifact) ContentType() string {
	return "image/jpeg"
}

// encodeJPEG copies the frame and encodes it as JPEG at the given quality.
// The copy detaches the artifact from buffers the camera may keep reusing.
func encodeJPEG(frame image.Image, quality int) ([]byte, image.Rectangle, error) {
	if frame == nil {
		return nil, image.Rectangle{}, fmt.Errorf("nil frame")
	}
	bounds := frame.Bounds()
	if bounds.Empty() {
		return nil, bounds, fmt.Errorf("empty frame %v", bounds)
	}

	snapshot := imaging.Clone(frame)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, snapshot, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, bounds, fmt.Errorf("encoding jpeg: %w", err)
	}
	if buf.Len() == 0 {
		return nil, bounds, fmt.Errorf("encoder produced no output")
	}
	return buf.Bytes(), bounds, nil
}
