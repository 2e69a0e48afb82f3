package verify_test

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"net/http"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zombor/idverify/internal/capture"
	"github.com/zombor/idverify/internal/metrics"
	"github.com/zombor/idverify/internal/ocr"
	"github.com/zombor/idverify/internal/scanning"
	"github.com/zombor/idverify/internal/verify"
)

// recordingScanner remembers the last document it was given
type recordingScanner struct {
	mu          sync.Mutex
	data        []byte
	contentType string
}

func (s *recordingScanner) ScanDocument(ctx context.Context, imageData []byte, contentType string, keyword string) (*scanning.DocumentData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = imageData
	s.contentType = contentType
	return &scanning.DocumentData{
		DocumentType:   scanning.DocumentIDCard,
		DocumentNumber: keyword,
		Keyword:        keyword,
		KeywordFound:   true,
	}, nil
}

func (s *recordingScanner) Close() error {
	return nil
}

// gradientCamera streams a single synthetic frame
type gradientCamera struct{}

type gradientStream struct {
	frame image.Image
	track *gradientTrack
}

type gradientTrack struct {
	mu      sync.Mutex
	stopped bool
}

func (gradientCamera) Acquire(ctx context.Context, facing capture.FacingMode) (capture.Stream, error) {
	frame := image.NewNRGBA(image.Rect(0, 0, 320, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			frame.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 96, A: 255})
		}
	}
	return &gradientStream{frame: frame, track: &gradientTrack{}}, nil
}

func (s *gradientStream) Frame() (image.Image, error) { return s.frame, nil }

func (s *gradientStream) Tracks() []capture.Track { return []capture.Track{s.track} }

func (t *gradientTrack) Kind() string { return "video" }

func (t *gradientTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *gradientTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped
}

var _ = Describe("Integration", func() {
	var (
		scanner  *recordingScanner
		sessions *verify.CameraSessions
		server   *verify.Server
		ghServer *ghttp.Server
	)

	BeforeEach(func() {
		m := metrics.New(prometheus.NewRegistry())
		scanner = &recordingScanner{}
		service := verify.NewService(scanner, m)
		sessions = verify.NewCameraSessions(gradientCamera{}, m)
		server = verify.NewServer(service, sessions, verify.BasicAuth{})
		ghServer = ghttp.NewServer()
	})

	AfterEach(func() {
		sessions.CloseAll()
		if ghServer != nil {
			ghServer.Close()
		}
	})

	It("should take a selfie and submit it for recognition", func() {
		ghServer.AppendHandlers(
			server.ServeHTTP, // open the camera
			server.ServeHTTP, // capture
			server.ServeHTTP, // recognize
		)

		// --- Step 1: open the camera ---
		resp, err := http.Post(ghServer.URL()+"/api/camera/sessions", "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		var status verify.SessionStatus
		Expect(json.NewDecoder(resp.Body).Decode(&status)).To(Succeed())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		Eventually(func() capture.State {
			s, err := sessions.Status(status.ID)
			Expect(err).NotTo(HaveOccurred())
			return s.State
		}).WithTimeout(2 * time.Second).Should(Equal(capture.StateStreaming))

		// --- Step 2: capture ---
		resp, err = http.Post(ghServer.URL()+"/api/camera/sessions/"+status.ID+"/capture", "", nil)
		Expect(err).NotTo(HaveOccurred())
		selfie, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("Content-Type")).To(Equal("image/jpeg"))
		Expect(sessions.Len()).To(BeZero())

		// --- Step 3: recognize ---
		client := ocr.NewClient(ghServer.URL())
		result, err := client.Recognize(context.Background(), "3171234567890001", selfie)
		Expect(err).NotTo(HaveOccurred())

		var doc scanning.DocumentData
		Expect(json.Unmarshal(result, &doc)).To(Succeed())
		Expect(doc.DocumentNumber).To(Equal("3171234567890001"))
		Expect(doc.KeywordFound).To(BeTrue())

		scanner.mu.Lock()
		defer scanner.mu.Unlock()
		Expect(scanner.data).To(Equal(selfie))
		Expect(scanner.contentType).To(Equal("image/jpeg"))
	})
})
