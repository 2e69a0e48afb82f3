package scanning

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	return img
}

func encodeTestPNG(w, h int) []byte {
	var buf bytes.Buffer
	Expect(png.Encode(&buf, testImage(w, h))).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("prepareImageData", func() {
	var (
		input       []byte
		contentType string
		output      []byte
		mimeType    string
		converted   bool
		err         error
	)

	JustBeforeEach(func() {
		output, mimeType, converted, err = prepareImageData(input, contentType)
	})

	When("the document is a small PNG", func() {
		BeforeEach(func() {
			input = encodeTestPNG(40, 30)
			contentType = "image/png"
		})

		It("should pass it through", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(converted).To(BeFalse())
			Expect(output).To(Equal(input))
			Expect(mimeType).To(Equal("image/png"))
		})
	})

	When("the document is an oversized PNG", func() {
		BeforeEach(func() {
			input = encodeTestPNG(3000, 20)
			contentType = "image/png"
		})

		It("should downscale it", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(converted).To(BeTrue())
			cfg, cfgErr := png.DecodeConfig(bytes.NewReader(output))
			Expect(cfgErr).NotTo(HaveOccurred())
			Expect(cfg.Width).To(Equal(maxImageDimension))
		})
	})

	When("the document is a JPEG with content type parameters", func() {
		BeforeEach(func() {
			var buf bytes.Buffer
			Expect(jpeg.Encode(&buf, testImage(40, 30), nil)).To(Succeed())
			input = buf.Bytes()
			contentType = " Image/JPEG; charset=binary"
		})

		It("should convert it to PNG", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(converted).To(BeTrue())
			Expect(mimeType).To(Equal("image/png"))
			_, decodeErr := png.Decode(bytes.NewReader(output))
			Expect(decodeErr).NotTo(HaveOccurred())
		})
	})

	When("the content type is missing", func() {
		BeforeEach(func() {
			var buf bytes.Buffer
			Expect(jpeg.Encode(&buf, testImage(10, 10), nil)).To(Succeed())
			input = buf.Bytes()
			contentType = ""
		})

		It("should assume JPEG", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(converted).To(BeTrue())
		})
	})

	When("the data is not an image", func() {
		BeforeEach(func() {
			input = []byte("definitely not an image")
			contentType = "image/jpeg"
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ContainSubstring("unsupported image format")))
		})
	})

	When("the data is empty", func() {
		BeforeEach(func() {
			input = nil
			contentType = "image/png"
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ContainSubstring("empty document")))
		})
	})
})

var _ = Describe("format detection", func() {
	It("recognizes HEIC magic bytes", func() {
		data := append([]byte{0, 0, 0, 24}, []byte("ftypheic0000")...)
		Expect(isHEICFormat(data)).To(BeTrue())
		Expect(isHEICFormat([]byte("short"))).To(BeFalse())
	})

	It("recognizes HEIC MIME types", func() {
		Expect(isHEICMimeType("image/HEIF ")).To(BeTrue())
		Expect(isHEICMimeType("image/jpeg")).To(BeFalse())
	})

	It("recognizes PDFs by magic or MIME type", func() {
		Expect(isPDF([]byte("%PDF-1.4 ..."), "")).To(BeTrue())
		Expect(isPDF(nil, "application/pdf")).To(BeTrue())
		Expect(isPDF([]byte("GIF89a"), "image/gif")).To(BeFalse())
	})

	It("quotes the keyword into the prompt", func() {
		Expect(documentScanPrompt(`A12"3`)).To(ContainSubstring(`"A123"`))
	})
})
