package scanning

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server   *ghttp.Server
		scanner  *Ollama
		received ollamaChatRequest
		reply    http.HandlerFunc
		data     *DocumentData
		err      error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		received = ollamaChatRequest{}
		reply = ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
			Message: ollamaMessage{
				Role:    "assistant",
				Content: `{"document_type": "passport", "document_number": "A123456789", "full_name": "JAENAL ARIFIN", "text": "PASSPORT\nA123456789"}`,
			},
			Done: true,
		})

		var newErr error
		scanner, newErr = NewOllama(server.URL()+"/", "qwen2-vl:7b")
		Expect(newErr).NotTo(HaveOccurred())
	})

	JustBeforeEach(func() {
		server.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
			ghttp.VerifyContentType("application/json"),
			func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewDecoder(r.Body).Decode(&received)
			},
			reply,
		))
		data, err = scanner.ScanDocument(context.Background(), encodeTestPNG(8, 8), "image/png", "A123456789")
	})

	AfterEach(func() {
		server.Close()
	})

	When("the model reads the document", func() {
		It("should return the parsed fields", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(data.DocumentType).To(Equal(DocumentPassport))
			Expect(data.FullName).To(Equal("JAENAL ARIFIN"))
			Expect(data.KeywordFound).To(BeTrue())
		})

		It("should ask for deterministic JSON from the configured model", func() {
			Expect(received.Model).To(Equal("qwen2-vl:7b"))
			Expect(received.Stream).To(BeFalse())
			Expect(received.Format).To(Equal("json"))
			Expect(received.Options.Temperature).To(BeZero())
		})

		It("should attach the document to the user message", func() {
			Expect(received.Messages).To(HaveLen(2))
			Expect(received.Messages[0].Role).To(Equal("system"))
			Expect(received.Messages[0].Content).To(Equal(documentReaderRole))
			Expect(received.Messages[1].Role).To(Equal("user"))
			Expect(received.Messages[1].Content).To(ContainSubstring(`"A123456789"`))
			Expect(received.Messages[1].Images).To(HaveLen(1))

			png, decodeErr := base64.StdEncoding.DecodeString(received.Messages[1].Images[0])
			Expect(decodeErr).NotTo(HaveOccurred())
			Expect(png[:4]).To(Equal([]byte{0x89, 'P', 'N', 'G'}))
		})
	})

	When("the model is not installed", func() {
		BeforeEach(func() {
			reply = ghttp.RespondWith(http.StatusNotFound, `{"error":"model \"qwen2-vl:7b\" not found"}`+"\n")
		})

		It("returns the API error", func() {
			Expect(err).To(MatchError(ContainSubstring("ollama API error (status 404)")))
			Expect(err).To(MatchError(ContainSubstring("not found")))
			Expect(data).To(BeNil())
		})
	})

	When("the model answers without JSON", func() {
		BeforeEach(func() {
			reply = ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
				Message: ollamaMessage{Role: "assistant", Content: "I cannot read this document."},
				Done:    true,
			})
		})

		It("returns a parse error", func() {
			Expect(err).To(MatchError(ContainSubstring("parsing document data")))
		})
	})
})
