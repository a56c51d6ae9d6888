package knowledge_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agentsup.dev/supervisor/internal/knowledge"
	"agentsup.dev/supervisor/internal/supervisorerr"
)

func newCtx() context.Context { return context.Background() }

func TestKnowledge(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Knowledge Suite")
}

func newTestClient(base string) *knowledge.Client {
	c, err := knowledge.New(knowledge.Config{APIBase: base, ServiceKey: "test-key"})
	Expect(err).NotTo(HaveOccurred())
	return c
}

var _ = Describe("Client", func() {
	It("requires an API base and a service key", func() {
		_, err := knowledge.New(knowledge.Config{})
		Expect(err).To(HaveOccurred())

		_, err = knowledge.New(knowledge.Config{APIBase: "http://x"})
		Expect(err).To(HaveOccurred())
	})

	It("falls back from the v1 path to the legacy path on a 404", func() {
		var hitLegacy bool
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/v1/threads":
				w.WriteHeader(http.StatusNotFound)
			case "/threads":
				hitLegacy = true
				Expect(r.Header.Get("Authorization")).To(Equal("Bearer test-key"))
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(map[string]string{"id": "thread-1", "name": "job:abc"})
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer srv.Close()

		c := newTestClient(srv.URL)
		thread, err := c.CreateThread(newCtx(), "job:abc")
		Expect(err).NotTo(HaveOccurred())
		Expect(hitLegacy).To(BeTrue())
		Expect(thread.ID).To(Equal("thread-1"))
	})

	It("aborts immediately on a fatal (non-retryable) status without trying later attempts", func() {
		var calls int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("boom"))
		}))
		defer srv.Close()

		c := newTestClient(srv.URL)
		_, err := c.CreateThread(newCtx(), "job:abc")
		Expect(err).To(HaveOccurred())
		Expect(err).To(BeAssignableToTypeOf(&supervisorerr.FatalRemote{}))
		Expect(calls).To(Equal(1))
	})

	It("treats an HTML compiled-context response as fatal rather than returning it as text", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<!DOCTYPE html><html><body>nope</body></html>"))
		}))
		defer srv.Close()

		c := newTestClient(srv.URL)
		_, err := c.GetCompiledContext(newCtx(), "cs-1")
		Expect(err).To(HaveOccurred())
		Expect(err).To(BeAssignableToTypeOf(&supervisorerr.FatalRemote{}))
	})

	It("unwraps a compiled_text-wrapped response", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"compiled_text": "the compiled body"})
		}))
		defer srv.Close()

		c := newTestClient(srv.URL)
		text, err := c.GetCompiledContext(newCtx(), "cs-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("the compiled body"))
	})
})
