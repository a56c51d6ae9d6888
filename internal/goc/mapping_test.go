package goc_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"agentsup.dev/supervisor/internal/goc"
	"agentsup.dev/supervisor/internal/knowledge"
)

func TestGoc(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Goc Suite")
}

// fakeStore is a minimal in-memory stand-in for the knowledge store's
// threads/context-sets/resources/edges, enough to exercise EnsureJobThread's
// find-or-create idempotency and AppendTrackingChunkToGoc's NEXT_PART chain.
type fakeStore struct {
	mu sync.Mutex

	threads      []map[string]any
	contextSets  []map[string]any
	resources    []map[string]any
	edges        []map[string]any
	nextID       int
	threadCreate int
}

func (s *fakeStore) id(prefix string) string {
	s.nextID++
	return prefix + "-" + string(rune('a'+s.nextID))
}

func (s *fakeStore) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/threads", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(s.threads)
		case http.MethodPost:
			var body struct {
				Name string `json:"name"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			s.threadCreate++
			t := map[string]any{"id": s.id("thread"), "name": body.Name}
			s.threads = append(s.threads, t)
			json.NewEncoder(w).Encode(t)
		}
	})
	mux.HandleFunc("/v1/context-sets", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			threadID := r.URL.Query().Get("thread_id")
			var out []map[string]any
			for _, cs := range s.contextSets {
				if cs["thread_id"] == threadID {
					out = append(out, cs)
				}
			}
			json.NewEncoder(w).Encode(out)
		case http.MethodPost:
			var body struct {
				ThreadID string `json:"thread_id"`
				Name     string `json:"name"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			cs := map[string]any{"id": s.id("ctx"), "thread_id": body.ThreadID, "name": body.Name}
			s.contextSets = append(s.contextSets, cs)
			json.NewEncoder(w).Encode(cs)
		}
	})
	mux.HandleFunc("/v1/resources", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			contextSetID := r.URL.Query().Get("context_set_id")
			var out []map[string]any
			for _, res := range s.resources {
				if res["context_set_id"] == contextSetID {
					out = append(out, res)
				}
			}
			json.NewEncoder(w).Encode(out)
		case http.MethodPost:
			var res map[string]any
			json.NewDecoder(r.Body).Decode(&res)
			res["id"] = s.id("res")
			s.resources = append(s.resources, res)
			json.NewEncoder(w).Encode(res)
		}
	})
	mux.HandleFunc("/v1/edges", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		var e map[string]any
		json.NewDecoder(r.Body).Decode(&e)
		s.edges = append(s.edges, e)
		json.NewEncoder(w).Encode(e)
	})
	return mux
}

var _ = Describe("Manager.EnsureJobThread", func() {
	var (
		store  *fakeStore
		srv    *httptest.Server
		client *knowledge.Client
		mgr    *goc.Manager
		jobDir string
	)

	BeforeEach(func() {
		store = &fakeStore{}
		srv = httptest.NewServer(store.handler())
		var err error
		client, err = knowledge.New(knowledge.Config{APIBase: srv.URL, ServiceKey: "k"})
		Expect(err).NotTo(HaveOccurred())
		mgr = goc.NewManager(client, goc.Config{JobThreadPrefix: "job:"})
		jobDir, err = os.MkdirTemp("", "goc-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		srv.Close()
		os.RemoveAll(jobDir)
	})

	It("creates a thread and shared context set exactly once across repeated calls", func() {
		ctx := context.Background()
		first, err := mgr.EnsureJobThread(ctx, "job-1", jobDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.ThreadID).NotTo(BeEmpty())
		Expect(first.SharedContextSetID).NotTo(BeEmpty())

		second, err := mgr.EnsureJobThread(ctx, "job-1", jobDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.ThreadID).To(Equal(first.ThreadID))
		Expect(second.SharedContextSetID).To(Equal(first.SharedContextSetID))

		Expect(store.threadCreate).To(Equal(1))
	})

	It("chains successive tracking-doc appends via NEXT_PART edges", func() {
		ctx := context.Background()
		_, err := mgr.EnsureJobThread(ctx, "job-1", jobDir)
		Expect(err).NotTo(HaveOccurred())

		Expect(mgr.AppendTrackingChunkToGoc(ctx, "job-1", jobDir, "plan.md", "first chunk")).To(Succeed())
		Expect(mgr.AppendTrackingChunkToGoc(ctx, "job-1", jobDir, "plan.md", "second chunk")).To(Succeed())

		Expect(store.edges).To(HaveLen(1))
		Expect(store.edges[0]["type"]).To(Equal("NEXT_PART"))
	})

	It("rejects an unknown tracking document name", func() {
		ctx := context.Background()
		_, err := mgr.EnsureJobThread(ctx, "job-1", jobDir)
		Expect(err).NotTo(HaveOccurred())
		err = mgr.AppendTrackingChunkToGoc(ctx, "job-1", jobDir, "not-a-real-doc.md", "chunk")
		Expect(err).To(HaveOccurred())
	})
})
