package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramhq/engram/pkg/logger"
	"github.com/engramhq/engram/pkg/scheduler"
	"github.com/engramhq/engram/pkg/storage/inmemory"
	testutils "github.com/engramhq/engram/pkg/utils/test"
)

func TestAPI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "API Suite")
}

var _ = Describe("Server", func() {
	var (
		server     *Server
		store      *inmemory.Driver
		dispatcher *testutils.RecordingDispatcher
	)

	request := func(method, path string, body any) *http.Response {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			reader = bytes.NewReader(data)
		}

		req := httptest.NewRequest(method, path, reader)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := server.app.Test(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response) map[string]any {
		defer resp.Body.Close()
		var out map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
		return out
	}

	createItem := func(userID, chunkID string) string {
		resp := request(http.MethodPost, "/recall/items", CreateItemRequest{
			UserID:    userID,
			ChunkID:   chunkID,
			Content:   "some content",
			DelayDays: 1,
		})
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		return decode(resp)["item_id"].(string)
	}

	BeforeEach(func() {
		store = inmemory.NewDriver()
		dispatcher = testutils.NewRecordingDispatcher()
		sched := scheduler.NewScheduler(store, logger.Nop())
		server = NewServer(Config{ListenAddr: ":0"}, store, sched, dispatcher, logger.Nop())
	})

	Describe("GET /ping", func() {
		It("responds with pong", func() {
			resp := request(http.MethodGet, "/ping", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(MatchJSON(`"pong"`))
		})
	})

	Describe("POST /recall/items", func() {
		It("creates an item and returns its schedule", func() {
			resp := request(http.MethodPost, "/recall/items", CreateItemRequest{
				UserID:    "user-1",
				ChunkID:   "chunk-1",
				Content:   "hello",
				DelayDays: 1,
			})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			body := decode(resp)
			Expect(body["item_id"]).NotTo(BeEmpty())
			Expect(body["next_review_at"]).NotTo(BeEmpty())
		})

		It("requires a user id", func() {
			resp := request(http.MethodPost, "/recall/items", CreateItemRequest{
				ChunkID: "chunk-1", Content: "hello", DelayDays: 1,
			})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects invalid delays", func() {
			resp := request(http.MethodPost, "/recall/items", CreateItemRequest{
				UserID: "user-1", ChunkID: "chunk-1", Content: "hello", DelayDays: 400,
			})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("returns a conflict with the existing item id on duplicates", func() {
			existing := createItem("user-1", "chunk-1")

			resp := request(http.MethodPost, "/recall/items", CreateItemRequest{
				UserID: "user-1", ChunkID: "chunk-1", Content: "again", DelayDays: 1,
			})
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			Expect(decode(resp)["existing_item_id"]).To(Equal(existing))
		})

		It("rejects malformed bodies", func() {
			req := httptest.NewRequest(http.MethodPost, "/recall/items", bytes.NewReader([]byte("{nope")))
			req.Header.Set("Content-Type", "application/json")
			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /recall/items/:id/review", func() {
		quality := func(q int) *int { return &q }

		It("applies the review and returns the new schedule", func() {
			itemID := createItem("user-1", "chunk-1")

			resp := request(http.MethodPost, "/recall/items/"+itemID+"/review", ReviewRequest{
				UserID: "user-1", Quality: quality(5),
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body := decode(resp)
			Expect(body["interval_days"]).To(BeNumerically("==", 1))
			Expect(body["strength"]).To(BeNumerically("==", 1))
		})

		It("requires the quality field", func() {
			itemID := createItem("user-1", "chunk-1")
			resp := request(http.MethodPost, "/recall/items/"+itemID+"/review", ReviewRequest{UserID: "user-1"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects out-of-range quality", func() {
			itemID := createItem("user-1", "chunk-1")
			resp := request(http.MethodPost, "/recall/items/"+itemID+"/review", ReviewRequest{
				UserID: "user-1", Quality: quality(7),
			})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("forbids reviewing another user's item", func() {
			itemID := createItem("user-1", "chunk-1")
			resp := request(http.MethodPost, "/recall/items/"+itemID+"/review", ReviewRequest{
				UserID: "user-2", Quality: quality(4),
			})
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
		})

		It("returns 404 for unknown items", func() {
			resp := request(http.MethodPost, "/recall/items/nope/review", ReviewRequest{
				UserID: "user-1", Quality: quality(4),
			})
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("queue endpoints", func() {
		It("lists the implicit queue", func() {
			createItem("user-1", "chunk-1")
			createItem("user-1", "chunk-2")

			resp := request(http.MethodGet, "/recall/implicit?user_id=user-1", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode(resp)["count"]).To(BeNumerically("==", 2))
		})

		It("returns an empty due queue for a fresh user", func() {
			resp := request(http.MethodGet, "/recall/due?user_id=user-1", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(decode(resp)["count"]).To(BeNumerically("==", 0))
		})

		It("requires user_id", func() {
			resp := request(http.MethodGet, "/recall/due", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects non-positive limits", func() {
			resp := request(http.MethodGet, "/recall/due?user_id=user-1&limit=-1", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /recall/stats", func() {
		It("summarizes the user's recall state", func() {
			createItem("user-1", "chunk-1")

			resp := request(http.MethodGet, "/recall/stats?user_id=user-1", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			body := decode(resp)
			Expect(body["total_active"]).To(BeNumerically("==", 1))
			Expect(body["reviewed_today"]).To(BeNumerically("==", 0))
		})
	})

	Describe("suggestion endpoints", func() {
		suggest := func(userID, chunkID string) string {
			resp := request(http.MethodPost, "/recall/suggestions", CreateItemRequest{
				UserID:  userID,
				ChunkID: chunkID,
				Content: "suggested content",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			return decode(resp)["id"].(string)
		}

		It("creates, accepts, and schedules a suggestion", func() {
			id := suggest("user-1", "chunk-1")

			resp := request(http.MethodPost, "/recall/suggestions/"+id+"/accept", AcceptRequest{
				UserID: "user-1", DelayDays: 2,
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("dismisses a suggestion", func() {
			id := suggest("user-1", "chunk-1")

			resp := request(http.MethodPost, "/recall/suggestions/"+id+"/dismiss", DismissRequest{UserID: "user-1"})
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		})

		It("returns a conflict when accepting a dismissed suggestion", func() {
			id := suggest("user-1", "chunk-1")
			request(http.MethodPost, "/recall/suggestions/"+id+"/dismiss", DismissRequest{UserID: "user-1"})

			resp := request(http.MethodPost, "/recall/suggestions/"+id+"/accept", AcceptRequest{
				UserID: "user-1", DelayDays: 1,
			})
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})
	})

	Describe("POST /canonicalize", func() {
		It("enqueues a job and replies 202", func() {
			resp := request(http.MethodPost, "/canonicalize", CanonicalizeRequest{ChunkID: "chunk-1"})
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

			body := decode(resp)
			Expect(body["status"]).To(Equal("queued"))
			Expect(body["chunk_id"]).To(Equal("chunk-1"))

			Expect(dispatcher.Jobs).To(HaveLen(1))
			Expect(dispatcher.Jobs[0].Topic).To(Equal("engram.chunk.canonicalize"))
			Expect(string(dispatcher.Jobs[0].Payload)).To(MatchJSON(`{"chunk_id":"chunk-1"}`))
		})

		It("requires a chunk id", func() {
			resp := request(http.MethodPost, "/canonicalize", CanonicalizeRequest{})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("replies 503 when the dispatcher is unavailable", func() {
			dispatcher.FailEnqueue = true
			resp := request(http.MethodPost, "/canonicalize", CanonicalizeRequest{ChunkID: "chunk-1"})
			Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
		})
	})
})
