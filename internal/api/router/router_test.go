package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendorops/backend/internal/api/handler"
	"github.com/vendorops/backend/internal/idempotency"
	"github.com/vendorops/backend/internal/migrate"
	"github.com/vendorops/backend/internal/queue"
)

// testRouter wires the full HTTP stack against the database named by
// TEST_DATABASE_DSN. Skipped when the variable is unset.
func testRouter(t *testing.T) *gin.Engine {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set; skipping database integration test")
	}

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, migrate.Run(context.Background(), db))
	_, err = db.Exec(`TRUNCATE ingestion_jobs, idempotency_keys`)
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps := &handler.Dependencies{
		Logger: logger,
		Queue:  queue.NewStore(db, logger, 3),
	}
	guard := idempotency.NewStore(db, logger, time.Hour)

	return SetupRouter(deps, guard)
}

func apiRequest(r *gin.Engine, method, path, vendor, idemKey, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if vendor != "" {
		req.Header.Set("X-Vendor-ID", vendor)
	}
	if idemKey != "" {
		req.Header.Set(idempotency.HeaderKey, idemKey)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Health has no database dependency, so wire nil stores.
	r := SetupRouter(&handler.Dependencies{Logger: logger}, nil)

	w := apiRequest(r, http.MethodGet, "/health", "", "", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestIngestCSVEndpoint(t *testing.T) {
	r := testRouter(t)

	t.Run("happy path", func(t *testing.T) {
		w := apiRequest(r, http.MethodPost, "/api/v1/ingest/csv?mode=products", "acme", "key-a1",
			`{"source":"csv","path":"uploads/products.csv"}`)

		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var resp struct {
			JobID  string `json:"job_id"`
			Kind   string `json:"kind"`
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.JobID)
		assert.Equal(t, "products-import", resp.Kind)
		assert.Equal(t, "queued", resp.Status)
	})

	t.Run("missing vendor header", func(t *testing.T) {
		w := apiRequest(r, http.MethodPost, "/api/v1/ingest/csv?mode=products", "", "key-a2",
			`{"source":"csv","path":"uploads/products.csv"}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing idempotency key", func(t *testing.T) {
		w := apiRequest(r, http.MethodPost, "/api/v1/ingest/csv?mode=products", "acme", "",
			`{"source":"csv","path":"uploads/products.csv"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid mode", func(t *testing.T) {
		w := apiRequest(r, http.MethodPost, "/api/v1/ingest/csv?mode=orders", "acme", "key-a3",
			`{"source":"csv","path":"uploads/orders.csv"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing required fields", func(t *testing.T) {
		w := apiRequest(r, http.MethodPost, "/api/v1/ingest/csv?mode=products", "acme", "key-a4",
			`{"source":"csv"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("replay returns identical response without a second job", func(t *testing.T) {
		body := `{"source":"csv","path":"uploads/replay.csv"}`
		first := apiRequest(r, http.MethodPost, "/api/v1/ingest/csv?mode=products", "acme", "key-replay", body)
		second := apiRequest(r, http.MethodPost, "/api/v1/ingest/csv?mode=products", "acme", "key-replay", body)

		require.Equal(t, http.StatusCreated, first.Code)
		assert.Equal(t, first.Code, second.Code)
		assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
	})

	t.Run("key reuse with different mode is rejected", func(t *testing.T) {
		body := `{"source":"csv","path":"uploads/mixed.csv"}`
		first := apiRequest(r, http.MethodPost, "/api/v1/ingest/csv?mode=products", "acme", "key-mode", body)
		second := apiRequest(r, http.MethodPost, "/api/v1/ingest/csv?mode=customers", "acme", "key-mode", body)

		require.Equal(t, http.StatusCreated, first.Code)
		assert.Equal(t, http.StatusUnprocessableEntity, second.Code)
	})

	t.Run("key reuse with different body is rejected", func(t *testing.T) {
		apiRequest(r, http.MethodPost, "/api/v1/ingest/csv?mode=products", "acme", "key-div",
			`{"source":"csv","path":"uploads/one.csv"}`)
		w := apiRequest(r, http.MethodPost, "/api/v1/ingest/csv?mode=products", "acme", "key-div",
			`{"source":"csv","path":"uploads/two.csv"}`)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestJobEndpoints(t *testing.T) {
	r := testRouter(t)

	enqueue := func(t *testing.T, vendor, key, path string) string {
		t.Helper()
		w := apiRequest(r, http.MethodPost, "/api/v1/ingest/csv?mode=products", vendor, key,
			`{"source":"csv","path":"`+path+`"}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var resp struct {
			JobID string `json:"job_id"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp.JobID
	}

	jobID := enqueue(t, "acme", "key-j1", "uploads/a.csv")

	t.Run("get own job", func(t *testing.T) {
		w := apiRequest(r, http.MethodGet, "/api/v1/jobs/"+jobID, "acme", "", "")

		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Data struct {
				JobID  string `json:"job_id"`
				Status string `json:"status"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, jobID, resp.Data.JobID)
		assert.Equal(t, "queued", resp.Data.Status)
	})

	t.Run("cross-vendor read is not found", func(t *testing.T) {
		w := apiRequest(r, http.MethodGet, "/api/v1/jobs/"+jobID, "globex", "", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed job id", func(t *testing.T) {
		w := apiRequest(r, http.MethodGet, "/api/v1/jobs/not-a-uuid", "acme", "", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown job id", func(t *testing.T) {
		w := apiRequest(r, http.MethodGet, "/api/v1/jobs/11111111-2222-3333-4444-555555555555", "acme", "", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("list is vendor scoped and paginated", func(t *testing.T) {
		for _, key := range []string{"key-j2", "key-j3", "key-j4"} {
			enqueue(t, "acme", key, "uploads/b"+key+".csv")
			time.Sleep(5 * time.Millisecond)
		}
		enqueue(t, "globex", "key-j5", "uploads/other.csv")

		w := apiRequest(r, http.MethodGet, "/api/v1/jobs?page_size=2", "acme", "", "")
		require.Equal(t, http.StatusOK, w.Code)

		var page struct {
			Jobs []struct {
				JobID    string `json:"job_id"`
				VendorID string `json:"vendor_id"`
			} `json:"jobs"`
			NextCursor string `json:"next_cursor"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
		require.Len(t, page.Jobs, 2)
		require.NotEmpty(t, page.NextCursor)
		for _, j := range page.Jobs {
			assert.Equal(t, "acme", j.VendorID)
		}

		w = apiRequest(r, http.MethodGet, "/api/v1/jobs?page_size=2&cursor="+page.NextCursor, "acme", "", "")
		require.Equal(t, http.StatusOK, w.Code)

		var next struct {
			Jobs []struct {
				JobID string `json:"job_id"`
			} `json:"jobs"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &next))
		require.NotEmpty(t, next.Jobs)
		for _, j := range next.Jobs {
			assert.NotEqual(t, page.Jobs[0].JobID, j.JobID)
			assert.NotEqual(t, page.Jobs[1].JobID, j.JobID)
		}
	})

	t.Run("invalid status filter", func(t *testing.T) {
		w := apiRequest(r, http.MethodGet, "/api/v1/jobs?status=sleeping", "acme", "", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid cursor", func(t *testing.T) {
		w := apiRequest(r, http.MethodGet, "/api/v1/jobs?cursor=!!not-a-cursor!!", "acme", "", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
