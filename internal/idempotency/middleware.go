package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

// HeaderKey is the request header carrying the client-chosen token.
const HeaderKey = "Idempotency-Key"

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Recorder is the ledger the guard consults and updates around a mutation
// handler.
type Recorder interface {
	Get(ctx context.Context, vendorID, key string) (*Record, error)
	Create(ctx context.Context, vendorID, key, requestHash, method, path string) error
	MarkCompleted(ctx context.Context, vendorID, key string, status int, body []byte) error
	MarkFailed(ctx context.Context, vendorID, key string, status int, body []byte) error
}

// bodyRecorder tees everything the handler writes so the response can be
// cached for replay.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Guard wraps mutation handlers so each (vendor, key) pair executes the
// protected handler at most once; identical retries replay the recorded
// outcome byte for byte. Non-mutating methods pass through untouched.
// vendorFrom extracts the authenticated vendor id from the request context.
func Guard(store Recorder, logger *slog.Logger, vendorFrom func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			c.Next()
			return
		}

		key := c.GetHeader(HeaderKey)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "Idempotency-Key header is required for mutation requests",
			})
			return
		}

		if !keyPattern.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "Idempotency-Key must be 1-64 alphanumeric, hyphen, or underscore characters",
			})
			return
		}

		vendorID := vendorFrom(c)
		if vendorID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "vendor scope is required",
			})
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "failed to read request body",
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		// The full request URI goes into the hash. Query params select
		// behavior on guarded routes (mode on the ingest endpoint), so a
		// key reused with different params must read as a different
		// request, not a replay.
		hash := Fingerprint(c.Request.Method, c.Request.URL.RequestURI(), body)
		ctx := c.Request.Context()

		rec, err := store.Get(ctx, vendorID, key)
		switch {
		case err == nil:
			replay(c, logger, rec, hash)
			return

		case errors.Is(err, ErrNotFound):
			// First sight of this pair; fall through to the insert gate.

		default:
			logger.Error("Idempotency lookup failed",
				slog.String("key", key),
				slog.String("vendor_id", vendorID),
				slog.String("error", err.Error()),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "failed to check idempotency key",
			})
			return
		}

		if err := store.Create(ctx, vendorID, key, hash, c.Request.Method, c.Request.URL.Path); err != nil {
			if errors.Is(err, ErrDuplicateKey) {
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{
					"error": "a request with this idempotency key is already in flight",
				})
				return
			}
			logger.Error("Idempotency insert failed",
				slog.String("key", key),
				slog.String("vendor_id", vendorID),
				slog.String("error", err.Error()),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "failed to record idempotency key",
			})
			return
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder

		// The ledger write runs in a defer so a panicking handler still
		// leaves a cached failed outcome behind instead of a record stuck
		// in processing. The panic keeps unwinding afterwards, so the
		// recovery middleware still produces the 500.
		panicked := true
		defer func() {
			status := c.Writer.Status()
			captured := recorder.body.Bytes()

			var writeErr error
			switch {
			case panicked:
				writeErr = store.MarkFailed(ctx, vendorID, key,
					http.StatusInternalServerError, []byte(`{"error":"internal server error"}`))
			case status >= 200 && status < 300:
				writeErr = store.MarkCompleted(ctx, vendorID, key, status, captured)
			default:
				writeErr = store.MarkFailed(ctx, vendorID, key, status, captured)
			}
			if writeErr != nil {
				// The outcome already reached the client; a ledger write
				// failure only costs replay of this one response.
				logger.Error("Failed to cache idempotent response",
					slog.String("key", key),
					slog.String("vendor_id", vendorID),
					slog.String("error", writeErr.Error()),
				)
			}
		}()

		c.Next()
		panicked = false
	}
}

// replay resolves a request whose (vendor, key) pair already has a record.
func replay(c *gin.Context, logger *slog.Logger, rec *Record, hash string) {
	if rec.RequestHash != hash {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"error": "idempotency key reused with a different request",
		})
		return
	}

	switch rec.Status {
	case StatusProcessing:
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error": "a request with this idempotency key is still being processed",
		})

	case StatusCompleted, StatusFailed:
		logger.Info("Replaying cached idempotent response",
			slog.String("key", rec.Key),
			slog.String("vendor_id", rec.VendorID),
			slog.String("record_status", rec.Status),
		)
		c.Header("Content-Type", "application/json; charset=utf-8")
		c.Writer.WriteHeader(rec.ResponseStatus)
		_, _ = c.Writer.Write(rec.ResponseBody)
		c.Abort()

	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "idempotency record in unknown state",
		})
	}
}
