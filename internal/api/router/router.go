package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vendorops/backend/internal/api/handler"
	"github.com/vendorops/backend/internal/idempotency"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, guard idempotency.Recorder) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "vendor-ops-api",
		})
	})

	jobHandler := handler.NewJobHandler(deps)

	vendorFrom := func(c *gin.Context) string {
		return c.GetString(handler.ContextVendorID)
	}

	v1 := r.Group("/api/v1")
	v1.Use(VendorScopeMiddleware())
	{
		// Mutations sit behind the idempotency guard; reads bypass it.
		ingest := v1.Group("/ingest")
		ingest.Use(idempotency.Guard(guard, deps.Logger, vendorFrom))
		{
			ingest.POST("/csv", jobHandler.IngestCSV)
		}

		jobs := v1.Group("/jobs")
		{
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
		}
	}

	return r
}
