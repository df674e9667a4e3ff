// Package api exposes the pipeline over HTTP with gin.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jimdaga/reelpipe/internal/health"
	"github.com/jimdaga/reelpipe/internal/pipeline"
	"github.com/jimdaga/reelpipe/internal/streams"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Deps are the collaborators every handler draws from
type Deps struct {
	Coordinator *pipeline.Coordinator
	Artifacts   pipeline.ArtifactStore
	// Feed follows status events; nil disables the events endpoints
	Feed   *streams.Feed
	Logger *slog.Logger
	// MediaRoot, when set, is served read-only under /media
	MediaRoot      string
	AllowedOrigins []string
	// MaxUploadBytes caps overlay uploads
	MaxUploadBytes int64
	// ReadyChecks back /ready
	ReadyChecks []health.Check
}

// NewRouter builds the HTTP surface
func NewRouter(d *Deps) *gin.Engine {
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 10 << 20
	}

	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware("reelpipe-api"), requestLogger(d.Logger))
	corsCfg := cors.Config{
		AllowOrigins:  d.AllowedOrigins,
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(corsCfg.AllowOrigins) == 0 {
		corsCfg.AllowOrigins = nil
		corsCfg.AllowAllOrigins = true
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", gin.WrapF(health.Handler))
	r.GET("/ready", gin.WrapF(health.Readiness(d.ReadyChecks...)))
	if d.MediaRoot != "" {
		r.StaticFS("/media", http.Dir(d.MediaRoot))
	}

	v1 := r.Group("/api/v1")
	{
		projects := v1.Group("/projects")
		projects.POST("", CreateProjectHandler(d))
		projects.GET("", ListProjectsHandler(d))
		projects.GET("/:id", GetProjectHandler(d))
		projects.DELETE("/:id", DeleteProjectHandler(d))
		projects.POST("/:id/publish", PublishProjectHandler(d))
		projects.POST("/:id/search", SearchHandler(d))
		projects.GET("/:id/results", ListResultsHandler(d))
		projects.POST("/:id/results/:resultID/select", SelectResultHandler(d))
		projects.POST("/:id/content", CreateContentHandler(d))
		projects.GET("/:id/content", GetProjectContentHandler(d))
		projects.POST("/:id/copywriting", GenerateCopyHandler(d))
		projects.GET("/:id/copywriting", ListSessionsHandler(d))

		contents := v1.Group("/contents")
		contents.GET("/:id", GetContentHandler(d))
		contents.POST("/:id/tasks", StartStageHandler(d))
		contents.GET("/:id/tasks", ListTasksHandler(d))
		contents.POST("/:id/subtitles", StartSubtitleHandler(d))
		contents.POST("/:id/subtitles/translate", TranslateHandler(d))
		contents.GET("/:id/subtitles", ListSubtitlesHandler(d))

		tasks := v1.Group("/tasks")
		tasks.GET("/:id", GetTaskHandler(d))
		tasks.POST("/:id/retry", RetryTaskHandler(d))
		tasks.GET("/:id/events", TaskEventsHandler(d))

		subtitles := v1.Group("/subtitles")
		subtitles.GET("/:id", GetSubtitleHandler(d))
		subtitles.GET("/:id/srt", DownloadSubtitleHandler(d))
		subtitles.DELETE("/:id", DeleteSubtitleHandler(d))
		subtitles.GET("/:id/events", SubtitleEventsHandler(d))

		sessions := v1.Group("/copywriting")
		sessions.GET("/:id", GetSessionHandler(d))
		sessions.PATCH("/:id/sections/:section", EditSectionHandler(d))
		sessions.POST("/:id/sections/:section/regenerate", RegenerateSectionHandler(d))
		sessions.POST("/:id/save", SaveSessionHandler(d))
	}
	return r
}

// requestLogger logs one line per request through slog
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
