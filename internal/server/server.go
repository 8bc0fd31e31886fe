package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"storyscene/internal/model"
	"storyscene/internal/orchestrator"
	"storyscene/internal/session"
	"storyscene/internal/tools"
	"storyscene/internal/transcribe"
)

// Options 服务参数
type Options struct {
	MaxConcurrentRuns int64
	MaxUploadBytes    int64
}

// Server HTTP接口层
type Server struct {
	orch        *orchestrator.Orchestrator
	store       *session.Store
	registry    *session.Registry
	transcriber transcribe.Transcriber
	storyTool   *tools.StoryTool
	imageTool   *tools.ImageTool
	runs        *semaphore.Weighted
	maxUpload   int64
	log         *logrus.Entry
}

// New 创建服务，transcriber为nil表示语音转写不可用
func New(orch *orchestrator.Orchestrator, registry *session.Registry, transcriber transcribe.Transcriber, opts Options) *Server {
	if opts.MaxConcurrentRuns <= 0 {
		opts.MaxConcurrentRuns = 2
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	return &Server{
		orch:        orch,
		store:       orch.Store(),
		registry:    registry,
		transcriber: transcriber,
		storyTool:   tools.NewStoryTool(orch),
		imageTool:   tools.NewImageTool(orch),
		runs:        semaphore.NewWeighted(opts.MaxConcurrentRuns),
		maxUpload:   opts.MaxUploadBytes,
		log:         logrus.WithField("component", "server"),
	}
}

// Router 注册路由
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())
	router.MaxMultipartMemory = s.maxUpload

	api := router.Group("/api")
	api.POST("/generate", s.handleGenerate)
	api.POST("/generate/stream", s.handleGenerateStream)
	api.POST("/transcribe", s.handleTranscribe)
	api.GET("/health", s.handleHealth)
	api.GET("/sessions/:id", s.handleGetSession)
	api.DELETE("/sessions/:id", s.handleDeleteSession)
	api.GET("/sessions/:id/story", s.handleStoryHTML)
	api.GET("/sessions/:id/thumbnail/:artifact", s.handleThumbnail)
	api.POST("/sessions/:id/enhance", s.handleEnhance)
	api.POST("/sessions/:id/adjust", s.handleAdjust)

	router.POST("/tools/story-generate", s.handleTool(s.storyTool.InvokableRun))
	router.POST("/tools/image-generate", s.handleTool(s.imageTool.InvokableRun))

	router.Static("/media", s.store.MediaRoot())
	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Info("request")
	}
}

// handleHealth 健康检查
func (s *Server) handleHealth(c *gin.Context) {
	providers := s.orch.Availability()
	providers["transcriber"] = s.transcriber != nil
	mode := "fallback"
	if s.orch.FullAI() {
		mode = "full_ai"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"mode":      mode,
		"providers": providers,
		"timestamp": time.Now(),
	})
}

// httpStatus 按错误分类映射HTTP状态码
func httpStatus(res *model.Result) int {
	if res.OK() {
		return http.StatusOK
	}
	switch res.ErrorKind {
	case model.KindMissingInput, model.KindNotFound:
		return http.StatusBadRequest
	case model.KindProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(kind model.ErrorKind, msg string) gin.H {
	return gin.H{"success": false, "error": msg, "error_kind": kind}
}
