package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"storyscene/internal/config"
	"storyscene/internal/imagegen"
	"storyscene/internal/imageproc"
	"storyscene/internal/orchestrator"
	"storyscene/internal/server"
	"storyscene/internal/session"
	"storyscene/internal/story"
	"storyscene/internal/transcribe"
	"storyscene/internal/volc"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径")
	flag.Parse()

	// 初始化配置和日志
	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("加载配置失败: %v", err)
	}
	logCloser, err := config.InitLogger(cfg.Log)
	if err != nil {
		logrus.WithError(err).Warn("日志文件不可用，仅输出到标准错误")
	}
	defer logCloser.Close()
	if logrus.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	// 初始化ArkClient
	arkClient := volc.NewArkClient(volc.Options{
		BaseURL: cfg.Ark.BaseURL,
		APIKey:  cfg.Ark.APIKey,
		Timeout: cfg.Ark.Timeout,
		Mock:    cfg.Ark.Mock,
	})

	// 初始化各组件，不可用的组件保持nil
	deps := orchestrator.Deps{
		Story:  newStoryProvider(ctx, cfg, arkClient),
		Images: newImageProvider(cfg, arkClient),
		Processor: imageproc.NewLocal(imageproc.Options{
			Tolerance:   cfg.Processor.BackgroundTolerance,
			MergeHeight: cfg.Processor.MergeHeight,
		}),
	}
	store := session.NewStore(cfg.MediaRoot)
	orch := orchestrator.New(store, deps)
	logrus.WithFields(logrus.Fields{"full_ai": orch.FullAI(), "providers": orch.Availability()}).Info("编排器初始化完成")

	api := server.New(orch, session.NewRegistry(cfg.Limits.ResultTTL), newTranscriber(cfg), server.Options{
		MaxConcurrentRuns: cfg.Limits.MaxConcurrentRuns,
		MaxUploadBytes:    cfg.Limits.MaxUploadBytes,
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.Router(),
	}

	// 在goroutine中启动服务器
	go func() {
		logrus.Infof("服务器启动在 %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("启动服务器失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("关闭服务器...")

	// 优雅关闭服务器
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("服务器关闭失败: %v", err)
	}
	logrus.Info("服务器已关闭")
}

func newStoryProvider(ctx context.Context, cfg *config.Config, arkClient *volc.ArkClient) story.Provider {
	log := logrus.WithField("backend", cfg.Backends.Story)
	switch cfg.Backends.Story {
	case config.StoryBackendArk:
		if cfg.Ark.Mock {
			return story.NewClientProvider(arkClient, cfg.Ark.ChatModel)
		}
		p, err := story.NewArkProvider(ctx, story.ArkConfig{
			APIKey:  cfg.Ark.APIKey,
			Model:   cfg.Ark.ChatModel,
			Region:  cfg.Ark.Region,
			Timeout: cfg.Ark.Timeout,
		})
		if err != nil {
			log.WithError(err).Warn("故事生成组件不可用")
			return nil
		}
		return p
	case config.StoryBackendOpenAI:
		p, err := story.NewOpenAIProvider(story.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.ChatModel,
		})
		if err != nil {
			log.WithError(err).Warn("故事生成组件不可用")
			return nil
		}
		return p
	default:
		return nil
	}
}

func newImageProvider(cfg *config.Config, arkClient *volc.ArkClient) imagegen.Provider {
	log := logrus.WithField("backend", cfg.Backends.Image)
	var (
		p   imagegen.Provider
		err error
	)
	switch cfg.Backends.Image {
	case config.ImageBackendSeedream:
		p, err = imagegen.NewSeedreamProvider(arkClient, cfg.Ark.ImageModel, cfg.Ark.ImageSize)
	case config.ImageBackendOpenAI:
		p, err = imagegen.NewOpenAIProvider(imagegen.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.ImageModel,
			Size:    cfg.OpenAI.ImageSize,
		})
	default:
		return nil
	}
	if err != nil {
		log.WithError(err).Warn("图片生成组件不可用")
		return nil
	}
	return imagegen.WithRateLimit(p, cfg.Limits.ImageRequestInterval, cfg.Limits.ImageBurst)
}

func newTranscriber(cfg *config.Config) transcribe.Transcriber {
	if cfg.Backends.Transcribe != config.TranscribeBackendOpenAI {
		return nil
	}
	t, err := transcribe.NewWhisper(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	if err != nil {
		logrus.WithError(err).Warn("语音转写组件不可用")
		return nil
	}
	return t
}
