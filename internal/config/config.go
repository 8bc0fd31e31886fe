package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 后端名称
const (
	StoryBackendArk    = "ark"
	StoryBackendOpenAI = "openai"
	StoryBackendNone   = "none"

	ImageBackendSeedream = "seedream"
	ImageBackendOpenAI   = "openai"
	ImageBackendNone     = "none"

	TranscribeBackendOpenAI = "openai"
	TranscribeBackendNone   = "none"
)

// Config 服务配置
type Config struct {
	ListenAddr string        `yaml:"listen_addr"`
	MediaRoot  string        `yaml:"media_root"`
	Log        LogConfig     `yaml:"log"`
	Ark        ArkConfig     `yaml:"ark"`
	OpenAI     OpenAIConfig  `yaml:"openai"`
	Backends   BackendConfig `yaml:"backends"`
	Limits     LimitConfig   `yaml:"limits"`
	Processor  ProcConfig    `yaml:"processor"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"` // text 或 json
}

// ArkConfig 火山方舟配置
type ArkConfig struct {
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Region     string        `yaml:"region"`
	ChatModel  string        `yaml:"chat_model"`
	ImageModel string        `yaml:"image_model"`
	ImageSize  string        `yaml:"image_size"`
	Timeout    time.Duration `yaml:"timeout"`
	Mock       bool          `yaml:"mock"`
}

// OpenAIConfig OpenAI配置
type OpenAIConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	ChatModel  string `yaml:"chat_model"`
	ImageModel string `yaml:"image_model"`
	ImageSize  string `yaml:"image_size"`
}

// BackendConfig 各组件使用的后端
type BackendConfig struct {
	Story      string `yaml:"story"`
	Image      string `yaml:"image"`
	Transcribe string `yaml:"transcribe"`
}

// LimitConfig 限流与并发配置
type LimitConfig struct {
	ImageRequestInterval time.Duration `yaml:"image_request_interval"`
	ImageBurst           int           `yaml:"image_burst"`
	MaxConcurrentRuns    int64         `yaml:"max_concurrent_runs"`
	ResultTTL            time.Duration `yaml:"result_ttl"`
	MaxUploadBytes       int64         `yaml:"max_upload_bytes"`
}

// ProcConfig 图片后处理配置
type ProcConfig struct {
	BackgroundTolerance int `yaml:"background_tolerance"`
	MergeHeight         int `yaml:"merge_height"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		MediaRoot:  "media",
		Log:        LogConfig{Level: "info", File: "app.log", Format: "text"},
		Ark: ArkConfig{
			BaseURL:    "https://ark.cn-beijing.volces.com",
			Region:     "cn-beijing",
			ChatModel:  "ep-20250220181854-c8s82",
			ImageModel: "doubao-seedream-4.0",
			ImageSize:  "1024x1024",
			Timeout:    60 * time.Second,
		},
		OpenAI: OpenAIConfig{
			ChatModel:  "gpt-4o-mini",
			ImageModel: "dall-e-3",
			ImageSize:  "1024x1024",
		},
		Backends: BackendConfig{
			Story:      StoryBackendArk,
			Image:      ImageBackendSeedream,
			Transcribe: TranscribeBackendOpenAI,
		},
		Limits: LimitConfig{
			ImageRequestInterval: 2 * time.Second,
			ImageBurst:           1,
			MaxConcurrentRuns:    2,
			ResultTTL:            time.Hour,
			MaxUploadBytes:       20 << 20,
		},
		Processor: ProcConfig{BackgroundTolerance: 48, MergeHeight: 512},
	}
}

// Load 读取配置文件（可选）并应用环境变量覆盖
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "LISTEN_ADDR")
	setString(&c.MediaRoot, "MEDIA_ROOT")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.File, "LOG_FILE")
	setString(&c.Ark.APIKey, "ARK_API_KEY")
	setString(&c.Ark.ChatModel, "ARK_CHAT_MODEL")
	setString(&c.Ark.ImageModel, "ARK_IMAGE_MODEL")
	setString(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&c.Backends.Story, "STORY_BACKEND")
	setString(&c.Backends.Image, "IMAGE_BACKEND")
	setString(&c.Backends.Transcribe, "TRANSCRIBE_BACKEND")
	if v, ok := os.LookupEnv("ARK_MOCK"); ok {
		v = strings.ToLower(v)
		c.Ark.Mock = v == "1" || v == "true"
	}
	if v, ok := os.LookupEnv("MAX_CONCURRENT_RUNS"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Limits.MaxConcurrentRuns = n
		}
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error
	if !oneOf(c.Backends.Story, StoryBackendArk, StoryBackendOpenAI, StoryBackendNone) {
		errs = append(errs, fmt.Errorf("unknown story backend %q", c.Backends.Story))
	}
	if !oneOf(c.Backends.Image, ImageBackendSeedream, ImageBackendOpenAI, ImageBackendNone) {
		errs = append(errs, fmt.Errorf("unknown image backend %q", c.Backends.Image))
	}
	if !oneOf(c.Backends.Transcribe, TranscribeBackendOpenAI, TranscribeBackendNone) {
		errs = append(errs, fmt.Errorf("unknown transcribe backend %q", c.Backends.Transcribe))
	}
	if c.Limits.MaxConcurrentRuns <= 0 {
		errs = append(errs, errors.New("limits.max_concurrent_runs must be positive"))
	}
	if c.Limits.ImageBurst <= 0 {
		errs = append(errs, errors.New("limits.image_burst must be positive"))
	}
	if c.Limits.ImageRequestInterval < 0 {
		errs = append(errs, errors.New("limits.image_request_interval must not be negative"))
	}
	if c.Processor.MergeHeight <= 0 {
		errs = append(errs, errors.New("processor.merge_height must be positive"))
	}
	return errors.Join(errs...)
}

func oneOf(v string, opts ...string) bool {
	for _, o := range opts {
		if v == o {
			return true
		}
	}
	return false
}
