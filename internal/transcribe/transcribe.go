package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"storyscene/internal/model"
)

// Transcript 语音转写结果
type Transcript struct {
	Text            string  `json:"text"`
	Language        string  `json:"language,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// Transcriber 语音转文字接口
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (Transcript, error)
}

// WhisperTranscriber 基于OpenAI Whisper的转写实现
type WhisperTranscriber struct {
	client *openai.Client
	log    *logrus.Entry
}

// NewWhisper 创建Whisper转写器
func NewWhisper(apiKey, baseURL string) (*WhisperTranscriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key: %w", model.ErrUnavailable)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &WhisperTranscriber{
		client: openai.NewClientWithConfig(cfg),
		log:    logrus.WithField("component", "transcriber"),
	}, nil
}

// Transcribe 转写音频文件
func (t *WhisperTranscriber) Transcribe(ctx context.Context, audioPath string) (Transcript, error) {
	if _, err := os.Stat(audioPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Transcript{}, model.Errorf(model.KindNotFound, "audio file not found: %s", audioPath)
		}
		return Transcript{}, model.NewError(model.KindIO, "stat audio file", err)
	}
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return Transcript{}, fmt.Errorf("whisper transcription failed: %w", err)
	}
	out := Transcript{
		Text:            strings.TrimSpace(resp.Text),
		Language:        resp.Language,
		DurationSeconds: resp.Duration,
	}
	t.log.WithFields(logrus.Fields{"language": out.Language, "duration": out.DurationSeconds}).Info("语音转写完成")
	return out, nil
}

// MergePrompt 合并文本提示词和语音转写内容
func MergePrompt(prompt, transcript string) string {
	prompt = strings.TrimSpace(prompt)
	transcript = strings.TrimSpace(transcript)
	switch {
	case transcript == "":
		return prompt
	case prompt == "":
		return transcript
	default:
		return prompt + " " + transcript
	}
}

var _ Transcriber = (*WhisperTranscriber)(nil)
