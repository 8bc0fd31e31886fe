package server

import (
	"context"
	"fmt"
	"net/http"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/gin-gonic/gin"

	"storyscene/internal/model"
	"storyscene/internal/session"
)

// handleTranscribe 单独转写上传的音频
func (s *Server) handleTranscribe(c *gin.Context) {
	if s.transcriber == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody(model.KindProviderUnavailable, "transcriber unavailable"))
		return
	}
	fh, err := c.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(model.KindMissingInput, "audio file is required"))
		return
	}
	id := session.SanitizeID(c.PostForm("session_id"))
	if id == "" {
		id = session.NewID()
	}
	path, err := s.saveUpload(c, id, "audio", fh)
	if err != nil {
		c.JSON(statusForError(err), errorBody(model.KindOf(err), err.Error()))
		return
	}
	t, err := s.transcriber.Transcribe(c.Request.Context(), path)
	if err != nil {
		c.JSON(statusForError(err), errorBody(model.KindOf(err), err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session_id": id, "transcript": t})
}

// handleTool 直接调用eino工具，请求体即工具参数
func (s *Server) handleTool(run func(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil || len(body) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求格式"})
			return
		}
		result, err := run(c.Request.Context(), string(body))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("工具调用失败: %v", err)})
			return
		}
		c.Data(http.StatusOK, "application/json", []byte(result))
	}
}
