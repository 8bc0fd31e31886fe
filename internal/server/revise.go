package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storyscene/internal/imageproc"
	"storyscene/internal/model"
	"storyscene/internal/story"
)

// AdjustRequest 图片调整请求，未给出的系数按1处理
type AdjustRequest struct {
	Artifact   string   `json:"artifact" binding:"required"`
	Brightness *float64 `json:"brightness"`
	Contrast   *float64 `json:"contrast"`
	Saturation *float64 `json:"saturation"`
}

func (r AdjustRequest) adjustment() imageproc.Adjustment {
	adj := imageproc.NoAdjustment()
	if r.Brightness != nil {
		adj.Brightness = *r.Brightness
	}
	if r.Contrast != nil {
		adj.Contrast = *r.Contrast
	}
	if r.Saturation != nil {
		adj.Saturation = *r.Saturation
	}
	return adj
}

// handleEnhance 润色会话故事
func (s *Server) handleEnhance(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	if err := s.runs.Acquire(c.Request.Context(), 1); err != nil {
		c.JSON(http.StatusServiceUnavailable, errorBody(model.KindProviderUnavailable, "server busy"))
		return
	}
	defer s.runs.Release(1)

	res := s.orch.EnhanceStory(c.Request.Context(), id)
	body := gin.H{
		"success":    res.OK(),
		"session_id": res.SessionID,
		"result":     res,
	}
	if res.OK() {
		body["title"] = story.EnhancedTitle
		body["story"] = res.Results.Story
	}
	c.JSON(httpStatus(res), body)
}

// handleAdjust 调整会话中的图片
func (s *Server) handleAdjust(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(model.KindMissingInput, "无效的请求格式"))
		return
	}

	res := s.orch.AdjustImage(c.Request.Context(), id, req.Artifact, req.adjustment())
	c.JSON(httpStatus(res), gin.H{
		"success":    res.OK(),
		"session_id": res.SessionID,
		"image_urls": s.imageURLs(res.OutputFiles),
		"result":     res,
	})
}
