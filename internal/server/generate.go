package server

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"storyscene/internal/model"
	"storyscene/internal/orchestrator"
	"storyscene/internal/session"
	"storyscene/internal/story"
	"storyscene/internal/transcribe"
)

// GenerateRequest 生成请求，支持JSON和multipart表单
type GenerateRequest struct {
	PromptText     string `json:"prompt_text" form:"prompt_text"`
	SessionID      string `json:"session_id" form:"session_id"`
	GenerationType string `json:"generation_type" form:"generation_type"`
	Image1Path     string `json:"image1_path" form:"image1_path"`
	Image2Path     string `json:"image2_path" form:"image2_path"`
}

// GenerateResponse 生成响应
type GenerateResponse struct {
	Success    bool                   `json:"success"`
	SessionID  string                 `json:"session_id"`
	Title      string                 `json:"title,omitempty"`
	Transcript *transcribe.Transcript `json:"transcript,omitempty"`
	ImageURLs  map[string]string      `json:"image_urls"`
	Result     *model.Result          `json:"result"`
}

var generationTypes = map[string]model.Operation{
	"":           model.OpFull,
	"full":       model.OpFull,
	"story":      model.OpStory,
	"character":  model.OpCharacter,
	"background": model.OpBackground,
	"merge":      model.OpMerge,
}

// handleGenerate 处理生成请求
func (s *Server) handleGenerate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(model.KindMissingInput, "无效的请求格式"))
		return
	}
	op, ok := generationTypes[req.GenerationType]
	if !ok {
		c.JSON(http.StatusBadRequest, errorBody(model.KindMissingInput, fmt.Sprintf("unknown generation_type %q", req.GenerationType)))
		return
	}
	req.SessionID = session.SanitizeID(req.SessionID)
	if req.SessionID == "" {
		req.SessionID = session.NewID()
	}

	ctx := c.Request.Context()
	if err := s.runs.Acquire(ctx, 1); err != nil {
		c.JSON(http.StatusServiceUnavailable, errorBody(model.KindProviderUnavailable, "server busy"))
		return
	}
	defer s.runs.Release(1)

	transcript, err := s.prepareInputs(c, &req)
	if err != nil {
		c.JSON(statusForError(err), errorBody(model.KindOf(err), err.Error()))
		return
	}

	res := s.dispatch(ctx, op, req)
	s.registry.Put(res)
	c.JSON(httpStatus(res), s.response(req, res, transcript))
}

// prepareInputs 保存上传文件，转写音频并合并到提示词
func (s *Server) prepareInputs(c *gin.Context, req *GenerateRequest) (*transcribe.Transcript, error) {
	for _, field := range []string{"image1", "image2"} {
		fh, err := c.FormFile(field)
		if err != nil {
			continue
		}
		path, err := s.saveUpload(c, req.SessionID, field, fh)
		if err != nil {
			return nil, err
		}
		if field == "image1" {
			req.Image1Path = path
		} else {
			req.Image2Path = path
		}
	}
	for _, p := range []string{req.Image1Path, req.Image2Path} {
		if p != "" && s.store.MediaURL(p) == "" {
			return nil, model.Errorf(model.KindNotFound, "image path must be inside the media directory: %s", p)
		}
	}

	fh, err := c.FormFile("audio")
	if err != nil {
		return nil, nil
	}
	if s.transcriber == nil {
		return nil, model.NewError(model.KindProviderUnavailable, "transcriber unavailable", model.ErrUnavailable)
	}
	path, err := s.saveUpload(c, req.SessionID, "audio", fh)
	if err != nil {
		return nil, err
	}
	t, err := s.transcriber.Transcribe(c.Request.Context(), path)
	if err != nil {
		return nil, err
	}
	req.PromptText = transcribe.MergePrompt(req.PromptText, t.Text)
	return &t, nil
}

func (s *Server) saveUpload(c *gin.Context, sessionID, name string, fh *multipart.FileHeader) (string, error) {
	if fh.Size > s.maxUpload {
		return "", model.Errorf(model.KindMissingInput, "%s exceeds upload limit", name)
	}
	dir := filepath.Join(s.store.CreateSessionDirectory(sessionID), session.DirUploads)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", model.NewError(model.KindIO, "create upload directory", err)
	}
	path := filepath.Join(dir, name+strings.ToLower(filepath.Ext(fh.Filename)))
	if err := c.SaveUploadedFile(fh, path); err != nil {
		return "", model.NewError(model.KindIO, "save upload "+name, err)
	}
	return path, nil
}

func (s *Server) dispatch(ctx context.Context, op model.Operation, req GenerateRequest, opts ...orchestrator.RunOption) *model.Result {
	switch op {
	case model.OpStory:
		return s.orch.GenerateStoryOnly(ctx, req.PromptText, req.SessionID, opts...)
	case model.OpCharacter:
		return s.orch.GenerateCharacterOnly(ctx, req.PromptText, req.SessionID, opts...)
	case model.OpBackground:
		return s.orch.GenerateBackgroundOnly(ctx, req.PromptText, req.SessionID, opts...)
	case model.OpMerge:
		return s.orch.MergeImagesOnly(ctx, req.PromptText, req.SessionID, req.Image1Path, req.Image2Path, opts...)
	default:
		return s.orch.ProcessUserRequest(ctx, req.PromptText, req.SessionID, opts...)
	}
}

func (s *Server) response(req GenerateRequest, res *model.Result, t *transcribe.Transcript) GenerateResponse {
	resp := GenerateResponse{
		Success:    res.OK(),
		SessionID:  res.SessionID,
		Transcript: t,
		ImageURLs:  s.imageURLs(res.OutputFiles),
		Result:     res,
	}
	if strings.TrimSpace(req.PromptText) != "" {
		resp.Title = story.Title(req.PromptText)
	}
	return resp
}

// imageURLs 产物路径转换为 /media 下的URL
func (s *Server) imageURLs(files model.OutputFiles) map[string]string {
	urls := make(map[string]string, len(files))
	for name, path := range files {
		if u := s.store.MediaURL(path); u != "" {
			urls[name] = u
		}
	}
	return urls
}

func statusForError(err error) int {
	switch model.KindOf(err) {
	case model.KindMissingInput, model.KindNotFound:
		return http.StatusBadRequest
	case model.KindProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
