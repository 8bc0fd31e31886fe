package server

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yuin/goldmark"

	"storyscene/internal/imageproc"
	"storyscene/internal/model"
	"storyscene/internal/session"
	"storyscene/internal/story"
)

// sessionParam 取路径中的会话ID，按存储同样的规则清洗
func sessionParam(c *gin.Context) (string, bool) {
	id := session.SanitizeID(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, errorBody(model.KindMissingInput, "session_id is required"))
		return "", false
	}
	return id, true
}

// handleGetSession 返回最近一次运行结果
func (s *Server) handleGetSession(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	res, ok := s.registry.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, errorBody(model.KindNotFound, "session not found"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    res.OK(),
		"session_id": res.SessionID,
		"image_urls": s.imageURLs(res.OutputFiles),
		"result":     res,
	})
}

// handleDeleteSession 清理会话目录和结果
func (s *Server) handleDeleteSession(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	if err := s.orch.CleanupSession(id); err != nil {
		c.JSON(statusForError(err), errorBody(model.KindOf(err), err.Error()))
		return
	}
	s.registry.Delete(id)
	c.JSON(http.StatusOK, gin.H{"success": true, "session_id": id})
}

// handleStoryHTML 把故事文件渲染为HTML
func (s *Server) handleStoryHTML(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	path, err := s.storyPath(id)
	if err != nil {
		c.JSON(http.StatusNotFound, errorBody(model.KindNotFound, err.Error()))
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.JSON(http.StatusNotFound, errorBody(model.KindNotFound, "story not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, errorBody(model.KindIO, err.Error()))
		return
	}

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(storyMarkdown(string(raw))), &buf); err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(model.KindIO, err.Error()))
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) storyPath(id string) (string, error) {
	if res, ok := s.registry.Get(id); ok {
		if p := res.OutputFiles[model.ArtifactStory]; p != "" {
			return p, nil
		}
	}
	dir, err := s.store.SessionPath(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, session.DirStory, "generated_story.txt"), nil
}

// storyMarkdown 故事文件转为markdown
func storyMarkdown(text string) string {
	sections := story.ParseTranscript(text)
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", story.Title(sections["User Prompt"]))
	fmt.Fprintf(&b, "%s\n\n", sections["Generated Story"])
	if v := sections["Character Descriptions"]; v != "" {
		fmt.Fprintf(&b, "## Character\n\n%s\n\n", v)
	}
	if v := sections["Background Descriptions"]; v != "" {
		fmt.Fprintf(&b, "## Setting\n\n%s\n", v)
	}
	return b.String()
}

// handleThumbnail 生成产物缩略图
func (s *Server) handleThumbnail(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	res, ok := s.registry.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, errorBody(model.KindNotFound, "session not found"))
		return
	}
	path := res.OutputFiles[c.Param("artifact")]
	if path == "" || !strings.EqualFold(filepath.Ext(path), ".png") {
		c.JSON(http.StatusNotFound, errorBody(model.KindNotFound, "image artifact not found"))
		return
	}
	data, err := imageproc.Thumbnail(path, imageproc.ThumbnailSize)
	if err != nil {
		c.JSON(statusForError(err), errorBody(model.KindOf(err), err.Error()))
		return
	}
	c.Data(http.StatusOK, "image/png", data)
}
