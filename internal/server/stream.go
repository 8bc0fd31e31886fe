package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"storyscene/internal/model"
	"storyscene/internal/orchestrator"
	"storyscene/internal/session"
)

// streamEvent SSE事件内容
type streamEvent struct {
	Type     string            `json:"type"` // status, complete, error
	Message  string            `json:"message,omitempty"`
	Step     model.Step        `json:"step,omitempty"`
	Progress int               `json:"progress"`
	Data     *GenerateResponse `json:"data,omitempty"`
}

// handleGenerateStream 以SSE推送步骤进度，结束时推送完整结果
func (s *Server) handleGenerateStream(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(model.KindMissingInput, "无效的请求格式"))
		return
	}
	op, ok := generationTypes[req.GenerationType]
	if !ok || op == model.OpMerge {
		c.JSON(http.StatusBadRequest, errorBody(model.KindMissingInput, "unsupported generation_type for streaming"))
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

	events := make(chan streamEvent, 16)
	go func() {
		defer s.runs.Release(1)
		defer close(events)

		send := func(ev streamEvent) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}
		send(streamEvent{Type: "status", Message: "Starting generation", Progress: 0})
		res := s.dispatch(ctx, op, req, orchestrator.WithProgress(func(e model.StepEvent) {
			msg := string(e.Step) + " " + string(e.Status)
			if e.Details != "" {
				msg = e.Details
			}
			send(streamEvent{Type: "status", Message: msg, Step: e.Step, Progress: e.Progress})
		}))
		s.registry.Put(res)
		resp := s.response(req, res, nil)
		if res.OK() {
			send(streamEvent{Type: "complete", Message: "Generation complete", Progress: 100, Data: &resp})
			return
		}
		send(streamEvent{Type: "error", Message: res.Error, Data: &resp})
	}()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("message", ev)
			return ev.Type == "status"
		case <-ctx.Done():
			return false
		}
	})
}
