package orchestrator

import (
	"time"

	"github.com/sirupsen/logrus"

	"storyscene/internal/model"
)

// tracker 单次运行的步骤状态记录器，只用于观测，不参与流程决策
type tracker struct {
	status   *model.WorkflowStatus
	steps    []model.Step
	current  model.Step
	now      func() time.Time
	log      *logrus.Entry
	progress func(model.StepEvent)
}

func newTracker(steps []model.Step, now func() time.Time, log *logrus.Entry, progress func(model.StepEvent)) *tracker {
	return &tracker{
		status:   model.NewWorkflowStatus(),
		steps:    steps,
		now:      now,
		log:      log,
		progress: progress,
	}
}

// record 写入步骤记录，每次都刷新时间戳
func (t *tracker) record(step model.Step, status model.StepStatus, details, errMsg string) {
	t.status.Set(step, model.StepRecord{
		Status:    status,
		Timestamp: t.now(),
		Details:   details,
		Error:     errMsg,
	})
	if status == model.StatusInProgress {
		t.current = step
	} else if t.current == step {
		t.current = ""
	}

	entry := t.log.WithFields(logrus.Fields{"step": step, "status": status})
	switch status {
	case model.StatusFailed:
		entry.WithField("error", errMsg).Error("步骤失败")
	case model.StatusCompleted:
		entry.Info(details)
	default:
		entry.Info("步骤开始")
	}

	if t.progress != nil {
		t.progress(model.StepEvent{
			Step:     step,
			Status:   status,
			Details:  details,
			Error:    errMsg,
			Progress: t.percent(step, status),
		})
	}
}

func (t *tracker) percent(step model.Step, status model.StepStatus) int {
	n := len(t.steps)
	if n == 0 {
		return 0
	}
	for i, s := range t.steps {
		if s != step {
			continue
		}
		if status == model.StatusCompleted {
			return (i + 1) * 100 / n
		}
		return i * 100 / n
	}
	return 0
}

// snapshot 返回状态表副本
func (t *tracker) snapshot() *model.WorkflowStatus {
	return t.status.Clone()
}
