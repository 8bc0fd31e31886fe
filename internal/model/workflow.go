package model

import (
	"encoding/json"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Step 流水线步骤名
type Step string

const (
	StepStoryGeneration      Step = "story_generation"
	StepCharacterGeneration  Step = "character_generation"
	StepBackgroundGeneration Step = "background_generation"
	StepCharacterProcessing  Step = "character_processing"
	StepSceneCompositing     Step = "scene_compositing"
	StepResultCompilation    Step = "result_compilation"
	StepImageMerge           Step = "image_merge"
	StepStoryEnhancement     Step = "story_enhancement"
	StepImageAdjustment      Step = "image_adjustment"
)

// PipelineSteps 完整流水线的固定步骤顺序
var PipelineSteps = []Step{
	StepStoryGeneration,
	StepCharacterGeneration,
	StepBackgroundGeneration,
	StepCharacterProcessing,
	StepSceneCompositing,
	StepResultCompilation,
}

// StepStatus 步骤状态
type StepStatus string

const (
	StatusInProgress StepStatus = "in_progress"
	StatusCompleted  StepStatus = "completed"
	StatusFailed     StepStatus = "failed"
)

// StepRecord 单个步骤的状态记录
type StepRecord struct {
	Status    StepStatus `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
	Details   string     `json:"details"`
	Error     string     `json:"error"`
}

// StepEvent 步骤状态变化事件，用于进度推送
type StepEvent struct {
	Step     Step       `json:"step"`
	Status   StepStatus `json:"status"`
	Details  string     `json:"details,omitempty"`
	Error    string     `json:"error,omitempty"`
	Progress int        `json:"progress"`
}

// WorkflowStatus 按插入顺序保存的步骤状态表
type WorkflowStatus struct {
	m *orderedmap.OrderedMap[string, StepRecord]
}

// NewWorkflowStatus 创建空的状态表
func NewWorkflowStatus() *WorkflowStatus {
	return &WorkflowStatus{m: orderedmap.New[string, StepRecord]()}
}

// Set 写入或覆盖步骤记录，已存在的步骤保持原有位置
func (w *WorkflowStatus) Set(step Step, rec StepRecord) {
	w.m.Set(string(step), rec)
}

// Get 读取步骤记录
func (w *WorkflowStatus) Get(step Step) (StepRecord, bool) {
	return w.m.Get(string(step))
}

// Steps 按插入顺序返回步骤名
func (w *WorkflowStatus) Steps() []Step {
	steps := make([]Step, 0, w.m.Len())
	for pair := w.m.Oldest(); pair != nil; pair = pair.Next() {
		steps = append(steps, Step(pair.Key))
	}
	return steps
}

func (w *WorkflowStatus) Len() int {
	return w.m.Len()
}

// Clone 返回独立副本
func (w *WorkflowStatus) Clone() *WorkflowStatus {
	c := NewWorkflowStatus()
	for pair := w.m.Oldest(); pair != nil; pair = pair.Next() {
		c.m.Set(pair.Key, pair.Value)
	}
	return c
}

func (w *WorkflowStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.m)
}

func (w *WorkflowStatus) UnmarshalJSON(data []byte) error {
	m := orderedmap.New[string, StepRecord]()
	if err := json.Unmarshal(data, m); err != nil {
		return err
	}
	w.m = m
	return nil
}
