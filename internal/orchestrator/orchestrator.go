package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"storyscene/internal/imagegen"
	"storyscene/internal/imageproc"
	"storyscene/internal/model"
	"storyscene/internal/session"
	"storyscene/internal/story"
)

// 缺省描述
const (
	DefaultCharacterDesc  = "A mysterious character"
	DefaultBackgroundDesc = "A mysterious location"
)

// 会话目录内的产物路径
var (
	storyFile              = filepath.Join(session.DirStory, "generated_story.txt")
	characterFile          = filepath.Join(session.DirImages, "character.png")
	backgroundFile         = filepath.Join(session.DirImages, "background.png")
	processedCharacterFile = filepath.Join(session.DirProcessed, "character_no_bg.png")
	finalSceneFile         = filepath.Join(session.DirFinal, "final_scene.png")
	mergedFile             = filepath.Join(session.DirImages, "merged.png")
)

// Deps 外部组件，nil表示该组件不可用
type Deps struct {
	Story     story.Provider
	Images    imagegen.Provider
	Processor imageproc.Processor
}

// Orchestrator 故事流水线编排器。本身无单次运行状态，可被多个请求并发使用
type Orchestrator struct {
	store *session.Store
	deps  Deps
	now   func() time.Time
	log   *logrus.Entry
}

// Option 编排器选项
type Option func(*Orchestrator)

// WithClock 替换时间源
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New 创建编排器
func New(store *session.Store, deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store: store,
		deps:  deps,
		now:   time.Now,
		log:   logrus.WithField("component", "orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Availability 各组件是否可用
func (o *Orchestrator) Availability() map[string]bool {
	return map[string]bool{
		"story":     o.deps.Story != nil,
		"image":     o.deps.Images != nil,
		"processor": o.deps.Processor != nil,
	}
}

// FullAI 全部组件可用
func (o *Orchestrator) FullAI() bool {
	return o.deps.Story != nil && o.deps.Images != nil && o.deps.Processor != nil
}

// Store 返回会话存储
func (o *Orchestrator) Store() *session.Store {
	return o.store
}

// CleanupSession 删除会话目录
func (o *Orchestrator) CleanupSession(sessionID string) error {
	if session.SanitizeID(sessionID) == "" {
		return model.Errorf(model.KindMissingInput, "session_id is required")
	}
	return o.store.Cleanup(sessionID)
}

// RunOption 单次运行选项
type RunOption func(*runOptions)

type runOptions struct {
	progress func(model.StepEvent)
}

// WithProgress 订阅步骤状态变化
func WithProgress(fn func(model.StepEvent)) RunOption {
	return func(o *runOptions) { o.progress = fn }
}

// run 单次调用的上下文，调用结束即丢弃
type run struct {
	ctx     context.Context
	op      model.Operation
	id      string
	dir     string
	start   time.Time
	tracker *tracker
	outputs model.OutputFiles
	results *model.Results
	log     *logrus.Entry
	now     func() time.Time
}

func (o *Orchestrator) newRun(ctx context.Context, op model.Operation, sessionID string, steps []model.Step, opts []RunOption) *run {
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}
	id := session.SanitizeID(sessionID)
	if id == "" {
		id = session.NewID()
	}
	log := o.log.WithFields(logrus.Fields{"session_id": id, "operation": op})
	return &run{
		ctx:     ctx,
		op:      op,
		id:      id,
		start:   o.now(),
		tracker: newTracker(steps, o.now, log, ro.progress),
		outputs: model.OutputFiles{},
		results: &model.Results{},
		log:     log,
		now:     o.now,
	}
}

// openSession 创建会话目录
func (o *Orchestrator) openSession(r *run) {
	r.dir = o.store.CreateSessionDirectory(r.id)
	r.log.WithField("dir", r.dir).Info("会话目录就绪")
}

func (r *run) path(rel string) string {
	return filepath.Join(r.dir, rel)
}

// step 执行一个步骤：先记录in_progress，再记录completed或failed。
// 调用方的context已取消时步骤直接失败，后续步骤不再执行。
func (r *run) step(step model.Step, fn func() (string, error)) error {
	r.tracker.record(step, model.StatusInProgress, "", "")
	if err := r.ctx.Err(); err != nil {
		err = model.NewError(model.KindProviderError, "run cancelled", err)
		r.tracker.record(step, model.StatusFailed, "", err.Error())
		return err
	}
	details, err := fn()
	if err != nil {
		r.tracker.record(step, model.StatusFailed, "", err.Error())
		return err
	}
	r.tracker.record(step, model.StatusCompleted, details, "")
	return nil
}

func (r *run) elapsed() float64 {
	return r.now().Sub(r.start).Seconds()
}

func (r *run) success() *model.Result {
	res := &model.Result{
		Status:           model.ResultSuccess,
		Operation:        r.op,
		SessionID:        r.id,
		TotalTimeSeconds: r.elapsed(),
		WorkflowStatus:   r.tracker.snapshot(),
		OutputFiles:      r.outputs.Clone(),
		Results:          r.results,
		SessionDirectory: r.dir,
		Timestamp:        r.now(),
	}
	r.log.WithField("elapsed", res.TotalTimeSeconds).Info("运行完成")
	return res
}

// fail 构造失败结果；完整流水线用error，局部入口用failed
func (r *run) fail(err error) *model.Result {
	status := model.ResultFailed
	if r.op == model.OpFull {
		status = model.ResultError
	}
	res := &model.Result{
		Status:           status,
		Operation:        r.op,
		SessionID:        r.id,
		Error:            err.Error(),
		ErrorKind:        model.KindOf(err),
		TotalTimeSeconds: r.elapsed(),
		WorkflowStatus:   r.tracker.snapshot(),
		OutputFiles:      r.outputs.Clone(),
		PartialResults:   r.outputs.Clone(),
		SessionDirectory: r.dir,
		Timestamp:        r.now(),
	}
	r.log.WithFields(logrus.Fields{"error": res.Error, "kind": res.ErrorKind}).Warn("运行失败")
	return res
}

// recoverInto 把组件panic转换为失败结果
func (r *run) recoverInto(res **model.Result) {
	p := recover()
	if p == nil {
		return
	}
	err := model.Errorf(model.KindProviderError, "unexpected failure: %v", p)
	if r.tracker.current != "" {
		r.tracker.record(r.tracker.current, model.StatusFailed, "", err.Error())
	}
	*res = r.fail(err)
}

func requirePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return model.Errorf(model.KindMissingInput, "prompt is required")
	}
	return nil
}

func unavailable(component string) error {
	return model.NewError(model.KindProviderUnavailable, component+" unavailable", model.ErrUnavailable)
}

func isUnavailable(err error) bool {
	return errors.Is(err, model.ErrUnavailable) || model.KindOf(err) == model.KindProviderUnavailable
}

// generateStory 调用故事组件并写入故事文件
func (o *Orchestrator) generateStory(ctx context.Context, r *run, prompt string, allowFallback bool) error {
	return r.step(model.StepStoryGeneration, func() (string, error) {
		var (
			res model.StoryResult
			err error
		)
		if o.deps.Story == nil {
			err = unavailable("story provider")
		} else {
			res, err = o.deps.Story.Generate(ctx, prompt)
		}
		if err != nil {
			if !allowFallback || !isUnavailable(err) {
				return "", err
			}
			r.log.WithError(err).Warn("故事组件不可用，使用模板故事")
			res = story.Fallback(prompt)
		}
		if strings.TrimSpace(res.Content) == "" {
			return "", model.Errorf(model.KindProviderError, "story provider returned empty content")
		}

		path := r.path(storyFile)
		if err := story.WriteTranscript(path, prompt, res); err != nil {
			return "", err
		}
		r.outputs[model.ArtifactStory] = path
		r.results.Story = &model.StorySection{
			Content:                res.Content,
			CharacterDescriptions:  res.CharacterDesc,
			BackgroundDescriptions: res.BackgroundDesc,
			FilePath:               path,
			IsFallback:             res.IsFallback,
		}
		if res.IsFallback {
			return fmt.Sprintf("Template story generated (%d characters)", len(res.Content)), nil
		}
		return fmt.Sprintf("Story generated (%d characters)", len(res.Content)), nil
	})
}

func (r *run) images() *model.ImageSection {
	if r.results.Images == nil {
		r.results.Images = &model.ImageSection{}
	}
	return r.results.Images
}

func entry(a model.ImageArtifact) *model.ImageEntry {
	return &model.ImageEntry{FilePath: a.OutputPath, Result: a}
}
