package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"storyscene/internal/imageproc"
	"storyscene/internal/model"
	"storyscene/internal/session"
	"storyscene/internal/story"
)

// adjustableFiles 可调整的产物及其在会话目录内的路径
var adjustableFiles = map[string]string{
	model.ArtifactCharacterImage:     characterFile,
	model.ArtifactBackgroundImage:    backgroundFile,
	model.ArtifactProcessedCharacter: processedCharacterFile,
	model.ArtifactFinalScene:         finalSceneFile,
	model.ArtifactMergedImage:        mergedFile,
}

// EnhanceStory 润色会话中已生成的故事，并用润色结果覆盖故事文件。
// 没有模板兜底：故事组件不可用时直接失败。
func (o *Orchestrator) EnhanceStory(ctx context.Context, sessionID string, opts ...RunOption) (res *model.Result) {
	r := o.newRun(ctx, model.OpEnhance, sessionID, []model.Step{model.StepStoryEnhancement}, opts)
	defer r.recoverInto(&res)

	if err := o.attachSession(r, sessionID); err != nil {
		return r.fail(err)
	}
	if o.deps.Story == nil {
		return r.fail(unavailable("story provider"))
	}

	err := r.step(model.StepStoryEnhancement, func() (string, error) {
		path := r.path(storyFile)
		raw, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", model.Errorf(model.KindNotFound, "no story in session %s", r.id)
			}
			return "", model.NewError(model.KindIO, "read story file", err)
		}
		sections := story.ParseTranscript(string(raw))
		enhanced, err := story.Enhance(ctx, o.deps.Story, model.StoryResult{
			Content:        sections["Generated Story"],
			CharacterDesc:  sections["Character Descriptions"],
			BackgroundDesc: sections["Background Descriptions"],
		})
		if err != nil {
			return "", err
		}
		if err := story.WriteTranscript(path, sections["User Prompt"], enhanced); err != nil {
			return "", err
		}
		r.outputs[model.ArtifactStory] = path
		r.results.Story = &model.StorySection{
			Content:                enhanced.Content,
			CharacterDescriptions:  enhanced.CharacterDesc,
			BackgroundDescriptions: enhanced.BackgroundDesc,
			FilePath:               path,
		}
		return fmt.Sprintf("Story enhanced (%d characters)", len(enhanced.Content)), nil
	})
	if err != nil {
		return r.fail(err)
	}
	return r.success()
}

// AdjustImage 调整会话中某张图片的亮度、对比度和饱和度，
// 结果写入 processed/<artifact>_adjusted.png，原图不变。
func (o *Orchestrator) AdjustImage(ctx context.Context, sessionID, artifact string, adj imageproc.Adjustment, opts ...RunOption) (res *model.Result) {
	r := o.newRun(ctx, model.OpAdjust, sessionID, []model.Step{model.StepImageAdjustment}, opts)
	defer r.recoverInto(&res)

	rel, ok := adjustableFiles[artifact]
	if !ok {
		return r.fail(model.Errorf(model.KindMissingInput, "unknown image artifact %q", artifact))
	}
	if err := adj.Validate(); err != nil {
		return r.fail(err)
	}
	if o.deps.Processor == nil {
		return r.fail(unavailable("image processor"))
	}
	if err := o.attachSession(r, sessionID); err != nil {
		return r.fail(err)
	}

	err := r.step(model.StepImageAdjustment, func() (string, error) {
		out := r.path(filepath.Join(session.DirProcessed, artifact+"_adjusted.png"))
		a, err := o.deps.Processor.Adjust(ctx, r.path(rel), out, adj)
		if err != nil {
			return "", err
		}
		r.outputs[model.ArtifactAdjustedImage] = out
		r.images().Adjusted = entry(a)
		return fmt.Sprintf("Adjusted %s (%s)", artifact, adj), nil
	})
	if err != nil {
		return r.fail(err)
	}
	return r.success()
}

// attachSession 绑定已存在的会话目录，不创建新目录
func (o *Orchestrator) attachSession(r *run, sessionID string) error {
	if session.SanitizeID(sessionID) == "" {
		return model.Errorf(model.KindMissingInput, "session_id is required")
	}
	dir, err := o.store.SessionPath(r.id)
	if err != nil {
		return model.NewError(model.KindIO, "resolve session directory", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return model.Errorf(model.KindNotFound, "session not found: %s", r.id)
	}
	r.dir = dir
	return nil
}
