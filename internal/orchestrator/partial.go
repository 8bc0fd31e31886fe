package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"storyscene/internal/imagegen"
	"storyscene/internal/model"
)

// GenerateStoryOnly 只生成故事；故事组件不可用时使用模板故事
func (o *Orchestrator) GenerateStoryOnly(ctx context.Context, prompt, sessionID string, opts ...RunOption) (res *model.Result) {
	r := o.newRun(ctx, model.OpStory, sessionID, []model.Step{model.StepStoryGeneration}, opts)
	defer r.recoverInto(&res)

	if err := requirePrompt(prompt); err != nil {
		return r.fail(err)
	}
	o.openSession(r)
	if err := o.generateStory(ctx, r, strings.TrimSpace(prompt), true); err != nil {
		return r.fail(err)
	}
	return r.success()
}

// GenerateCharacterOnly 只生成角色图；图片组件不可用时写入占位文件
func (o *Orchestrator) GenerateCharacterOnly(ctx context.Context, prompt, sessionID string, opts ...RunOption) *model.Result {
	return o.imageOnly(ctx, model.OpCharacter, imagegen.KindCharacter, prompt, sessionID, opts)
}

// GenerateBackgroundOnly 只生成背景图；图片组件不可用时写入占位文件
func (o *Orchestrator) GenerateBackgroundOnly(ctx context.Context, prompt, sessionID string, opts ...RunOption) *model.Result {
	return o.imageOnly(ctx, model.OpBackground, imagegen.KindBackground, prompt, sessionID, opts)
}

func (o *Orchestrator) imageOnly(ctx context.Context, op model.Operation, kind imagegen.Kind, prompt, sessionID string, opts []RunOption) (res *model.Result) {
	step := model.StepCharacterGeneration
	if kind == imagegen.KindBackground {
		step = model.StepBackgroundGeneration
	}
	r := o.newRun(ctx, op, sessionID, []model.Step{step}, opts)
	defer r.recoverInto(&res)

	if err := requirePrompt(prompt); err != nil {
		return r.fail(err)
	}
	o.openSession(r)
	if err := o.generateImage(ctx, r, kind, strings.TrimSpace(prompt), true); err != nil {
		return r.fail(err)
	}
	return r.success()
}

// MergeImagesOnly 把两张已有图片缩放到同一高度后左右拼接到 images/merged.png。
// 输入路径在创建会话目录之前校验，缺失时直接失败。
func (o *Orchestrator) MergeImagesOnly(ctx context.Context, prompt, sessionID, image1Path, image2Path string, opts ...RunOption) (res *model.Result) {
	r := o.newRun(ctx, model.OpMerge, sessionID, []model.Step{model.StepImageMerge}, opts)
	defer r.recoverInto(&res)

	if err := checkInputImage("image1_path", image1Path); err != nil {
		return r.fail(err)
	}
	if err := checkInputImage("image2_path", image2Path); err != nil {
		return r.fail(err)
	}
	if o.deps.Processor == nil {
		return r.fail(unavailable("image processor"))
	}

	o.openSession(r)
	err := r.step(model.StepImageMerge, func() (string, error) {
		out := r.path(mergedFile)
		a, err := o.deps.Processor.MergeSideBySide(ctx, image1Path, image2Path, out)
		if err != nil {
			return "", err
		}
		if p := strings.TrimSpace(prompt); p != "" {
			if a.Details == nil {
				a.Details = map[string]any{}
			}
			a.Details["prompt"] = p
		}
		r.outputs[model.ArtifactMergedImage] = out
		r.images().Merged = entry(a)
		return fmt.Sprintf("Merged images into %dx%d", a.Width, a.Height), nil
	})
	if err != nil {
		return r.fail(err)
	}
	return r.success()
}

func checkInputImage(name, path string) error {
	if strings.TrimSpace(path) == "" {
		return model.Errorf(model.KindMissingInput, "%s is required", name)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.Errorf(model.KindNotFound, "%s does not exist: %s", name, path)
		}
		return model.NewError(model.KindIO, "stat "+name, err)
	}
	if info.IsDir() {
		return model.Errorf(model.KindNotFound, "%s is a directory: %s", name, path)
	}
	return nil
}
