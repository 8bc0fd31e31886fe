package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"storyscene/internal/imagegen"
	"storyscene/internal/model"
)

// ProcessUserRequest 运行完整流水线：故事 -> 角色图 -> 背景图 -> 抠图 -> 合成 -> 汇总。
// 任一步骤失败即中止后续步骤，已写入的产物保留在partial_results中。
func (o *Orchestrator) ProcessUserRequest(ctx context.Context, prompt, sessionID string, opts ...RunOption) (res *model.Result) {
	r := o.newRun(ctx, model.OpFull, sessionID, model.PipelineSteps, opts)
	defer r.recoverInto(&res)

	if err := requirePrompt(prompt); err != nil {
		return r.fail(err)
	}
	prompt = strings.TrimSpace(prompt)
	o.openSession(r)

	if err := o.generateStory(ctx, r, prompt, false); err != nil {
		return r.fail(err)
	}
	characterDesc := orDefault(r.results.Story.CharacterDescriptions, DefaultCharacterDesc)
	backgroundDesc := orDefault(r.results.Story.BackgroundDescriptions, DefaultBackgroundDesc)

	if err := o.generateImage(ctx, r, imagegen.KindCharacter, characterDesc, false); err != nil {
		return r.fail(err)
	}
	if err := o.generateImage(ctx, r, imagegen.KindBackground, backgroundDesc, false); err != nil {
		return r.fail(err)
	}

	err := r.step(model.StepCharacterProcessing, func() (string, error) {
		if o.deps.Processor == nil {
			return "", unavailable("image processor")
		}
		out := r.path(processedCharacterFile)
		a, err := o.deps.Processor.RemoveBackground(ctx, r.outputs[model.ArtifactCharacterImage], out)
		if err != nil {
			return "", err
		}
		r.outputs[model.ArtifactProcessedCharacter] = out
		r.images().ProcessedCharacter = entry(a)
		return "Background removed from character image", nil
	})
	if err != nil {
		return r.fail(err)
	}

	err = r.step(model.StepSceneCompositing, func() (string, error) {
		out := r.path(finalSceneFile)
		a, err := o.deps.Processor.Composite(ctx, r.outputs[model.ArtifactProcessedCharacter], r.outputs[model.ArtifactBackgroundImage], out)
		if err != nil {
			return "", err
		}
		r.outputs[model.ArtifactFinalScene] = out
		r.images().FinalScene = entry(a)
		return "Character composited onto background", nil
	})
	if err != nil {
		return r.fail(err)
	}

	err = r.step(model.StepResultCompilation, func() (string, error) {
		return fmt.Sprintf("Compiled %d artifacts", len(r.outputs)), nil
	})
	if err != nil {
		return r.fail(err)
	}
	return r.success()
}

// generateImage 生成角色或背景图；allowPlaceholder为true时组件不可用写入文本占位文件
func (o *Orchestrator) generateImage(ctx context.Context, r *run, kind imagegen.Kind, description string, allowPlaceholder bool) error {
	step, rel, artifact := model.StepCharacterGeneration, characterFile, model.ArtifactCharacterImage
	if kind == imagegen.KindBackground {
		step, rel, artifact = model.StepBackgroundGeneration, backgroundFile, model.ArtifactBackgroundImage
	}

	return r.step(step, func() (string, error) {
		out := r.path(rel)
		var (
			a   model.ImageArtifact
			err error
		)
		switch {
		case o.deps.Images == nil:
			err = unavailable("image provider")
		case kind == imagegen.KindCharacter:
			a, err = o.deps.Images.GenerateCharacter(ctx, description, out)
		default:
			a, err = o.deps.Images.GenerateBackground(ctx, description, out)
		}
		if err != nil {
			if !allowPlaceholder || !isUnavailable(err) {
				return "", err
			}
			r.log.WithError(err).Warn("图片组件不可用，写入占位文件")
			if a, err = imagegen.WritePlaceholder(out, kind, description); err != nil {
				return "", err
			}
		}
		if a.OutputPath == "" {
			a.OutputPath = out
		}
		r.outputs[artifact] = a.OutputPath
		if kind == imagegen.KindCharacter {
			r.images().Character = entry(a)
		} else {
			r.images().Background = entry(a)
		}
		if a.IsPlaceholder {
			return fmt.Sprintf("Placeholder written for %s image", kind), nil
		}
		return fmt.Sprintf("Generated %s image", kind), nil
	})
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
