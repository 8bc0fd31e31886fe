package story

import (
	"context"
	"fmt"
	"strings"

	"storyscene/internal/model"
)

// EnhancedTitle 润色后故事的标题
const EnhancedTitle = "Enhanced Story"

// EnhancePrompt 润色请求的提示词，附带原故事和两段描述
func EnhancePrompt(current model.StoryResult) string {
	var b strings.Builder
	b.WriteString("Enhance this story with more vivid details and descriptions.\n\n")
	fmt.Fprintf(&b, "Original story: %s\n\n", current.Content)
	fmt.Fprintf(&b, "Character information: %s\n", current.CharacterDesc)
	fmt.Fprintf(&b, "Setting information: %s\n\n", current.BackgroundDesc)
	b.WriteString("Please add:\n")
	b.WriteString("- More sensory details (sights, sounds, smells)\n")
	b.WriteString("- Deeper character motivations\n")
	b.WriteString("- Richer environmental descriptions\n")
	b.WriteString("- Enhanced dialogue and interactions\n")
	return b.String()
}

// Enhance 让故事组件重写一个更丰富的版本；模型没给出的描述沿用原描述
func Enhance(ctx context.Context, p Provider, current model.StoryResult) (model.StoryResult, error) {
	if strings.TrimSpace(current.Content) == "" {
		return model.StoryResult{}, model.Errorf(model.KindMissingInput, "story content is required")
	}
	res, err := p.Generate(ctx, EnhancePrompt(current))
	if err != nil {
		return model.StoryResult{}, err
	}
	if strings.TrimSpace(res.Content) == "" {
		return model.StoryResult{}, model.Errorf(model.KindProviderError, "story provider returned empty content")
	}
	if strings.TrimSpace(res.CharacterDesc) == "" {
		res.CharacterDesc = current.CharacterDesc
	}
	if strings.TrimSpace(res.BackgroundDesc) == "" {
		res.BackgroundDesc = current.BackgroundDesc
	}
	return res, nil
}
