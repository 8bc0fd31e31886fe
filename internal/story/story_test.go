package story

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyscene/internal/model"
	"storyscene/internal/volc"
)

type fakeChatModel struct {
	content string
	err     error
	got     []*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.got = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.content, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func TestParseStory(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    model.StoryResult
		wantErr bool
	}{
		{
			name: "plain json",
			raw:  `{"story":"Once.","character_description":"A fox","background_description":"A forest"}`,
			want: model.StoryResult{Content: "Once.", CharacterDesc: "A fox", BackgroundDesc: "A forest"},
		},
		{
			name: "fenced json",
			raw:  "```json\n{\"story\":\" Once. \",\"character_description\":\"A fox\",\"background_description\":\"A forest\"}\n```",
			want: model.StoryResult{Content: "Once.", CharacterDesc: "A fox", BackgroundDesc: "A forest"},
		},
		{
			name: "json with chatter",
			raw:  "Here you go: {\"story\":\"Once.\",\"character_description\":\"\",\"background_description\":\"\"} Enjoy!",
			want: model.StoryResult{Content: "Once."},
		},
		{
			name: "free text",
			raw:  "Once upon a time there was a fox.",
			want: model.StoryResult{Content: "Once upon a time there was a fox."},
		},
		{name: "empty", raw: "   ", wantErr: true},
		{name: "json without story", raw: `{"story":"","character_description":"x"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseStory(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFallbackInterpolatesPrompt(t *testing.T) {
	res := Fallback("  a lighthouse keeper ")
	assert.True(t, res.IsFallback)
	assert.Equal(t, "template", res.Provider)
	assert.True(t, strings.HasPrefix(res.Content, "Once upon a time, in a world not so different from our own, there lived a brave soul who discovered a lighthouse keeper."))
	assert.Contains(t, res.CharacterDesc, "a lighthouse keeper")
	assert.Contains(t, res.BackgroundDesc, "a lighthouse keeper unfolds")
}

func TestTranscriptRoundTrip(t *testing.T) {
	res := model.StoryResult{Content: "The story.", CharacterDesc: "A fox", BackgroundDesc: "A forest"}
	path := filepath.Join(t.TempDir(), "story", "generated_story.txt")
	require.NoError(t, WriteTranscript(path, "a fox in a forest", res))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(b)

	labels := []string{"User Prompt:", "Generated Story:", "Character Descriptions:", "Background Descriptions:"}
	last := -1
	for _, l := range labels {
		idx := strings.Index(text, l)
		require.GreaterOrEqual(t, idx, 0, l)
		assert.Greater(t, idx, last, "%s out of order", l)
		last = idx
	}

	sections := ParseTranscript(text)
	assert.Equal(t, "a fox in a forest", sections["User Prompt"])
	assert.Equal(t, "The story.", sections["Generated Story"])
	assert.Equal(t, "A fox", sections["Character Descriptions"])
	assert.Equal(t, "A forest", sections["Background Descriptions"])
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Story: short", Title("short"))
	long := strings.Repeat("x", 60)
	assert.Equal(t, "Story: "+strings.Repeat("x", 50)+"...", Title(long))
}

func TestChatProviderRunsTemplateThroughModel(t *testing.T) {
	cm := &fakeChatModel{content: `{"story":"Once.","character_description":"A fox","background_description":"A forest"}`}
	p, err := NewChatProvider(context.Background(), "fake", cm)
	require.NoError(t, err)

	res, err := p.Generate(context.Background(), "a curious fox")
	require.NoError(t, err)
	assert.Equal(t, "Once.", res.Content)
	assert.Equal(t, "fake", res.Provider)

	require.Len(t, cm.got, 2)
	assert.Equal(t, schema.System, cm.got[0].Role)
	assert.Contains(t, cm.got[0].Content, `"character_description"`)
	assert.Equal(t, schema.User, cm.got[1].Role)
	assert.Equal(t, "Story idea: a curious fox", cm.got[1].Content)
}

func TestChatProviderPropagatesModelError(t *testing.T) {
	p, err := NewChatProvider(context.Background(), "fake", &fakeChatModel{err: errors.New("quota exceeded")})
	require.NoError(t, err)
	_, err = p.Generate(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestClientProviderMock(t *testing.T) {
	p := NewClientProvider(volc.NewArkClient(volc.Options{Mock: true}), "any")
	res, err := p.Generate(context.Background(), "a dragon")
	require.NoError(t, err)
	assert.Contains(t, res.Content, "a dragon")
	assert.NotEmpty(t, res.CharacterDesc)
	assert.NotEmpty(t, res.BackgroundDesc)
}

func TestProvidersRequireKeys(t *testing.T) {
	_, err := NewArkProvider(context.Background(), ArkConfig{})
	assert.ErrorIs(t, err, model.ErrUnavailable)
	_, err = NewOpenAIProvider(OpenAIConfig{})
	assert.ErrorIs(t, err, model.ErrUnavailable)
}

type recordingProvider struct {
	prompt string
	res    model.StoryResult
	err    error
}

func (r *recordingProvider) Generate(ctx context.Context, prompt string) (model.StoryResult, error) {
	r.prompt = prompt
	return r.res, r.err
}

func TestEnhance(t *testing.T) {
	current := model.StoryResult{Content: "A fox found a lantern.", CharacterDesc: "A red fox", BackgroundDesc: "A forest"}

	p := &recordingProvider{res: model.StoryResult{Content: "A richer tale.", BackgroundDesc: "A misty forest"}}
	got, err := Enhance(context.Background(), p, current)
	require.NoError(t, err)
	assert.Equal(t, "A richer tale.", got.Content)
	assert.Equal(t, "A red fox", got.CharacterDesc)
	assert.Equal(t, "A misty forest", got.BackgroundDesc)
	assert.Contains(t, p.prompt, "Original story: A fox found a lantern.")
	assert.Contains(t, p.prompt, "Character information: A red fox")

	_, err = Enhance(context.Background(), p, model.StoryResult{})
	assert.Equal(t, model.KindMissingInput, model.KindOf(err))

	_, err = Enhance(context.Background(), &recordingProvider{}, current)
	assert.Equal(t, model.KindProviderError, model.KindOf(err))

	boom := errors.New("boom")
	_, err = Enhance(context.Background(), &recordingProvider{err: boom}, current)
	assert.ErrorIs(t, err, boom)
}
