package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyscene/internal/imageproc"
	"storyscene/internal/model"
	"storyscene/internal/session"
)

type fakeStory struct {
	res   model.StoryResult
	err   error
	panic bool
}

func (f *fakeStory) Generate(ctx context.Context, prompt string) (model.StoryResult, error) {
	if f.panic {
		panic("story backend crashed")
	}
	if f.err != nil {
		return model.StoryResult{}, f.err
	}
	return f.res, nil
}

type fakeImages struct {
	mu            sync.Mutex
	characterErr  error
	backgroundErr error
	descriptions  []string
}

func (f *fakeImages) GenerateCharacter(ctx context.Context, description, outputPath string) (model.ImageArtifact, error) {
	f.record(description)
	if f.characterErr != nil {
		return model.ImageArtifact{}, f.characterErr
	}
	img := image.NewNRGBA(image.Rect(0, 0, 200, 300))
	fill(img, img.Bounds(), color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	fill(img, image.Rect(50, 50, 150, 250), color.NRGBA{R: 255, A: 255})
	return writeArtifact(outputPath, img)
}

func (f *fakeImages) GenerateBackground(ctx context.Context, description, outputPath string) (model.ImageArtifact, error) {
	f.record(description)
	if f.backgroundErr != nil {
		return model.ImageArtifact{}, f.backgroundErr
	}
	img := image.NewNRGBA(image.Rect(0, 0, 800, 600))
	fill(img, img.Bounds(), color.NRGBA{B: 255, A: 255})
	return writeArtifact(outputPath, img)
}

func (f *fakeImages) record(d string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.descriptions = append(f.descriptions, d)
}

func fill(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
}

func writeArtifact(path string, img image.Image) (model.ImageArtifact, error) {
	if err := writePNGFile(path, img); err != nil {
		return model.ImageArtifact{}, err
	}
	b := img.Bounds()
	return model.ImageArtifact{Status: "success", OutputPath: path, Provider: "fake", Width: b.Dx(), Height: b.Dy()}, nil
}

func writePNGFile(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

var goodStory = model.StoryResult{
	Content:        "A fox found a lantern.",
	CharacterDesc:  "A small red fox",
	BackgroundDesc: "A moonlit forest",
	Provider:       "fake",
}

func newTestOrchestrator(t *testing.T, deps Deps) (*Orchestrator, string) {
	t.Helper()
	root := t.TempDir()
	return New(session.NewStore(root), deps), root
}

func fullDeps() Deps {
	return Deps{
		Story:     &fakeStory{res: goodStory},
		Images:    &fakeImages{},
		Processor: imageproc.NewLocal(imageproc.Options{}),
	}
}

func stepStatus(t *testing.T, res *model.Result, step model.Step) model.StepStatus {
	t.Helper()
	require.NotNil(t, res.WorkflowStatus)
	rec, ok := res.WorkflowStatus.Get(step)
	if !ok {
		return ""
	}
	return rec.Status
}

func TestProcessUserRequestSuccess(t *testing.T) {
	o, root := newTestOrchestrator(t, fullDeps())

	res := o.ProcessUserRequest(context.Background(), "a fox with a lantern", "session_ok")
	require.Equal(t, model.ResultSuccess, res.Status, res.Error)
	assert.Equal(t, "session_ok", res.SessionID)
	assert.Equal(t, filepath.Join(root, "sessions", "session_ok"), res.SessionDirectory)
	assert.Equal(t, model.PipelineSteps, res.WorkflowStatus.Steps())
	for _, step := range model.PipelineSteps {
		assert.Equal(t, model.StatusCompleted, stepStatus(t, res, step), step)
	}

	want := map[string]string{
		model.ArtifactStory:              "story/generated_story.txt",
		model.ArtifactCharacterImage:     "images/character.png",
		model.ArtifactBackgroundImage:    "images/background.png",
		model.ArtifactProcessedCharacter: "processed/character_no_bg.png",
		model.ArtifactFinalScene:         "final/final_scene.png",
	}
	require.Len(t, res.OutputFiles, len(want))
	for name, rel := range want {
		assert.Equal(t, filepath.Join(res.SessionDirectory, rel), res.OutputFiles[name], name)
		assert.FileExists(t, res.OutputFiles[name])
	}

	require.NotNil(t, res.Results)
	assert.Equal(t, goodStory.Content, res.Results.Story.Content)
	assert.Equal(t, goodStory.CharacterDesc, res.Results.Story.CharacterDescriptions)
	assert.Equal(t, res.OutputFiles[model.ArtifactStory], res.Results.Story.FilePath)
	require.NotNil(t, res.Results.Images.FinalScene)
	assert.Equal(t, 800, res.Results.Images.FinalScene.Result.Width)
	assert.Equal(t, 310, res.Results.Images.FinalScene.Result.Details["character_y"])
	assert.GreaterOrEqual(t, res.TotalTimeSeconds, 0.0)

	b, err := os.ReadFile(res.OutputFiles[model.ArtifactStory])
	require.NoError(t, err)
	assert.Contains(t, string(b), "User Prompt: a fox with a lantern")
	assert.Contains(t, string(b), "Generated Story:\nA fox found a lantern.")
}

func TestProcessUserRequestCharacterFailureAborts(t *testing.T) {
	images := &fakeImages{characterErr: errors.New("diffusion backend exploded")}
	deps := fullDeps()
	deps.Images = images
	o, _ := newTestOrchestrator(t, deps)

	res := o.ProcessUserRequest(context.Background(), "a fox", "session_fail")
	assert.Equal(t, model.ResultError, res.Status)
	assert.Equal(t, "diffusion backend exploded", res.Error)
	assert.Equal(t, model.KindProviderError, res.ErrorKind)
	assert.Equal(t, "session_fail", res.SessionID)

	assert.Equal(t, model.StatusCompleted, stepStatus(t, res, model.StepStoryGeneration))
	assert.Equal(t, model.StatusFailed, stepStatus(t, res, model.StepCharacterGeneration))
	for _, step := range []model.Step{model.StepBackgroundGeneration, model.StepCharacterProcessing, model.StepSceneCompositing, model.StepResultCompilation} {
		assert.Empty(t, stepStatus(t, res, step), step)
	}

	assert.Contains(t, res.OutputFiles, model.ArtifactStory)
	for _, name := range []string{model.ArtifactCharacterImage, model.ArtifactBackgroundImage, model.ArtifactProcessedCharacter, model.ArtifactFinalScene} {
		assert.NotContains(t, res.OutputFiles, name)
		assert.NotContains(t, res.PartialResults, name)
	}
	assert.Equal(t, res.OutputFiles, res.PartialResults)
	// 背景图从未被请求
	assert.Equal(t, []string{"A small red fox"}, images.descriptions)
	assert.FileExists(t, res.PartialResults[model.ArtifactStory])
}

// cancellingImages 生成角色图后取消调用方的context
type cancellingImages struct {
	fakeImages
	cancel context.CancelFunc
}

func (c *cancellingImages) GenerateCharacter(ctx context.Context, description, outputPath string) (model.ImageArtifact, error) {
	a, err := c.fakeImages.GenerateCharacter(ctx, description, outputPath)
	c.cancel()
	return a, err
}

func TestProcessUserRequestStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	images := &cancellingImages{cancel: cancel}
	deps := fullDeps()
	deps.Images = images
	o, _ := newTestOrchestrator(t, deps)

	res := o.ProcessUserRequest(ctx, "a fox", "session_cancel")
	assert.Equal(t, model.ResultError, res.Status)
	assert.Contains(t, res.Error, "context canceled")

	assert.Equal(t, model.StatusCompleted, stepStatus(t, res, model.StepCharacterGeneration))
	assert.Equal(t, model.StatusFailed, stepStatus(t, res, model.StepBackgroundGeneration))
	for _, step := range []model.Step{model.StepCharacterProcessing, model.StepSceneCompositing, model.StepResultCompilation} {
		assert.Empty(t, stepStatus(t, res, step), step)
	}
	assert.Contains(t, res.OutputFiles, model.ArtifactCharacterImage)
	for _, name := range []string{model.ArtifactBackgroundImage, model.ArtifactProcessedCharacter, model.ArtifactFinalScene} {
		assert.NotContains(t, res.OutputFiles, name)
	}
	assert.Equal(t, []string{"A small red fox"}, images.descriptions)
}

func TestCancelledContextFailsBeforeAnyProviderCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	images := &fakeImages{}
	deps := fullDeps()
	deps.Images = images
	o, _ := newTestOrchestrator(t, deps)

	res := o.GenerateCharacterOnly(ctx, "a fox", "session_cancelled")
	assert.Equal(t, model.ResultFailed, res.Status)
	assert.Equal(t, model.StatusFailed, stepStatus(t, res, model.StepCharacterGeneration))
	assert.Empty(t, res.OutputFiles)
	assert.Empty(t, images.descriptions)
}

func TestProcessUserRequestStoryFailure(t *testing.T) {
	deps := fullDeps()
	deps.Story = &fakeStory{err: errors.New("llm timeout")}
	o, _ := newTestOrchestrator(t, deps)

	res := o.ProcessUserRequest(context.Background(), "a fox", "")
	assert.Equal(t, model.ResultError, res.Status)
	assert.Equal(t, "llm timeout", res.Error)
	assert.Regexp(t, `^session_[0-9a-f]{8}$`, res.SessionID)
	assert.Equal(t, model.StatusFailed, stepStatus(t, res, model.StepStoryGeneration))
	assert.Empty(t, res.PartialResults)
}

func TestProcessUserRequestUnavailableProvidersFail(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Deps)
		step   model.Step
	}{
		{"story", func(d *Deps) { d.Story = nil }, model.StepStoryGeneration},
		{"images", func(d *Deps) { d.Images = nil }, model.StepCharacterGeneration},
		{"processor", func(d *Deps) { d.Processor = nil }, model.StepCharacterProcessing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := fullDeps()
			tt.mutate(&deps)
			o, _ := newTestOrchestrator(t, deps)

			res := o.ProcessUserRequest(context.Background(), "a fox", "session_"+tt.name)
			assert.Equal(t, model.ResultError, res.Status)
			assert.Equal(t, model.KindProviderUnavailable, res.ErrorKind)
			assert.Equal(t, model.StatusFailed, stepStatus(t, res, tt.step))
			assert.NotContains(t, res.OutputFiles, model.ArtifactFinalScene)
		})
	}
}

func TestProcessUserRequestDefaultsDescriptions(t *testing.T) {
	images := &fakeImages{}
	deps := fullDeps()
	deps.Story = &fakeStory{res: model.StoryResult{Content: "Only a story."}}
	deps.Images = images
	o, _ := newTestOrchestrator(t, deps)

	res := o.ProcessUserRequest(context.Background(), "a fox", "session_defaults")
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, []string{DefaultCharacterDesc, DefaultBackgroundDesc}, images.descriptions)
}

func TestEmptyPromptIsRejectedWithoutSideEffects(t *testing.T) {
	o, root := newTestOrchestrator(t, fullDeps())
	ctx := context.Background()

	for name, res := range map[string]*model.Result{
		"full":       o.ProcessUserRequest(ctx, "  ", "session_empty"),
		"story":      o.GenerateStoryOnly(ctx, "", "session_empty"),
		"character":  o.GenerateCharacterOnly(ctx, "", "session_empty"),
		"background": o.GenerateBackgroundOnly(ctx, "\n", "session_empty"),
	} {
		assert.False(t, res.OK(), name)
		assert.Equal(t, model.KindMissingInput, res.ErrorKind, name)
		assert.Equal(t, "session_empty", res.SessionID, name)
		assert.NotEmpty(t, res.Error, name)
	}
	assert.NoDirExists(t, filepath.Join(root, "sessions", "session_empty"))
}

func TestPanicsBecomeFailedResults(t *testing.T) {
	deps := fullDeps()
	deps.Story = &fakeStory{panic: true}
	o, _ := newTestOrchestrator(t, deps)

	res := o.ProcessUserRequest(context.Background(), "a fox", "session_panic")
	assert.Equal(t, model.ResultError, res.Status)
	assert.Equal(t, model.KindProviderError, res.ErrorKind)
	assert.Contains(t, res.Error, "story backend crashed")
	assert.Equal(t, model.StatusFailed, stepStatus(t, res, model.StepStoryGeneration))
}

func TestProgressEvents(t *testing.T) {
	o, _ := newTestOrchestrator(t, fullDeps())
	var events []model.StepEvent
	res := o.ProcessUserRequest(context.Background(), "a fox", "session_progress", WithProgress(func(e model.StepEvent) {
		events = append(events, e)
	}))
	require.True(t, res.OK(), res.Error)
	require.Len(t, events, 2*len(model.PipelineSteps))

	assert.Equal(t, model.StepStoryGeneration, events[0].Step)
	assert.Equal(t, model.StatusInProgress, events[0].Status)
	assert.Equal(t, 0, events[0].Progress)
	last := events[len(events)-1]
	assert.Equal(t, model.StepResultCompilation, last.Step)
	assert.Equal(t, model.StatusCompleted, last.Status)
	assert.Equal(t, 100, last.Progress)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Progress, events[i-1].Progress)
	}
}

func TestConcurrentRunsAreIsolated(t *testing.T) {
	o, _ := newTestOrchestrator(t, fullDeps())

	const n = 6
	results := make([]*model.Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.ProcessUserRequest(context.Background(), fmt.Sprintf("prompt %d", i), fmt.Sprintf("session_c%d", i))
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		require.True(t, res.OK(), res.Error)
		assert.Equal(t, fmt.Sprintf("session_c%d", i), res.SessionID)
		for name, path := range res.OutputFiles {
			assert.True(t, strings.HasPrefix(path, res.SessionDirectory+string(filepath.Separator)), "%s escaped session dir: %s", name, path)
		}
		b, err := os.ReadFile(res.OutputFiles[model.ArtifactStory])
		require.NoError(t, err)
		assert.Contains(t, string(b), fmt.Sprintf("User Prompt: prompt %d\n", i))
	}
}

func TestGenerateStoryOnly(t *testing.T) {
	o, _ := newTestOrchestrator(t, fullDeps())
	res := o.GenerateStoryOnly(context.Background(), "a fox", "session_story")
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, model.OpStory, res.Operation)
	assert.False(t, res.Results.Story.IsFallback)
	assert.Equal(t, []model.Step{model.StepStoryGeneration}, res.WorkflowStatus.Steps())
	assert.FileExists(t, res.Results.Story.FilePath)
}

func TestGenerateStoryOnlyFallsBackWhenUnavailable(t *testing.T) {
	for name, provider := range map[string]*fakeStory{
		"nil provider":        nil,
		"unavailable backend": {err: fmt.Errorf("ark: %w", model.ErrUnavailable)},
	} {
		t.Run(name, func(t *testing.T) {
			deps := fullDeps()
			deps.Story = nil
			if provider != nil {
				deps.Story = provider
			}
			o, _ := newTestOrchestrator(t, deps)

			res := o.GenerateStoryOnly(context.Background(), "a singing whale", "")
			require.Equal(t, model.ResultSuccess, res.Status, res.Error)
			require.NotNil(t, res.Results.Story)
			assert.True(t, res.Results.Story.IsFallback)
			assert.Contains(t, res.Results.Story.Content, "a singing whale")

			b, err := os.ReadFile(res.Results.Story.FilePath)
			require.NoError(t, err)
			for _, label := range []string{"User Prompt:", "Generated Story:", "Character Descriptions:", "Background Descriptions:"} {
				assert.Contains(t, string(b), label)
			}
		})
	}
}

func TestGenerateStoryOnlyProviderErrorFails(t *testing.T) {
	deps := fullDeps()
	deps.Story = &fakeStory{err: errors.New("content policy violation")}
	o, _ := newTestOrchestrator(t, deps)

	res := o.GenerateStoryOnly(context.Background(), "a fox", "session_bad")
	assert.Equal(t, model.ResultFailed, res.Status)
	assert.Equal(t, "content policy violation", res.Error)
	assert.Equal(t, "session_bad", res.SessionID)
}

func TestGenerateImageOnly(t *testing.T) {
	o, _ := newTestOrchestrator(t, fullDeps())

	res := o.GenerateCharacterOnly(context.Background(), "a knight", "session_char")
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, filepath.Join(res.SessionDirectory, "images", "character.png"), res.OutputFiles[model.ArtifactCharacterImage])
	assert.False(t, res.Results.Images.Character.Result.IsPlaceholder)

	res = o.GenerateBackgroundOnly(context.Background(), "a castle", "session_bg")
	require.True(t, res.OK(), res.Error)
	assert.FileExists(t, res.OutputFiles[model.ArtifactBackgroundImage])
	assert.Equal(t, []model.Step{model.StepBackgroundGeneration}, res.WorkflowStatus.Steps())
}

func TestGenerateImageOnlyPlaceholder(t *testing.T) {
	deps := fullDeps()
	deps.Images = nil
	o, _ := newTestOrchestrator(t, deps)

	res := o.GenerateBackgroundOnly(context.Background(), "a castle", "session_ph")
	require.True(t, res.OK(), res.Error)
	entry := res.Results.Images.Background
	require.NotNil(t, entry)
	assert.True(t, entry.Result.IsPlaceholder)
	assert.True(t, strings.HasSuffix(entry.FilePath, ".txt"))
	assert.Equal(t, entry.FilePath, res.OutputFiles[model.ArtifactBackgroundImage])
	assert.NoFileExists(t, filepath.Join(res.SessionDirectory, "images", "background.png"))

	b, err := os.ReadFile(entry.FilePath)
	require.NoError(t, err)
	assert.Contains(t, string(b), "a castle")
}

func TestGenerateImageOnlyProviderError(t *testing.T) {
	deps := fullDeps()
	deps.Images = &fakeImages{characterErr: errors.New("nsfw filter")}
	o, _ := newTestOrchestrator(t, deps)

	res := o.GenerateCharacterOnly(context.Background(), "a knight", "session_err")
	assert.Equal(t, model.ResultFailed, res.Status)
	assert.Equal(t, "nsfw filter", res.Error)
	assert.Empty(t, res.OutputFiles)
}

func TestMergeImagesOnly(t *testing.T) {
	o, root := newTestOrchestrator(t, fullDeps())
	in := filepath.Join(root, "inputs")
	a := filepath.Join(in, "a.png")
	b := filepath.Join(in, "b.png")
	require.NoError(t, writePNGFile(a, image.NewNRGBA(image.Rect(0, 0, 300, 100))))
	require.NoError(t, writePNGFile(b, image.NewNRGBA(image.Rect(0, 0, 100, 200))))

	res := o.MergeImagesOnly(context.Background(), "side by side", "session_merge", a, b)
	require.True(t, res.OK(), res.Error)
	out := res.OutputFiles[model.ArtifactMergedImage]
	assert.Equal(t, filepath.Join(res.SessionDirectory, "images", "merged.png"), out)

	w, h, err := imageproc.Dimensions(out)
	require.NoError(t, err)
	assert.Equal(t, 512, h)
	assert.Equal(t, 300*512/100+100*512/200, w)
	assert.Equal(t, "side by side", res.Results.Images.Merged.Result.Details["prompt"])
}

func TestMergeImagesOnlyMissingInputs(t *testing.T) {
	o, root := newTestOrchestrator(t, fullDeps())
	existing := filepath.Join(root, "inputs", "a.png")
	require.NoError(t, writePNGFile(existing, image.NewNRGBA(image.Rect(0, 0, 10, 10))))
	missing := filepath.Join(root, "inputs", "nope.png")

	tests := []struct {
		name           string
		image1, image2 string
		kind           model.ErrorKind
	}{
		{"image1 empty", "", existing, model.KindMissingInput},
		{"image2 empty", existing, "", model.KindMissingInput},
		{"image1 missing", missing, existing, model.KindNotFound},
		{"image2 missing", existing, missing, model.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := o.MergeImagesOnly(context.Background(), "", "session_nomerge", tt.image1, tt.image2)
			assert.Equal(t, model.ResultFailed, res.Status)
			assert.Equal(t, tt.kind, res.ErrorKind)
			assert.Equal(t, "session_nomerge", res.SessionID)
			assert.NotEmpty(t, res.Error)
			assert.NoFileExists(t, filepath.Join(root, "sessions", "session_nomerge", "images", "merged.png"))
		})
	}
}

func TestCleanupSession(t *testing.T) {
	o, _ := newTestOrchestrator(t, fullDeps())
	res := o.GenerateStoryOnly(context.Background(), "a fox", "session_clean")
	require.True(t, res.OK())

	require.NoError(t, o.CleanupSession("session_clean"))
	assert.NoDirExists(t, res.SessionDirectory)
	assert.Equal(t, model.KindMissingInput, model.KindOf(o.CleanupSession("")))
}

func TestAvailability(t *testing.T) {
	o, _ := newTestOrchestrator(t, fullDeps())
	assert.True(t, o.FullAI())

	deps := fullDeps()
	deps.Images = nil
	o, _ = newTestOrchestrator(t, deps)
	assert.False(t, o.FullAI())
	assert.Equal(t, map[string]bool{"story": true, "image": false, "processor": true}, o.Availability())
}
