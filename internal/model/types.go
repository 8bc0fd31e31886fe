package model

import "time"

// 产物名称
const (
	ArtifactStory              = "story"
	ArtifactCharacterImage     = "character_image"
	ArtifactBackgroundImage    = "background_image"
	ArtifactProcessedCharacter = "processed_character"
	ArtifactFinalScene         = "final_scene"
	ArtifactMergedImage        = "merged_image"
	ArtifactAdjustedImage      = "adjusted_image"
)

// OutputFiles 产物名到绝对路径的映射，单次运行内只增不减
type OutputFiles map[string]string

// Clone 返回副本
func (o OutputFiles) Clone() OutputFiles {
	c := make(OutputFiles, len(o))
	for k, v := range o {
		c[k] = v
	}
	return c
}

// StoryResult 故事文本生成结果
type StoryResult struct {
	Content        string `json:"content"`
	CharacterDesc  string `json:"character_desc"`
	BackgroundDesc string `json:"background_desc"`
	Provider       string `json:"provider,omitempty"`
	IsFallback     bool   `json:"is_fallback,omitempty"`
}

// ImageArtifact 图片生成或处理结果
type ImageArtifact struct {
	Status        string         `json:"status"`
	OutputPath    string         `json:"output_path"`
	IsPlaceholder bool           `json:"is_placeholder,omitempty"`
	Prompt        string         `json:"prompt,omitempty"`
	Provider      string         `json:"provider,omitempty"`
	Width         int            `json:"width,omitempty"`
	Height        int            `json:"height,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// ResultStatus 入口返回状态
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
	ResultFailed  ResultStatus = "failed"
)

// Operation 入口类型
type Operation string

const (
	OpFull       Operation = "full"
	OpStory      Operation = "story"
	OpCharacter  Operation = "character"
	OpBackground Operation = "background"
	OpMerge      Operation = "merge"
	OpEnhance    Operation = "enhance"
	OpAdjust     Operation = "adjust"
)

// StorySection 结果中的故事部分
type StorySection struct {
	Content                string `json:"content"`
	CharacterDescriptions  string `json:"character_descriptions"`
	BackgroundDescriptions string `json:"background_descriptions"`
	FilePath               string `json:"file_path"`
	IsFallback             bool   `json:"is_fallback,omitempty"`
}

// ImageEntry 结果中的单张图片
type ImageEntry struct {
	FilePath string        `json:"file_path"`
	Result   ImageArtifact `json:"result"`
}

// ImageSection 结果中的图片部分
type ImageSection struct {
	Character          *ImageEntry `json:"character,omitempty"`
	Background         *ImageEntry `json:"background,omitempty"`
	ProcessedCharacter *ImageEntry `json:"processed_character,omitempty"`
	FinalScene         *ImageEntry `json:"final_scene,omitempty"`
	Merged             *ImageEntry `json:"merged,omitempty"`
	Adjusted           *ImageEntry `json:"adjusted,omitempty"`
}

// Results 结果树
type Results struct {
	Story  *StorySection `json:"story,omitempty"`
	Images *ImageSection `json:"images,omitempty"`
}

// Result 所有入口统一的返回结构
type Result struct {
	Status           ResultStatus    `json:"status"`
	Operation        Operation       `json:"operation"`
	SessionID        string          `json:"session_id"`
	Error            string          `json:"error,omitempty"`
	ErrorKind        ErrorKind       `json:"error_kind,omitempty"`
	TotalTimeSeconds float64         `json:"total_time_seconds"`
	WorkflowStatus   *WorkflowStatus `json:"workflow_status,omitempty"`
	OutputFiles      OutputFiles     `json:"output_files"`
	PartialResults   OutputFiles     `json:"partial_results,omitempty"`
	Results          *Results        `json:"results,omitempty"`
	SessionDirectory string          `json:"session_directory,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}

// OK 是否成功
func (r *Result) OK() bool {
	return r.Status == ResultSuccess
}
