// internal/services/parser_service_test.go
package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/StoryboardForge/internal/errors"
	"github.com/Corphon/StoryboardForge/internal/llm"
	"github.com/Corphon/StoryboardForge/internal/models"
)

// fakeLLMProvider 返回固定文本的测试提供者
type fakeLLMProvider struct {
	response    string
	err         error
	lastRequest llm.CompletionRequest
}

func (f *fakeLLMProvider) Initialize(config map[string]string) error { return nil }
func (f *fakeLLMProvider) GetName() string                           { return "fake" }
func (f *fakeLLMProvider) GetSupportedModels() []string              { return []string{"fake-model"} }
func (f *fakeLLMProvider) FetchAvailableModels(ctx context.Context) error {
	return nil
}
func (f *fakeLLMProvider) SetCustomModels(models []string) {}

func (f *fakeLLMProvider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.lastRequest = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Text: f.response, ModelName: "fake-model"}, nil
}

func newFakeParser(response string, err error) (*ParserService, *fakeLLMProvider) {
	provider := &fakeLLMProvider{response: response, err: err}
	return NewParserService(NewLLMServiceWithProvider("fake", provider)), provider
}

const sampleScript = `INT. KITCHEN - DAY

ALICE
You're up early.

Alice pours coffee while Bob reads the paper.

EXT. STREET - NIGHT

Bob walks alone under the streetlights.`

func TestParse_EmptyInput(t *testing.T) {
	svc, _ := newFakeParser("", nil)

	_, err := svc.Parse(context.Background(), "   \n  ", models.ParseOptions{Mode: models.ParseModeAI})
	require.Error(t, err)

	var parseErr *apperrors.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.False(t, parseErr.Retryable)
}

func TestParse_AIMode(t *testing.T) {
	response := `{"scenes": [
		{"scene_number": 1, "scene_heading": "INT. KITCHEN - DAY", "location": "KITCHEN", "time_of_day": "DAY", "int_ext": "INT", "characters": ["ALICE", "BOB"], "action": "Alice pours coffee.", "dialogue": "ALICE: You're up early."},
		{"scene_number": 2, "scene_heading": "EXT. STREET - NIGHT", "location": "STREET", "time_of_day": "NIGHT", "int_ext": "EXT", "characters": ["BOB"], "action": "Bob walks alone."}
	]}`
	svc, _ := newFakeParser(response, nil)

	scenes, err := svc.Parse(context.Background(), sampleScript, models.ParseOptions{Mode: models.ParseModeAI})
	require.NoError(t, err)
	require.Len(t, scenes, 2)

	assert.Equal(t, 1, scenes[0].SceneNumber)
	assert.Equal(t, "KITCHEN", scenes[0].Location)
	assert.Equal(t, models.IntExtInterior, scenes[0].IntExt)
	assert.Equal(t, []string{"ALICE", "BOB"}, scenes[0].Characters)
	assert.Equal(t, 2, scenes[1].SceneNumber)
	assert.Equal(t, models.IntExtExterior, scenes[1].IntExt)
}

// 模型输出场景号乱序或重复时强制按位置重排
func TestParse_SceneNumbersCoercedToPosition(t *testing.T) {
	response := `{"scenes": [
		{"scene_number": 7, "scene_heading": "A"},
		{"scene_number": 7, "scene_heading": "B"},
		{"scene_number": "three", "scene_heading": "C"}
	]}`
	svc, _ := newFakeParser(response, nil)

	scenes, err := svc.Parse(context.Background(), sampleScript, models.ParseOptions{Mode: models.ParseModeAI})
	require.NoError(t, err)
	require.Len(t, scenes, 3)

	for i, scene := range scenes {
		assert.Equal(t, i+1, scene.SceneNumber)
	}
}

// 未请求的字段一律丢弃
func TestParse_FieldProjection(t *testing.T) {
	response := `{"scenes": [
		{"scene_number": 1, "scene_heading": "INT. LAB - DAY", "location": "LAB", "dialogue": "should be dropped", "props": ["beaker"]}
	]}`
	svc, _ := newFakeParser(response, nil)

	scenes, err := svc.Parse(context.Background(), sampleScript, models.ParseOptions{
		Mode:   models.ParseModeAI,
		Fields: []models.SceneField{models.FieldSceneHeading, models.FieldLocation},
	})
	require.NoError(t, err)
	require.Len(t, scenes, 1)

	assert.Equal(t, "INT. LAB - DAY", scenes[0].SceneHeading)
	assert.Equal(t, "LAB", scenes[0].Location)
	assert.Empty(t, scenes[0].Dialogue)
	assert.Empty(t, scenes[0].Props)
}

// 模型返回代码块包裹的JSON也能解析
func TestParse_FencedJSONResponse(t *testing.T) {
	response := "```json\n{\"scenes\": [{\"scene_number\": 1, \"scene_heading\": \"INT. HALL - DAY\"}]}\n```"
	svc, _ := newFakeParser(response, nil)

	scenes, err := svc.Parse(context.Background(), sampleScript, models.ParseOptions{Mode: models.ParseModeAI})
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	assert.Equal(t, "INT. HALL - DAY", scenes[0].SceneHeading)
}

// 模型一个场景都没给时退化为单场景兜底
func TestParse_FallbackScene(t *testing.T) {
	svc, _ := newFakeParser(`{"scenes": []}`, nil)

	scenes, err := svc.Parse(context.Background(), "a short treatment without headings", models.ParseOptions{Mode: models.ParseModeAI})
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	assert.Equal(t, 1, scenes[0].SceneNumber)
	assert.Contains(t, scenes[0].Action, "a short treatment")
}

// 页数限制按每页250词截断
func TestParse_PageLimitTruncation(t *testing.T) {
	words := make([]string, 600)
	for i := range words {
		words[i] = "word"
	}
	longText := strings.Join(words, " ")

	svc, provider := newFakeParser(`{"scenes": [{"scene_number": 1}]}`, nil)

	_, err := svc.Parse(context.Background(), longText, models.ParseOptions{Mode: models.ParseModeAI, PageLimit: 1})
	require.NoError(t, err)

	sent := strings.Fields(provider.lastRequest.Prompt)
	// 提示词含指令文本，截断后的剧本词数不超过 250 + 指令开销
	assert.Less(t, len(sent), 400)
}

// 失败分类：凭证问题不可重试，其余可重试
func TestParse_FailureClassification(t *testing.T) {
	// 凭证类故障不可重试
	err := classifyParseFailure(errors.New("openai api错误(401): invalid api key"))
	assert.False(t, apperrors.IsRetryableParseError(err))

	// 网络抖动与模型输出损坏均可重试
	err = classifyParseFailure(errors.New("connection reset by peer"))
	assert.True(t, apperrors.IsRetryableParseError(err))
	err = classifyParseFailure(errors.New("解析JSON失败: invalid character 't'"))
	assert.True(t, apperrors.IsRetryableParseError(err))
}

// AI调用凭证故障直接上抛，不降级
func TestParse_CredentialFailureSurfaces(t *testing.T) {
	svc, _ := newFakeParser("", errors.New("openai api错误(401): invalid api key"))

	_, err := svc.Parse(context.Background(), sampleScript, models.ParseOptions{Mode: models.ParseModeAI})
	require.Error(t, err)
	assert.False(t, apperrors.IsRetryableParseError(err))
}

// AI调用发生瞬时故障时降级为预览解析，一次且仅一次
func TestParse_FallsBackToPreviewOnTransientFailure(t *testing.T) {
	svc, _ := newFakeParser("", errors.New("connection reset by peer"))

	scenes, err := svc.Parse(context.Background(), sampleScript, models.ParseOptions{Mode: models.ParseModeAI})
	require.NoError(t, err)
	require.Len(t, scenes, 2)
	assert.Equal(t, "INT. KITCHEN - DAY", scenes[0].SceneHeading)
	assert.Contains(t, scenes[0].Characters, "ALICE")

	// 模型输出不是JSON同样触发降级
	svc, _ = newFakeParser("this is not json at all", nil)
	scenes, err = svc.Parse(context.Background(), sampleScript, models.ParseOptions{Mode: models.ParseModeAI})
	require.NoError(t, err)
	assert.Len(t, scenes, 2)
}

func TestParsePreview_Headings(t *testing.T) {
	svc, _ := newFakeParser("", nil)

	scenes := svc.ParsePreview(sampleScript)
	require.Len(t, scenes, 2)

	assert.Equal(t, "INT. KITCHEN - DAY", scenes[0].SceneHeading)
	assert.Equal(t, models.IntExtInterior, scenes[0].IntExt)
	assert.Equal(t, "KITCHEN", scenes[0].Location)
	assert.Equal(t, "DAY", scenes[0].TimeOfDay)
	assert.Contains(t, scenes[0].Characters, "ALICE")

	assert.Equal(t, models.IntExtExterior, scenes[1].IntExt)
	assert.Equal(t, "NIGHT", scenes[1].TimeOfDay)
}

// 预览模式最多3个场景
func TestParsePreview_SceneCap(t *testing.T) {
	svc, _ := newFakeParser("", nil)

	text := `INT. A - DAY
line one
EXT. B - DAY
line two
INT. C - NIGHT
line three
EXT. D - DAY
line four
INT. E - NIGHT
line five`

	scenes := svc.ParsePreview(text)
	assert.Len(t, scenes, 3)
}

// 首个标题前的叙事文本归入隐式场景1
func TestParsePreview_PreambleBecomesScene(t *testing.T) {
	svc, _ := newFakeParser("", nil)

	scenes := svc.ParsePreview("Some opening narration.\n\nINT. OFFICE - DAY\nWork happens.")
	require.Len(t, scenes, 2)
	assert.Equal(t, "SCENE 1", scenes[0].SceneHeading)
	assert.Contains(t, scenes[0].Action, "opening narration")
}

// 无标题文本兜底为单场景
func TestParsePreview_NoHeadings(t *testing.T) {
	svc, _ := newFakeParser("", nil)

	scenes := svc.ParsePreview("just a paragraph of prose")
	require.Len(t, scenes, 1)
	assert.Equal(t, 1, scenes[0].SceneNumber)
}
