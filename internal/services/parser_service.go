// internal/services/parser_service.go
package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	apperrors "github.com/Corphon/StoryboardForge/internal/errors"
	"github.com/Corphon/StoryboardForge/internal/models"
	"github.com/Corphon/StoryboardForge/internal/utils"
)

const (
	// 一页剧本约250词
	wordsPerPage = 250

	// 预览模式最多返回的场景数
	previewSceneCap = 3
)

// ParserService 将剧本文本解析为结构化场景列表
type ParserService struct {
	LLMService *LLMService

	// 并发控制
	maxConcurrent chan struct{}
}

// NewParserService 创建解析服务
func NewParserService(llmService *LLMService) *ParserService {
	return &ParserService{
		LLMService:    llmService,
		maxConcurrent: make(chan struct{}, 3),
	}
}

// rawParseResult 模型输出的未定型中间结构，字段名不可信，需要逐个校验
type rawParseResult struct {
	Scenes []map[string]interface{} `json:"scenes"`
}

// Parse 解析剧本文本
// AI模式走大模型结构化抽取，预览模式走纯启发式，非空输入保证至少返回一个场景
// 策略链固定为两级: AI抽取 → 启发式预览。AI调用发生可重试故障（超时、网络
// 抖动、模型输出损坏）时降级到预览解析一次，不做循环重试；凭证类故障直接上抛
func (s *ParserService) Parse(ctx context.Context, text string, opts models.ParseOptions) ([]models.Scene, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewParseError("剧本内容为空", false, nil)
	}

	if opts.Mode == models.ParseModePreview {
		return s.ParsePreview(text), nil
	}

	scenes, err := s.parseWithAI(ctx, text, opts)
	if err == nil {
		return scenes, nil
	}

	// 调用方已离开时不再降级
	if !apperrors.IsRetryableParseError(err) || ctx.Err() != nil {
		return nil, err
	}

	utils.GetLogger().Warn("AI parse failed, falling back to preview parse", map[string]interface{}{
		"error": err.Error(),
	})

	return s.ParsePreview(text), nil
}

// parseWithAI AI模式解析
func (s *ParserService) parseWithAI(ctx context.Context, text string, opts models.ParseOptions) ([]models.Scene, error) {
	select {
	case s.maxConcurrent <- struct{}{}:
		defer func() { <-s.maxConcurrent }()
	case <-ctx.Done():
		return nil, apperrors.NewParseError("解析请求等待超时", true, ctx.Err())
	}

	fields := opts.Fields
	if len(fields) == 0 {
		fields = models.DefaultSceneFields()
	}

	truncated := truncateToPages(text, opts.PageLimit)

	systemPrompt, prompt := s.buildParsePrompts(truncated, fields)

	result := &rawParseResult{}
	if err := s.LLMService.CreateStructuredCompletion(ctx, prompt, systemPrompt, result); err != nil {
		return nil, classifyParseFailure(err)
	}

	scenes := coerceScenes(result.Scenes, fields)

	// 模型一个场景都没给时，退化为单场景兜底
	if len(scenes) == 0 {
		scenes = []models.Scene{fallbackScene(truncated)}
	}

	utils.GetLogger().Info("Screenplay parsed", map[string]interface{}{
		"scene_count": len(scenes),
		"mode":        "ai",
	})

	return scenes, nil
}

// buildParsePrompts 按请求字段构建提示词，输入以英文为主时使用英文提示
func (s *ParserService) buildParsePrompts(text string, fields []models.SceneField) (systemPrompt, prompt string) {
	var fieldLines strings.Builder
	for _, f := range fields {
		desc := models.SceneFieldDescriptions[f]
		fieldLines.WriteString(fmt.Sprintf("- %s: %s\n", f, desc))
	}

	if isEnglishText(text) {
		systemPrompt = `You are a professional screenplay breakdown assistant. You read screenplay or narrative text and extract an ordered list of scenes as structured data.
Extract only the requested fields, keep scene order identical to the source text, and never invent scenes that are not in the text.`

		prompt = fmt.Sprintf(`Break the following script into scenes. For each scene extract exactly these fields:

%s
Return a JSON object with a "scenes" array. Each element is one scene with the fields above (snake_case keys). Number scenes from 1 in source order.

Script:
%s`, fieldLines.String(), text)
	} else {
		systemPrompt = `你是一名专业的剧本拆解助手。你阅读剧本或叙事文本，并将其提取为有序的结构化场景列表。
只提取请求的字段，保持场景顺序与原文一致，不要虚构文本中不存在的场景。`

		prompt = fmt.Sprintf(`将以下剧本拆分为场景。每个场景只提取以下字段:

%s
返回一个包含 "scenes" 数组的JSON对象。每个元素是一个场景，使用上述字段（snake_case键名）。场景按原文顺序从1开始编号。

剧本:
%s`, fieldLines.String(), text)
	}

	return systemPrompt, prompt
}

// classifyParseFailure 将解析失败归类为可重试/不可重试
func classifyParseFailure(err error) error {
	msg := strings.ToLower(err.Error())

	// 凭证问题不可重试
	if strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "api key") || strings.Contains(msg, "api密钥") ||
		strings.Contains(msg, "unauthorized") {
		return apperrors.NewParseError("AI解析失败: 凭证无效", false, err)
	}

	// 超时、网络抖动、模型输出损坏均可重试
	return apperrors.NewParseError("AI解析失败", true, err)
}

// truncateToPages 将文本截断到 pageLimit 页（每页约250词）
func truncateToPages(text string, pageLimit int) string {
	if pageLimit <= 0 {
		return text
	}

	maxWords := pageLimit * wordsPerPage
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	return strings.Join(words[:maxWords], " ")
}

// coerceScenes 将模型的未定型输出校验收敛为严格的 Scene 列表
// 场景号缺失或无效时用数组位置兜底，未请求的字段一律丢弃
func coerceScenes(raw []map[string]interface{}, fields []models.SceneField) []models.Scene {
	selected := make(map[models.SceneField]bool, len(fields))
	for _, f := range fields {
		selected[f] = true
	}

	scenes := make([]models.Scene, 0, len(raw))
	for i, m := range raw {
		if m == nil {
			continue
		}

		scene := models.Scene{}

		// 场景号：无效时用位置兜底
		scene.SceneNumber = coerceInt(m["scene_number"])
		if scene.SceneNumber <= 0 {
			scene.SceneNumber = i + 1
		}

		if selected[models.FieldSceneHeading] {
			scene.SceneHeading = coerceString(m, "scene_heading", "heading")
		}
		if selected[models.FieldLocation] {
			scene.Location = coerceString(m, "location")
		}
		if selected[models.FieldTimeOfDay] {
			scene.TimeOfDay = coerceString(m, "time_of_day", "time")
		}
		if selected[models.FieldIntExt] {
			scene.IntExt = coerceIntExt(coerceString(m, "int_ext", "interior_or_exterior"))
		}
		if selected[models.FieldCharacters] {
			scene.Characters = coerceStringSlice(m["characters"])
		}
		if selected[models.FieldAction] {
			scene.Action = coerceString(m, "action", "description")
		}
		if selected[models.FieldDialogue] {
			scene.Dialogue = coerceString(m, "dialogue")
		}
		if selected[models.FieldProps] {
			scene.Props = coerceStringSlice(m["props"])
		}
		if selected[models.FieldWardrobe] {
			scene.Wardrobe = coerceStringSlice(m["wardrobe"])
		}
		if selected[models.FieldMakeup] {
			scene.Makeup = coerceStringSlice(m["makeup"])
		}
		if selected[models.FieldSpecialEffects] {
			scene.SpecialEffects = coerceStringSlice(m["special_effects"])
		}
		if selected[models.FieldTone] {
			scene.Tone = coerceString(m, "tone", "mood")
		}
		if selected[models.FieldNotes] {
			scene.Notes = coerceString(m, "notes")
		}

		scenes = append(scenes, scene)
	}

	// 强制场景号严格递增
	for i := range scenes {
		scenes[i].SceneNumber = i + 1
	}

	return scenes
}

// fallbackScene 构造覆盖全文的兜底场景
func fallbackScene(text string) models.Scene {
	return models.Scene{
		SceneNumber:  1,
		SceneHeading: "SCENE 1",
		Action:       text,
	}
}

func coerceString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func coerceInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		var parsed int
		if _, err := fmt.Sscanf(strings.TrimSpace(n), "%d", &parsed); err == nil {
			return parsed
		}
	}
	return 0
}

func coerceStringSlice(v interface{}) []string {
	switch items := v.(type) {
	case []interface{}:
		var out []string
		for _, item := range items {
			if s, ok := item.(string); ok {
				if trimmed := strings.TrimSpace(s); trimmed != "" {
					out = append(out, trimmed)
				}
			}
		}
		return out
	case string:
		// 模型偶尔用逗号分隔的字符串代替数组
		var out []string
		for _, part := range strings.Split(items, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return nil
}

func coerceIntExt(s string) models.IntExt {
	switch strings.ToUpper(strings.TrimSpace(strings.TrimSuffix(s, "."))) {
	case "INT", "INTERIOR":
		return models.IntExtInterior
	case "EXT", "EXTERIOR":
		return models.IntExtExterior
	}
	return models.IntExtUnknown
}

// 预览模式启发式
var (
	sceneHeadingPattern = regexp.MustCompile(`(?m)^\s*(INT|EXT|INT/EXT)[\.\s]`)

	// 全大写行视为角色名候选（剧本对白格式）
	characterLinePattern = regexp.MustCompile(`^[A-Z][A-Z\s\.\-']{1,30}$`)
)

// ParsePreview 纯启发式快速预览，不调用模型，最多返回3个场景
func (s *ParserService) ParsePreview(text string) []models.Scene {
	lines := strings.Split(text, "\n")

	var scenes []models.Scene
	var current *models.Scene
	var actionLines []string

	flush := func() {
		if current != nil {
			current.Action = strings.TrimSpace(strings.Join(actionLines, "\n"))
			scenes = append(scenes, *current)
		}
		actionLines = nil
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if sceneHeadingPattern.MatchString(trimmed) {
			flush()
			if len(scenes) >= previewSceneCap {
				current = nil
				break
			}
			current = &models.Scene{
				SceneNumber:  len(scenes) + 1,
				SceneHeading: trimmed,
				IntExt:       headingIntExt(trimmed),
				Location:     headingLocation(trimmed),
				TimeOfDay:    headingTimeOfDay(trimmed),
			}
			continue
		}

		if current == nil {
			// 首个场景标题之前的叙事文本也要归入一个场景
			current = &models.Scene{
				SceneNumber:  1,
				SceneHeading: "SCENE 1",
			}
		}

		// 全大写短行按角色名处理
		if characterLinePattern.MatchString(trimmed) && len(strings.Fields(trimmed)) <= 4 {
			name := strings.TrimSpace(trimmed)
			if !current.HasCharacter(name) {
				current.Characters = append(current.Characters, name)
			}
			continue
		}

		actionLines = append(actionLines, trimmed)
	}

	if len(scenes) < previewSceneCap {
		flush()
	}

	// 非空输入必须至少产出一个场景
	if len(scenes) == 0 {
		scenes = []models.Scene{fallbackScene(strings.TrimSpace(text))}
	}

	return scenes
}

// headingIntExt 从场景标题推断内/外景
func headingIntExt(heading string) models.IntExt {
	upper := strings.ToUpper(heading)
	switch {
	case strings.HasPrefix(upper, "INT"):
		return models.IntExtInterior
	case strings.HasPrefix(upper, "EXT"):
		return models.IntExtExterior
	}
	return models.IntExtUnknown
}

// headingLocation 提取标题中 INT./EXT. 与时间之间的地点
func headingLocation(heading string) string {
	s := heading
	if idx := strings.Index(s, "."); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, " - "); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// headingTimeOfDay 提取标题末尾的时间（"INT. KITCHEN - DAY" 的 DAY 部分）
func headingTimeOfDay(heading string) string {
	if idx := strings.LastIndex(heading, " - "); idx >= 0 {
		return strings.TrimSpace(heading[idx+3:])
	}
	return ""
}
