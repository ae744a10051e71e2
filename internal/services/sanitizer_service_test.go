// internal/services/sanitizer_service_test.go
package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/StoryboardForge/internal/llm"
)

func TestSanitize_ViolentPrompt(t *testing.T) {
	svc := NewSanitizerService(nil)

	result := svc.Sanitize("a man stabbing another man, blood everywhere")

	assert.NotContains(t, strings.ToLower(result), "stabbing")
	assert.NotContains(t, strings.ToLower(result), "blood everywhere")
	assert.True(t, strings.HasPrefix(result, productionPrefix))
	assert.True(t, strings.HasSuffix(result, safetySuffix))

	// 电影语义保留：人物和动作结构还在
	assert.Contains(t, result, "a man")
	assert.Contains(t, result, "another man")
}

// 干净提示词也要包制片语境框定
func TestSanitize_CleanPromptStillFramed(t *testing.T) {
	svc := NewSanitizerService(nil)

	result := svc.Sanitize("two friends share tea in a sunny kitchen")

	assert.True(t, strings.HasPrefix(result, productionPrefix))
	assert.True(t, strings.HasSuffix(result, safetySuffix))
	assert.Contains(t, result, "two friends share tea in a sunny kitchen")
}

// 词典任意键净化后的输出中不得再出现任何词典键（整词匹配）
func TestSanitize_NoDictionaryKeySurvives(t *testing.T) {
	svc := NewSanitizerService(nil)

	for term := range riskTermDictionary {
		result := svc.Sanitize(fmt.Sprintf("a scene with %s in frame", term))
		for key, pattern := range termPatterns {
			assert.False(t, pattern.MatchString(result),
				"净化 %q 后输出仍含词典键 %q: %s", term, key, result)
		}
	}
}

// 替换值不得把排序在前、已处理完的词典键重新引入输出
// 单词规则按字典序单遍处理，插入的键不会被再次扫描
func TestSanitize_ReplacementDoesNotReintroduceEarlierKey(t *testing.T) {
	svc := NewSanitizerService(nil)

	result := svc.Sanitize("a wounded soldier limps across the street")
	assert.NotContains(t, result, "wounded")
	assert.False(t, termPatterns["injury"].MatchString(result), "输出重新引入了词典键 injury: %s", result)
}

// 短语规则先于单词规则，复合短语整体改写
func TestSanitize_PhraseBeforeTerm(t *testing.T) {
	svc := NewSanitizerService(nil)

	result := svc.Sanitize("the hero points a gun at the villain")

	assert.Contains(t, result, "aims a prop replica toward")
	assert.NotContains(t, strings.ToLower(result), "gun")
}

func TestAnalyze_Confidence(t *testing.T) {
	svc := NewSanitizerService(nil)

	clean := svc.Analyze("a calm garden in the morning")
	assert.False(t, clean.IsProblematic)
	assert.Zero(t, clean.Confidence)
	assert.Empty(t, clean.Issues)

	risky := svc.Analyze("a man stabbing another man, blood everywhere")
	assert.True(t, risky.IsProblematic)
	assert.Greater(t, risky.Confidence, 0.1)
	assert.NotEmpty(t, risky.Issues)

	// 置信度上限为1.0
	extreme := svc.Analyze("kill murder stab shoot gun knife blood gore torture bomb massacre slaughter violence")
	assert.LessOrEqual(t, extreme.Confidence, 1.0)
}

// 单个高风险词的置信度累加：1词 + 类别命中
func TestAnalyze_WeightsConfigurable(t *testing.T) {
	svc := NewSanitizerService(nil)
	svc.SetWeights(SanitizerWeights{PerTerm: 0.5, PerPhrase: 0.2, PerClassHit: 0, ProblemFloor: 0.4})

	analysis := svc.Analyze("a gun on the table")
	assert.InDelta(t, 0.5, analysis.Confidence, 0.001)
	assert.True(t, analysis.IsProblematic)
}

func TestSanitizeAggressive(t *testing.T) {
	svc := NewSanitizerService(nil)

	result := svc.SanitizeAggressive("a man stabbing another man, blood everywhere")

	assert.True(t, strings.HasPrefix(result, aggressivePrefix))
	assert.True(t, strings.HasSuffix(result, aggressiveSuffix))
	assert.NotContains(t, strings.ToLower(result), "stabbing")
	assert.NotContains(t, strings.ToLower(result), "blood")
	// 第二层把具体的戏剧化措辞也收敛掉
	assert.NotContains(t, strings.ToLower(result), "choreographed")
}

// 无审核提供者时 Process 不升级
func TestProcess_WithoutModerator(t *testing.T) {
	svc := NewSanitizerService(NewEmptyLLMService())

	result := svc.Process(context.Background(), "a gun on the table")

	assert.False(t, result.Escalated)
	assert.Nil(t, result.Moderation)
	assert.Equal(t, result.Analysis.SanitizedPrompt, result.Sanitized)
}

// moderatingProvider 返回固定审核结果的测试提供者
type moderatingProvider struct {
	fakeLLMProvider
	flagged bool
	calls   int
}

func (m *moderatingProvider) ModerateText(ctx context.Context, input string) (*llm.ModerationResult, error) {
	m.calls++
	return &llm.ModerationResult{Flagged: m.flagged}, nil
}

// 审核仍标记时升级到激进净化
func TestProcess_EscalatesWhenFlagged(t *testing.T) {
	provider := &moderatingProvider{flagged: true}
	svc := NewSanitizerService(NewLLMServiceWithProvider("fake", provider))

	result := svc.Process(context.Background(), "a man with a gun")

	require.NotNil(t, result.Moderation)
	assert.True(t, result.Escalated)
	assert.True(t, strings.HasPrefix(result.Sanitized, aggressivePrefix))
	assert.Equal(t, 1, provider.calls)
}

func TestProcess_NotEscalatedWhenClean(t *testing.T) {
	provider := &moderatingProvider{flagged: false}
	svc := NewSanitizerService(NewLLMServiceWithProvider("fake", provider))

	result := svc.Process(context.Background(), "a man with a gun")

	require.NotNil(t, result.Moderation)
	assert.False(t, result.Escalated)
	assert.True(t, strings.HasPrefix(result.Sanitized, productionPrefix))
}
