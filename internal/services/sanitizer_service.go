// internal/services/sanitizer_service.go
package services

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Corphon/StoryboardForge/internal/llm"
	"github.com/Corphon/StoryboardForge/internal/utils"
)

// PromptAnalysis 提示词风险分析结果
type PromptAnalysis struct {
	IsProblematic   bool     `json:"is_problematic"`
	Issues          []string `json:"issues,omitempty"`
	SanitizedPrompt string   `json:"sanitized_prompt"`
	Confidence      float64  `json:"confidence"`
}

// PromptProcessResult 完整处理结果（改写+审核+必要时的激进降级）
type PromptProcessResult struct {
	Original   string                `json:"original"`
	Sanitized  string                `json:"sanitized"`
	Analysis   *PromptAnalysis       `json:"analysis"`
	Moderation *llm.ModerationResult `json:"moderation,omitempty"`
	Escalated  bool                  `json:"escalated"`
}

// SanitizerWeights 置信度累加权重，启发式常量，可调
type SanitizerWeights struct {
	PerTerm      float64
	PerPhrase    float64
	PerClassHit  float64
	ProblemFloor float64
}

// DefaultSanitizerWeights 默认权重
func DefaultSanitizerWeights() SanitizerWeights {
	return SanitizerWeights{
		PerTerm:      0.1,
		PerPhrase:    0.2,
		PerClassHit:  0.05,
		ProblemFloor: 0.1,
	}
}

// SanitizerService 将含风险词汇的图像提示词改写为制片安全的等义表达
// 图像后端会拒绝含暴力/武器/伤害词汇的提示词，即使上下文明显是影视分镜，
// 因此做有损但保留电影语义的同义替换，而不是拒绝该镜头
type SanitizerService struct {
	LLMService *LLMService
	weights    SanitizerWeights
}

// NewSanitizerService 创建净化服务
func NewSanitizerService(llmService *LLMService) *SanitizerService {
	return &SanitizerService{
		LLMService: llmService,
		weights:    DefaultSanitizerWeights(),
	}
}

// SetWeights 覆盖置信度权重
func (s *SanitizerService) SetWeights(w SanitizerWeights) {
	s.weights = w
}

// 短语级替换，在单词替换之前按序应用
// 复合短语逐词替换会破坏语义，必须整体改写
type phraseRule struct {
	pattern     *regexp.Regexp
	replacement string
}

var phraseRules = []phraseRule{
	{regexp.MustCompile(`(?i)\bblood\s+everywhere\b`), "red stage effects throughout scene"},
	{regexp.MustCompile(`(?i)\bcovered\s+in\s+blood\b`), "covered in red stage makeup"},
	{regexp.MustCompile(`(?i)\bpool\s+of\s+blood\b`), "dark red stage liquid on the floor"},
	{regexp.MustCompile(`(?i)\bblood\s+spatter(ed)?\b`), "red paint effect"},
	{regexp.MustCompile(`(?i)\bbeaten\s+to\s+death\b`), "dramatically defeated in staged combat"},
	{regexp.MustCompile(`(?i)\bshot\s+(to\s+death|dead)\b`), "dramatically defeated in an action sequence"},
	{regexp.MustCompile(`(?i)\bstabbed\s+to\s+death\b`), "dramatically defeated in a choreographed duel"},
	{regexp.MustCompile(`(?i)\bpoints?\s+a\s+gun\s+at\b`), "aims a prop replica toward"},
	{regexp.MustCompile(`(?i)\bholds?\s+at\s+gunpoint\b`), "confronts with a prop replica"},
	{regexp.MustCompile(`(?i)\bslits?\s+(his|her|their)\s+throat\b`), "performs a dramatic staged confrontation"},
	{regexp.MustCompile(`(?i)\bdead\s+bod(y|ies)\b`), "actor lying still in a dramatic scene"},
	{regexp.MustCompile(`(?i)\bcommits?\s+suicide\b`), "faces a moment of deep despair"},
	{regexp.MustCompile(`(?i)\btakes?\s+(his|her|their)\s+own\s+life\b`), "reaches an emotional low point"},
	{regexp.MustCompile(`(?i)\bdomestic\s+violence\b`), "intense domestic conflict"},
	{regexp.MustCompile(`(?i)\bdrug\s+deal(er|ing)?\b`), "suspicious back-alley exchange"},
	{regexp.MustCompile(`(?i)\bopen\s+wound(s)?\b`), "special effects makeup"},
	{regexp.MustCompile(`(?i)\bhostage\s+situation\b`), "tense dramatic standoff"},
	{regexp.MustCompile(`(?i)\bexecution\s+scene\b`), "dramatic climax scene"},
	{regexp.MustCompile(`(?i)\btorture\s+(scene|chamber)\b`), "intense interrogation set"},
	{regexp.MustCompile(`(?i)\bgraphic\s+violence\b`), "intense choreographed action"},
}

// 风险词 → 制片安全同义词。整词匹配，避免部分词误报
// 替换值中不得出现任何词典键
var riskTermDictionary = map[string]string{
	// 暴力动作
	"kill":         "dramatically defeat",
	"kills":        "dramatically defeats",
	"killed":       "dramatically defeated",
	"killing":      "dramatically defeating",
	"murder":       "dramatic confrontation with",
	"murders":      "dramatically confronts",
	"murdered":     "dramatically confronted",
	"murderer":     "menacing antagonist",
	"stab":         "perform a staged lunge at",
	"stabs":        "performs a staged lunge at",
	"stabbed":      "struck in choreographed combat",
	"stabbing":     "performing a choreographed lunge at",
	"shoot":        "aim a prop replica at",
	"shoots":       "aims a prop replica at",
	"shooting":     "aiming a prop replica at",
	"strangle":     "dramatically restrain",
	"strangles":    "dramatically restrains",
	"strangling":   "dramatically restraining",
	"strangled":    "dramatically restrained",
	"choke":        "dramatically restrain",
	"choking":      "dramatically restraining",
	"beat":         "confront in staged combat",
	"beats":        "confronts in staged combat",
	"beating":      "staged combat against",
	"punch":        "throw a staged strike at",
	"punches":      "throws a staged strike at",
	"punching":     "throwing staged strikes at",
	"slap":         "deliver a staged strike to",
	"slaps":        "delivers a staged strike to",
	"attack":       "confront",
	"attacks":      "confronts",
	"attacking":    "confronting",
	"attacked":     "confronted",
	"assault":      "aggressive confrontation",
	"assaults":     "aggressively confronts",
	"fight":        "choreographed combat",
	"fights":       "engages in choreographed combat",
	"fighting":     "choreographed combat",
	"violence":     "intense dramatic action",
	"violent":      "intensely dramatic",
	"violently":    "with dramatic intensity",
	"brutal":       "intensely dramatic",
	"brutally":     "with dramatic intensity",
	"slaughter":    "dramatic overwhelming defeat",
	"massacre":     "large-scale dramatic conflict",
	"execute":      "dramatically confront",
	"executed":     "dramatically confronted",
	"execution":    "dramatic climax",
	"torture":      "intense interrogation",
	"tortured":     "intensely interrogated",
	"torturing":    "intensely interrogating",
	"abuse":        "mistreatment",
	"abused":       "mistreated",
	"abusing":      "mistreating",
	"kidnap":       "dramatically seize",
	"kidnapped":    "dramatically seized",
	"kidnapping":   "dramatic abduction storyline",
	"hostage":      "captive character",
	"hostages":     "captive characters",
	"terrorist":    "menacing antagonist",
	"terrorists":   "menacing antagonists",
	"bomb":         "prop explosive device",
	"bombs":        "prop explosive devices",
	"bombing":      "staged pyrotechnic event",
	"explosion":    "controlled pyrotechnic effect",
	"explosions":   "controlled pyrotechnic effects",
	"explode":      "erupt with pyrotechnic effects",
	"explodes":     "erupts with pyrotechnic effects",
	"exploding":    "erupting with pyrotechnic effects",

	// 武器
	"gun":        "prop replica",
	"guns":       "prop replicas",
	"gunshot":    "staged bang effect",
	"gunshots":   "staged bang effects",
	"gunfire":    "staged muzzle-flash effects",
	"pistol":     "compact prop replica",
	"pistols":    "compact prop replicas",
	"rifle":      "long prop replica",
	"rifles":     "long prop replicas",
	"shotgun":    "hunting prop replica",
	"firearm":    "prop replica",
	"firearms":   "prop replicas",
	"knife":      "prop cutlery replica",
	"knives":     "prop cutlery replicas",
	"dagger":     "short prop replica",
	"blade":      "prop edged item",
	"blades":     "prop edged items",
	"sword":      "ceremonial prop replica",
	"swords":     "ceremonial prop replicas",
	"machete":    "field prop replica",
	"axe":        "prop long-handled tool",
	"weapon":     "prop armament",
	"weapons":    "prop armaments",
	"bullet":     "prop casing",
	"bullets":    "prop casings",
	"ammunition": "prop supplies",
	"grenade":    "prop device",
	"grenades":   "prop devices",

	// 伤害与血腥
	"blood":      "red stage makeup",
	"bloody":     "covered in red stage makeup",
	"bloodied":   "covered in red stage makeup",
	"bleed":      "show red stage makeup",
	"bleeds":     "shows red stage makeup",
	"bleeding":   "showing red stage makeup",
	"gore":       "dramatic special effects makeup",
	"gory":       "with dramatic special effects makeup",
	"wound":      "special effects makeup mark",
	"wounds":     "special effects makeup marks",
	"wounded":    "wearing effect makeup",
	"injury":     "staged effect makeup",
	"injuries":   "staged effect makeup",
	"injured":    "wearing effect makeup",
	"corpse":     "actor lying motionless",
	"corpses":    "actors lying motionless",
	"dead":       "motionless",
	"death":      "dramatic conclusion",
	"dying":      "fading dramatically",
	"die":        "fall dramatically",
	"dies":       "falls dramatically",
	"died":       "fell dramatically",
	"decapitate": "dramatically vanquish",
	"dismember":  "dramatically vanquish",
	"mutilate":   "dramatically mar",
	"mutilated":  "dramatically marred",
	"scar":       "makeup mark",
	"scars":      "makeup marks",
	"bruise":     "makeup shading",
	"bruises":    "makeup shading",
	"bruised":    "with makeup shading",
	"broken":     "visibly damaged",
	"suicide":    "moment of deep despair",
	"suicidal":   "deeply despairing",
	"hanging":    "suspended dramatically",
	"drown":      "struggle in water",
	"drowning":   "struggling in water",
	"drowned":    "overcome in water",
	"suffocate":  "gasp dramatically",
	"poison":     "suspicious vial",
	"poisoned":   "dramatically stricken",
	"overdose":   "medical emergency",

	// 成人内容
	"nude":       "modestly dressed",
	"nudity":     "modest costuming",
	"naked":      "modestly dressed",
	"erotic":     "romantic",
	"sexual":     "romantic",
	"sexy":       "elegant",
	"seductive":  "charismatic",
	"explicit":   "suggestive of drama",
	"fetish":     "stylized costume",
	"lingerie":   "elegant attire",
	"stripper":   "dancer",
	"prostitute": "street character",

	// 毒品与违禁
	"drug":     "suspicious substance",
	"drugs":    "suspicious substances",
	"cocaine":  "suspicious white powder prop",
	"heroin":   "suspicious substance prop",
	"meth":     "suspicious crystal prop",
	"narcotic": "suspicious substance",
	"syringe":  "medical prop",
	"needle":   "medical prop",

	// 恐怖元素
	"horror":     "suspenseful atmosphere",
	"horrifying": "deeply suspenseful",
	"terrifying": "intensely suspenseful",
	"demonic":    "dark fantasy",
	"satanic":    "dark ritualistic",
	"zombie":     "heavily made-up creature actor",
	"zombies":    "heavily made-up creature actors",
	"monster":    "creature-costume actor",
	"monsters":   "creature-costume actors",
	"creepy":     "eerie",
	"disturbing": "unsettling",
	"nightmare":  "dark dream sequence",
	"scream":     "dramatic cry",
	"screams":    "dramatic cries",
	"screaming":  "crying out dramatically",
}

// 复杂风险类别，用于密度加权
var complexRiskClasses = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(blood\w*|gor\w+|corpse\w*|mutilat\w+)\b`),
	regexp.MustCompile(`(?i)\b(gun\w*|rifle\w*|pistol\w*|firearm\w*|knife|knives|blade\w*)\b`),
	regexp.MustCompile(`(?i)\b(kill\w*|murder\w*|stab\w*|shoot\w*|strangl\w*|slaughter\w*)\b`),
	regexp.MustCompile(`(?i)\b(tortur\w*|execut\w*|massacr\w*|terror\w*|bomb\w*)\b`),
}

// 制片语境框定，独立于词汇选择本身影响审核结果
const (
	productionPrefix = "Film production storyboard frame: "
	safetySuffix     = ", professional movie scene, artistic lighting, safe for work content"

	aggressivePrefix = "Professional film production storyboard illustration: "
	aggressiveSuffix = ", family-friendly, suitable for all audiences, cinematic still, tasteful composition"
)

// 词边界正则缓存，按键排序保证改写结果确定
var (
	sortedRiskTerms = buildSortedRiskTerms()
	termPatterns    = buildTermPatterns()
)

func buildSortedRiskTerms() []string {
	terms := make([]string, 0, len(riskTermDictionary))
	for term := range riskTermDictionary {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}

func buildTermPatterns() map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp, len(riskTermDictionary))
	for term := range riskTermDictionary {
		patterns[term] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
	}
	return patterns
}

// rewrite 先短语后单词地应用静态替换，返回改写结果和记录的问题
func rewrite(prompt string) (string, []string, int, int) {
	result := prompt
	var issues []string
	phraseHits := 0
	termHits := 0

	// 短语替换先行
	for _, rule := range phraseRules {
		if rule.pattern.MatchString(result) {
			issues = append(issues, fmt.Sprintf("risky phrase: %q", rule.pattern.FindString(result)))
			result = rule.pattern.ReplaceAllString(result, rule.replacement)
			phraseHits++
		}
	}

	// 单词级整词替换
	for _, term := range sortedRiskTerms {
		pattern := termPatterns[term]
		if pattern.MatchString(result) {
			issues = append(issues, fmt.Sprintf("risky term: %q", term))
			result = pattern.ReplaceAllString(result, riskTermDictionary[term])
			termHits++
		}
	}

	return result, issues, phraseHits, termHits
}

// Analyze 分析提示词风险并给出改写结果
func (s *SanitizerService) Analyze(prompt string) *PromptAnalysis {
	rewritten, issues, phraseHits, termHits := rewrite(prompt)

	confidence := float64(termHits)*s.weights.PerTerm + float64(phraseHits)*s.weights.PerPhrase

	// 复杂类别按原文匹配密度加权
	for _, class := range complexRiskClasses {
		matches := class.FindAllString(prompt, -1)
		confidence += float64(len(matches)) * s.weights.PerClassHit
	}

	if confidence > 1.0 {
		confidence = 1.0
	}

	return &PromptAnalysis{
		IsProblematic:   confidence > s.weights.ProblemFloor || len(issues) > 0,
		Issues:          issues,
		SanitizedPrompt: frameForProduction(rewritten),
		Confidence:      confidence,
	}
}

// Sanitize 返回制片安全的提示词
func (s *SanitizerService) Sanitize(prompt string) string {
	rewritten, _, _, _ := rewrite(prompt)
	return frameForProduction(rewritten)
}

// frameForProduction 包裹制片语境前后缀
func frameForProduction(prompt string) string {
	return productionPrefix + strings.TrimSpace(prompt) + safetySuffix
}

// 激进降级：将剩余的戏剧性表述收敛为最泛化的安全语言
var aggressiveRules = []phraseRule{
	{regexp.MustCompile(`(?i)\b(staged|choreographed)\s+(combat|lunge|strike|strikes|duel)\b`), "dramatic performance"},
	{regexp.MustCompile(`(?i)\bred\s+stage\s+(makeup|effects|liquid)\b`), "theatrical makeup"},
	{regexp.MustCompile(`(?i)\bprop\s+\w+(\s+replica)?\b`), "film prop"},
	{regexp.MustCompile(`(?i)\b(confront\w*|restrain\w*|defeat\w*|vanquish\w*)\b`), "face"},
	{regexp.MustCompile(`(?i)\b(menacing|intense(ly)?|aggressive(ly)?|dark)\b`), "dramatic"},
	{regexp.MustCompile(`(?i)\b(pyrotechnic|explosive)\s+\w+\b`), "visual effect"},
	{regexp.MustCompile(`(?i)\blying\s+(still|motionless)\b`), "resting"},
	{regexp.MustCompile(`(?i)\bmotionless\b`), "still"},
}

// SanitizeAggressive 第二层净化，审核仍标记时使用
// 先做常规改写，再把剩余的具体戏剧化措辞收敛为泛化表达，并换用更强的框定语
func (s *SanitizerService) SanitizeAggressive(prompt string) string {
	rewritten, _, _, _ := rewrite(prompt)

	for _, rule := range aggressiveRules {
		rewritten = rule.pattern.ReplaceAllString(rewritten, rule.replacement)
	}

	return aggressivePrefix + strings.TrimSpace(rewritten) + aggressiveSuffix
}

// ModeratePrompt 调用外部审核，失败时按未标记处理（fail-open），不阻塞流水线
func (s *SanitizerService) ModeratePrompt(ctx context.Context, prompt string) *llm.ModerationResult {
	if s.LLMService == nil {
		return nil
	}

	result, err := s.LLMService.ModerateContent(ctx, prompt)
	if err != nil {
		utils.GetLogger().Warn("Moderation call failed, treating as not flagged", map[string]interface{}{
			"err": err.Error(),
		})
		return nil
	}
	return result
}

// Process 完整处理：静态改写 → 审核 → 仍被标记时激进降级
func (s *SanitizerService) Process(ctx context.Context, prompt string) *PromptProcessResult {
	analysis := s.Analyze(prompt)

	result := &PromptProcessResult{
		Original:  prompt,
		Sanitized: analysis.SanitizedPrompt,
		Analysis:  analysis,
	}

	moderation := s.ModeratePrompt(ctx, result.Sanitized)
	result.Moderation = moderation

	if moderation != nil && moderation.Flagged {
		result.Sanitized = s.SanitizeAggressive(prompt)
		result.Escalated = true

		utils.GetLogger().Info("Prompt escalated to aggressive sanitization", map[string]interface{}{
			"confidence": analysis.Confidence,
		})
	}

	return result
}
