package intent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/carelink/carelink-ai/internal/llm"
)

// ruleThreshold is the minimum rule-stage confidence that short-circuits the
// model stage.
const ruleThreshold = 0.8

const classifierSystemPrompt = `你是一个专业的意图识别助手，负责识别用户在健康管理场景中的意图。

请根据用户输入，判断用户的意图类型，并从以下类别中选择一个：
1. health_consult - 健康咨询（询问健康知识、疾病相关问题）
2. symptom_analysis - 症状分析（描述症状、寻求分析）
3. medication_consult - 用药咨询（询问药物用法、副作用等）
4. checkin_blood_pressure - 血压打卡（报告血压数据）
5. checkin_blood_sugar - 血糖打卡（报告血糖数据）
6. checkin_medication - 用药打卡（报告已服药）
7. checkin_exercise - 运动打卡（报告运动情况）
8. checkin_diet - 饮食打卡（报告饮食情况）
9. complaint - 投诉反馈
10. greeting - 问候
11. chitchat - 闲聊
12. unknown - 未知意图

请以 JSON 格式返回结果：
{
  "intent": "意图类型",
  "confidence": 0.0-1.0,
  "entities": {}
}

注意：
- confidence 表示置信度，0.0-1.0 之间
- entities 用于提取关键信息（如血压值、血糖值等）
- 只返回 JSON，不要包含其他文字`

// Generator is the slice of the LLM client the classifier needs.
type Generator interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.Response, error)
}

// Classifier labels user turns with a two-stage pipeline: an ordered regex
// table first, a single model call as fallback. Classify never returns an
// error; every failure degrades to LabelUnknown.
type Classifier struct {
	generator Generator
	rules     []rule
	log       *logrus.Entry
}

// NewClassifier creates a classifier using the default rule table.
func NewClassifier(generator Generator) *Classifier {
	return &Classifier{
		generator: generator,
		rules:     defaultRules,
		log:       logrus.WithField("component", "intent"),
	}
}

// Classify labels one user turn.
func (c *Classifier) Classify(ctx context.Context, text string) Result {
	text = strings.TrimSpace(text)

	if result := matchRules(c.rules, text); result != nil && result.Confidence >= ruleThreshold {
		c.log.WithFields(logrus.Fields{
			"intent":     result.Label,
			"confidence": result.Confidence,
		}).Debug("intent matched by rules")
		return *result
	}

	if result := c.classifyByModel(ctx, text); result != nil {
		c.log.WithFields(logrus.Fields{
			"intent":     result.Label,
			"confidence": result.Confidence,
		}).Debug("intent classified by model")
		return *result
	}

	c.log.WithField("text", truncate(text, 50)).Warn("unable to classify intent")
	return Result{
		Label:      LabelUnknown,
		Confidence: 0.0,
		Entities:   map[string]interface{}{},
		SourceText: text,
	}
}

// classifyByModel asks the model for a JSON verdict. Single attempt; any
// failure returns nil and the caller degrades to unknown.
func (c *Classifier) classifyByModel(ctx context.Context, text string) *Result {
	resp, err := c.generator.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: classifierSystemPrompt},
			{Role: "user", Content: "用户输入：" + text},
		},
		Temperature: llm.Temperature(0.3),
		MaxTokens:   llm.MaxTokens(200),
	})
	if err != nil {
		c.log.WithError(err).Warn("model intent classification failed")
		return nil
	}

	var verdict struct {
		Intent     string                 `json:"intent"`
		Confidence float64                `json:"confidence"`
		Entities   map[string]interface{} `json:"entities"`
	}

	raw, ok := firstJSONObject(resp.Content)
	if !ok || json.Unmarshal([]byte(raw), &verdict) != nil {
		c.log.Warn("model returned unparseable intent verdict")
		return &Result{Label: LabelUnknown, Confidence: 0.0, Entities: map[string]interface{}{}, SourceText: text}
	}

	label, ok := ParseLabel(verdict.Intent)
	if !ok {
		return &Result{Label: LabelUnknown, Confidence: 0.0, Entities: map[string]interface{}{}, SourceText: text}
	}

	entities := verdict.Entities
	if entities == nil {
		entities = map[string]interface{}{}
	}
	return &Result{
		Label:      label,
		Confidence: verdict.Confidence,
		Entities:   entities,
		SourceText: text,
	}
}

// firstJSONObject extracts the first balanced JSON object from s, tolerating
// surrounding prose and code-fence markers.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(s); i++ {
			ch := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case ch == '\\':
					escaped = true
				case ch == '"':
					inString = false
				}
				continue
			}
			switch ch {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					candidate := s[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate, true
					}
					i = len(s) // abandon this start position
				}
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start = start + 1 + next
	}
	return "", false
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
