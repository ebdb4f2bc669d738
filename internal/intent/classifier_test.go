package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelink/carelink-ai/internal/llm"
)

type fakeGenerator struct {
	content string
	err     error
	calls   int
	lastReq llm.ChatRequest
}

func (f *fakeGenerator) Chat(_ context.Context, req llm.ChatRequest) (*llm.Response, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.content}, nil
}

func TestClassifyRuleStage(t *testing.T) {
	gen := &fakeGenerator{}
	c := NewClassifier(gen)

	tests := []struct {
		name     string
		text     string
		label    Label
		entities map[string]interface{}
	}{
		{
			name:     "blood pressure with values",
			text:     "今天血压 130/80",
			label:    LabelCheckinBloodPressure,
			entities: map[string]interface{}{"systolic": 130, "diastolic": 80},
		},
		{
			name:     "blood pressure fullwidth slash",
			text:     "血压130／85",
			label:    LabelCheckinBloodPressure,
			entities: map[string]interface{}{"systolic": 130, "diastolic": 85},
		},
		{
			name:     "blood sugar",
			text:     "空腹血糖 5.6",
			label:    LabelCheckinBloodSugar,
			entities: map[string]interface{}{"value": 5.6},
		},
		{
			name:     "medication",
			text:     "我吃药了",
			label:    LabelCheckinMedication,
			entities: map[string]interface{}{},
		},
		{
			name:     "exercise with duration",
			text:     "今天跑步30分钟",
			label:    LabelCheckinExercise,
			entities: map[string]interface{}{"duration": 30},
		},
		{
			name:     "diet",
			text:     "吃了早餐",
			label:    LabelCheckinDiet,
			entities: map[string]interface{}{},
		},
		{
			name:     "greeting",
			text:     "你好",
			label:    LabelGreeting,
			entities: map[string]interface{}{},
		},
		{
			name:     "complaint",
			text:     "我要投诉",
			label:    LabelComplaint,
			entities: map[string]interface{}{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := c.Classify(context.Background(), tt.text)
			assert.Equal(t, tt.label, result.Label)
			assert.Equal(t, ruleConfidence, result.Confidence)
			assert.Equal(t, tt.entities, result.Entities)
		})
	}

	// No model calls when rules matched.
	assert.Zero(t, gen.calls)
}

func TestClassifyRuleOrder(t *testing.T) {
	c := NewClassifier(&fakeGenerator{})

	// Measurement patterns outrank the social ones regardless of position.
	result := c.Classify(context.Background(), "你好，血压 130/80")
	assert.Equal(t, LabelCheckinBloodPressure, result.Label)
}

func TestClassifyModelFallback(t *testing.T) {
	gen := &fakeGenerator{content: `{"intent": "health_consult", "confidence": 0.85, "entities": {"topic": "高血压"}}`}
	c := NewClassifier(gen)

	result := c.Classify(context.Background(), "高血压平时要注意什么")
	assert.Equal(t, LabelHealthConsult, result.Label)
	assert.Equal(t, 0.85, result.Confidence)
	assert.Equal(t, map[string]interface{}{"topic": "高血压"}, result.Entities)

	require.Equal(t, 1, gen.calls)
	require.Len(t, gen.lastReq.Messages, 2)
	assert.Equal(t, "system", gen.lastReq.Messages[0].Role)
	assert.Equal(t, "用户输入：高血压平时要注意什么", gen.lastReq.Messages[1].Content)
	require.NotNil(t, gen.lastReq.Temperature)
	assert.Equal(t, float32(0.3), *gen.lastReq.Temperature)
	require.NotNil(t, gen.lastReq.MaxTokens)
	assert.Equal(t, 200, *gen.lastReq.MaxTokens)
}

func TestClassifyModelFencedJSON(t *testing.T) {
	gen := &fakeGenerator{content: "好的，分析如下：\n```json\n{\"intent\": \"symptom_analysis\", \"confidence\": 0.9, \"entities\": {}}\n```"}
	c := NewClassifier(gen)

	result := c.Classify(context.Background(), "最近总是头晕是怎么回事")
	assert.Equal(t, LabelSymptomAnalysis, result.Label)
	assert.Equal(t, 0.9, result.Confidence)
}

func TestClassifyModelBadOutput(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "not json", content: "这是一个健康咨询问题"},
		{name: "unbalanced braces", content: `{"intent": "health_consult"`},
		{name: "out of enum label", content: `{"intent": "sleep_checkin", "confidence": 0.9}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(&fakeGenerator{content: tt.content})
			result := c.Classify(context.Background(), "随便说点什么吧")
			assert.Equal(t, LabelUnknown, result.Label)
			assert.Zero(t, result.Confidence)
		})
	}
}

func TestClassifyModelError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("upstream down")}
	c := NewClassifier(gen)

	result := c.Classify(context.Background(), "帮我分析一下体检报告")
	assert.Equal(t, LabelUnknown, result.Label)
	assert.Zero(t, result.Confidence)
	assert.Equal(t, 1, gen.calls)
}

func TestFirstJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{name: "bare object", in: `{"a": 1}`, want: `{"a": 1}`, ok: true},
		{name: "nested object", in: `前缀 {"a": {"b": 2}} 后缀`, want: `{"a": {"b": 2}}`, ok: true},
		{name: "brace inside string", in: `{"a": "x{y}"}`, want: `{"a": "x{y}"}`, ok: true},
		{name: "skips invalid candidate", in: `{broken} {"a": 1}`, want: `{"a": 1}`, ok: true},
		{name: "no object", in: "plain text", ok: false},
		{name: "never closed", in: `{"a": 1`, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := firstJSONObject(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
