package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelink/carelink-ai/internal/checkin"
	"github.com/carelink/carelink-ai/internal/conversation"
	"github.com/carelink/carelink-ai/internal/intent"
	"github.com/carelink/carelink-ai/internal/knowledge"
	"github.com/carelink/carelink-ai/internal/llm"
)

type fakeGenerator struct {
	mu      sync.Mutex
	content string
	err     error
	// failAfter > 0 defers err until that many calls have succeeded.
	failAfter int
	calls     int
	lastReq   llm.ChatRequest
}

func (f *fakeGenerator) Chat(_ context.Context, req llm.ChatRequest) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastReq = req
	if f.err != nil && f.calls > f.failAfter {
		return nil, f.err
	}
	return &llm.Response{Content: f.content}, nil
}

type fakeAnswerer struct {
	answer *knowledge.Answer
	err    error
	calls  int

	lastQuery    string
	lastCategory string
}

func (f *fakeAnswerer) AnswerQuestion(_ context.Context, query string, _ int, category string) (*knowledge.Answer, error) {
	f.calls++
	f.lastQuery = query
	f.lastCategory = category
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

func newTestOrchestrator(gen *fakeGenerator, answerer *fakeAnswerer) (*Orchestrator, *conversation.Service) {
	conversations := conversation.NewService(conversation.NewMemoryStore(time.Hour), 10)
	classifier := intent.NewClassifier(gen)
	return New(conversations, classifier, checkin.New(), answerer, gen), conversations
}

func TestChatBloodPressureCheckin(t *testing.T) {
	o, conversations := newTestOrchestrator(&fakeGenerator{}, &fakeAnswerer{})

	result := o.Chat(context.Background(), ChatInput{OwnerID: "user-1", Text: "今天血压 130/80"})

	require.Empty(t, result.Err)
	require.NotEmpty(t, result.SessionID)
	assert.Equal(t, intent.LabelCheckinBloodPressure, result.Intent)
	assert.Equal(t, 0.9, result.Confidence)
	assert.Contains(t, result.Reply, "血压打卡成功")
	assert.Contains(t, result.Reply, "130")
	assert.Contains(t, result.Reply, "80")

	require.NotNil(t, result.Data)
	assert.Equal(t, "blood_pressure", result.Data["kind"])
	fields, ok := result.Data["fields"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 130, fields["systolic"])
	assert.Equal(t, 80, fields["diastolic"])

	session, err := conversations.GetSession(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, conversation.StateWaitingInput, session.State)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, conversation.RoleUser, session.Messages[0].Role)
	assert.Equal(t, conversation.RoleAssistant, session.Messages[1].Role)
	assert.Equal(t, "checkin_blood_pressure", session.Messages[1].Metadata["intent"])
	assert.Contains(t, session.Scratch, "last_checkin")
}

func TestChatIncompleteCheckinAsksClarification(t *testing.T) {
	o, conversations := newTestOrchestrator(&fakeGenerator{}, &fakeAnswerer{})

	first := o.Chat(context.Background(), ChatInput{Text: "今天血压 130/80"})
	require.Empty(t, first.Err)

	// Same kind, no parseable reading.
	second := o.Chat(context.Background(), ChatInput{SessionID: first.SessionID, Text: "帮我记录血压 999/80"})
	require.Empty(t, second.Err)
	assert.Equal(t, intent.LabelCheckinBloodPressure, second.Intent)
	assert.Contains(t, second.Reply, "130/80")
	assert.Nil(t, second.Data)

	session, err := conversations.GetSession(context.Background(), first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, conversation.StateWaitingConfirmation, session.State)
}

func TestChatGreetingSkipsModel(t *testing.T) {
	gen := &fakeGenerator{}
	o, _ := newTestOrchestrator(gen, &fakeAnswerer{})

	result := o.Chat(context.Background(), ChatInput{Text: "你好"})

	require.Empty(t, result.Err)
	assert.Equal(t, intent.LabelGreeting, result.Intent)
	assert.Contains(t, result.Reply, "健康管理助手")
	assert.Zero(t, gen.calls)
}

func TestChatConsultRoutesToKnowledge(t *testing.T) {
	gen := &fakeGenerator{content: `{"intent": "medication_consult", "confidence": 0.88, "entities": {}}`}
	answerer := &fakeAnswerer{answer: &knowledge.Answer{
		Text:       "二甲双胍应随餐服用。\n\n" + knowledge.Disclaimer,
		HasContext: true,
	}}
	o, _ := newTestOrchestrator(gen, answerer)

	result := o.Chat(context.Background(), ChatInput{Text: "二甲双胍什么时候服用比较好"})

	require.Empty(t, result.Err)
	assert.Equal(t, intent.LabelMedicationConsult, result.Intent)
	assert.Contains(t, result.Reply, knowledge.Disclaimer)
	assert.Equal(t, 1, answerer.calls)
	assert.Equal(t, "medication", answerer.lastCategory)
	assert.Equal(t, "二甲双胍什么时候服用比较好", answerer.lastQuery)
	assert.Equal(t, true, result.Data["has_context"])
}

func TestChatConsultFailureDegrades(t *testing.T) {
	gen := &fakeGenerator{content: `{"intent": "health_consult", "confidence": 0.9, "entities": {}}`}
	answerer := &fakeAnswerer{err: llm.ErrUpstream}
	o, conversations := newTestOrchestrator(gen, answerer)

	result := o.Chat(context.Background(), ChatInput{Text: "高血压平时要注意什么"})

	require.Empty(t, result.Err)
	assert.Contains(t, result.Reply, "暂时无法回答")
	assert.Contains(t, result.Reply, knowledge.Disclaimer)

	session, err := conversations.GetSession(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, conversation.StateWaitingInput, session.State)
}

func TestChatChitchatUsesHistory(t *testing.T) {
	gen := &fakeGenerator{content: `{"intent": "chitchat", "confidence": 0.85, "entities": {}}`}
	o, _ := newTestOrchestrator(gen, &fakeAnswerer{})

	result := o.Chat(context.Background(), ChatInput{Text: "今天天气真不错啊"})

	require.Empty(t, result.Err)
	assert.Equal(t, intent.LabelChitchat, result.Intent)

	// Two model calls: classification, then generation.
	require.Equal(t, 2, gen.calls)
	req := gen.lastReq
	require.NotEmpty(t, req.Messages)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "健康管理助手")
	assert.Equal(t, "今天天气真不错啊", req.Messages[len(req.Messages)-1].Content)
	require.NotNil(t, req.Temperature)
	assert.Equal(t, float32(0.8), *req.Temperature)
	require.NotNil(t, req.MaxTokens)
	assert.Equal(t, 300, *req.MaxTokens)
}

func TestChatFailureResetsSessionState(t *testing.T) {
	// Classification succeeds, the chitchat generation call fails: the turn
	// ends with the apology and the session returns to waiting_input rather
	// than staying parked in processing.
	gen := &fakeGenerator{
		content:   `{"intent": "chitchat", "confidence": 0.85, "entities": {}}`,
		err:       llm.ErrUpstream,
		failAfter: 1,
	}
	o, conversations := newTestOrchestrator(gen, &fakeAnswerer{})

	result := o.Chat(context.Background(), ChatInput{Text: "今天天气真不错啊"})

	assert.NotEmpty(t, result.Err)
	assert.Equal(t, errorReply, result.Reply)

	session, err := conversations.GetSession(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, conversation.StateWaitingInput, session.State)

	// Only the user message landed before the failure.
	require.Len(t, session.Messages, 1)
	assert.Equal(t, conversation.RoleUser, session.Messages[0].Role)
}

func TestChatClassifierFailureDegradesToHelp(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("model down")}
	o, _ := newTestOrchestrator(gen, &fakeAnswerer{})

	// No rule matches and the model is down: classification degrades to
	// unknown and the turn still completes with the canned help reply.
	result := o.Chat(context.Background(), ChatInput{Text: "随便聊聊"})

	require.Empty(t, result.Err)
	assert.Equal(t, intent.LabelUnknown, result.Intent)
	assert.Contains(t, result.Reply, "不太理解")
}

func TestChatUnknownIntentHelpMenu(t *testing.T) {
	gen := &fakeGenerator{content: "这不是 JSON"}
	o, _ := newTestOrchestrator(gen, &fakeAnswerer{})

	result := o.Chat(context.Background(), ChatInput{Text: "呃"})

	require.Empty(t, result.Err)
	assert.Equal(t, intent.LabelUnknown, result.Intent)
	assert.Zero(t, result.Confidence)
	assert.Contains(t, result.Reply, "我可以如何帮助你")
}

func TestChatReusesSession(t *testing.T) {
	o, conversations := newTestOrchestrator(&fakeGenerator{}, &fakeAnswerer{})

	first := o.Chat(context.Background(), ChatInput{Text: "你好"})
	second := o.Chat(context.Background(), ChatInput{SessionID: first.SessionID, Text: "今天血压 130/80"})

	assert.Equal(t, first.SessionID, second.SessionID)

	session, err := conversations.GetSession(context.Background(), first.SessionID)
	require.NoError(t, err)
	assert.Len(t, session.Messages, 4)
}

func TestChatRecreatesExpiredSession(t *testing.T) {
	o, conversations := newTestOrchestrator(&fakeGenerator{}, &fakeAnswerer{})

	result := o.Chat(context.Background(), ChatInput{SessionID: "stale-id", Text: "你好"})

	require.Empty(t, result.Err)
	assert.Equal(t, "stale-id", result.SessionID)

	session, err := conversations.GetSession(context.Background(), "stale-id")
	require.NoError(t, err)
	assert.Len(t, session.Messages, 2)
}

func TestChatConcurrentSessionsIsolated(t *testing.T) {
	o, conversations := newTestOrchestrator(&fakeGenerator{}, &fakeAnswerer{})

	const turns = 2
	ids := make([]string, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		i := i
		ids[i] = fmt.Sprintf("session-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < turns; n++ {
				result := o.Chat(context.Background(), ChatInput{
					SessionID: ids[i],
					Text:      fmt.Sprintf("今天血压 %d/80", 120+i),
				})
				assert.Empty(t, result.Err)
			}
		}()
	}
	wg.Wait()

	for i, id := range ids {
		session, err := conversations.GetSession(context.Background(), id)
		require.NoError(t, err)
		assert.Len(t, session.Messages, turns*2, "session %d", i)
		for _, m := range session.Messages {
			if m.Role == conversation.RoleUser {
				assert.Contains(t, m.Content, fmt.Sprintf("%d/80", 120+i))
			}
		}
	}
}

func TestChatConcurrentTurnsSameSession(t *testing.T) {
	o, conversations := newTestOrchestrator(&fakeGenerator{}, &fakeAnswerer{})

	seed := o.Chat(context.Background(), ChatInput{Text: "你好"})
	require.Empty(t, seed.Err)

	var wg sync.WaitGroup
	results := make([]*ChatResult, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = o.Chat(context.Background(), ChatInput{
				SessionID: seed.SessionID,
				Text:      fmt.Sprintf("今天血压 %d/80", 120+i),
			})
		}()
	}
	wg.Wait()

	for i, result := range results {
		require.NotNil(t, result)
		assert.Empty(t, result.Err, "turn %d", i)
	}

	// Both user+assistant pairs land, in some serial order, after the seed
	// turn's pair.
	session, err := conversations.GetSession(context.Background(), seed.SessionID)
	require.NoError(t, err)
	require.Len(t, session.Messages, 6)

	var userTexts []string
	for i := 2; i < len(session.Messages); i += 2 {
		assert.Equal(t, conversation.RoleUser, session.Messages[i].Role)
		assert.Equal(t, conversation.RoleAssistant, session.Messages[i+1].Role)
		userTexts = append(userTexts, session.Messages[i].Content)
	}
	assert.ElementsMatch(t, []string{"今天血压 120/80", "今天血压 121/80"}, userTexts)
}

func TestConfirmationReplies(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		rec  *checkin.Record
		want []string
	}{
		{
			name: "blood pressure with heart rate",
			rec: &checkin.Record{
				Kind:      checkin.KindBloodPressure,
				Fields:    map[string]interface{}{"systolic": 130, "diastolic": 80, "heart_rate": 72, "unit": "mmHg"},
				Timestamp: now,
			},
			want: []string{"130 mmHg", "80 mmHg", "72 bpm"},
		},
		{
			name: "blood sugar timing localized",
			rec: &checkin.Record{
				Kind:      checkin.KindBloodSugar,
				Fields:    map[string]interface{}{"value": 5.6, "timing": checkin.TimingFasting, "unit": "mmol/L"},
				Timestamp: now,
			},
			want: []string{"5.6 mmol/L", "空腹"},
		},
		{
			name: "exercise",
			rec: &checkin.Record{
				Kind:      checkin.KindExercise,
				Fields:    map[string]interface{}{"duration": 30, "steps": 8000},
				Timestamp: now,
			},
			want: []string{"30 分钟", "8000 步"},
		},
		{
			name: "diet meal localized",
			rec: &checkin.Record{
				Kind:      checkin.KindDiet,
				Fields:    map[string]interface{}{"meal_type": "breakfast"},
				Timestamp: now,
			},
			want: []string{"早餐"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := confirmationReply(tt.rec)
			assert.Contains(t, reply, "✅")
			for _, w := range tt.want {
				assert.Contains(t, reply, w)
			}
		})
	}
}
