package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/carelink/carelink-ai/internal/checkin"
	"github.com/carelink/carelink-ai/internal/conversation"
	"github.com/carelink/carelink-ai/internal/intent"
	"github.com/carelink/carelink-ai/internal/knowledge"
	"github.com/carelink/carelink-ai/internal/llm"
)

// Classifier labels one user turn.
type Classifier interface {
	Classify(ctx context.Context, text string) intent.Result
}

// Answerer synthesizes knowledge-grounded replies.
type Answerer interface {
	AnswerQuestion(ctx context.Context, query string, topK int, category string) (*knowledge.Answer, error)
}

// Generator produces chat completions for the chitchat path.
type Generator interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.Response, error)
}

// ChatInput is one inbound user turn.
type ChatInput struct {
	SessionID string `json:"session_id,omitempty"`
	OwnerID   string `json:"user_id,omitempty"`
	Text      string `json:"message"`
}

// ChatResult is the outcome of one turn. Err is set instead of returning an
// error: a failed backend call still produces a reply.
type ChatResult struct {
	SessionID  string                 `json:"session_id"`
	Reply      string                 `json:"reply"`
	Intent     intent.Label           `json:"intent,omitempty"`
	Confidence float64                `json:"confidence,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Err        string                 `json:"error,omitempty"`
}

// turnOutcome is what one routed handler produces.
type turnOutcome struct {
	reply     string
	data      map[string]interface{}
	nextState conversation.State
}

// Orchestrator routes classified turns to the checkin, knowledge, and chat
// paths while keeping the session record consistent.
type Orchestrator struct {
	conversations *conversation.Service
	classifier    Classifier
	extractor     *checkin.Extractor
	answerer      Answerer
	generator     Generator
	turnLocks     *keyedMutex
	log           *logrus.Entry
}

// New wires the orchestrator.
func New(conversations *conversation.Service, classifier Classifier, extractor *checkin.Extractor, answerer Answerer, generator Generator) *Orchestrator {
	return &Orchestrator{
		conversations: conversations,
		classifier:    classifier,
		extractor:     extractor,
		answerer:      answerer,
		generator:     generator,
		turnLocks:     newKeyedMutex(),
		log:           logrus.WithField("component", "agent"),
	}
}

// Chat processes one user turn end to end. It never returns an error and
// never panics out: every failure path yields an apologetic reply so a broken
// backend call cannot kill a turn.
func (o *Orchestrator) Chat(ctx context.Context, in ChatInput) (result *ChatResult) {
	defer func() {
		if r := recover(); r != nil {
			o.log.WithField("panic", r).Error("chat turn panicked")
			result = &ChatResult{
				SessionID: in.SessionID,
				Reply:     errorReply,
				Err:       fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	sessionID := in.SessionID
	if sessionID == "" {
		created, err := o.conversations.CreateSession(ctx, in.OwnerID, "")
		if err != nil {
			return o.failure(ctx, "", err)
		}
		sessionID = created.ID
	}

	// Concurrent turns on one session run serially so each user+assistant
	// pair lands without interleaving. Distinct sessions never contend.
	unlock := o.turnLocks.lock(sessionID)
	defer unlock()

	session, err := o.resolveSession(ctx, in.OwnerID, sessionID)
	if err != nil {
		return o.failure(ctx, sessionID, err)
	}

	if _, err := o.conversations.AppendMessage(ctx, session.ID, conversation.RoleUser, in.Text, nil); err != nil {
		return o.failure(ctx, session.ID, err)
	}
	if err := o.conversations.Transition(ctx, session.ID, conversation.StateProcessing); err != nil {
		return o.failure(ctx, session.ID, err)
	}

	classified := o.classifier.Classify(ctx, in.Text)
	o.log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"intent":     classified.Label,
		"confidence": classified.Confidence,
	}).Info("intent recognized")

	outcome, err := o.route(ctx, session.ID, in.Text, classified)
	if err != nil {
		return o.failure(ctx, session.ID, err)
	}

	if _, err := o.conversations.AppendMessage(ctx, session.ID, conversation.RoleAssistant, outcome.reply, map[string]interface{}{
		"intent":     string(classified.Label),
		"confidence": classified.Confidence,
	}); err != nil {
		return o.failure(ctx, session.ID, err)
	}
	if err := o.conversations.Transition(ctx, session.ID, outcome.nextState); err != nil {
		return o.failure(ctx, session.ID, err)
	}

	return &ChatResult{
		SessionID:  session.ID,
		Reply:      outcome.reply,
		Intent:     classified.Label,
		Confidence: classified.Confidence,
		Data:       outcome.data,
	}
}

// resolveSession loads the session, recreating it under the same id when it
// has expired or never existed. Callers hold the turn lock for id.
func (o *Orchestrator) resolveSession(ctx context.Context, ownerID, id string) (*conversation.Session, error) {
	session, err := o.conversations.GetSession(ctx, id)
	if errors.Is(err, conversation.ErrSessionNotFound) {
		o.log.WithField("session_id", id).Warn("session not found, creating new")
		return o.conversations.CreateSession(ctx, ownerID, id)
	}
	return session, err
}

func (o *Orchestrator) route(ctx context.Context, sessionID, text string, classified intent.Result) (*turnOutcome, error) {
	switch {
	case classified.Label == intent.LabelGreeting:
		return &turnOutcome{reply: greetingReply, nextState: conversation.StateWaitingInput}, nil

	case classified.Label == intent.LabelChitchat:
		return o.handleChitchat(ctx, sessionID)

	case classified.Label.IsCheckin():
		return o.handleCheckin(ctx, sessionID, text, classified)

	case classified.Label.IsConsult():
		return o.handleConsult(ctx, text, classified.Label)

	default:
		return &turnOutcome{reply: unknownReply, nextState: conversation.StateWaitingInput}, nil
	}
}

// handleChitchat generates small talk over the recent history. Errors
// propagate so the turn ends in the generic failure reply.
func (o *Orchestrator) handleChitchat(ctx context.Context, sessionID string) (*turnOutcome, error) {
	history, err := o.conversations.ContextMessages(ctx, sessionID, o.conversations.Window())
	if err != nil {
		return nil, err
	}

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	for _, m := range history {
		messages = append(messages, llm.Message{Role: string(m.Role), Content: m.Content})
	}

	resp, err := o.generator.Chat(ctx, llm.ChatRequest{
		Messages:    messages,
		Temperature: llm.Temperature(0.8),
		MaxTokens:   llm.MaxTokens(300),
	})
	if err != nil {
		return nil, err
	}

	return &turnOutcome{reply: resp.Content, nextState: conversation.StateWaitingInput}, nil
}

// handleCheckin extracts structured data from the turn. Incomplete data asks
// a clarifying question and parks the session in waiting_confirmation.
func (o *Orchestrator) handleCheckin(ctx context.Context, sessionID, text string, classified intent.Result) (*turnOutcome, error) {
	kind, ok := intent.CheckinKind(classified.Label)
	if !ok {
		return &turnOutcome{reply: "抱歉，我无法识别您要打卡的类型。", nextState: conversation.StateWaitingInput}, nil
	}

	rec := o.extractor.Extract(kind, text, classified.Entities)
	if rec == nil {
		return &turnOutcome{
			reply:     clarificationPrompt(kind),
			nextState: conversation.StateWaitingConfirmation,
		}, nil
	}

	data := map[string]interface{}{
		"kind":      string(rec.Kind),
		"fields":    rec.Fields,
		"timestamp": rec.Timestamp,
	}
	if rec.Notes != "" {
		data["notes"] = rec.Notes
	}

	if err := o.conversations.UpdateScratch(ctx, sessionID, map[string]interface{}{"last_checkin": data}); err != nil {
		o.log.WithError(err).WithField("session_id", sessionID).Error("failed to record checkin")
		return &turnOutcome{reply: checkinFailedReply, nextState: conversation.StateWaitingInput}, nil
	}

	return &turnOutcome{
		reply:     confirmationReply(rec),
		data:      data,
		nextState: conversation.StateWaitingInput,
	}, nil
}

// handleConsult answers health questions from the knowledge base. A failed
// retrieval or synthesis degrades to a canned reply, not a failed turn.
func (o *Orchestrator) handleConsult(ctx context.Context, text string, label intent.Label) (*turnOutcome, error) {
	category := ""
	switch label {
	case intent.LabelMedicationConsult:
		category = "medication"
	case intent.LabelSymptomAnalysis:
		category = "symptom"
	}

	answer, err := o.answerer.AnswerQuestion(ctx, text, 0, category)
	if err != nil {
		o.log.WithError(err).Warn("knowledge query failed")
		return &turnOutcome{
			reply:     "抱歉，我暂时无法回答这个问题。" + knowledge.Disclaimer,
			nextState: conversation.StateWaitingInput,
		}, nil
	}

	return &turnOutcome{
		reply: answer.Text,
		data: map[string]interface{}{
			"sources":     answer.Sources,
			"has_context": answer.HasContext,
		},
		nextState: conversation.StateWaitingInput,
	}, nil
}

// failure ends a broken turn with the generic apology. The session is moved
// back to waiting_input, best effort, so a later turn does not start from a
// stale processing state.
func (o *Orchestrator) failure(ctx context.Context, sessionID string, err error) *ChatResult {
	o.log.WithError(err).WithField("session_id", sessionID).Error("chat turn failed")

	if sessionID != "" {
		if terr := o.conversations.Transition(ctx, sessionID, conversation.StateWaitingInput); terr != nil && !errors.Is(terr, conversation.ErrSessionNotFound) {
			o.log.WithError(terr).WithField("session_id", sessionID).Warn("failed to reset session state")
		}
	}

	return &ChatResult{
		SessionID: sessionID,
		Reply:     errorReply,
		Err:       err.Error(),
	}
}
