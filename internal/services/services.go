package services

import (
	"github.com/jmoiron/sqlx"

	"github.com/carelink/carelink-ai/internal/agent"
	"github.com/carelink/carelink-ai/internal/checkin"
	"github.com/carelink/carelink-ai/internal/config"
	"github.com/carelink/carelink-ai/internal/conversation"
	"github.com/carelink/carelink-ai/internal/embedding"
	"github.com/carelink/carelink-ai/internal/intent"
	"github.com/carelink/carelink-ai/internal/knowledge"
	"github.com/carelink/carelink-ai/internal/llm"
	"github.com/carelink/carelink-ai/internal/vectorstore"
)

// Services holds all service instances shared by the HTTP handlers.
type Services struct {
	Agent         *agent.Orchestrator
	Conversations *conversation.Service
	Knowledge     *knowledge.Service
	LLM           *llm.Client
}

// NewServices wires the full service graph over one database connection.
func NewServices(cfg *config.Config, db *sqlx.DB) (*Services, error) {
	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.NewClient(cfg.Embedding)
	if err != nil {
		return nil, err
	}

	sessionStore := conversation.NewPostgresStore(db, cfg.Conversation.SessionTTL)
	conversations := conversation.NewService(sessionStore, cfg.Conversation.ContextWindow)

	index := vectorstore.New(db)
	knowledgeSvc, err := knowledge.NewService(cfg.Knowledge, cfg.LLM, embedder, index, llmClient)
	if err != nil {
		return nil, err
	}

	orchestrator := agent.New(
		conversations,
		intent.NewClassifier(llmClient),
		checkin.New(),
		knowledgeSvc,
		llmClient,
	)

	return &Services{
		Agent:         orchestrator,
		Conversations: conversations,
		Knowledge:     knowledgeSvc,
		LLM:           llmClient,
	}, nil
}
