package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/carelink/carelink-ai/internal/config"
	"github.com/carelink/carelink-ai/internal/llm"
	"github.com/carelink/carelink-ai/internal/vectorstore"
)

// Disclaimer is appended to every synthesized answer that does not already
// contain it.
const Disclaimer = "此建议仅供参考，请咨询专业医生。"

const noKnowledgeReply = "抱歉，知识库中没有找到相关内容，无法回答这个问题。"

const answerPromptTemplate = `你是一位专业的健康顾问，擅长慢病管理和健康咨询。

参考以下编号的健康知识回答用户问题：

%s

请提供专业、准确、易懂的健康建议。

重要提示：
1. 仅基于上面编号的知识回答问题，并用 [编号] 标注引用来源
2. 如果知识中没有相关信息，请诚实告知
3. 不要诊断疾病，只提供健康建议
4. 如果涉及严重症状，建议立即就医
5. 回答末尾添加："` + Disclaimer + `"`

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Index persists and searches chunk vectors.
type Index interface {
	Upsert(ctx context.Context, rec vectorstore.Record) error
	Search(ctx context.Context, vector []float32, k int, minScore float64, category string) ([]vectorstore.SearchResult, error)
	DeleteDoc(ctx context.Context, docID string) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// Generator produces chat completions.
type Generator interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.Response, error)
}

// Document is one ingestion input.
type Document struct {
	ID       string                 `json:"id,omitempty"`
	Content  string                 `json:"content"`
	Category string                 `json:"category,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// IngestResult reports one successful ingestion.
type IngestResult struct {
	DocID      string `json:"doc_id"`
	ChunkCount int    `json:"chunk_count"`
}

// BatchFailure records one failed document in a batch.
type BatchFailure struct {
	DocID string `json:"doc_id"`
	Error string `json:"error"`
}

// BatchResult tallies a batch ingestion. Failures never abort the batch.
type BatchResult struct {
	Total    int            `json:"total"`
	Success  int            `json:"success"`
	Failed   int            `json:"failed"`
	Failures []BatchFailure `json:"failures,omitempty"`
}

// Answer is one synthesized reply plus its provenance.
type Answer struct {
	Text       string                     `json:"answer"`
	Sources    []vectorstore.SearchResult `json:"sources,omitempty"`
	HasContext bool                       `json:"has_context"`
}

// Stats summarizes the knowledge base.
type Stats struct {
	ChunkCount int64 `json:"chunk_count"`
}

// Service is the retrieval and synthesis pipeline: chunk, embed, index,
// search, answer.
type Service struct {
	chunker   *Chunker
	embedder  Embedder
	index     Index
	generator Generator

	topK           int
	scoreThreshold float64
	temperature    float32

	log *logrus.Entry
}

// NewService wires the pipeline from configuration.
func NewService(cfg config.KnowledgeConfig, llmCfg config.LLMConfig, embedder Embedder, index Index, generator Generator) (*Service, error) {
	chunker, err := NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	return &Service{
		chunker:        chunker,
		embedder:       embedder,
		index:          index,
		generator:      generator,
		topK:           cfg.TopK,
		scoreThreshold: cfg.ScoreThreshold,
		temperature:    llmCfg.Temperature,
		log:            logrus.WithField("component", "knowledge"),
	}, nil
}

// Ingest chunks, embeds, and indexes one document. Chunk ids are
// "{docID}_{index}" so re-ingesting a document replaces its chunks in place.
func (s *Service) Ingest(ctx context.Context, doc Document) (*IngestResult, error) {
	if strings.TrimSpace(doc.Content) == "" {
		return nil, fmt.Errorf("document content is empty")
	}

	docID := doc.ID
	if docID == "" {
		docID = uuid.New().String()
	}

	chunks := s.chunker.Split(doc.Content)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("document %s produced no chunks", docID)
	}

	vectors, err := s.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to embed document %s: %w", docID, err)
	}

	for i, chunk := range chunks {
		rec := vectorstore.Record{
			ID:     fmt.Sprintf("%s_%d", docID, i),
			Vector: vectors[i],
			Payload: vectorstore.Payload{
				DocID:      docID,
				ChunkIndex: i,
				Content:    chunk,
				Category:   doc.Category,
				Metadata:   doc.Metadata,
			},
		}
		if err := s.index.Upsert(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to index chunk %d of document %s: %w", i, docID, err)
		}
	}

	s.log.WithFields(logrus.Fields{
		"doc_id": docID,
		"chunks": len(chunks),
	}).Info("document ingested")

	return &IngestResult{DocID: docID, ChunkCount: len(chunks)}, nil
}

// IngestBatch runs Ingest per document and tallies outcomes. A failing
// document is recorded and the batch continues.
func (s *Service) IngestBatch(ctx context.Context, docs []Document) *BatchResult {
	result := &BatchResult{Total: len(docs)}

	for i, doc := range docs {
		if _, err := s.Ingest(ctx, doc); err != nil {
			docID := doc.ID
			if docID == "" {
				docID = fmt.Sprintf("#%d", i)
			}
			result.Failed++
			result.Failures = append(result.Failures, BatchFailure{DocID: docID, Error: err.Error()})
			s.log.WithError(err).WithField("doc_id", docID).Warn("batch document failed")
			continue
		}
		result.Success++
	}

	s.log.WithFields(logrus.Fields{
		"total":   result.Total,
		"success": result.Success,
		"failed":  result.Failed,
	}).Info("batch ingestion finished")

	return result
}

// Search embeds the query and returns the best-scoring chunks above the
// threshold. Non-positive topK and minScore fall back to the configured
// defaults; an empty category means no filter.
func (s *Service) Search(ctx context.Context, query string, topK int, minScore float64, category string) ([]vectorstore.SearchResult, error) {
	if topK <= 0 {
		topK = s.topK
	}
	if minScore <= 0 {
		minScore = s.scoreThreshold
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := s.index.Search(ctx, vector, topK, minScore, category)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"query_len": len(query),
		"category":  category,
		"hits":      len(results),
	}).Debug("knowledge search")

	return results, nil
}

// AnswerQuestion retrieves context for the query and synthesizes a grounded
// reply. Zero retrieval hits yield a fixed reply without a model call. The
// disclaimer is guaranteed on every returned answer.
func (s *Service) AnswerQuestion(ctx context.Context, query string, topK int, category string) (*Answer, error) {
	results, err := s.Search(ctx, query, topK, 0, category)
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return &Answer{
			Text:       ensureDisclaimer(noKnowledgeReply),
			HasContext: false,
		}, nil
	}

	var contextBlock strings.Builder
	for i, r := range results {
		fmt.Fprintf(&contextBlock, "[%d] %s\n\n", i+1, r.Payload.Content)
	}

	resp, err := s.generator.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: fmt.Sprintf(answerPromptTemplate, strings.TrimSpace(contextBlock.String()))},
			{Role: "user", Content: query},
		},
		Temperature: llm.Temperature(s.temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("answer synthesis failed: %w", err)
	}

	return &Answer{
		Text:       ensureDisclaimer(resp.Content),
		Sources:    results,
		HasContext: true,
	}, nil
}

// DeleteDoc removes all chunks of a document and reports how many were
// deleted.
func (s *Service) DeleteDoc(ctx context.Context, docID string) (int64, error) {
	return s.index.DeleteDoc(ctx, docID)
}

// GetStats reports knowledge base totals.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	n, err := s.index.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{ChunkCount: n}, nil
}

// ensureDisclaimer appends the disclaimer when the text does not already
// carry it.
func ensureDisclaimer(text string) string {
	if strings.Contains(text, Disclaimer) {
		return text
	}
	return text + "\n\n" + Disclaimer
}
