package app

import (
	"context"
	"fmt"
	"strings"

	"pdfchat/internal/ai"
	"pdfchat/internal/model"
	"pdfchat/internal/pkg/textsplit"
	"pdfchat/internal/repository"
	"pdfchat/internal/vectorstore"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
	defaultTopK         = 7
	defaultMaxContext   = 20
	summaryInputLimit   = 3000 // runes of document text fed to the summary prompt

	DefaultRefusalPhrase = "I don't know based on the provided document."
)

const contextualizeInstruction = "Given a chat history and the latest user question " +
	"which might reference context in the chat history, formulate a standalone question " +
	"which can be understood without the chat history. Do NOT answer the question, " +
	"just reformulate it if needed and otherwise return it as is."

const summaryInstruction = "Summarize this text. Format the output as a Markdown list " +
	"with 3 concise bullet points.\n\n"

// Generator is the text-generation backend used for query rewriting,
// grounded answering and document summaries.
type Generator interface {
	Complete(ctx context.Context, messages []ai.ChatMessage) (string, error)
}

// RAGService owns ingestion (split, embed, store, summarize) and the
// two-stage conversational retrieval pipeline.
type RAGService struct {
	sessionRepo  *repository.SessionRepository
	messageRepo  *repository.MessageRepository
	historyCache HistoryCache
	index        vectorstore.Index
	generator    Generator
	splitter     *textsplit.Splitter

	topK          int
	maxContext    int
	refusalPhrase string
}

// RAGOptions carries the tunables; zero values fall back to the defaults
// above.
type RAGOptions struct {
	ChunkSize     int
	ChunkOverlap  int
	TopK          int
	MaxContext    int
	RefusalPhrase string
}

func NewRAGService(
	sessionRepo *repository.SessionRepository,
	messageRepo *repository.MessageRepository,
	historyCache HistoryCache,
	index vectorstore.Index,
	generator Generator,
	opts RAGOptions,
) *RAGService {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	chunkOverlap := opts.ChunkOverlap
	if chunkOverlap <= 0 {
		chunkOverlap = defaultChunkOverlap
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	maxContext := opts.MaxContext
	if maxContext <= 0 {
		maxContext = defaultMaxContext
	}
	refusal := strings.TrimSpace(opts.RefusalPhrase)
	if refusal == "" {
		refusal = DefaultRefusalPhrase
	}
	return &RAGService{
		sessionRepo:   sessionRepo,
		messageRepo:   messageRepo,
		historyCache:  historyCache,
		index:         index,
		generator:     generator,
		splitter:      textsplit.New(chunkSize, chunkOverlap),
		topK:          topK,
		maxContext:    maxContext,
		refusalPhrase: refusal,
	}
}

// RefusalPhrase returns the exact phrase the answer prompt instructs the
// model to emit when the context does not contain the answer.
func (s *RAGService) RefusalPhrase() string {
	return s.refusalPhrase
}

type IngestInput struct {
	Title   string
	Content string
}

type IngestResult struct {
	SessionID  uint   `json:"session_id"`
	Title      string `json:"title"`
	ChunkCount int    `json:"chunk_count"`
	Summary    string `json:"summary"`
}

// Ingest splits the extracted document text, creates the session, stores
// the embedded chunks tagged with the new session id, and posts a summary
// as the session's first assistant message.
//
// The session row is created before the vector upsert, so a failed upsert
// leaves a session with at-least-zero chunks stored; there is no rollback.
// Deleting the session is the cleanup path.
func (s *RAGService) Ingest(ctx context.Context, input IngestInput) (*IngestResult, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: no extractable text", ErrIngest)
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "Untitled"
	}

	chunks := s.splitter.Split(content)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: text yields no chunks", ErrIngest)
	}

	session := &model.Session{Title: title}
	if err := s.sessionRepo.Create(session); err != nil {
		return nil, err
	}

	if err := s.index.Upsert(ctx, session.ID, chunks); err != nil {
		return nil, err
	}

	summary, err := s.summarize(ctx, content)
	if err != nil {
		return nil, err
	}
	if err := s.appendMessage(ctx, session.ID, model.RoleAssistant,
		"**Document Ready!**\n\nSummary:\n"+summary); err != nil {
		return nil, err
	}

	return &IngestResult{
		SessionID:  session.ID,
		Title:      title,
		ChunkCount: len(chunks),
		Summary:    summary,
	}, nil
}

type AskInput struct {
	SessionID uint
	Question  string
}

// AskResult carries the answer plus the retrieved chunks in retrieval-rank
// order; callers use Context for traceability display.
type AskResult struct {
	Answer         string                  `json:"answer"`
	Context        []vectorstore.SearchHit `json:"context"`
	RewrittenQuery string                  `json:"rewritten_query"`
}

// Ask runs one conversational turn: persist the question, rewrite it into a
// standalone query against the prior transcript, retrieve the session's
// top-k chunks, generate a grounded answer, persist it.
func (s *RAGService) Ask(ctx context.Context, input AskInput) (*AskResult, error) {
	if input.SessionID == 0 {
		return nil, ErrInvalidInput
	}
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return nil, ErrInvalidInput
	}

	session, err := s.sessionRepo.GetByID(input.SessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	// History is read before the new question is persisted: the rewrite and
	// the answer prompt both see only prior turns.
	history, err := s.messageRepo.ListRecentBySessionID(input.SessionID, s.maxContext)
	if err != nil {
		return nil, err
	}

	if err := s.appendMessage(ctx, input.SessionID, model.RoleUser, question); err != nil {
		return nil, err
	}

	query, err := s.rewriteQuery(ctx, history, question)
	if err != nil {
		return nil, err
	}

	hits, err := s.index.Search(ctx, input.SessionID, query, s.topK)
	if err != nil {
		return nil, err
	}

	answer, err := s.generateAnswer(ctx, history, question, hits)
	if err != nil {
		return nil, err
	}

	if err := s.appendMessage(ctx, input.SessionID, model.RoleAssistant, answer); err != nil {
		return nil, err
	}

	return &AskResult{
		Answer:         answer,
		Context:        hits,
		RewrittenQuery: query,
	}, nil
}

// rewriteQuery reformulates the question into a standalone query. An empty
// history passes the question through untouched; no generation call is made.
func (s *RAGService) rewriteQuery(ctx context.Context, history []model.Message, question string) (string, error) {
	if len(history) == 0 {
		return question, nil
	}

	messages := make([]ai.ChatMessage, 0, len(history)+2)
	messages = append(messages, ai.ChatMessage{Role: "system", Content: contextualizeInstruction})
	messages = append(messages, historyToChat(history)...)
	messages = append(messages, ai.ChatMessage{Role: model.RoleUser, Content: question})

	rewritten, err := s.generator.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return question, nil
	}
	return rewritten, nil
}

// generateAnswer composes the grounded prompt: the retrieved chunk texts
// verbatim, in rank order, plus the history and the original question.
func (s *RAGService) generateAnswer(ctx context.Context, history []model.Message, question string, hits []vectorstore.SearchHit) (string, error) {
	var contextBlock strings.Builder
	for _, hit := range hits {
		contextBlock.WriteString("\n---\n")
		contextBlock.WriteString(hit.Text)
	}
	if len(hits) > 0 {
		contextBlock.WriteString("\n---")
	}

	systemContent := fmt.Sprintf(
		"You are a helpful assistant answering questions about an uploaded document. "+
			"Use only the following pieces of retrieved context to answer the question. "+
			"If the answer is not contained in the context, reply exactly with: %s\n\nContext:%s",
		s.refusalPhrase, contextBlock.String(),
	)

	messages := make([]ai.ChatMessage, 0, len(history)+2)
	messages = append(messages, ai.ChatMessage{Role: "system", Content: systemContent})
	messages = append(messages, historyToChat(history)...)
	messages = append(messages, ai.ChatMessage{Role: model.RoleUser, Content: question})

	answer, err := s.generator.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = s.refusalPhrase
	}
	return answer, nil
}

func (s *RAGService) summarize(ctx context.Context, text string) (string, error) {
	runes := []rune(text)
	if len(runes) > summaryInputLimit {
		runes = runes[:summaryInputLimit]
	}
	summary, err := s.generator.Complete(ctx, []ai.ChatMessage{
		{Role: model.RoleUser, Content: summaryInstruction + string(runes)},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}

func (s *RAGService) appendMessage(ctx context.Context, sessionID uint, role, content string) error {
	if err := s.messageRepo.Create(&model.Message{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
	}); err != nil {
		return err
	}
	if s.historyCache != nil {
		_ = s.historyCache.Invalidate(ctx, sessionID)
	}
	return nil
}

func historyToChat(history []model.Message) []ai.ChatMessage {
	out := make([]ai.ChatMessage, 0, len(history))
	for _, m := range history {
		role := m.Role
		if role != model.RoleAssistant {
			role = model.RoleUser
		}
		out = append(out, ai.ChatMessage{Role: role, Content: m.Content})
	}
	return out
}
