package app

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfchat/internal/ai"
	"pdfchat/internal/model"
	"pdfchat/internal/repository"
)

func newRAGService(t *testing.T, index *fakeIndex, gen *fakeGenerator) (*RAGService, *repository.SessionRepository, *repository.MessageRepository) {
	t.Helper()
	db := newTestDB(t)
	sessionRepo := repository.NewSessionRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	svc := NewRAGService(sessionRepo, messageRepo, nil, index, gen, RAGOptions{
		ChunkSize:    100,
		ChunkOverlap: 20,
		TopK:         5,
	})
	return svc, sessionRepo, messageRepo
}

func TestIngestCreatesSessionVectorsAndSummary(t *testing.T) {
	index := &fakeIndex{}
	gen := &fakeGenerator{respond: func(call int, _ []ai.ChatMessage) (string, error) {
		return "- it is about colors", nil
	}}
	svc, sessionRepo, messageRepo := newRAGService(t, index, gen)

	result, err := svc.Ingest(context.Background(), IngestInput{
		Title:   "colors",
		Content: "The sky is blue. Grass is green.",
	})
	require.NoError(t, err)
	assert.NotZero(t, result.SessionID)
	assert.Equal(t, "colors", result.Title)
	assert.GreaterOrEqual(t, result.ChunkCount, 1)
	assert.Equal(t, "- it is about colors", result.Summary)

	session, err := sessionRepo.GetByID(result.SessionID)
	require.NoError(t, err)
	require.NotNil(t, session)

	stored := strings.Join(index.docs[result.SessionID], " ")
	assert.Contains(t, stored, "sky is blue")

	messages, err := messageRepo.ListBySessionID(result.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, model.RoleAssistant, messages[0].Role)
	assert.Contains(t, messages[0].Content, "Document Ready")
	assert.Contains(t, messages[0].Content, result.Summary)
}

func TestIngestRejectsEmptyContent(t *testing.T) {
	svc, _, _ := newRAGService(t, &fakeIndex{}, &fakeGenerator{})

	_, err := svc.Ingest(context.Background(), IngestInput{Title: "x", Content: "   \n "})
	assert.ErrorIs(t, err, ErrIngest)
}

func TestIngestDefaultsTitle(t *testing.T) {
	gen := &fakeGenerator{respond: func(int, []ai.ChatMessage) (string, error) { return "s", nil }}
	svc, _, _ := newRAGService(t, &fakeIndex{}, gen)

	result, err := svc.Ingest(context.Background(), IngestInput{Content: "some document text"})
	require.NoError(t, err)
	assert.Equal(t, "Untitled", result.Title)
}

func TestAskWithoutHistorySkipsRewrite(t *testing.T) {
	index := &fakeIndex{}
	gen := &fakeGenerator{respond: func(call int, _ []ai.ChatMessage) (string, error) {
		return "The sky is blue.", nil
	}}
	svc, sessionRepo, messageRepo := newRAGService(t, index, gen)

	session := &model.Session{Title: "doc"}
	require.NoError(t, sessionRepo.Create(session))
	require.NoError(t, index.Upsert(context.Background(), session.ID, []string{"The sky is blue. Grass is green."}))

	result, err := svc.Ask(context.Background(), AskInput{
		SessionID: session.ID,
		Question:  "What color is the sky?",
	})
	require.NoError(t, err)

	// Empty history: the question passes through untouched and only the
	// answer stage hits the generator.
	assert.Equal(t, "What color is the sky?", result.RewrittenQuery)
	assert.Len(t, gen.calls, 1)
	assert.Equal(t, "What color is the sky?", index.lastQuery)

	require.NotEmpty(t, result.Context)
	assert.Contains(t, result.Context[0].Text, "sky is blue")
	assert.Equal(t, "The sky is blue.", result.Answer)

	messages, err := messageRepo.ListBySessionID(session.ID, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, model.RoleUser, messages[0].Role)
	assert.Equal(t, "What color is the sky?", messages[0].Content)
	assert.Equal(t, model.RoleAssistant, messages[1].Role)
	assert.Equal(t, "The sky is blue.", messages[1].Content)
}

func TestAskWithHistoryRewritesQuery(t *testing.T) {
	index := &fakeIndex{}
	gen := &fakeGenerator{respond: func(call int, messages []ai.ChatMessage) (string, error) {
		if call == 0 {
			return "What color is the grass?", nil
		}
		return "Green.", nil
	}}
	svc, sessionRepo, messageRepo := newRAGService(t, index, gen)

	session := &model.Session{Title: "doc"}
	require.NoError(t, sessionRepo.Create(session))
	require.NoError(t, index.Upsert(context.Background(), session.ID, []string{"Grass is green."}))
	require.NoError(t, messageRepo.Create(&model.Message{SessionID: session.ID, Role: model.RoleUser, Content: "What color is the sky?"}))
	require.NoError(t, messageRepo.Create(&model.Message{SessionID: session.ID, Role: model.RoleAssistant, Content: "Blue."}))

	result, err := svc.Ask(context.Background(), AskInput{
		SessionID: session.ID,
		Question:  "And the grass?",
	})
	require.NoError(t, err)
	require.Len(t, gen.calls, 2)

	// First stage: the contextualize prompt with history and the raw question.
	rewrite := gen.calls[0]
	assert.Equal(t, "system", rewrite[0].Role)
	assert.Equal(t, contextualizeInstruction, rewrite[0].Content)
	assert.Equal(t, "What color is the sky?", rewrite[1].Content)
	assert.Equal(t, "Blue.", rewrite[2].Content)
	assert.Equal(t, "And the grass?", rewrite[len(rewrite)-1].Content)

	// Retrieval runs on the rewritten query, scoped to the session.
	assert.Equal(t, "What color is the grass?", result.RewrittenQuery)
	assert.Equal(t, "What color is the grass?", index.lastQuery)
	assert.Equal(t, session.ID, index.lastSession)

	// Second stage: grounded answer over the original question.
	answer := gen.calls[1]
	assert.Equal(t, "system", answer[0].Role)
	assert.Contains(t, answer[0].Content, "Grass is green.")
	assert.Contains(t, answer[0].Content, svc.RefusalPhrase())
	assert.Equal(t, "And the grass?", answer[len(answer)-1].Content)

	assert.Equal(t, "Green.", result.Answer)
}

func TestAskSessionNotFound(t *testing.T) {
	svc, _, _ := newRAGService(t, &fakeIndex{}, &fakeGenerator{})

	_, err := svc.Ask(context.Background(), AskInput{SessionID: 999, Question: "hi"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAskGenerationFailureKeepsUserTurn(t *testing.T) {
	index := &fakeIndex{}
	gen := &fakeGenerator{respond: func(int, []ai.ChatMessage) (string, error) {
		return "", fmt.Errorf("%w: rate limited", ai.ErrGeneration)
	}}
	svc, sessionRepo, messageRepo := newRAGService(t, index, gen)

	session := &model.Session{Title: "doc"}
	require.NoError(t, sessionRepo.Create(session))

	_, err := svc.Ask(context.Background(), AskInput{SessionID: session.ID, Question: "q?"})
	assert.ErrorIs(t, err, ai.ErrGeneration)

	// The failed turn keeps the persisted question; no assistant row appears.
	messages, listErr := messageRepo.ListBySessionID(session.ID, 0)
	require.NoError(t, listErr)
	require.Len(t, messages, 1)
	assert.Equal(t, model.RoleUser, messages[0].Role)
}

func TestAskEmptyAnswerFallsBackToRefusalPhrase(t *testing.T) {
	index := &fakeIndex{}
	gen := &fakeGenerator{respond: func(int, []ai.ChatMessage) (string, error) {
		return "   ", nil
	}}
	svc, sessionRepo, _ := newRAGService(t, index, gen)

	session := &model.Session{Title: "doc"}
	require.NoError(t, sessionRepo.Create(session))

	result, err := svc.Ask(context.Background(), AskInput{SessionID: session.ID, Question: "anything in here?"})
	require.NoError(t, err)
	assert.Empty(t, result.Context)
	assert.Equal(t, svc.RefusalPhrase(), result.Answer)
}

func TestAskNeverLeaksOtherSessions(t *testing.T) {
	index := &fakeIndex{}
	gen := &fakeGenerator{respond: func(int, []ai.ChatMessage) (string, error) {
		return "answer", nil
	}}
	svc, sessionRepo, _ := newRAGService(t, index, gen)

	sessionA := &model.Session{Title: "a"}
	sessionB := &model.Session{Title: "b"}
	require.NoError(t, sessionRepo.Create(sessionA))
	require.NoError(t, sessionRepo.Create(sessionB))
	require.NoError(t, index.Upsert(context.Background(), sessionA.ID, []string{"alpha secret ingredient"}))
	require.NoError(t, index.Upsert(context.Background(), sessionB.ID, []string{"beta secret ingredient"}))

	result, err := svc.Ask(context.Background(), AskInput{
		SessionID: sessionA.ID,
		Question:  "what is the secret ingredient?",
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Context)
	for _, hit := range result.Context {
		assert.Equal(t, sessionA.ID, hit.SessionID)
		assert.NotContains(t, hit.Text, "beta")
	}
}
