package app

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"pdfchat/internal/ai"
	"pdfchat/internal/model"
	"pdfchat/internal/vectorstore"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Session{}, &model.Message{}))
	return db
}

// fakeGenerator records every prompt and answers via the respond hook.
type fakeGenerator struct {
	calls   [][]ai.ChatMessage
	respond func(call int, messages []ai.ChatMessage) (string, error)
}

func (g *fakeGenerator) Complete(ctx context.Context, messages []ai.ChatMessage) (string, error) {
	call := len(g.calls)
	g.calls = append(g.calls, messages)
	if g.respond != nil {
		return g.respond(call, messages)
	}
	return "ok", nil
}

// fakeIndex is an in-memory vector index scoring by word overlap, which is
// enough to make retrieval tests deterministic.
type fakeIndex struct {
	docs        map[uint][]string
	deleted     []uint
	lastQuery   string
	lastSession uint
	upsertErr   error
	searchErr   error
}

var _ vectorstore.Index = (*fakeIndex)(nil)

func (f *fakeIndex) EnsureCollection(ctx context.Context) error { return nil }

func (f *fakeIndex) Upsert(ctx context.Context, sessionID uint, chunks []string) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if f.docs == nil {
		f.docs = make(map[uint][]string)
	}
	f.docs[sessionID] = append(f.docs[sessionID], chunks...)
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, sessionID uint, queryText string, k int) ([]vectorstore.SearchHit, error) {
	f.lastSession = sessionID
	f.lastQuery = queryText
	if f.searchErr != nil {
		return nil, f.searchErr
	}

	queryWords := words(queryText)
	var hits []vectorstore.SearchHit
	for _, text := range f.docs[sessionID] {
		score := overlap(queryWords, words(text))
		if score > 0 {
			hits = append(hits, vectorstore.SearchHit{SessionID: sessionID, Text: text, Score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (f *fakeIndex) DeleteSession(ctx context.Context, sessionID uint) error {
	delete(f.docs, sessionID)
	f.deleted = append(f.deleted, sessionID)
	return nil
}

func words(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		out[w] = true
	}
	return out
}

func overlap(a, b map[string]bool) float32 {
	var n float32
	for w := range a {
		if b[w] {
			n++
		}
	}
	return n
}
