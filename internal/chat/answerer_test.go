package chat

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studybuddy-ai/studybuddy-go/internal/history"
	"github.com/studybuddy-ai/studybuddy-go/internal/retrieval"
)

// fakeChatModel streams a fixed reply and records the messages it was given.
type fakeChatModel struct {
	reply    []string
	received []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.received = in
	return schema.AssistantMessage(strings.Join(f.reply, ""), nil), nil
}

func (f *fakeChatModel) Stream(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.received = in
	chunks := make([]*schema.Message, 0, len(f.reply))
	for _, r := range f.reply {
		chunks = append(chunks, schema.AssistantMessage(r, nil))
	}
	return schema.StreamReaderFromArray(chunks), nil
}

func (f *fakeChatModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return f, nil
}

// fakeSearcher serves canned retrieval responses.
type fakeSearcher struct {
	resp retrieval.Response
	err  error
}

func (f *fakeSearcher) Search(context.Context, string, int, float64) (retrieval.Response, error) {
	return f.resp, f.err
}

func newTestHistory(t *testing.T) *history.SQLiteStore {
	t.Helper()
	s, err := history.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAsk_EmptyQuestionRejected(t *testing.T) {
	t.Parallel()
	a, err := New(&Config{ChatModel: &fakeChatModel{}, Retrieval: &fakeSearcher{}})
	require.NoError(t, err)

	_, err = a.Ask(context.Background(), "s1", "  ", &strings.Builder{})
	assert.True(t, retrieval.IsKind(err, retrieval.KindInvalidInput))
}

func TestAsk_StreamsAndReturnsAnswer(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{reply: []string{"Osmosis is ", "water movement."}}
	search := &fakeSearcher{resp: retrieval.Response{
		Results: []retrieval.SearchResult{
			{Chunk: retrieval.Chunk{Text: "Osmosis moves water across membranes."}, Filename: "bio.txt", Similarity: 0.92},
		},
	}}
	a, err := New(&Config{ChatModel: m, Retrieval: search})
	require.NoError(t, err)

	var sink strings.Builder
	ans, err := a.Ask(context.Background(), "s1", "what is osmosis?", &sink)
	require.NoError(t, err)

	assert.Equal(t, "Osmosis is water movement.", ans.Text)
	assert.Equal(t, ans.Text, sink.String())
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, "bio.txt", ans.Sources[0].Filename)
	assert.False(t, ans.Degraded)
}

func TestAsk_ExcerptsReachTheModel(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{reply: []string{"answer"}}
	search := &fakeSearcher{resp: retrieval.Response{
		Results: []retrieval.SearchResult{
			{Chunk: retrieval.Chunk{Text: "the mitochondria is the powerhouse"}, Filename: "bio.txt", Similarity: 0.9},
		},
	}}
	a, err := New(&Config{ChatModel: m, Retrieval: search})
	require.NoError(t, err)

	_, err = a.Ask(context.Background(), "s1", "question", &strings.Builder{})
	require.NoError(t, err)

	var joined strings.Builder
	for _, msg := range m.received {
		joined.WriteString(msg.Content)
		joined.WriteString("\n")
	}
	assert.Contains(t, joined.String(), "mitochondria")
	assert.Contains(t, joined.String(), "bio.txt")
	// The question always comes last.
	assert.Equal(t, "question", m.received[len(m.received)-1].Content)
}

func TestAsk_DegradedFlagPropagates(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{reply: []string{"answer"}}
	search := &fakeSearcher{resp: retrieval.Response{
		Results:  []retrieval.SearchResult{{Chunk: retrieval.Chunk{Text: "hit"}, Filename: "a.txt"}},
		Degraded: true,
	}}
	a, err := New(&Config{ChatModel: m, Retrieval: search})
	require.NoError(t, err)

	ans, err := a.Ask(context.Background(), "s1", "question", &strings.Builder{})
	require.NoError(t, err)
	assert.True(t, ans.Degraded)
}

func TestAsk_RetrievalFailureIsNonFatal(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{reply: []string{"answer without context"}}
	search := &fakeSearcher{err: retrieval.NewError(retrieval.KindStorage, "index", "db gone")}
	a, err := New(&Config{ChatModel: m, Retrieval: search})
	require.NoError(t, err)

	ans, err := a.Ask(context.Background(), "s1", "question", &strings.Builder{})
	require.NoError(t, err)
	assert.Equal(t, "answer without context", ans.Text)
	assert.Empty(t, ans.Sources)
}

func TestAsk_PersistsAndReplaysHistory(t *testing.T) {
	t.Parallel()
	m := &fakeChatModel{reply: []string{"first answer"}}
	a, err := New(&Config{
		ChatModel: m,
		Retrieval: &fakeSearcher{},
		History:   newTestHistory(t),
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = a.Ask(ctx, "session-1", "first question", &strings.Builder{})
	require.NoError(t, err)

	m.reply = []string{"second answer"}
	_, err = a.Ask(ctx, "session-1", "second question", &strings.Builder{})
	require.NoError(t, err)

	// The second call must carry the first turn as history.
	var contents []string
	for _, msg := range m.received {
		contents = append(contents, fmt.Sprintf("%s:%s", msg.Role, msg.Content))
	}
	joined := strings.Join(contents, "\n")
	assert.Contains(t, joined, "user:first question")
	assert.Contains(t, joined, "assistant:first answer")
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(&Config{Retrieval: &fakeSearcher{}})
	assert.Error(t, err)

	_, err = New(&Config{ChatModel: &fakeChatModel{}})
	assert.Error(t, err)
}
