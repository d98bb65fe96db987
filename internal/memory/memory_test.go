package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/concierge/internal/data"
	"github.com/normanking/concierge/internal/llm"
)

func TestHeuristicExtractor(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    []Fact
	}{
		{
			name:    "remember that",
			message: "Remember that my anniversary is on June 3rd.",
			want:    []Fact{{Content: "User's anniversary is on June 3rd", Category: CategoryFact, Importance: 0.9}},
		},
		{
			name:    "name",
			message: "Hi! My name is Ana Lucia",
			want:    []Fact{{Content: "User's name is Ana Lucia", Category: CategoryPerson, Importance: 0.9}},
		},
		{
			name:    "several sentences",
			message: "I live in Porto. I prefer tea over coffee! What's the weather?",
			want: []Fact{
				{Content: "User lives in Porto", Category: CategoryPlace, Importance: 0.8},
				{Content: "User prefers tea over coffee", Category: CategoryPreference, Importance: 0.6},
			},
		},
		{
			name:    "favorite",
			message: "my favourite band is Radiohead",
			want:    []Fact{{Content: "User's favorite band is Radiohead", Category: CategoryPreference, Importance: 0.7}},
		},
		{
			name:    "allergy",
			message: "I'm allergic to shellfish, so skip the paella",
			want:    []Fact{{Content: "User is allergic to shellfish, so skip the paella", Category: CategoryFact, Importance: 0.9}},
		},
		{
			name:    "work",
			message: "I work at Acme Corp",
			want:    []Fact{{Content: "User works at Acme Corp", Category: CategoryFact, Importance: 0.7}},
		},
		{
			name:    "questions are ignored",
			message: "Do you remember that I live in Porto?",
		},
		{
			name:    "nothing to keep",
			message: "turn on the living room light",
		},
		{
			name:    "duplicates collapse",
			message: "I live in Porto. I live in porto.",
			want:    []Fact{{Content: "User lives in Porto", Category: CategoryPlace, Importance: 0.8}},
		},
	}

	ex := NewHeuristicExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ex.Extract(context.Background(), Turn{UserMessage: tt.message})
			require.NoError(t, err)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFacts(t *testing.T) {
	text := "```yaml\n---\nmemories:\n  - content: user has two cats\n    category: fact\n    importance: 0.6\n  - content: \"\"\n  - content: User prefers mornings\n---\n```"

	facts, err := ParseFacts(text)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "User has two cats", facts[0].Content)
	assert.Equal(t, 0.6, facts[0].Importance)
	assert.Equal(t, CategoryFact, facts[1].Category, "category defaults to fact")

	empty, err := ParseFacts("memories: []")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseFacts("memories: [unclosed")
	assert.Error(t, err)
}

type fakeLLM struct {
	content string
	err     error
	req     *llm.Request
}

func (f *fakeLLM) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.content}, nil
}

func (f *fakeLLM) Stream(ctx context.Context, req *llm.Request, _ func(string)) (*llm.Response, error) {
	return f.Complete(ctx, req)
}

func TestLLMExtractor(t *testing.T) {
	client := &fakeLLM{content: "memories:\n  - content: User's daughter is called Mia\n    category: person\n    importance: 0.8\n"}
	ex := NewLLMExtractor(client, "gpt-4o-mini")

	facts, err := ex.Extract(context.Background(), Turn{UserMessage: "Mia has a recital tonight", Response: "Good luck to her!"})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, CategoryPerson, facts[0].Category)
	assert.Equal(t, "gpt-4o-mini", client.req.Model)
	assert.Contains(t, client.req.Messages[1].Content, "Mia has a recital tonight")

	_, err = NewLLMExtractor(&fakeLLM{err: errors.New("503")}, "m").Extract(context.Background(), Turn{})
	assert.Error(t, err)
}

type failingExtractor struct{}

func (failingExtractor) Extract(context.Context, Turn) ([]Fact, error) {
	return nil, errors.New("model unavailable")
}

func TestServiceProcess(t *testing.T) {
	store, err := data.Open(filepath.Join(t.TempDir(), "mem.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	svc := NewService(store, failingExtractor{}, NewHeuristicExtractor())
	turn := Turn{UserID: "user-1", ThreadID: "t1", UserMessage: "My name is Sam. I live in Leeds."}

	n, err := svc.Process(ctx, turn)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = svc.Process(ctx, turn)
	require.NoError(t, err)
	assert.Zero(t, n, "already stored")

	mems, err := store.TopMemories(ctx, "user-1", 0, 10)
	require.NoError(t, err)
	assert.Len(t, mems, 2)

	n, err = svc.Process(ctx, Turn{UserMessage: "My name is Sam"})
	require.NoError(t, err)
	assert.Zero(t, n, "anonymous turns are skipped")
}
