package router

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/townhall-civic/rag/internal/llmchat"
)

type fakeProvider struct {
	chatFn func(msgs []llmchat.Message) (string, error)
	calls  int
}

func (f *fakeProvider) Chat(_ context.Context, _ string, msgs []llmchat.Message) (string, error) {
	f.calls++
	return f.chatFn(msgs)
}

func (f *fakeProvider) ChatStream(context.Context, string, []llmchat.Message, llmchat.StreamHandler) error {
	return nil
}

func TestRewrite_FallsBackOnIdenticalRewrite(t *testing.T) {
	fp := &fakeProvider{chatFn: func([]llmchat.Message) (string, error) { return "  trash pickup  ", nil }}
	got := Rewrite(context.Background(), fp, "gpt-4o-mini", "trash pickup", nil, zerolog.Nop())
	assert.Equal(t, "trash pickup", got)
}

func TestRewrite_UsesLLMOutputWhenDifferent(t *testing.T) {
	fp := &fakeProvider{chatFn: func([]llmchat.Message) (string, error) { return "garbage collection schedule", nil }}
	got := Rewrite(context.Background(), fp, "gpt-4o-mini", "trash pickup", nil, zerolog.Nop())
	assert.Equal(t, "garbage collection schedule", got)
}

func TestRewrite_FallsBackOnError(t *testing.T) {
	fp := &fakeProvider{chatFn: func([]llmchat.Message) (string, error) { return "", assertErr{} }}
	got := Rewrite(context.Background(), fp, "gpt-4o-mini", "trash pickup", nil, zerolog.Nop())
	assert.Equal(t, "trash pickup", got)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestDecompose_FallsBackOnMalformedJSON(t *testing.T) {
	fp := &fakeProvider{chatFn: func([]llmchat.Message) (string, error) { return "not json", nil }}
	got := Decompose(context.Background(), fp, "gpt-4o-mini", "when is trash day", zerolog.Nop())
	require.Len(t, got, 1)
	assert.Equal(t, IntentFactual, got[0].Intent)
	assert.Equal(t, "any", got[0].SourceHint)
	assert.Equal(t, "when is trash day", got[0].Query)
}

func TestDecompose_ParsesMultipleSubQueries(t *testing.T) {
	fp := &fakeProvider{chatFn: func([]llmchat.Message) (string, error) {
		return `{"sub_queries":[
			{"query":"when is trash day","intent":"schedule","source_hint":"any"},
			{"query":"who is the mayor","intent":"factual","source_hint":"documents"}
		]}`, nil
	}}
	got := Decompose(context.Background(), fp, "gpt-4o-mini", "when is trash day and who is the mayor", zerolog.Nop())
	require.Len(t, got, 2)
	assert.Equal(t, IntentSchedule, got[0].Intent)
	assert.Equal(t, IntentFactual, got[1].Intent)
	assert.Equal(t, "documents", got[1].SourceHint)
}

func TestDecompose_UnknownIntentFallsBackToFactual(t *testing.T) {
	fp := &fakeProvider{chatFn: func([]llmchat.Message) (string, error) {
		return `{"sub_queries":[{"query":"x","intent":"bogus","source_hint":"any"}]}`, nil
	}}
	got := Decompose(context.Background(), fp, "gpt-4o-mini", "x", zerolog.Nop())
	require.Len(t, got, 1)
	assert.Equal(t, IntentFactual, got[0].Intent)
}

func TestRouter_Route_ResolvesConfigPerSubQuery(t *testing.T) {
	fp := &fakeProvider{chatFn: func(msgs []llmchat.Message) (string, error) {
		for _, m := range msgs {
			if m.Role == "system" && len(m.Content) > 0 && m.Content[0] == 'C' {
				return `{"sub_queries":[{"query":"trash pickup schedule","intent":"schedule","source_hint":"any"}]}`, nil
			}
		}
		return "trash pickup schedule", nil
	}}
	r := New(fp, "gpt-4o-mini", zerolog.Nop())
	routed := r.Route(context.Background(), "trash pickup", "tenant-1", nil)
	require.Len(t, routed, 1)
	assert.Equal(t, IntentSchedule, routed[0].Intent)
	assert.Equal(t, ConfigFor(IntentSchedule).SimilarityThreshold, routed[0].Config.SimilarityThreshold)
}
