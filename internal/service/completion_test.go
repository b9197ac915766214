package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/ollamastream/internal/llm"
)

type fakeCompleter struct {
	body      string
	err       error
	models    []string
	modelsErr error
	preload   llm.PreloadResult

	prompts []string
	opts    []llm.CompletionOptions
}

func (f *fakeCompleter) StreamComplete(ctx context.Context, prompt string, opts llm.CompletionOptions) (*llm.Stream, error) {
	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	return llm.NewStream(io.NopCloser(strings.NewReader(f.body)), discardLogger()), nil
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string, opts llm.CompletionOptions) (string, error) {
	stream, err := f.StreamComplete(ctx, prompt, opts)
	if err != nil {
		return "", err
	}
	return stream.Collect()
}

func (f *fakeCompleter) ListModels(ctx context.Context) ([]string, error) {
	return f.models, f.modelsErr
}

func (f *fakeCompleter) Preload(ctx context.Context) llm.PreloadResult {
	return f.preload
}

func (f *fakeCompleter) ModelName() string { return "llama2" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCompletionService_Stream(t *testing.T) {
	fake := &fakeCompleter{body: "{\"response\":\"Hel\"}\n{\"response\":\"lo\"}\n{\"done\":true}\n"}
	svc := NewCompletionService(fake, WithLogger(discardLogger()))

	var fragments []string
	summary, err := svc.Stream(context.Background(), CompletionRequest{
		Prompt:  "hi",
		Options: llm.CompletionOptions{Temperature: 0.1},
	}, func(fragment string) error {
		fragments = append(fragments, fragment)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, fragments)
	assert.Equal(t, 2, summary.Fragments)
	assert.Equal(t, "llama2", summary.Model)
	_, err = uuid.Parse(summary.ID)
	assert.NoError(t, err)
	assert.Equal(t, []string{"hi"}, fake.prompts)
	assert.Equal(t, 0.1, fake.opts[0].Temperature)
}

func TestCompletionService_SystemOverride(t *testing.T) {
	fake := &fakeCompleter{body: "{\"done\":true}\n"}
	svc := NewCompletionService(fake, WithLogger(discardLogger()))

	system := "Be terse."
	_, err := svc.Stream(context.Background(), CompletionRequest{Prompt: "hi", System: &system}, func(string) error { return nil })
	require.NoError(t, err)
	_, err = svc.Stream(context.Background(), CompletionRequest{Prompt: "hi"}, func(string) error { return nil })
	require.NoError(t, err)

	require.Len(t, fake.opts, 2)
	require.NotNil(t, fake.opts[0].System)
	assert.Equal(t, "Be terse.", *fake.opts[0].System)
	assert.Nil(t, fake.opts[1].System)
}

func TestCompletionService_EmptyPrompt(t *testing.T) {
	fake := &fakeCompleter{}
	svc := NewCompletionService(fake, WithLogger(discardLogger()))

	_, err := svc.Stream(context.Background(), CompletionRequest{Prompt: "  "}, func(string) error { return nil })
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Empty(t, fake.prompts)
}

func TestCompletionService_ClassifiedErrorBeforeFragments(t *testing.T) {
	classified := &llm.Error{Kind: llm.KindServerUnavailable, StatusCode: 404, Message: "down", Summary: "down"}
	svc := NewCompletionService(&fakeCompleter{err: classified}, WithLogger(discardLogger()))

	called := false
	summary, err := svc.Stream(context.Background(), CompletionRequest{Prompt: "x"}, func(string) error {
		called = true
		return nil
	})
	assert.Nil(t, summary)
	assert.False(t, called)
	assert.True(t, llm.IsKind(err, llm.KindServerUnavailable))
}

func TestCompletionService_SinkErrorStops(t *testing.T) {
	fake := &fakeCompleter{body: "{\"response\":\"a\"}\n{\"response\":\"b\"}\n{\"response\":\"c\"}\n"}
	svc := NewCompletionService(fake, WithLogger(discardLogger()))

	stop := errors.New("client gone")
	var got []string
	summary, err := svc.Stream(context.Background(), CompletionRequest{Prompt: "x"}, func(fragment string) error {
		got = append(got, fragment)
		if len(got) == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 1, summary.Fragments)
}

func TestCompletionService_Complete(t *testing.T) {
	fake := &fakeCompleter{body: "{\"response\":\"4\"}\nnot-json\n{\"response\":\"2\"}\n"}
	svc := NewCompletionService(fake, WithLogger(discardLogger()))

	text, err := svc.Complete(context.Background(), CompletionRequest{Prompt: "6*7"})
	require.NoError(t, err)
	assert.Equal(t, "42", text)
}

func TestCompletionService_Models(t *testing.T) {
	svc := NewCompletionService(&fakeCompleter{models: []string{"llama2", "mistral"}}, WithLogger(discardLogger()))
	models, err := svc.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama2", "mistral"}, models)

	svc = NewCompletionService(&fakeCompleter{modelsErr: errors.New("refused")}, WithLogger(discardLogger()))
	_, err = svc.Models(context.Background())
	assert.ErrorContains(t, err, "listing models")
}

func TestCompletionService_Warmup(t *testing.T) {
	failed := llm.PreloadResult{Model: "llama2", Err: errors.New("refused")}
	svc := NewCompletionService(&fakeCompleter{preload: failed}, WithLogger(discardLogger()))

	result := svc.Warmup(context.Background())
	assert.False(t, result.OK())
	assert.Equal(t, "llama2", result.Model)
}
