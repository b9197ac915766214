package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOllama is a minimal Ollama server with configurable generate and tags handlers.
type fakeOllama struct {
	generate  http.HandlerFunc
	tags      http.HandlerFunc
	tagsCalls atomic.Int32
	lastBody  atomic.Value
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case generatePath:
		body, _ := io.ReadAll(r.Body)
		f.lastBody.Store(body)
		if f.generate == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		f.generate(w, r)
	case tagsPath:
		f.tagsCalls.Add(1)
		if f.tags == nil {
			http.NotFound(w, r)
			return
		}
		f.tags(w, r)
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, f *fakeOllama, opts ...OllamaOption) (*OllamaClient, *bytes.Buffer) {
	t.Helper()
	server := httptest.NewServer(f)
	t.Cleanup(server.Close)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	opts = append([]OllamaOption{WithBaseURL(server.URL), WithLogger(logger)}, opts...)
	return NewOllamaClient(opts...), &logs
}

func writeTags(names ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models := make([]map[string]string, 0, len(names))
		for _, name := range names {
			models = append(models, map[string]string{"name": name})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"models": models})
	}
}

func TestNewOllamaClient_Defaults(t *testing.T) {
	c := NewOllamaClient(WithBaseURL(""), WithModel(""))
	assert.Equal(t, "http://localhost:11434", c.BaseURL())
	assert.Equal(t, "llama2", c.ModelName())

	c = NewOllamaClient(WithBaseURL("http://gpu:11434/"), WithModel("mistral"))
	assert.Equal(t, "http://gpu:11434", c.BaseURL())
	assert.Equal(t, "mistral", c.ModelName())
}

func TestStreamComplete_Success(t *testing.T) {
	f := &fakeOllama{generate: func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, "{\"response\":\"Hel\"}\n{\"response\":\"lo\"}\n{\"done\":true}\n")
	}}
	client, _ := newTestClient(t, f, WithModel("mistral"), WithSystemMessage("Be brief."))

	stream, err := client.StreamComplete(context.Background(), "Say hello", CompletionOptions{
		Temperature: 0.5,
		TopK:        20,
		Stop:        []string{"###"},
	})
	require.NoError(t, err)

	var fragments []string
	for fragment, err := range stream.Fragments() {
		require.NoError(t, err)
		fragments = append(fragments, fragment)
	}
	assert.Equal(t, []string{"Hel", "lo"}, fragments)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(f.lastBody.Load().([]byte), &sent))
	assert.Equal(t, "Say hello", sent["template"])
	assert.Equal(t, "mistral", sent["model"])
	assert.Equal(t, "Be brief.", sent["system"])
	options := sent["options"].(map[string]any)
	assert.Len(t, options, 5)
	assert.Equal(t, 0.5, options["temperature"])
	assert.Equal(t, 20.0, options["top_k"])
	assert.Nil(t, options["num_predict"])
	assert.Equal(t, []any{"###"}, options["stop"])
}

func TestStreamComplete_SystemOverride(t *testing.T) {
	override := "Answer in French."
	empty := ""
	testCases := []struct {
		description string
		system      *string
		expected    any
	}{
		{description: "client default", system: nil, expected: "Be brief."},
		{description: "per-call override", system: &override, expected: "Answer in French."},
		{description: "explicitly empty", system: &empty, expected: nil},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			f := &fakeOllama{generate: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, "{\"done\":true}\n")
			}}
			client, _ := newTestClient(t, f, WithSystemMessage("Be brief."))

			_, err := client.Complete(context.Background(), "hi", CompletionOptions{System: tc.system})
			require.NoError(t, err)

			var sent map[string]any
			require.NoError(t, json.Unmarshal(f.lastBody.Load().([]byte), &sent))
			assert.Contains(t, sent, "system")
			assert.Equal(t, tc.expected, sent["system"])
			assert.Len(t, sent["options"], 5)
		})
	}
}

func TestComplete_ConcatenatesFragments(t *testing.T) {
	f := &fakeOllama{generate: func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "{\"response\":\"The \"}\n{\"response\":\"answer\"}\nbad\n{\"response\":\" is 42\"}\n{\"done\":true}\n")
	}}
	client, logs := newTestClient(t, f)

	text, err := client.Complete(context.Background(), "q", CompletionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "The answer is 42", text)
	assert.Contains(t, logs.String(), "error parsing ollama response")
}

func TestStreamComplete_MissingModelEnrichedWithDownloadedModels(t *testing.T) {
	f := &fakeOllama{
		generate: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"open /root/.ollama/models/manifests/codellama: no such file or directory"}`)
		},
		tags: writeTags("llama2", "mistral"),
	}
	client, _ := newTestClient(t, f, WithModel("codellama"))

	stream, err := client.StreamComplete(context.Background(), "x", CompletionOptions{})
	require.Error(t, err)
	assert.Nil(t, stream)

	classified, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindBadRequest, classified.Kind)
	assert.Equal(t, http.StatusBadRequest, classified.StatusCode)
	assert.Equal(t, "Invalid request to Ollama", classified.Summary)
	assert.Contains(t, classified.Message, "Ollama returned an error: ")
	assert.Contains(t, classified.Message, "no such file")
	assert.Contains(t, classified.Message, "llama2, mistral")
	assert.Contains(t, classified.Message, "the model 'codellama' is not downloaded")
	assert.Contains(t, classified.Message, "`ollama run codellama`")
	assert.EqualValues(t, 1, f.tagsCalls.Load())
}

func TestStreamComplete_DiscoveryFailureKeepsPrimaryError(t *testing.T) {
	f := &fakeOllama{
		generate: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, "no such file or directory")
		},
		tags: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
	}
	client, logs := newTestClient(t, f)

	_, err := client.StreamComplete(context.Background(), "x", CompletionOptions{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindBadRequest))
	assert.Equal(t, "Ollama returned an error: no such file or directory", err.Error())
	assert.Contains(t, logs.String(), "error listing ollama models")
}

func TestStreamComplete_BadRequestWithoutMissingModel(t *testing.T) {
	f := &fakeOllama{
		generate: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, "invalid options")
		},
		tags: writeTags("llama2"),
	}
	client, _ := newTestClient(t, f)

	_, err := client.StreamComplete(context.Background(), "x", CompletionOptions{})
	assert.True(t, IsKind(err, KindBadRequest))
	assert.Equal(t, "Ollama returned an error: invalid options", err.Error())
	assert.EqualValues(t, 0, f.tagsCalls.Load())
}

func TestStreamComplete_NotFound(t *testing.T) {
	f := &fakeOllama{
		generate: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, "404 page not found")
		},
		tags: writeTags("llama2"),
	}
	client, _ := newTestClient(t, f)

	_, err := client.StreamComplete(context.Background(), "x", CompletionOptions{})
	classified, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindServerUnavailable, classified.Kind)
	assert.Equal(t, "Ollama not found. Please make sure the server is running.", classified.Summary)
	assert.Contains(t, classified.Message, "Please make sure the server is running.")
	assert.Contains(t, classified.Message, "404 page not found")
	assert.EqualValues(t, 0, f.tagsCalls.Load())
}

func TestStreamComplete_OtherStatus(t *testing.T) {
	f := &fakeOllama{generate: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "out of memory")
	}}
	client, _ := newTestClient(t, f)

	_, err := client.StreamComplete(context.Background(), "x", CompletionOptions{})
	classified, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindBadRequest, classified.Kind)
	assert.Equal(t, http.StatusInternalServerError, classified.StatusCode)
	assert.Equal(t, "Ollama returned an error: out of memory", classified.Message)
	assert.Equal(t, []byte("out of memory"), classified.Body)
}

func TestStreamComplete_ServerDown(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewOllamaClient(WithBaseURL(url), WithLogger(discardLogger()))
	_, err := client.StreamComplete(context.Background(), "x", CompletionOptions{})
	require.Error(t, err)
	_, classified := AsError(err)
	assert.False(t, classified)
	assert.Contains(t, err.Error(), "executing request")
}

func TestStream_CloseReleasesConnection(t *testing.T) {
	released := make(chan struct{})
	f := &fakeOllama{generate: func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "{\"response\":\"first\"}\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(released)
	}}
	client, _ := newTestClient(t, f)

	stream, err := client.StreamComplete(context.Background(), "x", CompletionOptions{})
	require.NoError(t, err)

	for fragment, err := range stream.Fragments() {
		require.NoError(t, err)
		assert.Equal(t, "first", fragment)
		break
	}

	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("server request was not released after the consumer stopped")
	}

	_, err = stream.Recv()
	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.NoError(t, stream.Close())
}

func TestStream_DisconnectMidStream(t *testing.T) {
	f := &fakeOllama{generate: func(w http.ResponseWriter, r *http.Request) {
		conn, buf, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		defer conn.Close()
		buf.WriteString("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\nContent-Type: application/x-ndjson\r\n\r\n")
		chunk := "{\"response\":\"partial\"}\n"
		fmt.Fprintf(buf, "%x\r\n%s\r\n", len(chunk), chunk)
		buf.Flush()
	}}
	client, _ := newTestClient(t, f)

	stream, err := client.StreamComplete(context.Background(), "x", CompletionOptions{})
	require.NoError(t, err)

	fragment, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "partial", fragment)

	_, err = stream.Recv()
	require.Error(t, err)
	assert.False(t, errors.Is(err, io.EOF))
	_, classified := AsError(err)
	assert.False(t, classified)
}

func TestListModels_Idempotent(t *testing.T) {
	f := &fakeOllama{tags: writeTags("llama2:latest", "mistral:7b", "codellama:13b")}
	client, _ := newTestClient(t, f)

	first, err := client.ListModels(context.Background())
	require.NoError(t, err)
	second, err := client.ListModels(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"llama2:latest", "mistral:7b", "codellama:13b"}, first)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 2, f.tagsCalls.Load())
}

func TestListModels_Errors(t *testing.T) {
	testCases := []struct {
		description string
		handler     http.HandlerFunc
	}{
		{
			description: "non-200 status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			description: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, "{models:")
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			client, _ := newTestClient(t, &fakeOllama{tags: tc.handler})
			models, err := client.ListModels(context.Background())
			assert.Error(t, err)
			assert.Nil(t, models)
		})
	}
}

func TestPreload(t *testing.T) {
	f := &fakeOllama{}
	client, logs := newTestClient(t, f, WithModel("mistral"))

	result := client.Preload(context.Background())
	assert.True(t, result.OK())
	assert.Equal(t, "mistral", result.Model)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Empty(t, logs.String())

	var sent map[string]any
	require.NoError(t, json.Unmarshal(f.lastBody.Load().([]byte), &sent))
	assert.Equal(t, map[string]any{"prompt": "", "model": "mistral"}, sent)
}

func TestPreload_FailureIsSwallowed(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	var logs bytes.Buffer
	client := NewOllamaClient(WithBaseURL(url), WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	result := client.Preload(context.Background())
	assert.False(t, result.OK())
	assert.Error(t, result.Err)
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "error pre-loading ollama model")
}
