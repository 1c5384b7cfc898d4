package replicate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abzdel/handwritten-text-extraction-ocr-llm/internal/inference"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient("r8_secret",
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithLogger(quietLogger()),
		WithPollInterval(time.Millisecond),
	)
}

func TestRun_VersionedModelWaits(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/predictions", r.URL.Path)
		assert.Equal(t, "Bearer r8_secret", r.Header.Get("Authorization"))
		assert.Equal(t, "wait", r.Header.Get("Prefer"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		_, _ = io.WriteString(w, `{"id":"p1","status":"succeeded","output":"Patient: Rover\nSpecies: Dog"}`)
	}))
	defer srv.Close()

	out, err := newTestClient(srv).Run(context.Background(), "abiruyt/text-extract-ocr:abc123", map[string]any{"image": "data:image/jpeg;base64,AA=="})
	require.NoError(t, err)
	assert.Equal(t, "Patient: Rover\nSpecies: Dog", out)
	assert.Equal(t, "abc123", body["version"])
	assert.Equal(t, map[string]any{"image": "data:image/jpeg;base64,AA=="}, body["input"])
	assert.NotContains(t, body, "stream")
}

func TestRun_PollsUntilTerminal(t *testing.T) {
	var polls atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/models/acme/ocr/predictions":
			fmt.Fprintf(w, `{"id":"p2","status":"starting","urls":{"get":"%s/v1/predictions/p2"}}`, srv.URL)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/predictions/p2":
			if polls.Add(1) < 3 {
				fmt.Fprintf(w, `{"id":"p2","status":"processing","urls":{"get":"%s/v1/predictions/p2"}}`, srv.URL)
				return
			}
			_, _ = io.WriteString(w, `{"id":"p2","status":"succeeded","output":["Rover ","is ","a dog"]}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	out, err := newTestClient(srv).Run(context.Background(), "acme/ocr", nil)
	require.NoError(t, err)
	assert.Equal(t, "Rover is a dog", out)
	assert.Equal(t, int32(3), polls.Load())
}

func TestRun_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"http error", http.StatusUnauthorized, `{"detail":"Invalid token"}`, "status 401"},
		{"prediction failed", http.StatusCreated, `{"id":"p3","status":"failed","error":"CUDA out of memory"}`, "CUDA out of memory"},
		{"prediction canceled", http.StatusCreated, `{"id":"p4","status":"canceled"}`, "canceled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := newTestClient(srv).Run(context.Background(), "acme/ocr", nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRun_RejectsBadModel(t *testing.T) {
	c := NewClient("t", WithLogger(quietLogger()))
	for _, model := range []string{"", "justname", "acme/ocr:"} {
		_, err := c.Run(context.Background(), model, nil)
		assert.Error(t, err, model)
	}
}

func TestOutputText(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`null`, ""},
		{`"plain"`, "plain"},
		{`["a","b","c"]`, "abc"},
		{`{"text": "x"}`, `{"text":"x"}`},
	}
	for _, tt := range tests {
		got, err := OutputText(json.RawMessage(tt.raw))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func sseServer(t *testing.T, events string, gotInput *map[string]any) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models/meta/meta-llama-3-70b-instruct/predictions":
			assert.Empty(t, r.Header.Get("Prefer"))
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, true, body["stream"])
			if gotInput != nil {
				*gotInput, _ = body["input"].(map[string]any)
			}
			fmt.Fprintf(w, `{"id":"s1","status":"starting","urls":{"stream":"%s/stream/s1"}}`, srv.URL)
		case "/stream/s1":
			assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, events)
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
		}
	}))
	return srv
}

func collect(seq func(func(string, error) bool)) ([]string, error) {
	var chunks []string
	for chunk, err := range seq {
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func TestStream_YieldsOutputEventsInOrder(t *testing.T) {
	events := strings.Join([]string{
		"event: output\nid: 1\ndata: {\"a\":\n\n",
		"event: output\nid: 2\ndata: 1}\n\n",
		"event: output\nid: 3\ndata: line one\ndata: line two\n\n",
		"event: done\ndata: {}\n\n",
	}, "")
	var input map[string]any
	srv := sseServer(t, events, &input)
	defer srv.Close()

	req := inference.StreamRequest{
		Prompt:    "extract",
		Image:     []byte{1, 2, 3},
		ImageMIME: "image/png",
		Options:   inference.GenerationOptions{Temperature: 0.6, TopP: 0.9, PresencePenalty: 1.15},
	}
	chunks, err := collect(newTestClient(srv).Stream(context.Background(), "meta/meta-llama-3-70b-instruct", req))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":`, `1}`, "line one\nline two"}, chunks)

	assert.Equal(t, "extract", input["prompt"])
	assert.Equal(t, "data:image/png;base64,AQID", input["image"])
	assert.InDelta(t, 0.9, input["top_p"], 1e-9)
	assert.InDelta(t, 1.15, input["presence_penalty"], 1e-9)
}

func TestStream_ErrorEvent(t *testing.T) {
	srv := sseServer(t, "event: output\ndata: {\n\nevent: error\ndata: model crashed\n\n", nil)
	defer srv.Close()

	chunks, err := collect(newTestClient(srv).Stream(context.Background(), "meta/meta-llama-3-70b-instruct", inference.StreamRequest{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model crashed")
	assert.Equal(t, []string{"{"}, chunks)
}

func TestStream_CanceledDone(t *testing.T) {
	srv := sseServer(t, "event: done\ndata: {\"reason\":\"canceled\"}\n\n", nil)
	defer srv.Close()

	_, err := collect(newTestClient(srv).Stream(context.Background(), "meta/meta-llama-3-70b-instruct", inference.StreamRequest{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "canceled")
}

func TestStream_TruncatedStream(t *testing.T) {
	srv := sseServer(t, "event: output\ndata: {\"a\":\n\n", nil)
	defer srv.Close()

	_, err := collect(newTestClient(srv).Stream(context.Background(), "meta/meta-llama-3-70b-instruct", inference.StreamRequest{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without done event")
}
