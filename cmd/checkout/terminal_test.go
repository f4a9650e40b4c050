package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/checkout-orchestrator/internal/config"
	"github.com/yourorg/checkout-orchestrator/internal/remote"
)

func TestTerminal_PromptRetry(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		assumeYes bool
		want      bool
	}{
		{name: "yes", input: "y\n", want: true},
		{name: "long yes", input: "YES\n", want: true},
		{name: "default is no", input: "\n", want: false},
		{name: "closed input", input: "", want: false},
		{name: "assume yes", input: "", assumeYes: true, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			term := newTerminal(strings.NewReader(tt.input), &out, terminalOptions{AssumeYes: tt.assumeYes})
			got := term.PromptRetry(context.Background(), errors.New("connection reset"))
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Request failed: connection reset")
		})
	}
}

func TestTerminal_AskHonoursContext(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	term := newTerminal(r, io.Discard, terminalOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := term.ask(ctx, "> ")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTerminal_CompleteChallenge(t *testing.T) {
	var gotMethod, gotQuery, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotQuery = r.URL.RawQuery
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	term := newTerminal(strings.NewReader(""), io.Discard, terminalOptions{HTTPClient: srv.Client()})
	err := term.completeChallenge(context.Background(), remote.BrowserRequest{
		Method: remote.RequestPost,
		URI:    srv.URL + "/3ds/p1",
		Form:   []remote.FormField{{Key: "MD", Template: "abc"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "result=success", gotQuery)
	assert.Equal(t, "MD=abc", gotBody)
}

func TestTerminal_CompleteChallengeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	term := newTerminal(strings.NewReader(""), io.Discard, terminalOptions{HTTPClient: srv.Client()})
	err := term.completeChallenge(context.Background(), remote.BrowserRequest{Method: remote.RequestGet, URI: srv.URL})
	assert.ErrorContains(t, err, "returned 404")
}

func TestConfigCmd_InitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "checkout.yaml")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"config", "init", path})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Wrote default configuration to "+path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().API, cfg.API)
	assert.Equal(t, config.Default().Retry.MaxAttempts, cfg.Retry.MaxAttempts)

	root = newRootCmd()
	root.SetOut(io.Discard)
	root.SetArgs([]string{"config", "init", path})
	assert.ErrorContains(t, root.Execute(), "already exists")

	out.Reset()
	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"config", "show", "--config", path})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "base_url: http://localhost:8080")
}

func TestConfigCmd_ShowRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkout.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry:\n  max_attempts: 0\n"), 0o644))

	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetArgs([]string{"config", "show", "--config", path})
	assert.ErrorContains(t, root.Execute(), "retry.max_attempts must be positive")
}
