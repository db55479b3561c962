package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/langextract-llamacpp/errors"
	"github.com/mozilla-ai/langextract-llamacpp/inference"
	"github.com/mozilla-ai/langextract-llamacpp/internal/testutil"
)

func runCLI(t *testing.T, stdin string, args ...string) ([]result, error) {
	t.Helper()

	base := []string{"--env-file", "", "--log-format", "json", "--log-level", "error"}

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), append(base, args...), strings.NewReader(stdin), &stdout, &stderr)

	var results []result
	dec := json.NewDecoder(&stdout)
	for dec.More() {
		var r result
		require.NoError(t, dec.Decode(&r))
		results = append(results, r)
	}
	return results, err
}

func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("prompts from arguments", func(t *testing.T) {
		t.Parallel()

		srv := testutil.NewChatServer(t, testutil.WithModels("llama-7b"), testutil.WithReplies("4", "6"))

		results, err := runCLI(t, "",
			"--api-base", srv.BaseURL(),
			"--system-prompt", "Be terse.",
			"--temperature", "0",
			"2+2=", "3+3=",
		)
		require.NoError(t, err)
		require.Equal(t, []result{
			{Index: 0, Prompt: "2+2=", Outputs: []inference.ScoredOutput{{Score: 1.0, Output: "4"}}},
			{Index: 1, Prompt: "3+3=", Outputs: []inference.ScoredOutput{{Score: 1.0, Output: "6"}}},
		}, results)

		reqs := srv.Requests()
		require.Len(t, reqs, 2)
		require.Equal(t, "llama-7b", reqs[0].Body["model"])
		require.Equal(t, 0.0, reqs[0].Body["temperature"])
		require.NotContains(t, reqs[0].Body, "top_p")
	})

	t.Run("prompts from stdin", func(t *testing.T) {
		t.Parallel()

		srv := testutil.NewChatServer(t)

		results, err := runCLI(t, "first\n\n  second  \n", "--api-base", srv.BaseURL(), "--top-p", "0.9")
		require.NoError(t, err)
		require.Len(t, results, 2)
		require.Equal(t, "second", results[1].Prompt)

		require.Equal(t, 0.9, srv.Requests()[0].Body["top_p"])
	})

	t.Run("applies schema file", func(t *testing.T) {
		t.Parallel()

		srv := testutil.NewChatServer(t, testutil.WithReplies(`{"answer":"4"}`))

		data, err := json.Marshal(testutil.TestSchema)
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "schema.json")
		require.NoError(t, os.WriteFile(path, data, 0o600))

		results, err := runCLI(t, "", "--api-base", srv.BaseURL(), "--schema", path, "2+2?")
		require.NoError(t, err)
		require.Equal(t, `{"answer":"4"}`, results[0].Outputs[0].Output)

		rf, ok := srv.Requests()[0].Body["response_format"].(map[string]any)
		require.True(t, ok)
		require.Equal(t, "json_schema", rf["type"])
	})

	t.Run("stops at first failure", func(t *testing.T) {
		t.Parallel()

		srv := testutil.NewChatServer(t, testutil.WithChatError(2, http.StatusServiceUnavailable, "loading model"))

		results, err := runCLI(t, "", "--api-base", srv.BaseURL(), "a", "b", "c")
		require.ErrorIs(t, err, errors.ErrInferenceRuntime)
		require.Len(t, results, 1)
		require.Len(t, srv.Requests(), 2)
	})

	t.Run("no models served", func(t *testing.T) {
		t.Parallel()

		srv := testutil.NewChatServer(t, testutil.WithModels())

		_, err := runCLI(t, "", "--api-base", srv.BaseURL(), "a")
		require.ErrorIs(t, err, errors.ErrInferenceConfig)
	})

	t.Run("no prompts", func(t *testing.T) {
		t.Parallel()

		_, err := runCLI(t, "\n  \n")
		require.ErrorIs(t, err, errNoPrompts)
	})

	t.Run("invalid log level", func(t *testing.T) {
		t.Parallel()

		_, err := runCLI(t, "", "--log-level", "loud", "a")
		require.ErrorContains(t, err, "invalid log level")
	})

	t.Run("unknown flag", func(t *testing.T) {
		t.Parallel()

		_, err := runCLI(t, "", "--no-such-flag")
		require.Error(t, err)
	})
}

func TestModelConfig(t *testing.T) {
	t.Parallel()

	newViper := func(t *testing.T, args ...string) *viper.Viper {
		t.Helper()

		flags := newFlagSet(&bytes.Buffer{})
		require.NoError(t, flags.Parse(args))

		v := viper.New()
		require.NoError(t, v.BindPFlags(flags))
		return v
	}

	t.Run("defaults to llamacpp provider", func(t *testing.T) {
		t.Parallel()

		cfg := modelConfig(newViper(t))
		require.Equal(t, defaultProvider, cfg.Provider)
		require.Empty(t, cfg.ModelID)
		require.Equal(t, map[string]any{
			"max_tokens":  32768,
			"temperature": 0.6,
			"timeout":     time.Duration(0),
		}, cfg.ProviderKwargs)
	})

	t.Run("model ID selects provider by pattern", func(t *testing.T) {
		t.Parallel()

		cfg := modelConfig(newViper(t, "--model", "llama-7b", "--api-key", "k", "--api-base", "http://llama:8080/v1"))
		require.Empty(t, cfg.Provider)
		require.Equal(t, "llama-7b", cfg.ModelID)
		require.Equal(t, "k", cfg.ProviderKwargs["api_key"])
		require.Equal(t, "http://llama:8080/v1", cfg.ProviderKwargs["api_base"])
		require.NotContains(t, cfg.ProviderKwargs, "system_prompt")
	})
}

func TestReadPrompts(t *testing.T) {
	t.Parallel()

	prompts, err := readPrompts([]string{"a", " b "}, strings.NewReader("ignored"))
	require.NoError(t, err)
	require.Equal(t, []string{"a", " b "}, prompts)

	prompts, err = readPrompts(nil, strings.NewReader("x\r\n\ny\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y"}, prompts)

	_, err = readPrompts(nil, strings.NewReader(""))
	require.ErrorIs(t, err, errNoPrompts)
}
