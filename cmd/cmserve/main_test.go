package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TalpaLabs/coreminer/pkg/feedback"
)

func decodeLines(t *testing.T, out *bytes.Buffer) []feedback.Feedback {
	t.Helper()
	var fbs []feedback.Feedback
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		var fb feedback.Feedback
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &fb))
		fbs = append(fbs, fb)
	}
	return fbs
}

func TestServeReturnsParseErrorForMalformedLine(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	in := strings.NewReader("not json\n")
	out := &bytes.Buffer{}

	require.NoError(t, serve(in, out))

	fbs := decodeLines(t, out)
	require.Len(t, fbs, 1)
	assert.Equal(t, feedback.FeedbackError, fbs[0].Tag)
}

func TestServeSkipsBlankLines(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	in := strings.NewReader("\n\n")
	out := &bytes.Buffer{}

	require.NoError(t, serve(in, out))
	assert.Empty(t, out.String())
}

func TestServePluginListRoundTrips(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	req, err := json.Marshal(feedback.Status{Tag: feedback.StatusPluginList})
	require.NoError(t, err)

	in := strings.NewReader(string(req) + "\n")
	out := &bytes.Buffer{}
	require.NoError(t, serve(in, out))

	fbs := decodeLines(t, out)
	require.Len(t, fbs, 1)
	assert.Equal(t, feedback.FeedbackPlugins, fbs[0].Tag)
	require.NotEmpty(t, fbs[0].Plugins)
}

func TestServeStopsAfterQuitStatus(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	quit, err := json.Marshal(feedback.Status{Tag: feedback.StatusQuit})
	require.NoError(t, err)
	list, err := json.Marshal(feedback.Status{Tag: feedback.StatusPluginList})
	require.NoError(t, err)

	in := strings.NewReader(string(quit) + "\n" + string(list) + "\n")
	out := &bytes.Buffer{}
	require.NoError(t, serve(in, out))

	fbs := decodeLines(t, out)
	require.Len(t, fbs, 1)
	assert.Equal(t, feedback.FeedbackOk, fbs[0].Tag)
}

func TestServeOperationBeforeRunReturnsNoDebuggeeError(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	req, err := json.Marshal(feedback.Status{Tag: feedback.StatusContinue})
	require.NoError(t, err)

	in := strings.NewReader(string(req) + "\n")
	out := &bytes.Buffer{}
	require.NoError(t, serve(in, out))

	fbs := decodeLines(t, out)
	require.Len(t, fbs, 1)
	assert.Equal(t, feedback.FeedbackError, fbs[0].Tag)
}
