package api

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resolvd/decisiond/pkg/stream"
)

func resumeURL(ts *httptest.Server, token string, cursor int64) string {
	q := url.Values{"token": {token}}
	if cursor >= 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	return ts.URL + "/api/v1/stream/resume?" + q.Encode()
}

func TestResumeStream_ReplaysAfterDisconnect(t *testing.T) {
	release := make(chan struct{})
	ts := newTestServer(t, stream.NewMemoryStore(), gatedProvider(release))

	resp := doSubmit(t, ts)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	accepted := decodeBody[SubmitDecisionResponse](t, resp)
	require.NotEmpty(t, accepted.ResumeToken)

	// First attachment sees the opening stage event, then drops.
	first, err := ts.Client().Get(ts.URL + accepted.StreamURL)
	require.NoError(t, err)
	frame, err := readFrame(bufio.NewReader(first.Body))
	require.NoError(t, err)
	require.Equal(t, "0", frame.ID)
	first.Body.Close()

	// Reconnect with the cursor of the last frame seen. The turn is still
	// pinned in flight, so everything after sequence 0 arrives here.
	second, err := ts.Client().Get(resumeURL(ts, accepted.ResumeToken, 0))
	require.NoError(t, err)
	defer second.Body.Close()
	require.Equal(t, http.StatusOK, second.StatusCode)

	close(release)
	frames := readUntil(t, bufio.NewReader(second.Body), terminalFrame)
	require.NotEmpty(t, frames)
	assert.Equal(t, "1", frames[0].ID, "replay must start right after the cursor")
	prev := int64(0)
	for _, f := range frames {
		seq, err := strconv.ParseInt(f.ID, 10, 64)
		require.NoError(t, err)
		assert.Equal(t, prev+1, seq, "sequences must be contiguous")
		prev = seq
	}
	assert.Equal(t, "done", frames[len(frames)-1].Event)
}

func TestResumeStream_BadRequests(t *testing.T) {
	ts := newTestServer(t, stream.NewMemoryStore(), succeedingProvider())

	t.Run("missing token", func(t *testing.T) {
		resp, err := ts.Client().Get(ts.URL + "/api/v1/stream/resume")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("invalid token", func(t *testing.T) {
		resp, err := ts.Client().Get(resumeURL(ts, "not-a-token", 0))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("non-numeric cursor", func(t *testing.T) {
		resp, err := ts.Client().Get(resumeURL(ts, "whatever", -1) + "&cursor=abc")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown session attach", func(t *testing.T) {
		resp, err := ts.Client().Get(ts.URL + streamURL("no-such-session"))
		require.NoError(t, err)
		body := decodeBody[ErrorResponse](t, resp)
		assert.Equal(t, http.StatusGone, resp.StatusCode)
		assert.True(t, body.RestartRequired)
	})
}

func TestResumeStream_AfterCompletionGone(t *testing.T) {
	ts := newTestServer(t, stream.NewMemoryStore(), succeedingProvider())

	resp := doSubmit(t, ts)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	accepted := decodeBody[SubmitDecisionResponse](t, resp)

	// Once the turn completes the session closes and its buffer is gone;
	// a late resume cannot be honored and the client must resubmit.
	var gone ErrorResponse
	require.Eventually(t, func() bool {
		r, err := ts.Client().Get(resumeURL(ts, accepted.ResumeToken, 0))
		if err != nil {
			return false
		}
		if r.StatusCode != http.StatusGone {
			r.Body.Close()
			return false
		}
		gone = decodeBody[ErrorResponse](t, r)
		return true
	}, 5*time.Second, 20*time.Millisecond)

	assert.True(t, gone.RestartRequired)
	assert.NotEmpty(t, gone.Error)
}

func TestStreamPolicy(t *testing.T) {
	ts := newTestServer(t, stream.NewMemoryStore(), succeedingProvider())

	resp, err := ts.Client().Get(ts.URL + "/api/v1/stream/policy")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	policy := decodeBody[StreamPolicyResponse](t, resp)

	assert.Equal(t, int64(500), policy.InitialDelayMS)
	assert.Equal(t, int64(30000), policy.MaxDelayMS)
	assert.Equal(t, 10, policy.MaxAttempts)
}

func TestHealth(t *testing.T) {
	getHealth := func(ts *httptest.Server) HealthResponse {
		resp, err := ts.Client().Get(ts.URL + "/api/v1/health")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		return decodeBody[HealthResponse](t, resp)
	}

	t.Run("store healthy", func(t *testing.T) {
		ts := newTestServer(t, stream.NewMemoryStore(), succeedingProvider())
		health := getHealth(ts)
		assert.Equal(t, "healthy", health.Status)
		assert.Equal(t, "healthy", health.Store)
		assert.NotEmpty(t, health.Version)
		assert.Len(t, health.Circuits, 1)
	})

	t.Run("store unavailable", func(t *testing.T) {
		ts := newTestServer(t, failingStore{}, succeedingProvider())
		health := getHealth(ts)
		assert.Equal(t, "degraded", health.Status)
		assert.Equal(t, "unavailable", health.Store)
	})

	t.Run("store disabled", func(t *testing.T) {
		ts := newTestServer(t, nil, succeedingProvider())
		health := getHealth(ts)
		assert.Equal(t, "healthy", health.Status)
		assert.Equal(t, "disabled", health.Store)
	})
}
