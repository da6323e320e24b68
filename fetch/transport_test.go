package fetch

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClient_Timeouts(t *testing.T) {
	client := newHTTPClient(20*time.Second, 5*time.Second)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 20*time.Second, transport.TLSHandshakeTimeout)
	assert.Equal(t, 5*time.Second, transport.ResponseHeaderTimeout)
	assert.Zero(t, transport.IdleConnTimeout, "idle pooling is bounded by the read deadline")
	assert.Zero(t, client.Timeout, "no whole-request budget")
}

func TestNewHTTPClient_ReusableAfterIdle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	defer server.Close()

	client := newHTTPClient(time.Second, 50*time.Millisecond)

	get := func() {
		t.Helper()
		resp, err := client.Get(server.URL)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "ok", string(body))
	}

	get()
	// Idle past the read timeout; the pooled connection is dropped, not reused broken.
	time.Sleep(200 * time.Millisecond)
	get()
}
