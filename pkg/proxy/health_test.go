package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	health := NewHealth()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "app")
	})
	server := httptest.NewServer(WithHealth(health, next))
	defer server.Close()

	// Without the probe header, /health is just another app path
	res, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, "app", string(body))

	probe := func() (int, string) {
		req, err := http.NewRequest(http.MethodGet, server.URL+"/health", nil)
		require.NoError(t, err)
		req.Header.Set(ProbeHeader, "1")
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()
		body, _ := io.ReadAll(res.Body)
		return res.StatusCode, string(body)
	}

	status, body := probe()
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Ok", body)

	health.SetDraining()
	status, body = probe()
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "Shutting down", body)
}
