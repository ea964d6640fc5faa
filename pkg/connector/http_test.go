package connector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method string
	path   string
	auth   string
	body   []byte
}

func newAPIStub(t *testing.T, status int, response string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		requests = append(requests, recordedRequest{
			method: r.Method,
			path:   r.URL.EscapedPath(),
			auth:   r.Header.Get(AuthHeader),
			body:   body,
		})
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		io.WriteString(w, response)
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func TestHTTPInitRunGetInfo(t *testing.T) {
	server, requests := newAPIStub(t, 200, `{
		"id": 7,
		"experiment_hash": "a1b2c3",
		"parameters": {"cmdline_00000": "./count.sh"},
		"inputs": [{"name": "data", "input_hash": "ffff", "path": "/box/data", "size": 4, "link": "http://signed/input"}],
		"outputs": [{"name": "output", "path": "/box/output"}],
		"experiment_url": "http://signed/bundle"
	}`)

	conn := NewHTTP(server.URL, "secret")
	info, err := conn.InitRunGetInfo(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, int64(7), info.ID)
	assert.Equal(t, "a1b2c3", info.ExperimentHash)
	assert.Equal(t, "./count.sh", info.Parameters["cmdline_00000"])
	require.Len(t, info.Inputs, 1)
	assert.Equal(t, "http://signed/input", info.Inputs[0].Link)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/runners/run/7/init", req.path)
	assert.Equal(t, "secret", req.auth)

	link, err := conn.GetBundleLink(context.Background(), info)
	require.NoError(t, err)
	assert.Equal(t, "http://signed/bundle", link)

	// Input links come back with init, so this is a pass-through
	same, err := conn.GetInputLinks(context.Background(), info)
	require.NoError(t, err)
	assert.Equal(t, info, same)
}

func TestHTTPInitBadRequest(t *testing.T) {
	server, _ := newAPIStub(t, 400, `{"error": "Missing value for parameters: mode"}`)

	conn := NewHTTP(server.URL, "secret")
	_, err := conn.InitRunGetInfo(context.Background(), 7)
	require.Error(t, err)
	assert.True(t, IsBadRequest(err))
	assert.Equal(t, "Missing value for parameters: mode", err.Error())
}

func TestHTTPLifecycleEndpoints(t *testing.T) {
	server, requests := newAPIStub(t, 200, `{}`)
	conn := NewHTTP(server.URL, "secret")
	ctx := context.Background()

	require.NoError(t, conn.RunStarted(ctx, 7))
	require.NoError(t, conn.RunProgress(ctx, 7, 60, "Container is running"))
	require.NoError(t, conn.RunDone(ctx, 7))
	require.NoError(t, conn.RunFailed(ctx, 7, "Internal error"))

	require.Len(t, *requests, 4)
	assert.Equal(t, "/runners/run/7/start", (*requests)[0].path)
	assert.Equal(t, "/runners/run/7/set-progress", (*requests)[1].path)
	assert.Equal(t, "/runners/run/7/done", (*requests)[2].path)
	assert.Equal(t, "/runners/run/7/failed", (*requests)[3].path)

	var progress map[string]interface{}
	require.NoError(t, json.Unmarshal((*requests)[1].body, &progress))
	assert.Equal(t, float64(60), progress["percent"])
	assert.Equal(t, "Container is running", progress["text"])

	var failed map[string]string
	require.NoError(t, json.Unmarshal((*requests)[3].body, &failed))
	assert.Equal(t, "Internal error", failed["error"])
}

func TestHTTPLogMultiple(t *testing.T) {
	server, requests := newAPIStub(t, 200, `{}`)
	conn := NewHTTP(server.URL, "secret")

	require.NoError(t, conn.LogMultiple(context.Background(), 7, []string{"> one", "> two"}))

	// No request at all for an empty batch
	require.NoError(t, conn.LogMultiple(context.Background(), 7, nil))

	require.Len(t, *requests, 1)
	assert.Equal(t, "/runners/run/7/log", (*requests)[0].path)

	var payload struct {
		Lines []struct {
			Msg  string `json:"msg"`
			Time string `json:"time"`
		} `json:"lines"`
	}
	require.NoError(t, json.Unmarshal((*requests)[0].body, &payload))
	require.Len(t, payload.Lines, 2)
	assert.Equal(t, "> one", payload.Lines[0].Msg)
	assert.Equal(t, "> two", payload.Lines[1].Msg)
	_, err := time.Parse(time.RFC3339Nano, payload.Lines[0].Time)
	assert.NoError(t, err)
}

func TestHTTPUploadOutputFile(t *testing.T) {
	server, requests := newAPIStub(t, 200, `{}`)
	conn := NewHTTP(server.URL, "secret")

	body := strings.NewReader("results\n")
	err := conn.UploadOutputFile(context.Background(), 7, "my output.csv", body, "")
	require.NoError(t, err)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "/runners/run/7/output/my%20output.csv", req.path)
	assert.Equal(t, "secret", req.auth)
	assert.Equal(t, "results\n", string(req.body))
}
