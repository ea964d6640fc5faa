package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/reproserver/reproserver/pkg/connector"
	"github.com/reproserver/reproserver/pkg/storage"
	"github.com/reproserver/reproserver/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeObjects vends deterministic URLs and records uploads.
type fakeObjects struct {
	uploads map[string][]byte
}

func (f *fakeObjects) UploadFile(ctx context.Context, bucket, key string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.uploads[bucket+"/"+key] = data
	return nil
}

func (f *fakeObjects) DownloadURL(ctx context.Context, bucket, key string) (string, error) {
	return fmt.Sprintf("http://objects.test/%s/%s", bucket, key), nil
}

func (f *fakeObjects) ServeURL(ctx context.Context, bucket, key, filename, mime string) (string, error) {
	return fmt.Sprintf("http://objects.test/%s/%s", bucket, key), nil
}

func (f *fakeObjects) Check(ctx context.Context) error { return nil }

func newTestAPI(t *testing.T) (*httptest.Server, storage.Store, *fakeObjects) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	objects := &fakeObjects{uploads: make(map[string][]byte)}
	conn := connector.NewDirect(store, objects)
	server := httptest.NewServer(NewServer(conn, store, "secret").Router())
	t.Cleanup(server.Close)
	return server, store, objects
}

func newTestRun(t *testing.T, store storage.Store) *types.Run {
	t.Helper()
	exp := &types.Experiment{
		Hash: "a1b2c3",
		Parameters: []types.Parameter{
			{Name: "cmdline_00000", Optional: true, Default: "./count.sh"},
		},
		Paths: []types.Path{
			{Name: "data", Path: "/box/data", IsInput: true},
			{Name: "output", Path: "/box/output", IsOutput: true},
		},
	}
	require.NoError(t, store.CreateExperiment(exp))
	run := &types.Run{
		ExperimentHash: exp.Hash,
		InputFiles:     []types.InputFile{{Name: "data", Hash: "ffff", Size: 4}},
	}
	require.NoError(t, store.CreateRun(run))
	return run
}

func call(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set(connector.AuthHeader, token)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestAuthRequired(t *testing.T) {
	server, store, _ := newTestAPI(t)
	run := newTestRun(t, store)
	url := fmt.Sprintf("%s/runners/run/%d/start", server.URL, run.ID)

	res := call(t, http.MethodPost, url, "", "{}")
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res = call(t, http.MethodPost, url, "wrong", "{}")
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res = call(t, http.MethodPost, url, "secret", "{}")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
}

func TestInvalidRunID(t *testing.T) {
	server, _, _ := newTestAPI(t)
	res := call(t, http.MethodPost, server.URL+"/runners/run/seven/start", "secret", "{}")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, "Invalid run id", body["error"])
}

func TestInitReturnsLinks(t *testing.T) {
	server, store, _ := newTestAPI(t)
	run := newTestRun(t, store)

	res := call(
		t, http.MethodPost,
		fmt.Sprintf("%s/runners/run/%d/init", server.URL, run.ID),
		"secret", "{}",
	)
	require.Equal(t, http.StatusOK, res.StatusCode)

	var info types.RunInfo
	require.NoError(t, json.NewDecoder(res.Body).Decode(&info))
	assert.Equal(t, run.ID, info.ID)
	assert.Equal(t, "http://objects.test/experiments/a1b2c3", info.ExperimentURL)
	require.Len(t, info.Inputs, 1)
	assert.Equal(t, "http://objects.test/inputs/ffff", info.Inputs[0].Link)
	assert.Equal(t, "./count.sh", info.Parameters["cmdline_00000"])
}

func TestInitUnknownRun(t *testing.T) {
	server, _, _ := newTestAPI(t)
	res := call(t, http.MethodPost, server.URL+"/runners/run/404/init", "secret", "{}")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestInitValidationError(t *testing.T) {
	server, store, _ := newTestAPI(t)
	exp := &types.Experiment{
		Hash:       "d4e5f6",
		Parameters: []types.Parameter{{Name: "mode", Optional: false}},
	}
	require.NoError(t, store.CreateExperiment(exp))
	run := &types.Run{ExperimentHash: exp.Hash}
	require.NoError(t, store.CreateRun(run))

	res := call(
		t, http.MethodPost,
		fmt.Sprintf("%s/runners/run/%d/init", server.URL, run.ID),
		"secret", "{}",
	)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, "Missing value for parameters: mode", body["error"])
}

func TestLifecycle(t *testing.T) {
	server, store, _ := newTestAPI(t)
	run := newTestRun(t, store)
	base := fmt.Sprintf("%s/runners/run/%d", server.URL, run.ID)

	res := call(t, http.MethodPost, base+"/start", "secret", "{}")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	res = call(t, http.MethodPost, base+"/set-progress", "secret",
		`{"percent": 80, "text": "Container is running"}`)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	res = call(t, http.MethodPost, base+"/done", "secret", "{}")
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	got, err := store.GetRun(run.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.Started)
	assert.NotNil(t, got.Done)
	assert.Equal(t, 80, got.ProgressPercent)
	assert.Equal(t, "Container is running", got.ProgressText)
}

func TestFailed(t *testing.T) {
	server, store, _ := newTestAPI(t)
	run := newTestRun(t, store)

	res := call(
		t, http.MethodPost,
		fmt.Sprintf("%s/runners/run/%d/failed", server.URL, run.ID),
		"secret", `{"error": "command failed with code 2"}`,
	)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	got, err := store.GetRun(run.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.Done)

	lines, err := store.ListLogLines(run.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "command failed with code 2", lines[0].Line)
}

func TestLog(t *testing.T) {
	server, store, _ := newTestAPI(t)
	run := newTestRun(t, store)

	res := call(
		t, http.MethodPost,
		fmt.Sprintf("%s/runners/run/%d/log", server.URL, run.ID),
		"secret",
		`{"lines": [
			{"msg": "> one", "time": "2026-08-24T10:00:00.5Z"},
			{"msg": "> two", "time": "2026-08-24T10:00:01Z"}
		]}`,
	)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	lines, err := store.ListLogLines(run.ID)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "> one", lines[0].Line)
	assert.Equal(t, "> two", lines[1].Line)
	assert.Equal(t, 500, lines[0].Timestamp.Nanosecond()/1e6)
}

func TestLogBadTimestamp(t *testing.T) {
	server, store, _ := newTestAPI(t)
	run := newTestRun(t, store)

	res := call(
		t, http.MethodPost,
		fmt.Sprintf("%s/runners/run/%d/log", server.URL, run.ID),
		"secret", `{"lines": [{"msg": "x", "time": "yesterday"}]}`,
	)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestOutputUpload(t *testing.T) {
	server, store, objects := newTestAPI(t)
	run := newTestRun(t, store)

	content := "5\n"
	req, err := http.NewRequest(
		http.MethodPut,
		fmt.Sprintf("%s/runners/run/%d/output/output", server.URL, run.ID),
		bytes.NewReader([]byte(content)),
	)
	require.NoError(t, err)
	req.Header.Set(connector.AuthHeader, "secret")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	files, err := store.ListOutputFiles(run.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "output", files[0].Name)
	assert.Equal(t, int64(2), files[0].Size)

	stored, ok := objects.uploads["outputs/"+files[0].Hash]
	require.True(t, ok)
	assert.Equal(t, content, string(stored))
}
