package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/reproserver/reproserver/pkg/types"
)

// AuthHeader carries the shared secret on every runner API request and on
// the proxy hop into the worker pod.
const AuthHeader = "X-Reproserver-Authenticate"

// HTTPConnector reaches the control plane over its runner API. It is the
// connector used inside worker pods.
type HTTPConnector struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTP creates a connector against the given API endpoint.
func NewHTTP(endpoint, token string) *HTTPConnector {
	return &HTTPConnector{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		client:   &http.Client{},
	}
}

// LogInterval returns the pause between log batches. The sink is remote,
// so batches are spaced out more than for the direct connector.
func (c *HTTPConnector) LogInterval() time.Duration {
	return 3 * time.Second
}

// apiError is the JSON error body returned by the runner API.
type apiError struct {
	Error string `json:"error"`
}

func (c *HTTPConnector) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(AuthHeader, c.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 400 {
		defer res.Body.Close()
		var e apiError
		if json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&e) == nil && e.Error != "" {
			if res.StatusCode == http.StatusBadRequest {
				return nil, &BadRequestError{Message: e.Error}
			}
			return nil, fmt.Errorf("%s %s: %s", method, path, e.Error)
		}
		return nil, fmt.Errorf("%s %s: status %d", method, path, res.StatusCode)
	}
	return res, nil
}

func (c *HTTPConnector) postJSON(ctx context.Context, path string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	res, err := c.do(ctx, http.MethodPost, path, bytes.NewReader(data), "application/json; charset=utf-8")
	if err != nil {
		return err
	}
	io.Copy(io.Discard, res.Body)
	return res.Body.Close()
}

func (c *HTTPConnector) InitRunGetInfo(ctx context.Context, runID int64) (*types.RunInfo, error) {
	res, err := c.do(
		ctx, http.MethodPost,
		fmt.Sprintf("/runners/run/%d/init", runID),
		strings.NewReader("{}"),
		"application/json; charset=utf-8",
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	var info types.RunInfo
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding run info: %w", err)
	}
	return &info, nil
}

// GetBundleLink returns the signed URL baked into the init response.
func (c *HTTPConnector) GetBundleLink(ctx context.Context, info *types.RunInfo) (string, error) {
	if info.ExperimentURL == "" {
		return "", fmt.Errorf("run info has no experiment URL")
	}
	return info.ExperimentURL, nil
}

// GetInputLinks is a no-op: the links are already set by InitRunGetInfo.
func (c *HTTPConnector) GetInputLinks(ctx context.Context, info *types.RunInfo) (*types.RunInfo, error) {
	return info, nil
}

func (c *HTTPConnector) RunStarted(ctx context.Context, runID int64) error {
	return c.postJSON(ctx, fmt.Sprintf("/runners/run/%d/start", runID), struct{}{})
}

func (c *HTTPConnector) RunProgress(ctx context.Context, runID int64, percent int, text string) error {
	return c.postJSON(ctx, fmt.Sprintf("/runners/run/%d/set-progress", runID), map[string]interface{}{
		"percent": percent,
		"text":    text,
	})
}

func (c *HTTPConnector) RunDone(ctx context.Context, runID int64) error {
	return c.postJSON(ctx, fmt.Sprintf("/runners/run/%d/done", runID), struct{}{})
}

func (c *HTTPConnector) RunFailed(ctx context.Context, runID int64, errorText string) error {
	return c.postJSON(ctx, fmt.Sprintf("/runners/run/%d/failed", runID), map[string]string{
		"error": errorText,
	})
}

func (c *HTTPConnector) Log(ctx context.Context, runID int64, format string, args ...interface{}) error {
	return c.LogMultiple(ctx, runID, []string{fmt.Sprintf(format, args...)})
}

func (c *HTTPConnector) LogMultiple(ctx context.Context, runID int64, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	entries := make([]map[string]string, len(lines))
	for i, line := range lines {
		entries[i] = map[string]string{"msg": line, "time": now}
	}
	return c.postJSON(ctx, fmt.Sprintf("/runners/run/%d/log", runID), map[string]interface{}{
		"lines": entries,
	})
}

func (c *HTTPConnector) UploadOutputFile(ctx context.Context, runID int64, name string, file io.ReadSeeker, digest string) error {
	// The control plane hashes the body itself; digest is unused here
	size, err := sizeAndRewind(file)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/runners/run/%d/output/%s", runID, url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint+path, file)
	if err != nil {
		return err
	}
	req.Header.Set(AuthHeader, c.token)
	req.ContentLength = size
	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return fmt.Errorf("PUT %s: status %d", path, res.StatusCode)
	}
	io.Copy(io.Discard, res.Body)
	return nil
}
