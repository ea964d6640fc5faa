package runner

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/reproserver/reproserver/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// logConnector records every log line in order; everything else is inert.
type logConnector struct {
	mu    sync.Mutex
	lines []string
}

func (c *logConnector) InitRunGetInfo(ctx context.Context, runID int64) (*types.RunInfo, error) {
	return nil, nil
}

func (c *logConnector) GetBundleLink(ctx context.Context, info *types.RunInfo) (string, error) {
	return "", nil
}

func (c *logConnector) GetInputLinks(ctx context.Context, info *types.RunInfo) (*types.RunInfo, error) {
	return info, nil
}

func (c *logConnector) RunStarted(ctx context.Context, runID int64) error { return nil }

func (c *logConnector) RunProgress(ctx context.Context, runID int64, percent int, text string) error {
	return nil
}

func (c *logConnector) RunDone(ctx context.Context, runID int64) error { return nil }

func (c *logConnector) RunFailed(ctx context.Context, runID int64, errorText string) error {
	return nil
}

func (c *logConnector) Log(ctx context.Context, runID int64, format string, args ...interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
	return nil
}

func (c *logConnector) LogMultiple(ctx context.Context, runID int64, lines []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, lines...)
	return nil
}

func (c *logConnector) UploadOutputFile(ctx context.Context, runID int64, name string, file io.ReadSeeker, digest string) error {
	return nil
}

func (c *logConnector) LogInterval() time.Duration { return 10 * time.Millisecond }

func (c *logConnector) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

func TestRunCommandLogsStatus(t *testing.T) {
	conn := &logConnector{}
	driver := NewDriver(conn, DefaultToolsDir)

	err := driver.runCommand(context.Background(), 1, []string{
		"/bin/sh", "-c", "echo 5",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"5", "*** Command finished, status: 0"}, conn.all())
}

func TestRunCommandLogsStatusOnFailure(t *testing.T) {
	conn := &logConnector{}
	driver := NewDriver(conn, DefaultToolsDir)

	err := driver.runCommand(context.Background(), 1, []string{
		"/bin/sh", "-c", "echo broken; exit 2",
	})
	require.EqualError(t, err, "command failed with code 2")

	// The status line is recorded even for a failing command
	assert.Equal(t, []string{"broken", "*** Command finished, status: 2"}, conn.all())
}
