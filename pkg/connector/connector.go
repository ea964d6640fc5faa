package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/reproserver/reproserver/pkg/types"
)

// ErrUnknownRun is returned when the run id does not exist.
var ErrUnknownRun = errors.New("unknown run")

// BadRequestError is a user-input error: unknown parameter or input file
// name, or a missing required parameter. Its message is safe to show to the
// user and to record in the run log.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string {
	return e.Message
}

// IsBadRequest reports whether err is a user-input error.
func IsBadRequest(err error) bool {
	var bad *BadRequestError
	return errors.As(err, &bad)
}

// Connector is the seam between a runner and durable run state. The runner
// only ever talks through a Connector; whether that hits the database
// directly or goes over HTTP to the control plane is an implementation
// detail.
type Connector interface {
	// InitRunGetInfo loads and validates the run, clears any previous log
	// and output files, and returns the descriptor the runner needs.
	InitRunGetInfo(ctx context.Context, runID int64) (*types.RunInfo, error)

	// GetBundleLink returns a download URL for the experiment bundle.
	GetBundleLink(ctx context.Context, info *types.RunInfo) (string, error)

	// GetInputLinks returns a copy of info with a download URL set on each
	// input file.
	GetInputLinks(ctx context.Context, info *types.RunInfo) (*types.RunInfo, error)

	// RunStarted marks the run as started. Idempotent.
	RunStarted(ctx context.Context, runID int64) error

	// RunProgress updates the run's progress hint.
	RunProgress(ctx context.Context, runID int64, percent int, text string) error

	// RunDone marks the run as completed. Idempotent.
	RunDone(ctx context.Context, runID int64) error

	// RunFailed marks the run as done and records the error as the final
	// log line.
	RunFailed(ctx context.Context, runID int64, errorText string) error

	// Log appends a single formatted line to the run's log.
	Log(ctx context.Context, runID int64, format string, args ...interface{}) error

	// LogMultiple appends lines in order in a single operation. Use this
	// when relaying subprocess output.
	LogMultiple(ctx context.Context, runID int64, lines []string) error

	// UploadOutputFile stores file as an output of the run. The digest is
	// computed if empty.
	UploadOutputFile(ctx context.Context, runID int64, name string, file io.ReadSeeker, digest string) error

	// LogInterval is the pause between log batches in RunCmdAndLog.
	LogInterval() time.Duration
}

// sizeAndRewind measures a seekable stream and rewinds it to the start.
func sizeAndRewind(file io.ReadSeeker) (int64, error) {
	size, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return size, nil
}

// missingParamsError builds the canonical message for unset required
// parameters.
func missingParamsError(names []string) error {
	return &BadRequestError{
		Message: fmt.Sprintf("Missing value for parameters: %s", joinSorted(names)),
	}
}
