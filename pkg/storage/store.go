package storage

import (
	"errors"
	"time"

	"github.com/reproserver/reproserver/pkg/types"
)

// ErrNotFound is returned when the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for durable reproserver state.
// The default implementation is backed by BoltDB; deployments can swap in
// another database behind this interface.
type Store interface {
	// Experiments
	CreateExperiment(exp *types.Experiment) error
	GetExperiment(hash string) (*types.Experiment, error)

	// Uploads

	// CreateUpload records that a bundle was submitted. The web frontend
	// writes one of these per upload; the execution side only reads them.
	CreateUpload(upload *types.Upload) error

	// Runs
	CreateRun(run *types.Run) error
	GetRun(id int64) (*types.Run, error)

	// UpdateRun replaces the stored run wholesale. Run submission uses it;
	// lifecycle transitions go through the narrower setters below.
	UpdateRun(run *types.Run) error

	// SetStarted sets the run's start time if not already set. It reports
	// whether the run had already been started.
	SetStarted(id int64, t time.Time) (bool, error)
	SetDone(id int64, t time.Time) error
	SetProgress(id int64, percent int, text string) error

	// ClearRunResults removes the run's log lines and output files, done
	// once at the start of a (re)run.
	ClearRunResults(id int64) error

	// Log lines, append-only, ordered by insertion
	AppendLogLines(id int64, lines []types.LogLine) error
	ListLogLines(id int64) ([]types.LogLine, error)

	// Output files
	AddOutputFile(file *types.OutputFile) error
	ListOutputFiles(id int64) ([]types.OutputFile, error)

	// Utility
	Close() error
}
