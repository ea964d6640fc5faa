package connector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/reproserver/reproserver/pkg/log"
	"github.com/reproserver/reproserver/pkg/objectstore"
	"github.com/reproserver/reproserver/pkg/storage"
	"github.com/reproserver/reproserver/pkg/types"
)

// DirectConnector talks to the database and object store directly. It is
// used in the control-plane process and by the single-host runner.
type DirectConnector struct {
	store   storage.Store
	objects objectstore.Store
}

// NewDirect creates a DirectConnector.
func NewDirect(store storage.Store, objects objectstore.Store) *DirectConnector {
	return &DirectConnector{store: store, objects: objects}
}

// LogInterval returns the pause between log batches. The database is local,
// so batches can be frequent.
func (c *DirectConnector) LogInterval() time.Duration {
	return time.Second
}

func (c *DirectConnector) InitRunGetInfo(ctx context.Context, runID int64) (*types.RunInfo, error) {
	run, err := c.store.GetRun(runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("run %d: %w", runID, ErrUnknownRun)
		}
		return nil, err
	}
	exp, err := c.store.GetExperiment(run.ExperimentHash)
	if err != nil {
		return nil, err
	}

	// Merge declared parameters with submitted values
	params := make(map[string]string)
	unset := make(map[string]struct{})
	for _, param := range exp.Parameters {
		if !param.Optional {
			unset[param.Name] = struct{}{}
		}
		params[param.Name] = param.Default
	}
	for _, value := range run.ParameterValues {
		if _, known := params[value.Name]; !known {
			return nil, &BadRequestError{Message: fmt.Sprintf(
				"Got parameter value for parameter %s which does not exist",
				value.Name,
			)}
		}
		params[value.Name] = value.Value
		delete(unset, value.Name)
	}
	if len(unset) > 0 {
		names := make([]string, 0, len(unset))
		for name := range unset {
			names = append(names, name)
		}
		return nil, missingParamsError(names)
	}

	// Resolve input files against is-input paths
	inputPaths := make(map[string]string)
	for _, path := range exp.Paths {
		if path.IsInput {
			inputPaths[path.Name] = path.Path
		}
	}
	var inputs []types.InputInfo
	for _, file := range run.InputFiles {
		path, known := inputPaths[file.Name]
		if !known {
			return nil, &BadRequestError{Message: fmt.Sprintf(
				"Got an unknown input file %s", file.Name,
			)}
		}
		inputs = append(inputs, types.InputInfo{
			Name: file.Name,
			Hash: file.Hash,
			Path: path,
			Size: file.Size,
		})
	}

	var outputs []types.OutputInfo
	for _, path := range exp.Paths {
		if path.IsOutput {
			outputs = append(outputs, types.OutputInfo{
				Name: path.Name,
				Path: path.Path,
			})
		}
	}

	// Remove results from any previous attempt
	if err := c.store.ClearRunResults(runID); err != nil {
		return nil, err
	}

	return &types.RunInfo{
		ID:             runID,
		ExperimentHash: exp.Hash,
		Parameters:     params,
		Inputs:         inputs,
		Outputs:        outputs,
		Ports:          run.Ports,
		ExtraConfig:    run.ExtraConfig,
		ExperimentInfo: exp.Info,
	}, nil
}

func (c *DirectConnector) GetBundleLink(ctx context.Context, info *types.RunInfo) (string, error) {
	return c.objects.DownloadURL(ctx, objectstore.BucketExperiments, info.ExperimentHash)
}

func (c *DirectConnector) GetInputLinks(ctx context.Context, info *types.RunInfo) (*types.RunInfo, error) {
	out := *info
	out.Inputs = make([]types.InputInfo, len(info.Inputs))
	for i, input := range info.Inputs {
		link, err := c.objects.DownloadURL(ctx, objectstore.BucketInputs, input.Hash)
		if err != nil {
			return nil, err
		}
		input.Link = link
		out.Inputs[i] = input
	}
	return &out, nil
}

func (c *DirectConnector) RunStarted(ctx context.Context, runID int64) error {
	already, err := c.store.SetStarted(runID, time.Now().UTC())
	if err != nil {
		return err
	}
	if already {
		log.Warn("Starting run which has already been started")
	}
	return nil
}

func (c *DirectConnector) RunProgress(ctx context.Context, runID int64, percent int, text string) error {
	return c.store.SetProgress(runID, percent, text)
}

func (c *DirectConnector) RunDone(ctx context.Context, runID int64) error {
	return c.store.SetDone(runID, time.Now().UTC())
}

func (c *DirectConnector) RunFailed(ctx context.Context, runID int64, errorText string) error {
	if err := c.store.SetDone(runID, time.Now().UTC()); err != nil {
		return err
	}
	return c.store.AppendLogLines(runID, []types.LogLine{{Line: errorText}})
}

func (c *DirectConnector) Log(ctx context.Context, runID int64, format string, args ...interface{}) error {
	return c.LogMultiple(ctx, runID, []string{fmt.Sprintf(format, args...)})
}

func (c *DirectConnector) LogMultiple(ctx context.Context, runID int64, lines []string) error {
	entries := make([]types.LogLine, len(lines))
	now := time.Now().UTC()
	for i, line := range lines {
		entries[i] = types.LogLine{Timestamp: now, Line: line}
	}
	return c.store.AppendLogLines(runID, entries)
}

func (c *DirectConnector) UploadOutputFile(ctx context.Context, runID int64, name string, file io.ReadSeeker, digest string) error {
	if digest == "" {
		hasher := sha256.New()
		if _, err := io.Copy(hasher, file); err != nil {
			return err
		}
		digest = hex.EncodeToString(hasher.Sum(nil))
	}
	size, err := sizeAndRewind(file)
	if err != nil {
		return err
	}

	log.Info(fmt.Sprintf("Uploading file, size: %d bytes", size))
	err = c.objects.UploadFile(ctx, objectstore.BucketOutputs, digest, file, size)
	if err != nil {
		return err
	}

	return c.store.AddOutputFile(&types.OutputFile{
		RunID: runID,
		Name:  name,
		Hash:  digest,
		Size:  size,
	})
}

func joinSorted(names []string) string {
	sort.Strings(names)
	return strings.Join(names, ", ")
}
