package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/reproserver/reproserver/pkg/connector"
	"github.com/reproserver/reproserver/pkg/log"
	"github.com/reproserver/reproserver/pkg/types"
)

// Launcher is a strategy for executing an initialized run.
type Launcher interface {
	// Launch executes the run. It is called on a background goroutine and
	// may block for the life of the run.
	Launch(ctx context.Context, info *types.RunInfo) error

	// Detached reports whether the run outlives Launch. When true, the
	// launcher returns once the run is handed off and another component
	// (the pod supervisor) owns the in-flight entry from then on.
	Detached() bool
}

// Orchestrator accepts run requests and hands them to a Launcher without
// blocking the caller.
type Orchestrator struct {
	conn     connector.Connector
	launcher Launcher
	inFlight *InFlight
	wg       sync.WaitGroup
}

// New creates an Orchestrator. inFlight may be shared with a pod supervisor.
func New(conn connector.Connector, launcher Launcher, inFlight *InFlight) *Orchestrator {
	return &Orchestrator{
		conn:     conn,
		launcher: launcher,
		inFlight: inFlight,
	}
}

// InFlight returns the shared in-flight set.
func (o *Orchestrator) InFlight() *InFlight {
	return o.inFlight
}

// Run initializes the run and launches it in the background, returning
// without waiting for the container. A failure to initialize marks the run
// failed; a duplicate request for a run already in flight is an error.
func (o *Orchestrator) Run(ctx context.Context, runID int64) error {
	logger := log.WithRunID(runID)
	logger.Info().Msg("Run request received")

	if !o.inFlight.Add(runID) {
		return fmt.Errorf("run %d is already in flight", runID)
	}

	info, err := o.conn.InitRunGetInfo(ctx, runID)
	if err != nil {
		o.inFlight.Remove(runID)
		if failErr := o.conn.RunFailed(ctx, runID, err.Error()); failErr != nil {
			logger.Error().Err(failErr).Msg("Failed to record run failure")
		}
		return err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		// The run outlives the request that triggered it
		ctx := context.Background()
		if err := o.launcher.Launch(ctx, info); err != nil {
			logger.Error().Err(err).Msg("Error processing run")
			if failErr := o.conn.RunFailed(ctx, runID, err.Error()); failErr != nil {
				logger.Error().Err(failErr).Msg("Failed to record run failure")
			}
			o.inFlight.Remove(runID)
			return
		}
		if o.launcher.Detached() {
			// The supervisor releases the in-flight entry when the pod ends
			return
		}
		logger.Info().Msg("Run successful")
		o.inFlight.Remove(runID)
	}()
	return nil
}

// Wait blocks until every background launch has returned. Used when
// draining.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
