package connector

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/reproserver/reproserver/pkg/log"
)

// maxLogLineBytes caps a single log line; longer output is split across
// several lines.
const maxLogLineBytes = 1024 * 1024

// RunCmdAndLog runs a command and relays each line of its combined output
// to the run's log through the connector.
//
// Lines are read as they are produced and published in batches: every batch
// is one LogMultiple call, followed by a pause of conn.LogInterval() so a
// remote log sink isn't hammered with one request per line. Publishing
// continues until the process has exited and the buffer is drained; no line
// is dropped or reordered. A line longer than maxLogLineBytes is split into
// several log lines rather than stalling the pump.
//
// The returned int is the process exit status.
func RunCmdAndLog(ctx context.Context, conn Connector, runID int64, argv []string) (int, error) {
	if len(argv) == 0 {
		return 0, fmt.Errorf("empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = nil

	// Merge stdout and stderr into one pipe, preserving interleaving
	pr, pw, err := os.Pipe()
	if err != nil {
		return 0, err
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return 0, err
	}
	// The child holds its own copy of the write end
	pw.Close()

	var (
		mu  sync.Mutex
		buf []string
	)
	readerDone := make(chan struct{})
	notify := make(chan struct{}, 1)

	go func() {
		defer close(readerDone)
		defer pr.Close()

		emit := func(raw []byte) {
			line := strings.TrimRight(string(raw), "\r")
			log.Info(fmt.Sprintf("> %s", line))
			mu.Lock()
			buf = append(buf, line)
			mu.Unlock()
			select {
			case notify <- struct{}{}:
			default:
			}
		}

		reader := bufio.NewReaderSize(pr, 64*1024)
		var pending []byte
		split := false
		for {
			chunk, isPrefix, err := reader.ReadLine()
			pending = append(pending, chunk...)
			if err == nil && isPrefix {
				// The line exceeds the reader's buffer and arrives in
				// pieces; flush full chunks so later lines still flow
				if len(pending) >= maxLogLineBytes {
					emit(pending[:maxLogLineBytes])
					pending = append(pending[:0], pending[maxLogLineBytes:]...)
					split = true
				}
				continue
			}
			if err == nil {
				if !split || len(pending) > 0 {
					emit(pending)
				}
				pending = pending[:0]
				split = false
				continue
			}
			// Pipe closed; a trailing unterminated line still counts
			if len(pending) > 0 {
				emit(pending)
			}
			if err != io.EOF {
				log.Errorf("Error reading command output", err)
			}
			return
		}
	}()

	publish := func() {
		mu.Lock()
		batch := buf
		buf = nil
		mu.Unlock()
		if len(batch) == 0 {
			return
		}
		if err := conn.LogMultiple(ctx, runID, batch); err != nil {
			log.Errorf("Failed to publish log lines", err)
		}
	}

	// Publish as soon as lines show up, then hold off for the inter-batch
	// interval; lines produced during the pause go out in the next batch
	interval := conn.LogInterval()
loop:
	for {
		select {
		case <-notify:
		case <-readerDone:
			break loop
		case <-ctx.Done():
			break loop
		}
		publish()
		select {
		case <-time.After(interval):
		case <-readerDone:
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	// Final drain after the subprocess closed its output
	publish()

	err = cmd.Wait()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return 0, err
	}
	return 0, nil
}
