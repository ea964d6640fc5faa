package runner

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/reproserver/reproserver/pkg/connector"
	"github.com/reproserver/reproserver/pkg/log"
	"github.com/reproserver/reproserver/pkg/types"
)

// DefaultToolsDir is where the runner image ships the staged tools.
const DefaultToolsDir = "/opt/rpz-tools"

// Driver executes a run inside a docker container, driving the docker CLI.
type Driver struct {
	conn      connector.Connector
	toolsDir  string
	supported map[string]struct{}
	client    *http.Client
}

// NewDriver creates a Driver. toolsDir is a local directory holding the
// busybox, rpztar, and rpzsudo binaries to stage into the container;
// supported names the extra_config features this deployment honours.
func NewDriver(conn connector.Connector, toolsDir string, supported ...string) *Driver {
	set := make(map[string]struct{}, len(supported))
	for _, feature := range supported {
		set[feature] = struct{}{}
	}
	return &Driver{
		conn:      conn,
		toolsDir:  toolsDir,
		supported: set,
		client:    &http.Client{},
	}
}

// WaitForDocker blocks until the docker daemon answers, for use as a pod
// entrypoint where the daemon is a sidecar still booting.
func WaitForDocker(ctx context.Context) error {
	for i := 0; i < 30; i++ {
		cmd := exec.CommandContext(ctx, "docker", "info")
		cmd.Stdout = nil
		cmd.Stderr = nil
		if cmd.Run() == nil {
			return nil
		}
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("docker did not come online")
}

// Run executes the run described by info. bindHost is the address container
// ports are published on: "0.0.0.0" on a single host, "127.0.0.1" in a pod
// where the sidecar proxy is the only legitimate caller.
//
// Lifecycle transitions go through the connector; the caller reports any
// returned error with RunFailed.
func (d *Driver) Run(ctx context.Context, info *types.RunInfo, bindHost string) error {
	logger := log.WithRunID(info.ID)

	extra, err := ParseExtraConfig(info.ExtraConfig)
	if err != nil {
		return err
	}
	if err := CheckRequiredFeatures(extra, d.supported); err != nil {
		return err
	}

	if err := d.conn.RunProgress(ctx, info.ID, 40, "Setting up container"); err != nil {
		return err
	}

	meta, err := parseBundleInfo(info)
	if err != nil {
		return err
	}

	scratch, err := os.MkdirTemp("", fmt.Sprintf("run_%d_", info.ID))
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	container := fmt.Sprintf("run_%d", info.ID)
	toolDir := "/.rpz." + uuid.New().String()

	// Create the container sleeping so later steps can exec into it
	image := baseImage(meta)
	logger.Info().Str("image", image).Str("container", container).Msg("Creating container")
	createArgs := []string{"create", "-i", "--name", container}
	for _, port := range info.Ports {
		createArgs = append(
			createArgs,
			"-p", fmt.Sprintf("%s:%d:%d", bindHost, port.PortNumber, port.PortNumber),
		)
	}
	createArgs = append(createArgs, "--", image, toolDir+"/busybox", "sleep", "2147483647")
	if err := d.docker(ctx, createArgs...); err != nil {
		return err
	}
	defer func() {
		// Cleanup must happen on every path
		if err := d.docker(context.Background(), "rm", "-f", "--", container); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove container")
		}
	}()

	// Stage the tools under a random name to dodge bundle path collisions
	if err := d.docker(ctx, "cp", "--", d.toolsDir, container+":"+toolDir); err != nil {
		return err
	}
	if err := d.docker(ctx, "start", "--", container); err != nil {
		return err
	}

	// Stream the bundle straight from its signed URL into the container
	bundleLink, err := d.conn.GetBundleLink(ctx, info)
	if err != nil {
		return err
	}
	bundlePath := toolDir + "/bundle.rpz"
	logger.Info().Msg("Downloading bundle into container")
	if err := d.streamToContainer(ctx, bundleLink, container, toolDir, bundlePath); err != nil {
		return fmt.Errorf("downloading bundle: %w", err)
	}

	info, err = d.conn.GetInputLinks(ctx, info)
	if err != nil {
		return err
	}
	for _, input := range info.Inputs {
		logger.Info().Str("name", input.Name).Int64("size", input.Size).Msg("Downloading input file")
		staged := toolDir + "/input_" + input.Hash
		if err := d.streamToContainer(ctx, input.Link, container, toolDir, staged); err != nil {
			return fmt.Errorf("downloading input %s: %w", input.Name, err)
		}
	}

	// Unpack the bundle over the filesystem, then drop inputs into place
	if err := d.docker(ctx, "exec", "--", container, toolDir+"/rpztar", bundlePath); err != nil {
		return fmt.Errorf("extracting bundle: %w", err)
	}
	for _, input := range info.Inputs {
		staged := toolDir + "/input_" + input.Hash
		err := d.docker(
			ctx, "exec", "--", container,
			toolDir+"/busybox", "mv", "--", staged, input.Path,
		)
		if err != nil {
			return fmt.Errorf("placing input %s: %w", input.Name, err)
		}
	}

	script, err := buildScript(info, meta, toolDir)
	if err != nil {
		return err
	}
	scriptPath := toolDir + "/run.sh"
	if err := d.writeToContainer(ctx, container, toolDir, scriptPath, script); err != nil {
		return err
	}

	if err := d.conn.RunStarted(ctx, info.ID); err != nil {
		return err
	}
	if err := d.conn.RunProgress(ctx, info.ID, 80, "Container is running"); err != nil {
		return err
	}

	err = d.runCommand(ctx, info.ID, []string{
		"docker", "exec", "--", container, toolDir + "/busybox", "sh", scriptPath,
	})
	if err != nil {
		return err
	}
	logger.Info().Msg("Container done")

	if err := d.collectOutputs(ctx, info, container, scratch); err != nil {
		return err
	}

	return d.conn.RunDone(ctx, info.ID)
}

// runCommand executes argv through the log pump and appends the final
// status line to the run's log, whether or not the command succeeded.
func (d *Driver) runCommand(ctx context.Context, runID int64, argv []string) error {
	code, err := connector.RunCmdAndLog(ctx, d.conn, runID, argv)
	if err != nil {
		return err
	}
	if err := d.conn.Log(ctx, runID, "*** Command finished, status: %d", code); err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("command failed with code %d", code)
	}
	return nil
}

// collectOutputs copies each output path out of the container and uploads
// it. A missing output is logged on the run but doesn't fail it.
func (d *Driver) collectOutputs(ctx context.Context, info *types.RunInfo, container, scratch string) error {
	logger := log.WithRunID(info.ID)
	for _, output := range info.Outputs {
		localPath := filepath.Join(scratch, "output_"+output.Name)
		err := d.docker(ctx, "cp", "--", container+":"+output.Path, localPath)
		if err != nil {
			logger.Warn().Str("name", output.Name).Msg("Couldn't get output")
			if err := d.conn.Log(ctx, info.ID, "Couldn't get output %s", output.Name); err != nil {
				return err
			}
			continue
		}

		fp, err := os.Open(localPath)
		if err != nil {
			return err
		}
		err = d.conn.UploadOutputFile(ctx, info.ID, output.Name, fp, "")
		fp.Close()
		if err != nil {
			return fmt.Errorf("uploading output %s: %w", output.Name, err)
		}
		if err := os.Remove(localPath); err != nil {
			return err
		}
	}
	return nil
}

// streamToContainer pipes the body of url into a file inside the container,
// without touching the local filesystem.
func (d *Driver) streamToContainer(ctx context.Context, url, container, toolDir, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", res.StatusCode)
	}

	cmd := exec.CommandContext(
		ctx, "docker", "exec", "-i", "--", container,
		toolDir+"/busybox", "sh", "-c", "cat > "+shellEscape(dest),
	)
	cmd.Stdin = res.Body
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// writeToContainer puts literal content into a file inside the container.
func (d *Driver) writeToContainer(ctx context.Context, container, toolDir, dest, content string) error {
	cmd := exec.CommandContext(
		ctx, "docker", "exec", "-i", "--", container,
		toolDir+"/busybox", "sh", "-c", "cat > "+shellEscape(dest),
	)
	cmd.Stdin = strings.NewReader(content)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// docker runs one docker CLI command, logging it and its output on failure.
func (d *Driver) docker(ctx context.Context, args ...string) error {
	log.Debug(fmt.Sprintf("$ docker %s", strings.Join(args, " ")))
	cmd := exec.CommandContext(ctx, "docker", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("docker %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
