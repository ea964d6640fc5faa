package runner

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/reproserver/reproserver/pkg/types"
)

// bundleInfo is the subset of the bundle metadata the driver needs.
type bundleInfo struct {
	Meta struct {
		// Distribution is [name, version], e.g. ["debian", "11.2"].
		Distribution []string `json:"distribution"`
	} `json:"meta"`
	Runs []bundleRun `json:"runs"`
}

// bundleRun is the recorded execution context of one command in the bundle.
type bundleRun struct {
	ID         string            `json:"id"`
	Argv       []string          `json:"argv"`
	WorkingDir string            `json:"workingdir"`
	Environ    map[string]string `json:"environ"`
	UID        int               `json:"uid"`
	GID        int               `json:"gid"`
}

func parseBundleInfo(info *types.RunInfo) (*bundleInfo, error) {
	if info.ExperimentInfo == "" {
		return &bundleInfo{}, nil
	}
	var meta bundleInfo
	if err := json.Unmarshal([]byte(info.ExperimentInfo), &meta); err != nil {
		return nil, fmt.Errorf("parsing bundle metadata: %w", err)
	}
	return &meta, nil
}

// baseImage picks the image the working container is created from, based on
// the distribution recorded in the bundle.
func baseImage(meta *bundleInfo) string {
	if len(meta.Meta.Distribution) < 1 {
		return "debian:stable"
	}
	name := strings.ToLower(meta.Meta.Distribution[0])
	version := ""
	if len(meta.Meta.Distribution) > 1 {
		version = meta.Meta.Distribution[1]
	}
	switch name {
	case "ubuntu":
		if version != "" {
			return "ubuntu:" + version
		}
		return "ubuntu:latest"
	case "debian":
		// Debian images are tagged by major version
		if i := strings.Index(version, "."); i > 0 {
			version = version[:i]
		}
		if version != "" {
			return "debian:" + version
		}
		return "debian:stable"
	case "centos":
		if i := strings.Index(version, "."); i > 0 {
			version = version[:i]
		}
		if version != "" {
			return "centos:" + version
		}
		return "centos:7"
	case "fedora":
		if version != "" {
			return "fedora:" + version
		}
		return "fedora:latest"
	default:
		return "debian:stable"
	}
}

// cmdlineParam is one cmdline_NNNNN parameter, ordered by index.
type cmdlineParam struct {
	index   int
	command string
}

// cmdlineParams extracts the cmdline_NNNNN parameters in ascending index
// order.
func cmdlineParams(params map[string]string) ([]cmdlineParam, error) {
	var cmds []cmdlineParam
	for name, value := range params {
		if !strings.HasPrefix(name, "cmdline_") {
			continue
		}
		index, err := strconv.Atoi(name[len("cmdline_"):])
		if err != nil {
			return nil, fmt.Errorf("bad parameter name %q", name)
		}
		cmds = append(cmds, cmdlineParam{index: index, command: value})
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].index < cmds[j].index })
	return cmds, nil
}

// buildScript assembles the run script. Each cmdline_NNNNN parameter becomes
// one command, executed in the working directory, environment, and uid/gid
// recorded for the matching bundle run. The script aborts on the first
// failing command and on unset variables.
func buildScript(info *types.RunInfo, meta *bundleInfo, toolDir string) (string, error) {
	cmds, err := cmdlineParams(info.Parameters)
	if err != nil {
		return "", err
	}
	if len(cmds) == 0 {
		return "", fmt.Errorf("run has no command to execute")
	}

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("set -eu\n")
	for _, cmd := range cmds {
		var run bundleRun
		run.WorkingDir = "/"
		if cmd.index < len(meta.Runs) {
			run = meta.Runs[cmd.index]
			if run.WorkingDir == "" {
				run.WorkingDir = "/"
			}
		}

		fmt.Fprintf(&b, "cd %s\n", shellEscape(run.WorkingDir))

		env := make([]string, 0, len(run.Environ))
		for name := range run.Environ {
			env = append(env, name)
		}
		sort.Strings(env)
		var envArgs strings.Builder
		for _, name := range env {
			fmt.Fprintf(&envArgs, " %s=%s", name, shellEscape(run.Environ[name]))
		}

		fmt.Fprintf(
			&b,
			"%s/busybox env -i%s %s/rpzsudo '#%d' '#%d' /bin/sh -c %s\n",
			toolDir, envArgs.String(), toolDir,
			run.UID, run.GID,
			shellEscape(cmd.command),
		)
	}
	return b.String(), nil
}

// shellEscape single-quotes a string for POSIX sh.
func shellEscape(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
