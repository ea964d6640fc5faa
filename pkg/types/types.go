package types

import (
	"encoding/json"
	"time"
)

// Experiment is a bundle that was uploaded, identified by the SHA-256 hash
// of its bytes. Metadata is extracted once at upload time and immutable
// afterwards.
type Experiment struct {
	Hash       string      `json:"hash"`
	LastAccess time.Time   `json:"last_access"`
	Info       string      `json:"info"`
	Parameters []Parameter `json:"parameters"`
	Paths      []Path      `json:"paths"`
}

// Parameter is an experiment parameter, extracted from the bundle metadata
// and shown to the user when starting a run.
type Parameter struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Default     string `json:"default"`
}

// Path is a file location recorded in the bundle metadata. A path can be an
// input (replaceable before the run), an output (collected after the run),
// or both.
type Path struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	IsInput  bool   `json:"is_input"`
	IsOutput bool   `json:"is_output"`
}

// Upload records one submission of a bundle. Multiple uploads can share the
// same experiment when the bundle bytes collide on hash.
type Upload struct {
	ID             int64     `json:"id"`
	Filename       string    `json:"filename"`
	ExperimentHash string    `json:"experiment_hash"`
	SubmittedIP    string    `json:"submitted_ip"`
	Timestamp      time.Time `json:"timestamp"`
}

// Run is a single requested execution of an experiment.
type Run struct {
	ID             int64      `json:"id"`
	ExperimentHash string     `json:"experiment_hash"`
	UploadID       int64      `json:"upload_id"`
	Submitted      time.Time  `json:"submitted"`
	Started        *time.Time `json:"started,omitempty"`
	Done           *time.Time `json:"done,omitempty"`

	ProgressPercent int    `json:"progress_percent"`
	ProgressText    string `json:"progress_text"`

	ParameterValues []ParameterValue `json:"parameter_values"`
	InputFiles      []InputFile      `json:"input_files"`
	Ports           []RunPort        `json:"ports"`
	OutputFiles     []OutputFile     `json:"output_files"`

	// ExtraConfig is an optional JSON document carrying sidecar containers
	// and extra port declarations for the worker pod
	ExtraConfig json.RawMessage `json:"extra_config,omitempty"`
}

// ParameterValue is a user-submitted value for an experiment parameter.
type ParameterValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// InputFile is a user-submitted replacement for an is-input path.
type InputFile struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// RunPort is a port of the experiment exposed through the proxy.
type RunPort struct {
	PortNumber int    `json:"port_number"`
	Type       string `json:"type"` // scheme tag, defaults to "http"
}

// OutputFile is a file collected from an is-output path after a successful
// run, stored in the object store under its hash.
type OutputFile struct {
	RunID int64  `json:"run_id"`
	Name  string `json:"name"`
	Hash  string `json:"hash"`
	Size  int64  `json:"size"`
}

// LogLine is one append-only entry in a run's log.
type LogLine struct {
	ID        int64     `json:"id"`
	RunID     int64     `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Line      string    `json:"line"`
}

// RunInfo is everything a runner needs to execute a run. It is assembled by
// Connector.InitRunGetInfo; the remote variant receives download links
// pre-baked (ExperimentURL and InputInfo.Link).
type RunInfo struct {
	ID             int64             `json:"id"`
	ExperimentHash string            `json:"experiment_hash"`
	Parameters     map[string]string `json:"parameters"`
	Inputs         []InputInfo       `json:"inputs"`
	Outputs        []OutputInfo      `json:"outputs"`
	Ports          []RunPort         `json:"ports"`
	ExtraConfig    json.RawMessage   `json:"extra_config,omitempty"`
	ExperimentURL  string            `json:"experiment_url,omitempty"`

	// ExperimentInfo is the compact JSON metadata extracted from the bundle
	// at upload time (commands, working directories, uids, distribution).
	ExperimentInfo string `json:"experiment_info,omitempty"`
}

// InputInfo is one input file of a run, with its destination path inside
// the container.
type InputInfo struct {
	Name string `json:"name"`
	Hash string `json:"input_hash"`
	Path string `json:"path"`
	Size int64  `json:"size"`
	Link string `json:"link,omitempty"`
}

// OutputInfo is one output path of the experiment.
type OutputInfo struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// ExtraConfig is the parsed form of Run.ExtraConfig.
type ExtraConfig struct {
	// Required lists features the runner must support to execute this run.
	// Unknown entries fail the run.
	Required []string `json:"required,omitempty"`

	Containers []SidecarContainer `json:"containers,omitempty"`
	Ports      []ExtraPort        `json:"ports,omitempty"`
}

// SidecarContainer is an additional container added to the worker pod.
type SidecarContainer struct {
	Name    string   `json:"name"`
	Image   string   `json:"image"`
	Command []string `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Env     []EnvVar `json:"env,omitempty"`
}

// EnvVar is a name/value environment entry for a sidecar container.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ExtraPort is an additional port declaration from extra_config.
type ExtraPort struct {
	Name          string `json:"name,omitempty"`
	ContainerPort int    `json:"container_port"`
	Container     string `json:"container,omitempty"`
}
