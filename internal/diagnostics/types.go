// Package diagnostics holds the serializable data model shared across the
// engine: ExecResult, ChangedFile, Mount, ShadowInfo, and the public-facing
// Result Envelope (§6). These are plain JSON-tagged DTOs — plain data
// structs are how cmd/container-use/diagnostics.go's own Snapshot/*Info
// family is defined too, so no third-party library is warranted here.
package diagnostics

import "time"

// ExecResult is the outcome of running a command inside a shadow.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Success reports whether the command exited zero.
func (r ExecResult) Success() bool { return r.ExitCode == 0 }

// BatchStep is one command's result within an exec_batch run.
type BatchStep struct {
	Command  string `json:"command"`
	ExecResult
}

// BatchResult is the aggregate result of exec_batch.
type BatchResult struct {
	Steps    []BatchStep `json:"steps"`
	Success  bool        `json:"success"`
	FailedAt *int        `json:"failed_at,omitempty"`
}

// ChangeType classifies a diff entry.
type ChangeType string

const (
	Added    ChangeType = "added"
	Modified ChangeType = "modified"
	Deleted  ChangeType = "deleted"
)

// ChangedFile is one diff entry between the workspace baseline and its
// current state.
type ChangedFile struct {
	Path       string     `json:"path"`
	ChangeType ChangeType `json:"change_type"`
	Size       *int64     `json:"size,omitempty"`
}

// Mount is a host-to-container bind mount.
type Mount struct {
	HostPath      string `json:"host_path"`
	ContainerPath string `json:"container_path"`
	ReadOnly      bool   `json:"readonly"`
}

// SourceInfo is the persisted projection of one RepoSpec within ShadowInfo
// and metadata.json. It never carries secret values.
type SourceInfo struct {
	Repo           string `json:"repo"`
	LocalPath      string `json:"local_path,omitempty"`
	Ref            string `json:"ref,omitempty"`
	SnapshotCommit string `json:"snapshot_commit,omitempty"`
}

// Status is a shadow's lifecycle status.
type Status string

const (
	StatusReady     Status = "ready"
	StatusError     Status = "error"
	StatusDestroyed Status = "destroyed"
)

// ShadowInfo is the serializable projection of a ShadowEnvironment used for
// metadata persistence and tool output. Contains no secrets — env-var
// *names* only, never values (§3 invariant 3).
type ShadowInfo struct {
	ShadowID      string       `json:"shadow_id"`
	ContainerName string       `json:"container_name"`
	Sources       []SourceInfo `json:"sources"`
	CreatedAt     time.Time    `json:"created_at"`
	Status        Status       `json:"status"`
	ImageTag      string       `json:"image_tag"`
	EnvVarsPassed []string     `json:"env_vars_passed"`
	ShadowDir     string       `json:"shadow_dir"`
}

// FallbackHint lets preflight callers degrade gracefully instead of aborting.
type FallbackHint struct {
	Reason              string `json:"reason"`
	Mode                string `json:"mode"`
	CanCreateShadow     bool   `json:"can_create_shadow"`
	RecommendedAction   string `json:"recommended_action"`
}

// Check is one named pass/fail diagnostic line.
type Check struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Detail  string `json:"detail,omitempty"`
}

// Report is the structured output of preflight/health checks.
type Report struct {
	Passed   bool          `json:"passed"`
	Checks   []Check       `json:"checks"`
	Fallback *FallbackHint `json:"fallback,omitempty"`
}

// SmokeResult is the outcome of the end-to-end create-time smoke test.
type SmokeResult struct {
	Status   string `json:"status"` // "PASSED" or "FAILED"
	Evidence string `json:"evidence,omitempty"`
}

// ErrorDetail is the error half of the Result Envelope.
type ErrorDetail struct {
	Message string         `json:"message"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Envelope is the Result Envelope every public operation returns (§6).
type Envelope struct {
	Success bool         `json:"success"`
	Output  any          `json:"output,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// Ok builds a successful envelope.
func Ok(output any) Envelope {
	return Envelope{Success: true, Output: output}
}

// Fail builds a failed envelope from an error, preserving ExecResult-shaped
// output when supplied so callers can still observe exit_code/stdout/stderr.
func Fail(err error, output any) Envelope {
	return Envelope{
		Success: false,
		Output:  output,
		Error:   &ErrorDetail{Message: err.Error()},
	}
}
