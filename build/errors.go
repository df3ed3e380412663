// ABOUTME: Error types for the build registry: cache misses vs terminal build failures.
// ABOUTME: BuildError carries truncated subprocess diagnostics for the UI.
package build

import "errors"

// ErrCacheMiss is returned by Artifact when no successful build exists yet.
// It signals "try again later", not a hard failure.
var ErrCacheMiss = errors.New("artifact not built yet")

// ErrUnknownTarget is returned by Trigger when no source directory exists for
// the target ID.
var ErrUnknownTarget = errors.New("unknown target")

// BuildError is a terminal failure of one build job: non-zero exit, timeout,
// or a crashed subprocess. Diagnostic holds captured stderr, truncated.
type BuildError struct {
	TargetID   string `json:"target_id"`
	JobID      string `json:"job_id"`
	Message    string `json:"message"`
	Diagnostic string `json:"diagnostic,omitempty"`
	Cause      error  `json:"-"`
}

func (e *BuildError) Error() string {
	if e.Cause != nil {
		return "build " + e.TargetID + ": " + e.Message + ": " + e.Cause.Error()
	}
	return "build " + e.TargetID + ": " + e.Message
}

func (e *BuildError) Unwrap() error {
	return e.Cause
}
