// ABOUTME: Build job model: status lifecycle, artifact references, and caller-facing handles.
// ABOUTME: Jobs are superseded, never deleted; handles resolve to one shared outcome.
package build

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status is the lifecycle state of a build job for one target.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// ArtifactRef points at a compiled bridge artifact. Immutable once written.
type ArtifactRef struct {
	TargetID    string    `json:"target_id"`
	Fingerprint string    `json:"fingerprint"`
	Path        string    `json:"path"`
	ContentHash string    `json:"content_hash"`
	SizeBytes   int64     `json:"size_bytes"`
	BuiltAt     time.Time `json:"built_at"`
}

// Job is one build attempt for a target's WASM bridge. Only the orchestrator
// mutates a job, always under the registry lock; everything readers see comes
// through Snapshot copies.
type Job struct {
	ID          string
	TargetID    string
	Status      Status
	Fingerprint string
	StartedAt   time.Time
	FinishedAt  *time.Time
	Artifact    *ArtifactRef
	Err         *BuildError
	// PrevErr retains the superseded job's failure for debugging until this
	// job completes.
	PrevErr *BuildError

	done chan struct{}
}

// newJob creates an InProgress job with a fresh, time-sortable ID.
func newJob(targetID, fingerprint string, prevErr *BuildError) *Job {
	return &Job{
		ID:          ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
		TargetID:    targetID,
		Status:      StatusInProgress,
		Fingerprint: fingerprint,
		StartedAt:   time.Now(),
		PrevErr:     prevErr,
		done:        make(chan struct{}),
	}
}

// Snapshot is a read-only copy of a job for status reads and JSON responses.
type Snapshot struct {
	JobID       string       `json:"job_id"`
	TargetID    string       `json:"target_id"`
	Status      Status       `json:"status"`
	Fingerprint string       `json:"fingerprint,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
	Artifact    *ArtifactRef `json:"artifact,omitempty"`
	Error       *BuildError  `json:"error,omitempty"`
	PrevError   *BuildError  `json:"previous_error,omitempty"`
}

// snapshotLocked copies the job's observable fields. Caller holds the
// registry lock.
func (j *Job) snapshotLocked() Snapshot {
	s := Snapshot{
		JobID:       j.ID,
		TargetID:    j.TargetID,
		Status:      j.Status,
		Fingerprint: j.Fingerprint,
		StartedAt:   j.StartedAt,
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		s.FinishedAt = &t
	}
	if j.Artifact != nil {
		a := *j.Artifact
		s.Artifact = &a
	}
	if j.Err != nil {
		e := *j.Err
		s.Error = &e
	}
	if j.PrevErr != nil {
		e := *j.PrevErr
		s.PrevError = &e
	}
	return s
}

// Handle is a caller's reference to a (possibly shared) build job. Triggering
// a target that is already building returns a handle to the same job.
type Handle struct {
	job *Job
	reg *registry
}

// Done is closed when the job reaches a terminal status.
func (h *Handle) Done() <-chan struct{} {
	return h.job.done
}

// Snapshot returns the job's current observable state.
func (h *Handle) Snapshot() Snapshot {
	return h.reg.snapshotJob(h.job)
}

// JobID identifies the underlying job; two handles for concurrent triggers of
// the same target report the same ID.
func (h *Handle) JobID() string {
	return h.job.ID
}
