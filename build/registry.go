// ABOUTME: Keyed build job registry guaranteeing at most one InProgress job per target.
// ABOUTME: Check-and-insert is atomic under one lock; slow work happens outside it.
package build

import (
	"sync"
	"time"
)

// registry is the target_id -> job table. The single mutex makes the
// check-for-existing and create-new steps atomic; subprocess execution never
// runs under it.
type registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func newRegistry() *registry {
	return &registry{jobs: make(map[string]*Job)}
}

// getOrCreate returns the existing InProgress job for targetID, or installs a
// new one. The bool reports whether a new job was created (and therefore a
// build must be started by the caller).
func (r *registry) getOrCreate(targetID, fingerprint string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.jobs[targetID]; ok && existing.Status == StatusInProgress {
		return existing, false
	}

	var prevErr *BuildError
	if existing, ok := r.jobs[targetID]; ok && existing.Err != nil {
		e := *existing.Err
		prevErr = &e
	}

	job := newJob(targetID, fingerprint, prevErr)
	r.jobs[targetID] = job
	return job, true
}

// install replaces the registry entry with an already-terminal job, used to
// rehydrate cached artifacts. It never displaces an InProgress job.
func (r *registry) install(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.jobs[job.TargetID]; ok && existing.Status == StatusInProgress {
		return
	}
	r.jobs[job.TargetID] = job
}

// get returns the current job for a target.
func (r *registry) get(targetID string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[targetID]
	return job, ok
}

// snapshot returns a copy of the current job's state for a target.
func (r *registry) snapshot(targetID string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[targetID]
	if !ok {
		return Snapshot{}, false
	}
	return job.snapshotLocked(), true
}

// snapshotJob copies a specific job's state, even if it has been superseded
// in the table.
func (r *registry) snapshotJob(job *Job) Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return job.snapshotLocked()
}

// succeed publishes a successful outcome and wakes waiters. The publish
// happens entirely under the write lock so no reader can observe a Succeeded
// job without its artifact.
func (r *registry) succeed(job *Job, artifact *ArtifactRef, finishedAt time.Time) {
	r.mu.Lock()
	job.Status = StatusSucceeded
	job.Artifact = artifact
	job.FinishedAt = &finishedAt
	job.PrevErr = nil
	r.mu.Unlock()
	close(job.done)
}

// fail publishes a terminal failure and wakes waiters.
func (r *registry) fail(job *Job, buildErr *BuildError, finishedAt time.Time) {
	r.mu.Lock()
	job.Status = StatusFailed
	job.Err = buildErr
	job.FinishedAt = &finishedAt
	job.PrevErr = nil
	r.mu.Unlock()
	close(job.done)
}
