// ABOUTME: Build orchestrator: triggers deduplicated WASM bridge builds and serves cached artifacts.
// ABOUTME: Subprocess work runs detached from the trigger call; results publish through the registry.
package build

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config controls where target sources live and how bridges are compiled.
type Config struct {
	// TargetsRoot contains one source directory per target ID.
	TargetsRoot string
	// Command is the build argv; the "{{out}}" token is replaced with the
	// artifact output path. Empty means the default Go WASM build.
	Command []string
	// Env is merged over the inherited environment for the subprocess.
	Env map[string]string
	// Timeout bounds one build subprocess.
	Timeout time.Duration
}

// DefaultCommand compiles the bridge package in the target directory to WASM.
var DefaultCommand = []string{"go", "build", "-o", "{{out}}", "."}

// DefaultEnv pins the WASM target platform for the default command.
var DefaultEnv = map[string]string{"GOOS": "js", "GOARCH": "wasm"}

const diagnosticLimit = 16 * 1024

// Orchestrator owns the build job registry and spawns build subprocesses.
// Only the orchestrator mutates registry entries.
type Orchestrator struct {
	cfg    Config
	reg    *registry
	store  *Store
	runner Runner
	events *notifier
}

// NewOrchestrator creates an orchestrator over the given artifact store. A
// nil runner means real subprocesses.
func NewOrchestrator(cfg Config, store *Store, runner Runner) *Orchestrator {
	if len(cfg.Command) == 0 {
		cfg.Command = DefaultCommand
		if cfg.Env == nil {
			cfg.Env = DefaultEnv
		}
	}
	if runner == nil {
		runner = CommandRunner{}
	}
	return &Orchestrator{
		cfg:    cfg,
		reg:    newRegistry(),
		store:  store,
		runner: runner,
		events: newNotifier(),
	}
}

// Rehydrate installs the most recent stored artifact per target as a
// Succeeded job, so a restarted server serves cached artifacts immediately.
func (o *Orchestrator) Rehydrate() error {
	latest, err := o.store.Latest()
	if err != nil {
		return fmt.Errorf("loading artifact index: %w", err)
	}
	for targetID, ref := range latest {
		job := newJob(targetID, ref.Fingerprint, nil)
		finishedAt := ref.BuiltAt
		job.StartedAt = ref.BuiltAt
		o.reg.install(job)
		o.reg.succeed(job, ref, finishedAt)
	}
	if len(latest) > 0 {
		log.Printf("build: rehydrated %d cached artifact(s)", len(latest))
	}
	return nil
}

// Trigger starts or joins a build for targetID. If a job is already
// InProgress the returned handle attaches to it; otherwise a fresh job is
// created and the subprocess spawned in the background. Trigger itself never
// blocks on build completion.
func (o *Orchestrator) Trigger(targetID string) (*Handle, error) {
	if err := validateTargetID(targetID); err != nil {
		return nil, fmt.Errorf("invalid target ID: %w", err)
	}

	dir := filepath.Join(o.cfg.TargetsRoot, targetID)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w %q", ErrUnknownTarget, targetID)
	}

	fingerprint, err := Fingerprint(dir)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting target %q: %w", targetID, err)
	}

	job, created := o.reg.getOrCreate(targetID, fingerprint)
	handle := &Handle{job: job, reg: o.reg}
	if !created {
		return handle, nil
	}

	// Unchanged sources with a stored artifact complete without a subprocess.
	if ref, ok, lookupErr := o.store.Lookup(targetID, fingerprint); lookupErr == nil && ok {
		o.reg.succeed(job, ref, time.Now())
		o.events.publish(Event{
			Type: EventCached, TargetID: targetID, JobID: job.ID,
			Status: StatusSucceeded, Time: time.Now(),
		})
		return handle, nil
	} else if lookupErr != nil {
		log.Printf("build: artifact cache lookup failed target=%s err=%v", targetID, lookupErr)
	}

	o.events.publish(Event{
		Type: EventStarted, TargetID: targetID, JobID: job.ID,
		Status: StatusInProgress, Time: time.Now(),
	})
	go o.run(job, dir)
	return handle, nil
}

// Status returns the current job snapshot for a target without blocking.
func (o *Orchestrator) Status(targetID string) (Snapshot, bool) {
	return o.reg.snapshot(targetID)
}

// Artifact returns the cached artifact when the target's job has Succeeded.
// It returns ErrCacheMiss before any success and *BuildError after a failure.
func (o *Orchestrator) Artifact(targetID string) (*ArtifactRef, error) {
	snap, ok := o.reg.snapshot(targetID)
	if !ok {
		return nil, ErrCacheMiss
	}
	switch snap.Status {
	case StatusSucceeded:
		return snap.Artifact, nil
	case StatusFailed:
		return nil, snap.Error
	default:
		return nil, ErrCacheMiss
	}
}

// Subscribe returns the build event history and a live channel for a target.
func (o *Orchestrator) Subscribe(targetID string) ([]Event, <-chan Event, func()) {
	return o.events.subscribe(targetID)
}

// run executes the build subprocess for a job and publishes the outcome.
// Runs detached; errors land in the registry, never on a caller's stack.
func (o *Orchestrator) run(job *Job, dir string) {
	outPath := filepath.Join(os.TempDir(), fmt.Sprintf("appview-build-%s.wasm", job.ID))
	defer func() { _ = os.Remove(outPath) }()

	spec := RunSpec{
		Command: substituteCommand(o.cfg.Command, outPath),
		Dir:     dir,
		Env:     o.cfg.Env,
		Timeout: o.cfg.Timeout,
	}

	res, err := o.runner.Run(context.Background(), spec)
	if err != nil {
		o.failJob(job, &BuildError{
			TargetID: job.TargetID, JobID: job.ID,
			Message: "build process could not run", Cause: err,
		})
		return
	}

	if res.TimedOut {
		o.failJob(job, &BuildError{
			TargetID: job.TargetID, JobID: job.ID,
			Message:    fmt.Sprintf("build timed out after %s", res.Duration.Round(time.Millisecond)),
			Diagnostic: truncateDiagnostic(res.Stderr),
		})
		return
	}
	if res.ExitCode != 0 {
		o.failJob(job, &BuildError{
			TargetID: job.TargetID, JobID: job.ID,
			Message:    fmt.Sprintf("build exited with status %d", res.ExitCode),
			Diagnostic: truncateDiagnostic(res.Stderr),
		})
		return
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		o.failJob(job, &BuildError{
			TargetID: job.TargetID, JobID: job.ID,
			Message:    "build produced no artifact",
			Diagnostic: truncateDiagnostic(res.Stderr),
			Cause:      err,
		})
		return
	}

	ref, err := o.store.Save(job.TargetID, job.Fingerprint, data)
	if err != nil {
		o.failJob(job, &BuildError{
			TargetID: job.TargetID, JobID: job.ID,
			Message: "storing artifact", Cause: err,
		})
		return
	}

	o.reg.succeed(job, ref, time.Now())
	o.events.publish(Event{
		Type: EventSucceeded, TargetID: job.TargetID, JobID: job.ID,
		Status: StatusSucceeded, Time: time.Now(),
	})
	log.Printf("build: succeeded target=%s job=%s size=%d", job.TargetID, job.ID, ref.SizeBytes)
}

func (o *Orchestrator) failJob(job *Job, buildErr *BuildError) {
	o.reg.fail(job, buildErr, time.Now())
	o.events.publish(Event{
		Type: EventFailed, TargetID: job.TargetID, JobID: job.ID,
		Status: StatusFailed, Detail: buildErr.Message, Time: time.Now(),
	})
	log.Printf("build: failed target=%s job=%s: %v", job.TargetID, job.ID, buildErr)
}

// substituteCommand replaces the {{out}} token with the artifact output path.
func substituteCommand(command []string, outPath string) []string {
	out := make([]string, len(command))
	for i, arg := range command {
		out[i] = strings.ReplaceAll(arg, "{{out}}", outPath)
	}
	return out
}

// truncateDiagnostic keeps the tail of captured stderr, where compilers put
// their final errors.
func truncateDiagnostic(stderr string) string {
	s := strings.TrimSpace(stderr)
	if len(s) <= diagnosticLimit {
		return s
	}
	return "... " + s[len(s)-diagnosticLimit:]
}

// validateTargetID rejects IDs that could escape the targets root.
func validateTargetID(id string) error {
	if id == "" {
		return errors.New("target ID must not be empty")
	}
	if strings.Contains(id, "..") {
		return errors.New("target ID must not contain '..'")
	}
	if strings.ContainsAny(id, "/\\") {
		return errors.New("target ID must not contain path separators")
	}
	return nil
}
