package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/spherical/ocr-bench/internal/domain"
)

// Job is the handle of a run executing in the background.
type Job struct {
	id       string
	cancel   context.CancelFunc
	done     chan struct{}
	progress atomic.Int32
	status   atomic.Value // domain.RunStatus

	outcome *RunOutcome
	err     error
}

// ID returns the run id.
func (j *Job) ID() string { return j.id }

// Progress returns the last published progress, 0-100.
func (j *Job) Progress() int { return int(j.progress.Load()) }

// Status returns the current run status.
func (j *Job) Status() domain.RunStatus {
	return j.status.Load().(domain.RunStatus)
}

// Done is closed when the run reaches a terminal status.
func (j *Job) Done() <-chan struct{} { return j.done }

// Outcome returns the final outcome once Done is closed, nil before.
func (j *Job) Outcome() (*RunOutcome, error) {
	select {
	case <-j.done:
		return j.outcome, j.err
	default:
		return nil, nil
	}
}

// Cancel stops the run. Pages not yet attempted are skipped and the run
// ends failed.
func (j *Job) Cancel() { j.cancel() }

// Jobs tracks background runs by id.
type Jobs struct {
	orch *Orchestrator

	mu   sync.RWMutex
	jobs map[string]*Job
	wg   sync.WaitGroup
}

// NewJobs creates a job table on top of an orchestrator.
func NewJobs(orch *Orchestrator) *Jobs {
	return &Jobs{orch: orch, jobs: map[string]*Job{}}
}

// Submit starts req in the background. The run outlives ctx's
// cancellation but keeps its values; use Job.Cancel to stop it.
func (js *Jobs) Submit(ctx context.Context, req RunRequest) *Job {
	if req.RunID == "" {
		req.RunID = js.orch.newID()
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	job := &Job{
		id:     req.RunID,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	job.status.Store(domain.RunCreated)

	onProgress, onStatus := req.OnProgress, req.OnStatus
	req.OnProgress = func(pct int) {
		job.progress.Store(int32(pct))
		if onProgress != nil {
			onProgress(pct)
		}
	}
	req.OnStatus = func(s domain.RunStatus) {
		job.status.Store(s)
		if onStatus != nil {
			onStatus(s)
		}
	}

	js.mu.Lock()
	js.jobs[job.id] = job
	js.mu.Unlock()

	js.wg.Add(1)
	go func() {
		defer js.wg.Done()
		defer cancel()

		out, err := js.orch.Run(runCtx, req)
		job.outcome, job.err = out, err
		job.status.Store(out.Status)
		close(job.done)
	}()

	return job
}

// Get looks up a job by run id.
func (js *Jobs) Get(id string) (*Job, bool) {
	js.mu.RLock()
	defer js.mu.RUnlock()
	job, ok := js.jobs[id]
	return job, ok
}

// Shutdown cancels every running job and waits for them to finish or for
// ctx to end.
func (js *Jobs) Shutdown(ctx context.Context) error {
	js.mu.RLock()
	for _, job := range js.jobs {
		job.Cancel()
	}
	js.mu.RUnlock()

	finished := make(chan struct{})
	go func() {
		js.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
