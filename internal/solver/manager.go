// Package solver runs an external plate solver on queued images. A fixed
// pool of workers takes jobs from a bounded queue, starts the solver
// process under a per-job timeout and polls for its result file.
package solver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/star/aplab/internal/metrics"
)

// Config holds solver settings.
type Config struct {
	Command      string
	Args         string        // template, see DefaultArgs
	HintArgs     string        // appended when ra/dec hints are given
	WorkDir      string        // images live here; uploads are stored here
	Timeout      time.Duration // per job (default 2m)
	PollInterval time.Duration // result file poll (default 500ms)
	Workers      int           // default 2
	QueueSize    int           // default 32
	Retention    time.Duration // finished jobs kept this long (default 1h)
}

func (c Config) withDefaults() Config {
	if c.Command == "" {
		c.Command = DefaultCommand
	}
	if c.Args == "" {
		c.Args = DefaultArgs
	}
	if c.HintArgs == "" {
		c.HintArgs = DefaultHintArgs
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 32
	}
	if c.Retention <= 0 {
		c.Retention = time.Hour
	}
	return c
}

// entry is the manager's record of a job. Guarded by Manager.mu.
type entry struct {
	job             Job
	cancel          context.CancelFunc
	cancelRequested bool
	owned           []string // files removed on eviction
	subs            map[chan Job]struct{}
}

// Manager owns the job table and the worker pool.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	jobs  map[string]*entry
	queue chan *entry
}

// NewManager creates a manager. Run starts its workers.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	cfg = cfg.withDefaults()
	if cfg.WorkDir == "" {
		return nil, errors.New("solver work dir is required")
	}
	abs, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("solver work dir: %w", err)
	}
	cfg.WorkDir = abs
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating solver work dir: %w", err)
	}

	return &Manager{
		cfg:    cfg,
		logger: logger.With("component", "solver"),
		now:    time.Now,
		jobs:   make(map[string]*entry),
		queue:  make(chan *entry, cfg.QueueSize),
	}, nil
}

// WorkDir returns the absolute work directory.
func (m *Manager) WorkDir() string { return m.cfg.WorkDir }

// Run starts the workers and the retention janitor. Blocks until ctx is
// cancelled and every worker has returned.
func (m *Manager) Run(ctx context.Context) {
	metrics.SetSolverWorkers(m.cfg.Workers)
	m.logger.Info("solver pool started",
		"workers", m.cfg.Workers,
		"command", m.cfg.Command,
		"work_dir", m.cfg.WorkDir,
	)

	var wg sync.WaitGroup
	for i := 0; i < m.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case e := <-m.queue:
					m.run(ctx, e)
				}
			}
		}()
	}

	interval := min(time.Minute, m.cfg.Retention)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			m.logger.Info("solver pool stopped")
			return
		case <-ticker.C:
			m.evictFinished()
		}
	}
}

// Submit queues a solve of an image that already exists inside the work
// dir. path may be absolute or relative to the work dir.
func (m *Manager) Submit(path string, hints Hints) (Job, error) {
	rel, err := m.resolve(path)
	if err != nil {
		return Job{}, err
	}
	return m.enqueue(rel, hints, nil)
}

// SubmitUpload stores r in the work dir under a fresh name and queues it.
// The stored image and its result files are removed when the job is evicted.
func (m *Manager) SubmitUpload(filename string, r io.Reader, hints Hints) (Job, error) {
	if err := hints.validate(); err != nil {
		return Job{}, err
	}
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".fit", ".fits", ".fts", ".png", ".jpg", ".jpeg", ".tif", ".tiff":
	default:
		return Job{}, fmt.Errorf("%w: unsupported image type %q", ErrInvalidRequest, ext)
	}

	name := "upload-" + uuid.NewString() + ext
	full := filepath.Join(m.cfg.WorkDir, name)
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Job{}, fmt.Errorf("storing upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(full)
		return Job{}, fmt.Errorf("storing upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(full)
		return Job{}, fmt.Errorf("storing upload: %w", err)
	}

	job, err := m.enqueue(name, hints, []string{full, iniPath(full), wcsPath(full)})
	if err != nil {
		os.Remove(full)
	}
	return job, err
}

// resolve returns path relative to the work dir, refusing anything outside.
func (m *Manager) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: image path is required", ErrInvalidRequest)
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(m.cfg.WorkDir, full)
	}
	rel, err := filepath.Rel(m.cfg.WorkDir, filepath.Clean(full))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q is outside the work dir", ErrInvalidRequest, path)
	}
	fi, err := os.Stat(filepath.Join(m.cfg.WorkDir, rel))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !fi.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %q is not a file", ErrInvalidRequest, path)
	}
	return rel, nil
}

func (m *Manager) enqueue(image string, hints Hints, owned []string) (Job, error) {
	if err := hints.validate(); err != nil {
		return Job{}, err
	}
	e := &entry{
		job: Job{
			ID:      uuid.NewString(),
			State:   Queued,
			Image:   image,
			Hints:   hints,
			Created: m.now().UTC(),
		},
		owned: owned,
		subs:  make(map[chan Job]struct{}),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case m.queue <- e:
	default:
		return Job{}, ErrQueueFull
	}
	m.jobs[e.job.ID] = e
	metrics.IncSolverJobsActive()

	m.logger.Info("solve job queued", "job_id", e.job.ID, "image", image)
	return e.job, nil
}

// Get returns a job snapshot.
func (m *Manager) Get(id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return e.job, nil
}

// List returns all retained jobs, newest first.
func (m *Manager) List() []Job {
	m.mu.Lock()
	out := make([]Job, 0, len(m.jobs))
	for _, e := range m.jobs {
		out = append(out, e.job)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.After(out[j].Created)
	})
	return out
}

// Cancel stops a job. A queued job is cancelled at once; a running job has
// its process killed and turns cancelled when the worker notices.
func (m *Manager) Cancel(id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if e.job.State.Terminal() {
		return e.job, ErrJobFinished
	}

	e.cancelRequested = true
	if e.job.State == Queued {
		m.finishLocked(e, nil, "cancelled while queued", Cancelled)
		return e.job, nil
	}
	if e.cancel != nil {
		e.cancel()
	}
	return e.job, nil
}

// Subscribe returns a channel that receives the job's snapshot now and on
// every state change. Only the latest snapshot is buffered. The channel is
// closed after the terminal state was delivered, or when stop is called.
func (m *Manager) Subscribe(id string) (<-chan Job, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	ch := make(chan Job, 1)
	ch <- e.job
	if e.job.State.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}
	e.subs[ch] = struct{}{}

	stop := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := e.subs[ch]; ok {
			delete(e.subs, ch)
			close(ch)
		}
	}
	return ch, stop, nil
}

// publishLocked sends the current snapshot to every subscriber, replacing
// any snapshot they have not read yet.
func (m *Manager) publishLocked(e *entry) {
	for ch := range e.subs {
		select {
		case ch <- e.job:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- e.job
		}
		if e.job.State.Terminal() {
			delete(e.subs, ch)
			close(ch)
		}
	}
}

// run executes one job on a worker.
func (m *Manager) run(ctx context.Context, e *entry) {
	m.mu.Lock()
	if e.job.State != Queued {
		m.mu.Unlock()
		return
	}
	jctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	e.cancel = cancel
	started := m.now().UTC()
	e.job.State = Running
	e.job.Started = &started
	m.publishLocked(e)
	job := e.job
	m.mu.Unlock()

	m.logger.Info("solve job started", "job_id", job.ID, "image", job.Image)
	sol, err := m.solve(jctx, job)
	duration := time.Since(started)

	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case err == nil:
		m.finishLocked(e, sol, "", Solved)
		metrics.ObserveSolverDuration(duration)
	case e.cancelRequested:
		m.finishLocked(e, nil, "cancelled", Cancelled)
	case errors.Is(jctx.Err(), context.DeadlineExceeded):
		m.finishLocked(e, nil, fmt.Sprintf("timed out after %s", m.cfg.Timeout), Failed)
	case ctx.Err() != nil:
		m.finishLocked(e, nil, "server shutting down", Cancelled)
	default:
		m.finishLocked(e, nil, err.Error(), Failed)
		metrics.ObserveSolverDuration(duration)
	}

	m.logger.Info("solve job finished",
		"job_id", e.job.ID,
		"state", e.job.State,
		"duration_ms", duration.Milliseconds(),
		"error", e.job.Error,
	)
}

func (m *Manager) finishLocked(e *entry, sol *Solution, msg string, state State) {
	finished := m.now().UTC()
	e.job.State = state
	e.job.Finished = &finished
	e.job.Solution = sol
	e.job.Error = msg
	e.cancel = nil
	metrics.IncSolverJobs(string(state))
	metrics.DecSolverJobsActive()
	m.publishLocked(e)
}

// outputTail bounds how much solver output ends up in an error message.
const outputTail = 512

// solve starts the solver and waits for its result file.
func (m *Manager) solve(ctx context.Context, job Job) (*Solution, error) {
	image := filepath.Join(m.cfg.WorkDir, job.Image)
	ini := iniPath(image)
	if err := os.Remove(ini); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing stale result: %w", err)
	}

	args := expandArgs(m.cfg.Args, m.cfg.HintArgs, image, job.Hints)
	cmd := exec.CommandContext(ctx, m.cfg.Command, args...)
	cmd.Dir = m.cfg.WorkDir
	cmd.WaitDelay = time.Second
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", m.cfg.Command, err)
	}
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	var waitErr error
poll:
	for {
		select {
		case <-ticker.C:
			if _, err := os.Stat(ini); err == nil {
				// Let the solver finish writing before reading.
				waitErr = <-exited
				break poll
			}
		case waitErr = <-exited:
			break poll
		}
	}

	res, err := readINI(ini)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, os.ErrNotExist) && waitErr != nil:
		return nil, fmt.Errorf("solver exited: %v: %s", waitErr, tail(out.String()))
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("solver exited without writing %s", filepath.Base(ini))
	default:
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(ini), err)
	}

	if !res.Solved {
		if res.Error != "" {
			return nil, fmt.Errorf("no solution: %s", res.Error)
		}
		return nil, errors.New("no solution found")
	}
	return solution(res, image), nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > outputTail {
		s = "..." + s[len(s)-outputTail:]
	}
	return s
}

// evictFinished drops finished jobs older than the retention period and
// deletes the files they own.
func (m *Manager) evictFinished() int {
	cutoff := m.now().Add(-m.cfg.Retention)

	m.mu.Lock()
	var files []string
	removed := 0
	for id, e := range m.jobs {
		if e.job.Finished != nil && e.job.Finished.Before(cutoff) {
			files = append(files, e.owned...)
			delete(m.jobs, id)
			removed++
		}
	}
	m.mu.Unlock()

	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("removing solver file", "path", f, "error", err)
		}
	}
	if removed > 0 {
		m.logger.Debug("evicted finished jobs", "jobs_removed", removed)
	}
	return removed
}
