// Package bgrun runs jobs in the background.
//
// A task is registered once with a name and the maximum number of jobs that
// may run at the same time; every RunTask starts a new job for it:
//
//	r := bgrun.NewRunner(nil)
//	r.NewTask("reload", 1, reloadSnapshot)
//	r.RunTask("reload")
//	defer r.WaitFor(10*time.Second, "")
package bgrun

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"zgo.at/errors"
	"zgo.at/postviews/pkg/log"
)

type (
	task struct {
		name   string
		maxPar int
		fun    func(context.Context) error
	}
	job struct {
		task      task
		wg        sync.WaitGroup
		num       int
		instances map[int]jobInstance
		next      int
	}
	jobInstance struct {
		from    string
		started time.Time
	}

	// Job is a running or finished job.
	Job struct {
		Task    string        // Task name
		Started time.Time     // When the job was started.
		Took    time.Duration // How long the job took to run; 0 if still running.
		From    string        // Location where the job was started from.
	}

	// Runner keeps track of tasks and their jobs.
	Runner struct {
		ctx     context.Context
		cancel  context.CancelFunc
		maxHist int
		mu      sync.Mutex
		tasks   map[string]task
		jobs    map[string]*job
		hist    []Job
		logger  func(task string, err error)
	}
)

// ErrTooManyJobs is returned from RunTask if the task already has the maximum
// number of jobs running.
type ErrTooManyJobs struct {
	Task string
	Num  int
}

func (e ErrTooManyJobs) Error() string {
	return fmt.Sprintf("bgrun.RunTask: task %q has %d jobs already", e.Task, e.Num)
}

// NewRunner creates a new runner.
//
// Errors and panics from jobs are sent to logErr; if it's nil they're logged
// with the "bgrun" log module.
func NewRunner(logErr func(task string, err error)) *Runner {
	if logErr == nil {
		l := log.Module("bgrun")
		logErr = func(task string, err error) {
			l.Error(context.Background(), err, "task", task)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		ctx:     ctx,
		cancel:  cancel,
		maxHist: 20,
		tasks:   make(map[string]task),
		jobs:    make(map[string]*job),
		hist:    make([]Job, 0, 20),
		logger:  logErr,
	}
}

// NewTask registers a new task.
func (r *Runner) NewTask(name string, maxPar int, f func(context.Context) error) {
	if maxPar < 1 {
		maxPar = 1
	}
	if name == "" {
		panic("bgrun.NewTask: name cannot be an empty string")
	}
	if f == nil {
		panic("bgrun.NewTask: function cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[name]; ok {
		panic(fmt.Sprintf("bgrun.NewTask: task %q already exists", name))
	}
	r.tasks[name] = task{name: name, maxPar: maxPar, fun: f}
}

// RunTask starts a new job for a registered task.
func (r *Runner) RunTask(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[name]
	if !ok {
		return errors.Errorf("bgrun.RunTask: no task %q", name)
	}
	j, ok := r.jobs[name]
	if !ok {
		j = &job{task: t, instances: make(map[int]jobInstance)}
		r.jobs[name] = j
	}
	if j.num >= t.maxPar {
		return &ErrTooManyJobs{Task: name, Num: j.num}
	}

	id := j.next
	j.next++
	j.num++
	inst := jobInstance{started: time.Now(), from: loc(1)}
	j.instances[id] = inst

	j.wg.Add(1)
	go func() {
		defer func() {
			rec := recover()

			r.mu.Lock()
			r.hist = append(r.hist, Job{
				Task:    name,
				From:    inst.from,
				Started: inst.started,
				Took:    time.Since(inst.started),
			})
			if len(r.hist) > r.maxHist {
				r.hist = r.hist[len(r.hist)-r.maxHist:]
			}
			delete(j.instances, id)
			j.num--
			r.mu.Unlock()
			j.wg.Done()

			if rec != nil {
				switch rr := rec.(type) {
				case error:
					r.logger(name, rr)
				default:
					r.logger(name, errors.Errorf("panic: %v", rr))
				}
			}
		}()

		if err := t.fun(r.ctx); err != nil {
			r.logger(name, err)
		}
	}()
	return nil
}

// Wait for all running jobs for the task to finish.
//
// If name is an empty string it will wait for jobs for all tasks.
func (r *Runner) Wait(name string) {
	r.mu.Lock()
	var wait []*job
	if name == "" {
		for _, j := range r.jobs {
			wait = append(wait, j)
		}
	} else if j, ok := r.jobs[name]; ok {
		wait = append(wait, j)
	}
	r.mu.Unlock()

	for _, j := range wait {
		j.wg.Wait()
	}
}

// WaitFor is like Wait, but cancels the jobs' context if they don't finish
// within d.
func (r *Runner) WaitFor(d time.Duration, name string) error {
	var (
		t    = time.NewTimer(d)
		done = make(chan struct{})
	)
	go func() {
		r.Wait(name)
		t.Stop()
		close(done)
	}()

	select {
	case <-t.C:
		r.cancel()
		return errors.Errorf("bgrun.WaitFor: %w", context.DeadlineExceeded)
	case <-done:
		return nil
	}
}

// History gets the most recently finished jobs, oldest first.
func (r *Runner) History() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	cpy := make([]Job, len(r.hist))
	copy(cpy, r.hist)
	return cpy
}

// Running returns all running jobs, oldest first.
func (r *Runner) Running() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		for _, inst := range j.instances {
			l = append(l, Job{Task: j.task.name, Started: inst.started, From: inst.from})
		}
	}
	sort.Slice(l, func(i, j int) bool { return l[i].Started.Before(l[j].Started) })
	return l
}

// loc gets a location in the stack trace. Use 0 for the current location; 1 for
// one up, etc.
func loc(n int) string {
	_, file, line, ok := runtime.Caller(n + 1)
	if !ok {
		file = "???"
		line = 0
	}
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			file = file[i+1:]
			break
		}
	}
	return fmt.Sprintf("%v:%v", file, line)
}
