package transfer

import (
	"context"
	"sort"
	goSync "sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/remotesync/pkg/errors"
	"github.com/sidkik/remotesync/pkg/fs"
)

// DefaultConcurrency is used when Options.Concurrency isn't positive.
const DefaultConcurrency = 4

// Options configure a Scheduler.
type Options struct {
	// Concurrency is the maximum number of tasks in flight.
	Concurrency int

	// RunID identifies the run in logs and results. A random ID is
	// generated if it's empty.
	RunID string

	Log log.FieldLogger
}

type queuedTask struct {
	index int
	task  Task
}

type outcome struct {
	index  int
	task   Task
	status Status
	err    error
}

// dirResult is shared by every task that needs the same directory, so that
// it's only created once per run.
type dirResult struct {
	done chan struct{}
	err  error
}

// Scheduler runs Tasks from a source filesystem to a target filesystem.
type Scheduler struct {
	source, target fs.FileSystem
	concurrency    int
	runID          string
	log            log.FieldLogger

	lock      goSync.Mutex
	cond      *goSync.Cond
	queue     []queuedTask
	enqueued  int
	inflight  int
	outcomes  []outcome
	dirs      map[string]*dirResult
	dirsMutex goSync.Mutex
}

// New creates a Scheduler that reads from source and writes to target.
func New(source, target fs.FileSystem, opts Options) *Scheduler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}
	if opts.Log == nil {
		opts.Log = log.StandardLogger()
	}

	s := &Scheduler{
		source:      source,
		target:      target,
		concurrency: opts.Concurrency,
		runID:       opts.RunID,
		log:         opts.Log.WithField("run", opts.RunID),
		dirs:        map[string]*dirResult{},
	}
	s.cond = goSync.NewCond(&s.lock)
	return s
}

// RunID returns the ID reported in the BatchResult.
func (s *Scheduler) RunID() string {
	return s.runID
}

// Add enqueues tasks. It's safe to call while Run is executing. Tasks added
// before Run returns are executed by that run; tasks added afterwards wait for
// the next call to Run.
func (s *Scheduler) Add(tasks ...Task) {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, task := range tasks {
		s.queue = append(s.queue, queuedTask{index: s.enqueued, task: task})
		s.enqueued++
	}
	s.cond.Broadcast()
}

// Run executes the queued tasks and blocks until all of them have settled.
//
// If ctx is cancelled, no new tasks are started. Tasks already running see
// the cancelled context through their filesystem calls, and tasks that never
// started are reported as failed with the context's error.
func (s *Scheduler) Run(ctx context.Context) BatchResult {
	stop := context.AfterFunc(ctx, func() {
		s.lock.Lock()
		s.cond.Broadcast()
		s.lock.Unlock()
	})
	defer stop()

	var outcomes []outcome
	for {
		var wg goSync.WaitGroup
		for i := 0; i < s.concurrency; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.work(ctx)
			}()
		}
		wg.Wait()

		// Tasks may have been added between the last worker exiting and
		// now.
		s.lock.Lock()
		if len(s.queue) == 0 {
			outcomes = s.outcomes
			s.outcomes = nil
			s.lock.Unlock()
			break
		}
		s.lock.Unlock()
	}

	s.dirsMutex.Lock()
	s.dirs = map[string]*dirResult{}
	s.dirsMutex.Unlock()

	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].index < outcomes[j].index
	})

	result := BatchResult{RunID: s.runID}
	for _, o := range outcomes {
		if o.status == Succeeded {
			result.Succeeded++
		} else {
			result.Failed = append(result.Failed, Failure{Task: o.task, Err: o.err})
		}
	}
	return result
}

func (s *Scheduler) work(ctx context.Context) {
	for {
		s.lock.Lock()
		for len(s.queue) == 0 && s.inflight > 0 && ctx.Err() == nil {
			s.cond.Wait()
		}

		if len(s.queue) == 0 {
			// Nothing is queued or running, so the run is over. Wake up the
			// other workers so they notice as well.
			s.cond.Broadcast()
			s.lock.Unlock()
			return
		}

		if err := ctx.Err(); err != nil {
			for _, queued := range s.queue {
				s.outcomes = append(s.outcomes, outcome{
					index:  queued.index,
					task:   queued.task,
					status: Failed,
					err:    err,
				})
				recordTask(queued.task.Kind, Failed, 0, 0)
			}
			s.queue = nil
			s.cond.Broadcast()
			s.lock.Unlock()
			return
		}

		next := s.queue[0]
		s.queue = s.queue[1:]
		s.inflight++
		s.lock.Unlock()

		o := s.execute(ctx, next)

		s.lock.Lock()
		s.outcomes = append(s.outcomes, o)
		s.inflight--
		s.cond.Broadcast()
		s.lock.Unlock()
	}
}

func (s *Scheduler) execute(ctx context.Context, queued queuedTask) outcome {
	task := queued.task
	taskLog := s.log.WithField("task", task.String())

	start := time.Now()
	bytes, err := s.executeTask(ctx, task)
	duration := time.Since(start)

	status := Succeeded
	if err != nil {
		status = Failed
		taskLog.WithError(err).Debug("Task failed")
	} else {
		taskLog.WithField("duration", duration).Debug("Task succeeded")
	}
	recordTask(task.Kind, status, bytes, duration)

	return outcome{index: queued.index, task: task, status: status, err: err}
}

func (s *Scheduler) executeTask(ctx context.Context, task Task) (int64, error) {
	if err := s.ensureDirs(ctx, task.EnsureDirs); err != nil {
		return 0, err
	}

	switch task.Kind {
	case Upload, Download:
		return s.copy(ctx, task)
	case Delete:
		err := s.target.Remove(ctx, task.TargetPath, task.Recursive)
		if errors.IsNotFound(err) {
			// Someone else already deleted it.
			return 0, nil
		}
		return 0, errors.WithContext(err, "delete")
	case Mkdir:
		return 0, s.mkdir(ctx, task.TargetPath)
	default:
		return 0, errors.New("unexecutable task kind " + task.Kind.String())
	}
}

func (s *Scheduler) copy(ctx context.Context, task Task) (int64, error) {
	r, err := s.source.ReadFile(ctx, task.SourcePath)
	if err != nil {
		return 0, errors.WithContext(err, "read")
	}
	defer r.Close()

	counter := &fs.CountingReader{Reader: r}
	if err := s.target.WriteFile(ctx, task.TargetPath, counter, task.Mode); err != nil {
		return counter.N, errors.WithContext(err, "write")
	}

	if task.Mode != 0 {
		if err := s.target.SetMode(ctx, task.TargetPath, task.Mode); err != nil {
			return counter.N, errors.WithContext(err, "set mode")
		}
	}
	return counter.N, nil
}

func (s *Scheduler) ensureDirs(ctx context.Context, dirs []string) error {
	for _, dir := range dirs {
		if err := s.mkdir(ctx, dir); err != nil {
			return err
		}
	}
	return nil
}

// mkdir creates dir on the target at most once per run. Concurrent callers
// wait for the first one and share its result.
func (s *Scheduler) mkdir(ctx context.Context, dir string) error {
	s.dirsMutex.Lock()
	res, ok := s.dirs[dir]
	if !ok {
		res = &dirResult{done: make(chan struct{})}
		s.dirs[dir] = res
	}
	s.dirsMutex.Unlock()

	if !ok {
		res.err = errors.WithContext(s.target.Mkdir(ctx, dir), "mkdir "+dir)
		close(res.done)
		return res.err
	}

	select {
	case <-res.done:
		return res.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
