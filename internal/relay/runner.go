package relay

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	rtmp "github.com/pksorensen/video-streaming-portal-sub001"
	"github.com/pksorensen/video-streaming-portal-sub001/config"
	"github.com/pksorensen/video-streaming-portal-sub001/rand"
)

// Status is the lifecycle state of one relay task.
type Status int

const (
	// StatusPending means the task is waiting for its source stream or its
	// next restart attempt.
	StatusPending Status = iota
	StatusRunning
	// StatusFailed means the task exhausted its restart attempts.
	StatusFailed
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusFailed:
		return "failed"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// TaskInfo is a point-in-time snapshot of one task, safe to hand out.
type TaskInfo struct {
	ID          string
	Source      string
	Destination string
	Status      Status
	Attempts    int
	LastError   string
}

type task struct {
	id       string
	spec     config.RelayTask
	status   Status
	attempts int
	lastErr  error
	stop     chan struct{}
}

// Runner owns the set of relay tasks. All mutations of the task table happen
// on a single manager goroutine fed by a command channel; Add, Remove and
// Tasks are just senders. Each task additionally gets a supervisor goroutine
// that starts the pipeline, attaches a sink to the stream fan-out and
// restarts with exponential backoff until the attempt ceiling.
type Runner struct {
	logger      *zap.Logger
	cfg         config.Relay
	broadcaster *rtmp.Broadcaster
	factory     PipelineFactory

	cmds chan func(map[string]*task)
	done chan struct{}
}

func NewRunner(logger *zap.Logger, cfg config.Relay, broadcaster *rtmp.Broadcaster, factory PipelineFactory) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if factory == nil {
		factory = NewFFmpegFactory(cfg.FFmpegPath)
	}
	return &Runner{
		logger:      logger,
		cfg:         cfg,
		broadcaster: broadcaster,
		factory:     factory,
		cmds:        make(chan func(map[string]*task)),
		done:        make(chan struct{}),
	}
}

// Start launches the manager goroutine and the tasks named in the
// configuration.
func (r *Runner) Start() {
	go r.manage()
	for _, spec := range r.cfg.Tasks {
		if _, err := r.Add(spec); err != nil {
			r.logger.Error("failed to add configured relay task",
				zap.String("source", spec.Source), zap.Error(err))
		}
	}
}

func (r *Runner) manage() {
	tasks := make(map[string]*task)
	for {
		select {
		case cmd := <-r.cmds:
			cmd(tasks)
		case <-r.done:
			for _, t := range tasks {
				close(t.stop)
			}
			return
		}
	}
}

// exec runs fn on the manager goroutine and waits for it.
func (r *Runner) exec(fn func(map[string]*task)) error {
	doneFn := make(chan struct{})
	select {
	case r.cmds <- func(tasks map[string]*task) {
		fn(tasks)
		close(doneFn)
	}:
		<-doneFn
		return nil
	case <-r.done:
		return errors.New("relay: runner is shut down")
	}
}

// Add registers a new task and starts supervising it. The returned id
// identifies the task to Remove.
func (r *Runner) Add(spec config.RelayTask) (string, error) {
	if spec.Source == "" || spec.Destination == "" {
		return "", errors.New("relay: task needs a source and a destination")
	}
	t := &task{
		id:     rand.NewID(),
		spec:   spec,
		status: StatusPending,
		stop:   make(chan struct{}),
	}
	err := r.exec(func(tasks map[string]*task) {
		tasks[t.id] = t
	})
	if err != nil {
		return "", err
	}
	go r.supervise(t)
	r.logger.Info("relay task added",
		zap.String("taskID", t.id),
		zap.String("source", spec.Source),
		zap.String("destination", spec.Destination))
	return t.id, nil
}

// Remove stops the task with the given id.
func (r *Runner) Remove(id string) error {
	var found bool
	err := r.exec(func(tasks map[string]*task) {
		if t, ok := tasks[id]; ok {
			found = true
			close(t.stop)
			t.status = StatusStopped
			delete(tasks, id)
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return errors.Errorf("relay: no task with id %s", id)
	}
	r.logger.Info("relay task removed", zap.String("taskID", id))
	return nil
}

// Tasks returns a snapshot of every known task.
func (r *Runner) Tasks() []TaskInfo {
	var out []TaskInfo
	_ = r.exec(func(tasks map[string]*task) {
		for _, t := range tasks {
			info := TaskInfo{
				ID:          t.id,
				Source:      t.spec.Source,
				Destination: t.spec.Destination,
				Status:      t.status,
				Attempts:    t.attempts,
			}
			if t.lastErr != nil {
				info.LastError = t.lastErr.Error()
			}
			out = append(out, info)
		}
	})
	return out
}

// Close stops all tasks and the manager goroutine.
func (r *Runner) Close() {
	close(r.done)
}

func (r *Runner) setStatus(t *task, status Status, err error) {
	_ = r.exec(func(map[string]*task) {
		t.status = status
		if err != nil {
			t.lastErr = err
		}
	})
}

// supervise drives one task through its restart loop: run the pipeline, and
// on failure retry with exponentially growing delay up to the attempt
// ceiling. A stopped task exits immediately; an exhausted one is left in the
// table as Failed so operators can see what happened.
func (r *Runner) supervise(t *task) {
	logger := r.logger.With(
		zap.String("taskID", t.id),
		zap.String("source", t.spec.Source),
		zap.String("destination", t.spec.Destination))

	delay := r.cfg.BaseDelay
	for attempt := 1; ; attempt++ {
		select {
		case <-t.stop:
			return
		default:
		}

		_ = r.exec(func(map[string]*task) { t.attempts = attempt })

		err := r.runOnce(t, logger)
		select {
		case <-t.stop:
			r.setStatus(t, StatusStopped, nil)
			return
		default:
		}

		if err == nil {
			// The source stream ended and the pipeline drained; nothing to
			// restart until a publisher comes back. Treat it as pending again
			// with the backoff reset.
			logger.Info("relay pipeline finished, waiting for source")
			r.setStatus(t, StatusPending, nil)
			attempt = 0
			delay = r.cfg.BaseDelay
			continue
		}

		logger.Warn("relay pipeline failed",
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", r.cfg.MaxAttempts),
			zap.Error(err))
		r.setStatus(t, StatusPending, err)

		if attempt >= r.cfg.MaxAttempts {
			logger.Error("relay task exhausted its attempts")
			r.setStatus(t, StatusFailed, err)
			return
		}

		select {
		case <-t.stop:
			r.setStatus(t, StatusStopped, nil)
			return
		case <-time.After(delay):
		}
		delay *= 2
		if r.cfg.MaxDelay > 0 && delay > r.cfg.MaxDelay {
			delay = r.cfg.MaxDelay
		}
	}
}

// waitForSource blocks until the source stream has a publisher, so pipelines
// aren't started against silence. Returns false if the task was stopped.
func (r *Runner) waitForSource(t *task) bool {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for !r.broadcaster.StreamExists(t.spec.Source) {
		select {
		case <-t.stop:
			return false
		case <-ticker.C:
		}
	}
	return true
}

// runOnce starts the pipeline, feeds it the source stream and waits for the
// process to exit. A nil return means a clean end of stream.
func (r *Runner) runOnce(t *task, logger *zap.Logger) error {
	if !r.waitForSource(t) {
		return nil
	}
	pipeline := r.factory(t.spec)
	stdin, err := pipeline.Start()
	if err != nil {
		return err
	}

	snk := newSink(stdin)
	sub := r.broadcaster.RegisterSubscriber(t.spec.Source, snk)
	r.setStatus(t, StatusRunning, nil)
	logger.Info("relay pipeline started")

	// Stop requests kill the process so Wait returns promptly.
	waitDone := make(chan struct{})
	go func() {
		select {
		case <-t.stop:
			_ = snk.Close()
			_ = pipeline.Kill()
		case <-waitDone:
		}
	}()

	err = pipeline.Wait()
	close(waitDone)
	sub.Cancel()
	_ = snk.Close()

	if snk.sawEndOfStream() {
		return nil
	}
	return err
}
