package supervisor

import (
	"context"
	"sync"
	"time"

	"gitlab.com/transcodeuz/media-engine/tools/transcoder"
)

type EventKind int

const (
	EventProgress EventKind = iota
	EventStatus
	EventTerminal
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventStatus:
		return "status"
	default:
		return "terminal"
	}
}

// Event is one entry of a job's ordered status stream
type Event struct {
	Kind     EventKind
	State    transcoder.JobState
	Progress int
	Message  string
	// Err is set on a failed terminal event
	Err error
	At  time.Time
}

// Snapshot is a point in time copy of a job
type Snapshot struct {
	ID        string
	State     transcoder.JobState
	Progress  int
	Message   string
	Elapsed   time.Duration
	Remaining time.Duration
	Err       error
}

// Job is a supervised transcoder process
type Job struct {
	ID         string
	Command    transcoder.BuiltCommand
	OutputPath string

	opts Options

	mu         sync.Mutex
	state      transcoder.JobState
	progress   int
	message    string
	err        error
	startedAt  time.Time
	finishedAt time.Time
	cancelled  bool

	events     chan Event
	cancelCh   chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
	output     *tailBuffer
}

func newJob(id string, cmd transcoder.BuiltCommand, outputPath string, opts Options) *Job {
	return &Job{
		ID:         id,
		Command:    cmd,
		OutputPath: outputPath,
		opts:       opts,
		state:      transcoder.JobPending,
		message:    "pending",
		events:     make(chan Event, opts.EventBuffer),
		cancelCh:   make(chan struct{}),
		done:       make(chan struct{}),
		output:     newTailBuffer(opts.OutputLimit),
	}
}

// Events is closed right after the terminal event
func (j *Job) Events() <-chan Event {
	return j.events
}

// Done is closed once the job reached a terminal state
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Cancel stops the ramp or the poll loop and asks the child to terminate. Calling it again is a no-op.
func (j *Job) Cancel() {
	j.mu.Lock()
	if !j.state.Terminal() {
		j.cancelled = true
	}
	j.mu.Unlock()

	j.cancelOnce.Do(func() {
		close(j.cancelCh)
	})
}

// Wait blocks until the job is terminal or ctx is done
func (j *Job) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-j.done:
		s := j.Snapshot()
		return s, s.Err
	case <-ctx.Done():
		return j.Snapshot(), ctx.Err()
	}
}

// Output is the tail of the child's combined stdout and stderr
func (j *Job) Output() string {
	return j.output.String()
}

func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := Snapshot{
		ID:       j.ID,
		State:    j.state,
		Progress: j.progress,
		Message:  j.message,
		Err:      j.err,
	}

	switch {
	case j.startedAt.IsZero():
	case j.finishedAt.IsZero():
		s.Elapsed = time.Since(j.startedAt)
	default:
		s.Elapsed = j.finishedAt.Sub(j.startedAt)
	}

	s.Remaining = j.remainingLocked()
	return s
}

func (j *Job) remainingLocked() time.Duration {
	switch j.state {
	case transcoder.JobRunning:
		if j.opts.RampStep <= 0 || j.progress >= j.opts.RampCeiling {
			return 0
		}
		steps := (j.opts.RampCeiling - j.progress + j.opts.RampStep - 1) / j.opts.RampStep
		return time.Duration(steps) * j.opts.RampInterval
	case transcoder.JobFinalizing:
		return j.opts.PollInterval
	default:
		return 0
	}
}

func (j *Job) cancelRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

// emitLocked never blocks. One buffer slot stays free for the terminal event.
func (j *Job) emitLocked(kind EventKind) {
	if len(j.events) >= cap(j.events)-1 {
		return
	}
	j.events <- Event{
		Kind:     kind,
		State:    j.state,
		Progress: j.progress,
		Message:  j.message,
		At:       time.Now(),
	}
}

func (j *Job) setRunning() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.state = transcoder.JobRunning
	j.startedAt = time.Now()
	j.message = "running"
	j.emitLocked(EventStatus)
}

// advance moves the ramp one step, it never passes the ceiling and never goes back
func (j *Job) advance() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cancelled || j.state != transcoder.JobRunning {
		return
	}

	next := j.progress + j.opts.RampStep
	if next > j.opts.RampCeiling {
		next = j.opts.RampCeiling
	}
	if next <= j.progress {
		return
	}

	j.progress = next
	j.emitLocked(EventProgress)
}

func (j *Job) setFinalizing() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cancelled {
		return
	}

	j.state = transcoder.JobFinalizing
	if j.progress < 99 {
		j.progress = 99
	}
	j.message = "finalizing output"
	j.emitLocked(EventProgress)
	j.emitLocked(EventStatus)
}

// finish records the terminal state and closes the stream
func (j *Job) finish(state transcoder.JobState, message string, err error) {
	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		return
	}

	j.state = state
	j.message = message
	j.err = err
	if j.startedAt.IsZero() {
		j.startedAt = time.Now()
	}
	j.finishedAt = time.Now()
	if state == transcoder.JobSucceeded {
		j.progress = 100
	}

	ev := Event{
		Kind:     EventTerminal,
		State:    state,
		Progress: j.progress,
		Message:  message,
		Err:      err,
		At:       j.finishedAt,
	}
	j.mu.Unlock()

	j.events <- ev
	close(j.events)
	close(j.done)
}
