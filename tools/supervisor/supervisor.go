package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"gitlab.com/transcodeuz/media-engine/config"
	"gitlab.com/transcodeuz/media-engine/pkg/logger"
	"gitlab.com/transcodeuz/media-engine/tools/transcoder"
)

// Options tune the synthetic progress ramp and the completion poll
type Options struct {
	RampInterval time.Duration
	RampStep     int
	RampCeiling  int
	PollInterval time.Duration
	// StablePolls is how many consecutive polls must report the same size
	StablePolls int
	KillGrace   time.Duration
	EventBuffer int
	OutputLimit int
}

func DefaultOptions() Options {
	return Options{
		RampInterval: 500 * time.Millisecond,
		RampStep:     5,
		RampCeiling:  90,
		PollInterval: time.Second,
		StablePolls:  2,
		KillGrace:    5 * time.Second,
		EventBuffer:  64,
		OutputLimit:  8 << 10,
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.RampInterval = cfg.RampInterval
	opts.RampStep = cfg.RampStep
	opts.RampCeiling = cfg.RampCeiling
	opts.PollInterval = cfg.PollInterval
	opts.StablePolls = cfg.StablePolls
	opts.KillGrace = cfg.KillGrace
	return opts.normalize()
}

func (o Options) normalize() Options {
	def := DefaultOptions()
	if o.RampInterval <= 0 {
		o.RampInterval = def.RampInterval
	}
	if o.RampStep <= 0 {
		o.RampStep = def.RampStep
	}
	if o.RampCeiling <= 0 || o.RampCeiling > 98 {
		o.RampCeiling = def.RampCeiling
	}
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.StablePolls < 2 {
		o.StablePolls = def.StablePolls
	}
	if o.KillGrace <= 0 {
		o.KillGrace = def.KillGrace
	}
	if o.EventBuffer < 2 {
		o.EventBuffer = def.EventBuffer
	}
	if o.OutputLimit <= 0 {
		o.OutputLimit = def.OutputLimit
	}
	return o
}

// Supervisor starts transcoder processes and tracks each one in its own goroutine
type Supervisor struct {
	opts    Options
	log     logger.Logger
	starter Starter
	stat    StatFunc
}

func New(opts Options, log logger.Logger) *Supervisor {
	return NewWithStarter(opts, log, execStarter{}, osStat)
}

// NewWithStarter is New with a custom process starter and file stat
func NewWithStarter(opts Options, log logger.Logger, starter Starter, stat StatFunc) *Supervisor {
	return &Supervisor{
		opts:    opts.normalize(),
		log:     log,
		starter: starter,
		stat:    stat,
	}
}

// Start spawns cmd and returns its job. A spawn failure does not return an error:
// the job is returned already Failed with a single terminal event.
// Cancelling ctx cancels the job.
func (s *Supervisor) Start(ctx context.Context, cmd transcoder.BuiltCommand, outputPath string) (*Job, error) {
	if cmd.Executable() == "" {
		return nil, fmt.Errorf("empty command: %w", transcoder.ErrInvalidParameter)
	}
	if outputPath == "" {
		return nil, fmt.Errorf("output path is empty: %w", transcoder.ErrInvalidParameter)
	}

	job := newJob(uuid.NewString(), cmd, outputPath, s.opts)
	log := s.log.With(logger.String("job_id", job.ID))

	log.Info("starting transcode", logger.Strings("command", cmd.Argv()), logger.String("output", outputPath))

	proc, err := s.starter.Start(cmd, job.output)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) && !errors.Is(err, transcoder.ErrExecutableUnavailable) {
			err = fmt.Errorf("%w: %w", transcoder.ErrExecutableUnavailable, err)
		}
		log.Error("could not start transcoder", logger.Error(err))
		job.finish(transcoder.JobFailed, "could not start "+cmd.Executable()+": "+err.Error(), err)
		return job, nil
	}

	job.setRunning()
	go s.supervise(ctx, job, proc, log)

	return job, nil
}

func (s *Supervisor) supervise(ctx context.Context, job *Job, proc Process, log logger.Logger) {
	exited := make(chan error, 1)
	go func() {
		exited <- proc.Wait()
	}()

	ramp := time.NewTicker(s.opts.RampInterval)
	defer ramp.Stop()

	var waitErr error

rampLoop:
	for {
		select {
		case <-job.cancelCh:
			s.stop(job, proc, exited, log)
			return
		case <-ctx.Done():
			job.Cancel()
			s.stop(job, proc, exited, log)
			return
		case <-ramp.C:
			job.advance()
		case waitErr = <-exited:
			break rampLoop
		}
	}
	ramp.Stop()

	if waitErr != nil {
		failErr := s.exitError(job, waitErr)
		log.Error("transcoder failed", logger.Error(failErr))
		job.finish(transcoder.JobFailed, failErr.Error(), failErr)
		return
	}

	log.Info("transcoder exited, waiting for output to settle")
	job.setFinalizing()
	s.finalize(ctx, job, log)
}

// finalize declares success once the output size stays the same for StablePolls consecutive polls.
// A missing file or a size change starts the count over.
func (s *Supervisor) finalize(ctx context.Context, job *Job, log logger.Logger) {
	poll := time.NewTicker(s.opts.PollInterval)
	defer poll.Stop()

	var (
		last   int64 = -1
		stable int
	)

	for {
		select {
		case <-job.cancelCh:
			job.finish(transcoder.JobCancelled, "cancelled", nil)
			return
		case <-ctx.Done():
			job.Cancel()
			job.finish(transcoder.JobCancelled, "cancelled", nil)
			return
		case <-poll.C:
		}

		size, err := s.stat(job.OutputPath)
		if err != nil {
			log.Debug("output not ready", logger.String("path", job.OutputPath), logger.Error(err))
			last, stable = -1, 0
			continue
		}

		if size == last {
			stable++
		} else {
			last, stable = size, 1
		}

		if stable >= s.opts.StablePolls {
			log.Info("transcode finished", logger.Int64("size", size))
			job.finish(transcoder.JobSucceeded, "completed", nil)
			return
		}
	}
}

// stop terminates the child and escalates to kill after the grace period
func (s *Supervisor) stop(job *Job, proc Process, exited <-chan error, log logger.Logger) {
	log.Info("cancelling transcode")

	if err := proc.Terminate(); err != nil {
		log.Warn("terminate failed", logger.Error(err))
	}

	grace := time.NewTimer(s.opts.KillGrace)
	defer grace.Stop()

	select {
	case <-exited:
	case <-grace.C:
		log.Warn("transcoder ignored termination, killing")
		if err := proc.Kill(); err != nil {
			log.Warn("kill failed", logger.Error(err))
		}
	}

	job.finish(transcoder.JobCancelled, "cancelled", nil)
}

func (s *Supervisor) exitError(job *Job, waitErr error) error {
	var coder ExitCoder
	if errors.As(waitErr, &coder) {
		return &transcoder.ProcessFailedError{
			ExitCode: coder.ExitCode(),
			Output:   job.Output(),
		}
	}
	return fmt.Errorf("%w: %v: %s", transcoder.ErrProcessFailed, waitErr, job.Output())
}
