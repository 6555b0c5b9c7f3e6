package supervisor

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"gitlab.com/transcodeuz/media-engine/tools/transcoder"
)

// Process is a started child
type Process interface {
	// Wait blocks until the child exits. A non-zero exit is reported as *exec.ExitError or as an ExitCoder.
	Wait() error
	Terminate() error
	Kill() error
}

// ExitCoder is implemented by wait errors that carry an exit code
type ExitCoder interface {
	ExitCode() int
}

// Starter spawns a child writing stdout and stderr into output
type Starter interface {
	Start(cmd transcoder.BuiltCommand, output io.Writer) (Process, error)
}

// StatFunc returns the size of the file at path
type StatFunc func(path string) (int64, error)

func osStat(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

type execStarter struct{}

func (execStarter) Start(cmd transcoder.BuiltCommand, output io.Writer) (Process, error) {
	c := exec.Command(cmd.Executable(), cmd.Args()...)
	c.Stdout = output
	c.Stderr = output

	if err := c.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", transcoder.ErrExecutableUnavailable, err)
		}
		return nil, err
	}

	return &execProcess{cmd: c}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}

func (p *execProcess) Terminate() error {
	// no SIGINT on windows
	if runtime.GOOS == "windows" {
		return p.cmd.Process.Kill()
	}
	return p.cmd.Process.Signal(os.Interrupt)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	if limit <= 0 {
		limit = 8 << 10
	}
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
