package relay

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// DefaultStopTimeout bounds how long Process.Stop waits before killing the child.
const DefaultStopTimeout = 2 * time.Second

// ProcessOptions configures a relay server child process.
type ProcessOptions struct {
	// Executable is the deepdbg binary; defaults to the running executable.
	Executable string

	// Channel is the launcher queue socket path.
	Channel string

	// ExtraArgs are appended after the channel, e.g. logging flags.
	ExtraArgs []string

	// StopTimeout bounds the graceful shutdown in Stop.
	StopTimeout time.Duration

	// DialTimeout bounds how long the stop message may take to deliver.
	DialTimeout time.Duration
}

// Process is a `deepdbg relay serve` child whose stdout carries the
// forwarded hook messages.
type Process struct {
	opts   ProcessOptions
	cmd    *exec.Cmd
	stdout *streamReader
	log    logr.Logger

	done     chan struct{}
	waitErr  error
	stopOnce sync.Once
	stopErr  error
}

// StartProcess starts a relay server child for opts.Channel.
func StartProcess(opts ProcessOptions, log logr.Logger) (*Process, error) {
	if opts.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate deepdbg executable: %w", err)
		}
		opts.Executable = exe
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}

	args := append([]string{"relay", "serve", opts.Channel}, opts.ExtraArgs...)
	cmd := exec.Command(opts.Executable, args...)
	cmd.Stderr = os.Stderr
	setProcAttr(cmd)

	// The pipe is ours rather than exec's so that Wait, which runs as soon
	// as the child exits, cannot close it while messages are still unread.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	cmd.Stdout = pw

	err = cmd.Start()
	pw.Close()
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("failed to start relay server: %w", err)
	}
	stdout := &streamReader{f: pr}

	p := &Process{
		opts:   opts,
		cmd:    cmd,
		stdout: stdout,
		log:    log.WithName("relay-process").WithValues("queue", opts.Channel, "pid", cmd.Process.Pid),
		done:   make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	p.log.V(1).Info("Relay server started")
	return p, nil
}

// Channel returns the launcher queue socket path.
func (p *Process) Channel() string {
	return p.opts.Channel
}

// Output returns the stream of forwarded hook messages. It ends with io.EOF
// once the child has exited and everything it wrote has been read.
func (p *Process) Output() io.Reader {
	return p.stdout
}

// Done is closed when the child has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Stop asks the child to exit and kills it when it does not within the
// stop timeout. Calling Stop more than once returns the first result.
func (p *Process) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.stopErr = p.stop(ctx)
	})
	return p.stopErr
}

func (p *Process) stop(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	if err := Stop(ctx, p.opts.Channel, p.opts.DialTimeout); err != nil {
		p.log.Error(err, "Failed to send stop message")
	}

	timer := time.NewTimer(p.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-p.done:
		p.log.V(1).Info("Relay server exited")
		return nil
	case <-ctx.Done():
	case <-timer.C:
	}

	p.log.Info("Relay server did not exit, killing it")
	if err := killProcessGroup(p.cmd.Process.Pid, p.cmd); err != nil {
		return err
	}
	<-p.done
	return nil
}

// streamReader closes the read end of the pipe once it is drained.
type streamReader struct {
	f    *os.File
	once sync.Once
}

func (r *streamReader) Read(b []byte) (int, error) {
	n, err := r.f.Read(b)
	if err != nil {
		r.once.Do(func() { _ = r.f.Close() })
	}
	return n, err
}
