package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/jaa/ariadl/internal/output"
)

var ErrDaemonExited = errors.New("download daemon exited")

// daemonKillDelay is how long an interrupted daemon may take to exit before
// it is killed.
const daemonKillDelay = 3 * time.Second

// DaemonArgs is the aria2c command line for spec: RPC enabled on the given
// port, followed by the configured extra arguments.
func DaemonArgs(spec DaemonSpec) []string {
	args := []string{
		"--enable-rpc",
		"--rpc-listen-port=" + strconv.Itoa(spec.Port),
	}
	if spec.Secret != "" {
		args = append(args, "--rpc-secret="+spec.Secret)
	}
	return append(args, spec.ExtraArgs...)
}

type DaemonLauncher struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *output.Logger
}

// Daemon is a running aria2c child process.
type Daemon struct {
	cmd    *exec.Cmd
	logger *output.Logger
	stdout *tailBuffer
	stderr *tailBuffer
	exited chan struct{}

	mu      sync.Mutex
	waitErr error
	stopped bool
}

// Start launches the daemon in its own process group. Cancelling ctx
// interrupts the group and kills it if it lingers.
func (l DaemonLauncher) Start(ctx context.Context, spec DaemonSpec) (*Daemon, error) {
	if spec.Bin == "" {
		return nil, errors.New("missing daemon binary")
	}

	cmd := exec.CommandContext(ctx, spec.Bin, DaemonArgs(spec)...)
	startInOwnGroup(cmd)
	cmd.Cancel = func() error {
		return interruptGroup(cmd)
	}
	cmd.WaitDelay = daemonKillDelay

	d := &Daemon{
		cmd:    cmd,
		logger: l.Logger,
		stdout: newTailBuffer(tailSize),
		stderr: newTailBuffer(tailSize),
		exited: make(chan struct{}),
	}
	cmd.Stdout = teeWriter(l.Stdout, d.stdout)
	cmd.Stderr = teeWriter(l.Stderr, d.stderr)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Bin, err)
	}
	l.Logger.Event(output.LevelInfo, output.EventDaemonStarted,
		fmt.Sprintf("started %s (pid %d) on port %d", spec.Bin, cmd.Process.Pid, spec.Port),
		map[string]any{"pid": cmd.Process.Pid, "port": spec.Port, "bin": spec.Bin})

	go func() {
		err := cmd.Wait()
		d.mu.Lock()
		d.waitErr = err
		d.mu.Unlock()
		close(d.exited)
	}()
	return d, nil
}

func (d *Daemon) Pid() int {
	return d.cmd.Process.Pid
}

// Exited is closed once the process has been reaped.
func (d *Daemon) Exited() <-chan struct{} {
	return d.exited
}

// Stop waits up to grace for the daemon to exit on its own (after an RPC
// shutdown it normally does), then interrupts its process group and, after
// another grace period, kills it. It returns the process exit error unless
// the daemon was stopped here.
func (d *Daemon) Stop(grace time.Duration) error {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	killed := false
	select {
	case <-d.exited:
	case <-timer.C:
		d.logger.Warn("download daemon did not exit within %s, interrupting it", grace)
		if err := interruptGroup(d.cmd); err != nil {
			d.logger.Debug("interrupt download daemon: %v", err)
		}
		killed = true
		timer.Reset(grace)
		select {
		case <-d.exited:
		case <-timer.C:
			d.logger.Warn("download daemon ignored the interrupt, killing it")
			killGroup(d.cmd)
			<-d.exited
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil
	}
	d.stopped = true
	d.logger.Event(output.LevelInfo, output.EventDaemonStopped, "download daemon stopped",
		map[string]any{"pid": d.cmd.Process.Pid, "killed": killed})
	if killed || d.waitErr == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrDaemonExited, d.waitErr)
}

// Tail returns the last captured output, stderr first.
func (d *Daemon) Tail() string {
	stderr := d.stderr.String()
	stdout := d.stdout.String()
	switch {
	case stderr == "":
		return stdout
	case stdout == "":
		return stderr
	default:
		return stderr + "\n" + stdout
	}
}
