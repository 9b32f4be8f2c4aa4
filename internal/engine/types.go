package engine

import (
	"context"
	"time"
)

type ExecSpec struct {
	Bin     string
	Args    []string
	Dir     string
	Timeout time.Duration
}

type ExecResult struct {
	ExitCode    int
	Duration    time.Duration
	Interrupted bool
	TimedOut    bool
	StdoutTail  string
	StderrTail  string
	Err         error
}

type ExecRunner interface {
	Run(ctx context.Context, spec ExecSpec) ExecResult
}

// DaemonSpec describes an aria2c process started for the duration of a run.
type DaemonSpec struct {
	Bin       string
	Port      int
	Secret    string
	ExtraArgs []string
}
