package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestSubprocessRunnerCapturesOutputAndExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell test is POSIX-specific")
	}

	var stdout bytes.Buffer
	runner := NewSubprocessRunner(&stdout, nil)
	result := runner.Run(context.Background(), ExecSpec{
		Bin:  "sh",
		Args: []string{"-c", "echo 'aria2 version 1.37.0'; echo oops >&2; exit 3"},
		Dir:  ".",
	})

	if result.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", result.ExitCode)
	}
	if strings.TrimSpace(stdout.String()) != "aria2 version 1.37.0" {
		t.Fatalf("expected stdout passthrough, got %q", stdout.String())
	}
	if strings.TrimSpace(result.StderrTail) != "oops" {
		t.Fatalf("expected stderr tail, got %q", result.StderrTail)
	}
}

func TestSubprocessRunnerTimesOut(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell test is POSIX-specific")
	}

	start := time.Now()
	result := NewSubprocessRunner(nil, nil).Run(context.Background(), ExecSpec{
		Bin:     "sh",
		Args:    []string{"-c", "sleep 5"},
		Timeout: 100 * time.Millisecond,
	})
	if !result.TimedOut {
		t.Fatalf("expected timeout, got %+v", result)
	}
	if time.Since(start) >= 4*time.Second {
		t.Fatalf("expected process to be killed early")
	}
}

func TestSubprocessRunnerMissingBinary(t *testing.T) {
	result := NewSubprocessRunner(nil, nil).Run(context.Background(), ExecSpec{})
	if result.ExitCode != 1 || result.Err == nil {
		t.Fatalf("expected missing binary failure, got %+v", result)
	}
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	tail := newTailBuffer(5)
	_, _ = tail.Write([]byte("abc"))
	_, _ = tail.Write([]byte("defg"))
	if got := tail.String(); got != "cdefg" {
		t.Fatalf("unexpected tail %q", got)
	}
	_, _ = tail.Write([]byte("0123456789"))
	if got := tail.String(); got != "56789" {
		t.Fatalf("unexpected tail %q", got)
	}
}

func TestDaemonArgs(t *testing.T) {
	got := DaemonArgs(DaemonSpec{Bin: "aria2c", Port: 6800, ExtraArgs: []string{"--quiet=true"}})
	want := []string{"--enable-rpc", "--rpc-listen-port=6800", "--quiet=true"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected args. got=%v want=%v", got, want)
	}

	got = DaemonArgs(DaemonSpec{Bin: "aria2c", Port: 6801, Secret: "s3cret"})
	want = []string{"--enable-rpc", "--rpc-listen-port=6801", "--rpc-secret=s3cret"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected args with secret. got=%v want=%v", got, want)
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aria2c")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestDaemonStopKillsLingeringProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell test is POSIX-specific")
	}

	bin := writeScript(t, "echo \"args: $*\"\nsleep 30\n")
	d, err := DaemonLauncher{}.Start(context.Background(), DaemonSpec{Bin: bin, Port: 6811})
	if err != nil {
		t.Fatalf("start daemon: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(d.Tail(), "--rpc-listen-port=6811") {
		if time.Now().After(deadline) {
			t.Fatalf("daemon output never arrived, tail=%q", d.Tail())
		}
		time.Sleep(10 * time.Millisecond)
	}

	start := time.Now()
	if err := d.Stop(50 * time.Millisecond); err != nil {
		t.Fatalf("stop daemon: %v", err)
	}
	if time.Since(start) >= 5*time.Second {
		t.Fatalf("expected stop to kill the process group promptly")
	}
	select {
	case <-d.Exited():
	default:
		t.Fatalf("expected daemon to be reaped")
	}
}

func TestDaemonStopReportsFailedExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell test is POSIX-specific")
	}

	bin := writeScript(t, "echo 'port in use' >&2\nexit 1\n")
	d, err := DaemonLauncher{}.Start(context.Background(), DaemonSpec{Bin: bin, Port: 6812})
	if err != nil {
		t.Fatalf("start daemon: %v", err)
	}
	<-d.Exited()

	err = d.Stop(time.Second)
	if !errors.Is(err, ErrDaemonExited) {
		t.Fatalf("expected ErrDaemonExited, got %v", err)
	}
	if !strings.Contains(d.Tail(), "port in use") {
		t.Fatalf("expected stderr in tail, got %q", d.Tail())
	}
}

func TestDaemonStartMissingBinary(t *testing.T) {
	_, err := DaemonLauncher{}.Start(context.Background(), DaemonSpec{Bin: filepath.Join(t.TempDir(), "nope"), Port: 6800})
	if err == nil {
		t.Fatalf("expected start error for missing binary")
	}
}
