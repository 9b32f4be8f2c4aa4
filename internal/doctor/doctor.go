package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jaa/ariadl/internal/auth"
	"github.com/jaa/ariadl/internal/config"
	"github.com/jaa/ariadl/internal/engine"
	"github.com/jaa/ariadl/internal/rpc"
)

// MinDaemonVersion is the oldest aria2 release with WebSocket JSON-RPC and
// system.multicall support this tool relies on.
const MinDaemonVersion = "1.19.0"

const (
	versionTimeout = 10 * time.Second
	probeTimeout   = 3 * time.Second
)

type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

type Check struct {
	Severity Severity `json:"severity"`
	Name     string   `json:"name"`
	Message  string   `json:"message"`
}

type Report struct {
	Checks []Check `json:"checks"`
}

func (r Report) HasErrors() bool {
	return r.ErrorCount() > 0
}

func (r Report) ErrorCount() int {
	count := 0
	for _, check := range r.Checks {
		if check.Severity == SeverityError {
			count++
		}
	}
	return count
}

func (r *Report) add(severity Severity, name string, format string, args ...any) {
	r.Checks = append(r.Checks, Check{Severity: severity, Name: name, Message: fmt.Sprintf(format, args...)})
}

type Checker struct {
	LookPath      func(string) (string, error)
	ReadVersion   func(context.Context, string) (string, error)
	CheckWritable func(string) error
	Probe         func(context.Context, string) error
	ResolveSecret func() (string, error)
	WorkingDir    string
	// KnownBad maps daemon versions to the reason they are rejected.
	KnownBad map[string]string
}

func NewChecker() *Checker {
	return &Checker{
		LookPath:      exec.LookPath,
		ReadVersion:   defaultReadVersion,
		CheckWritable: checkDirWritable,
		Probe:         defaultProbe,
		ResolveSecret: auth.ResolveRPCSecret,
		KnownBad:      map[string]string{},
	}
}

func (c *Checker) Check(ctx context.Context, cfg config.Config) Report {
	report := Report{Checks: []Check{}}

	var validationErr *config.ValidationError
	if err := config.Validate(cfg); errors.As(err, &validationErr) {
		for _, problem := range validationErr.Problems {
			report.add(SeverityError, "config", "%s", problem)
		}
	} else {
		report.add(SeverityInfo, "config", "config is valid")
	}

	c.checkBinary(ctx, cfg.Daemon, &report)
	c.checkDownloadDir(cfg.Download, &report)
	c.checkEndpoint(ctx, cfg.Daemon, &report)
	c.checkSecret(&report)

	return report
}

func (c *Checker) checkSecret(report *Report) {
	if c.ResolveSecret == nil {
		return
	}
	_, err := c.ResolveSecret()
	switch {
	case err == nil:
		report.add(SeverityInfo, "auth", "rpc secret configured")
	case errors.Is(err, auth.ErrRPCSecretNotFound):
		report.add(SeverityInfo, "auth", "no rpc secret configured (set %s if the daemon uses --rpc-secret)", auth.EnvRPCSecret)
	default:
		report.add(SeverityWarn, "auth", "resolve rpc secret: %v", err)
	}
}

func (c *Checker) checkBinary(ctx context.Context, daemon config.Daemon, report *Report) {
	binary := strings.TrimSpace(daemon.Binary)
	if binary == "" {
		binary = config.DefaultBinary
	}

	// a remote daemon does not need a local binary
	missing := SeverityWarn
	if daemon.Spawn {
		missing = SeverityError
	}

	location, err := c.LookPath(binary)
	if err != nil {
		report.add(missing, "dependency", "%s not found in PATH", binary)
		return
	}
	report.add(SeverityInfo, "dependency", "%s found at %s", binary, location)

	output, err := c.ReadVersion(ctx, location)
	if err != nil {
		report.add(SeverityWarn, "dependency", "%s version could not be read: %v", binary, err)
		return
	}
	version, err := extractVersion(output)
	if err != nil {
		report.add(SeverityWarn, "dependency", "%s version output is unrecognized: %q", binary, strings.TrimSpace(output))
		return
	}

	if compareVersions(version, MinDaemonVersion) < 0 {
		report.add(missing, "dependency", "%s version %s is below minimum %s", binary, version, MinDaemonVersion)
		return
	}
	if reason, bad := c.KnownBad[version]; bad {
		message := fmt.Sprintf("%s version %s is known to be incompatible", binary, version)
		if strings.TrimSpace(reason) != "" {
			message += ": " + reason
		}
		report.add(missing, "dependency", "%s", message)
		return
	}
	report.add(SeverityInfo, "dependency", "%s version %s is compatible", binary, version)
}

func (c *Checker) checkDownloadDir(download config.Download, report *Report) {
	cwd := c.WorkingDir
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			report.add(SeverityError, "filesystem", "resolve working directory: %v", err)
			return
		}
		cwd = wd
	}

	dir, err := config.ResolveDir(download.Dir, cwd)
	if err != nil {
		report.add(SeverityError, "filesystem", "download.dir is invalid: %v", err)
		return
	}
	if err := c.CheckWritable(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			report.add(SeverityWarn, "filesystem", "download directory %s does not exist yet; aria2 will create it", dir)
			return
		}
		report.add(SeverityError, "filesystem", "download directory %s is not writable: %v", dir, err)
		return
	}
	report.add(SeverityInfo, "filesystem", "download directory %s is writable", dir)
}

func (c *Checker) checkEndpoint(ctx context.Context, daemon config.Daemon, report *Report) {
	endpoint := daemon.Endpoint()
	if daemon.Spawn {
		report.add(SeverityInfo, "daemon", "daemon will be started on %s", endpoint)
		return
	}
	if c.Probe == nil {
		return
	}
	if err := c.Probe(ctx, endpoint); err != nil {
		report.add(SeverityWarn, "daemon", "no daemon answering at %s: %v", endpoint, err)
		return
	}
	report.add(SeverityInfo, "daemon", "daemon reachable at %s", endpoint)
}

func defaultReadVersion(ctx context.Context, binary string) (string, error) {
	result := engine.NewSubprocessRunner(nil, nil).Run(ctx, engine.ExecSpec{
		Bin:     binary,
		Args:    []string{"--version"},
		Timeout: versionTimeout,
	})
	if result.Err != nil {
		return "", result.Err
	}
	return result.StdoutTail, nil
}

func defaultProbe(ctx context.Context, endpoint string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	conn, err := rpc.WebSocketDialer(endpoint)(ctx)
	if err != nil {
		return err
	}
	return conn.Close()
}

func checkDirWritable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}

	file, err := os.CreateTemp(path, ".ariadl-write-check-*")
	if err != nil {
		return err
	}
	name := file.Name()
	_ = file.Close()
	_ = os.Remove(name)
	return nil
}

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)

func extractVersion(raw string) (string, error) {
	matches := versionPattern.FindStringSubmatch(raw)
	if len(matches) != 4 {
		return "", fmt.Errorf("no semantic version found")
	}
	return fmt.Sprintf("%s.%s.%s", matches[1], matches[2], matches[3]), nil
}

func compareVersions(lhs string, rhs string) int {
	leftParts := strings.Split(lhs, ".")
	rightParts := strings.Split(rhs, ".")
	for i := 0; i < 3; i++ {
		leftValue := 0
		rightValue := 0
		if i < len(leftParts) {
			leftValue, _ = strconv.Atoi(leftParts[i])
		}
		if i < len(rightParts) {
			rightValue, _ = strconv.Atoi(rightParts[i])
		}
		if leftValue > rightValue {
			return 1
		}
		if leftValue < rightValue {
			return -1
		}
	}
	return 0
}
