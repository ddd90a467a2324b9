// Package runtime implements the Container Runtime Adapter (§4.C): a
// uniform surface over two equivalent local container engines, podman
// (preferred, rootless) and docker (fallback), selected by probing for
// their executables. Neither backend's command-line surface leaks above
// this package (grounded on cmd/container-use/diagnostics.go's pattern of
// shelling out to `docker` for status checks, generalized here into a
// two-backend adapter rather than wrapping dagger.io/dagger — see
// DESIGN.md for why the Dagger SDK does not fit this component).
package runtime

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/shadowctl/shadow/internal/shadowerr"
)

// execPIDMarker prefixes the line an exec'd command's wrapper shell prints
// before exec-ing into the real command.
const execPIDMarker = "SHADOW_EXEC_PID:"

// execGracePeriod is how long Exec waits after sending SIGTERM into the
// container before escalating to SIGKILL. Cancelling runCtx only tears down
// the host-side exec client process; it does not by itself reach the
// process tree living inside the container's PID namespace, so that tree
// needs its own signal delivered through a second exec call.
const execGracePeriod = 5 * time.Second

// Mount is a host-to-container bind mount.
type Mount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// Limits bounds a container's resource consumption, the security floor
// applied to every Run (§4.C).
type Limits struct {
	MemoryBytes int64
	PidsLimit   int64
}

// ExecOptions configures one Exec call.
type ExecOptions struct {
	Workdir string
	Env     []string
	Timeout time.Duration
}

// Adapter is the minimal surface every backend implements.
type Adapter interface {
	// Name identifies the backend ("podman" or "docker").
	Name() string

	// Run starts a detached container and returns its id. Privileged mode
	// may never be requested by callers; the security floor (dropped
	// capabilities, no-new-privileges, memory/pids limits) is applied
	// unconditionally.
	Run(ctx context.Context, image, name string, mounts []Mount, env []string, limits Limits) (string, error)

	// Exec runs command inside the named container's workspace.
	Exec(ctx context.Context, container string, command []string, opts ExecOptions) (ExecResult, error)

	// ExecInteractive replaces the calling process with an interactive
	// shell inside the container. Does not return on success.
	ExecInteractive(container, shell, workdir string) error

	Stop(ctx context.Context, container string) error
	Remove(ctx context.Context, container string, force bool) error
	Exists(ctx context.Context, container string) (bool, error)
	IsRunning(ctx context.Context, container string) (bool, error)
	Logs(ctx context.Context, container string, tail int) (string, error)
}

// ExecResult is the trio returned by Exec.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (r ExecResult) Success() bool { return r.ExitCode == 0 }

// Detect probes for the preferred (podman) and fallback (docker)
// executables and returns the first usable adapter. Callers that need to
// know whether *either* is usable should use Probe instead.
func Detect() (Adapter, error) {
	if path, err := exec.LookPath("podman"); err == nil {
		return &cliAdapter{binary: path, name: "podman"}, nil
	}
	if path, err := exec.LookPath("docker"); err == nil {
		return &cliAdapter{binary: path, name: "docker"}, nil
	}
	return nil, shadowerr.New(shadowerr.ContainerRuntimeUnavailable,
		"neither podman nor docker executable found on PATH")
}

// Probe reports which backends are present and reachable, without
// preferring one — used by preflight (§4.I) to build its diagnostic report.
type ProbeResult struct {
	Name        string
	Present     bool
	DaemonReachable bool
}

func Probe() []ProbeResult {
	results := make([]ProbeResult, 0, 2)
	for _, name := range []string{"podman", "docker"} {
		pr := ProbeResult{Name: name}
		if path, err := exec.LookPath(name); err == nil {
			pr.Present = true
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			cmd := exec.CommandContext(ctx, path, "info")
			err := cmd.Run()
			cancel()
			pr.DaemonReachable = err == nil
		}
		results = append(results, pr)
	}
	return results
}

// cliAdapter implements Adapter by shelling out to a CLI binary compatible
// with both podman and docker's command surface.
type cliAdapter struct {
	binary string
	name   string
}

func (a *cliAdapter) Name() string { return a.name }

func (a *cliAdapter) Run(ctx context.Context, image, name string, mounts []Mount, env []string, limits Limits) (string, error) {
	args := []string{"run", "--detach", "--name", name,
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
	}

	mem := limits.MemoryBytes
	if mem <= 0 {
		mem = 4 << 30
	}
	pids := limits.PidsLimit
	if pids <= 0 {
		pids = 512
	}
	args = append(args, "--memory", fmt.Sprintf("%d", mem), "--pids-limit", fmt.Sprintf("%d", pids))

	for _, m := range mounts {
		spec := fmt.Sprintf("%s:%s", m.HostPath, m.ContainerPath)
		if m.ReadOnly {
			spec += ":ro"
		}
		args = append(args, "-v", spec)
	}
	for _, e := range env {
		args = append(args, "-e", e)
	}
	args = append(args, image, "sleep", "infinity")

	out, err := a.run(ctx, args...)
	if err != nil {
		return "", shadowerr.Wrap(shadowerr.ContainerStartFailed, "starting container "+name, fmt.Errorf("%s: %w", out, err))
	}
	return strings.TrimSpace(out), nil
}

func (a *cliAdapter) Exec(ctx context.Context, container string, command []string, opts ExecOptions) (ExecResult, error) {
	args := []string{"exec"}
	if opts.Workdir != "" {
		args = append(args, "--workdir", opts.Workdir)
	}
	for _, e := range opts.Env {
		args = append(args, "-e", e)
	}
	args = append(args, container)
	args = append(args, wrapWithPIDMarker(command)...)

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, a.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return ExecResult{}, shadowerr.Wrap(shadowerr.Internal, "attaching exec output", err)
	}

	if err := cmd.Start(); err != nil {
		return ExecResult{}, shadowerr.Wrap(shadowerr.Internal, "exec failed to start", err)
	}

	reader := bufio.NewReader(stdoutPipe)
	pidLine, readErr := reader.ReadString('\n')
	pid := strings.TrimPrefix(strings.TrimSpace(pidLine), execPIDMarker)

	var stdout bytes.Buffer
	copyDone := make(chan struct{})
	go func() {
		io.Copy(&stdout, reader)
		close(copyDone)
	}()

	done := make(chan struct{})
	killDone := make(chan struct{})
	go a.killOnCancel(runCtx, container, pid, done, killDone)

	err = cmd.Wait()
	close(done)
	<-killDone
	<-copyDone

	if runCtx.Err() == context.DeadlineExceeded {
		return ExecResult{}, shadowerr.New(shadowerr.Timeout, "exec exceeded wall-clock timeout")
	}
	if runCtx.Err() == context.Canceled {
		return ExecResult{}, shadowerr.New(shadowerr.Cancelled, "exec cancelled")
	}
	if readErr != nil && err == nil {
		return ExecResult{}, shadowerr.Wrap(shadowerr.Internal, "reading exec pid marker", readErr)
	}

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return ExecResult{}, shadowerr.Wrap(shadowerr.Internal, "exec failed to start", err)
		}
	}

	return ExecResult{ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// wrapWithPIDMarker prefixes command with a shell that prints its own pid
// before exec-ing into the real command. exec() preserves pid across the
// image replacement, so the printed pid stays valid for signaling the real
// command once it's running, even though it is never visible as a distinct
// process from the host.
func wrapWithPIDMarker(command []string) []string {
	script := "echo " + execPIDMarker + "$$; exec \"$@\""
	wrapped := []string{"sh", "-c", script, "sh"}
	return append(wrapped, command...)
}

// killOnCancel waits for either normal completion (done closed by the
// caller once cmd.Wait returns) or runCtx's cancellation/timeout. On
// cancellation it sends SIGTERM to pid inside the container, waits
// execGracePeriod, then escalates to SIGKILL if the command still hasn't
// exited. Both the process group (negative pid) and the plain pid are
// targeted so forked children are reaped along with the top-level process.
func (a *cliAdapter) killOnCancel(runCtx context.Context, container, pid string, done, killDone chan struct{}) {
	defer close(killDone)
	select {
	case <-done:
		return
	case <-runCtx.Done():
	}

	a.signalContainerPID(container, pid, "TERM")

	select {
	case <-done:
		return
	case <-time.After(execGracePeriod):
	}

	a.signalContainerPID(container, pid, "KILL")
	<-done
}

// signalContainerPID runs a second exec into container to deliver signal to
// pid, since the adapter's own exec client process exiting on ctx
// cancellation does not reach the container's PID namespace.
func (a *cliAdapter) signalContainerPID(container, pid, signal string) {
	if pid == "" {
		return
	}
	script := fmt.Sprintf("kill -%s -%s 2>/dev/null; kill -%s %s 2>/dev/null", signal, pid, signal, pid)
	a.run(context.Background(), "exec", container, "sh", "-c", script)
}

func (a *cliAdapter) ExecInteractive(container, shell, workdir string) error {
	args := []string{"exec", "-it"}
	if workdir != "" {
		args = append(args, "--workdir", workdir)
	}
	args = append(args, container, shell)

	binary, err := exec.LookPath(a.binary)
	if err != nil {
		return shadowerr.Wrap(shadowerr.ContainerRuntimeUnavailable, "locating "+a.name, err)
	}
	fullArgs := append([]string{binary}, args...)
	return syscall.Exec(binary, fullArgs, os.Environ())
}

func (a *cliAdapter) Stop(ctx context.Context, container string) error {
	_, err := a.run(ctx, "stop", container)
	return err
}

func (a *cliAdapter) Remove(ctx context.Context, container string, force bool) error {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, container)
	_, err := a.run(ctx, args...)
	return err
}

func (a *cliAdapter) Exists(ctx context.Context, container string) (bool, error) {
	out, err := a.run(ctx, "inspect", "--format", "{{.Id}}", container)
	if err != nil {
		return false, nil
	}
	return strings.TrimSpace(out) != "", nil
}

func (a *cliAdapter) IsRunning(ctx context.Context, container string) (bool, error) {
	out, err := a.run(ctx, "inspect", "--format", "{{.State.Running}}", container)
	if err != nil {
		return false, shadowerr.New(shadowerr.ContainerNotRunning, "container not found: "+container)
	}
	return strings.TrimSpace(out) == "true", nil
}

func (a *cliAdapter) Logs(ctx context.Context, container string, tail int) (string, error) {
	args := []string{"logs"}
	if tail > 0 {
		args = append(args, "--tail", fmt.Sprintf("%d", tail))
	}
	args = append(args, container)
	return a.run(ctx, args...)
}

func (a *cliAdapter) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, a.binary, args...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}
