// Package shadowenv implements the Shadow Environment (§4.G): the
// operations exposed for one already-running shadow — exec, batched exec,
// interactive shell handover, workspace diffing against a creation-time
// baseline, and bidirectional file extraction/injection confined to the
// workspace mount.
//
// Grounded on repository.go's writer-streamed git command idiom
// (RunInteractiveGitCommand, io.Writer-based streaming for Log/Diff) for
// exec's streaming semantics, generalized from git subcommands to
// arbitrary in-container commands via internal/runtime.Exec.
package shadowenv

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/shadowctl/shadow/internal/diagnostics"
	"github.com/shadowctl/shadow/internal/runtime"
	"github.com/shadowctl/shadow/internal/shadowerr"
)

// WorkspacePath is the fixed in-container mount point a shadow's source
// tree is bind-mounted to; extract/inject are confined to this subtree.
const WorkspacePath = "/workspace"

// chunkSize bounds the read buffer used when hashing files for the diff
// baseline, so arbitrarily large workspace files are hashed in bounded
// memory rather than read whole.
const chunkSize = 64 * 1024

// Environment exposes the §4.G operations for one live shadow container.
type Environment struct {
	Runtime   runtime.Adapter
	Container string

	// baseline maps workspace-relative path to its content hash, captured
	// once by Baseline() right after create.
	baseline map[string]string
}

// New returns an Environment bound to an already-running container.
func New(rt runtime.Adapter, container string) *Environment {
	return &Environment{Runtime: rt, Container: container}
}

// Exec runs command inside the workspace, propagating the adapter's
// timeout/cancellation semantics.
func (e *Environment) Exec(ctx context.Context, command []string, timeout time.Duration) (diagnostics.ExecResult, error) {
	result, err := e.Runtime.Exec(ctx, e.Container, command, runtime.ExecOptions{
		Workdir: WorkspacePath,
		Timeout: timeout,
	})
	if err != nil {
		return diagnostics.ExecResult{}, err
	}
	return diagnostics.ExecResult{ExitCode: result.ExitCode, Stdout: result.Stdout, Stderr: result.Stderr}, nil
}

// ExecBatch runs commands sequentially. With failFast (the default), it
// stops at the first non-zero exit and records its index; otherwise it
// runs every command and reports aggregate success.
func (e *Environment) ExecBatch(ctx context.Context, commands [][]string, timeout time.Duration, failFast bool) (diagnostics.BatchResult, error) {
	result := diagnostics.BatchResult{Success: true}

	for i, command := range commands {
		step, err := e.Exec(ctx, command, timeout)
		if err != nil {
			return result, err
		}
		result.Steps = append(result.Steps, diagnostics.BatchStep{
			Command:    strings.Join(command, " "),
			ExecResult: step,
		})
		if step.ExitCode != 0 {
			result.Success = false
			if failFast {
				failedAt := i
				result.FailedAt = &failedAt
				return result, nil
			}
		}
	}
	return result, nil
}

// Shell hands the terminal over to an interactive shell inside the
// container. It replaces the calling process and does not return on
// success.
func (e *Environment) Shell(shell string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return shadowerr.New(shadowerr.InvalidInput, "shell() requires an interactive terminal")
	}
	if shell == "" {
		shell = "bash"
	}
	return e.Runtime.ExecInteractive(e.Container, shell, WorkspacePath)
}

// IsRunning delegates to the adapter.
func (e *Environment) IsRunning(ctx context.Context) (bool, error) {
	return e.Runtime.IsRunning(ctx, e.Container)
}

// Baseline hashes every file under the host-visible workspace mount path,
// keyed by workspace-relative path, and stores it for later Diff calls.
// Called once, immediately after create, while the host mount is already
// populated from the snapshot.
func (e *Environment) Baseline(hostWorkspacePath string) error {
	hashes, err := hashTree(hostWorkspacePath, hostWorkspacePath)
	if err != nil {
		return shadowerr.Wrap(shadowerr.Internal, "computing diff baseline", err)
	}
	e.baseline = hashes
	return nil
}

// Diff compares the current workspace against the stored baseline,
// optionally filtered to a subtree, classifying every path into
// added/modified/deleted.
func (e *Environment) Diff(hostWorkspacePath, subtree string) ([]diagnostics.ChangedFile, error) {
	if e.baseline == nil {
		return nil, shadowerr.New(shadowerr.Internal, "diff called before baseline was captured")
	}

	current, err := hashTree(hostWorkspacePath, hostWorkspacePath)
	if err != nil {
		return nil, shadowerr.Wrap(shadowerr.Internal, "hashing current workspace", err)
	}

	var changes []diagnostics.ChangedFile
	for path, hash := range current {
		if subtree != "" && !underSubtree(path, subtree) {
			continue
		}
		if baseHash, ok := e.baseline[path]; !ok {
			changes = append(changes, diagnostics.ChangedFile{Path: path, ChangeType: diagnostics.Added})
		} else if baseHash != hash {
			changes = append(changes, diagnostics.ChangedFile{Path: path, ChangeType: diagnostics.Modified})
		}
	}
	for path := range e.baseline {
		if subtree != "" && !underSubtree(path, subtree) {
			continue
		}
		if _, ok := current[path]; !ok {
			changes = append(changes, diagnostics.ChangedFile{Path: path, ChangeType: diagnostics.Deleted})
		}
	}
	return changes, nil
}

func underSubtree(path, subtree string) bool {
	return path == subtree || strings.HasPrefix(path, strings.TrimSuffix(subtree, "/")+"/")
}

// Extract copies containerPath (which must lie within the workspace mount)
// from the host-visible bind mount to hostPath, recursively for
// directories, and returns the total file bytes written.
func (e *Environment) Extract(hostWorkspacePath, containerPath, hostPath string) (int64, error) {
	relPath, err := workspaceRelative(containerPath)
	if err != nil {
		return 0, err
	}
	src := filepath.Join(hostWorkspacePath, relPath)

	info, err := os.Stat(src)
	if err != nil {
		return 0, shadowerr.New(shadowerr.NotFound, "source not found: "+containerPath)
	}

	if info.IsDir() {
		return copyTreeCounting(src, hostPath)
	}
	return copyFileCounting(src, hostPath)
}

// Inject copies hostPath to containerPath (which must lie within the
// workspace mount), recursively for directories, creating parent
// directories as needed.
func (e *Environment) Inject(hostWorkspacePath, hostPath, containerPath string) (int64, error) {
	relPath, err := workspaceRelative(containerPath)
	if err != nil {
		return 0, err
	}
	dst := filepath.Join(hostWorkspacePath, relPath)

	info, err := os.Stat(hostPath)
	if err != nil {
		return 0, shadowerr.New(shadowerr.NotFound, "source not found: "+hostPath)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, shadowerr.Wrap(shadowerr.Internal, "creating destination parents", err)
	}

	if info.IsDir() {
		return copyTreeCounting(hostPath, dst)
	}
	return copyFileCounting(hostPath, dst)
}

// workspaceRelative validates containerPath lies within WorkspacePath and
// returns its relative component, or an InvalidInput error whose "kind"
// detail is InvalidContainerPath.
func workspaceRelative(containerPath string) (string, error) {
	cleaned := filepath.Clean(containerPath)
	if cleaned != WorkspacePath && !strings.HasPrefix(cleaned, WorkspacePath+"/") {
		return "", shadowerr.New(shadowerr.InvalidInput, "path outside workspace mount: "+containerPath).
			WithDetail("kind", "InvalidContainerPath")
	}
	rel := strings.TrimPrefix(cleaned, WorkspacePath)
	return strings.TrimPrefix(rel, "/"), nil
}

func hashTree(root, base string) (map[string]string, error) {
	hashes := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		hash, err := hashFile(path, base)
		if err != nil {
			return err
		}
		hashes[rel] = hash
		return nil
	})
	return hashes, err
}

// hashFile streams path's content through SHA-256 in bounded chunks. A
// symlink whose target resolves inside treeRoot is followed and its target
// content is hashed in its place, so edits made through an in-workspace
// symlink still change the baseline; a symlink that escapes treeRoot is
// hashed as its opaque link text instead, since following it would read
// content outside the workspace mount.
func hashFile(path, treeRoot string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return "", err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return "", err
		}

		resolved := target
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(filepath.Dir(path), resolved)
		}
		resolved = filepath.Clean(resolved)

		if withinTree(resolved, treeRoot) {
			if targetInfo, err := os.Stat(resolved); err == nil && !targetInfo.IsDir() {
				return hashFile(resolved, treeRoot)
			}
		}

		h := sha256.New()
		h.Write([]byte("symlink:" + target))
		return hex.EncodeToString(h.Sum(nil)), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, bufio.NewReader(f), buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// withinTree reports whether resolved lies within treeRoot (or is treeRoot
// itself), both assumed already filepath.Clean-ed.
func withinTree(resolved, treeRoot string) bool {
	if resolved == treeRoot {
		return true
	}
	return strings.HasPrefix(resolved, treeRoot+string(filepath.Separator))
}

func copyFileCounting(src, dst string) (int64, error) {
	info, err := os.Lstat(src)
	if err != nil {
		return 0, err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return 0, err
		}
		return 0, os.Symlink(target, dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return 0, err
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return n, err
	}
	return n, out.Close()
}

func copyTreeCounting(src, dst string) (int64, error) {
	var total int64
	err := filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm())
		}

		n, err := copyFileCounting(path, target)
		total += n
		return err
	})
	return total, err
}
