// Package snapshot implements the Snapshot Engine (§4.B): producing a
// portable git bundle from a local working tree, including any uncommitted
// changes, without dropping remote-tracking refs that downstream lock files
// may pin to.
//
// Grounded on original_source snapshot.py's clone+copy+commit algorithm for
// dirty trees, and repository.go's RunGitCommand/worktree idiom for
// shelling out to the git binary rather than a Go git library.
package snapshot

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/shadowctl/shadow/internal/shadowerr"
)

// Result is the output of one snapshot operation, produced once and
// immutable thereafter.
type Result struct {
	BundlePath      string
	HasUncommitted  bool
	CommitSHA       string
	SizeBytes       int64
}

// explicit refs enumerated into every bundle: local branches, tags, and
// remote-tracking refs, excluding the symbolic refs/remotes/*/HEAD. A naive
// "bundle --all" of the local repository can omit commits that only live on
// a remote-tracking ref a downstream lock file pins to. git bundle does not
// expand bare ref patterns, so each one is passed as a rev-list --glob.
var bundleRefSpecs = []string{
	"--glob=refs/heads/*",
	"--glob=refs/tags/*",
	"--exclude=refs/remotes/*/HEAD",
	"--glob=refs/remotes/*",
}

const (
	snapshotAuthorName  = "Shadow"
	snapshotAuthorEmail = "shadow@localhost"
	snapshotMessage     = "Shadow snapshot: uncommitted changes"
)

// Store creates bundles under a fixed directory layout:
// <dir>/<org>/<name>.bundle.
type Store struct {
	Dir string
}

// NewStore returns a Store rooted at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, shadowerr.Wrap(shadowerr.Internal, "creating snapshot store", err)
	}
	return &Store{Dir: dir}, nil
}

// BundlePath returns the deterministic path a bundle for org/name would be
// stored at, regardless of whether it has been created yet.
func (s *Store) BundlePath(org, name string) string {
	return filepath.Join(s.Dir, org, name+".bundle")
}

// Snapshot produces a complete bundle from localPath, the org/name repo
// coordinates determining its on-disk location.
func (s *Store) Snapshot(ctx context.Context, localPath, org, name string) (*Result, error) {
	gitDir := filepath.Join(localPath, ".git")
	if _, err := os.Stat(gitDir); err != nil {
		return nil, shadowerr.New(shadowerr.InvalidLocalPath, "not a git repository: "+localPath)
	}

	bundlePath := s.BundlePath(org, name)
	if err := os.MkdirAll(filepath.Dir(bundlePath), 0o755); err != nil {
		return nil, shadowerr.Wrap(shadowerr.SnapshotFailed, "creating bundle directory", err)
	}

	// Best-effort fetch of all origin refs before snapshotting: downstream
	// lock files may pin commits reachable only from the remote, not any
	// local branch. Silent on failure since the repo may be origin-less.
	_ = runGit(ctx, localPath, "fetch", "origin", "--tags", "--force",
		"+refs/heads/*:refs/remotes/origin/*")

	dirty, err := hasUncommittedChanges(ctx, localPath)
	if err != nil {
		return nil, shadowerr.Wrap(shadowerr.SnapshotFailed, "checking working tree status", err)
	}

	var commitSHA string
	if dirty {
		commitSHA, err = snapshotDirty(ctx, localPath, bundlePath)
		if err != nil {
			return nil, err
		}
	} else {
		if err := bundleAllRefs(ctx, localPath, bundlePath); err != nil {
			return nil, shadowerr.Wrap(shadowerr.SnapshotFailed, "creating bundle", err)
		}
		commitSHA, err = headSHA(ctx, localPath)
		if err != nil {
			return nil, shadowerr.Wrap(shadowerr.SnapshotFailed, "resolving HEAD", err)
		}
	}

	info, err := os.Stat(bundlePath)
	if err != nil {
		return nil, shadowerr.Wrap(shadowerr.SnapshotFailed, "statting bundle", err)
	}

	return &Result{
		BundlePath:     bundlePath,
		HasUncommitted: dirty,
		CommitSHA:      commitSHA,
		SizeBytes:      info.Size(),
	}, nil
}

// Cleanup removes snapshot bundles. With org set, only that org's bundles
// are removed; otherwise the entire store is wiped and recreated.
// Supplemented from original_source snapshot.py's SnapshotManager.cleanup.
func (s *Store) Cleanup(org string) error {
	if org != "" {
		return os.RemoveAll(filepath.Join(s.Dir, org))
	}
	if err := os.RemoveAll(s.Dir); err != nil {
		return err
	}
	return os.MkdirAll(s.Dir, 0o755)
}

func snapshotDirty(ctx context.Context, localPath, bundlePath string) (string, error) {
	scratch, err := os.MkdirTemp("", "shadow-snapshot-*")
	if err != nil {
		return "", shadowerr.Wrap(shadowerr.SnapshotFailed, "creating scratch directory", err)
	}
	defer os.RemoveAll(scratch)

	clone := filepath.Join(scratch, "repo")
	if err := runGit(ctx, "", "clone", "--quiet", "--no-hardlinks", localPath, clone); err != nil {
		return "", shadowerr.Wrap(shadowerr.SnapshotFailed, "cloning working tree", err)
	}

	// Cloning a local repo reassigns refs/remotes/origin/* to the source's
	// *local* branches, not its remote-tracking refs. Re-materialize the
	// original's remote-tracking refs by explicit fetch so pinned commits
	// stay reachable.
	originRefs, err := listRefs(ctx, localPath, "refs/remotes/origin/")
	if err == nil && len(originRefs) > 0 {
		_ = runGit(ctx, clone, "fetch", localPath,
			"+refs/remotes/origin/*:refs/remotes/origin/*")
	}

	if err := copyWorkingTree(localPath, clone); err != nil {
		return "", shadowerr.Wrap(shadowerr.SnapshotFailed, "copying working tree", err)
	}

	if err := runGit(ctx, clone, "add", "-A"); err != nil {
		return "", shadowerr.Wrap(shadowerr.SnapshotFailed, "staging changes", err)
	}

	env := []string{
		"GIT_AUTHOR_NAME=" + snapshotAuthorName,
		"GIT_AUTHOR_EMAIL=" + snapshotAuthorEmail,
		"GIT_COMMITTER_NAME=" + snapshotAuthorName,
		"GIT_COMMITTER_EMAIL=" + snapshotAuthorEmail,
	}
	if err := runGitEnv(ctx, clone, env, "commit", "--allow-empty", "-m", snapshotMessage,
		"--author", snapshotAuthorName+" <"+snapshotAuthorEmail+">"); err != nil {
		return "", shadowerr.Wrap(shadowerr.SnapshotFailed, "creating snapshot commit", err)
	}

	sha, err := headSHA(ctx, clone)
	if err != nil {
		return "", shadowerr.Wrap(shadowerr.SnapshotFailed, "resolving snapshot commit", err)
	}

	if err := bundleAllRefs(ctx, clone, bundlePath); err != nil {
		return "", shadowerr.Wrap(shadowerr.SnapshotFailed, "creating bundle", err)
	}

	return sha, nil
}

// copyWorkingTree copies all non-.git entries from src over dst, overwriting
// files and replacing directories wholesale. Unstaged *deletions* are
// intentionally NOT reflected: a file removed from the working tree but
// still present in dst's clone stays present in the snapshot. This is a
// documented limitation (§9), not a bug.
func copyWorkingTree(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Name() == ".git" {
			continue
		}
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		if err := os.RemoveAll(dstPath); err != nil {
			return err
		}
		if entry.IsDir() {
			if err := copyTree(srcPath, dstPath); err != nil {
				return err
			}
		} else {
			if err := copyFile(srcPath, dstPath); err != nil {
				return err
			}
		}
	}
	return nil
}

// copyTree recursively copies src to dst, streaming file contents in
// bounded buffers (via copyFile/io.Copy) since working trees can be large.
// Symlinks are recreated as symlinks rather than followed.
func copyTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	}

	if info.IsDir() {
		if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := copyTree(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
				return err
			}
		}
		return nil
	}

	return copyFile(src, dst)
}

// copyFile streams src's contents to dst in bounded buffers via io.Copy.
func copyFile(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func bundleAllRefs(ctx context.Context, repoPath, bundlePath string) error {
	args := append([]string{"bundle", "create", bundlePath}, bundleRefSpecs...)
	return runGit(ctx, repoPath, args...)
}

func hasUncommittedChanges(ctx context.Context, repoPath string) (bool, error) {
	out, err := gitOutput(ctx, repoPath, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

func headSHA(ctx context.Context, repoPath string) (string, error) {
	out, err := gitOutput(ctx, repoPath, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func listRefs(ctx context.Context, repoPath, prefix string) ([]string, error) {
	out, err := gitOutput(ctx, repoPath, "for-each-ref", "--format=%(refname)", prefix)
	if err != nil {
		return nil, err
	}
	var refs []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line != "" {
			refs = append(refs, line)
		}
	}
	return refs, nil
}

func runGit(ctx context.Context, dir string, args ...string) error {
	return runGitEnv(ctx, dir, nil, args...)
}

func runGitEnv(ctx context.Context, dir string, env []string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	if env != nil {
		cmd.Env = append(os.Environ(), env...)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return shadowerr.Wrap(shadowerr.SnapshotFailed, "git "+strings.Join(args, " ")+": "+string(out), err)
	}
	return nil
}

func gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
