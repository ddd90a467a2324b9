// Package spec implements the Repo-Spec Parser (§4.A): canonical repository
// coordinates for a shadow, parsed from the four accepted input shapes.
// Grounded on original_source models.py's RepoSpec.parse/parse_local, ported
// to Go's regexp and generalized to also reject whitespace in identifiers.
package spec

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mitchellh/go-homedir"

	"github.com/shadowctl/shadow/internal/shadowerr"
)

// RepoSpec is the canonical identity of a repository in a shadow.
type RepoSpec struct {
	Org  string
	Name string

	// Ref is an optional branch/tag/commit.
	Ref string

	// LocalPath is set when the spec is a local mapping.
	LocalPath string

	// SnapshotCommit is set by the Snapshot Engine after snapshotting.
	SnapshotCommit string
}

// FullName is "org/name", the forge coordinates used for rewrite rules and
// forge-server organization/repo names.
func (s RepoSpec) FullName() string { return s.Org + "/" + s.Name }

// IsLocal reports whether the spec has a local source.
func (s RepoSpec) IsLocal() bool { return s.LocalPath != "" }

// String renders the spec back in its canonical org/name[@ref] (or
// local-mapping) form, the serialization half of the parser's round-trip
// property (§8): parse(serialize(spec)) == spec.
func (s RepoSpec) String() string {
	tail := s.FullName()
	if s.Ref != "" {
		tail += "@" + s.Ref
	}
	if s.IsLocal() {
		return s.LocalPath + ":" + tail
	}
	return tail
}

var (
	// org/name or org/name@ref. No slashes inside org/name; no whitespace
	// anywhere (whitespace is rejected rather than stripped, per spec).
	simpleRe = regexp.MustCompile(`^([^\s/@]+)/([^\s/@]+)(?:@(\S+))?$`)

	// https://<forge>/org/name[.git][@ref]
	urlRe = regexp.MustCompile(`^https?://[^\s/]+/([^\s/@]+)/([^\s/@.]+)(?:\.git)?(?:@(\S+))?$`)
)

// Parse accepts "org/name", "org/name@ref", and
// "https://<forge>/org/name[.git][@ref]". Any other shape, or one containing
// stripped-relevant whitespace, is rejected with a parse error naming the
// input.
func Parse(raw string) (RepoSpec, error) {
	if raw == "" {
		return RepoSpec{}, shadowerr.New(shadowerr.InvalidInput, "empty repository specification")
	}
	if strings.TrimSpace(raw) != raw {
		return RepoSpec{}, shadowerr.New(shadowerr.InvalidInput, fmt.Sprintf("invalid repository specification (leading/trailing whitespace): %q", raw))
	}

	if m := urlRe.FindStringSubmatch(raw); m != nil {
		return RepoSpec{Org: m[1], Name: m[2], Ref: m[3]}, nil
	}
	if m := simpleRe.FindStringSubmatch(raw); m != nil {
		return RepoSpec{Org: m[1], Name: m[2], Ref: m[3]}, nil
	}

	return RepoSpec{}, shadowerr.New(shadowerr.InvalidInput, fmt.Sprintf("invalid repository specification: %q", raw))
}

// ParseLocal accepts "<local_path>:<org/name>[@ref]". local_path is
// expanded (~ and relative components) and made absolute; it must contain a
// git directory at its top level, otherwise fails with InvalidLocalPath.
func ParseLocal(mapping string) (RepoSpec, error) {
	if strings.TrimSpace(mapping) != mapping || mapping == "" {
		return RepoSpec{}, shadowerr.New(shadowerr.InvalidInput, fmt.Sprintf("invalid local mapping: %q", mapping))
	}

	idx := strings.LastIndex(mapping, ":")
	if idx < 0 {
		return RepoSpec{}, shadowerr.New(shadowerr.InvalidInput,
			fmt.Sprintf("invalid local mapping: %q (expected /path/to/repo:org/name[@ref])", mapping))
	}
	pathPart, specPart := mapping[:idx], mapping[idx+1:]

	expanded, err := homedir.Expand(pathPart)
	if err != nil {
		return RepoSpec{}, shadowerr.Wrap(shadowerr.InvalidLocalPath, "expanding local path", err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return RepoSpec{}, shadowerr.Wrap(shadowerr.InvalidLocalPath, "resolving local path", err)
	}

	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return RepoSpec{}, shadowerr.New(shadowerr.InvalidLocalPath, fmt.Sprintf("not a directory: %s", abs))
	}
	if _, err := os.Stat(filepath.Join(abs, ".git")); err != nil {
		return RepoSpec{}, shadowerr.New(shadowerr.InvalidLocalPath, fmt.Sprintf("not a git repository: %s", abs))
	}

	base, err := Parse(specPart)
	if err != nil {
		return RepoSpec{}, err
	}
	base.LocalPath = abs
	return base, nil
}
