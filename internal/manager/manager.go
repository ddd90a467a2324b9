// Package manager implements the Shadow Manager (§4.H): the on-disk store
// at <home>/environments/<shadow_id>/, an in-process cache of live
// environments, and the ordered all-or-nothing create sequence that wires
// together every other component.
//
// Grounded on repository.go's Create/Get/Info/List/Delete shape and its
// petname-based id generation (petname.Generate(2, "-")), and on
// fslock.go/lock.go's per-operation process locking idea, generalized here
// from an O_EXCL-based hand-rolled lock to github.com/gofrs/flock.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/shadowctl/shadow/internal/config"
	"github.com/shadowctl/shadow/internal/diagnostics"
	"github.com/shadowctl/shadow/internal/forge"
	"github.com/shadowctl/shadow/internal/image"
	"github.com/shadowctl/shadow/internal/rewrite"
	"github.com/shadowctl/shadow/internal/runtime"
	"github.com/shadowctl/shadow/internal/shadowenv"
	"github.com/shadowctl/shadow/internal/shadowerr"
	"github.com/shadowctl/shadow/internal/snapshot"
	"github.com/shadowctl/shadow/internal/spec"
)

// maxConcurrentOrchestrations bounds how many shadows DestroyAll destroys
// at once, keeping container engine load sane.
const maxConcurrentOrchestrations = 4

const metadataFileName = "metadata.json"

// alwaysOnEnvVars are passed to every shadow container regardless of the
// caller's requested env, carrying no secret values into metadata.json.
var alwaysOnEnvVars = []string{"TZ", "LANG"}

// Handle is a live, in-process shadow: its metadata plus the collaborators
// needed to operate on it.
type Handle struct {
	Info diagnostics.ShadowInfo
	Env  *shadowenv.Environment
}

// Manager owns every shadow's lifecycle.
type Manager struct {
	cfg     *config.Config
	runtime runtime.Adapter

	mu    sync.Mutex
	cache map[string]*Handle
}

// New returns a Manager bound to cfg's home directory and rt as the
// container backend.
func New(cfg *config.Config, rt runtime.Adapter) *Manager {
	return &Manager{cfg: cfg, runtime: rt, cache: map[string]*Handle{}}
}

// CreateOptions configures one create call.
type CreateOptions struct {
	Name    string
	Sources []string // raw local-path:org/name[@ref] mappings
	ImageTag string
	Env     map[string]string
}

// Create runs the nine-step ordered, all-or-nothing sequence of §4.H.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*Handle, error) {
	shadowID := opts.Name
	if shadowID == "" {
		shadowID = petname.Generate(2, "-")
	}
	containerName := "shadow-" + shadowID

	shadowDir := m.cfg.ShadowDir(shadowID)
	if _, err := os.Stat(shadowDir); err == nil {
		return nil, shadowerr.New(shadowerr.AlreadyExists, "shadow already exists: "+shadowID)
	}
	if exists, _ := m.runtime.Exists(ctx, containerName); exists {
		return nil, shadowerr.New(shadowerr.AlreadyExists, "container already exists: "+containerName)
	}

	lock, err := acquireLock(m.cfg, shadowID)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	workspaceDir := filepath.Join(shadowDir, "workspace")
	snapshotsDir := filepath.Join(shadowDir, "snapshots")
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return nil, shadowerr.Wrap(shadowerr.Internal, "creating workspace directory", err)
	}
	if err := os.MkdirAll(snapshotsDir, 0o755); err != nil {
		os.RemoveAll(shadowDir)
		return nil, shadowerr.Wrap(shadowerr.Internal, "creating snapshots directory", err)
	}

	specs := make([]spec.RepoSpec, 0, len(opts.Sources))
	for _, mapping := range opts.Sources {
		s, err := spec.ParseLocal(mapping)
		if err != nil {
			os.RemoveAll(shadowDir)
			return nil, err
		}
		specs = append(specs, s)
	}

	store, err := snapshot.NewStore(snapshotsDir)
	if err != nil {
		os.RemoveAll(shadowDir)
		return nil, err
	}
	for i, s := range specs {
		result, err := store.Snapshot(ctx, s.LocalPath, s.Org, s.Name)
		if err != nil {
			os.RemoveAll(shadowDir)
			return nil, err
		}
		specs[i].SnapshotCommit = result.CommitSHA
	}

	imageTag := opts.ImageTag
	if imageTag == "" {
		imageTag = m.cfg.ImageTag
	}
	builder := image.NewBuilder(m.runtime.Name())
	if _, err := builder.EnsureImage(ctx, imageTag, nil); err != nil {
		os.RemoveAll(shadowDir)
		return nil, shadowerr.Wrap(shadowerr.ImageUnavailable, "ensuring shadow image", err)
	}

	mounts := []runtime.Mount{
		{HostPath: snapshotsDir, ContainerPath: "/snapshots", ReadOnly: true},
		{HostPath: workspaceDir, ContainerPath: shadowenv.WorkspacePath, ReadOnly: false},
	}
	env := passthroughEnv(opts.Env)
	limits := runtime.Limits{MemoryBytes: m.cfg.MemoryLimitBytes, PidsLimit: m.cfg.PidsLimit}

	if _, err := m.runtime.Run(ctx, imageTag, containerName, mounts, env, limits); err != nil {
		os.RemoveAll(shadowDir)
		return nil, err
	}

	if err := m.provisionAndFinalize(ctx, shadowID, containerName, imageTag, specs, snapshotsDir, workspaceDir, opts.Env); err != nil {
		_ = m.runtime.Remove(ctx, containerName, true)
		os.RemoveAll(shadowDir)
		return nil, err
	}

	handle := m.cache[shadowID]
	return handle, nil
}

// provisionAndFinalize performs steps 6-8 of create: forge readiness and
// push, rewrite installation, metadata persistence, baseline capture, and
// cache insertion. Any failure here triggers the caller's step-9 rollback.
func (m *Manager) provisionAndFinalize(
	ctx context.Context,
	shadowID, containerName, imageTag string,
	specs []spec.RepoSpec,
	snapshotsDir, workspaceDir string,
	requestedEnv map[string]string,
) error {
	forgeClient := forge.NewClient(m.runtime, containerName)
	if err := forgeClient.WaitReady(ctx, 30*time.Second); err != nil {
		return err
	}

	for _, s := range specs {
		bundlePath := fmt.Sprintf("/snapshots/%s/%s.bundle", s.Org, s.Name)
		if err := forgeClient.SetupRepoFromBundle(ctx, s.Org, s.Name, bundlePath); err != nil {
			return err
		}
	}

	installer := rewrite.NewInstaller(m.runtime, containerName)
	var rules []rewrite.Rule
	for _, s := range specs {
		rules = append(rules, rewrite.Rules("github.com", s.Org, s.Name, forge.DefaultUsername, forge.DefaultPassword)...)
	}
	if len(rules) > 0 {
		if err := installer.Install(ctx, rules); err != nil {
			return err
		}
	}

	sources := make([]diagnostics.SourceInfo, 0, len(specs))
	for _, s := range specs {
		sources = append(sources, diagnostics.SourceInfo{
			Repo:           s.FullName(),
			LocalPath:      s.LocalPath,
			Ref:            s.Ref,
			SnapshotCommit: s.SnapshotCommit,
		})
	}

	info := diagnostics.ShadowInfo{
		ShadowID:      shadowID,
		ContainerName: containerName,
		Sources:       sources,
		CreatedAt:     time.Now(),
		Status:        diagnostics.StatusReady,
		ImageTag:      imageTag,
		EnvVarsPassed: envNames(requestedEnv),
		ShadowDir:     m.cfg.ShadowDir(shadowID),
	}

	if err := writeMetadata(m.cfg.ShadowDir(shadowID), info); err != nil {
		return err
	}

	shadowEnv := shadowenv.New(m.runtime, containerName)
	if err := shadowEnv.Baseline(workspaceDir); err != nil {
		return err
	}

	m.mu.Lock()
	m.cache[shadowID] = &Handle{Info: info, Env: shadowEnv}
	m.mu.Unlock()

	return nil
}

// AddSource adds a new local source to an existing shadow. Fails if the
// spec is already present.
func (m *Manager) AddSource(ctx context.Context, shadowID, mapping string) error {
	return m.addOrSync(ctx, shadowID, mapping, false)
}

// SyncSource adds a new source, or re-snapshots and force-pushes an
// existing one, then reinstalls that source's rewrite rules, which clears
// dependency-tool caches. A dependency-tool process already running inside
// the container can still hold the old state; the next invocation observes
// the new bundle.
func (m *Manager) SyncSource(ctx context.Context, shadowID, mapping string) error {
	return m.addOrSync(ctx, shadowID, mapping, true)
}

func (m *Manager) addOrSync(ctx context.Context, shadowID, mapping string, sync bool) error {
	handle, err := m.Get(ctx, shadowID)
	if err != nil {
		return err
	}

	s, err := spec.ParseLocal(mapping)
	if err != nil {
		return err
	}

	existing := false
	for _, existingSource := range handle.Info.Sources {
		if existingSource.Repo == s.FullName() {
			existing = true
			break
		}
	}
	if existing && !sync {
		return shadowerr.New(shadowerr.AlreadyExists, "source already present: "+s.FullName())
	}

	snapshotsDir := filepath.Join(m.cfg.ShadowDir(shadowID), "snapshots")
	store, err := snapshot.NewStore(snapshotsDir)
	if err != nil {
		return err
	}
	result, err := store.Snapshot(ctx, s.LocalPath, s.Org, s.Name)
	if err != nil {
		return err
	}
	s.SnapshotCommit = result.CommitSHA

	forgeClient := forge.NewClient(m.runtime, handle.Info.ContainerName)
	bundlePath := fmt.Sprintf("/snapshots/%s/%s.bundle", s.Org, s.Name)
	if err := forgeClient.SetupRepoFromBundle(ctx, s.Org, s.Name, bundlePath); err != nil {
		return err
	}

	if sync {
		installer := rewrite.NewInstaller(m.runtime, handle.Info.ContainerName)
		rules := rewrite.Rules("github.com", s.Org, s.Name, forge.DefaultUsername, forge.DefaultPassword)
		if err := installer.Install(ctx, rules); err != nil {
			return err
		}
	}

	if existing {
		for i, existingSource := range handle.Info.Sources {
			if existingSource.Repo == s.FullName() {
				handle.Info.Sources[i].SnapshotCommit = s.SnapshotCommit
			}
		}
	} else {
		handle.Info.Sources = append(handle.Info.Sources, diagnostics.SourceInfo{
			Repo: s.FullName(), LocalPath: s.LocalPath, Ref: s.Ref, SnapshotCommit: s.SnapshotCommit,
		})
	}

	return writeMetadata(m.cfg.ShadowDir(shadowID), handle.Info)
}

// RemoveSource drops repoName ("org/name") from shadowID: deletes its forge
// repository and its metadata entry, then purges that org's snapshot
// bundles via Store.Cleanup once no remaining source of the shadow still
// references that org. Unlike Destroy, which removes an entire shadow
// wholesale, this is the narrower per-source operation §4.B's org-scoped
// Cleanup exists for.
func (m *Manager) RemoveSource(ctx context.Context, shadowID, repoName string) error {
	handle, err := m.Get(ctx, shadowID)
	if err != nil {
		return err
	}

	s, err := spec.Parse(repoName)
	if err != nil {
		return err
	}

	idx := -1
	for i, existing := range handle.Info.Sources {
		if existing.Repo == s.FullName() {
			idx = i
			break
		}
	}
	if idx == -1 {
		return shadowerr.New(shadowerr.NotFound, "source not present: "+s.FullName())
	}

	forgeClient := forge.NewClient(m.runtime, handle.Info.ContainerName)
	if err := forgeClient.DeleteRepo(ctx, s.Org, s.Name); err != nil {
		return err
	}

	handle.Info.Sources = append(handle.Info.Sources[:idx], handle.Info.Sources[idx+1:]...)

	orgStillUsed := false
	for _, existing := range handle.Info.Sources {
		if strings.HasPrefix(existing.Repo, s.Org+"/") {
			orgStillUsed = true
			break
		}
	}
	if !orgStillUsed {
		snapshotsDir := filepath.Join(m.cfg.ShadowDir(shadowID), "snapshots")
		store, err := snapshot.NewStore(snapshotsDir)
		if err != nil {
			return err
		}
		if err := store.Cleanup(s.Org); err != nil {
			return shadowerr.Wrap(shadowerr.Internal, "purging snapshot bundles for "+s.Org, err)
		}
	}

	return writeMetadata(m.cfg.ShadowDir(shadowID), handle.Info)
}

// Get returns a shadow's handle, loading it from disk on a cache miss.
func (m *Manager) Get(ctx context.Context, shadowID string) (*Handle, error) {
	m.mu.Lock()
	if handle, ok := m.cache[shadowID]; ok {
		m.mu.Unlock()
		return handle, nil
	}
	m.mu.Unlock()

	shadowDir := m.cfg.ShadowDir(shadowID)
	info, err := readMetadata(shadowDir)
	if err != nil {
		return nil, shadowerr.New(shadowerr.NotFound, "shadow not found: "+shadowID)
	}
	info.Status = diagnostics.StatusReady

	shadowEnv := shadowenv.New(m.runtime, info.ContainerName)
	handle := &Handle{Info: info, Env: shadowEnv}

	m.mu.Lock()
	m.cache[shadowID] = handle
	m.mu.Unlock()

	return handle, nil
}

// Destroy force-removes a shadow's container, evicts it from the cache,
// and deletes its host directory. A missing container or directory is not
// an error.
func (m *Manager) Destroy(ctx context.Context, shadowID string, force bool) error {
	// A missing shadow (unknown id, no metadata on disk) is not an error:
	// destroy is idempotent by design. Only other failures respect force.
	containerName := "shadow-" + shadowID
	if handle, err := m.Get(ctx, shadowID); err == nil {
		containerName = handle.Info.ContainerName
	}

	if exists, _ := m.runtime.Exists(ctx, containerName); exists {
		if err := m.runtime.Remove(ctx, containerName, true); err != nil && !force {
			return shadowerr.Wrap(shadowerr.Internal, "removing container", err)
		}
	}

	m.mu.Lock()
	delete(m.cache, shadowID)
	m.mu.Unlock()

	if err := os.RemoveAll(m.cfg.ShadowDir(shadowID)); err != nil && !force {
		return shadowerr.Wrap(shadowerr.Internal, "removing shadow directory", err)
	}
	return nil
}

// DestroyAll destroys every known shadow, tolerating individual failures
// when force is set. Concurrency is bounded by a semaphore shared across
// the fan-out so engine load stays sane.
func (m *Manager) DestroyAll(ctx context.Context, force bool) (int, error) {
	ids, err := m.listShadowIDs()
	if err != nil {
		return 0, err
	}

	sem := semaphore.NewWeighted(maxConcurrentOrchestrations)
	group, groupCtx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	count := 0

	for _, id := range ids {
		id := id
		group.Go(func() error {
			if err := sem.Acquire(groupCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			if err := m.Destroy(groupCtx, id, force); err != nil {
				if force {
					return nil
				}
				return err
			}
			mu.Lock()
			count++
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return count, err
	}
	return count, nil
}

// List returns every known shadow's persisted metadata, for the `list`
// operation (§6).
func (m *Manager) List(ctx context.Context) ([]diagnostics.ShadowInfo, error) {
	ids, err := m.listShadowIDs()
	if err != nil {
		return nil, err
	}
	infos := make([]diagnostics.ShadowInfo, 0, len(ids))
	for _, id := range ids {
		handle, err := m.Get(ctx, id)
		if err != nil {
			continue
		}
		infos = append(infos, handle.Info)
	}
	return infos, nil
}

func (m *Manager) listShadowIDs() ([]string, error) {
	entries, err := os.ReadDir(m.cfg.EnvironmentsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, shadowerr.Wrap(shadowerr.Internal, "listing shadows", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

func writeMetadata(shadowDir string, info diagnostics.ShadowInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return shadowerr.Wrap(shadowerr.Internal, "encoding metadata", err)
	}
	if err := os.WriteFile(filepath.Join(shadowDir, metadataFileName), data, 0o644); err != nil {
		return shadowerr.Wrap(shadowerr.Internal, "writing metadata", err)
	}
	return nil
}

func readMetadata(shadowDir string) (diagnostics.ShadowInfo, error) {
	data, err := os.ReadFile(filepath.Join(shadowDir, metadataFileName))
	if err != nil {
		return diagnostics.ShadowInfo{}, err
	}
	var info diagnostics.ShadowInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return diagnostics.ShadowInfo{}, shadowerr.Wrap(shadowerr.Internal, "decoding metadata", err)
	}
	return info, nil
}

func passthroughEnv(requested map[string]string) []string {
	var out []string
	for _, name := range alwaysOnEnvVars {
		if v, ok := os.LookupEnv(name); ok {
			out = append(out, name+"="+v)
		}
	}
	for _, name := range config.AutoPassthroughVars {
		if v, ok := os.LookupEnv(name); ok {
			out = append(out, name+"="+v)
		}
	}
	for k, v := range requested {
		out = append(out, k+"="+v)
	}
	return out
}

func envNames(requested map[string]string) []string {
	var names []string
	for _, name := range alwaysOnEnvVars {
		if _, ok := os.LookupEnv(name); ok {
			names = append(names, name)
		}
	}
	for _, name := range config.AutoPassthroughVars {
		if _, ok := os.LookupEnv(name); ok {
			names = append(names, name)
		}
	}
	for k := range requested {
		names = append(names, k)
	}
	return names
}

// acquireLock takes a per-shadow process-level advisory lock, generalizing
// repository/fslock.go's per-operation RepositoryLock to gofrs/flock.
func acquireLock(cfg *config.Config, shadowID string) (*flock.Flock, error) {
	lockDir := filepath.Join(os.TempDir(), "shadow-locks")
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, shadowerr.Wrap(shadowerr.Internal, "creating lock directory", err)
	}
	lockPath := filepath.Join(lockDir, uuid.NewSHA1(uuid.NameSpaceURL, []byte(shadowID)).String()+".lock")

	lock := flock.New(lockPath)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, shadowerr.Wrap(shadowerr.Internal, "acquiring shadow lock", err)
	}
	if !locked {
		return nil, shadowerr.New(shadowerr.AlreadyExists, "shadow operation already in progress: "+shadowID)
	}
	return lock, nil
}
