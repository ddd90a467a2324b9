// Package config holds the process-wide defaults for the shadow lifecycle
// engine: the on-disk home directory, the security floor applied to every
// container run, and the fixed list of API-key variable names that are
// auto-passed through to shadows. There is no other process-wide state
// (the home directory is always injected at manager construction, mirroring
// repository.OpenWithBasePath's constructor-injected base path).
package config

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"

	"github.com/shadowctl/shadow/internal/image"
)

const defaultHomeDirName = ".shadow"

// Security floor applied to every container the runtime adapter starts.
const (
	DefaultMemoryLimitBytes = 4 << 30 // 4GiB
	DefaultPidsLimit        = 512
)

// AutoPassthroughVars is the fixed, documented list of API-key variable
// *names* copied from the caller's environment into the shadow container at
// create time, if present. Not extensible through implicit pattern
// expansion (§6) — callers needing other variables pass them explicitly.
var AutoPassthroughVars = []string{
	"ANTHROPIC_API_KEY",
	"OPENAI_API_KEY",
	"GEMINI_API_KEY",
	"GITHUB_TOKEN",
	"GH_TOKEN",
}

// RequiredContainerTools is the enumerated set of binaries the environment
// preflight (§4.I) checks for inside a running shadow container, beyond the
// forge/rewrite checks that already cover git indirectly.
var RequiredContainerTools = []string{"git", "curl", "bash"}

// Config is the injectable set of process-wide defaults. The zero value is
// not valid; use Default() or Load().
type Config struct {
	// Home is the root of the on-disk shadow store, default ~/.shadow.
	Home string

	// ForgeUser/ForgePassword are the credentials baked into the shadow
	// base image's embedded forge admin account (grounded on
	// original_source gitea.py's "shadow"/"shadow" default).
	ForgeUser     string
	ForgePassword string

	// ImageTag is the default shadow base image tag the Image Builder
	// ensures exists before container start.
	ImageTag string

	// MemoryLimitBytes / PidsLimit are the security-floor resource bounds
	// applied to every container run (§4.C); 0 means "use the package
	// default".
	MemoryLimitBytes int64
	PidsLimit        int64
}

// fileOverride is the shape of the optional ~/.shadow/config.toml file.
type fileOverride struct {
	Home             string `toml:"home"`
	ForgeUser        string `toml:"forge_user"`
	ForgePassword    string `toml:"forge_password"`
	ImageTag         string `toml:"image_tag"`
	MemoryLimitBytes int64  `toml:"memory_limit_bytes"`
	PidsLimit        int64  `toml:"pids_limit"`
}

// Default returns the baseline configuration before any on-disk override is
// applied.
func Default() (*Config, error) {
	home, err := homedir.Expand(filepath.Join("~", defaultHomeDirName))
	if err != nil {
		return nil, err
	}
	return &Config{
		Home:             home,
		ForgeUser:        "shadow",
		ForgePassword:    "shadow",
		ImageTag:         image.DefaultTag,
		MemoryLimitBytes: DefaultMemoryLimitBytes,
		PidsLimit:        DefaultPidsLimit,
	}, nil
}

// Load returns Default() merged with ~/.shadow/config.toml, if present.
// A missing override file is not an error.
func Load() (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	overridePath := filepath.Join(cfg.Home, "config.toml")
	data, err := os.ReadFile(overridePath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	var o fileOverride
	if err := toml.Unmarshal(data, &o); err != nil {
		return nil, err
	}

	if o.Home != "" {
		expanded, err := homedir.Expand(o.Home)
		if err != nil {
			return nil, err
		}
		cfg.Home = expanded
	}
	if o.ForgeUser != "" {
		cfg.ForgeUser = o.ForgeUser
	}
	if o.ForgePassword != "" {
		cfg.ForgePassword = o.ForgePassword
	}
	if o.ImageTag != "" {
		cfg.ImageTag = o.ImageTag
	}
	if o.MemoryLimitBytes != 0 {
		cfg.MemoryLimitBytes = o.MemoryLimitBytes
	}
	if o.PidsLimit != 0 {
		cfg.PidsLimit = o.PidsLimit
	}

	return cfg, nil
}

// EnvironmentsDir is <home>/environments.
func (c *Config) EnvironmentsDir() string {
	return filepath.Join(c.Home, "environments")
}

// ShadowDir is <home>/environments/<shadow_id>.
func (c *Config) ShadowDir(shadowID string) string {
	return filepath.Join(c.EnvironmentsDir(), shadowID)
}
