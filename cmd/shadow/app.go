package main

import (
	"github.com/shadowctl/shadow/internal/config"
	"github.com/shadowctl/shadow/internal/manager"
	"github.com/shadowctl/shadow/internal/runtime"
)

// newManager loads the on-disk config and detects a container backend,
// the bootstrap every subcommand needs except `build-image` and the no-id
// form of `preflight`, which load the config themselves.
func newManager() (*manager.Manager, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	rt, err := runtime.Detect()
	if err != nil {
		return nil, nil, err
	}
	return manager.New(cfg, rt), cfg, nil
}

