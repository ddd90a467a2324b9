package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/shadowctl/shadow/internal/config"
	"github.com/shadowctl/shadow/internal/manager"
	"github.com/shadowctl/shadow/internal/runtime"
)

const defaultExecTimeout = 60 * time.Second

// newManager loads the on-disk config and detects a container backend, the
// bootstrap every tool handler needs.
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

func main() {
	s := server.NewMCPServer(
		"shadow",
		"1.0.0",
	)

	for _, t := range tools {
		s.AddTool(t.Definition, t.Handler)
	}

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}
