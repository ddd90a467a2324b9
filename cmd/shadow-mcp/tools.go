package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/shadowctl/shadow/internal/diagnostics"
	"github.com/shadowctl/shadow/internal/manager"
)

// Tool pairs a declared mcp.Tool with its handler.
type Tool struct {
	Definition mcp.Tool
	Handler    server.ToolHandlerFunc
}

var tools []*Tool

func registerTool(t ...*Tool) {
	tools = append(tools, t...)
}

var explanationArg = mcp.WithString("explanation",
	mcp.Description("One sentence explanation for why this operation is being run."),
)

var shadowIDArg = mcp.WithString("shadow_id",
	mcp.Description("The id of the shadow to operate on."),
	mcp.Required(),
)

func init() {
	registerTool(
		shadowCreateTool,
		shadowAddSourceTool,
		shadowSyncSourceTool,
		shadowRemoveSourceTool,
		shadowExecTool,
		shadowListTool,
		shadowStatusTool,
		shadowDiffTool,
		shadowDestroyTool,
	)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}

var shadowCreateTool = &Tool{
	Definition: mcp.NewTool("shadow_create",
		mcp.WithDescription("Provision a new shadow environment mirroring one or more local source repositories, including uncommitted changes."),
		explanationArg,
		mcp.WithString("name",
			mcp.Description("Shadow id to use. A petname is generated if omitted."),
		),
		mcp.WithArray("sources",
			mcp.Description(`local_path:org/name[@ref] mappings, one per source repository.`),
			mcp.Items(map[string]any{"type": "string"}),
			mcp.Required(),
		),
	),
	Handler: func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		mgr, _, err := newManager()
		if err != nil {
			return mcp.NewToolResultErrorFromErr("failed to initialize manager", err), nil
		}

		rawSources, ok := request.GetArguments()["sources"].([]any)
		if !ok || len(rawSources) == 0 {
			return nil, fmt.Errorf("sources must be a non-empty array of strings")
		}
		sources := make([]string, len(rawSources))
		for i, s := range rawSources {
			str, ok := s.(string)
			if !ok {
				return nil, fmt.Errorf("sources[%d] must be a string", i)
			}
			sources[i] = str
		}

		handle, err := mgr.Create(ctx, manager.CreateOptions{
			Name:    request.GetString("name", ""),
			Sources: sources,
		})
		if err != nil {
			return mcp.NewToolResultErrorFromErr("failed to create shadow", err), nil
		}

		return jsonResult(handle.Info)
	},
}

var shadowAddSourceTool = &Tool{
	Definition: mcp.NewTool("shadow_add_source",
		mcp.WithDescription("Add a new local source to an existing shadow. Fails if the mapping's org/name is already present."),
		explanationArg,
		shadowIDArg,
		mcp.WithString("mapping",
			mcp.Description("local_path:org/name[@ref] mapping."),
			mcp.Required(),
		),
	),
	Handler: func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		mgr, _, err := newManager()
		if err != nil {
			return mcp.NewToolResultErrorFromErr("failed to initialize manager", err), nil
		}
		shadowID, err := request.RequireString("shadow_id")
		if err != nil {
			return nil, err
		}
		mapping, err := request.RequireString("mapping")
		if err != nil {
			return nil, err
		}
		if err := mgr.AddSource(ctx, shadowID, mapping); err != nil {
			return mcp.NewToolResultErrorFromErr("failed to add source", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("%s: added %s", shadowID, mapping)), nil
	},
}

var shadowSyncSourceTool = &Tool{
	Definition: mcp.NewTool("shadow_sync_source",
		mcp.WithDescription("Re-snapshot and force-push a source, or add it if new. Unlike shadow_add_source, this always succeeds."),
		explanationArg,
		shadowIDArg,
		mcp.WithString("mapping",
			mcp.Description("local_path:org/name[@ref] mapping."),
			mcp.Required(),
		),
	),
	Handler: func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		mgr, _, err := newManager()
		if err != nil {
			return mcp.NewToolResultErrorFromErr("failed to initialize manager", err), nil
		}
		shadowID, err := request.RequireString("shadow_id")
		if err != nil {
			return nil, err
		}
		mapping, err := request.RequireString("mapping")
		if err != nil {
			return nil, err
		}
		if err := mgr.SyncSource(ctx, shadowID, mapping); err != nil {
			return mcp.NewToolResultErrorFromErr("failed to sync source", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("%s: synced %s", shadowID, mapping)), nil
	},
}

var shadowRemoveSourceTool = &Tool{
	Definition: mcp.NewTool("shadow_remove_source",
		mcp.WithDescription("Remove a source from a shadow: deletes its forge repository and, once no other source in the shadow still references that org, purges that org's snapshot bundles."),
		explanationArg,
		shadowIDArg,
		mcp.WithString("repo",
			mcp.Description("org/name of the source to remove."),
			mcp.Required(),
		),
	),
	Handler: func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		mgr, _, err := newManager()
		if err != nil {
			return mcp.NewToolResultErrorFromErr("failed to initialize manager", err), nil
		}
		shadowID, err := request.RequireString("shadow_id")
		if err != nil {
			return nil, err
		}
		repo, err := request.RequireString("repo")
		if err != nil {
			return nil, err
		}
		if err := mgr.RemoveSource(ctx, shadowID, repo); err != nil {
			return mcp.NewToolResultErrorFromErr("failed to remove source", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("%s: removed %s", shadowID, repo)), nil
	},
}

var shadowExecTool = &Tool{
	Definition: mcp.NewTool("shadow_exec",
		mcp.WithDescription("Run a command inside a shadow's workspace and return its exit code, stdout, and stderr."),
		explanationArg,
		shadowIDArg,
		mcp.WithArray("command",
			mcp.Description("Argv to execute, e.g. [\"go\", \"test\", \"./...\"]."),
			mcp.Items(map[string]any{"type": "string"}),
			mcp.Required(),
		),
	),
	Handler: func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		mgr, _, err := newManager()
		if err != nil {
			return mcp.NewToolResultErrorFromErr("failed to initialize manager", err), nil
		}
		shadowID, err := request.RequireString("shadow_id")
		if err != nil {
			return nil, err
		}
		rawCommand, ok := request.GetArguments()["command"].([]any)
		if !ok || len(rawCommand) == 0 {
			return nil, fmt.Errorf("command must be a non-empty array of strings")
		}
		command := make([]string, len(rawCommand))
		for i, c := range rawCommand {
			str, ok := c.(string)
			if !ok {
				return nil, fmt.Errorf("command[%d] must be a string", i)
			}
			command[i] = str
		}

		handle, err := mgr.Get(ctx, shadowID)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("shadow not found", err), nil
		}

		result, err := handle.Env.Exec(ctx, command, defaultExecTimeout)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("failed to run command", err), nil
		}
		return jsonResult(result)
	},
}

var shadowListTool = &Tool{
	Definition: mcp.NewTool("shadow_list",
		mcp.WithDescription("List every known shadow and its recorded metadata."),
		explanationArg,
	),
	Handler: func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		mgr, _, err := newManager()
		if err != nil {
			return mcp.NewToolResultErrorFromErr("failed to initialize manager", err), nil
		}
		shadows, err := mgr.List(ctx)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("failed to list shadows", err), nil
		}
		return jsonResult(shadows)
	},
}

var shadowStatusTool = &Tool{
	Definition: mcp.NewTool("shadow_status",
		mcp.WithDescription("Show one shadow's recorded metadata."),
		explanationArg,
		shadowIDArg,
	),
	Handler: func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		mgr, _, err := newManager()
		if err != nil {
			return mcp.NewToolResultErrorFromErr("failed to initialize manager", err), nil
		}
		shadowID, err := request.RequireString("shadow_id")
		if err != nil {
			return nil, err
		}
		handle, err := mgr.Get(ctx, shadowID)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("shadow not found", err), nil
		}
		return jsonResult(handle.Info)
	},
}

var shadowDiffTool = &Tool{
	Definition: mcp.NewTool("shadow_diff",
		mcp.WithDescription("List files changed in a shadow's workspace since its creation baseline."),
		explanationArg,
		shadowIDArg,
		mcp.WithString("subtree",
			mcp.Description("Limit the diff to paths under this workspace-relative subtree."),
		),
	),
	Handler: func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		mgr, _, err := newManager()
		if err != nil {
			return mcp.NewToolResultErrorFromErr("failed to initialize manager", err), nil
		}
		shadowID, err := request.RequireString("shadow_id")
		if err != nil {
			return nil, err
		}
		handle, err := mgr.Get(ctx, shadowID)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("shadow not found", err), nil
		}
		workspaceDir := workspaceDirFor(handle.Info)
		changes, err := handle.Env.Diff(workspaceDir, request.GetString("subtree", ""))
		if err != nil {
			return mcp.NewToolResultErrorFromErr("failed to diff", err), nil
		}
		return jsonResult(changes)
	},
}

var shadowDestroyTool = &Tool{
	Definition: mcp.NewTool("shadow_destroy",
		mcp.WithDescription("Destroy a shadow and its resources. Idempotent: a missing shadow is not an error."),
		explanationArg,
		shadowIDArg,
	),
	Handler: func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		mgr, _, err := newManager()
		if err != nil {
			return mcp.NewToolResultErrorFromErr("failed to initialize manager", err), nil
		}
		shadowID, err := request.RequireString("shadow_id")
		if err != nil {
			return nil, err
		}
		if err := mgr.Destroy(ctx, shadowID, false); err != nil {
			return mcp.NewToolResultErrorFromErr("failed to destroy shadow", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("%s destroyed", shadowID)), nil
	},
}

func workspaceDirFor(info diagnostics.ShadowInfo) string {
	return info.ShadowDir + "/workspace"
}
