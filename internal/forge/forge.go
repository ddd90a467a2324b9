// Package forge implements the Forge Client (§4.E): the embedded local
// forge is reachable only from inside the shadow container, so every
// operation here is a curl invocation run through the Container Runtime
// Adapter's Exec, never a host-side HTTP client.
//
// Grounded directly on original_source gitea.py's GiteaClient: same
// base URL, same shadow:shadow default credentials, same
// wait_ready/create_org/create_repo/push_bundle/setup_repo_from_bundle
// operation set, ported from asyncio polling to a blocking time.Ticker
// loop.
package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shadowctl/shadow/internal/runtime"
	"github.com/shadowctl/shadow/internal/shadowerr"
)

const (
	// DefaultBaseURL is where the forge listens inside the container.
	DefaultBaseURL = "http://localhost:3000"

	// DefaultUsername and DefaultPassword are the admin account the
	// embedded image's entrypoint provisions (assets/container/entrypoint.sh).
	DefaultUsername = "shadow"
	DefaultPassword = "shadow"

	pollInterval = 500 * time.Millisecond
)

// Client drives the forge running inside a single shadow container.
type Client struct {
	Runtime   runtime.Adapter
	Container string
	BaseURL   string
	Username  string
	Password  string
}

// NewClient returns a Client with the forge's documented defaults.
func NewClient(rt runtime.Adapter, container string) *Client {
	return &Client{
		Runtime:   rt,
		Container: container,
		BaseURL:   DefaultBaseURL,
		Username:  DefaultUsername,
		Password:  DefaultPassword,
	}
}

// WaitReady polls until the forge API responds AND the admin user exists
// (the entrypoint creates it asynchronously after the forge process starts),
// or timeout elapses.
func (c *Client) WaitReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		code, stdout, _ := c.exec(ctx, fmt.Sprintf("curl -s %s/api/v1/version", c.BaseURL))
		if code == 0 && strings.Contains(stdout, "version") {
			authCode, authStdout, _ := c.exec(ctx, fmt.Sprintf("curl -s -u %s:%s %s/api/v1/user",
				c.Username, c.Password, c.BaseURL))
			if authCode == 0 && strings.Contains(authStdout, `"login"`) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return shadowerr.New(shadowerr.ForgeNotReady,
				fmt.Sprintf("forge did not become ready within %s", timeout))
		case <-ticker.C:
		}
	}
}

// CreateOrg creates an organization. Idempotent: an already-existing org
// (HTTP 422) is not an error.
func (c *Client) CreateOrg(ctx context.Context, org string) error {
	status, _, err := c.curlAPI(ctx, "POST", "/api/v1/orgs", map[string]any{"username": org})
	if err != nil {
		return err
	}
	if status != 201 && status != 422 {
		return c.forgeError("/api/v1/orgs", status, "")
	}
	return nil
}

// CreateRepo creates a repository under org.
func (c *Client) CreateRepo(ctx context.Context, org, name string) error {
	status, body, err := c.curlAPI(ctx, "POST", fmt.Sprintf("/api/v1/orgs/%s/repos", org),
		map[string]any{"name": name, "private": false})
	if err != nil {
		return err
	}
	if status != 200 && status != 201 {
		return c.forgeError(fmt.Sprintf("/api/v1/orgs/%s/repos", org), status, body)
	}
	return nil
}

// PushBundle clones a bundle already present inside the container and
// pushes it to org/name's forge repository, all branches, force-pushed so
// a re-push from sync-source replaces whatever the forge repo held before.
func (c *Client) PushBundle(ctx context.Context, org, name, bundleContainerPath string) error {
	pushDir := fmt.Sprintf("/tmp/_push_%s", name)
	remote := fmt.Sprintf("http://%s:%s@localhost:3000/%s/%s.git", c.Username, c.Password, org, name)
	script := fmt.Sprintf(
		"cd /tmp && rm -rf %s && git clone %s %s && cd %s && git remote set-url origin %s && git push -u origin --all --force",
		pushDir, bundleContainerPath, pushDir, pushDir, remote)

	code, stdout, stderr := c.exec(ctx, script)
	if code != 0 {
		return shadowerr.Wrap(shadowerr.ForgeError, "pushing bundle", fmt.Errorf("%s %s", stdout, stderr)).
			WithDetail("org", org).WithDetail("name", name)
	}
	return nil
}

// RepoExists reports whether org/name is already present on the forge,
// used by the environment preflight to confirm provisioning actually took.
func (c *Client) RepoExists(ctx context.Context, org, name string) (bool, error) {
	status, _, err := c.curlAPI(ctx, "GET", fmt.Sprintf("/api/v1/repos/%s/%s", org, name), nil)
	if err != nil {
		return false, err
	}
	return status == 200, nil
}

// DeleteRepo removes org/name's repository from the forge. Idempotent: a
// repo that is already absent (HTTP 404) is not an error.
func (c *Client) DeleteRepo(ctx context.Context, org, name string) error {
	status, body, err := c.curlAPI(ctx, "DELETE", fmt.Sprintf("/api/v1/repos/%s/%s", org, name), nil)
	if err != nil {
		return err
	}
	if status != 204 && status != 404 {
		return c.forgeError(fmt.Sprintf("/api/v1/repos/%s/%s", org, name), status, body)
	}
	return nil
}

// SetupRepoFromBundle is the full provisioning sequence: create the org,
// create the repo, push the bundle.
func (c *Client) SetupRepoFromBundle(ctx context.Context, org, name, bundleContainerPath string) error {
	if err := c.CreateOrg(ctx, org); err != nil {
		return err
	}
	if err := c.CreateRepo(ctx, org, name); err != nil {
		return err
	}
	return c.PushBundle(ctx, org, name, bundleContainerPath)
}

func (c *Client) curlAPI(ctx context.Context, method, endpoint string, data map[string]any) (int, string, error) {
	cmd := fmt.Sprintf("curl -s -w '\\n%%{http_code}' -X %s -u %s:%s -H 'Content-Type: application/json'",
		method, c.Username, c.Password)

	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return 0, "", shadowerr.Wrap(shadowerr.Internal, "encoding forge request body", err)
		}
		escaped := strings.ReplaceAll(string(encoded), "'", `'\''`)
		cmd += fmt.Sprintf(" -d '%s'", escaped)
	}

	cmd += " " + c.BaseURL + endpoint

	code, stdout, _ := c.exec(ctx, cmd)
	if code != 0 {
		return code, "", nil
	}

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) == 0 {
		return 0, "", nil
	}
	status, err := strconv.Atoi(lines[len(lines)-1])
	if err != nil {
		return 0, stdout, nil
	}
	return status, strings.Join(lines[:len(lines)-1], "\n"), nil
}

func (c *Client) exec(ctx context.Context, shellCommand string) (int, string, string) {
	result, err := c.Runtime.Exec(ctx, c.Container, []string{"sh", "-c", shellCommand}, runtime.ExecOptions{
		Timeout: 30 * time.Second,
	})
	if err != nil {
		return -1, "", err.Error()
	}
	return result.ExitCode, result.Stdout, result.Stderr
}

func (c *Client) forgeError(endpoint string, status int, body string) error {
	return shadowerr.New(shadowerr.ForgeError, fmt.Sprintf("forge request to %s failed with status %d", endpoint, status)).
		WithDetail("endpoint", endpoint).WithDetail("status", status).WithDetail("body", body)
}
