package dataflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultGrace is the stop grace period before the launcher kills nodes.
const DefaultGrace = 15 * time.Second

// ErrNoDataflowID is returned when the launcher output carries no dataflow
// id.
var ErrNoDataflowID = errors.New("dataflow: launcher output contained no dataflow id")

// Controller drives the external launcher CLI: start a dataflow, probe its
// status, and stop it with a grace duration.
type Controller struct {
	specPath string
	launcher string
	envs     map[string]string

	dataflowID string
}

// NewController creates a controller for the dataflow described at
// specPath. The file must exist.
func NewController(specPath string) (*Controller, error) {
	if _, err := os.Stat(specPath); err != nil {
		return nil, fmt.Errorf("dataflow: spec file: %w", err)
	}
	return &Controller{
		specPath: specPath,
		launcher: "dora",
		envs:     map[string]string{},
	}, nil
}

// SetEnvs supplies environment variables for the launched node processes.
func (c *Controller) SetEnvs(envs map[string]string) {
	c.envs = envs
}

// DataflowID returns the id assigned by the launcher, empty before Start.
func (c *Controller) DataflowID() string { return c.dataflowID }

// Start launches the dataflow detached and returns the assigned id, parsed
// from the launcher output. Depending on the launcher version the id is
// printed on stdout or stderr; both are scanned.
func (c *Controller) Start(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, c.launcher, "start", c.specPath, "--detach")
	cmd.Env = os.Environ()
	for k, v := range c.envs {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		return "", fmt.Errorf("dataflow: launcher start failed: %w (%s)", err, detail)
	}

	id, err := parseDataflowID(stdout.String(), stderr.String())
	if err != nil {
		return "", err
	}
	c.dataflowID = id
	slog.Info("dataflow started", "id", id, "spec", c.specPath)
	return id, nil
}

// parseDataflowID scans the launcher's stdout and stderr for a UUID token.
// Launcher versions differ in which stream carries the id.
func parseDataflowID(stdout, stderr string) (string, error) {
	for _, stream := range []string{stdout, stderr} {
		for _, field := range strings.Fields(stream) {
			field = strings.Trim(field, `"',:()[]`)
			if id, err := uuid.Parse(field); err == nil {
				return id.String(), nil
			}
		}
	}
	return "", ErrNoDataflowID
}

// Stop stops the dataflow, allowing nodes the grace duration to exit before
// the launcher kills them.
func (c *Controller) Stop(ctx context.Context, grace time.Duration) error {
	if c.dataflowID == "" {
		return nil
	}
	args := []string{"stop", c.dataflowID,
		"--grace-duration", fmt.Sprintf("%ds", int(grace.Seconds()))}
	cmd := exec.CommandContext(ctx, c.launcher, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("dataflow: launcher stop failed: %w (%s)",
			err, strings.TrimSpace(stderr.String()))
	}
	slog.Info("dataflow stopped", "id", c.dataflowID, "grace", grace)
	c.dataflowID = ""
	return nil
}

// IsRunning probes the launcher's list output for the dataflow id.
func (c *Controller) IsRunning(ctx context.Context) (bool, error) {
	if c.dataflowID == "" {
		return false, nil
	}
	cmd := exec.CommandContext(ctx, c.launcher, "list")
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("dataflow: launcher list failed: %w", err)
	}
	return strings.Contains(string(out), c.dataflowID), nil
}
