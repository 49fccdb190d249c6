// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package container detects a container runtime and runs the images that
// host GPU OCR, ML inference and fallback converters. It also runs host
// tools (probes and decoders installed on PATH) through the same executor.
package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
)

const (
	binDocker = "docker"
	binPodman = "podman"
)

// Mount binds a host path into the container.
type Mount struct {
	Host      string
	Container string
	ReadOnly  bool
}

// RunOptions adjusts a single container run.
type RunOptions struct {
	// GPU exposes all NVIDIA GPUs to the container.
	GPU bool

	// Env sets environment variables inside the container.
	Env map[string]string

	// Mounts are bind mounts added with -v.
	Mounts []Mount

	// Args follow the image name.
	Args []string

	// Stderr receives the container's stderr. Nil discards it.
	Stderr io.Writer
}

// Runtime provides container operations: checking availability, verifying
// images, and running containers.
type Runtime interface {
	// Name returns the runtime name ("docker" or "podman").
	Name() string

	// Available reports whether the runtime binary exists on PATH and
	// responds to an info command.
	Available() bool

	// ImageExists checks whether the named image exists locally.
	ImageExists(image string) error

	// Run executes a container with the given image, piping stdin and stdout.
	Run(ctx context.Context, image string, opts RunOptions, stdin io.Reader, stdout io.Writer) error
}

// executor abstracts command execution for testing.
type executor interface {
	LookPath(file string) (string, error)
	RunSilent(name string, args ...string) error
	RunPiped(ctx context.Context, name string, args []string, stdin io.Reader, stdout, stderr io.Writer) error
}

// osExecutor is the production executor backed by os/exec.
type osExecutor struct{}

func (o *osExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (o *osExecutor) RunSilent(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

func (o *osExecutor) RunPiped(ctx context.Context, name string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// runtime implements Runtime for a specific container binary. Docker and
// Podman differ in the image check subcommand and in how GPUs are exposed.
type runtime struct {
	bin           string
	imageCheckCmd []string
	gpuArgs       []string
	exec          executor
}

func (r *runtime) Name() string { return r.bin }

func (r *runtime) Available() bool {
	if _, err := r.exec.LookPath(r.bin); err != nil {
		return false
	}
	return r.exec.RunSilent(r.bin, "info") == nil
}

func (r *runtime) ImageExists(image string) error {
	args := make([]string, 0, len(r.imageCheckCmd)+1)
	args = append(args, r.imageCheckCmd...)
	args = append(args, image)

	if err := r.exec.RunSilent(r.bin, args...); err != nil {
		return fmt.Errorf("image %s not found in %s: %w", image, r.bin, err)
	}
	return nil
}

func (r *runtime) runArgs(image string, opts RunOptions) []string {
	args := []string{"run", "--rm", "-i"}
	if opts.GPU {
		args = append(args, r.gpuArgs...)
	}
	keys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+opts.Env[k])
	}
	for _, m := range opts.Mounts {
		v := m.Host + ":" + m.Container
		if m.ReadOnly {
			v += ":ro"
		}
		args = append(args, "-v", v)
	}
	args = append(args, image)
	return append(args, opts.Args...)
}

func (r *runtime) Run(ctx context.Context, image string, opts RunOptions, stdin io.Reader, stdout io.Writer) error {
	if err := r.exec.RunPiped(ctx, r.bin, r.runArgs(image, opts), stdin, stdout, opts.Stderr); err != nil {
		return fmt.Errorf("running %s container %s: %w", r.bin, image, err)
	}
	return nil
}

func newDockerRuntime(exec executor) *runtime {
	return &runtime{
		bin:           binDocker,
		imageCheckCmd: []string{"image", "inspect"},
		gpuArgs:       []string{"--gpus", "all"},
		exec:          exec,
	}
}

func newPodmanRuntime(exec executor) *runtime {
	return &runtime{
		bin:           binPodman,
		imageCheckCmd: []string{"image", "exists"},
		gpuArgs:       []string{"--device", "nvidia.com/gpu=all"},
		exec:          exec,
	}
}

var defaultExec executor = &osExecutor{}

// ErrNoRuntime is returned when neither docker nor podman works.
var ErrNoRuntime = errors.New("no container runtime available")

// DetectRuntime tries docker first, falls back to podman.
func DetectRuntime() (Runtime, error) {
	return detectRuntime(defaultExec)
}

func detectRuntime(exec executor) (Runtime, error) {
	docker := newDockerRuntime(exec)
	if docker.Available() {
		return docker, nil
	}

	podman := newPodmanRuntime(exec)
	if podman.Available() {
		return podman, nil
	}

	return nil, fmt.Errorf("%w: neither %s nor %s found or operational", ErrNoRuntime, binDocker, binPodman)
}

// HostTools runs programs installed on the host.
type HostTools interface {
	// Has reports whether name is on PATH.
	Has(name string) bool

	// Output runs name with args and returns its stdout.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type hostTools struct{ exec executor }

// NewHostTools returns the PATH-backed tool runner.
func NewHostTools() HostTools { return &hostTools{exec: defaultExec} }

func (h *hostTools) Has(name string) bool {
	_, err := h.exec.LookPath(name)
	return err == nil
}

func (h *hostTools) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out, errOut strings.Builder
	if err := h.exec.RunPiped(ctx, name, args, nil, &out, &errOut); err != nil {
		msg := strings.TrimSpace(errOut.String())
		if msg != "" {
			return nil, fmt.Errorf("running %s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("running %s: %w", name, err)
	}
	return []byte(out.String()), nil
}
