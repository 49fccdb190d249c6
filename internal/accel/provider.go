// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package accel

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/pdiddy/docudactyl/internal/container"
	"github.com/pdiddy/docudactyl/pkg/types"
)

// host is the slice of the machine the provider probe looks at.
type host struct {
	hasTool func(name string) bool
	exists  func(path string) bool
	glob    func(pattern string) bool
	getenv  func(key string) string
	goos    string
}

func defaultHost() host {
	tools := container.NewHostTools()
	return host{
		hasTool: tools.Has,
		exists: func(p string) bool {
			_, err := os.Stat(p)
			return err == nil
		},
		glob: func(pattern string) bool {
			m, _ := filepath.Glob(pattern)
			return len(m) > 0
		},
		getenv: os.Getenv,
		goos:   runtime.GOOS,
	}
}

var tensorRTLibs = []string{
	"/usr/lib/x86_64-linux-gnu/libnvinfer.so*",
	"/usr/lib/aarch64-linux-gnu/libnvinfer.so*",
	"/usr/lib64/libnvinfer.so*",
	"/usr/local/tensorrt/lib/libnvinfer.so*",
}

// providerProbe pairs a provider with the predicate that admits it.
type providerProbe struct {
	provider types.Provider
	present  func(h host) bool
}

// providerChain is ordered best first. The first predicate that holds wins.
var providerChain = []providerProbe{
	{types.ProviderTensorRT, func(h host) bool {
		if !h.hasTool("nvidia-smi") {
			return false
		}
		for _, g := range tensorRTLibs {
			if h.glob(g) {
				return true
			}
		}
		return false
	}},
	{types.ProviderCUDA, func(h host) bool { return h.hasTool("nvidia-smi") }},
	{types.ProviderROCm, func(h host) bool { return h.exists("/dev/kfd") }},
	{types.ProviderOpenVINO, func(h host) bool {
		return h.getenv("INTEL_OPENVINO_DIR") != "" || h.exists("/opt/intel/openvino")
	}},
	{types.ProviderCoreML, func(h host) bool { return h.goos == "darwin" }},
	{types.ProviderCPU, func(host) bool { return true }},
}

func selectProvider(h host) types.Provider {
	for _, p := range providerChain {
		if p.present(h) {
			return p.provider
		}
	}
	return types.ProviderNone
}

// usesNvidia reports whether the container needs the NVIDIA device flags.
func usesNvidia(p types.Provider) bool {
	return p == types.ProviderTensorRT || p == types.ProviderCUDA
}
