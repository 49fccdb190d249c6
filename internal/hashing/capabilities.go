// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package hashing computes content fingerprints and selects the hashing tier
// for the running hardware. The capability probe runs once per process.
package hashing

import (
	"sync"

	"github.com/klauspost/cpuid/v2"

	"github.com/pdiddy/docudactyl/pkg/types"
)

var (
	capsOnce sync.Once
	caps     types.CryptoCapabilities

	// probe reads CPU features. Tests replace it and call ResetCapabilities.
	probe = probeCPU
)

func probeCPU() types.CryptoFlag {
	var f types.CryptoFlag
	set := func(flag types.CryptoFlag, ids ...cpuid.FeatureID) {
		if cpuid.CPU.Supports(ids...) {
			f |= flag
		}
	}
	set(types.CryptoSHANI, cpuid.SHA)
	set(types.CryptoAVX2, cpuid.AVX2)
	set(types.CryptoAVX512, cpuid.AVX512F)
	set(types.CryptoAESNI, cpuid.AESNI)
	set(types.CryptoSSE42, cpuid.SSE42)
	set(types.CryptoARMSHA2, cpuid.SHA2)
	set(types.CryptoARMAES, cpuid.AESARM)
	set(types.CryptoVAES, cpuid.VAES)
	set(types.CryptoNEON, cpuid.ASIMD)
	return f
}

// tierFor is the pure selection function over a feature set.
func tierFor(f types.CryptoFlag) types.HashTier {
	switch {
	case f&(types.CryptoSHANI|types.CryptoARMSHA2) != 0:
		return types.TierHardware
	case f&(types.CryptoAVX512|types.CryptoAVX2) != 0:
		return types.TierMultiBuffer
	}
	return types.TierSoftware
}

// Detect returns the process-wide capability snapshot, probing on first use.
func Detect() types.CryptoCapabilities {
	capsOnce.Do(func() {
		flags := probe()
		caps = types.CryptoCapabilities{Flags: flags, Tier: tierFor(flags)}
	})
	return caps
}

// Tier reports the active SHA-256 implementation tier.
func Tier() types.HashTier { return Detect().Tier }

// ResetCapabilities clears the snapshot so the next Detect probes again.
// Only tests call it.
func ResetCapabilities() {
	capsOnce = sync.Once{}
	caps = types.CryptoCapabilities{}
}
