// Copyright The agentcg Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bpf loads and attaches the memcg priority policy program.
//
// The compiled object exposes two struct_ops, one with the reservation
// decision functions (below_low/below_min) for the protected cgroup and
// one with the allocation-delay decision function (get_high_delay_ms)
// for candidate cgroups. Both share a single in-kernel pressure counter
// keyed to the protected cgroup's activity. Userspace only rewrites the
// configuration constants, attaches the ops to cgroup directories and
// reads the statistics counters; all enforcement runs in the kernel.
package bpf

import (
	"errors"
	"fmt"
	"os"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/features"

	"golang.org/x/sys/unix"
)

// Names the loader expects to find in the compiled object.
const (
	configSymbol    = "local_config"
	statsMap        = "stats"
	protectedOpsMap = "high_mcg_ops"
	candidateOpsMap = "low_mcg_ops"
)

// Keys into the stats array map, shared with the BPF program.
const (
	statDelayCalls = iota
	statDelayActive
	statBelowLowCalls
	statBelowLowActive
	statCount
)

// ErrUnsupported is returned when the running kernel cannot host the
// policy program.
var ErrUnsupported = errors.New("bpf: struct_ops not supported by kernel")

// Config mirrors the policy program's configuration block.
type Config struct {
	// ObjectPath is the compiled BPF object file.
	ObjectPath string
	// ProtectedCgroupID is the kernel handle (inode) of the protected
	// cgroup; the in-kernel pressure counter is keyed on it.
	ProtectedCgroupID uint64
	// Threshold is the event count that opens the protection window.
	Threshold uint64
	// DelayMS is the allocation delay imposed on candidates over their
	// ceiling while protection is active.
	DelayMS uint32
	// BelowLow reports the protected cgroup as below its
	// reclaim-protection ceiling while protection is active.
	BelowLow bool
	// BelowMin uses the stronger reservation semantics.
	BelowMin bool
}

// kernelConfig is the wire layout of the program's config constants.
type kernelConfig struct {
	ProtectedCgroupID uint64
	Threshold         uint64
	DelayMS           uint32
	BelowLow          uint8
	BelowMin          uint8
	_                 [2]uint8
}

// Stats are the decision-function counters kept by the program.
type Stats struct {
	DelayCalls     uint64
	DelayActive    uint64
	BelowLowCalls  uint64
	BelowLowActive uint64
}

// Supported probes whether the running kernel can host the policy
// program and the object file is present.
func Supported(objectPath string) error {
	if _, err := os.Stat(objectPath); err != nil {
		return fmt.Errorf("bpf: policy object unavailable: %w", err)
	}
	if err := features.HaveMapType(ebpf.StructOpsMap); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return nil
}

// Program is a loaded and (partially) attached policy program.
type Program struct {
	coll  *ebpf.Collection
	links []*structOpsLink
	fds   []int
}

// Load reads the object file, rewrites its configuration constants and
// loads it into the kernel. Nothing is attached yet.
func Load(cfg Config) (*Program, error) {
	spec, err := ebpf.LoadCollectionSpec(cfg.ObjectPath)
	if err != nil {
		return nil, fmt.Errorf("bpf: failed to load %s: %w", cfg.ObjectPath, err)
	}

	kcfg := kernelConfig{
		ProtectedCgroupID: cfg.ProtectedCgroupID,
		Threshold:         cfg.Threshold,
		DelayMS:           cfg.DelayMS,
	}
	if cfg.BelowLow {
		kcfg.BelowLow = 1
	}
	if cfg.BelowMin {
		kcfg.BelowMin = 1
	}
	if err := spec.RewriteConstants(map[string]interface{}{configSymbol: kcfg}); err != nil {
		return nil, fmt.Errorf("bpf: failed to rewrite config: %w", err)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, fmt.Errorf("bpf: failed to load collection: %w", err)
	}

	for _, name := range []string{statsMap, protectedOpsMap, candidateOpsMap} {
		if coll.Maps[name] == nil {
			coll.Close()
			return nil, fmt.Errorf("bpf: object has no %q map", name)
		}
	}

	return &Program{coll: coll}, nil
}

// AttachProtected attaches the reservation decision functions to the
// protected cgroup.
func (p *Program) AttachProtected(cgroupDir string) error {
	return p.attach(protectedOpsMap, cgroupDir)
}

// AttachCandidate attaches the delay decision function to a candidate
// cgroup. May be called once per candidate.
func (p *Program) AttachCandidate(cgroupDir string) error {
	return p.attach(candidateOpsMap, cgroupDir)
}

func (p *Program) attach(mapName, cgroupDir string) error {
	fd, err := unix.Open(cgroupDir, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("bpf: failed to open cgroup %s: %w", cgroupDir, err)
	}

	l, err := attachStructOps(p.coll.Maps[mapName], fd)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("bpf: failed to attach %s to %s: %w", mapName, cgroupDir, err)
	}

	p.links = append(p.links, l)
	p.fds = append(p.fds, fd)
	return nil
}

// ReadStats reads the decision-function counters.
func (p *Program) ReadStats() (Stats, error) {
	var (
		stats  Stats
		values [statCount]uint64
	)
	m := p.coll.Maps[statsMap]
	for key := uint32(0); key < statCount; key++ {
		if err := m.Lookup(&key, &values[key]); err != nil {
			return stats, fmt.Errorf("bpf: failed to read stats[%d]: %w", key, err)
		}
	}
	stats.DelayCalls = values[statDelayCalls]
	stats.DelayActive = values[statDelayActive]
	stats.BelowLowCalls = values[statBelowLowCalls]
	stats.BelowLowActive = values[statBelowLowActive]
	return stats, nil
}

// Close detaches all ops and unloads the program.
func (p *Program) Close() error {
	var firstErr error
	for _, l := range p.links {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.links = nil
	for _, fd := range p.fds {
		unix.Close(fd)
	}
	p.fds = nil
	if p.coll != nil {
		p.coll.Close()
		p.coll = nil
	}
	return firstErr
}
