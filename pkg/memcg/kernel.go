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

package memcg

import (
	"fmt"

	"github.com/agentcg/agentcg/pkg/bpf"
	logger "github.com/agentcg/agentcg/pkg/log"
)

var klog = logger.Get("memcg-kernel")

// KernelBackend delegates detection and enforcement to a kernel-resident
// policy program. Once attached, the kernel makes every reclaim and
// throttling decision itself; Poll only refreshes the statistics
// counters for observability.
type KernelBackend struct {
	cfg     Config
	pairing Pairing
	prog    *bpf.Program

	stats  bpf.Stats
	active bool
}

// NewKernelBackend creates a kernel backend with the given tunables.
func NewKernelBackend(cfg Config) *KernelBackend {
	return &KernelBackend{cfg: cfg}
}

// Name implements Backend.
func (b *KernelBackend) Name() string {
	return "kernel"
}

// Attach implements Backend. Any load or attach failure is reported as
// ErrBackendUnavailable so the controller can fall back to polling.
func (b *KernelBackend) Attach(pairing Pairing) error {
	if b.prog != nil {
		return ErrAlreadyAttached
	}
	if err := pairing.Validate(); err != nil {
		return err
	}

	if err := bpf.Supported(b.cfg.BPFObject); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	id, err := pairing.Protected.ID()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	prog, err := bpf.Load(bpf.Config{
		ObjectPath:        b.cfg.BPFObject,
		ProtectedCgroupID: id,
		Threshold:         uint64(b.cfg.Threshold),
		DelayMS:           b.cfg.DelayMS,
		BelowLow:          b.cfg.BelowLow,
		BelowMin:          b.cfg.BelowMin,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if err := prog.AttachProtected(pairing.Protected.Dir()); err != nil {
		prog.Close()
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	for _, c := range pairing.Candidates {
		if err := prog.AttachCandidate(c.Dir()); err != nil {
			prog.Close()
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	b.pairing = pairing
	b.prog = prog
	klog.Info("policy program attached to %s (%d candidates)", pairing.Protected, len(pairing.Candidates))
	return nil
}

// Poll implements Backend. Enforcement runs in the kernel; this only
// snapshots the counters so Stats stays current.
func (b *KernelBackend) Poll() error {
	if b.prog == nil {
		return ErrNotAttached
	}

	stats, err := b.prog.ReadStats()
	if err != nil {
		klog.WarnLimited("%v", err)
		return nil
	}

	// Protection is considered active when the kernel reported it on a
	// decision call since the previous poll.
	b.active = stats.BelowLowActive > b.stats.BelowLowActive ||
		stats.DelayActive > b.stats.DelayActive
	b.stats = stats
	return nil
}

// Detach implements Backend. Closing the program detaches all ops; the
// kernel restores default policy on its own.
func (b *KernelBackend) Detach() error {
	if b.prog == nil {
		return nil
	}
	err := b.prog.Close()
	b.prog = nil
	b.active = false
	klog.Info("policy program detached from %s", b.pairing.Protected)
	return err
}

// Stats implements Backend.
func (b *KernelBackend) Stats() Stats {
	return Stats{
		Backend:          b.Name(),
		ProtectionActive: b.active,
		Kernel: &KernelStats{
			ProtectedCalls:  b.stats.BelowLowCalls,
			ProtectedActive: b.stats.BelowLowActive,
			CandidateCalls:  b.stats.DelayCalls,
			CandidateActive: b.stats.DelayActive,
		},
	}
}
