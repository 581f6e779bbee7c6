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
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentcg/agentcg/pkg/cgroups"
)

// BackendKind selects the enforcement backend.
type BackendKind string

const (
	// BackendAuto probes for kernel support and falls back to polling.
	BackendAuto BackendKind = "auto"
	// BackendKernel forces the kernel policy extension backend.
	BackendKernel BackendKind = "kernel"
	// BackendPolling forces the userspace polling backend.
	BackendPolling BackendKind = "polling"
)

// Duration is a time.Duration that unmarshals from strings like "1s".
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config holds the tunables of the isolation controller. The protection
// shares were tuned empirically on the original workloads; they are
// configuration, not policy.
type Config struct {
	// Backend selects the enforcement backend, default auto.
	Backend BackendKind `json:"backend,omitempty"`
	// ProtectionWindow is how long protection stays active after a
	// trigger. Further triggers slide the expiry forward.
	ProtectionWindow Duration `json:"protectionWindow,omitempty"`
	// Threshold is the event-count delta that counts as a trigger.
	Threshold int64 `json:"threshold,omitempty"`
	// MinStall is the minimum stall-time delta, in microseconds, that
	// counts as a trigger.
	MinStall int64 `json:"minStall,omitempty"`
	// UsageRatio triggers protection when parent usage/limit reaches it.
	UsageRatio float64 `json:"usageRatio,omitempty"`
	// ProtectedShare is the fraction of the parent budget reserved for
	// the protected domain while protection is active.
	ProtectedShare float64 `json:"protectedShare,omitempty"`
	// CandidateShare is the fraction of the parent budget each
	// candidate is capped to while protection is active.
	CandidateShare float64 `json:"candidateShare,omitempty"`
	// DelayMS is the allocation delay the kernel backend imposes on
	// candidates over their ceiling.
	DelayMS uint32 `json:"delayMs,omitempty"`
	// BelowLow makes the kernel backend report the protected domain as
	// below its reclaim-protection ceiling while protection is active.
	BelowLow bool `json:"belowLow,omitempty"`
	// BelowMin uses the stronger reservation semantics instead.
	BelowMin bool `json:"belowMin,omitempty"`
	// BPFObject is the compiled kernel policy object file.
	BPFObject string `json:"bpfObject,omitempty"`
}

// DefaultConfig returns the configuration the daemon starts from.
func DefaultConfig() Config {
	return Config{
		Backend:          BackendAuto,
		ProtectionWindow: Duration(time.Second),
		Threshold:        1,
		MinStall:         0,
		UsageRatio:       0.85,
		ProtectedShare:   0.80,
		CandidateShare:   0.125,
		DelayMS:          50,
		BelowLow:         true,
		BelowMin:         false,
		BPFObject:        "/usr/libexec/agentcg/memcg_priority.bpf.o",
	}
}

// Validate checks the configuration for nonsensical values.
func (c *Config) Validate() error {
	if c.ProtectionWindow <= 0 {
		return fmt.Errorf("%w: protection window %v", ErrInvalidConfig, time.Duration(c.ProtectionWindow))
	}
	if c.UsageRatio <= 0 || c.UsageRatio > 1 {
		return fmt.Errorf("%w: usage ratio %v", ErrInvalidConfig, c.UsageRatio)
	}
	if c.ProtectedShare <= 0 || c.ProtectedShare > 1 {
		return fmt.Errorf("%w: protected share %v", ErrInvalidConfig, c.ProtectedShare)
	}
	if c.CandidateShare <= 0 || c.CandidateShare > 1 {
		return fmt.Errorf("%w: candidate share %v", ErrInvalidConfig, c.CandidateShare)
	}
	switch c.Backend {
	case "", BackendAuto, BackendKernel, BackendPolling:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	return nil
}

// Pairing names the protected domain and the candidates throttled on
// its behalf.
type Pairing struct {
	Protected  cgroups.Group
	Candidates []cgroups.Group
}

// Validate checks that the pairing is usable.
func (p *Pairing) Validate() error {
	if p.Protected == "" {
		return ErrNoProtectedDomain
	}
	return nil
}
