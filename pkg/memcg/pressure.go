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

	"github.com/agentcg/agentcg/pkg/cgroups"
)

// Signal identifies which pressure signal fired.
type Signal int

const (
	// SignalNone means no signal fired or none was available.
	SignalNone Signal = iota
	// SignalStall is cumulative stall time under memory stress (PSI).
	SignalStall
	// SignalUsage is parent usage approaching the parent limit.
	SignalUsage
	// SignalEvents is the memory.events "high" counter increasing.
	SignalEvents
)

// String returns the signal name as used in logs and statistics.
func (s Signal) String() string {
	switch s {
	case SignalStall:
		return "psi"
	case SignalUsage:
		return "usage"
	case SignalEvents:
		return "memory.events"
	}
	return "none"
}

// Sample is the outcome of one detector invocation.
type Sample struct {
	// Exceeded is true when a signal crossed its threshold.
	Exceeded bool
	// Available is false when no signal could be read at all. Callers
	// must treat that as not exceeded.
	Available bool
	// Signal is the signal that fired.
	Signal Signal
	// Magnitude is the raw delta or ratio behind the decision.
	Magnitude float64
}

// Describe renders a sample the way triggers are reported in logs.
func (s Sample) Describe() string {
	switch s.Signal {
	case SignalStall:
		return fmt.Sprintf("psi(delta=%dus)", int64(s.Magnitude))
	case SignalUsage:
		return fmt.Sprintf("usage(%.0f%%)", s.Magnitude*100)
	case SignalEvents:
		return fmt.Sprintf("memory.events(delta=%d)", int64(s.Magnitude))
	}
	return "none"
}

// Detector reads pressure signals for the protected domain and reports
// whether a trigger threshold was crossed since the previous call.
// Signals are tried in priority order; the first whose metric is
// readable decides. Stall time and event counts are monotonic counters,
// so the detector keeps the previous reading to compute window deltas.
type Detector struct {
	cfg       Config
	protected cgroups.Group
	parent    cgroups.Group

	lastStall  int64
	lastEvents int64
}

// NewDetector creates a detector for the protected domain. The parent
// group carries the shared budget the usage-ratio signal is computed
// against.
func NewDetector(protected cgroups.Group, cfg Config) *Detector {
	return &Detector{
		cfg:       cfg,
		protected: protected,
		parent:    protected.Parent(),
	}
}

// Baseline records the current counter values so the first Check does
// not see the whole history as one delta.
func (d *Detector) Baseline() {
	if stall, err := d.parent.MemoryStallTotal(); err == nil {
		d.lastStall = stall
	}
	if events, err := d.protected.MemoryEventCounts(); err == nil {
		d.lastEvents = events["high"]
	}
}

// Check reads the signals and reports whether any crossed its
// threshold. Unreadable metrics are skipped; if none is readable the
// sample is marked unavailable (fail-open).
func (d *Detector) Check() Sample {
	available := false

	if stall, err := d.parent.MemoryStallTotal(); err == nil {
		available = true
		delta := stall - d.lastStall
		d.lastStall = stall
		if delta > d.cfg.MinStall {
			return Sample{Exceeded: true, Available: true, Signal: SignalStall, Magnitude: float64(delta)}
		}
	}

	if usage, err := d.parent.MemoryUsage(); err == nil {
		if limit, limited, err := d.parent.MemoryLimit(); err == nil && limited && limit > 0 {
			available = true
			ratio := float64(usage) / float64(limit)
			if ratio >= d.cfg.UsageRatio {
				return Sample{Exceeded: true, Available: true, Signal: SignalUsage, Magnitude: ratio}
			}
		}
	}

	if events, err := d.protected.MemoryEventCounts(); err == nil {
		available = true
		delta := events["high"] - d.lastEvents
		d.lastEvents = events["high"]
		if delta >= d.cfg.Threshold && delta > 0 {
			return Sample{Exceeded: true, Available: true, Signal: SignalEvents, Magnitude: float64(delta)}
		}
	}

	return Sample{Available: available}
}
