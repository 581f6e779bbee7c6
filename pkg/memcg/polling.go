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
	"path/filepath"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/agentcg/agentcg/pkg/cgroups"
	logger "github.com/agentcg/agentcg/pkg/log"
)

// Fallback ceilings used while protection is active if the parent
// carries no memory limit to derive shares from.
const (
	fallbackReservation = int64(1) << 30   // 1 GiB
	fallbackCeiling     = int64(512) << 20 // 512 MiB
)

var plog = logger.Get("memcg-polling")

// PollingBackend implements the protection contract with nothing but
// control-file reads and writes. It runs the pressure detector and the
// protection state machine in-process on every Poll.
type PollingBackend struct {
	cfg      Config
	pairing  Pairing
	detector *Detector
	machine  *StateMachine

	// control-file values sampled at attach time, restored on detach
	savedLow  string
	savedHigh map[cgroups.Group]string

	// last value written per control file, to suppress redundant writes
	written map[string]string

	attached    bool
	activations uint64
	lastTrigger string
	writes      uint64
}

// NewPollingBackend creates a polling backend with the given tunables.
func NewPollingBackend(cfg Config) *PollingBackend {
	b := &PollingBackend{cfg: cfg}
	b.machine = NewStateMachine(time.Duration(cfg.ProtectionWindow), b.applyProtection, b.restoreNormal)
	return b
}

// Name implements Backend.
func (b *PollingBackend) Name() string {
	return "polling"
}

// StateMachine exposes the backend's state machine. Tests use it to
// inject a clock.
func (b *PollingBackend) StateMachine() *StateMachine {
	return b.machine
}

// Attach implements Backend. It records the pairing's current soft
// ceilings for restoration on Detach and resets them to the normal
// state (no reservation, no throttling).
func (b *PollingBackend) Attach(pairing Pairing) error {
	if b.attached {
		return ErrAlreadyAttached
	}
	if err := pairing.Validate(); err != nil {
		return err
	}

	b.pairing = pairing
	b.savedHigh = map[cgroups.Group]string{}
	b.written = map[string]string{}

	b.savedLow = "0"
	if v, err := pairing.Protected.Read(cgroups.MemoryLow); err == nil {
		b.savedLow = v
	}
	for _, c := range pairing.Candidates {
		b.savedHigh[c] = cgroups.Max
		if v, err := c.Read(cgroups.MemoryHigh); err == nil {
			b.savedHigh[c] = v
		}
	}

	b.detector = NewDetector(pairing.Protected, b.cfg)
	b.detector.Baseline()
	b.attached = true

	if err := b.restoreNormal(); err != nil {
		plog.Warn("attach could not reset ceilings: %v", err)
	}
	plog.Info("attached to %s (%d candidates)", pairing.Protected, len(pairing.Candidates))
	return nil
}

// Poll implements Backend: one detection pass and one state-machine
// evaluation. Unreadable metrics leave protection inactive (fail-open);
// unwritable control files are logged and skipped.
func (b *PollingBackend) Poll() error {
	if !b.attached {
		return ErrNotAttached
	}

	sample := b.detector.Check()
	if !sample.Available {
		plog.WarnLimited("no pressure signal readable for %s, protection idle", b.pairing.Protected)
	}
	if sample.Exceeded {
		b.lastTrigger = sample.Describe()
		if b.machine.Status() == StatusNormal {
			plog.Info("memory pressure detected [%s], activating protection", b.lastTrigger)
		}
	}
	return b.machine.Tick(sample.Exceeded)
}

// Detach implements Backend. The ceilings sampled at attach time are
// restored unconditionally, even after a partially failed attach.
func (b *PollingBackend) Detach() error {
	if !b.attached {
		return nil
	}

	var errs *multierror.Error

	b.machine = NewStateMachine(time.Duration(b.cfg.ProtectionWindow), b.applyProtection, b.restoreNormal)
	b.written = map[string]string{}

	if err := b.pairing.Protected.Write(cgroups.MemoryLow, b.savedLow); err != nil {
		errs = multierror.Append(errs, err)
	}
	for c, v := range b.savedHigh {
		if err := c.Write(cgroups.MemoryHigh, v); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	b.attached = false
	plog.Info("detached from %s", b.pairing.Protected)
	return errs.ErrorOrNil()
}

// Stats implements Backend.
func (b *PollingBackend) Stats() Stats {
	return Stats{
		Backend:          b.Name(),
		ProtectionActive: b.machine.Status() == StatusProtected,
		Activations:      b.activations,
		Triggers:         b.machine.Triggers(),
		LastTrigger:      b.lastTrigger,
		ControlWrites:    b.writes,
	}
}

// applyProtection raises the protected domain's reservation and caps
// the candidates, deriving both from the shared parent budget.
func (b *PollingBackend) applyProtection() error {
	b.activations++

	reservation, ceiling := fallbackReservation, fallbackCeiling
	parent := b.pairing.Protected.Parent()
	if limit, limited, err := parent.MemoryLimit(); err == nil && limited && limit > 0 {
		reservation = int64(float64(limit) * b.cfg.ProtectedShare)
		ceiling = int64(float64(limit) * b.cfg.CandidateShare)
	}

	b.setKnob(b.pairing.Protected, cgroups.MemoryLow, strconv.FormatInt(reservation, 10))
	for _, c := range b.pairing.Candidates {
		b.setKnob(c, cgroups.MemoryHigh, strconv.FormatInt(ceiling, 10))
	}
	return nil
}

// restoreNormal resets the pairing to no reservation, no throttling.
func (b *PollingBackend) restoreNormal() error {
	b.setKnob(b.pairing.Protected, cgroups.MemoryLow, "0")
	for _, c := range b.pairing.Candidates {
		b.setKnob(c, cgroups.MemoryHigh, cgroups.Max)
	}
	return nil
}

// setKnob writes a control file unless it already holds the value from
// our last write. Write failures are logged, never escalated: missing
// isolation beats a dead workload.
func (b *PollingBackend) setKnob(g cgroups.Group, file, value string) {
	key := filepath.Join(string(g), file)
	if b.written[key] == value {
		return
	}
	if err := g.Write(file, value); err != nil {
		plog.WarnLimited("%v", err)
		return
	}
	b.written[key] = value
	b.writes++
}
