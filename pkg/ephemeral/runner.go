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

package ephemeral

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/agentcg/agentcg/pkg/cgroups"
	logger "github.com/agentcg/agentcg/pkg/log"
)

var elog = logger.Get("ephemeral")

// DisableEnv force-disables domain wrapping when set to "1"; the
// wrapped command then runs directly with zero isolation overhead.
const DisableEnv = "AGENTCG_DISABLE"

// oomExitStatus is how the shell reports a SIGKILLed child.
const oomExitStatus = 137

// invocationSeq disambiguates domains created by one process within
// the same timestamp tick.
var invocationSeq atomic.Uint64

// Disabled reports whether domain wrapping is globally switched off.
func Disabled() bool {
	return os.Getenv(DisableEnv) == "1"
}

// DomainName generates a domain name unique within the parent:
// process id plus high-resolution timestamp plus per-process sequence.
func DomainName() string {
	return fmt.Sprintf("tool_%d_%d_%d",
		os.Getpid(), time.Now().UnixNano(), invocationSeq.Add(1))
}

// Runner executes discrete commands, each inside its own ephemeral
// domain under a fixed parent. Run moves the calling process into the
// domain so the child inherits membership, which ties one Runner to
// one wrapper process running one command at a time. Concurrent
// invocations from separate wrapper processes are independent; their
// only shared state is the append-only usage log.
type Runner struct {
	parent cgroups.Group
	log    *Log

	// Stderr receives the wrapped command's error stream and, on a
	// distress termination, the diagnostic. Defaults to os.Stderr.
	Stderr io.Writer
}

// NewRunner creates a runner placing domains under parent and
// appending usage records to log.
func NewRunner(parent cgroups.Group, log *Log) *Runner {
	return &Runner{parent: parent, log: log, Stderr: os.Stderr}
}

// Run executes argv inside a fresh ephemeral domain and returns the
// command's exit status. Isolation failures degrade to running the
// command unconstrained; only failure to start the command at all is
// an error.
func (r *Runner) Run(ctx context.Context, argv []string, hint Hint) (int, error) {
	if len(argv) == 0 {
		return 0, fmt.Errorf("ephemeral: empty command")
	}

	inv := &invocation{
		runner: r,
		domain: r.parent.Child(DomainName()),
		hint:   hint,
	}

	inv.setup()
	status, runErr := inv.run(ctx, argv)
	inv.complete(status)
	inv.cleanup()

	if err := r.log.Append(inv.record(argv, status)); err != nil {
		elog.Warn("%v", err)
	}
	return status, runErr
}

// invocation tracks one pass through the CREATED, RUNNING,
// COMPLETED/FAILED, CLEANED_UP lifecycle.
type invocation struct {
	runner *Runner
	domain cgroups.Group
	hint   Hint

	entered bool
	start   time.Time
	end     time.Time
	peak    int64
	current int64
	oom     bool
}

// setup creates the domain, applies the hint ceiling and moves the
// calling process in so the child inherits membership. Every step is
// best-effort: on failure the operation proceeds unconstrained.
func (inv *invocation) setup() {
	if err := inv.domain.Create(); err != nil {
		elog.Warn("%v, running unconstrained", err)
		return
	}
	if ceiling, ok := inv.hint.Ceiling(); ok {
		if err := inv.domain.Write(cgroups.MemoryHigh, strconv.FormatInt(ceiling, 10)); err != nil {
			elog.Warn("%v", err)
		}
	}
	if err := inv.domain.AddProcess(os.Getpid()); err != nil {
		elog.Warn("%v, running unconstrained", err)
		return
	}
	inv.entered = true
}

// run executes the command with inherited streams and returns its exit
// status. A command killed by a signal reports 128 plus the signal
// number, matching shell convention.
func (inv *invocation) run(ctx context.Context, argv []string) (int, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = inv.runner.Stderr

	inv.start = time.Now()
	err := cmd.Run()
	inv.end = time.Now()

	if err == nil {
		return 0, nil
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return 127, fmt.Errorf("ephemeral: failed to run %s: %w", argv[0], err)
	}
	status := exitErr.ExitCode()
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		status = 128 + int(ws.Signal())
	}
	return status, nil
}

// complete reads the domain's usage accounting and, on a distress
// termination, writes the downward diagnostic to the error stream.
func (inv *invocation) complete(status int) {
	inv.peak, inv.current = -1, -1
	if v, err := inv.domain.MemoryPeakUsage(); err == nil {
		inv.peak = v
	}
	if v, err := inv.domain.MemoryUsage(); err == nil {
		inv.current = v
	}

	if status != oomExitStatus {
		return
	}
	inv.oom = true
	if counts, err := inv.domain.MemoryEventCounts(); err == nil {
		inv.oom = counts["oom_kill"] > 0
	}
	if inv.oom {
		fmt.Fprint(inv.runner.Stderr, inv.diagnostic())
	}
}

// diagnostic is the downward half of the negotiation protocol: a
// human-readable explanation plus a machine-readable retry hint.
func (inv *invocation) diagnostic() string {
	peakMiB := int64(-1)
	if inv.peak >= 0 {
		peakMiB = inv.peak >> 20
	}
	retry := inv.retryHint()
	return fmt.Sprintf(`
command terminated: exceeded its available memory budget
  peak usage: %d MiB
  suggestions:
    - narrow the scope of the operation
    - reduce the amount of data processed at once
    - split the work into smaller steps
    - declare a larger budget, e.g. %s
retry-hint: %s
`, peakMiB, retry, retry)
}

// retryHint suggests an explicit budget for a retry: double the larger
// of the ceiling and the observed peak, rounded up to whole GiB.
func (inv *invocation) retryHint() string {
	need := inv.peak
	if ceiling, ok := inv.hint.Ceiling(); ok && ceiling > need {
		need = ceiling
	}
	gib := (2*need + (1 << 30) - 1) >> 30
	if gib < 1 {
		gib = 1
	}
	return fmt.Sprintf("memory:%dg", gib)
}

// cleanup moves the calling process back to the parent and removes the
// domain. A busy domain gets one retry; persistent failure is logged,
// never escalated.
func (inv *invocation) cleanup() {
	if inv.entered {
		if err := inv.runner.parent.AddProcess(os.Getpid()); err != nil {
			elog.Warn("%v", err)
			return
		}
	}
	if !inv.domain.Exists() {
		return
	}
	err := inv.domain.Remove()
	if err != nil {
		time.Sleep(50 * time.Millisecond)
		err = inv.domain.Remove()
	}
	if err != nil {
		elog.Warn("%v", err)
	}
}

// record builds the usage-log entry for this invocation.
func (inv *invocation) record(argv []string, status int) Record {
	return Record{
		TimestampNS:  inv.start.UnixNano(),
		PID:          os.Getpid(),
		Domain:       string(inv.domain),
		Command:      CommandPreview(argv),
		ExitStatus:   status,
		DurationMS:   inv.end.Sub(inv.start).Milliseconds(),
		PeakUsage:    inv.peak,
		CurrentUsage: inv.current,
		Hint:         inv.hint.Declared,
	}
}
