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

// Backend enforces the protection policy for one pairing. Two
// implementations exist: the kernel backend delegates detection and
// enforcement to a kernel-resident policy extension, the polling
// backend does both in-process against plain control files. Both
// present the same lifecycle; Attach returning ErrBackendUnavailable
// (possibly wrapped) means the controller should fall back.
type Backend interface {
	// Name returns the backend name for logs and statistics.
	Name() string
	// Attach starts protecting the pairing.
	Attach(pairing Pairing) error
	// Poll advances detection and the protection window. Called once
	// per controller tick.
	Poll() error
	// Detach stops all protection and restores default policy knobs.
	// Best-effort: it must attempt restoration even after a partially
	// failed attach.
	Detach() error
	// Stats returns a snapshot of backend statistics.
	Stats() Stats
}

// Stats is a point-in-time snapshot of backend statistics.
type Stats struct {
	// Backend is the active backend's name.
	Backend string `json:"backend"`
	// ProtectionActive is true while the protection window is open.
	ProtectionActive bool `json:"protectionActive"`
	// Activations counts NORMAL to PROTECTED transitions.
	Activations uint64 `json:"activations"`
	// Triggers counts all triggers, including window extensions.
	Triggers uint64 `json:"triggers"`
	// LastTrigger describes the signal behind the latest trigger.
	LastTrigger string `json:"lastTrigger,omitempty"`
	// ControlWrites counts control-file writes (polling backend only).
	ControlWrites uint64 `json:"controlWrites,omitempty"`
	// Kernel holds decision-function counters (kernel backend only).
	Kernel *KernelStats `json:"kernel,omitempty"`
}

// KernelStats are the decision-function counters exported by the
// kernel-resident policy program.
type KernelStats struct {
	// ProtectedCalls counts invocations of the protected domain's
	// reservation decision function.
	ProtectedCalls uint64 `json:"protectedCalls"`
	// ProtectedActive counts the invocations that reported protection.
	ProtectedActive uint64 `json:"protectedActive"`
	// CandidateCalls counts invocations of the candidates' delay
	// decision function.
	CandidateCalls uint64 `json:"candidateCalls"`
	// CandidateActive counts the invocations that returned a delay.
	CandidateActive uint64 `json:"candidateActive"`
}
