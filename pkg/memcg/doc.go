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

// Package memcg implements priority-aware memory isolation between a
// protected cgroup and a set of throttling candidates sharing a parent
// budget.
//
// Under memory pressure the protected cgroup gets a reclaim-protection
// reservation and the candidates get a soft ceiling, both derived from
// the parent's limit. Protection stays up for a sliding window after the
// last pressure trigger and is torn down when the window expires.
//
// Enforcement is pluggable. The kernel backend attaches a BPF policy
// program that makes reclaim and throttling decisions in the kernel; the
// polling backend detects pressure from PSI, usage ratio and memory
// event counters, and writes memory.low/memory.high directly. The
// Controller picks the backend, falling back from kernel to polling when
// the kernel cannot host the program.
package memcg
