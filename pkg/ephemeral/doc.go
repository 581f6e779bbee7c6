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

// Package ephemeral wraps discrete commands in short-lived resource
// domains. Each invocation gets its own cgroup under a fixed parent,
// sized from an optional caller-declared hint, and leaves one record in
// an append-only usage log when it completes.
//
// The hint is the upward half of a negotiation protocol: the caller
// declares an approximate memory class before running. The downward
// half is the diagnostic written to the error stream when the kernel
// kills the command for exceeding its budget, including a concrete
// retry hint for a larger budget.
package ephemeral
