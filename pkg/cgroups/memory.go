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

package cgroups

import (
	"strconv"
	"strings"
)

// MemoryEventCounts parses memory.events into a counter map
// (low, high, max, oom, oom_kill, ...).
func (g Group) MemoryEventCounts() (map[string]int64, error) {
	raw, err := g.Read(MemoryEvents)
	if err != nil {
		return nil, err
	}
	counts := map[string]int64{}
	for _, line := range strings.Split(raw, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		n, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		counts[fields[0]] = n
	}
	return counts, nil
}

// MemoryStallTotal returns the cumulative "some" stall time in
// microseconds from memory.pressure. The counter is monotonic; callers
// interested in recent stress take deltas between reads.
func (g Group) MemoryStallTotal() (int64, error) {
	raw, err := g.Read(MemoryPressure)
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(raw, "\n") {
		if !strings.HasPrefix(line, "some ") {
			continue
		}
		for _, part := range strings.Fields(line) {
			if total, ok := strings.CutPrefix(part, "total="); ok {
				return strconv.ParseInt(total, 10, 64)
			}
		}
	}
	return 0, nil
}

// MemoryUsage returns memory.current in bytes.
func (g Group) MemoryUsage() (int64, error) {
	usage, _, err := g.ReadInt(MemoryCurrent)
	return usage, err
}

// MemoryPeakUsage returns memory.peak in bytes. Not all kernels expose
// the file; callers must treat errors as "unavailable".
func (g Group) MemoryPeakUsage() (int64, error) {
	peak, _, err := g.ReadInt(MemoryPeak)
	return peak, err
}

// MemoryLimit returns memory.max in bytes. limited is false when the
// group is unconstrained ("max").
func (g Group) MemoryLimit() (limit int64, limited bool, err error) {
	return g.ReadInt(MemoryMax)
}
