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
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// commandPreviewLen bounds the command preview stored per record.
const commandPreviewLen = 200

// Record is one usage-log entry, written once per completed operation
// regardless of outcome. Usage fields are -1 when the corresponding
// metric was unreadable at completion time.
type Record struct {
	// TimestampNS is the operation start time in nanoseconds.
	TimestampNS int64 `json:"ts_ns"`
	// PID is the owning wrapper process id.
	PID int `json:"pid"`
	// Domain is the ephemeral domain path.
	Domain string `json:"domain"`
	// Command is the truncated, escaped command preview.
	Command string `json:"command"`
	// ExitStatus is the operation's true exit status.
	ExitStatus int `json:"exit_status"`
	// DurationMS is the wall-clock run time in milliseconds.
	DurationMS int64 `json:"duration_ms"`
	// PeakUsage is the domain's peak memory usage in bytes.
	PeakUsage int64 `json:"peak_usage"`
	// CurrentUsage is the domain's usage in bytes at completion.
	CurrentUsage int64 `json:"current_usage"`
	// Hint is the declared resource hint, empty when none was given.
	Hint string `json:"hint"`
}

// CommandPreview renders argv as a single escaped line bounded to
// commandPreviewLen characters.
func CommandPreview(argv []string) string {
	preview := strings.Join(argv, " ")
	preview = strings.ReplaceAll(preview, "\n", "\\n")
	if len(preview) > commandPreviewLen {
		preview = preview[:commandPreviewLen] + "..."
	}
	return preview
}

// Log is an append-only usage log shared by concurrent invocations.
// Records go out as one JSON line per write syscall, so concurrent
// writers cannot interleave partial records (O_APPEND semantics).
type Log struct {
	path string
}

// NewLog creates a usage log backed by the given file path.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.path
}

// Append writes one record as a single line.
func (l *Log) Append(r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode usage record: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open usage log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}
	return nil
}
