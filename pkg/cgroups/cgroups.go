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

// Package cgroups provides access to the cgroup v2 unified hierarchy:
// creating and removing groups, reading and writing control files, and
// parsing the memory controller's accounting files. A group is a plain
// directory path; the package holds no state about it.
package cgroups

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Names of the control files this package knows about.
const (
	ProcsFile          = "cgroup.procs"
	SubtreeControlFile = "cgroup.subtree_control"
	MemoryLow          = "memory.low"
	MemoryHigh         = "memory.high"
	MemoryMax          = "memory.max"
	MemoryCurrent      = "memory.current"
	MemoryPeak         = "memory.peak"
	MemoryEvents       = "memory.events"
	MemoryPressure     = "memory.pressure"
	CPUWeight          = "cpu.weight"

	// Max is the value representing "no limit" in limit files.
	Max = "max"
)

var mountPoint = "/sys/fs/cgroup"

// SetMountPoint overrides the cgroup filesystem mount point. Used by
// tests to redirect all access into a scratch directory.
func SetMountPoint(dir string) {
	mountPoint = dir
}

// MountPoint returns the active cgroup filesystem mount point.
func MountPoint() string {
	return mountPoint
}

// Group refers to one cgroup directory by its path relative to the
// mount point.
type Group string

// NewGroup returns a Group for the given path. Absolute paths must be
// under the mount point; relative paths are taken as relative to it.
func NewGroup(path string) (Group, error) {
	if !filepath.IsAbs(path) {
		return Group(filepath.Clean(path)), nil
	}
	rel, err := filepath.Rel(mountPoint, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("cgroups: path %q outside mount point %q", path, mountPoint)
	}
	return Group(rel), nil
}

// Dir returns the absolute directory of the group.
func (g Group) Dir() string {
	return filepath.Join(mountPoint, string(g))
}

// Name returns the last path element of the group.
func (g Group) Name() string {
	return filepath.Base(string(g))
}

// Child returns the named child group. The child is not created.
func (g Group) Child(name string) Group {
	return Group(filepath.Join(string(g), name))
}

// Parent returns the parent group.
func (g Group) Parent() Group {
	return Group(filepath.Dir(string(g)))
}

// Exists returns true if the group directory is present.
func (g Group) Exists() bool {
	info, err := os.Stat(g.Dir())
	return err == nil && info.IsDir()
}

// Create creates the group directory if it does not exist yet.
func (g Group) Create() error {
	if err := os.MkdirAll(g.Dir(), 0o755); err != nil {
		return fmt.Errorf("cgroups: failed to create %s: %w", g, err)
	}
	return nil
}

// Remove removes the group directory. The group must have no member
// processes and no children.
func (g Group) Remove() error {
	if err := os.Remove(g.Dir()); err != nil {
		return fmt.Errorf("cgroups: failed to remove %s: %w", g, err)
	}
	return nil
}

// Read returns the trimmed contents of a control file.
func (g Group) Read(file string) (string, error) {
	data, err := os.ReadFile(filepath.Join(g.Dir(), file))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Write writes a value to a control file.
func (g Group) Write(file, value string) error {
	path := filepath.Join(g.Dir(), file)
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return fmt.Errorf("cgroups: failed to write %q to %s: %w", value, path, err)
	}
	return nil
}

// ReadInt reads a control file holding a single integer. The value
// "max" is reported as ok == false.
func (g Group) ReadInt(file string) (value int64, ok bool, err error) {
	raw, err := g.Read(file)
	if err != nil {
		return 0, false, err
	}
	if raw == Max {
		return 0, false, nil
	}
	value, err = strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("cgroups: bad integer in %s/%s: %w", g, file, err)
	}
	return value, true, nil
}

// AddProcess moves a process into the group.
func (g Group) AddProcess(pid int) error {
	return g.Write(ProcsFile, strconv.Itoa(pid))
}

// Procs returns the PIDs of the group's member processes.
func (g Group) Procs() ([]int, error) {
	raw, err := g.Read(ProcsFile)
	if err != nil {
		return nil, err
	}
	var pids []int
	for _, line := range strings.Fields(raw) {
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// EnableControllers enables the given controllers ("memory", "cpu", ...)
// for the group's children.
func (g Group) EnableControllers(controllers ...string) error {
	parts := make([]string, 0, len(controllers))
	for _, c := range controllers {
		parts = append(parts, "+"+c)
	}
	return g.Write(SubtreeControlFile, strings.Join(parts, " "))
}

// Subgroups returns the names of the group's child groups.
func (g Group) Subgroups() ([]string, error) {
	entries, err := os.ReadDir(g.Dir())
	if err != nil {
		return nil, fmt.Errorf("cgroups: failed to list %s: %w", g, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// ID returns the kernel identifier of the group, its backing inode
// number. This is the handle BPF programs key their state on.
func (g Group) ID() (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(g.Dir(), &st); err != nil {
		return 0, fmt.Errorf("cgroups: failed to stat %s: %w", g, err)
	}
	return st.Ino, nil
}

func (g Group) String() string {
	return g.Dir()
}
